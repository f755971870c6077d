// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/CatCraftYT/sandbox-manager/lib/clock"
	"github.com/CatCraftYT/sandbox-manager/lib/testutil"
	"github.com/CatCraftYT/sandbox-manager/lib/tree"
	"github.com/CatCraftYT/sandbox-manager/lib/watchdog"
)

// failingLauncher refuses to start anything.
type failingLauncher struct{ launched int }

func (l *failingLauncher) InternalConfig(name string) (*tree.Map, error) {
	return nil, errors.New("no internal configs here")
}

func (l *failingLauncher) Launch(ctx context.Context, spec *Spec) (*Process, error) {
	l.launched++
	return nil, errors.New("launch refused")
}

func TestDBusHandlerArgs(t *testing.T) {
	t.Parallel()

	run := newTestRun(t)
	handler, err := newDBusHandler(run, decodeCategories(t, `
talk: [org.freedesktop.Notifications]
see: [org.example.Viewer]
own: [org.example.App, org.example.App.Helper]
`))
	if err != nil {
		t.Fatalf("newDBusHandler: %v", err)
	}
	dbus := handler.(*dbusHandler)

	wantRules := []string{
		"--talk=org.freedesktop.Notifications",
		"--see=org.example.Viewer",
		"--own=org.example.App",
		"--own=org.example.App.Helper",
	}
	if !reflect.DeepEqual(dbus.rules, wantRules) {
		t.Errorf("expected rules %v, got %v", wantRules, dbus.rules)
	}

	socket := filepath.Join(run.Settings.ProxySocketDir(), "TestApp.sock")
	bus := filepath.Join(run.Settings.RuntimeDir, "bus")
	wantArgs := []string{
		"--setenv", "DBUS_SESSION_BUS_ADDRESS", "unix:path=" + bus,
		"--bind", socket, bus,
	}
	if !reflect.DeepEqual(handler.Args(), wantArgs) {
		t.Errorf("expected args %v, got %v", wantArgs, handler.Args())
	}
}

func TestDBusHandlerRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	_, err := newDBusHandler(newTestRun(t), decodeCategories(t, "call: [org.example]\n"))
	if !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}

func TestWaitForSocket(t *testing.T) {
	t.Parallel()

	t.Run("appears", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "bus.sock")
		fake := clock.Fake(time.Unix(0, 0))
		result := make(chan error, 1)
		go func() {
			result <- waitForSocket(context.Background(), fake, path, nil, 100*time.Millisecond, 5*time.Second)
		}()

		fake.WaitForTimers(2)
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatalf("creating socket stand-in: %v", err)
		}
		fake.Advance(100 * time.Millisecond)

		if err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for waitForSocket"); err != nil {
			t.Fatalf("expected socket to be found, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "never.sock")
		fake := clock.Fake(time.Unix(0, 0))
		result := make(chan error, 1)
		go func() {
			result <- waitForSocket(context.Background(), fake, path, nil, 100*time.Millisecond, 5*time.Second)
		}()

		fake.WaitForTimers(2)
		fake.Advance(5 * time.Second)

		err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for waitForSocket")
		if !errors.Is(err, ErrProxyStartupTimeout) {
			t.Fatalf("expected ErrProxyStartupTimeout, got %v", err)
		}
	})

	t.Run("process exits", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "never.sock")
		exited := make(chan struct{})
		close(exited)

		err := waitForSocket(context.Background(), clock.Fake(time.Unix(0, 0)), path, exited, 100*time.Millisecond, 5*time.Second)
		if !errors.Is(err, ErrProxyExited) {
			t.Fatalf("expected ErrProxyExited, got %v", err)
		}
	})

	t.Run("context cancelled", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "never.sock")
		ctx, cancel := context.WithCancel(context.Background())
		fake := clock.Fake(time.Unix(0, 0))
		result := make(chan error, 1)
		go func() {
			result <- waitForSocket(ctx, fake, path, nil, 100*time.Millisecond, 5*time.Second)
		}()

		fake.WaitForTimers(2)
		cancel()

		err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for waitForSocket")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestDBusProxyRefusesLiveOwner(t *testing.T) {
	t.Parallel()

	run := newTestRun(t)
	launcher := &failingLauncher{}
	run.Launcher = launcher
	proxy := newDBusProxy(run, filepath.Join(run.Settings.ProxySocketDir(), "TestApp.sock"), nil)

	if err := os.MkdirAll(run.Settings.ProxySocketDir(), 0o700); err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	if err := watchdog.Write(proxy.statePath, watchdog.State{Component: dbusProxyConfig, PID: os.Getpid()}); err != nil {
		t.Fatalf("writing state: %v", err)
	}

	err := proxy.Start(context.Background())
	if !errors.Is(err, ErrProxyInUse) {
		t.Fatalf("expected ErrProxyInUse, got %v", err)
	}
	if launcher.launched != 0 {
		t.Error("proxy launched despite a live owner")
	}
}

func TestDBusProxyRemovesStaleSocket(t *testing.T) {
	t.Parallel()

	run := newTestRun(t)
	run.Launcher = &failingLauncher{}
	socket := filepath.Join(run.Settings.ProxySocketDir(), "TestApp.sock")
	proxy := newDBusProxy(run, socket, nil)

	if err := os.MkdirAll(run.Settings.ProxySocketDir(), 0o700); err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	if err := os.WriteFile(socket, nil, 0o600); err != nil {
		t.Fatalf("creating stale socket: %v", err)
	}

	if err := proxy.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail without an internal config")
	}
	if _, err := os.Lstat(socket); !os.IsNotExist(err) {
		t.Errorf("expected stale socket to be removed, got %v", err)
	}
}

func TestDBusProxyCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	run := newTestRun(t)
	proxy := newDBusProxy(run, filepath.Join(run.Settings.ProxySocketDir(), "TestApp.sock"), nil)

	if err := proxy.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := proxy.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if state := proxy.State(); state != proxyClosed {
		t.Errorf("expected state %s, got %s", proxyClosed, state)
	}
}

// proxyEngineBody makes the fake engine behave like xdg-dbus-proxy
// when it is asked to filter: create the socket and stay running.
const proxyEngineBody = `case " $* " in
*" --filter "*)
	for a in "$@"; do case "$a" in *.sock) : > "$a";; esac; done
	exec sleep 30;;
esac`

func TestRunWithDBusProxy(t *testing.T) {
	orchestrator, engine, settings := newTestOrchestrator(t, proxyEngineBody)

	resolved := decodeCategories(t, `
name: Bus App
run: /bin/app
permissions:
  dbus:
    talk: [org.freedesktop.Notifications]
`)
	if err := orchestrator.Run(context.Background(), resolved); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := engine.Invocations(t)
	if len(calls) != 2 {
		t.Fatalf("expected proxy and program invocations, got %d: %v", len(calls), calls)
	}
	socket := filepath.Join(settings.ProxySocketDir(), "BusApp.sock")

	proxyCall, programCall := calls[0], calls[1]
	if !slices.Contains(proxyCall, "--filter") || !slices.Contains(proxyCall, "--talk=org.freedesktop.Notifications") {
		t.Errorf("proxy invocation missing filter rules: %v", proxyCall)
	}
	if !slices.Contains(proxyCall, socket) {
		t.Errorf("proxy invocation missing socket %s: %v", socket, proxyCall)
	}
	upstream := filepath.Join(settings.RuntimeDir, "bus")
	if !slices.Contains(proxyCall, "unix:path="+upstream) {
		t.Errorf("proxy invocation missing upstream bus %s: %v", upstream, proxyCall)
	}
	for _, arg := range proxyCall {
		if strings.Contains(arg, "$") {
			t.Errorf("proxy invocation carries unexpanded %q", arg)
		}
	}
	if !slices.Contains(programCall, socket) || programCall[len(programCall)-1] != "/bin/app" {
		t.Errorf("program invocation does not bind the proxy socket: %v", programCall)
	}

	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Errorf("expected proxy socket removed after run, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(settings.ProxySocketDir(), "BusApp.state")); !os.IsNotExist(err) {
		t.Errorf("expected proxy state removed after run, got %v", err)
	}
	if got := os.Getenv(EnvAppName); got != "Bus App" {
		t.Errorf("nested proxy run changed %s to %q", EnvAppName, got)
	}
}

func TestRunProxyThatNeverCreatesSocket(t *testing.T) {
	orchestrator, engine, _ := newTestOrchestrator(t, `case " $* " in *" --filter "*) exit 1;; esac`)

	resolved := decodeCategories(t, "name: app\nrun: /bin/app\npermissions:\n  dbus: {}\n")
	err := orchestrator.Run(context.Background(), resolved)
	if !errors.Is(err, ErrProxyExited) {
		t.Fatalf("expected ErrProxyExited, got %v", err)
	}
	if calls := engine.Invocations(t); len(calls) != 1 {
		t.Errorf("expected only the proxy invocation, got %d", len(calls))
	}
}
