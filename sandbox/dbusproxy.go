// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/CatCraftYT/sandbox-manager/lib/clock"
	"github.com/CatCraftYT/sandbox-manager/lib/tree"
	"github.com/CatCraftYT/sandbox-manager/lib/watchdog"
)

// proxyState is the lifecycle of one D-Bus proxy.
type proxyState int

const (
	proxyIdle proxyState = iota
	proxyLaunching
	proxyAwaitingSocket
	proxyReady
	proxyTerminating
	proxyClosed
)

func (s proxyState) String() string {
	switch s {
	case proxyIdle:
		return "idle"
	case proxyLaunching:
		return "launching"
	case proxyAwaitingSocket:
		return "awaiting-socket"
	case proxyReady:
		return "ready"
	case proxyTerminating:
		return "terminating"
	case proxyClosed:
		return "closed"
	}
	return fmt.Sprintf("proxyState(%d)", int(s))
}

// dbusProxy runs xdg-dbus-proxy in its own sandbox and owns the
// filtered socket it creates.
type dbusProxy struct {
	run       *RunInfo
	socket    string
	statePath string
	rules     []string

	mu      sync.Mutex
	state   proxyState
	process *Process
	once    sync.Once
	err     error
}

func newDBusProxy(run *RunInfo, socket string, rules []string) *dbusProxy {
	return &dbusProxy{
		run:       run,
		socket:    socket,
		statePath: strings.TrimSuffix(socket, ".sock") + ".state",
		rules:     rules,
	}
}

func (p *dbusProxy) setState(state proxyState) {
	p.mu.Lock()
	previous := p.state
	p.state = state
	p.mu.Unlock()
	p.run.Logger.Debug("dbus proxy state", "from", previous, "to", state, "socket", p.socket)
}

// State returns the current lifecycle state.
func (p *dbusProxy) State() proxyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start launches the proxy and blocks until its socket exists. On
// failure the proxy is torn down before Start returns.
func (p *dbusProxy) Start(ctx context.Context) error {
	p.setState(proxyLaunching)

	if err := os.MkdirAll(p.run.Settings.ProxySocketDir(), 0o700); err != nil {
		return fmt.Errorf("creating proxy socket directory: %w", err)
	}
	if err := p.clearStale(); err != nil {
		return err
	}

	spec, err := p.spec()
	if err != nil {
		return err
	}
	process, err := p.run.Launcher.Launch(ctx, spec)
	if err != nil {
		return fmt.Errorf("starting D-Bus proxy: %w", err)
	}
	p.process = process

	if err := watchdog.Write(p.statePath, watchdog.State{
		Component: dbusProxyConfig,
		PID:       process.Pid(),
		Resource:  p.socket,
		StartedAt: p.run.Clock.Now().Unix(),
	}); err != nil {
		p.run.Logger.Warn("could not record proxy state", "path", p.statePath, "error", err)
	}

	p.setState(proxyAwaitingSocket)
	err = waitForSocket(ctx, p.run.Clock, p.socket, process.Done(),
		p.run.Settings.ProxyPollInterval, p.run.Settings.ProxyStartupTimeout)
	if err != nil {
		if closeErr := p.Close(); closeErr != nil {
			p.run.Logger.Warn("tearing down failed D-Bus proxy", "error", closeErr)
		}
		return err
	}

	p.setState(proxyReady)
	p.run.Logger.Info("D-Bus proxy ready", "socket", p.socket, "pid", process.Pid(), "rules", len(p.rules))
	return nil
}

// spec builds the proxy's sandbox from the internal definition. The
// upstream bus address, socket path and filter rules are appended to
// its command. The host bus is bound read-only and the socket directory
// writable so the proxy can create the socket.
func (p *dbusProxy) spec() (*Spec, error) {
	document, err := p.run.Launcher.InternalConfig(dbusProxyConfig)
	if err != nil {
		return nil, fmt.Errorf("loading D-Bus proxy config: %w", err)
	}

	overlay := tree.New()
	upstream := p.run.Settings.SessionBusPath()
	filesystem := tree.New()
	filesystem.Set("ro-bind", []any{upstream})
	filesystem.Set("bind", []any{p.run.Settings.ProxySocketDir()})
	permissions := tree.New()
	permissions.Set("filesystem", filesystem)
	overlay.Set(keyPermissions, permissions)

	document, err = tree.Merge(document, overlay)
	if err != nil {
		return nil, fmt.Errorf("D-Bus proxy config: %w", err)
	}

	spec, err := ParseSpec(document)
	if err != nil {
		return nil, fmt.Errorf("D-Bus proxy config: %w", err)
	}
	spec.Name = p.run.AppName + " (D-Bus proxy)"
	spec.ID = p.run.AppID
	spec.Command = append(spec.Command, "unix:path="+upstream, p.socket, "--filter")
	spec.Command = append(spec.Command, p.rules...)
	return spec, nil
}

// clearStale removes a socket left behind by a launcher that died
// without tearing its proxy down. A proxy that is still running keeps
// its socket, and this run fails instead of stealing it.
func (p *dbusProxy) clearStale() error {
	previous, alive, err := watchdog.Check(p.statePath)
	if err != nil {
		p.run.Logger.Warn("discarding unreadable proxy state", "path", p.statePath, "error", err)
	}
	if alive {
		return fmt.Errorf("%w: pid %d serves %s", ErrProxyInUse, previous.PID, p.socket)
	}

	if _, err := os.Lstat(p.socket); err == nil {
		p.run.Logger.Warn("removing stale D-Bus proxy socket", "path", p.socket)
		if err := os.Remove(p.socket); err != nil {
			return fmt.Errorf("removing stale proxy socket: %w", err)
		}
	}
	return watchdog.Clear(p.statePath)
}

// Close stops the proxy and removes its socket. It runs once; later
// calls return the first result. A proxy that already exited is not
// an error, nor is a socket that is already gone.
func (p *dbusProxy) Close() error {
	p.once.Do(func() {
		p.setState(proxyTerminating)
		var errs []error
		if p.process != nil {
			if err := p.process.Close(); err != nil {
				errs = append(errs, fmt.Errorf("stopping D-Bus proxy: %w", err))
			}
		}
		if err := os.Remove(p.socket); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing proxy socket: %w", err))
		}
		if err := watchdog.Clear(p.statePath); err != nil {
			errs = append(errs, err)
		}
		p.err = errors.Join(errs...)
		p.setState(proxyClosed)
	})
	return p.err
}

// waitForSocket polls for path every interval until it exists, the
// process exits, ctx is done or timeout passes.
func waitForSocket(ctx context.Context, clk clock.Clock, path string, exited <-chan struct{}, interval, timeout time.Duration) error {
	exists := func() bool {
		_, err := os.Stat(path)
		return err == nil
	}
	if exists() {
		return nil
	}

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	deadline := clk.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", path, ctx.Err())
		case <-exited:
			if exists() {
				return nil
			}
			return fmt.Errorf("%w: waiting for %s", ErrProxyExited, path)
		case <-ticker.C:
			if exists() {
				return nil
			}
		case <-deadline:
			if exists() {
				return nil
			}
			return fmt.Errorf("%w after %v waiting for %s", ErrProxyStartupTimeout, timeout, path)
		}
	}
}
