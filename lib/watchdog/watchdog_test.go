// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.state")
	state := State{Component: "dbus-proxy", PID: 1234, Resource: "/run/user/1000/xdg-dbus-proxy/app.sock", StartedAt: 1767225600}

	if err := Write(path, state); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != state {
		t.Errorf("expected %+v, got %+v", state, got)
	}
	if got.Started().Unix() != state.StartedAt {
		t.Errorf("Started() = %v", got.Started())
	}
}

func TestWriteFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.state")
	if err := Write(path, State{PID: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("expected mode 0600, got %o", mode)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Error("temporary file left behind")
	}
}

func TestWriteParentDirectoryMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "proxy.state")
	if err := Write(path, State{PID: 1}); err == nil {
		t.Fatal("expected error when parent directory is missing")
	}
}

func TestReadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.state")
	if err := os.WriteFile(path, []byte{0xff, 0x00, 0x13}, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("expected error for corrupt state")
	}
	if _, _, err := Check(path); err == nil {
		t.Fatal("expected Check to surface corrupt state")
	}
}

func TestCheckLiveness(t *testing.T) {
	directory := t.TempDir()

	path := filepath.Join(directory, "live.state")
	if err := Write(path, State{PID: os.Getpid()}); err != nil {
		t.Fatal(err)
	}
	if _, alive, err := Check(path); err != nil || !alive {
		t.Errorf("expected own process to be alive (alive=%v err=%v)", alive, err)
	}

	missing := filepath.Join(directory, "missing.state")
	if _, alive, err := Check(missing); err != nil || alive {
		t.Errorf("expected missing state to be not alive without error (alive=%v err=%v)", alive, err)
	}
}

func TestAliveRejectsInvalidPID(t *testing.T) {
	if Alive(0) || Alive(-5) {
		t.Error("non-positive PIDs must not be alive")
	}
}

func TestClearIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.state")
	if err := Write(path, State{PID: 1}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := Clear(path); err != nil {
			t.Fatalf("Clear #%d: %v", i+1, err)
		}
	}
}
