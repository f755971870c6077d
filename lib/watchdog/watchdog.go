// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/CatCraftYT/sandbox-manager/lib/codec"
)

// State records a helper process and the resource it owns.
type State struct {
	// Component names the helper for diagnostics, e.g. "dbus-proxy".
	Component string `cbor:"component"`

	// PID is the helper's process ID.
	PID int `cbor:"pid"`

	// Resource is the path the helper owns, such as its socket.
	Resource string `cbor:"resource"`

	// StartedAt is when the helper was launched, in Unix seconds.
	StartedAt int64 `cbor:"started_at"`
}

// Started returns StartedAt as a time.
func (s State) Started() time.Time {
	return time.Unix(s.StartedAt, 0)
}

// Write atomically writes a state file: the CBOR record goes to a
// temporary file in the same directory, is fsynced, and is renamed
// into place. Readers never see a partial write. The file has mode
// 0600 and the parent directory must exist.
func Write(path string, state State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding watchdog state: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary watchdog file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary watchdog file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary watchdog file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary watchdog file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming watchdog file into place: %w", err)
	}

	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// Read parses a state file. A missing file yields an error wrapping
// os.ErrNotExist.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}

	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing watchdog file %s: %w", path, err)
	}
	return state, nil
}

// Check reads a state file and reports whether its process is still
// alive. A missing file returns a zero State and false. A corrupt file
// is returned as an error so the caller can decide whether to discard
// it.
//
// Liveness is signal 0: a process we may not signal (EPERM) still
// counts as alive. PIDs can be reused, so a true result means "some
// process has this PID", which callers treat as the conservative
// answer.
func Check(path string) (State, bool, error) {
	state, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	return state, Alive(state.PID), nil
}

// Alive reports whether a process with pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Clear removes a state file. Idempotent: returns nil when the file
// does not exist.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing watchdog file: %w", err)
	}
	return nil
}
