// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// SocketDir creates a short-named directory under /tmp for Unix
// sockets. sun_path is limited to 108 bytes, which t.TempDir() paths
// can exceed. The directory is removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "sbx-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}

// FakeEngine is a shell script standing in for the isolation engine.
// Each invocation appends its argv, one argument per line followed by
// a blank line, to ArgvFile and then runs Body.
type FakeEngine struct {
	Path     string
	ArgvFile string
}

// NewFakeEngine writes an executable engine script into a temporary
// directory. body is shell run after the argv is recorded; an empty
// body exits 0.
//
//	engine := testutil.NewFakeEngine(t, "exit 3")
func NewFakeEngine(t *testing.T, body string) *FakeEngine {
	t.Helper()
	directory := t.TempDir()
	engine := &FakeEngine{
		Path:     filepath.Join(directory, "engine"),
		ArgvFile: filepath.Join(directory, "argv"),
	}
	script := "#!/bin/sh\n" +
		"for arg in \"$@\"; do printf '%s\\n' \"$arg\" >> '" + engine.ArgvFile + "'; done\n" +
		"printf '\\n' >> '" + engine.ArgvFile + "'\n" +
		body + "\n"
	if err := os.WriteFile(engine.Path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake engine: %v", err)
	}
	return engine
}

// Invocations returns the argv of every call made so far, in order.
func (e *FakeEngine) Invocations(t *testing.T) [][]string {
	t.Helper()
	data, err := os.ReadFile(e.ArgvFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("reading fake engine argv: %v", err)
	}
	// Each call ends with its last argument's newline plus a blank line.
	var calls [][]string
	for _, block := range strings.Split(string(data), "\n\n") {
		if block == "" {
			continue
		}
		calls = append(calls, strings.Split(strings.TrimSuffix(block, "\n"), "\n"))
	}
	return calls
}
