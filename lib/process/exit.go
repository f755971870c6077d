// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// exitCoder is implemented by errors that carry a process exit status,
// such as the error returned when the sandboxed program exits non-zero.
type exitCoder interface {
	ExitCode() int
}

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the logger may not exist yet.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// Exit terminates the process according to err. A nil error exits 0.
// An error carrying an exit code exits with that code and prints
// nothing, since the sandboxed program already reported its own
// failure. Anything else goes through Fatal.
func Exit(err error) {
	if err == nil {
		os.Exit(0)
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		os.Exit(coder.ExitCode())
	}
	Fatal(err)
}
