// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// envDebug enables debug logging when set to any value.
const envDebug = "SANDBOX_DEBUG"

// newLogger writes to stderr: text when stderr is a terminal, JSON
// when it is piped or redirected.
func newLogger(debug bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
