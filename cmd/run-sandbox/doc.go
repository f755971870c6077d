// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

// run-sandbox resolves a sandbox definition by name and runs its
// program under bubblewrap.
//
// Usage:
//
//	run-sandbox [flags] <definition>
//
// The exit status is the sandboxed program's. --flatten prints the
// definition after inheritance, --dry-run prints the engine command
// line and --check runs host pre-flight checks; none of them start
// the program.
package main
