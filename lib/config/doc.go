// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the launcher's own settings: where sandbox
// definitions are searched for, which isolation engine to run, and
// how long to wait for a D-Bus proxy.
//
// Settings come from built-in defaults, an optional YAML file named by
// SANDBOX_SETTINGS, and environment overrides, in that order. Path
// fields accept ${VAR} and ${VAR:-default}.
package config
