// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the exit handling shared by the launcher's
// binaries.
package process
