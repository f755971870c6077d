// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the binary encoding for runtime state the launcher
// leaves on disk, such as the D-Bus proxy state file. Records are
// structs with `cbor:"name"` tags:
//
//	type proxyState struct {
//	    PID    int    `cbor:"pid"`
//	    Socket string `cbor:"socket"`
//	}
//
// Encoding is deterministic, so rewriting unchanged state produces
// identical files.
package codec
