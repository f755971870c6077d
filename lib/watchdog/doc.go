// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog tracks helper processes that outlive a single
// function call, such as the D-Bus proxy serving a sandbox.
//
// The launcher writes a [State] when a helper starts and [Clear]s it
// when the helper is torn down. If the launcher is killed before
// teardown, the next launch finds the state with [Check]: a live PID
// means the resource is still in use; a dead one means the leftover
// socket can be removed.
//
// State files are CBOR (lib/codec) written atomically: temporary file,
// fsync, rename, fsync of the parent directory.
package watchdog
