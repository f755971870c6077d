// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers: channel assertions
// with timeouts, short socket directories, and a scriptable fake
// isolation engine that records the argv it was launched with.
package testutil
