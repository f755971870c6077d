// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information.
//
// Values are injected with -ldflags:
//
//	go build -ldflags "-X github.com/CatCraftYT/sandbox-manager/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/run-sandbox
package version
