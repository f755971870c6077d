// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

// Package tree is the in-memory form of a sandbox definition: an
// ordered key/value tree decoded from YAML or JSONC.
//
// Order matters. Category handlers emit isolation-engine arguments in
// key order, so Map keeps keys in document order through decoding,
// merging, cloning, and re-encoding.
//
// Merge implements the inheritance merge rule: sequences concatenate,
// mappings merge recursively, scalars are replaced, and any other
// combination is a *MergeTypeError.
package tree
