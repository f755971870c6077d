// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox turns layered sandbox definitions into a running,
// isolated program.
//
// A definition is a YAML or JSONC document found by name on a search
// path. [Loader] finds and decodes definitions, and [Resolver] flattens
// the inherit graph depth-first into one ordered tree, deep-merging
// parents before children. Lists concatenate, mappings recurse and
// scalars are replaced.
//
// A resolved definition is compiled by category. Each category under
// permissions (filesystem, dbus, namespaces, environment) and the
// top-level preprocess and resources keys map to a handler in the
// [Registry]. Handlers contribute engine arguments, may do setup work
// before launch ([Preparer]) and return callbacks that undo it when the
// program exits. Categories with defaults, such as namespaces, apply
// them only when the definition leaves the category out.
//
// [Sandbox] launches the engine (bwrap by default) as
//
//	engine --new-session --die-with-parent --clearenv <defaults> <args> -- <command>
//
// and returns a [Process]. The dbus category starts a filtered
// xdg-dbus-proxy in its own nested sandbox and waits for its socket
// before the main program starts. Closing the process terminates the
// program and then runs every cleanup callback exactly once.
//
// [Validator] performs pre-flight checks against the host, using
// [Capabilities] to probe for the engine, user namespaces, the proxy
// and systemd-run.
package sandbox
