// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

// constantArgs start every bwrap command line. The sandbox gets its
// own session (no TIOCSTI into the caller's terminal), dies with the
// launcher, and starts from an empty environment.
var constantArgs = []string{"--new-session", "--die-with-parent", "--clearenv"}

// BuildArgv assembles the full engine command line:
//
//	<engine> <constant args> <default args> <category args> -- <command>
func BuildArgv(engine string, defaultArgs, categoryArgs, command []string) []string {
	argv := make([]string, 0, 2+len(constantArgs)+len(defaultArgs)+len(categoryArgs)+len(command))
	argv = append(argv, engine)
	argv = append(argv, constantArgs...)
	argv = append(argv, defaultArgs...)
	argv = append(argv, categoryArgs...)
	argv = append(argv, "--")
	return append(argv, command...)
}
