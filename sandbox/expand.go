// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
)

// variablePattern matches $NAME and ${NAME}.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Expand performs the only interpolation a sandbox definition gets:
// $NAME and ${NAME} are replaced from the process environment, and a
// leading "~" or "~/" becomes $HOME. Unset variables are left as
// written, so a typo shows up verbatim in the engine argv instead of
// collapsing to an empty path.
func Expand(s string) string {
	s = variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := variablePattern.FindStringSubmatch(match)
		name := parts[1]
		if name == "" {
			name = parts[2]
		}
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})

	if s == "~" || strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = home + s[1:]
		}
	}
	return s
}

// splitCommand splits a run string into argv words with POSIX shell
// quoting rules. Expansion happens before splitting, so an expanded
// value containing spaces yields several words.
func splitCommand(command string) ([]string, error) {
	words, err := shellquote.Split(command)
	if err != nil {
		return nil, structureError([]string{keyRun}, "%v in %q", err, command)
	}
	return words, nil
}
