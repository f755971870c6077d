// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"strings"

	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

type environmentHandler struct {
	args []string
}

// newEnvironmentHandler reads copyenv (host variables passed through
// unchanged) and setenv ("NAME value with spaces") entries. The
// sandbox starts from an empty environment, so these are the only
// variables it sees.
func newEnvironmentHandler(run *RunInfo, value any) (Handler, error) {
	const category = "environment"
	mapping, err := categoryMapping(category, value)
	if err != nil {
		return nil, err
	}

	handler := &environmentHandler{}
	var walkErr error
	mapping.Range(func(key string, value any) bool {
		path := []string{keyPermissions, category, key}
		entries, ok := tree.StringList(value)
		if !ok && value != nil {
			walkErr = structureError(path, "expected a list, got %s", tree.KindOf(value))
			return false
		}

		switch key {
		case "copyenv":
			for _, name := range entries {
				hostValue, set := os.LookupEnv(name)
				if !set {
					run.Logger.Warn("not copying unset environment variable", "category", category, "variable", name)
					continue
				}
				handler.args = append(handler.args, "--setenv", name, hostValue)
			}
		case "setenv":
			for _, entry := range entries {
				fields := strings.Fields(entry)
				if len(fields) == 0 || strings.ContainsRune(fields[0], '=') {
					walkErr = structureError(path, "expected \"NAME value\", got %q", entry)
					return false
				}
				handler.args = append(handler.args, "--setenv", fields[0], Expand(strings.Join(fields[1:], " ")))
			}
		default:
			walkErr = &UnknownKeyError{Category: category, Key: key}
			return false
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return handler, nil
}

func (h *environmentHandler) Args() []string { return h.args }
