// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"os"

	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

type preprocessHandler struct {
	run         *RunInfo
	directories []string
}

// newPreprocessHandler reads host-side setup steps. The only operation
// is create-dirs, which makes directories (and their parents) that
// binds further down expect to exist.
func newPreprocessHandler(run *RunInfo, value any) (Handler, error) {
	const category = "preprocess"
	mapping, err := categoryMapping(category, value)
	if err != nil {
		return nil, err
	}

	handler := &preprocessHandler{run: run}
	var walkErr error
	mapping.Range(func(key string, value any) bool {
		if key != "create-dirs" {
			walkErr = &UnknownKeyError{Category: category, Key: key}
			return false
		}
		directories, ok := tree.StringList(value)
		if !ok && value != nil {
			walkErr = structureError([]string{category, key}, "expected a list of directories, got %s", tree.KindOf(value))
			return false
		}
		for _, directory := range directories {
			handler.directories = append(handler.directories, Expand(directory))
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return handler, nil
}

func (h *preprocessHandler) Args() []string { return nil }

// Prepare creates the directories. Modes come from 0777 masked by the
// process umask; existing directories are left alone.
func (h *preprocessHandler) Prepare(ctx context.Context) ([]TerminationCallback, error) {
	for _, directory := range h.directories {
		if err := os.MkdirAll(directory, 0o777); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", directory, err)
		}
		h.run.Logger.Debug("created directory", "path", directory)
	}
	return nil, nil
}
