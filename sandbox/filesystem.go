// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

// mountShape says how a filesystem key's entries turn into arguments.
type mountShape int

const (
	// mountSame binds each path to the same path inside the sandbox.
	mountSame mountShape = iota
	// mountPair takes explicit "SOURCE DEST" pairs.
	mountPair
	// mountSingle takes one path per entry.
	mountSingle
)

type mountTemplate struct {
	flag  string
	shape mountShape
}

// mountTemplates maps each filesystem key to its bwrap flag. The -opt
// variants use bwrap's -try flags, which skip missing sources.
var mountTemplates = map[string]mountTemplate{
	"ro-bind":        {"--ro-bind", mountSame},
	"ro-bind-opt":    {"--ro-bind-try", mountSame},
	"ro-bind-to":     {"--ro-bind", mountPair},
	"ro-bind-to-opt": {"--ro-bind-try", mountPair},

	"bind-devices":        {"--dev-bind", mountSame},
	"bind-devices-opt":    {"--dev-bind-try", mountSame},
	"bind-devices-to":     {"--dev-bind", mountPair},
	"bind-devices-to-opt": {"--dev-bind-try", mountPair},

	"bind":        {"--bind", mountSame},
	"bind-opt":    {"--bind-try", mountSame},
	"bind-to":     {"--bind", mountPair},
	"bind-to-opt": {"--bind-try", mountPair},

	"link":      {"--symlink", mountPair},
	"new-dev":   {"--dev", mountSingle},
	"new-tmpfs": {"--tmpfs", mountSingle},
	"new-proc":  {"--proc", mountSingle},
}

const keyCreateFiles = "create-files"

// injectedFile is one create-files entry. source is empty until the
// file has been written.
type injectedFile struct {
	dest    string
	content string
	source  string
}

// filesystemEntry is one key of the category, in definition order.
type filesystemEntry struct {
	args  []string
	files []*injectedFile
}

type filesystemHandler struct {
	run     *RunInfo
	entries []filesystemEntry
	files   []*injectedFile
}

func newFilesystemHandler(run *RunInfo, value any) (Handler, error) {
	const category = "filesystem"
	mapping, err := categoryMapping(category, value)
	if err != nil {
		return nil, err
	}

	handler := &filesystemHandler{run: run}
	var walkErr error
	mapping.Range(func(key string, value any) bool {
		path := []string{keyPermissions, category, key}
		var entry filesystemEntry
		if key == keyCreateFiles {
			entry.files, walkErr = parseCreateFiles(path, value)
			handler.files = append(handler.files, entry.files...)
		} else if template, ok := mountTemplates[key]; ok {
			entry.args, walkErr = template.expand(path, value)
		} else {
			walkErr = &UnknownKeyError{Category: category, Key: key}
		}
		handler.entries = append(handler.entries, entry)
		return walkErr == nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return handler, nil
}

func (t mountTemplate) expand(path []string, value any) ([]string, error) {
	var args []string
	switch t.shape {
	case mountSame, mountSingle:
		paths, ok := tree.StringList(value)
		if !ok {
			return nil, structureError(path, "expected a list of paths, got %s", tree.KindOf(value))
		}
		for _, p := range paths {
			p = Expand(p)
			if t.shape == mountSame {
				args = append(args, t.flag, p, p)
			} else {
				args = append(args, t.flag, p)
			}
		}

	case mountPair:
		pairs, err := parsePairs(path, value)
		if err != nil {
			return nil, err
		}
		for _, pair := range pairs {
			args = append(args, t.flag, Expand(pair[0]), Expand(pair[1]))
		}
	}
	return args, nil
}

// parsePairs accepts either a list of "SOURCE DEST" strings or a
// mapping of SOURCE to DEST.
func parsePairs(path []string, value any) ([][2]string, error) {
	if mapping, ok := value.(*tree.Map); ok {
		var pairs [][2]string
		var err error
		mapping.Range(func(source string, dest any) bool {
			destination, ok := tree.Scalar(dest)
			if !ok {
				err = structureError(append(path, source), "expected a destination path, got %s", tree.KindOf(dest))
				return false
			}
			pairs = append(pairs, [2]string{source, destination})
			return true
		})
		return pairs, err
	}

	entries, ok := tree.StringList(value)
	if !ok {
		return nil, structureError(path, "expected a list of \"SOURCE DEST\" pairs, got %s", tree.KindOf(value))
	}
	pairs := make([][2]string, 0, len(entries))
	for _, entry := range entries {
		fields := strings.Fields(entry)
		if len(fields) != 2 {
			return nil, structureError(path, "expected \"SOURCE DEST\", got %q", entry)
		}
		pairs = append(pairs, [2]string{fields[0], fields[1]})
	}
	return pairs, nil
}

func parseCreateFiles(path []string, value any) ([]*injectedFile, error) {
	mapping, ok := value.(*tree.Map)
	if !ok {
		return nil, structureError(path, "expected a mapping of destination to content, got %s", tree.KindOf(value))
	}
	var files []*injectedFile
	var err error
	mapping.Range(func(dest string, content any) bool {
		text, ok := tree.Scalar(content)
		if !ok && content != nil {
			err = structureError(append(path, dest), "file content must be a string, got %s", tree.KindOf(content))
			return false
		}
		files = append(files, &injectedFile{dest: Expand(dest), content: Expand(text)})
		return true
	})
	return files, err
}

func (h *filesystemHandler) Args() []string {
	var args []string
	for _, entry := range h.entries {
		args = append(args, entry.args...)
		for _, file := range entry.files {
			source := file.source
			if source == "" {
				source = "<create-files:" + file.dest + ">"
			}
			args = append(args, "--ro-bind", source, file.dest)
		}
	}
	return args
}

// Prepare writes every create-files entry to its own temporary file.
// The files are synced before Prepare returns, since the engine binds
// them as soon as it starts, and are removed only by the returned
// callback.
func (h *filesystemHandler) Prepare(ctx context.Context) ([]TerminationCallback, error) {
	if len(h.files) == 0 {
		return nil, nil
	}

	directory := h.run.Settings.TempDir
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("creating %s: %w", directory, err)
	}

	for _, file := range h.files {
		if err := h.writeFile(directory, file); err != nil {
			_ = h.removeFiles()
			return nil, err
		}
		h.run.Logger.Debug("injected file", "dest", file.dest, "source", file.source)
	}
	return []TerminationCallback{h.removeFiles}, nil
}

func (h *filesystemHandler) writeFile(directory string, file *injectedFile) error {
	digest := blake3.Sum256([]byte(file.dest))
	pattern := h.run.AppID + "-" + hex.EncodeToString(digest[:4]) + "-*"

	handle, err := os.CreateTemp(directory, pattern)
	if err != nil {
		return fmt.Errorf("creating file for %s: %w", file.dest, err)
	}
	file.source = handle.Name()

	if _, err := handle.WriteString(file.content); err != nil {
		handle.Close()
		return fmt.Errorf("writing file for %s: %w", file.dest, err)
	}
	if err := handle.Sync(); err != nil {
		handle.Close()
		return fmt.Errorf("syncing file for %s: %w", file.dest, err)
	}
	if err := handle.Close(); err != nil {
		return fmt.Errorf("closing file for %s: %w", file.dest, err)
	}
	return nil
}

func (h *filesystemHandler) removeFiles() error {
	var errs []error
	for _, file := range h.files {
		if file.source == "" {
			continue
		}
		if err := os.Remove(file.source); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing %s: %w", file.source, err))
		}
	}
	return errors.Join(errs...)
}

// categoryMapping checks that a category's value is a mapping. A null
// value is treated as an empty mapping.
func categoryMapping(category string, value any) (*tree.Map, error) {
	if value == nil {
		return tree.New(), nil
	}
	mapping, ok := value.(*tree.Map)
	if !ok {
		return nil, structureError([]string{category}, "expected a mapping, got %s", tree.KindOf(value))
	}
	return mapping, nil
}
