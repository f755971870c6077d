// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

// configExtensions are tried in order for every directory visited.
var configExtensions = []string{".yaml", ".yml", ".json", ".jsonc"}

//go:embed internal_configs/*.yaml
var internalConfigs embed.FS

// Loader finds and decodes sandbox definitions by name.
//
// Each search path is walked recursively in lexical order and the first
// file named <name>.yaml, .yml, .json or .jsonc wins; earlier search
// paths shadow later ones. Within one search path, depth does not
// matter, only walk order: "a/app.yaml" is found before "app.yml"
// because directory "a" sorts before file "app.yml". Within a single
// directory the extension order above decides.
//
// Decoded documents are cached by name. Every call returns a fresh
// deep copy, so callers may modify what they receive.
type Loader struct {
	searchPaths []string
	internalDir string
	logger      *slog.Logger

	mu    sync.Mutex
	cache map[string]*tree.Map
}

// NewLoader creates a loader over searchPaths. internalDir is the only
// place LoadInternal looks on disk before falling back to the copies
// compiled into the binary.
func NewLoader(searchPaths []string, internalDir string) *Loader {
	return &Loader{
		searchPaths: append([]string(nil), searchPaths...),
		internalDir: internalDir,
		cache:       make(map[string]*tree.Map),
	}
}

// SetLogger enables debug logging of file lookups.
func (l *Loader) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

func (l *Loader) log(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, args...)
	}
}

// SearchPaths returns the directories Load scans.
func (l *Loader) SearchPaths() []string {
	return append([]string(nil), l.searchPaths...)
}

// Load returns the document named name.
func (l *Loader) Load(name string) (*tree.Map, error) {
	l.mu.Lock()
	cached, ok := l.cache[name]
	l.mu.Unlock()
	if ok {
		return cached.Clone(), nil
	}

	path, err := l.Find(name)
	if err != nil {
		return nil, err
	}
	document, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	l.log("loaded config", "name", name, "path", path)

	l.mu.Lock()
	l.cache[name] = document
	l.mu.Unlock()
	return document.Clone(), nil
}

// Find returns the path of the file Load would read for name.
func (l *Loader) Find(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, filepath.Separator) || name == "." || name == ".." {
		return "", &ConfigNotFoundError{Name: name, SearchPaths: l.SearchPaths()}
	}

	candidates := make(map[string]bool, len(configExtensions))
	for _, extension := range configExtensions {
		candidates[name+extension] = true
	}

	for _, root := range l.searchPaths {
		found, err := findInTree(root, name, candidates)
		if err != nil {
			return "", err
		}
		if found != "" {
			return found, nil
		}
		l.log("config not in search path", "name", name, "path", root)
	}
	return "", &ConfigNotFoundError{Name: name, SearchPaths: l.SearchPaths()}
}

var errFound = errors.New("found")

func findInTree(root, name string, candidates map[string]bool) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			// Unreadable subdirectories are skipped rather than failing
			// the lookup for every other config.
			if entry != nil && entry.IsDir() && path != root {
				return filepath.SkipDir
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		base := entry.Name()
		if !candidates[base] {
			return nil
		}
		// Prefer extensions in configExtensions order when the same
		// directory holds more than one.
		directory := filepath.Dir(path)
		for _, extension := range configExtensions {
			preferred := filepath.Join(directory, name+extension)
			if _, statErr := os.Stat(preferred); statErr == nil {
				found = preferred
				return errFound
			}
		}
		found = path
		return errFound
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", fmt.Errorf("searching %s: %w", root, err)
	}
	return found, nil
}

// LoadInternal returns a definition the launcher itself depends on,
// such as the D-Bus proxy sandbox. It reads <internalDir>/<name>.yaml
// when that file exists and otherwise the built-in copy. Search paths
// are never consulted: a user-writable directory must not be able to
// replace the proxy's sandbox. Internal definitions cannot inherit.
func (l *Loader) LoadInternal(name string) (*tree.Map, error) {
	var (
		data   []byte
		origin string
		err    error
	)
	if l.internalDir != "" {
		origin = filepath.Join(l.internalDir, name+".yaml")
		data, err = os.ReadFile(origin)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading internal config %s: %w", origin, err)
		}
	}
	if data == nil {
		origin = "internal_configs/" + name + ".yaml"
		data, err = internalConfigs.ReadFile(origin)
		if err != nil {
			return nil, &ConfigNotFoundError{Name: name, SearchPaths: []string{l.internalDir, "(built-in)"}}
		}
	}

	document, err := tree.DecodeYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing internal config %s: %w", origin, err)
	}
	if document.Has(keyInherit) {
		return nil, structureError([]string{keyInherit}, "internal config %s cannot inherit", name)
	}
	l.log("loaded internal config", "name", name, "origin", origin)
	return document, nil
}

func decodeFile(path string) (*tree.Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var document *tree.Map
	switch filepath.Ext(path) {
	case ".json", ".jsonc":
		document, err = tree.DecodeJSONC(data)
	default:
		document, err = tree.DecodeYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return document, nil
}
