// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

// Top-level keys with meaning outside any category.
const (
	keyName        = "name"
	keyRun         = "run"
	keyInherit     = "inherit"
	keyPermissions = "permissions"
)

// Source supplies raw documents by name. Implementations must return a
// tree the caller may modify.
type Source interface {
	Load(name string) (*tree.Map, error)
}

// Resolver flattens inherit chains into one merged document.
type Resolver struct {
	source Source
	logger *slog.Logger
}

// NewResolver creates a resolver reading documents from source. A nil
// logger discards the warnings resolution can produce.
func NewResolver(source Source, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{source: source, logger: logger}
}

// Resolve loads name and merges its inherit chain.
//
// Parents are resolved depth-first in the order listed and merged left
// to right, then the document's own keys are merged on top. A parent
// never contributes its name, and a parent's run is dropped with a
// warning. The inherit key does not appear in the result.
func (r *Resolver) Resolve(name string) (*tree.Map, error) {
	return r.resolve(name, nil)
}

func (r *Resolver) resolve(name string, chain []string) (*tree.Map, error) {
	if slices.Contains(chain, name) {
		return nil, &CycleError{Chain: append(slices.Clone(chain), name)}
	}
	chain = append(chain, name)

	document, err := r.source.Load(name)
	if err != nil {
		return nil, err
	}

	parents, err := inheritList(document)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", name, err)
	}
	document.Delete(keyInherit)

	result := tree.New()
	for _, parentName := range parents {
		parent, err := r.resolve(parentName, chain)
		if err != nil {
			return nil, err
		}
		parent.Delete(keyName)
		if parent.Has(keyRun) {
			r.logger.Warn("ignoring run in inherited config",
				"config", name,
				"parent", parentName,
			)
			parent.Delete(keyRun)
		}

		result, err = tree.Merge(result, parent)
		if err != nil {
			return nil, fmt.Errorf("config %q: merging parent %q: %w", name, parentName, err)
		}
	}

	result, err = tree.Merge(result, document)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", name, err)
	}
	return result, nil
}

func inheritList(document *tree.Map) ([]string, error) {
	value, ok := document.Get(keyInherit)
	if !ok || value == nil {
		return nil, nil
	}
	parents, ok := tree.StringList(value)
	if !ok {
		return nil, structureError([]string{keyInherit}, "expected a list of config names, got %s", tree.KindOf(value))
	}
	return parents, nil
}
