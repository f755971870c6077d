// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "fmt"

// Scope says where in a definition a category's key lives.
type Scope string

const (
	// ScopePermissions categories are keys under "permissions".
	ScopePermissions Scope = "permissions"

	// ScopeTopLevel categories are keys at the document root, next to
	// name and run.
	ScopeTopLevel Scope = "top-level"
)

// Category describes one permission category: its key and how to
// build a handler for it.
type Category struct {
	Name  string
	Scope Scope

	// New validates value, the category's configuration, and returns
	// a handler. All validation happens here.
	New func(run *RunInfo, value any) (Handler, error)

	// DefaultArgs, if set, returns the arguments used when the
	// category is absent from the definition.
	DefaultArgs func() []string
}

// Registry maps category names to their definitions. Iteration order
// is registration order, which is also the order categories are
// prepared in and contribute arguments in.
type Registry struct {
	categories []Category
	index      map[Scope]map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[Scope]map[string]int)}
}

// Register adds a category. Names are unique within a scope.
func (r *Registry) Register(category Category) error {
	if category.Name == "" || category.New == nil {
		return fmt.Errorf("category must have a name and a constructor")
	}
	if category.Scope != ScopePermissions && category.Scope != ScopeTopLevel {
		return fmt.Errorf("category %q: invalid scope %q", category.Name, category.Scope)
	}
	if category.Scope == ScopeTopLevel && isReservedKey(category.Name) {
		return fmt.Errorf("category %q: name is reserved", category.Name)
	}
	names := r.index[category.Scope]
	if names == nil {
		names = make(map[string]int)
		r.index[category.Scope] = names
	}
	if _, exists := names[category.Name]; exists {
		return fmt.Errorf("category %q already registered in scope %s", category.Name, category.Scope)
	}
	names[category.Name] = len(r.categories)
	r.categories = append(r.categories, category)
	return nil
}

// Lookup returns the category registered under name in scope.
func (r *Registry) Lookup(scope Scope, name string) (Category, bool) {
	position, ok := r.index[scope][name]
	if !ok {
		return Category{}, false
	}
	return r.categories[position], true
}

// Categories returns every registered category in registration order.
func (r *Registry) Categories() []Category {
	return append([]Category(nil), r.categories...)
}

func (r *Registry) position(category Category) int {
	return r.index[category.Scope][category.Name]
}

func isReservedKey(key string) bool {
	switch key {
	case keyName, keyRun, keyInherit, keyPermissions:
		return true
	}
	return false
}

// DefaultRegistry returns a registry holding the built-in categories.
// Adding a category means adding an entry here.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	for _, category := range []Category{
		{Name: "filesystem", Scope: ScopePermissions, New: newFilesystemHandler},
		{Name: "dbus", Scope: ScopePermissions, New: newDBusHandler},
		{Name: "namespaces", Scope: ScopePermissions, New: newNamespaceHandler, DefaultArgs: namespaceDefaultArgs},
		{Name: "environment", Scope: ScopePermissions, New: newEnvironmentHandler},
		{Name: "preprocess", Scope: ScopeTopLevel, New: newPreprocessHandler},
		{Name: "resources", Scope: ScopeTopLevel, New: newResourcesHandler},
	} {
		if err := registry.Register(category); err != nil {
			panic("sandbox: " + err.Error())
		}
	}
	return registry
}
