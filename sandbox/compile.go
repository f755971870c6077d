// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"fmt"
	"sort"

	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

// Compiler turns the category part of a resolved definition into
// engine arguments and prepared resources.
type Compiler struct {
	registry *Registry
}

// NewCompiler creates a compiler over registry.
func NewCompiler(registry *Registry) *Compiler {
	return &Compiler{registry: registry}
}

// Plan is a set of constructed handlers for one run. Nothing has been
// prepared yet when Build returns it.
type Plan struct {
	run         *RunInfo
	defaultArgs []string
	handlers    []plannedHandler
	prepared    bool
}

type plannedHandler struct {
	category Category
	handler  Handler
}

// Build validates every category in categories and constructs its
// handler. categories is a resolved definition without name and run:
// permission categories under "permissions", top-level categories at
// the root. Any unknown category or invalid value fails the build
// before a single handler is prepared.
//
// Every registered category absent from categories contributes its
// default arguments.
func (c *Compiler) Build(run *RunInfo, categories *tree.Map) (*Plan, error) {
	plan := &Plan{run: run}
	seen := make(map[string]bool)

	construct := func(scope Scope, name string, value any) error {
		category, ok := c.registry.Lookup(scope, name)
		if !ok {
			return &UnknownCategoryError{Category: name, Scope: scope}
		}
		handler, err := category.New(run, value)
		if err != nil {
			return fmt.Errorf("category %q: %w", name, err)
		}
		seen[string(scope)+"/"+name] = true
		plan.handlers = append(plan.handlers, plannedHandler{category: category, handler: handler})
		return nil
	}

	var err error
	categories.Range(func(key string, value any) bool {
		if key != keyPermissions {
			err = construct(ScopeTopLevel, key, value)
			return err == nil
		}
		if value == nil {
			return true
		}
		permissions, ok := value.(*tree.Map)
		if !ok {
			err = structureError([]string{keyPermissions}, "expected a mapping of categories, got %s", tree.KindOf(value))
			return false
		}
		permissions.Range(func(name string, value any) bool {
			err = construct(ScopePermissions, name, value)
			return err == nil
		})
		return err == nil
	})
	if err != nil {
		return nil, err
	}

	for _, category := range c.registry.Categories() {
		if !seen[string(category.Scope)+"/"+category.Name] && category.DefaultArgs != nil {
			plan.defaultArgs = append(plan.defaultArgs, category.DefaultArgs()...)
		}
	}

	sort.SliceStable(plan.handlers, func(i, j int) bool {
		return c.registry.position(plan.handlers[i].category) < c.registry.position(plan.handlers[j].category)
	})
	return plan, nil
}

// Prepare runs every handler's preparation in registration order and
// returns the collected termination callbacks in the same order. If a
// handler fails, the callbacks already collected run before the error
// is returned, so a failed run leaves nothing behind.
func (p *Plan) Prepare(ctx context.Context) ([]TerminationCallback, error) {
	if p.prepared {
		return nil, fmt.Errorf("plan already prepared")
	}
	p.prepared = true

	var callbacks []TerminationCallback
	for _, planned := range p.handlers {
		preparer, ok := planned.handler.(Preparer)
		if !ok {
			continue
		}
		produced, err := preparer.Prepare(ctx)
		if err != nil {
			if cleanupErr := runCallbacks(p.run.Logger, callbacks); cleanupErr != nil {
				p.run.Logger.Warn("cleanup after failed preparation was incomplete", "error", cleanupErr)
			}
			return nil, fmt.Errorf("preparing %s: %w", planned.category.Name, err)
		}
		callbacks = append(callbacks, produced...)
	}
	return callbacks, nil
}

// DefaultArgs returns the arguments contributed by absent categories.
func (p *Plan) DefaultArgs() []string {
	return append([]string(nil), p.defaultArgs...)
}

// Args returns every handler's arguments in registration order.
func (p *Plan) Args() []string {
	var args []string
	for _, planned := range p.handlers {
		args = append(args, planned.handler.Args()...)
	}
	return args
}

// Argv returns the complete command line for engine running command,
// including any command wrappers.
func (p *Plan) Argv(engine string, command []string) []string {
	argv := BuildArgv(engine, p.defaultArgs, p.Args(), command)
	for _, planned := range p.handlers {
		if wrapper, ok := planned.handler.(CommandWrapper); ok {
			argv = wrapper.WrapCommand(argv)
		}
	}
	return argv
}
