// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/CatCraftYT/sandbox-manager/lib/clock"
	"github.com/CatCraftYT/sandbox-manager/lib/config"
)

// Handler is one constructed permission category for one run. It is
// built from already-validated configuration and reports the
// isolation-engine arguments the category needs.
//
// Handlers may additionally implement Preparer (side effects before
// launch) and CommandWrapper (wrapping the engine command line).
// Handlers that implement neither have no setup and no teardown.
type Handler interface {
	// Args returns the engine arguments for this category. It must not
	// fail: everything that can be wrong with the configuration is
	// rejected when the handler is constructed.
	Args() []string
}

// Preparer is implemented by handlers with setup work to do before the
// sandboxed program starts. Prepare returns the callbacks that undo
// that work once the program has exited.
//
// When Prepare fails it must release whatever it acquired itself
// before returning; the callbacks of handlers prepared earlier are run
// by the caller.
type Preparer interface {
	Prepare(ctx context.Context) ([]TerminationCallback, error)
}

// CommandWrapper is implemented by handlers that run the engine under
// another program, such as a systemd scope.
type CommandWrapper interface {
	WrapCommand(argv []string) []string
}

// TerminationCallback undoes one piece of preparation. Each callback
// runs exactly once, after the sandboxed program has exited.
type TerminationCallback func() error

// RunInfo is the per-run context handed to every handler constructor.
// A RunInfo belongs to exactly one run and is never shared.
type RunInfo struct {
	// AppName is the display name from the definition's name key.
	AppName string

	// AppID is AppName with all whitespace removed, used in paths.
	AppID string

	Settings *config.Settings
	Logger   *slog.Logger
	Clock    clock.Clock

	// Launcher starts nested sandboxes, such as the D-Bus proxy.
	Launcher Launcher
}

// runCallbacks invokes every callback in order. A failing callback is
// logged and does not stop the ones after it.
func runCallbacks(logger *slog.Logger, callbacks []TerminationCallback) error {
	var errs []error
	for index, callback := range callbacks {
		if err := callback(); err != nil {
			logger.Warn("cleanup step failed", "step", index, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
