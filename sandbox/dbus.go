// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"path/filepath"

	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

// Launcher starts nested sandboxes. The orchestrator passes itself to
// handlers through RunInfo so the D-Bus proxy runs through the same
// compile-and-launch path as the program it serves.
type Launcher interface {
	// InternalConfig returns a definition shipped with the launcher.
	InternalConfig(name string) (*tree.Map, error)

	// Launch starts spec without waiting for it. The caller owns the
	// returned Process and must Close it.
	Launch(ctx context.Context, spec *Spec) (*Process, error)
}

// dbusProxyConfig is the internal definition the proxy runs under.
const dbusProxyConfig = "dbus-proxy"

type dbusHandler struct {
	run    *RunInfo
	rules  []string
	socket string
}

// newDBusHandler reads the see, talk and own lists of bus names. The
// program gets no direct bus access: it talks to a filtering
// xdg-dbus-proxy started during preparation.
func newDBusHandler(run *RunInfo, value any) (Handler, error) {
	const category = "dbus"
	mapping, err := categoryMapping(category, value)
	if err != nil {
		return nil, err
	}

	handler := &dbusHandler{
		run:    run,
		socket: filepath.Join(run.Settings.ProxySocketDir(), run.AppID+".sock"),
	}
	var walkErr error
	mapping.Range(func(key string, value any) bool {
		switch key {
		case "see", "talk", "own":
		default:
			walkErr = &UnknownKeyError{Category: category, Key: key}
			return false
		}
		names, ok := tree.StringList(value)
		if !ok && value != nil {
			walkErr = structureError([]string{keyPermissions, category, key}, "expected a list of bus names, got %s", tree.KindOf(value))
			return false
		}
		for _, name := range names {
			handler.rules = append(handler.rules, "--"+key+"="+name)
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return handler, nil
}

// Args points the program's session bus at the proxy socket, bound
// over the real bus path inside the sandbox.
func (h *dbusHandler) Args() []string {
	bus := h.run.Settings.SessionBusPath()
	return []string{
		"--setenv", "DBUS_SESSION_BUS_ADDRESS", "unix:path=" + bus,
		"--bind", h.socket, bus,
	}
}

func (h *dbusHandler) Prepare(ctx context.Context) ([]TerminationCallback, error) {
	proxy := newDBusProxy(h.run, h.socket, h.rules)
	if err := proxy.Start(ctx); err != nil {
		return nil, err
	}
	return []TerminationCallback{proxy.Close}, nil
}
