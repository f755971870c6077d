// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

type resourcesHandler struct {
	run   *RunInfo
	scope *SystemdScope
}

// newResourcesHandler reads cgroup limits. The category adds no engine
// arguments; it runs the engine inside a systemd scope instead.
func newResourcesHandler(run *RunInfo, value any) (Handler, error) {
	const category = "resources"
	mapping, err := categoryMapping(category, value)
	if err != nil {
		return nil, err
	}

	var limits ResourceLimits
	var walkErr error
	mapping.Range(func(key string, value any) bool {
		path := []string{category, key}
		text, ok := tree.Scalar(value)
		if !ok {
			walkErr = structureError(path, "expected a scalar, got %s", tree.KindOf(value))
			return false
		}

		switch key {
		case "tasks-max":
			limits.TasksMax, walkErr = positiveInt(path, value)
		case "cpu-weight":
			limits.CPUWeight, walkErr = positiveInt(path, value)
			if walkErr == nil && limits.CPUWeight > 10000 {
				walkErr = structureError(path, "cpu-weight must be between 1 and 10000")
			}
		case "memory-max":
			if _, err := ParseMemoryLimit(text); err != nil {
				walkErr = structureError(path, "%v", err)
			}
			limits.MemoryMax = text
		case "cpu-quota":
			if _, err := ParseCPUQuota(text); err != nil {
				walkErr = structureError(path, "%v", err)
			}
			limits.CPUQuota = text
		default:
			walkErr = &UnknownKeyError{Category: category, Key: key}
		}
		return walkErr == nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	description := run.AppName
	if description == "" {
		description = run.AppID
	}
	return &resourcesHandler{run: run, scope: NewSystemdScope(description+" sandbox", limits)}, nil
}

func positiveInt(path []string, value any) (int, error) {
	number, ok := value.(int)
	if !ok || number <= 0 {
		return 0, structureError(path, "expected a positive integer, got %v", value)
	}
	return number, nil
}

func (h *resourcesHandler) Args() []string { return nil }

// WrapCommand runs argv under systemd-run when it is installed. The
// limits are not enforced otherwise, which is logged rather than
// treated as fatal.
func (h *resourcesHandler) WrapCommand(argv []string) []string {
	if !h.scope.Limits.HasLimits() {
		return argv
	}
	if !h.scope.Available() {
		h.run.Logger.Warn("systemd-run not available, resource limits will not be enforced")
		return argv
	}
	return h.scope.WrapCommand(argv)
}
