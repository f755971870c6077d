// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os/exec"
	"strings"
)

// ResourceLimits are the cgroup limits applied through a systemd
// scope. Zero values mean unlimited.
type ResourceLimits struct {
	TasksMax  int
	MemoryMax string
	CPUQuota  string
	CPUWeight int
}

// HasLimits reports whether any limit is set.
func (r ResourceLimits) HasLimits() bool {
	return r.TasksMax > 0 || r.MemoryMax != "" || r.CPUQuota != "" || r.CPUWeight > 0
}

// SystemdScope wraps a command in a transient systemd user scope so
// the limits apply to the whole sandbox process tree.
type SystemdScope struct {
	// Description is shown by systemctl for the scope.
	Description string
	Limits      ResourceLimits

	lookPath func(string) (string, error)
}

// NewSystemdScope creates a scope wrapper for limits.
func NewSystemdScope(description string, limits ResourceLimits) *SystemdScope {
	return &SystemdScope{Description: description, Limits: limits, lookPath: exec.LookPath}
}

// Available checks if systemd-run is available.
func (s *SystemdScope) Available() bool {
	_, err := s.lookPath("systemd-run")
	return err == nil
}

// WrapCommand returns cmd prefixed with systemd-run. cmd is returned
// unchanged when no limits are set.
func (s *SystemdScope) WrapCommand(cmd []string) []string {
	if !s.Limits.HasLimits() {
		return cmd
	}

	args := []string{"systemd-run", "--user", "--scope", "--quiet"}
	if s.Description != "" {
		args = append(args, "--description="+s.Description)
	}
	if s.Limits.TasksMax > 0 {
		args = append(args, fmt.Sprintf("--property=TasksMax=%d", s.Limits.TasksMax))
	}
	if s.Limits.MemoryMax != "" {
		args = append(args, "--property=MemoryMax="+s.Limits.MemoryMax)
	}
	if s.Limits.CPUQuota != "" {
		args = append(args, "--property=CPUQuota="+s.Limits.CPUQuota)
	}
	if s.Limits.CPUWeight > 0 {
		args = append(args, fmt.Sprintf("--property=CPUWeight=%d", s.Limits.CPUWeight))
	}

	args = append(args, "--")
	return append(args, cmd...)
}

// ParseMemoryLimit parses a memory limit such as "2G" or "512M" into
// bytes. Empty and "infinity" mean unlimited and return 0.
func ParseMemoryLimit(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "infinity" {
		return 0, nil
	}

	var multiplier uint64 = 1
	number := s
	if suffix := strings.IndexAny(s, "KMGT"); suffix == len(s)-1 {
		number = s[:suffix]
		for _, unit := range "KMGT" {
			multiplier *= 1024
			if byte(unit) == s[suffix] {
				break
			}
		}
	}

	var value uint64
	if _, err := fmt.Sscanf(number, "%d", &value); err != nil || fmt.Sprint(value) != number {
		return 0, fmt.Errorf("invalid memory limit %q", s)
	}
	return value * multiplier, nil
}

// ParseCPUQuota parses a CPU quota such as "200%" into a percentage.
// Empty and "infinity" return 0.
func ParseCPUQuota(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "infinity" {
		return 0, nil
	}

	number := strings.TrimSuffix(s, "%")
	var value int
	if _, err := fmt.Sscanf(number, "%d", &value); err != nil || fmt.Sprint(value) != number || value <= 0 {
		return 0, fmt.Errorf("invalid CPU quota %q", s)
	}
	return value, nil
}
