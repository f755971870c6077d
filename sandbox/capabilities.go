// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"strings"

	"github.com/CatCraftYT/sandbox-manager/lib/config"
)

// Capabilities describes which sandbox features this host supports.
type Capabilities struct {
	EngineAvailable bool
	EnginePath      string
	EngineVersion   string

	// UserNamespacesEnabled is true if unprivileged user namespaces
	// work.
	UserNamespacesEnabled bool

	// ProxyPath is xdg-dbus-proxy on PATH, empty if missing.
	ProxyPath string

	// SystemdRunPath is systemd-run on PATH, empty if missing.
	SystemdRunPath string
}

// DetectCapabilities probes the host. It runs the engine, so it is
// meant for pre-flight checks rather than every launch.
func DetectCapabilities(settings *config.Settings) *Capabilities {
	caps := &Capabilities{}

	if path, err := settings.EnginePath(); err == nil {
		caps.EngineAvailable = true
		caps.EnginePath = path
		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.EngineVersion = strings.TrimSpace(string(out))
		}
	}
	caps.UserNamespacesEnabled = checkUserNamespaces(caps.EnginePath)

	if path, err := exec.LookPath("xdg-dbus-proxy"); err == nil {
		caps.ProxyPath = path
	}
	if path, err := exec.LookPath("systemd-run"); err == nil {
		caps.SystemdRunPath = path
	}
	return caps
}

// CanRunSandbox returns true if basic sandbox execution is possible.
func (c *Capabilities) CanRunSandbox() bool {
	return c.EngineAvailable && c.UserNamespacesEnabled
}

// checkUserNamespaces reads the Debian-style sysctl and, when an engine
// is available, tries to create a user namespace with it.
func checkUserNamespaces(engine string) bool {
	if data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil {
		if strings.TrimSpace(string(data)) == "0" {
			return false
		}
	}
	if engine == "" {
		return false
	}
	cmd := exec.Command(engine, "--unshare-user", "--ro-bind", "/", "/", "--", "true")
	return cmd.Run() == nil
}
