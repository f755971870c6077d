// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/CatCraftYT/sandbox-manager/lib/config"
	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

// ValidationResult holds the result of a validation check.
type ValidationResult struct {
	Name    string
	Passed  bool
	Message string
	Warning bool // True if this is a warning, not an error.
}

// Validator performs pre-flight checks for a resolved definition.
type Validator struct {
	results []ValidationResult
	errors  int
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Results returns all validation results.
func (v *Validator) Results() []ValidationResult {
	return v.results
}

// HasErrors returns true if any check failed.
func (v *Validator) HasErrors() bool {
	return v.errors > 0
}

func (v *Validator) pass(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message})
}

func (v *Validator) warn(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: true, Message: message, Warning: true})
}

func (v *Validator) fail(name, message string) {
	v.results = append(v.results, ValidationResult{Name: name, Passed: false, Message: message})
	v.errors++
}

// ValidateAll runs every check relevant to resolved.
func (v *Validator) ValidateAll(settings *config.Settings, caps *Capabilities, resolved *tree.Map) {
	v.ValidateEngine(caps)
	v.ValidateUserNamespaces(caps)
	v.ValidateRuntimeDir(settings)

	permissions, _ := resolved.Get(keyPermissions)
	permissionMap, _ := permissions.(*tree.Map)
	if permissionMap.Has("dbus") {
		v.ValidateProxy(caps)
	}
	if resolved.Has("resources") {
		v.ValidateSystemd(caps)
	}
	filesystem, _ := permissionMap.Get("filesystem")
	if filesystemMap, ok := filesystem.(*tree.Map); ok {
		v.ValidateMountSources(filesystemMap)
	}
}

// ValidateEngine checks that the isolation engine is installed.
func (v *Validator) ValidateEngine(caps *Capabilities) {
	if !caps.EngineAvailable {
		v.fail("engine", "isolation engine (bwrap) not found")
		return
	}
	if caps.EngineVersion == "" {
		v.warn("engine", fmt.Sprintf("found at %s but --version failed", caps.EnginePath))
		return
	}
	v.pass("engine", fmt.Sprintf("available: %s (%s)", caps.EnginePath, caps.EngineVersion))
}

// ValidateUserNamespaces checks that user namespaces are enabled.
func (v *Validator) ValidateUserNamespaces(caps *Capabilities) {
	if !caps.UserNamespacesEnabled {
		v.fail("userns", "unprivileged user namespaces are not usable (check kernel.unprivileged_userns_clone)")
		return
	}
	v.pass("userns", "user namespaces enabled")
}

// ValidateRuntimeDir checks the directory proxy sockets live in.
func (v *Validator) ValidateRuntimeDir(settings *config.Settings) {
	if os.Getenv("XDG_RUNTIME_DIR") == "" {
		v.warn("runtime_dir", fmt.Sprintf("XDG_RUNTIME_DIR not set, using %s", settings.RuntimeDir))
	}
	info, err := os.Stat(settings.RuntimeDir)
	if err != nil {
		v.fail("runtime_dir", fmt.Sprintf("cannot access %s: %v", settings.RuntimeDir, err))
		return
	}
	if !info.IsDir() {
		v.fail("runtime_dir", fmt.Sprintf("not a directory: %s", settings.RuntimeDir))
		return
	}
	v.pass("runtime_dir", fmt.Sprintf("exists: %s", settings.RuntimeDir))
}

// ValidateProxy checks that xdg-dbus-proxy is installed.
func (v *Validator) ValidateProxy(caps *Capabilities) {
	if caps.ProxyPath == "" {
		v.fail("dbus", "xdg-dbus-proxy not found in PATH (required by the dbus category)")
		return
	}
	v.pass("dbus", fmt.Sprintf("proxy available: %s", caps.ProxyPath))
}

// ValidateSystemd checks that resource limits can be enforced.
func (v *Validator) ValidateSystemd(caps *Capabilities) {
	if caps.SystemdRunPath == "" {
		v.warn("resources", "systemd-run not found (resource limits will not be enforced)")
		return
	}
	v.pass("resources", fmt.Sprintf("available: %s", caps.SystemdRunPath))
}

// ValidateMountSources checks that every bind source exists. Missing
// sources of -opt keys are warnings, since the engine skips them.
func (v *Validator) ValidateMountSources(filesystem *tree.Map) {
	filesystem.Range(func(key string, value any) bool {
		template, ok := mountTemplates[key]
		if !ok || template.shape == mountSingle || key == "link" {
			return true
		}
		optional := strings.HasSuffix(template.flag, "-try")

		var sources []string
		if template.shape == mountSame {
			sources, _ = tree.StringList(value)
		} else if pairs, err := parsePairs(nil, value); err == nil {
			for _, pair := range pairs {
				sources = append(sources, pair[0])
			}
		}

		for _, source := range sources {
			source = Expand(source)
			if strings.Contains(source, "$") {
				v.fail("mount", fmt.Sprintf("unresolved variable in source: %s", source))
				continue
			}
			_, err := os.Stat(source)
			switch {
			case err == nil:
			case os.IsNotExist(err) && optional:
				v.warn("mount", fmt.Sprintf("optional source not found: %s", source))
			case os.IsNotExist(err):
				v.fail("mount", fmt.Sprintf("source not found: %s (%s)", source, key))
			default:
				v.fail("mount", fmt.Sprintf("cannot access source %s: %v", source, err))
			}
		}
		return true
	})
}

// PrintResults writes the results to w, coloured when w is a terminal.
func (v *Validator) PrintResults(w io.Writer) {
	renderer := lipgloss.NewRenderer(w)
	passStyle := renderer.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle := renderer.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle := renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)

	for _, r := range v.results {
		var prefix string
		switch {
		case !r.Passed:
			prefix = failStyle.Render("✗")
		case r.Warning:
			prefix = warnStyle.Render("⚠")
		default:
			prefix = passStyle.Render("✓")
		}
		fmt.Fprintf(w, "%s %s: %s\n", prefix, r.Name, r.Message)
	}

	fmt.Fprintln(w)
	if v.HasErrors() {
		fmt.Fprintf(w, "Validation failed with %d error(s)\n", v.errors)
	} else {
		fmt.Fprintln(w, "Ready to run sandbox")
	}
}
