// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvSettingsFile = "SANDBOX_SETTINGS"
	EnvConfigDirs   = "SANDBOX_CONFIG_DIRS"
	EnvEngine       = "SANDBOX_ENGINE"
	EnvProxyTimeout = "SANDBOX_PROXY_TIMEOUT"
)

// Settings configures the launcher itself. Sandbox definitions are
// separate documents found through SearchPaths.
type Settings struct {
	// SearchPaths lists directories scanned, in order, for sandbox
	// definitions.
	SearchPaths []string `yaml:"search_paths"`

	// Engine is the isolation engine binary: an absolute path, or a
	// name looked up on PATH.
	Engine string `yaml:"engine"`

	// RuntimeDir is the per-user runtime directory ($XDG_RUNTIME_DIR).
	RuntimeDir string `yaml:"runtime_dir"`

	// ProxyDirName is the directory under RuntimeDir holding filtered
	// D-Bus sockets.
	ProxyDirName string `yaml:"proxy_dir"`

	// ProxyStartupTimeout bounds the wait for a proxy socket.
	ProxyStartupTimeout time.Duration `yaml:"proxy_startup_timeout"`

	// ProxyPollInterval is how often the socket path is checked.
	ProxyPollInterval time.Duration `yaml:"proxy_poll_interval"`

	// TempDir holds files injected with create-files.
	TempDir string `yaml:"temp_dir"`

	// InternalConfigDir is searched for internal definitions such as
	// the D-Bus proxy sandbox. It defaults to the directory holding
	// the running executable and is never taken from the environment.
	InternalConfigDir string `yaml:"-"`
}

// Default returns settings with built-in defaults.
func Default() *Settings {
	executableDir := executableDirectory()
	return &Settings{
		SearchPaths:         []string{filepath.Join(executableDir, "configs")},
		Engine:              "bwrap",
		RuntimeDir:          defaultRuntimeDir(),
		ProxyDirName:        "xdg-dbus-proxy",
		ProxyStartupTimeout: 5 * time.Second,
		ProxyPollInterval:   100 * time.Millisecond,
		TempDir:             filepath.Join(os.TempDir(), "sandbox_files"),
		InternalConfigDir:   executableDir,
	}
}

// Load builds Settings from defaults, the optional settings file named
// by SANDBOX_SETTINGS, and environment overrides. searchIn comes from
// --search-in flags and is scanned first, followed by
// SANDBOX_CONFIG_DIRS (colon separated), the settings file's
// search_paths, and finally the configs directory next to the
// executable.
func Load(searchIn []string) (*Settings, error) {
	settings := Default()
	builtinPaths := settings.SearchPaths
	settings.SearchPaths = nil

	if path := os.Getenv(EnvSettingsFile); path != "" {
		if err := settings.loadFile(path); err != nil {
			return nil, err
		}
	}

	if engine := os.Getenv(EnvEngine); engine != "" {
		settings.Engine = engine
	}
	if raw := os.Getenv(EnvProxyTimeout); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", EnvProxyTimeout, err)
		}
		settings.ProxyStartupTimeout = timeout
	}

	var searchPaths []string
	searchPaths = append(searchPaths, searchIn...)
	searchPaths = append(searchPaths, strings.Split(os.Getenv(EnvConfigDirs), ":")...)
	searchPaths = append(searchPaths, settings.SearchPaths...)
	searchPaths = append(searchPaths, builtinPaths...)
	settings.SearchPaths = nil
	for _, path := range searchPaths {
		if path != "" {
			settings.SearchPaths = append(settings.SearchPaths, path)
		}
	}

	settings.expandVariables()
	return settings, nil
}

func (s *Settings) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading settings file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	return nil
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func (s *Settings) expandVariables() {
	for i, path := range s.SearchPaths {
		s.SearchPaths[i] = expandVars(path)
	}
	s.Engine = expandVars(s.Engine)
	s.RuntimeDir = expandVars(s.RuntimeDir)
	s.TempDir = expandVars(s.TempDir)
}

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every problem with the settings at once.
func (s *Settings) Validate() error {
	var errs []error

	if s.Engine == "" {
		errs = append(errs, errors.New("engine is required"))
	}
	if s.RuntimeDir == "" {
		errs = append(errs, errors.New("runtime_dir is required (is XDG_RUNTIME_DIR set?)"))
	} else if !filepath.IsAbs(s.RuntimeDir) {
		errs = append(errs, fmt.Errorf("runtime_dir must be absolute, got %q", s.RuntimeDir))
	}
	if s.ProxyDirName == "" || strings.ContainsRune(s.ProxyDirName, '/') {
		errs = append(errs, fmt.Errorf("proxy_dir must be a single path element, got %q", s.ProxyDirName))
	}
	if s.ProxyStartupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("proxy_startup_timeout must be positive, got %v", s.ProxyStartupTimeout))
	}
	if s.ProxyPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("proxy_poll_interval must be positive, got %v", s.ProxyPollInterval))
	}
	if s.TempDir == "" {
		errs = append(errs, errors.New("temp_dir is required"))
	}

	return errors.Join(errs...)
}

// ProxySocketDir returns the directory holding proxied bus sockets.
func (s *Settings) ProxySocketDir() string {
	return filepath.Join(s.RuntimeDir, s.ProxyDirName)
}

// SessionBusPath returns the host session bus socket the proxy
// connects to and the sandbox sees its proxied bus at.
func (s *Settings) SessionBusPath() string {
	return filepath.Join(s.RuntimeDir, "bus")
}

// standardEngineLocations are checked when the engine is not on PATH.
var standardEngineLocations = []string{"/usr/bin", "/usr/local/bin", "/bin"}

// EnginePath resolves Engine to an executable path.
func (s *Settings) EnginePath() (string, error) {
	if strings.ContainsRune(s.Engine, '/') {
		if _, err := os.Stat(s.Engine); err != nil {
			return "", fmt.Errorf("isolation engine %s: %w", s.Engine, err)
		}
		return s.Engine, nil
	}

	if path, err := exec.LookPath(s.Engine); err == nil {
		return path, nil
	}
	for _, directory := range standardEngineLocations {
		path := filepath.Join(directory, s.Engine)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("isolation engine %q not found in PATH or %v", s.Engine, standardEngineLocations)
}

func defaultRuntimeDir() string {
	if directory := os.Getenv("XDG_RUNTIME_DIR"); directory != "" {
		return directory
	}
	return filepath.Join("/run/user", strconv.Itoa(os.Getuid()))
}

func executableDirectory() string {
	executable, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(executable); err == nil {
		executable = resolved
	}
	return filepath.Dir(executable)
}
