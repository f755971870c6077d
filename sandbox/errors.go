// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

// Sentinels for errors.Is. Every typed error below matches exactly one
// of them.
var (
	ErrConfigNotFound      = errors.New("config not found")
	ErrMergeType           = tree.ErrMergeType
	ErrStructure           = tree.ErrStructure
	ErrInheritanceCycle    = errors.New("config inheritance cycle")
	ErrUnknownCategory     = errors.New("unknown config category")
	ErrUnknownKey          = errors.New("unknown permission key")
	ErrMissingExecutable   = errors.New("no executable to run")
	ErrProxyStartupTimeout = errors.New("D-Bus proxy startup timed out")
	ErrProxyExited         = errors.New("D-Bus proxy exited before its socket appeared")
	ErrProxyInUse          = errors.New("D-Bus proxy already running")
)

// MergeTypeError and StructureError live with the tree they describe.
type (
	MergeTypeError = tree.MergeTypeError
	StructureError = tree.StructureError
)

// ConfigNotFoundError reports a name that matched no file in any
// search path.
type ConfigNotFoundError struct {
	Name        string
	SearchPaths []string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config %q not found in search paths [%s]", e.Name, strings.Join(e.SearchPaths, ", "))
}

func (e *ConfigNotFoundError) Is(target error) bool { return target == ErrConfigNotFound }

// CycleError reports an inherit chain that returns to a config already
// being resolved.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return "config inheritance cycle: " + strings.Join(e.Chain, " -> ")
}

func (e *CycleError) Is(target error) bool { return target == ErrInheritanceCycle }

// UnknownCategoryError names a category with no registered handler.
type UnknownCategoryError struct {
	Category string
	// Scope is where the key appeared: "permissions" or the document
	// top level.
	Scope Scope
}

func (e *UnknownCategoryError) Error() string {
	if e.Scope == ScopePermissions {
		return fmt.Sprintf("%q is not a valid permission category", e.Category)
	}
	return fmt.Sprintf("%q is not a valid configuration category", e.Category)
}

func (e *UnknownCategoryError) Is(target error) bool { return target == ErrUnknownCategory }

// UnknownKeyError names an unrecognized key inside a known category.
type UnknownKeyError struct {
	Category string
	Key      string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("%q is not a valid key in category %q", e.Key, e.Category)
}

func (e *UnknownKeyError) Is(target error) bool { return target == ErrUnknownKey }

// ExitError reports a non-zero exit of the sandboxed program. Programs
// killed by a signal report 128 plus the signal number.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// ExitCode lets callers propagate the program's status.
func (e *ExitError) ExitCode() int { return e.Code }

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}

func structureError(path []string, format string, args ...any) error {
	return &StructureError{Path: tree.JoinPath(path...), Detail: fmt.Sprintf(format, args...)}
}
