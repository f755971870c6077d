// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/zeebo/blake3"

	"github.com/CatCraftYT/sandbox-manager/lib/clock"
	"github.com/CatCraftYT/sandbox-manager/lib/config"
	"github.com/CatCraftYT/sandbox-manager/lib/tree"
)

// Process-wide identity of the current run, set before any handler is
// prepared.
const (
	EnvAppName = "SANDBOX_APP_NAME"
	EnvAppID   = "SANDBOX_APP_ID"
)

// defaultAppID is used in paths when a definition has no name.
const defaultAppID = "sandbox"

// terminateGrace is how long a process gets to exit after SIGTERM
// before it is killed.
const terminateGrace = 2 * time.Second

// Spec is the part of a resolved definition the orchestrator itself
// reads: who the sandbox is and what it runs. Everything else is
// Categories, handed to the compiler.
type Spec struct {
	Name       string
	ID         string
	Command    []string
	Categories *tree.Map
}

// ParseSpec extracts a Spec from a resolved definition. run is either
// a string, expanded and then split into words with shell-style
// quoting, or a list of words expanded one by one.
func ParseSpec(resolved *tree.Map) (*Spec, error) {
	categories := resolved.Clone()
	if categories == nil {
		categories = tree.New()
	}
	spec := &Spec{Categories: categories}

	if value, ok := categories.Get(keyName); ok && value != nil {
		name, ok := tree.Scalar(value)
		if !ok {
			return nil, structureError([]string{keyName}, "expected a string, got %s", tree.KindOf(value))
		}
		spec.Name = name
	}
	id, err := appID(spec.Name)
	if err != nil {
		return nil, err
	}
	spec.ID = id

	command, err := commandWords(categories)
	if err != nil {
		return nil, err
	}
	if len(command) == 0 {
		return nil, ErrMissingExecutable
	}
	spec.Command = command

	categories.Delete(keyName)
	categories.Delete(keyRun)
	categories.Delete(keyInherit)
	return spec, nil
}

// appID derives the path-safe identifier from a sandbox name. It is
// used as a file name for the proxy socket, its state file and injected
// files, so whitespace is dropped and path separators become "-".
func appID(name string) (string, error) {
	id := strings.Join(strings.Fields(name), "")
	id = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '-'
		case 0:
			return -1
		}
		return r
	}, id)
	switch id {
	case "":
		return defaultAppID, nil
	case ".", "..":
		return "", structureError([]string{keyName}, "%q cannot be used as a file name", name)
	}
	return id, nil
}

func commandWords(document *tree.Map) ([]string, error) {
	value, ok := document.Get(keyRun)
	if !ok || value == nil {
		return nil, nil
	}
	if text, ok := tree.Scalar(value); ok {
		return splitCommand(Expand(text))
	}
	words, ok := tree.StringList(value)
	if !ok {
		return nil, structureError([]string{keyRun}, "expected a command string or list of words, got %s", tree.KindOf(value))
	}
	for i, word := range words {
		words[i] = Expand(word)
	}
	return words, nil
}

// Options configures an Orchestrator.
type Options struct {
	Settings *config.Settings

	// Registry defaults to DefaultRegistry().
	Registry *Registry

	// Loader supplies internal definitions such as the D-Bus proxy.
	Loader *Loader

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Standard streams of the sandboxed program. Nil streams are
	// connected to /dev/null.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Orchestrator compiles resolved definitions and runs them under the
// isolation engine. One Orchestrator may run many sandboxes; all
// per-run state lives in the Process it returns.
type Orchestrator struct {
	settings *config.Settings
	compiler *Compiler
	loader   *Loader
	logger   *slog.Logger
	clock    clock.Clock
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
}

// New creates an Orchestrator.
func New(options Options) (*Orchestrator, error) {
	if options.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	if err := options.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	registry := options.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	loader := options.Loader
	if loader == nil {
		loader = NewLoader(options.Settings.SearchPaths, options.Settings.InternalConfigDir)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Orchestrator{
		settings: options.Settings,
		compiler: NewCompiler(registry),
		loader:   loader,
		logger:   logger,
		clock:    clk,
		stdin:    options.Stdin,
		stdout:   options.Stdout,
		stderr:   options.Stderr,
	}, nil
}

// Run starts resolved and waits for it to exit. Every termination
// callback has run by the time Run returns, whichever way the program
// ended. A non-zero exit is reported as *ExitError.
func (o *Orchestrator) Run(ctx context.Context, resolved *tree.Map) error {
	process, err := o.Start(ctx, resolved)
	if err != nil {
		return err
	}
	defer process.Close()
	return process.Wait()
}

// Start publishes the run's identity to the process environment and
// launches resolved without waiting for it.
func (o *Orchestrator) Start(ctx context.Context, resolved *tree.Map) (*Process, error) {
	spec, err := ParseSpec(resolved)
	if err != nil {
		return nil, err
	}
	if spec.Name == "" {
		o.logger.Warn("sandbox has no name; some options may not work properly", "app_id", spec.ID)
	}
	if err := os.Setenv(EnvAppName, spec.Name); err != nil {
		return nil, fmt.Errorf("setting %s: %w", EnvAppName, err)
	}
	if err := os.Setenv(EnvAppID, spec.ID); err != nil {
		return nil, fmt.Errorf("setting %s: %w", EnvAppID, err)
	}
	return o.launch(ctx, spec, true)
}

// InternalConfig implements Launcher.
func (o *Orchestrator) InternalConfig(name string) (*tree.Map, error) {
	return o.loader.LoadInternal(name)
}

// Launch starts a nested sandbox such as the D-Bus proxy. It does not
// touch the process environment, so the outer run's identity stays
// intact, and the nested engine gets no standard streams.
func (o *Orchestrator) Launch(ctx context.Context, spec *Spec) (*Process, error) {
	return o.launch(ctx, spec, false)
}

// launch compiles spec, prepares its categories and starts the engine,
// connected to the configured streams when attach is set. If anything
// fails after preparation began, the callbacks collected so far run
// before launch returns.
func (o *Orchestrator) launch(ctx context.Context, spec *Spec, attach bool) (*Process, error) {
	engine, err := o.settings.EnginePath()
	if err != nil {
		return nil, err
	}

	run := o.runInfo(spec)
	plan, err := o.compiler.Build(run, spec.Categories)
	if err != nil {
		return nil, err
	}
	callbacks, err := plan.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	argv := plan.Argv(engine, spec.Command)
	cmd := o.command(spec, argv, attach)

	run.Logger.Info("starting sandbox",
		"command", spec.Command,
		"engine", engine,
		"digest", argvDigest(argv),
	)
	run.Logger.Debug("engine command line", "argv", argv)

	if err := cmd.Start(); err != nil {
		if cleanupErr := runCallbacks(run.Logger, callbacks); cleanupErr != nil {
			run.Logger.Warn("cleanup after failed launch was incomplete", "error", cleanupErr)
		}
		return nil, fmt.Errorf("starting %s: %w", engine, err)
	}
	return newProcess(ctx, cmd, callbacks, run.Logger, o.clock), nil
}

// DryRun returns the command line resolved would run with. Categories
// are validated but not prepared: no files are written and no proxy
// is started, so injected files show as placeholders.
func (o *Orchestrator) DryRun(resolved *tree.Map) ([]string, error) {
	spec, err := ParseSpec(resolved)
	if err != nil {
		return nil, err
	}
	engine, err := o.settings.EnginePath()
	if err != nil {
		engine = o.settings.Engine
	}
	plan, err := o.compiler.Build(o.runInfo(spec), spec.Categories)
	if err != nil {
		return nil, err
	}
	return plan.Argv(engine, spec.Command), nil
}

func (o *Orchestrator) runInfo(spec *Spec) *RunInfo {
	return &RunInfo{
		AppName:  spec.Name,
		AppID:    spec.ID,
		Settings: o.settings,
		Logger:   o.logger.With("app", spec.ID),
		Clock:    o.clock,
		Launcher: o,
	}
}

func (o *Orchestrator) command(spec *Spec, argv []string, attach bool) *exec.Cmd {
	cmd := exec.Command(argv[0], argv[1:]...)

	// Only what the engine itself needs. bwrap clears the environment
	// inside the sandbox, but its own /proc/<pid>/environ is readable
	// from inside, so the engine must not inherit the caller's secrets.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"TERM=" + os.Getenv("TERM"),
		EnvAppName + "=" + spec.Name,
		EnvAppID + "=" + spec.ID,
	}
	if attach {
		cmd.Stdin = o.stdin
		cmd.Stdout = o.stdout
		cmd.Stderr = o.stderr
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// argvDigest identifies a command line in logs without printing it.
func argvDigest(argv []string) string {
	hasher := blake3.New()
	for _, arg := range argv {
		hasher.Write([]byte(arg))
		hasher.Write([]byte{0})
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)[:8])
}

// Process is a running sandbox. Close must be called on every Process;
// it is safe to call more than once.
type Process struct {
	cmd       *exec.Cmd
	callbacks []TerminationCallback
	logger    *slog.Logger
	clock     clock.Clock

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

func newProcess(ctx context.Context, cmd *exec.Cmd, callbacks []TerminationCallback, logger *slog.Logger, clk clock.Clock) *Process {
	process := &Process{
		cmd:       cmd,
		callbacks: callbacks,
		logger:    logger,
		clock:     clk,
		done:      make(chan struct{}),
	}
	go func() {
		process.waitErr = cmd.Wait()
		close(process.done)
	}()
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("run cancelled, stopping sandbox", "pid", process.Pid())
			process.signal(syscall.SIGTERM)
		case <-process.done:
		}
	}()
	return process
}

// Pid returns the engine's process ID.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed when the engine process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process exits, runs its termination callbacks
// and reports how it exited. Cleanup failures are logged, not
// returned.
func (p *Process) Wait() error {
	<-p.done
	if err := p.Close(); err != nil {
		p.logger.Warn("sandbox cleanup incomplete", "error", err)
	}
	return exitResult(p.waitErr)
}

// Close stops the process if it is still running (SIGTERM, then
// SIGKILL after a grace period) and then runs every termination
// callback, in order, exactly once. It returns the callbacks' errors
// joined; later calls return the same result.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		select {
		case <-p.done:
		default:
			p.terminate()
		}
		p.closeErr = runCallbacks(p.logger, p.callbacks)
	})
	return p.closeErr
}

func (p *Process) terminate() {
	p.signal(syscall.SIGTERM)
	select {
	case <-p.done:
		return
	case <-p.clock.After(terminateGrace):
	}
	p.logger.Warn("sandbox ignored SIGTERM, killing", "pid", p.Pid())
	p.signal(syscall.SIGKILL)
	<-p.done
}

// signal delivers sig unless the process has already been reaped.
func (p *Process) signal(sig os.Signal) {
	if err := p.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("signalling sandbox failed", "pid", p.Pid(), "signal", sig, "error", err)
	}
}

func exitResult(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return &ExitError{Code: 128 + int(status.Signal())}
		}
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("sandbox command failed: %w", err)
}
