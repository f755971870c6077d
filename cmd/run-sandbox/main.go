// Copyright 2026 The sandbox-manager Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kballard/go-shellquote"
	"github.com/muesli/termenv"
	"github.com/spf13/pflag"

	"github.com/CatCraftYT/sandbox-manager/lib/config"
	"github.com/CatCraftYT/sandbox-manager/lib/process"
	"github.com/CatCraftYT/sandbox-manager/lib/version"
	"github.com/CatCraftYT/sandbox-manager/sandbox"
)

func main() {
	process.Exit(run(os.Args[1:]))
}

type options struct {
	name        string
	runOverride string
	searchIn    []string
	flatten     bool
	dryRun      bool
	check       bool
	verbose     bool
	showVersion bool
}

func parseArgs(args []string) (*options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("run-sandbox", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.runOverride, "run", "r", "", "program to run instead of the definition's run (e.g. a shell)")
	flagSet.StringArrayVarP(&opts.searchIn, "search-in", "s", nil, "directory to search for definitions (repeatable, searched first)")
	flagSet.BoolVarP(&opts.flatten, "flatten", "f", false, "print the definition with its inherit chain merged, then exit")
	flagSet.BoolVarP(&opts.dryRun, "dry-run", "n", false, "print the engine command line instead of running it")
	flagSet.BoolVar(&opts.check, "check", false, "run pre-flight checks for the definition, then exit")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information")
	flagSet.Usage = func() { printHelp(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if opts.showVersion {
		return &opts, nil
	}

	positional := flagSet.Args()
	switch len(positional) {
	case 0:
		return nil, fmt.Errorf("a definition name is required (see --help)")
	case 1:
		opts.name = positional[0]
	default:
		return nil, fmt.Errorf("unexpected argument: %s", positional[1])
	}
	return &opts, nil
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Printf("run-sandbox %s\n", version.Full())
		return nil
	}

	logger := newLogger(opts.verbose || os.Getenv(envDebug) != "")
	logger.Debug("starting", "version", version.Short(), "definition", opts.name)

	settings, err := config.Load(opts.searchIn)
	if err != nil {
		return err
	}
	loader := sandbox.NewLoader(settings.SearchPaths, settings.InternalConfigDir)
	loader.SetLogger(logger)

	resolved, err := sandbox.NewResolver(loader, logger).Resolve(opts.name)
	if err != nil {
		return err
	}
	if opts.runOverride != "" {
		resolved.Set("run", opts.runOverride)
	}

	if opts.flatten {
		return writeFlattened(os.Stdout, resolved, termenv.NewOutput(os.Stdout).ColorProfile())
	}

	if opts.check {
		validator := sandbox.NewValidator()
		validator.ValidateAll(settings, sandbox.DetectCapabilities(settings), resolved)
		validator.PrintResults(os.Stdout)
		if validator.HasErrors() {
			return errors.New("pre-flight checks failed")
		}
		return nil
	}

	orchestrator, err := sandbox.New(sandbox.Options{
		Settings: settings,
		Loader:   loader,
		Logger:   logger,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	})
	if err != nil {
		return err
	}

	if opts.dryRun {
		argv, err := orchestrator.DryRun(resolved)
		if err != nil {
			return err
		}
		fmt.Println(quoteArgv(argv))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return orchestrator.Run(ctx, resolved)
}

// quoteArgv renders argv so it can be pasted into a POSIX shell.
func quoteArgv(argv []string) string {
	return shellquote.Join(argv...)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `run-sandbox - run programs in bubblewrap sandboxes built from layered definitions

Usage:
  run-sandbox [flags] <definition>

Definitions are YAML or JSONC files named <definition>.yaml, .yml, .json
or .jsonc. They are looked up, in order, in the --search-in directories,
the colon-separated %s directories, the search_paths of the
settings file and the configs directory next to this executable.

Examples:
  # Run a definition
  run-sandbox firefox

  # Open a shell with the same permissions
  run-sandbox --run /bin/sh firefox

  # Show exactly what a definition grants after inheritance
  run-sandbox --flatten firefox

Environment:
  %-22s settings file (YAML)
  %-22s extra definition directories
  %-22s isolation engine (default: bwrap)
  %-22s D-Bus proxy startup timeout (e.g. 10s)
  %-22s enable debug logging

Flags:
`, config.EnvConfigDirs,
		config.EnvSettingsFile, config.EnvConfigDirs, config.EnvEngine, config.EnvProxyTimeout, envDebug)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
