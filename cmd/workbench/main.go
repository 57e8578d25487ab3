// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Workbench is the operator CLI for a workbench host. It works
// directly against the configured store and tenant directories, so it
// runs on the same machine as workbench-daemon.
//
// Usage:
//
//	workbench capabilities
//	workbench provision <tenant>
//	workbench deprovision <tenant>
//	workbench project-add <tenant> <project> [flags]
//	workbench enqueue <project> [flags]
//	workbench cancel <job>
//	workbench jobs [flags]
//	workbench agent <tenant> [flags] <message>
//	workbench plugins <tenant>
//	workbench wrap [flags] -- <command> [args...]
//	workbench version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workbench/internal/engine"
	"github.com/bureau-foundation/workbench/lib/config"
	"github.com/bureau-foundation/workbench/lib/process"
	"github.com/bureau-foundation/workbench/lib/version"
)

// command is one subcommand. Flags registers command-specific flags on
// the set shared with --config; Run receives the positional arguments.
type command struct {
	Summary string
	Usage   string
	Flags   func(flagSet *pflag.FlagSet)
	Run     func(ctx context.Context, env *environment, args []string) error
}

// environment is what a running command may use.
type environment struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer

	opened *engine.Engine
}

// loadConfig reads --config, or the file named by the environment.
func (env *environment) loadConfig() (*config.Config, error) {
	if env.configPath != "" {
		return config.LoadFile(env.configPath)
	}
	return config.Load()
}

// open opens the engine on first use.
func (env *environment) open(ctx context.Context) (*engine.Engine, error) {
	if env.opened != nil {
		return env.opened, nil
	}
	cfg, err := env.loadConfig()
	if err != nil {
		return nil, err
	}
	opened, err := engine.Open(ctx, cfg, cfg.Logging.NewLogger(env.stderr), engine.Options{})
	if err != nil {
		return nil, err
	}
	env.opened = opened
	return opened, nil
}

func (env *environment) close() {
	if env.opened != nil {
		env.opened.Close()
	}
}

var commands = map[string]*command{
	"capabilities": capabilitiesCommand(),
	"provision":    provisionCommand(),
	"deprovision":  deprovisionCommand(),
	"project-add":  projectAddCommand(),
	"enqueue":      enqueueCommand(),
	"cancel":       cancelCommand(),
	"jobs":         jobsCommand(),
	"agent":        agentCommand(),
	"plugins":      pluginsCommand(),
	"wrap":         wrapCommand(),
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return errors.New("no command given")
	}
	name, args := args[0], args[1:]
	switch name {
	case "version", "--version", "-v":
		fmt.Printf("workbench %s\n", version.Info())
		return nil
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return nil
	}
	cmd, ok := commands[name]
	if !ok {
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", name)
	}

	env := &environment{stdout: os.Stdout, stderr: os.Stderr}
	flagSet := pflag.NewFlagSet("workbench "+name, pflag.ContinueOnError)
	flagSet.StringVar(&env.configPath, "config", "", "path to the workbench config file (default: $"+config.EnvVar+")")
	if cmd.Flags != nil {
		cmd.Flags(flagSet)
	}
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: workbench %s\n\n%s\n\nflags:\n%s", cmd.Usage, cmd.Summary, flagSet.FlagUsages())
	}
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer env.close()
	return cmd.Run(ctx, env, flagSet.Args())
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprint(w, "workbench - operate a multi-tenant build and agent host\n\nCOMMANDS\n")
	for _, name := range names {
		fmt.Fprintf(w, "    %-14s %s\n", name, commands[name].Summary)
	}
	fmt.Fprintf(w, "    %-14s %s\n", "version", "Show version")
	fmt.Fprintf(w, "\nEvery command accepts --config; without it the file named by $%s is used.\n", config.EnvVar)
}

// requireArgs checks the positional argument count.
func requireArgs(args []string, count int, usage string) error {
	if len(args) != count {
		return fmt.Errorf("expected %d argument(s), got %d\n\nusage: workbench %s", count, len(args), usage)
	}
	return nil
}
