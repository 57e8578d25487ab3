// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Workbench-daemon runs the job scheduler for a multi-tenant workbench
// host.
//
// On startup it:
//  1. Loads the configuration named by --config or WORKBENCH_CONFIG.
//  2. Opens the job store and probes for isolation tools.
//  3. Fails every job left running by a previous engine process.
//  4. Polls for queued jobs until SIGINT or SIGTERM, then stops every
//     running job and waits for it to be recorded.
//
// Each --watch tenant/project flag logs file changes under that
// project directory.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workbench/internal/engine"
	"github.com/bureau-foundation/workbench/lib/config"
	"github.com/bureau-foundation/workbench/lib/process"
	"github.com/bureau-foundation/workbench/lib/version"
	"github.com/bureau-foundation/workbench/lib/watch"
	"github.com/bureau-foundation/workbench/lib/workspace"
)

// shutdownTimeout bounds how long shutdown waits for running jobs to
// be recorded after they are signalled.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		watches     []string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("workbench-daemon", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the workbench config file (default: $"+config.EnvVar+")")
	flagSet.StringArrayVar(&watches, "watch", nil, "log file changes under tenant/project (repeatable)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("workbench-daemon %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logging.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Open(ctx, cfg, logger, engine.Options{})
	if err != nil {
		return err
	}
	defer e.Close()

	capabilities := e.Identities.CheckCapabilities()
	logger.Info("workbench daemon starting",
		"version", version.Info(),
		"environment", cfg.Environment,
		"identities", capabilities.Identities,
		"jail", capabilities.Jail,
		"privilege_drop", capabilities.PrivilegeDrop,
	)

	jobs, err := e.NewScheduler()
	if err != nil {
		return err
	}
	recovered, err := jobs.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering orphaned jobs: %w", err)
	}
	if recovered > 0 {
		logger.Warn("failed jobs left running by a previous engine", "count", recovered)
	}

	hub, err := e.NewWatchHub()
	if err != nil {
		return err
	}
	defer hub.StopAll()
	for _, target := range watches {
		if err := watchProject(hub, e.Layout, target, logger); err != nil {
			return err
		}
	}

	runErr := jobs.Run(ctx)

	logger.Info("shutting down", "running_jobs", jobs.Running())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := jobs.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	return runErr
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// watchProject subscribes a logging listener for "tenant/project".
func watchProject(hub *watch.Hub, layout workspace.Layout, target string, logger *slog.Logger) error {
	tenantID, projectID, ok := strings.Cut(target, "/")
	if !ok {
		return fmt.Errorf("--watch %q: want tenant/project", target)
	}
	if err := workspace.ValidateID(tenantID); err != nil {
		return fmt.Errorf("--watch %q: %w", target, err)
	}
	if err := workspace.ValidateID(projectID); err != nil {
		return fmt.Errorf("--watch %q: %w", target, err)
	}
	root := layout.ProjectPath(tenantID, projectID)
	_, err := hub.Subscribe(projectID, root, func(event watch.Event) {
		logger.Info("project file changed",
			"tenant_id", tenantID,
			"project_id", event.ProjectID,
			"op", event.Op,
			"path", event.Path,
		)
	})
	return err
}
