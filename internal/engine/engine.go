// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine assembles the workbench components from a loaded
// configuration. Both binaries build on it so the daemon and the
// operator CLI always agree on paths, isolation, and identities.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/workbench/lib/agentdriver"
	"github.com/bureau-foundation/workbench/lib/capture"
	"github.com/bureau-foundation/workbench/lib/clock"
	"github.com/bureau-foundation/workbench/lib/config"
	"github.com/bureau-foundation/workbench/lib/identity"
	"github.com/bureau-foundation/workbench/lib/store"
	"github.com/bureau-foundation/workbench/lib/watch"
	"github.com/bureau-foundation/workbench/lib/workspace"
	"github.com/bureau-foundation/workbench/sandbox"
	"github.com/bureau-foundation/workbench/scheduler"
)

// Engine holds the shared components. Close releases the store.
type Engine struct {
	Config *config.Config
	Layout workspace.Layout
	Clock  clock.Clock
	Logger *slog.Logger

	Store      *store.Store
	Available  sandbox.Availability
	Sandbox    *sandbox.Builder
	Identities *identity.Registry
	Capture    *capture.Capturer
	Agent      *agentdriver.Invoker
}

// Options adjusts how Open builds components. The zero value is what
// the binaries use.
type Options struct {
	// Clock defaults to the real clock.
	Clock clock.Clock

	// Runner executes account-management commands. Defaults to
	// identity.ExecRunner.
	Runner identity.CommandRunner

	// Detector probes isolation tools. Defaults to a Detector using
	// the configured escalation prefix.
	Detector *sandbox.Detector
}

// Open creates the data directories, opens the store, and wires the
// sandbox builder, identity registry, capturer, and agent invoker.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, options Options) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("engine: logger is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Runner == nil {
		options.Runner = identity.ExecRunner{}
	}
	if options.Detector == nil {
		options.Detector = &sandbox.Detector{Escalate: cfg.Identity.Escalate}
	}

	for _, directory := range []string{
		cfg.Paths.Users,
		cfg.Paths.Artifacts,
		cfg.Paths.JobLogs,
		filepath.Dir(cfg.Paths.Database),
	} {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return nil, fmt.Errorf("engine: creating %s: %w", directory, err)
		}
	}

	records, err := store.Open(ctx, store.Config{
		Path:   cfg.Paths.Database,
		Clock:  options.Clock,
		Logger: logger.With("component", "store"),
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		Config:    cfg,
		Layout:    cfg.Layout(),
		Clock:     options.Clock,
		Logger:    logger,
		Store:     records,
		Available: options.Detector.Detect(),
	}
	e.Sandbox = &sandbox.Builder{
		Available:        e.Available,
		RequireIsolation: cfg.Sandbox.RequireIsolation,
		Escalate:         cfg.Identity.Escalate,
	}
	logger.Info("isolation tools detected", "tools", e.Available.Describe())

	if e.Identities, err = identity.NewRegistry(identity.Config{
		Store:          records,
		Runner:         options.Runner,
		Logger:         logger.With("component", "identity"),
		Layout:         e.Layout,
		Available:      e.Available,
		Enabled:        cfg.Identity.Enabled,
		MinUID:         cfg.Identity.MinUID,
		MaxUID:         cfg.Identity.MaxUID,
		UsernamePrefix: cfg.Identity.UsernamePrefix,
		Shell:          cfg.Identity.Shell,
		PasswdFile:     cfg.Identity.PasswdFile,
		GroupFile:      cfg.Identity.GroupFile,
		Escalate:       cfg.Identity.Escalate,
	}); err != nil {
		records.Close()
		return nil, err
	}

	if e.Capture, err = capture.New(capture.Config{
		Store:  records,
		Layout: e.Layout,
		Clock:  options.Clock,
		Logger: logger.With("component", "capture"),
	}); err != nil {
		records.Close()
		return nil, err
	}

	if e.Agent, err = agentdriver.New(agentdriver.Config{
		Binary:     cfg.Agent.Binary,
		Sandbox:    e.Sandbox,
		Identities: e.Identities,
		Layout:     e.Layout,
		Timeout:    cfg.Agent.Timeout.Std(),
		Model:      cfg.Agent.Model,
		Logger:     logger.With("component", "agent"),
	}); err != nil {
		records.Close()
		return nil, err
	}
	return e, nil
}

// NewScheduler builds the job scheduler over the engine's components.
func (e *Engine) NewScheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Config{
		Jobs:           e.Store,
		Projects:       e.Store,
		Artifacts:      e.Capture,
		Identities:     e.Identities,
		Sandbox:        e.Sandbox,
		Layout:         e.Layout,
		ScriptsDir:     e.Config.Paths.Scripts,
		IsolateNetwork: e.Config.Sandbox.IsolateNetwork,
		PollInterval:   e.Config.Scheduler.PollInterval.Std(),
		BatchSize:      e.Config.Scheduler.BatchSize,
		CancelGrace:    e.Config.Scheduler.CancelGrace.Std(),
		Clock:          e.Clock,
		Logger:         e.Logger.With("component", "scheduler"),
	})
}

// NewWatchHub builds a file-watch hub with the configured queue size.
func (e *Engine) NewWatchHub() (*watch.Hub, error) {
	return watch.New(watch.Config{
		Logger:    e.Logger.With("component", "watch"),
		QueueSize: e.Config.Watch.QueueSize,
	})
}

// Close closes the store.
func (e *Engine) Close() error {
	return e.Store.Close()
}
