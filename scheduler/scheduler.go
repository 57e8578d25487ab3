// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/workbench/lib/clock"
	"github.com/bureau-foundation/workbench/lib/process"
	"github.com/bureau-foundation/workbench/lib/schema"
	"github.com/bureau-foundation/workbench/lib/store"
	"github.com/bureau-foundation/workbench/lib/workspace"
	"github.com/bureau-foundation/workbench/sandbox"
)

// JobStore is the scheduler's view of the job records. Every status
// change is conditional on the status it leaves and reports whether it
// applied.
type JobStore interface {
	ListQueued(ctx context.Context, limit int, exclude []string) ([]schema.Job, error)
	GetJob(ctx context.Context, jobID string) (schema.Job, error)
	MarkRunning(ctx context.Context, jobID, logPath string, pid int) (bool, error)
	Finish(ctx context.Context, jobID string, status schema.JobStatus) (bool, error)
	FailQueued(ctx context.Context, jobID, logPath string) (bool, error)
	CancelIfActive(ctx context.Context, jobID string) (bool, error)
	FailOrphaned(ctx context.Context) ([]schema.Job, error)
}

// ProjectStore resolves a job's project. A missing project is
// reported with an error wrapping store.ErrNotFound.
type ProjectStore interface {
	GetProject(ctx context.Context, projectID string) (schema.Project, error)
}

// Capturer stores the outputs of a successful build job.
type Capturer interface {
	Capture(ctx context.Context, job schema.Job, project schema.Project) ([]schema.Artifact, error)
}

// IdentityResolver returns the identity a tenant's jobs run as, or
// nil to run them as the engine user.
type IdentityResolver interface {
	Ensure(ctx context.Context, tenantID string) (*schema.Identity, error)
}

// Config configures a Scheduler. Jobs, Projects, Sandbox, Clock, and
// Logger are required; Artifacts and Identities are optional.
type Config struct {
	Jobs       JobStore
	Projects   ProjectStore
	Artifacts  Capturer
	Identities IdentityResolver
	Sandbox    *sandbox.Builder
	Layout     workspace.Layout

	// ScriptsDir holds the build scripts, visible read-only to jobs.
	ScriptsDir string

	// IsolateNetwork removes network access from jailed jobs.
	IsolateNetwork bool

	// PollInterval defaults to 2s, BatchSize to 5, and CancelGrace to
	// 500ms.
	PollInterval time.Duration
	BatchSize    int
	CancelGrace  time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Scheduler claims queued jobs and runs each as a sandboxed process
// group, at most BatchSize at a time.
type Scheduler struct {
	jobs           JobStore
	projects       ProjectStore
	artifacts      Capturer
	identities     IdentityResolver
	sandbox        *sandbox.Builder
	layout         workspace.Layout
	scriptsDir     string
	isolateNetwork bool
	pollInterval   time.Duration
	batchSize      int
	cancelGrace    time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	handles *registry

	// inflight holds every job between launch and the end of its
	// goroutine, including jobs whose process has not started yet.
	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool

	running      sync.WaitGroup
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Scheduler, error) {
	switch {
	case cfg.Jobs == nil:
		return nil, fmt.Errorf("scheduler: Jobs is required")
	case cfg.Projects == nil:
		return nil, fmt.Errorf("scheduler: Projects is required")
	case cfg.Sandbox == nil:
		return nil, fmt.Errorf("scheduler: Sandbox is required")
	case cfg.Clock == nil:
		return nil, fmt.Errorf("scheduler: Clock is required")
	case cfg.Logger == nil:
		return nil, fmt.Errorf("scheduler: Logger is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 500 * time.Millisecond
	}
	return &Scheduler{
		jobs:           cfg.Jobs,
		projects:       cfg.Projects,
		artifacts:      cfg.Artifacts,
		identities:     cfg.Identities,
		sandbox:        cfg.Sandbox,
		layout:         cfg.Layout,
		scriptsDir:     cfg.ScriptsDir,
		isolateNetwork: cfg.IsolateNetwork,
		pollInterval:   cfg.PollInterval,
		batchSize:      cfg.BatchSize,
		cancelGrace:    cfg.CancelGrace,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		handles:        newRegistry(),
		inflight:       make(map[string]struct{}),
		shutdown:       make(chan struct{}),
	}, nil
}

// Run polls immediately and then every PollInterval until ctx is
// cancelled or Shutdown is called. Jobs already launched keep running
// after Run returns; stop them with Shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		"poll_interval", s.pollInterval,
		"batch_size", s.batchSize,
	)
	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.shutdown:
			return nil
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll claims up to the free share of BatchSize queued jobs and starts
// each in its own goroutine. It returns the number launched.
func (s *Scheduler) Poll(ctx context.Context) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	free := s.batchSize - len(s.inflight)
	exclude := make([]string, 0, len(s.inflight))
	for jobID := range s.inflight {
		exclude = append(exclude, jobID)
	}
	s.mu.Unlock()
	if free <= 0 {
		return 0
	}

	queued, err := s.jobs.ListQueued(ctx, free, exclude)
	if err != nil {
		s.logger.Error("listing queued jobs failed", "error", err)
		return 0
	}

	// Jobs outlive the poll context.
	jobContext := context.WithoutCancel(ctx)
	launched := 0
	for _, job := range queued {
		if !s.claim(job.ID) {
			continue
		}
		launched++
		go func() {
			defer s.release(job.ID)
			s.execute(jobContext, job.ID)
		}()
	}
	return launched
}

// claim records jobID as in flight. It fails when the scheduler is
// shut down or the job is already claimed.
func (s *Scheduler) claim(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, exists := s.inflight[jobID]; exists {
		return false
	}
	s.inflight[jobID] = struct{}{}
	s.running.Add(1)
	return true
}

func (s *Scheduler) release(jobID string) {
	s.mu.Lock()
	delete(s.inflight, jobID)
	s.mu.Unlock()
	s.running.Done()
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Wait blocks until every launched job has finished its bookkeeping.
func (s *Scheduler) Wait() {
	s.running.Wait()
}

// Running returns the number of jobs with a live process.
func (s *Scheduler) Running() int {
	return s.handles.len()
}

// Cancel stops a job. A job with a live process is signalled (SIGTERM
// to its process group, SIGKILL after CancelGrace) and recorded as
// CANCELLED by its waiter. A job without one is cancelled in the store
// if it is still QUEUED or RUNNING. The result is false when the job
// was already terminal or unknown, or its process has exited and its
// own outcome is being recorded.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) (bool, error) {
	if h, ok := s.handles.get(jobID); ok {
		if !h.cancel() {
			s.logger.Debug("job already exited, not cancelling", "job_id", jobID)
			return false, nil
		}
		s.terminate(ctx, h)
		return true, nil
	}
	changed, err := s.jobs.CancelIfActive(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("scheduler: cancel %s: %w", jobID, err)
	}
	if changed {
		s.logger.Info("job cancelled before start", "job_id", jobID)
	}
	return changed, nil
}

// terminate signals a handle the caller has claimed with cancel.
func (s *Scheduler) terminate(ctx context.Context, h *handle) {
	killed, err := process.Terminate(ctx, h.pid, h.exited, s.cancelGrace, s.clock)
	if err != nil {
		s.logger.Warn("terminating job process", "job_id", h.jobID, "pid", h.pid, "error", err)
		return
	}
	s.logger.Info("job process terminated", "job_id", h.jobID, "pid", h.pid, "killed", killed)
}

// Shutdown stops polling and terminates every live job process. It
// returns when all jobs have recorded their final status or ctx ends,
// whichever is first.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.shutdownOnce.Do(func() { close(s.shutdown) })

	live := s.handles.snapshot()
	s.logger.Info("scheduler shutting down", "live_jobs", len(live))

	var terminating sync.WaitGroup
	for _, h := range live {
		terminating.Add(1)
		go func() {
			defer terminating.Done()
			if h.cancel() {
				s.terminate(ctx, h)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		terminating.Wait()
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: shutdown: %w", ctx.Err())
	}
}

// orphanMessage is appended to the log of jobs found RUNNING at
// startup.
const orphanMessage = "engine restarted while job was running"

// Recover fails every job a previous engine left RUNNING. No process
// handle can exist for them, so they could never be finished or
// cancelled otherwise. Call before the first Poll.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	orphans, err := s.jobs.FailOrphaned(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: recover: %w", err)
	}
	for _, job := range orphans {
		logPath := job.LogPath
		if logPath == "" {
			logPath = s.layout.JobLog(job.ID)
		}
		s.appendError(logPath, orphanMessage)
		s.logger.Warn("failed orphaned job", "job_id", job.ID, "pid", job.PID)
	}
	return len(orphans), nil
}

// execute runs one claimed job to completion.
func (s *Scheduler) execute(ctx context.Context, jobID string) {
	logger := s.logger.With("job_id", jobID)

	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		logger.Warn("claimed job vanished", "error", err)
		return
	}
	if job.Status != schema.StatusQueued {
		logger.Debug("job no longer queued", "status", job.Status)
		return
	}
	logPath := s.layout.JobLog(job.ID)

	project, err := s.projects.GetProject(ctx, job.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.reject(ctx, logger, job, logPath, "project not found")
		} else {
			s.reject(ctx, logger, job, logPath, err.Error())
		}
		return
	}

	command, err := BuildCommand(job, project, s.scriptsDir)
	if err != nil {
		s.reject(ctx, logger, job, logPath, err.Error())
		return
	}

	wrapped, err := s.wrap(ctx, job, project, command)
	if err != nil {
		s.reject(ctx, logger, job, logPath, err.Error())
		return
	}
	if wrapped.IdentityIgnored {
		logger.Warn("job runs as engine user: no privilege-drop tool available")
	}

	if err := os.MkdirAll(s.layout.JobLogs, 0o755); err != nil {
		logger.Error("creating job log directory failed", "error", err)
		s.reject(ctx, logger, job, logPath, err.Error())
		return
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Error("opening job log failed", "error", err)
		s.reject(ctx, logger, job, logPath, fmt.Sprintf("opening job log: %v", err))
		return
	}
	defer logFile.Close()

	cmd := exec.Command(wrapped.Args[0], wrapped.Args[1:]...)
	cmd.Dir = project.RootPath
	cmd.Env = append(os.Environ(), command.Env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = process.GroupAttr()

	// A job claimed just before Shutdown stays QUEUED for the next
	// engine.
	if s.isClosed() {
		logger.Info("scheduler shut down before job start")
		return
	}
	if err := cmd.Start(); err != nil {
		s.reject(ctx, logger, job, logPath, fmt.Sprintf("starting process: %v", err))
		return
	}
	h := &handle{jobID: job.ID, pid: cmd.Process.Pid, exited: make(chan struct{})}
	s.handles.add(h)
	defer s.handles.remove(job.ID)
	// Shutdown snapshots handles after setting closed, so a handle
	// added after that snapshot is terminated here.
	if s.isClosed() && h.cancel() {
		go s.terminate(context.WithoutCancel(ctx), h)
	}

	waitResult := make(chan error, 1)
	var cancelled bool
	go func() {
		err := cmd.Wait()
		cancelled = h.reap()
		close(h.exited)
		waitResult <- err
	}()

	claimed, err := s.jobs.MarkRunning(ctx, job.ID, logPath, h.pid)
	if err != nil || !claimed {
		// Cancelled (or unrecordable) between listing and start; the
		// process must not outlive a job the store does not show as
		// running.
		logger.Warn("job could not be marked running, killing process", "claimed", claimed, "error", err)
		if h.cancel() {
			select {
			case <-h.exited:
			default:
				process.SignalGroup(h.pid, unix.SIGKILL)
			}
		}
		<-waitResult
		return
	}
	logger.Info("job started",
		"type", job.Type,
		"pid", h.pid,
		"primitive", wrapped.Primitive,
		"log_path", logPath,
	)

	waitErr := <-waitResult
	status := schema.StatusSuccess
	switch {
	case cancelled:
		status = schema.StatusCancelled
	case waitErr != nil:
		status = schema.StatusFailed
	}
	logger.Info("job process exited", "status", status, "exit_code", cmd.ProcessState.ExitCode())

	if status == schema.StatusSuccess && job.Type.IsBuild() && s.artifacts != nil {
		artifacts, err := s.artifacts.Capture(ctx, job, project)
		if err != nil {
			logger.Warn("artifact capture incomplete", "captured", len(artifacts), "error", err)
		}
	}

	finished, err := s.jobs.Finish(ctx, job.ID, status)
	switch {
	case err != nil:
		logger.Error("recording job status failed", "status", status, "error", err)
	case !finished:
		logger.Warn("job was no longer running when it finished", "status", status)
	}
}

// wrap resolves the tenant identity and sandboxes the command. The
// job may write only its project tree and read the build scripts.
func (s *Scheduler) wrap(ctx context.Context, job schema.Job, project schema.Project, command Command) (sandbox.Wrapped, error) {
	request := sandbox.Request{
		Command:        []string{"sh", "-c", command.Shell},
		ReadWrite:      []string{project.RootPath},
		WorkDir:        project.RootPath,
		IsolateNetwork: s.isolateNetwork,
	}
	if s.scriptsDir != "" {
		request.ReadOnly = []string{s.scriptsDir}
	}
	if s.identities != nil {
		identity, err := s.identities.Ensure(ctx, job.OwnerID)
		if err != nil {
			return sandbox.Wrapped{}, err
		}
		if identity != nil {
			request.RunAs = &sandbox.RunAs{UID: identity.UID, GID: identity.GID}
		}
	}
	return s.sandbox.Build(request)
}

// reject fails a job that never started, writing reason to its log.
func (s *Scheduler) reject(ctx context.Context, logger *slog.Logger, job schema.Job, logPath, reason string) {
	s.appendError(logPath, reason)
	changed, err := s.jobs.FailQueued(ctx, job.ID, logPath)
	if err != nil {
		logger.Error("recording job failure failed", "error", err)
		return
	}
	if changed {
		logger.Warn("job rejected", "reason", reason)
	}
}

// appendError writes an ERROR line to a job log, creating it if
// needed. Failures are logged, never returned.
func (s *Scheduler) appendError(logPath, message string) {
	if err := os.MkdirAll(s.layout.JobLogs, 0o755); err != nil {
		s.logger.Warn("creating job log directory failed", "error", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Warn("opening job log failed", "path", logPath, "error", err)
		return
	}
	defer file.Close()
	if _, err := fmt.Fprintf(file, "\n\nERROR: %s\n", message); err != nil {
		s.logger.Warn("writing job log failed", "path", logPath, "error", err)
	}
}
