// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/workbench/lib/clock"
	"github.com/bureau-foundation/workbench/lib/schema"
	"github.com/bureau-foundation/workbench/lib/store"
	"github.com/bureau-foundation/workbench/lib/testutil"
	"github.com/bureau-foundation/workbench/lib/workspace"
	"github.com/bureau-foundation/workbench/sandbox"
	"github.com/bureau-foundation/workbench/scheduler"
)

type recordingCapturer struct {
	mu   sync.Mutex
	jobs []string

	// When set, Capture signals entered and then blocks until release
	// closes.
	entered chan struct{}
	release chan struct{}
}

func (c *recordingCapturer) Capture(_ context.Context, job schema.Job, _ schema.Project) ([]schema.Artifact, error) {
	if c.entered != nil {
		c.entered <- struct{}{}
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job.ID)
	return nil, nil
}

func (c *recordingCapturer) captured() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.jobs...)
}

type fixture struct {
	scheduler *scheduler.Scheduler
	store     *store.Store
	capturer  *recordingCapturer
	layout    workspace.Layout
	project   schema.Project
	scripts   string
}

func newFixture(t *testing.T, batchSize int) *fixture {
	t.Helper()
	root := t.TempDir()
	ctx := context.Background()

	records, err := store.Open(ctx, store.Config{
		Path:   filepath.Join(root, "workbench.db"),
		Clock:  clock.Real(),
		Logger: testutil.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { records.Close() })

	f := &fixture{
		store:    records,
		capturer: &recordingCapturer{},
		layout: workspace.Layout{
			UsersRoot:     filepath.Join(root, "users"),
			ArtifactsRoot: filepath.Join(root, "artifacts"),
			JobLogs:       filepath.Join(root, "logs"),
		},
		scripts: filepath.Join(root, "scripts"),
	}
	f.project = schema.Project{
		ID:       "project-1",
		OwnerID:  "tenant-1",
		Name:     "demo",
		Type:     schema.ProjectFlutter,
		RootPath: f.layout.ProjectPath("tenant-1", "project-1"),
	}
	for _, directory := range []string{f.project.RootPath, f.scripts} {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := records.CreateProject(ctx, f.project); err != nil {
		t.Fatal(err)
	}

	s, err := scheduler.New(scheduler.Config{
		Jobs:         records,
		Projects:     records,
		Artifacts:    f.capturer,
		Sandbox:      &sandbox.Builder{},
		Layout:       f.layout,
		ScriptsDir:   f.scripts,
		PollInterval: 20 * time.Millisecond,
		BatchSize:    batchSize,
		CancelGrace:  200 * time.Millisecond,
		Clock:        clock.Real(),
		Logger:       testutil.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	f.scheduler = s
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return f
}

func (f *fixture) enqueue(t *testing.T, id string, jobType schema.JobType, command string) {
	t.Helper()
	err := f.store.CreateJob(context.Background(), schema.Job{
		ID:        id,
		ProjectID: f.project.ID,
		OwnerID:   f.project.OwnerID,
		Type:      jobType,
		Command:   command,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) job(t *testing.T, id string) schema.Job {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func (f *fixture) waitForStatus(t *testing.T, id string, status schema.JobStatus) schema.Job {
	t.Helper()
	var job schema.Job
	testutil.Eventually(t, 10*time.Second, func() bool {
		job = f.job(t, id)
		return job.Status == status
	}, "job %s never reached %s", id, status)
	return job
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading job log: %v", err)
	}
	return string(data)
}

func TestSuccessfulJob(t *testing.T) {
	f := newFixture(t, 5)
	f.enqueue(t, "job-ok", schema.JobCustom, "echo hello from job")

	if launched := f.scheduler.Poll(context.Background()); launched != 1 {
		t.Fatalf("Poll launched %d jobs, want 1", launched)
	}
	f.scheduler.Wait()

	job := f.job(t, "job-ok")
	if job.Status != schema.StatusSuccess {
		t.Fatalf("Status = %s, want success", job.Status)
	}
	if job.PID != nil {
		t.Errorf("finished job still has pid %d", *job.PID)
	}
	if job.StartedAt == nil || job.FinishedAt == nil {
		t.Errorf("timestamps missing: started %v finished %v", job.StartedAt, job.FinishedAt)
	}
	if job.LogPath != f.layout.JobLog("job-ok") {
		t.Errorf("LogPath = %s", job.LogPath)
	}
	if output := readLog(t, job.LogPath); !strings.Contains(output, "hello from job") {
		t.Errorf("log = %q", output)
	}
	if captured := f.capturer.captured(); len(captured) != 0 {
		t.Errorf("capture ran for a custom job: %v", captured)
	}
}

func TestFailingJob(t *testing.T) {
	f := newFixture(t, 5)
	f.enqueue(t, "job-bad", schema.JobCustom, "exit 3")
	f.scheduler.Poll(context.Background())
	f.scheduler.Wait()

	if job := f.job(t, "job-bad"); job.Status != schema.StatusFailed || job.PID != nil {
		t.Errorf("job = %+v, want failed without pid", job)
	}
}

func TestRejectedCommandNeverRuns(t *testing.T) {
	f := newFixture(t, 5)
	marker := filepath.Join(f.project.RootPath, "ran")
	f.enqueue(t, "job-evil", schema.JobCustom, "touch "+marker+"; echo pwned")
	f.scheduler.Poll(context.Background())
	f.scheduler.Wait()

	job := f.job(t, "job-evil")
	if job.Status != schema.StatusFailed {
		t.Fatalf("Status = %s, want failed", job.Status)
	}
	if job.StartedAt != nil {
		t.Error("rejected job has a start time")
	}
	if _, err := os.Stat(marker); err == nil {
		t.Error("rejected command ran")
	}
	if output := readLog(t, job.LogPath); !strings.Contains(output, "ERROR: ") || !strings.Contains(output, "disallowed pattern") {
		t.Errorf("log = %q", output)
	}
}

func TestMissingProject(t *testing.T) {
	f := newFixture(t, 5)
	err := f.store.CreateJob(context.Background(), schema.Job{
		ID: "job-orphan", ProjectID: "gone", OwnerID: "tenant-1", Type: schema.JobTest,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.scheduler.Poll(context.Background())
	f.scheduler.Wait()

	job := f.job(t, "job-orphan")
	if job.Status != schema.StatusFailed {
		t.Fatalf("Status = %s, want failed", job.Status)
	}
	if output := readLog(t, job.LogPath); !strings.Contains(output, "ERROR: project not found") {
		t.Errorf("log = %q", output)
	}
}

func TestBuildJobTriggersCapture(t *testing.T) {
	f := newFixture(t, 5)
	script := "#!/bin/sh\necho building in $(pwd)\n"
	if err := os.WriteFile(filepath.Join(f.scripts, "build_flutter_web.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	f.enqueue(t, "job-build", schema.JobBuildWeb, "")
	f.scheduler.Poll(context.Background())
	f.scheduler.Wait()

	if job := f.job(t, "job-build"); job.Status != schema.StatusSuccess {
		t.Fatalf("Status = %s, log: %s", job.Status, readLog(t, job.LogPath))
	}
	if captured := f.capturer.captured(); len(captured) != 1 || captured[0] != "job-build" {
		t.Errorf("captured = %v", captured)
	}
}

func TestFailedBuildSkipsCapture(t *testing.T) {
	f := newFixture(t, 5)
	// No build script exists, so bash fails.
	f.enqueue(t, "job-build", schema.JobBuildAPK, "")
	f.scheduler.Poll(context.Background())
	f.scheduler.Wait()

	if job := f.job(t, "job-build"); job.Status != schema.StatusFailed {
		t.Fatalf("Status = %s", job.Status)
	}
	if captured := f.capturer.captured(); len(captured) != 0 {
		t.Errorf("captured = %v", captured)
	}
}

func TestCancelRunningJob(t *testing.T) {
	f := newFixture(t, 5)
	f.enqueue(t, "job-long", schema.JobCustom, "sleep 30")
	f.scheduler.Poll(context.Background())

	running := f.waitForStatus(t, "job-long", schema.StatusRunning)
	if running.PID == nil {
		t.Fatal("running job has no pid")
	}

	cancelled, err := f.scheduler.Cancel(context.Background(), "job-long")
	if err != nil || !cancelled {
		t.Fatalf("Cancel = %v, %v", cancelled, err)
	}
	f.scheduler.Wait()

	job := f.job(t, "job-long")
	if job.Status != schema.StatusCancelled || job.PID != nil {
		t.Errorf("job = %+v, want cancelled without pid", job)
	}
	if f.scheduler.Running() != 0 {
		t.Errorf("Running = %d after cancel", f.scheduler.Running())
	}

	// Cancelling a terminal job is a no-op.
	if again, err := f.scheduler.Cancel(context.Background(), "job-long"); err != nil || again {
		t.Errorf("second Cancel = %v, %v", again, err)
	}
}

func TestCancelAfterExitKeepsOutcome(t *testing.T) {
	f := newFixture(t, 5)
	f.capturer.entered = make(chan struct{}, 1)
	f.capturer.release = make(chan struct{})
	if err := os.WriteFile(filepath.Join(f.scripts, "build_flutter_web.sh"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	f.enqueue(t, "job-build", schema.JobBuildWeb, "")
	f.scheduler.Poll(context.Background())

	// The process has exited and capture is in progress.
	testutil.RequireReceive(t, f.capturer.entered, 10*time.Second, "capture start")
	cancelled, err := f.scheduler.Cancel(context.Background(), "job-build")
	close(f.capturer.release)
	if err != nil || cancelled {
		t.Errorf("Cancel during capture = %v, %v; want false", cancelled, err)
	}
	f.scheduler.Wait()

	if job := f.job(t, "job-build"); job.Status != schema.StatusSuccess {
		t.Errorf("Status = %s, want success", job.Status)
	}
}

func TestUnopenableLogRejectsJob(t *testing.T) {
	f := newFixture(t, 5)
	f.enqueue(t, "job-nolog", schema.JobCustom, "echo hi")
	// A directory where the log file belongs makes the open fail.
	if err := os.MkdirAll(f.layout.JobLog("job-nolog"), 0o755); err != nil {
		t.Fatal(err)
	}
	f.scheduler.Poll(context.Background())
	f.scheduler.Wait()

	job := f.job(t, "job-nolog")
	if job.Status != schema.StatusFailed || job.StartedAt != nil {
		t.Fatalf("job = %+v, want failed before start", job)
	}
	if job.LogPath != f.layout.JobLog("job-nolog") || job.FinishedAt == nil {
		t.Errorf("rejection not recorded: %+v", job)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t, 5)
	f.enqueue(t, "job-waiting", schema.JobCustom, "echo never")

	cancelled, err := f.scheduler.Cancel(context.Background(), "job-waiting")
	if err != nil || !cancelled {
		t.Fatalf("Cancel = %v, %v", cancelled, err)
	}
	if launched := f.scheduler.Poll(context.Background()); launched != 0 {
		t.Errorf("Poll launched %d cancelled jobs", launched)
	}
	if job := f.job(t, "job-waiting"); job.Status != schema.StatusCancelled {
		t.Errorf("Status = %s", job.Status)
	}
	if unknown, _ := f.scheduler.Cancel(context.Background(), "no-such-job"); unknown {
		t.Error("Cancel reported success for an unknown job")
	}
}

func TestBatchSizeCapsConcurrency(t *testing.T) {
	f := newFixture(t, 2)
	for _, id := range []string{"a", "b", "c"} {
		f.enqueue(t, id, schema.JobCustom, "sleep 30")
	}
	if launched := f.scheduler.Poll(context.Background()); launched != 2 {
		t.Fatalf("Poll launched %d, want 2", launched)
	}
	f.waitForStatus(t, "a", schema.StatusRunning)
	f.waitForStatus(t, "b", schema.StatusRunning)
	if launched := f.scheduler.Poll(context.Background()); launched != 0 {
		t.Errorf("second Poll launched %d with the batch full", launched)
	}
	if job := f.job(t, "c"); job.Status != schema.StatusQueued {
		t.Errorf("c Status = %s, want queued", job.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.scheduler.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if job := f.job(t, id); job.Status != schema.StatusCancelled || job.PID != nil {
			t.Errorf("%s after shutdown = %+v", id, job)
		}
	}
	if launched := f.scheduler.Poll(context.Background()); launched != 0 {
		t.Errorf("Poll after Shutdown launched %d", launched)
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	f := newFixture(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.scheduler.Run(ctx) }()

	f.enqueue(t, "job-late", schema.JobCustom, "true")
	f.waitForStatus(t, "job-late", schema.StatusSuccess)

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Run did not return"); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestRecoverFailsOrphans(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	f.enqueue(t, "job-orphan", schema.JobCustom, "true")
	logPath := f.layout.JobLog("job-orphan")
	if _, err := f.store.MarkRunning(ctx, "job-orphan", logPath, 999999); err != nil {
		t.Fatal(err)
	}

	recovered, err := f.scheduler.Recover(ctx)
	if err != nil || recovered != 1 {
		t.Fatalf("Recover = %d, %v", recovered, err)
	}
	job := f.job(t, "job-orphan")
	if job.Status != schema.StatusFailed || job.PID != nil {
		t.Errorf("job = %+v", job)
	}
	if output := readLog(t, logPath); !strings.Contains(output, "ERROR: engine restarted while job was running") {
		t.Errorf("log = %q", output)
	}
}
