// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture collects build outputs into tenant artifact storage
// after a successful build job.
//
// Each build job type has a fixed list of output locations relative to
// the project root. A file is copied under a generated name; a
// directory is archived as a zip. Every stored file gets an artifact
// row with its size and BLAKE3 digest. Outputs that are symlinks or
// resolve outside the project root are refused, and symlinks inside an
// archived directory are skipped. Entries are independent: a
// missing output is skipped, and a failing one is logged and removed
// without stopping the rest.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bureau-foundation/workbench/lib/clock"
	"github.com/bureau-foundation/workbench/lib/schema"
	"github.com/bureau-foundation/workbench/lib/workspace"
)

// ErrOutsideProject reports a build output that is a symlink or
// resolves outside the project root. Such outputs are never captured.
var ErrOutsideProject = errors.New("capture: output escapes the project root")

// Output is one location a build may produce.
type Output struct {
	Path  string
	Kind  schema.ArtifactKind
	Label string
}

// Outputs maps build job types to the locations captured after they
// succeed. Types absent from the table capture nothing.
var Outputs = map[schema.JobType][]Output{
	schema.JobBuildAPK: {
		{Path: "build/app/outputs/flutter-apk/app-release.apk", Kind: schema.ArtifactAPK, Label: "Release APK"},
		{Path: "build/app/outputs/flutter-apk/app-debug.apk", Kind: schema.ArtifactAPK, Label: "Debug APK"},
		{Path: "build/app/outputs/bundle/release/app-release.aab", Kind: schema.ArtifactAAB, Label: "Release App Bundle"},
	},
	schema.JobBuildWeb: {
		{Path: "build/web", Kind: schema.ArtifactWebBuild, Label: "Web Build"},
	},
}

// ArtifactStore records captured artifacts.
type ArtifactStore interface {
	InsertArtifact(ctx context.Context, artifact schema.Artifact) error
}

// Config configures a Capturer. Store, Clock, and Logger are required.
type Config struct {
	Store  ArtifactStore
	Layout workspace.Layout
	Clock  clock.Clock
	Logger *slog.Logger

	// NewID generates artifact ids and file name stems. Defaults to
	// random UUIDs.
	NewID func() string
}

// Capturer stores build outputs. Safe for concurrent use; every
// stored file has a unique generated name.
type Capturer struct {
	store  ArtifactStore
	layout workspace.Layout
	clock  clock.Clock
	logger *slog.Logger
	newID  func() string
}

// New validates cfg.
func New(cfg Config) (*Capturer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("capture: Store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("capture: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("capture: Logger is required")
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Capturer{
		store:  cfg.Store,
		layout: cfg.Layout,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		newID:  newID,
	}, nil
}

// Capture stores every output the job's type declares that exists
// under the project root. It returns the recorded artifacts and the
// joined per-entry failures; a failure never prevents later entries
// from being captured.
func (c *Capturer) Capture(ctx context.Context, job schema.Job, project schema.Project) ([]schema.Artifact, error) {
	outputs := Outputs[job.Type]
	if len(outputs) == 0 {
		return nil, nil
	}
	destination := c.layout.ArtifactsDir(job.OwnerID)
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return nil, fmt.Errorf("capture: creating %s: %w", destination, err)
	}

	var artifacts []schema.Artifact
	var failures []error
	for _, output := range outputs {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		source := filepath.Join(project.RootPath, filepath.FromSlash(output.Path))
		info, err := os.Lstat(source)
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("build output absent", "job_id", job.ID, "path", output.Path)
			continue
		}
		if err != nil {
			failures = append(failures, c.logFailure(job, output, err))
			continue
		}
		resolved, err := confine(project.RootPath, source, info)
		if err != nil {
			failures = append(failures, c.logFailure(job, output, err))
			continue
		}

		artifact, err := c.captureOne(ctx, job, output, resolved, destination, info)
		if err != nil {
			failures = append(failures, c.logFailure(job, output, err))
			continue
		}
		artifacts = append(artifacts, artifact)
		c.logger.Info("artifact captured",
			"job_id", job.ID,
			"label", artifact.Label,
			"path", artifact.FilePath,
			"size", artifact.FileSize,
		)
	}
	return artifacts, errors.Join(failures...)
}

// confine rejects an output that is a symlink, is not a regular file or
// directory, or resolves outside the project root. The build ran as
// the tenant, so any path component may have been replaced. It returns
// the resolved source path.
func confine(root, source string, info os.FileInfo) (string, error) {
	if info.Mode()&os.ModeSymlink != 0 {
		return "", ErrOutsideProject
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file or directory", source)
	}
	resolved, ok := workspace.Within(root, source)
	if !ok {
		return "", ErrOutsideProject
	}
	return resolved, nil
}

func (c *Capturer) captureOne(ctx context.Context, job schema.Job, output Output, source, destination string, info os.FileInfo) (schema.Artifact, error) {
	id := c.newID()
	var target string
	var written fileSummary
	var err error
	if info.IsDir() {
		target = filepath.Join(destination, id+".zip")
		written, err = writeArchive(target, source)
	} else {
		target = filepath.Join(destination, id+"_"+filepath.Base(source))
		written, err = copyFile(target, source, info)
	}
	if err != nil {
		os.Remove(target)
		return schema.Artifact{}, err
	}

	artifact := schema.Artifact{
		ID:        id,
		ProjectID: job.ProjectID,
		OwnerID:   job.OwnerID,
		JobID:     job.ID,
		Kind:      output.Kind,
		Label:     output.Label,
		FilePath:  target,
		FileSize:  written.size,
		Digest:    written.digest,
		CreatedAt: c.clock.Now(),
	}
	if err := c.store.InsertArtifact(ctx, artifact); err != nil {
		os.Remove(target)
		return schema.Artifact{}, err
	}
	return artifact, nil
}

func (c *Capturer) logFailure(job schema.Job, output Output, err error) error {
	c.logger.Warn("artifact capture failed", "job_id", job.ID, "path", output.Path, "error", err)
	return fmt.Errorf("capture: %s: %w", output.Path, err)
}
