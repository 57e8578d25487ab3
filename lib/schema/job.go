// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"strconv"
	"time"
)

// JobType is the closed set of work the scheduler knows how to run.
type JobType string

const (
	JobBuildAPK  JobType = "build_apk"
	JobBuildWeb  JobType = "build_web"
	JobTest      JobType = "test"
	JobDevServer JobType = "dev_server"
	JobCustom    JobType = "custom"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobBuildAPK, JobBuildWeb, JobTest, JobDevServer, JobCustom:
		return true
	}
	return false
}

// IsBuild reports whether successful jobs of this type produce
// artifacts to capture.
func (t JobType) IsBuild() bool {
	return t == JobBuildAPK || t == JobBuildWeb
}

// JobStatus is a job's position in its lifecycle.
//
//	queued -> running -> {success, failed, cancelled}
//	queued -> {failed, cancelled}
//
// The second edge covers jobs that fail validation or are cancelled
// before the scheduler claims them. Nothing leaves a terminal status.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSuccess   JobStatus = "success"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether the job is queued or running.
func (s JobStatus) IsActive() bool {
	return s == StatusQueued || s == StatusRunning
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusFailed || next == StatusCancelled
	case StatusRunning:
		return next.IsTerminal()
	}
	return false
}

// Job is one unit of queued work.
type Job struct {
	ID        string
	ProjectID string
	OwnerID   string
	Type      JobType
	Status    JobStatus

	// Command is the shell command for JobCustom. Ignored otherwise.
	Command string

	LogPath string

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	// PID is set only while Status is StatusRunning.
	PID *int

	Metadata map[string]any
}

// MetadataPort returns metadata["port"] as a TCP port, or fallback
// when the key is absent. Numbers and numeric strings are accepted.
func (j *Job) MetadataPort(fallback int) (int, error) {
	raw, ok := j.Metadata["port"]
	if !ok || raw == nil {
		return fallback, nil
	}

	var port int
	switch value := raw.(type) {
	case int:
		port = value
	case int64:
		port = int(value)
	case uint64:
		port = int(value)
	case float64:
		if value != float64(int(value)) {
			return 0, fmt.Errorf("port %v is not an integer", value)
		}
		port = int(value)
	case string:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("port %q is not a number", value)
		}
		port = parsed
	default:
		return 0, fmt.Errorf("port has unsupported type %T", raw)
	}

	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}
