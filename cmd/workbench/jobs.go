// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workbench/lib/schema"
	"github.com/bureau-foundation/workbench/lib/store"
)

func enqueueCommand() *command {
	var (
		jobType string
		shell   string
		port    int
	)
	const usage = "enqueue <project> --type TYPE [--command CMD] [--port N]"
	return &command{
		Summary: "Queue a job for a project",
		Usage:   usage,
		Flags: func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&jobType, "type", "", "job type (build_apk, build_web, test, dev_server, custom)")
			flagSet.StringVar(&shell, "command", "", "shell command for custom jobs")
			flagSet.IntVar(&port, "port", 0, "dev server port")
		},
		Run: func(ctx context.Context, env *environment, args []string) error {
			if err := requireArgs(args, 1, usage); err != nil {
				return err
			}
			job := schema.Job{
				ID:        uuid.NewString(),
				ProjectID: args[0],
				Type:      schema.JobType(jobType),
				Command:   shell,
			}
			if !job.Type.Valid() {
				return fmt.Errorf("--type %q is not a job type", jobType)
			}
			if port != 0 {
				job.Metadata = map[string]any{"port": port}
			}

			e, err := env.open(ctx)
			if err != nil {
				return err
			}
			project, err := e.Store.GetProject(ctx, args[0])
			if err != nil {
				return err
			}
			job.OwnerID = project.OwnerID
			if err := e.Store.CreateJob(ctx, job); err != nil {
				return err
			}
			fmt.Fprintln(env.stdout, job.ID)
			return nil
		},
	}
}

func cancelCommand() *command {
	return &command{
		Summary: "Cancel a queued job",
		Usage:   "cancel <job>",
		Run: func(ctx context.Context, env *environment, args []string) error {
			if err := requireArgs(args, 1, "cancel <job>"); err != nil {
				return err
			}
			e, err := env.open(ctx)
			if err != nil {
				return err
			}
			job, err := e.Store.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			// A running job belongs to the daemon's process table; the
			// store only cancels the row while it is still queued.
			cancelled, err := e.Store.CancelQueued(ctx, job.ID)
			if err != nil {
				return err
			}
			if !cancelled {
				current, err := e.Store.GetJob(ctx, job.ID)
				if err != nil {
					return err
				}
				return fmt.Errorf("job %s is %s; only queued jobs can be cancelled from the CLI", job.ID, current.Status)
			}
			fmt.Fprintf(env.stdout, "cancelled %s\n", job.ID)
			return nil
		},
	}
}

// jobView is the JSON shape of a listed job.
type jobView struct {
	ID         string           `json:"id"`
	ProjectID  string           `json:"project_id"`
	OwnerID    string           `json:"owner_id"`
	Type       schema.JobType   `json:"type"`
	Status     schema.JobStatus `json:"status"`
	Command    string           `json:"command,omitempty"`
	LogPath    string           `json:"log_path,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	PID        *int             `json:"pid,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

func jobsCommand() *command {
	var (
		filter     store.JobFilter
		status     string
		outputJSON bool
	)
	return &command{
		Summary: "List jobs, newest first",
		Usage:   "jobs [--owner TENANT] [--project ID] [--status STATUS] [--limit N] [--json]",
		Flags: func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&filter.OwnerID, "owner", "", "only jobs owned by this tenant")
			flagSet.StringVar(&filter.ProjectID, "project", "", "only jobs for this project")
			flagSet.StringVar(&status, "status", "", "only jobs in this status")
			flagSet.IntVar(&filter.Limit, "limit", 0, "maximum jobs to list (default 100)")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
		},
		Run: func(ctx context.Context, env *environment, args []string) error {
			filter.Status = schema.JobStatus(status)
			e, err := env.open(ctx)
			if err != nil {
				return err
			}
			jobs, err := e.Store.ListJobs(ctx, filter)
			if err != nil {
				return err
			}
			if outputJSON {
				views := make([]jobView, 0, len(jobs))
				for _, job := range jobs {
					views = append(views, jobView(job))
				}
				return writeJSON(env, views)
			}
			writer := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ID\tPROJECT\tTYPE\tSTATUS\tCREATED")
			for _, job := range jobs {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
					job.ID, job.ProjectID, job.Type, job.Status, job.CreatedAt.Local().Format(time.DateTime))
			}
			return writer.Flush()
		},
	}
}
