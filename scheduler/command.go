// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/workbench/lib/fault"
	"github.com/bureau-foundation/workbench/lib/schema"
)

// DefaultDevServerPort is used when a dev_server job has no port in
// its metadata.
const DefaultDevServerPort = 8080

// Command is the shell command line for one job and the variables
// added to its environment.
type Command struct {
	Shell string
	Env   []string
}

// deniedFragments reject a custom command outright. The sandbox is the
// security boundary; this list only catches the obvious cases before
// a process exists.
var deniedFragments = []string{
	";", "&&", "||", "|", ">", "<", "`", "$(", "\n",
	"rm -rf", "sudo", "chmod", "chown",
}

const commandOp = "build command"

// BuildCommand maps a job and its project to the command line that
// runs it. Every rejection is a validation fault whose message is fit
// for the job log.
func BuildCommand(job schema.Job, project schema.Project, scriptsDir string) (Command, error) {
	switch job.Type {
	case schema.JobBuildAPK:
		return Command{Shell: "bash " + filepath.Join(scriptsDir, "build_flutter_apk.sh")}, nil

	case schema.JobBuildWeb:
		return Command{Shell: "bash " + filepath.Join(scriptsDir, "build_flutter_web.sh")}, nil

	case schema.JobTest:
		switch project.Type {
		case schema.ProjectFlutter:
			return Command{Shell: "flutter test"}, nil
		case schema.ProjectNode:
			return Command{Shell: "npm test"}, nil
		case schema.ProjectPython:
			return Command{Shell: "pytest"}, nil
		}
		return Command{Shell: "echo 'No test command configured'"}, nil

	case schema.JobDevServer:
		port, err := job.MetadataPort(DefaultDevServerPort)
		if err != nil {
			return Command{}, fault.Wrap(fault.Validation, commandOp, err)
		}
		portText := strconv.Itoa(port)
		env := []string{"PORT=" + portText}
		switch project.Type {
		case schema.ProjectFlutter:
			return Command{Shell: "flutter run -d web-server --web-port=" + portText, Env: env}, nil
		case schema.ProjectNode:
			return Command{Shell: "PORT=" + portText + " npm start", Env: env}, nil
		}
		return Command{}, fault.New(fault.Validation, commandOp,
			"dev server is not supported for %s projects", project.Type)

	case schema.JobCustom:
		return customCommand(job.Command)
	}
	return Command{}, fault.New(fault.Validation, commandOp, "unknown job type %q", job.Type)
}

func customCommand(command string) (Command, error) {
	if strings.TrimSpace(command) == "" {
		return Command{}, fault.New(fault.Validation, commandOp, "custom job has no command")
	}
	for _, fragment := range deniedFragments {
		if strings.Contains(command, fragment) {
			return Command{}, fault.New(fault.Validation, commandOp,
				"command contains disallowed pattern %q", fragment)
		}
	}
	return Command{Shell: command}, nil
}
