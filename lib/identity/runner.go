// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes an account-management command.
type CommandRunner interface {
	// Run executes argv and returns its combined output. A non-zero
	// exit is reported as a *CommandError.
	Run(ctx context.Context, argv ...string) (string, error)
}

// CommandError is a command that ran and exited non-zero, or failed to
// start (ExitCode -1).
type CommandError struct {
	Argv     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	output := strings.TrimSpace(e.Output)
	if output == "" {
		return fmt.Sprintf("%s: %v", strings.Join(e.Argv, " "), e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", strings.Join(e.Argv, " "), e.Err, output)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec, never through a shell.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, argv ...string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("identity: empty command")
	}
	var output bytes.Buffer
	command := exec.CommandContext(ctx, argv[0], argv[1:]...)
	command.Stdout = &output
	command.Stderr = &output

	err := command.Run()
	if err == nil {
		return output.String(), nil
	}
	exitCode := -1
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		exitCode = exitError.ExitCode()
	}
	return output.String(), &CommandError{Argv: argv, ExitCode: exitCode, Output: output.String(), Err: err}
}

// exitedWith reports whether err is a CommandError whose exit code is
// one of codes or whose output mentions fragment.
func exitedWith(err error, fragment string, codes ...int) bool {
	var commandError *CommandError
	if !errors.As(err, &commandError) {
		return false
	}
	for _, code := range codes {
		if commandError.ExitCode == code {
			return true
		}
	}
	return strings.Contains(commandError.Output, fragment)
}
