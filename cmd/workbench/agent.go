// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/workbench/lib/agentdriver"
)

func agentCommand() *command {
	var request agentdriver.Request
	const usage = "agent <tenant> [--project ID] [--continue] [--model NAME] <message>"
	return &command{
		Summary: "Send a message to a tenant's coding agent and stream the reply",
		Usage:   usage,
		Flags: func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&request.ProjectID, "project", "", "run inside this project directory")
			flagSet.BoolVar(&request.Continue, "continue", false, "resume the tenant's most recent conversation")
			flagSet.StringVar(&request.Model, "model", "", "agent model (default: agent.model from the config)")
		},
		Run: func(ctx context.Context, env *environment, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("tenant and message are required\n\nusage: workbench %s", usage)
			}
			request.TenantID = args[0]
			request.Message = strings.Join(args[1:], " ")

			e, err := env.open(ctx)
			if err != nil {
				return err
			}
			events := e.Agent.Stream(ctx, request)
			if file, ok := env.stdout.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
				return printEvents(events, env.stdout, env.stderr)
			}
			return writeEventLines(events, env.stdout)
		},
	}
}

// writeEventLines writes each event as one JSON line.
func writeEventLines(events <-chan agentdriver.Event, w io.Writer) error {
	encoder := json.NewEncoder(w)
	var failure error
	for event := range events {
		if err := encoder.Encode(event); err != nil {
			return err
		}
		if event.Kind == agentdriver.EventError {
			failure = errors.New(event.Message)
		}
	}
	return failure
}

// printEvents renders the stream for a person: reply text on stdout,
// tool activity and the closing summary on stderr.
func printEvents(events <-chan agentdriver.Event, stdout, stderr io.Writer) error {
	var failure error
	for event := range events {
		switch event.Kind {
		case agentdriver.EventText:
			fmt.Fprint(stdout, event.Text)
		case agentdriver.EventActivity:
			switch event.Activity.Type {
			case agentdriver.ActivityToolStart:
				fmt.Fprintf(stderr, "\n[%s]\n", event.Activity.Tool)
			case agentdriver.ActivityToolCall:
				fmt.Fprintf(stderr, "[%s %s]\n", event.Activity.Tool, event.Activity.Input)
			}
		case agentdriver.EventDone:
			fmt.Fprintln(stdout)
			for _, path := range event.FilesModified {
				fmt.Fprintf(stderr, "modified: %s\n", path)
			}
			for _, suggestion := range event.SuggestedCommands {
				fmt.Fprintf(stderr, "suggested: %s\n", suggestion)
			}
		case agentdriver.EventError:
			failure = errors.New(event.Message)
		}
	}
	return failure
}
