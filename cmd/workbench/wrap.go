// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workbench/sandbox"
)

func wrapCommand() *command {
	var (
		request sandbox.Request
		uid     int
		gid     int
	)
	const usage = "wrap [--rw PATH]... [--ro PATH]... [--workdir PATH] [--uid N --gid N] [--isolate-network] -- <command> [args...]"
	return &command{
		Summary: "Print the sandboxed form of a command without running it",
		Usage:   usage,
		Flags: func(flagSet *pflag.FlagSet) {
			flagSet.StringArrayVar(&request.ReadWrite, "rw", nil, "writable path inside the jail (repeatable)")
			flagSet.StringArrayVar(&request.ReadOnly, "ro", nil, "read-only path inside the jail (repeatable)")
			flagSet.StringVar(&request.WorkDir, "workdir", "", "working directory inside the jail")
			flagSet.IntVar(&uid, "uid", -1, "run as this uid")
			flagSet.IntVar(&gid, "gid", -1, "run as this gid (default: the uid)")
			flagSet.BoolVar(&request.IsolateNetwork, "isolate-network", false, "remove network access")
		},
		Run: func(ctx context.Context, env *environment, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("command is required\n\nusage: workbench %s", usage)
			}
			request.Command = args
			if uid >= 0 {
				if gid < 0 {
					gid = uid
				}
				request.RunAs = &sandbox.RunAs{UID: uid, GID: gid}
			}

			cfg, err := env.loadConfig()
			if err != nil {
				return err
			}
			builder := &sandbox.Builder{
				Available:        sandbox.Detector{Escalate: cfg.Identity.Escalate}.Detect(),
				RequireIsolation: cfg.Sandbox.RequireIsolation,
				Escalate:         cfg.Identity.Escalate,
			}
			wrapped, err := builder.Build(request)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.stderr, "primitive: %s\n", wrapped.Primitive)
			if wrapped.IdentityIgnored {
				fmt.Fprintln(env.stderr, "warning: no privilege-drop tool; the identity would be ignored")
			}
			fmt.Fprintln(env.stdout, strings.Join(wrapped.Args, " "))
			return nil
		},
	}
}
