// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/workbench/lib/agentdriver"
	"github.com/bureau-foundation/workbench/lib/schema"
	"github.com/bureau-foundation/workbench/lib/workspace"
)

func capabilitiesCommand() *command {
	var outputJSON bool
	return &command{
		Summary: "Report isolation and identity support on this host",
		Usage:   "capabilities [--json]",
		Flags: func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
		},
		Run: func(ctx context.Context, env *environment, args []string) error {
			if err := requireArgs(args, 0, "capabilities [--json]"); err != nil {
				return err
			}
			e, err := env.open(ctx)
			if err != nil {
				return err
			}
			capabilities := e.Identities.CheckCapabilities()
			if outputJSON {
				return writeJSON(env, capabilities)
			}
			fmt.Fprintf(env.stdout, "identities:     %t\n", capabilities.Identities)
			fmt.Fprintf(env.stdout, "jail:           %t\n", capabilities.Jail)
			fmt.Fprintf(env.stdout, "privilege drop: %t\n", capabilities.PrivilegeDrop)
			for _, line := range e.Available.Describe() {
				fmt.Fprintf(env.stdout, "  %s\n", line)
			}
			return nil
		},
	}
}

func provisionCommand() *command {
	return &command{
		Summary: "Allocate a system identity for a tenant",
		Usage:   "provision <tenant>",
		Run: func(ctx context.Context, env *environment, args []string) error {
			if err := requireArgs(args, 1, "provision <tenant>"); err != nil {
				return err
			}
			e, err := env.open(ctx)
			if err != nil {
				return err
			}
			if err := e.Store.CreateTenant(ctx, args[0]); err != nil {
				return err
			}
			identity, err := e.Identities.Provision(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(env.stdout, "%s uid=%d gid=%d\n", identity.Username, identity.UID, identity.GID)
			return nil
		},
	}
}

func deprovisionCommand() *command {
	return &command{
		Summary: "Remove a tenant's system identity",
		Usage:   "deprovision <tenant>",
		Run: func(ctx context.Context, env *environment, args []string) error {
			if err := requireArgs(args, 1, "deprovision <tenant>"); err != nil {
				return err
			}
			e, err := env.open(ctx)
			if err != nil {
				return err
			}
			return e.Identities.Deprovision(ctx, args[0])
		},
	}
}

func projectAddCommand() *command {
	var (
		name        string
		projectType string
	)
	const usage = "project-add <tenant> <project> [--name NAME] [--type TYPE]"
	return &command{
		Summary: "Register a project directory in a tenant workspace",
		Usage:   usage,
		Flags: func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&name, "name", "", "display name (default: the project id)")
			flagSet.StringVar(&projectType, "type", string(schema.ProjectOther), "project type (flutter, web, node, python, other)")
		},
		Run: func(ctx context.Context, env *environment, args []string) error {
			if err := requireArgs(args, 2, usage); err != nil {
				return err
			}
			tenantID, projectID := args[0], args[1]
			for _, id := range args {
				if err := workspace.ValidateID(id); err != nil {
					return err
				}
			}
			e, err := env.open(ctx)
			if err != nil {
				return err
			}
			if err := e.Layout.EnsureTenant(tenantID); err != nil {
				return err
			}
			if err := e.Store.CreateTenant(ctx, tenantID); err != nil {
				return err
			}
			root := e.Layout.ProjectPath(tenantID, projectID)
			if err := os.MkdirAll(root, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", root, err)
			}
			if name == "" {
				name = projectID
			}
			if err := e.Store.CreateProject(ctx, schema.Project{
				ID:       projectID,
				OwnerID:  tenantID,
				Name:     name,
				Type:     schema.ProjectType(projectType),
				RootPath: root,
			}); err != nil {
				return err
			}
			fmt.Fprintln(env.stdout, root)
			return nil
		},
	}
}

func pluginsCommand() *command {
	var outputJSON bool
	return &command{
		Summary: "List the agent tool servers configured for a tenant",
		Usage:   "plugins <tenant> [--json]",
		Flags: func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
		},
		Run: func(ctx context.Context, env *environment, args []string) error {
			if err := requireArgs(args, 1, "plugins <tenant> [--json]"); err != nil {
				return err
			}
			if err := workspace.ValidateID(args[0]); err != nil {
				return err
			}
			cfg, err := env.loadConfig()
			if err != nil {
				return err
			}
			plugins, err := agentdriver.ListPlugins(cfg.Layout().AgentConfigDir(args[0]))
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(env, plugins)
			}
			if len(plugins) == 0 {
				fmt.Fprintln(env.stdout, "no plugins configured")
				return nil
			}
			writer := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "NAME\tENABLED\tCOMMAND")
			for _, plugin := range plugins {
				fmt.Fprintf(writer, "%s\t%t\t%s\n", plugin.Name, plugin.Enabled, plugin.Command)
			}
			return writer.Flush()
		},
	}
}

func writeJSON(env *environment, value any) error {
	encoder := json.NewEncoder(env.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
