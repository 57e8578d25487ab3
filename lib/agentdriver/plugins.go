// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdriver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/jsonc"
)

// PluginConfigFile is the agent's MCP server configuration, inside
// the tenant's agent config directory.
const PluginConfigFile = "claude_desktop_config.json"

// ErrPluginNotFound is returned when editing a server that is not
// configured.
var ErrPluginNotFound = errors.New("agentdriver: plugin not configured")

// Plugin is one configured MCP server.
type Plugin struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Enabled bool     `json:"enabled"`
}

// ListPlugins returns the MCP servers configured in configDir, sorted
// by name. A missing config file means no plugins. The file may
// contain comments and trailing commas.
func ListPlugins(configDir string) ([]Plugin, error) {
	servers, err := readServers(configDir)
	if err != nil {
		return nil, err
	}
	plugins := make([]Plugin, 0, len(servers))
	for name, raw := range servers {
		var server struct {
			Command  string   `json:"command"`
			Args     []string `json:"args"`
			Disabled bool     `json:"disabled"`
		}
		if err := json.Unmarshal(raw, &server); err != nil {
			return nil, fmt.Errorf("agentdriver: plugin %q: %w", name, err)
		}
		plugins = append(plugins, Plugin{
			Name:    name,
			Command: server.Command,
			Args:    server.Args,
			Enabled: !server.Disabled,
		})
	}
	sort.Slice(plugins, func(a, b int) bool { return plugins[a].Name < plugins[b].Name })
	return plugins, nil
}

// AddPlugin configures an MCP server, replacing any server of the same
// name. Rewriting the file drops its comments.
func AddPlugin(configDir string, plugin Plugin) error {
	if plugin.Name == "" || plugin.Command == "" {
		return fmt.Errorf("agentdriver: plugin name and command are required")
	}
	return editConfig(configDir, func(servers map[string]map[string]any) error {
		server := map[string]any{"command": plugin.Command}
		if len(plugin.Args) > 0 {
			server["args"] = plugin.Args
		}
		if !plugin.Enabled {
			server["disabled"] = true
		}
		servers[plugin.Name] = server
		return nil
	})
}

// RemovePlugin deletes an MCP server from the configuration.
func RemovePlugin(configDir, name string) error {
	return editConfig(configDir, func(servers map[string]map[string]any) error {
		if _, ok := servers[name]; !ok {
			return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
		}
		delete(servers, name)
		return nil
	})
}

// SetPluginEnabled toggles a server's disabled flag, keeping the rest
// of its entry.
func SetPluginEnabled(configDir, name string, enabled bool) error {
	return editConfig(configDir, func(servers map[string]map[string]any) error {
		server, ok := servers[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
		}
		if server == nil {
			server = map[string]any{}
			servers[name] = server
		}
		if enabled {
			delete(server, "disabled")
		} else {
			server["disabled"] = true
		}
		return nil
	})
}

func readConfig(configDir string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(filepath.Join(configDir, PluginConfigFile))
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agentdriver: reading plugin config: %w", err)
	}
	var document map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &document); err != nil {
		return nil, fmt.Errorf("agentdriver: parsing %s: %w", PluginConfigFile, err)
	}
	if document == nil {
		document = map[string]json.RawMessage{}
	}
	return document, nil
}

func readServers(configDir string) (map[string]json.RawMessage, error) {
	document, err := readConfig(configDir)
	if err != nil {
		return nil, err
	}
	servers := map[string]json.RawMessage{}
	if raw, ok := document["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &servers); err != nil {
			return nil, fmt.Errorf("agentdriver: parsing mcpServers: %w", err)
		}
	}
	return servers, nil
}

// editConfig applies edit to the mcpServers section and writes the
// file back atomically, preserving the document's other keys.
func editConfig(configDir string, edit func(servers map[string]map[string]any) error) error {
	document, err := readConfig(configDir)
	if err != nil {
		return err
	}
	servers := map[string]map[string]any{}
	if raw, ok := document["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &servers); err != nil {
			return fmt.Errorf("agentdriver: parsing mcpServers: %w", err)
		}
	}
	if err := edit(servers); err != nil {
		return err
	}
	encoded, err := json.Marshal(servers)
	if err != nil {
		return err
	}
	document["mcpServers"] = encoded

	output, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("agentdriver: creating %s: %w", configDir, err)
	}
	path := filepath.Join(configDir, PluginConfigFile)
	temporary := path + ".tmp"
	if err := os.WriteFile(temporary, append(output, '\n'), 0o644); err != nil {
		return fmt.Errorf("agentdriver: writing plugin config: %w", err)
	}
	if err := os.Rename(temporary, path); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("agentdriver: writing plugin config: %w", err)
	}
	return nil
}
