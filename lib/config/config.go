// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads workbench configuration.
//
// Configuration comes from a single YAML file named by the --config
// flag or the WORKBENCH_CONFIG environment variable. There is no search
// path and no implicit discovery. Path values may reference
// ${WORKBENCH_ROOT}, ${HOME}, or ${VAR:-default}.
//
// A file may carry development, staging, and production sections that
// override the base values when the environment matches. Production
// refuses to load with sandbox.require_isolation disabled.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/workbench/lib/workspace"
)

// Environment is the deployment type.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "WORKBENCH_CONFIG"

// Config is the full workbench configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths     PathsConfig     `yaml:"paths"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Identity  IdentityConfig  `yaml:"identity"`
	Agent     AgentConfig     `yaml:"agent"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides are the fields an environment section may replace. Nil
// pointers leave the base value alone.
type Overrides struct {
	Sandbox *struct {
		RequireIsolation *bool `yaml:"require_isolation"`
		IsolateNetwork   *bool `yaml:"isolate_network"`
	} `yaml:"sandbox,omitempty"`
	Identity *struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"identity,omitempty"`
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// PathsConfig locates the directories the engine reads and writes.
type PathsConfig struct {
	// Root is the base for every other default path.
	Root string `yaml:"root"`

	// Users holds one directory per tenant: <users>/<tenant>/workspace.
	Users string `yaml:"users"`

	// Artifacts holds one directory per tenant of captured outputs.
	Artifacts string `yaml:"artifacts"`

	// JobLogs holds <job id>.log files.
	JobLogs string `yaml:"job_logs"`

	// Scripts holds build_flutter_apk.sh and build_flutter_web.sh.
	// Mounted read-only into build jails.
	Scripts string `yaml:"scripts"`

	// Database is the SQLite record store.
	Database string `yaml:"database"`
}

// SchedulerConfig tunes the job poll loop.
type SchedulerConfig struct {
	PollInterval Duration `yaml:"poll_interval"`

	// BatchSize caps concurrently running jobs.
	BatchSize int `yaml:"batch_size"`

	// CancelGrace is the wait between SIGTERM and SIGKILL.
	CancelGrace Duration `yaml:"cancel_grace"`
}

// SandboxConfig controls process isolation.
type SandboxConfig struct {
	// RequireIsolation refuses to run anything when no jail tool is
	// installed.
	RequireIsolation bool `yaml:"require_isolation"`

	// IsolateNetwork removes network access from job processes. The
	// agent always keeps network access.
	IsolateNetwork bool `yaml:"isolate_network"`
}

// IdentityConfig controls per-tenant OS accounts.
type IdentityConfig struct {
	Enabled        bool   `yaml:"enabled"`
	MinUID         int    `yaml:"min_uid"`
	MaxUID         int    `yaml:"max_uid"`
	UsernamePrefix string `yaml:"username_prefix"`
	Shell          string `yaml:"shell"`
	PasswdFile     string `yaml:"passwd_file"`
	GroupFile      string `yaml:"group_file"`

	// Escalate prefixes every account-management command. Empty when
	// the engine already runs as root.
	Escalate []string `yaml:"escalate"`
}

// AgentConfig configures the coding agent binary.
type AgentConfig struct {
	Binary  string   `yaml:"binary"`
	Timeout Duration `yaml:"timeout"`
	Model   string   `yaml:"model"`
}

// WatchConfig configures file-change fan-out.
type WatchConfig struct {
	// QueueSize is the per-listener event buffer.
	QueueSize int `yaml:"queue_size"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a time.Duration written as a Go duration string ("2s").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML parses "500ms", "2s", "5m".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the built-in configuration with paths expanded.
func Default() *Config {
	cfg := defaults()
	cfg.expandVariables()
	return cfg
}

func defaults() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      "${WORKBENCH_ROOT:-/var/lib/workbench}",
			Users:     "${WORKBENCH_ROOT}/users",
			Artifacts: "${WORKBENCH_ROOT}/data/artifacts",
			JobLogs:   "${WORKBENCH_ROOT}/data/logs/jobs",
			Scripts:   "/usr/share/workbench/scripts",
			Database:  "${WORKBENCH_ROOT}/data/workbench.db",
		},
		Scheduler: SchedulerConfig{
			PollInterval: Duration(2 * time.Second),
			BatchSize:    5,
			CancelGrace:  Duration(500 * time.Millisecond),
		},
		Sandbox: SandboxConfig{
			RequireIsolation: true,
		},
		Identity: IdentityConfig{
			Enabled:        true,
			MinUID:         10000,
			MaxUID:         60000,
			UsernamePrefix: "wb_",
			Shell:          "/usr/sbin/nologin",
			PasswdFile:     "/etc/passwd",
			GroupFile:      "/etc/group",
			Escalate:       []string{"sudo"},
		},
		Agent: AgentConfig{
			Binary:  "claude",
			Timeout: Duration(300 * time.Second),
		},
		Watch: WatchConfig{
			QueueSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the file named by WORKBENCH_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set (pass --config or export %s)", EnvVar, EnvVar)
	}
	return LoadFile(path)
}

// LoadFile reads, overrides, expands, and validates the file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Sandbox != nil {
		if overrides.Sandbox.RequireIsolation != nil {
			c.Sandbox.RequireIsolation = *overrides.Sandbox.RequireIsolation
		}
		if overrides.Sandbox.IsolateNetwork != nil {
			c.Sandbox.IsolateNetwork = *overrides.Sandbox.IsolateNetwork
		}
	}
	if overrides.Identity != nil && overrides.Identity.Enabled != nil {
		c.Identity.Enabled = *overrides.Identity.Enabled
	}
	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["WORKBENCH_ROOT"] = c.Paths.Root

	c.Paths.Users = expandVars(c.Paths.Users, vars)
	c.Paths.Artifacts = expandVars(c.Paths.Artifacts, vars)
	c.Paths.JobLogs = expandVars(c.Paths.JobLogs, vars)
	c.Paths.Scripts = expandVars(c.Paths.Scripts, vars)
	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Identity.PasswdFile = expandVars(c.Identity.PasswdFile, vars)
	c.Identity.GroupFile = expandVars(c.Identity.GroupFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${NAME} and ${NAME:-default}. Explicit vars win
// over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Environment == Production && !c.Sandbox.RequireIsolation {
		errs = append(errs, errors.New("production requires sandbox.require_isolation"))
	}

	for name, value := range map[string]string{
		"paths.users":     c.Paths.Users,
		"paths.artifacts": c.Paths.Artifacts,
		"paths.job_logs":  c.Paths.JobLogs,
		"paths.database":  c.Paths.Database,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	if c.Scheduler.PollInterval <= 0 {
		errs = append(errs, errors.New("scheduler.poll_interval must be positive"))
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("scheduler.batch_size must be positive"))
	}
	if c.Scheduler.CancelGrace < 0 {
		errs = append(errs, errors.New("scheduler.cancel_grace must not be negative"))
	}

	if c.Identity.Enabled {
		if c.Identity.MinUID < 1000 || c.Identity.MaxUID <= c.Identity.MinUID {
			errs = append(errs, fmt.Errorf("identity uid range [%d, %d) is invalid", c.Identity.MinUID, c.Identity.MaxUID))
		}
		if c.Identity.UsernamePrefix == "" {
			errs = append(errs, errors.New("identity.username_prefix is required"))
		}
	}

	if c.Agent.Binary == "" {
		errs = append(errs, errors.New("agent.binary is required"))
	}
	if c.Agent.Timeout <= 0 {
		errs = append(errs, errors.New("agent.timeout must be positive"))
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// Layout returns the tenant filesystem layout described by Paths.
func (c *Config) Layout() workspace.Layout {
	return workspace.Layout{
		UsersRoot:     c.Paths.Users,
		ArtifactsRoot: c.Paths.Artifacts,
		JobLogs:       c.Paths.JobLogs,
	}
}

// NewLogger builds the slog handler selected by the logging section.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	options := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, options))
	}
	return slog.New(slog.NewTextHandler(w, options))
}
