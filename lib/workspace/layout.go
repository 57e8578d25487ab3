// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workspace maps tenants and projects onto the host
// filesystem.
//
//	<users>/<tenant>/workspace/               tenant workspace (jail root)
//	<users>/<tenant>/workspace/projects/<id>  project trees
//	<users>/<tenant>/workspace/.claude/       agent config and credential
//	<users>/<tenant>/tmp/
//	<artifacts>/<tenant>/                     captured build outputs
//	<job logs>/<job id>.log
//
// Tenant and project ids become path components, so they are checked
// for separators and dot segments before use.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CredentialFile is the name of the agent API key file inside the
// agent config directory.
const CredentialFile = "credentials"

// Layout is the set of roots every per-tenant path derives from.
type Layout struct {
	UsersRoot     string
	ArtifactsRoot string
	JobLogs       string
}

// ValidateID rejects ids that would escape their parent directory.
func ValidateID(id string) error {
	switch {
	case id == "":
		return errors.New("empty id")
	case id == "." || id == "..":
		return fmt.Errorf("id %q is a dot segment", id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("id %q contains a path separator", id)
	}
	return nil
}

// Workspace is the tenant's workspace root.
func (l Layout) Workspace(tenantID string) string {
	return filepath.Join(l.UsersRoot, tenantID, "workspace")
}

// ProjectsDir holds the tenant's project trees.
func (l Layout) ProjectsDir(tenantID string) string {
	return filepath.Join(l.Workspace(tenantID), "projects")
}

// ProjectPath is the root of one project.
func (l Layout) ProjectPath(tenantID, projectID string) string {
	return filepath.Join(l.ProjectsDir(tenantID), projectID)
}

// AgentConfigDir is the agent's config directory for the tenant.
func (l Layout) AgentConfigDir(tenantID string) string {
	return filepath.Join(l.Workspace(tenantID), ".claude")
}

// ArtifactsDir holds the tenant's captured outputs.
func (l Layout) ArtifactsDir(tenantID string) string {
	return filepath.Join(l.ArtifactsRoot, tenantID)
}

// TempDir is the tenant's scratch directory, outside the workspace.
func (l Layout) TempDir(tenantID string) string {
	return filepath.Join(l.UsersRoot, tenantID, "tmp")
}

// JobLog is the log file for a job.
func (l Layout) JobLog(jobID string) string {
	return filepath.Join(l.JobLogs, jobID+".log")
}

// EnsureTenant creates the tenant's directories.
func (l Layout) EnsureTenant(tenantID string) error {
	if err := ValidateID(tenantID); err != nil {
		return fmt.Errorf("workspace: tenant: %w", err)
	}
	for _, directory := range []string{
		l.Workspace(tenantID),
		l.ProjectsDir(tenantID),
		l.AgentConfigDir(tenantID),
		l.ArtifactsDir(tenantID),
		l.TempDir(tenantID),
	} {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return fmt.Errorf("workspace: creating %s: %w", directory, err)
		}
	}
	return nil
}

// Contains reports whether path resolves (following symlinks) to a
// location inside the tenant workspace.
func (l Layout) Contains(tenantID, path string) bool {
	_, ok := Within(l.Workspace(tenantID), path)
	return ok
}

// Within resolves symlinks in both root and path and reports whether
// path lies at or below root. On success it returns the resolved path.
func Within(root, path string) (string, bool) {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", false
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", false
	}
	relative, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil {
		return "", false
	}
	if relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return "", false
	}
	return resolved, true
}

// ReadCredential returns the tenant's stored agent API key, or "" when
// none is stored.
func (l Layout) ReadCredential(tenantID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(l.AgentConfigDir(tenantID), CredentialFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("workspace: reading credential: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteCredential stores the tenant's agent API key with mode 0600.
func (l Layout) WriteCredential(tenantID, key string) error {
	directory := l.AgentConfigDir(tenantID)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("workspace: creating %s: %w", directory, err)
	}
	path := filepath.Join(directory, CredentialFile)
	if err := os.WriteFile(path, []byte(key), 0o600); err != nil {
		return fmt.Errorf("workspace: writing credential: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("workspace: chmod credential: %w", err)
	}
	return nil
}
