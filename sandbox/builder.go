// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/workbench/lib/fault"
)

// Primitive identifies the isolation tool that wraps a command.
type Primitive string

const (
	PrimitiveNone     Primitive = "none"
	PrimitiveFirejail Primitive = "firejail"
	PrimitiveBwrap    Primitive = "bwrap"
	PrimitiveSetpriv  Primitive = "setpriv"
)

// RunAs is the identity a wrapped command should run under.
type RunAs struct {
	UID int
	GID int
}

// Request describes one command to wrap.
type Request struct {
	// Command is the argv to run. Required.
	Command []string

	// RunAs, when set, requests that the command run as this identity.
	RunAs *RunAs

	// ReadWrite and ReadOnly are the only host paths visible inside a
	// jail. Order is preserved; duplicates and empty entries are
	// dropped. A path listed in both is read-write.
	ReadWrite []string
	ReadOnly  []string

	// WorkDir is the command's working directory inside a jail. It
	// must lie within ReadWrite or ReadOnly. The caller still sets the
	// directory of the process it starts; for an unjailed command
	// WorkDir has no effect.
	WorkDir string

	// IsolateNetwork removes network access inside a jail.
	IsolateNetwork bool
}

// Wrapped is the result of Build.
type Wrapped struct {
	Args      []string
	Primitive Primitive

	// IdentityIgnored is set when RunAs was requested but no
	// privilege-drop tool exists to honour it.
	IdentityIgnored bool
}

// Builder turns Requests into wrapped argument lists.
type Builder struct {
	Available Availability

	// RequireIsolation makes Build fail instead of returning an
	// unjailed command.
	RequireIsolation bool

	// Escalate prefixes the privilege-drop tool, which must start as
	// root ("sudo"). Empty when the engine already runs as root.
	Escalate []string
}

const buildOp = "sandbox build"

// Build wraps request.Command. It never touches the filesystem or
// starts a process.
func (b *Builder) Build(request Request) (Wrapped, error) {
	if len(request.Command) == 0 {
		return Wrapped{}, fault.New(fault.Validation, buildOp, "command is required")
	}
	readWrite := normalizePaths(request.ReadWrite, nil)
	readOnly := normalizePaths(request.ReadOnly, readWrite)
	workDir := ""
	if request.WorkDir != "" {
		workDir = filepath.Clean(request.WorkDir)
		if !coveredBy(workDir, readWrite) && !coveredBy(workDir, readOnly) {
			return Wrapped{}, fault.New(fault.Validation, buildOp,
				"working directory %s is not within an allowed path", workDir)
		}
	}

	var jailed []string
	var primitive Primitive
	switch {
	case b.Available.Firejail != "":
		jailed = firejailArgs(b.Available.Firejail, request.Command, readWrite, readOnly, request.IsolateNetwork)
		primitive = PrimitiveFirejail
	case b.Available.Bwrap != "":
		jailed = newBwrapArgs(b.Available.Bwrap).
			namespaces(request.IsolateNetwork).
			baseMounts().
			systemMounts().
			binds(readWrite, readOnly).
			chdir(workDir).
			command(request.Command)
		primitive = PrimitiveBwrap
	case b.RequireIsolation:
		return Wrapped{}, fault.New(fault.Configuration, buildOp,
			"isolation is required but neither firejail nor bwrap is installed")
	}

	if jailed != nil {
		if request.RunAs != nil && b.Available.Setpriv != "" {
			return Wrapped{Args: b.dropPrivileges(*request.RunAs, jailed), Primitive: primitive}, nil
		}
		return Wrapped{Args: jailed, Primitive: primitive, IdentityIgnored: request.RunAs != nil}, nil
	}

	if request.RunAs != nil && b.Available.Setpriv != "" {
		return Wrapped{Args: b.dropPrivileges(*request.RunAs, request.Command), Primitive: PrimitiveSetpriv}, nil
	}

	return Wrapped{
		Args:            append([]string(nil), request.Command...),
		Primitive:       PrimitiveNone,
		IdentityIgnored: request.RunAs != nil,
	}, nil
}

// coveredBy reports whether path is one of roots or lies below one.
func coveredBy(path string, roots []string) bool {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, strings.TrimSuffix(root, "/")+"/") {
			return true
		}
	}
	return false
}

// normalizePaths cleans, de-duplicates, and drops empty entries and
// entries already present in exclude.
func normalizePaths(paths, exclude []string) []string {
	seen := make(map[string]bool, len(paths)+len(exclude))
	for _, path := range exclude {
		seen[path] = true
	}
	var result []string
	for _, path := range paths {
		if path == "" {
			continue
		}
		path = filepath.Clean(path)
		if seen[path] {
			continue
		}
		seen[path] = true
		result = append(result, path)
	}
	return result
}
