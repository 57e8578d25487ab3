// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Availability records the absolute paths of installed isolation
// tools. An empty field means the tool is absent.
type Availability struct {
	Firejail string
	Bwrap    string
	Setpriv  string
}

// HasJail reports whether a filesystem jail is installed.
func (a Availability) HasJail() bool {
	return a.Firejail != "" || a.Bwrap != ""
}

// HasPrivilegeDrop reports whether setpriv (and its escalation
// wrapper, if configured) is installed.
func (a Availability) HasPrivilegeDrop() bool {
	return a.Setpriv != ""
}

// Describe returns one line per tool for operator output.
func (a Availability) Describe() []string {
	line := func(name, path string) string {
		if path == "" {
			return fmt.Sprintf("%-8s  not available", name)
		}
		return fmt.Sprintf("%-8s  %s", name, path)
	}
	return []string{
		line("firejail", a.Firejail),
		line("bwrap", a.Bwrap),
		line("setpriv", a.Setpriv),
	}
}

// Detector probes the host for isolation tools.
type Detector struct {
	// LookPath resolves a tool name. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)

	// Escalate is the prefix setpriv runs under. When non-empty its
	// first element must also resolve for setpriv to count.
	Escalate []string

	// UsernsSysctl is read to detect disabled unprivileged user
	// namespaces, which bwrap needs. Defaults to the Debian sysctl
	// path; a missing file means namespaces are allowed.
	UsernsSysctl string
}

const defaultUsernsSysctl = "/proc/sys/kernel/unprivileged_userns_clone"

// Detect resolves each tool.
func (d Detector) Detect() Availability {
	lookPath := d.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	resolve := func(name string) string {
		path, err := lookPath(name)
		if err != nil {
			return ""
		}
		return path
	}

	var available Availability
	available.Firejail = resolve("firejail")
	if path := resolve("bwrap"); path != "" && d.userNamespacesEnabled() {
		available.Bwrap = path
	}
	if path := resolve("setpriv"); path != "" {
		if len(d.Escalate) == 0 || resolve(d.Escalate[0]) != "" {
			available.Setpriv = path
		}
	}
	return available
}

func (d Detector) userNamespacesEnabled() bool {
	path := d.UsernsSysctl
	if path == "" {
		path = defaultUsernsSysctl
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(data)) != "0"
}
