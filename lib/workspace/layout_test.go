// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func testLayout(t *testing.T) Layout {
	t.Helper()
	root := t.TempDir()
	return Layout{
		UsersRoot:     filepath.Join(root, "users"),
		ArtifactsRoot: filepath.Join(root, "data", "artifacts"),
		JobLogs:       filepath.Join(root, "data", "logs", "jobs"),
	}
}

func TestPaths(t *testing.T) {
	layout := Layout{UsersRoot: "/u", ArtifactsRoot: "/a", JobLogs: "/l"}
	tests := []struct{ got, want string }{
		{layout.Workspace("t1"), "/u/t1/workspace"},
		{layout.ProjectPath("t1", "p1"), "/u/t1/workspace/projects/p1"},
		{layout.AgentConfigDir("t1"), "/u/t1/workspace/.claude"},
		{layout.ArtifactsDir("t1"), "/a/t1"},
		{layout.TempDir("t1"), "/u/t1/tmp"},
		{layout.JobLog("j1"), "/l/j1.log"},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("path = %q, want %q", test.got, test.want)
		}
	}
}

func TestValidateID(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "a\x00"} {
		if err := ValidateID(bad); err == nil {
			t.Errorf("ValidateID(%q) accepted", bad)
		}
	}
	if err := ValidateID("5f2c9a10-7d3e-4c1b-9a8f-0e6d2b4c8a11"); err != nil {
		t.Errorf("ValidateID(uuid) = %v", err)
	}
}

func TestEnsureTenantAndContains(t *testing.T) {
	layout := testLayout(t)
	if err := layout.EnsureTenant("t1"); err != nil {
		t.Fatalf("EnsureTenant: %v", err)
	}
	for _, directory := range []string{layout.ProjectsDir("t1"), layout.AgentConfigDir("t1"), layout.ArtifactsDir("t1"), layout.TempDir("t1")} {
		if info, err := os.Stat(directory); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", directory, err)
		}
	}

	if !layout.Contains("t1", layout.ProjectsDir("t1")) {
		t.Error("projects dir should be inside the workspace")
	}
	if layout.Contains("t1", layout.TempDir("t1")) {
		t.Error("tmp dir is outside the workspace")
	}

	escape := filepath.Join(layout.ProjectsDir("t1"), "escape")
	if err := os.Symlink(layout.TempDir("t1"), escape); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if layout.Contains("t1", escape) {
		t.Error("symlink pointing outside the workspace reported as contained")
	}

	if err := layout.EnsureTenant("../evil"); err == nil {
		t.Error("EnsureTenant accepted a traversal id")
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	layout := testLayout(t)

	key, err := layout.ReadCredential("t1")
	if err != nil || key != "" {
		t.Fatalf("ReadCredential before write = %q, %v", key, err)
	}

	if err := layout.WriteCredential("t1", "sk-test-123\n"); err != nil {
		t.Fatalf("WriteCredential: %v", err)
	}
	key, err = layout.ReadCredential("t1")
	if err != nil {
		t.Fatalf("ReadCredential: %v", err)
	}
	if key != "sk-test-123" {
		t.Errorf("key = %q", key)
	}

	info, err := os.Stat(filepath.Join(layout.AgentConfigDir("t1"), CredentialFile))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("credential mode = %o, want 600", info.Mode().Perm())
	}
}

func TestWithin(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "project")
	for _, directory := range []string{filepath.Join(root, "build"), filepath.Join(base, "project-other")} {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	inside := filepath.Join(root, "build", "out.txt")
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(base, "project-other"), filepath.Join(root, "sibling")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("build", filepath.Join(root, "alias")); err != nil {
		t.Fatal(err)
	}

	resolved, ok := Within(root, inside)
	if !ok {
		t.Fatal("file under root reported outside")
	}
	if want, _ := filepath.EvalSymlinks(inside); resolved != want {
		t.Errorf("resolved = %s, want %s", resolved, want)
	}
	if _, ok := Within(root, filepath.Join(root, "alias", "out.txt")); !ok {
		t.Error("symlink staying inside root reported outside")
	}
	if _, ok := Within(root, filepath.Join(root, "sibling")); ok {
		t.Error("symlink to a sibling directory reported inside")
	}
	if _, ok := Within(root, filepath.Join(base, "project-other")); ok {
		t.Error("sibling sharing the root's name prefix reported inside")
	}
	if _, ok := Within(root, filepath.Join(root, "missing")); ok {
		t.Error("missing path reported inside")
	}
}
