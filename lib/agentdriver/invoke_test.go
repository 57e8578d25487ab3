// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdriver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/workbench/lib/fault"
	"github.com/bureau-foundation/workbench/lib/testutil"
	"github.com/bureau-foundation/workbench/lib/workspace"
	"github.com/bureau-foundation/workbench/sandbox"
)

type invokeFixture struct {
	invoker  *Invoker
	layout   workspace.Layout
	binary   string
	argsFile string
	envFile  string
}

// newInvokeFixture installs a fake agent that records its arguments
// and environment and then runs body.
func newInvokeFixture(t *testing.T, body string, timeout time.Duration) *invokeFixture {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	root := t.TempDir()
	f := &invokeFixture{
		layout: workspace.Layout{
			UsersRoot:     filepath.Join(root, "users"),
			ArtifactsRoot: filepath.Join(root, "artifacts"),
			JobLogs:       filepath.Join(root, "logs"),
		},
		argsFile: filepath.Join(root, "args"),
		envFile:  filepath.Join(root, "env"),
	}
	if err := f.layout.EnsureTenant("tenant-1"); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\n" +
		"printf '%s\\n' \"$@\" > " + f.argsFile + "\n" +
		"printf 'config=%s\\nkey=%s\\ncwd=%s\\n' \"$CLAUDE_CONFIG_DIR\" \"$ANTHROPIC_API_KEY\" \"$(pwd)\" > " + f.envFile + "\n" +
		body + "\n"
	f.binary = filepath.Join(root, "fake-agent")
	if err := os.WriteFile(f.binary, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	invoker, err := New(Config{
		Binary:  f.binary,
		Sandbox: &sandbox.Builder{},
		Layout:  f.layout,
		Timeout: timeout,
		Logger:  testutil.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	f.invoker = invoker
	return f
}

func (f *invokeFixture) recordedArgs(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.argsFile)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func (f *invokeFixture) recordedEnv(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.envFile)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSend(t *testing.T) {
	body := `cat <<'EOF'
Created ` + "`app.dart`" + `
` + "```bash\nflutter run\n```" + `
EOF`
	f := newInvokeFixture(t, body, 10*time.Second)
	if err := f.layout.WriteCredential("tenant-1", "sk-test"); err != nil {
		t.Fatal(err)
	}

	response, err := f.invoker.Send(context.Background(), Request{TenantID: "tenant-1", Message: "build it", Continue: true, Model: "opus"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(response.Text, "Created `app.dart`") {
		t.Errorf("Text = %q", response.Text)
	}
	if !slices.Equal(response.FilesModified, []string{"app.dart"}) {
		t.Errorf("FilesModified = %q", response.FilesModified)
	}
	if !slices.Equal(response.SuggestedCommands, []string{"flutter run"}) {
		t.Errorf("SuggestedCommands = %q", response.SuggestedCommands)
	}

	wantArgs := []string{"--print", "-p", "build it", "--permission-mode", "bypassPermissions", "--continue", "--model", "opus"}
	if got := f.recordedArgs(t); !slices.Equal(got, wantArgs) {
		t.Errorf("args = %q, want %q", got, wantArgs)
	}
	env := f.recordedEnv(t)
	if !strings.Contains(env, "config="+f.layout.AgentConfigDir("tenant-1")+"\n") {
		t.Errorf("CLAUDE_CONFIG_DIR not set: %s", env)
	}
	if !strings.Contains(env, "key=sk-test\n") {
		t.Errorf("credential not passed: %s", env)
	}
	if !strings.Contains(env, "cwd="+f.layout.Workspace("tenant-1")+"\n") {
		t.Errorf("working directory wrong: %s", env)
	}
}

func TestSendProjectWorkingDirectory(t *testing.T) {
	f := newInvokeFixture(t, "echo ok", 10*time.Second)
	projectDir := f.layout.ProjectPath("tenant-1", "project-1")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := f.invoker.Send(context.Background(), Request{TenantID: "tenant-1", ProjectID: "project-1", Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	if env := f.recordedEnv(t); !strings.Contains(env, "cwd="+projectDir+"\n") {
		t.Errorf("working directory wrong: %s", env)
	}
	if env := f.recordedEnv(t); !strings.Contains(env, "key=\n") {
		t.Errorf("credential set without a stored key: %s", env)
	}
}

// fakeBwrap stands in for bubblewrap: it honours --chdir after
// starting from /, then runs the command after "--".
const fakeBwrap = `#!/bin/sh
cd /
while [ $# -gt 0 ]; do
	case "$1" in
	--chdir) cd "$2"; shift 2 ;;
	--) shift; break ;;
	*) shift ;;
	esac
done
exec "$@"
`

func TestSendProjectWorkingDirectoryInsideJail(t *testing.T) {
	f := newInvokeFixture(t, "echo ok", 10*time.Second)
	bwrap := filepath.Join(t.TempDir(), "bwrap")
	if err := os.WriteFile(bwrap, []byte(fakeBwrap), 0o755); err != nil {
		t.Fatal(err)
	}
	invoker, err := New(Config{
		Binary:  f.binary,
		Sandbox: &sandbox.Builder{Available: sandbox.Availability{Bwrap: bwrap}},
		Layout:  f.layout,
		Timeout: 10 * time.Second,
		Logger:  testutil.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	projectDir := f.layout.ProjectPath("tenant-1", "project-1")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := invoker.Send(context.Background(), Request{TenantID: "tenant-1", ProjectID: "project-1", Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	if env := f.recordedEnv(t); !strings.Contains(env, "cwd="+projectDir+"\n") {
		t.Errorf("jailed working directory wrong: %s", env)
	}

	if _, err := invoker.Send(context.Background(), Request{TenantID: "tenant-1", Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	if env := f.recordedEnv(t); !strings.Contains(env, "cwd="+f.layout.Workspace("tenant-1")+"\n") {
		t.Errorf("jailed working directory wrong without a project: %s", env)
	}
}

func TestSendDoesNotInheritEngineCredential(t *testing.T) {
	f := newInvokeFixture(t, "echo ok", 10*time.Second)
	t.Setenv("ANTHROPIC_API_KEY", "sk-operator-secret")
	t.Setenv("CLAUDE_CONFIG_DIR", "/root/.claude")

	if _, err := f.invoker.Send(context.Background(), Request{TenantID: "tenant-1", Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	env := f.recordedEnv(t)
	if !strings.Contains(env, "key=\n") {
		t.Errorf("engine credential leaked to the agent: %s", env)
	}
	if !strings.Contains(env, "config="+f.layout.AgentConfigDir("tenant-1")+"\n") {
		t.Errorf("engine config dir leaked to the agent: %s", env)
	}

	if err := f.layout.WriteCredential("tenant-1", "sk-tenant"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.invoker.Send(context.Background(), Request{TenantID: "tenant-1", Message: "hi"}); err != nil {
		t.Fatal(err)
	}
	if env := f.recordedEnv(t); !strings.Contains(env, "key=sk-tenant\n") {
		t.Errorf("tenant credential not passed: %s", env)
	}
}

func TestSendFailure(t *testing.T) {
	f := newInvokeFixture(t, "echo 'quota exceeded' >&2; exit 2", 10*time.Second)
	_, err := f.invoker.Send(context.Background(), Request{TenantID: "tenant-1", Message: "hi"})
	if !fault.IsKind(err, fault.Execution) {
		t.Fatalf("Send error = %v, want execution fault", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error %q lacks stderr", err)
	}
}

func TestSendTimeout(t *testing.T) {
	f := newInvokeFixture(t, "sleep 30", 200*time.Millisecond)
	start := time.Now()
	_, err := f.invoker.Send(context.Background(), Request{TenantID: "tenant-1", Message: "hi"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Send error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestSendValidation(t *testing.T) {
	f := newInvokeFixture(t, "echo ok", 10*time.Second)
	for _, request := range []Request{
		{TenantID: "tenant-1", Message: "  "},
		{TenantID: "../x", Message: "hi"},
		{TenantID: "tenant-1", ProjectID: "a/b", Message: "hi"},
	} {
		if _, err := f.invoker.Send(context.Background(), request); !fault.IsKind(err, fault.Validation) {
			t.Errorf("Send(%+v) error = %v, want validation fault", request, err)
		}
	}
}

func TestStream(t *testing.T) {
	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(transcript, []byte(sessionTranscript), 0o644); err != nil {
		t.Fatal(err)
	}
	f := newInvokeFixture(t, "cat "+transcript, 10*time.Second)

	events := testutil.Drain(t, f.invoker.Stream(context.Background(), Request{TenantID: "tenant-1", Message: "go"}), 10*time.Second)
	if len(events) == 0 {
		t.Fatal("no events")
	}
	body := describe(events[:len(events)-1])
	if strings.Join(body, "|") != strings.Join(wantTranscriptEvents, "|") {
		t.Errorf("events:\n%q\nwant:\n%q", body, wantTranscriptEvents)
	}
	last := events[len(events)-1]
	if last.Kind != EventDone || !slices.Equal(last.FilesModified, []string{"a.txt and more"}) {
		t.Errorf("terminal event = %+v", last)
	}

	args := f.recordedArgs(t)
	wantTail := []string{"--output-format", "stream-json", "--verbose", "--include-partial-messages"}
	if len(args) < len(wantTail) || !slices.Equal(args[len(args)-len(wantTail):], wantTail) {
		t.Errorf("streaming args = %q", args)
	}
}

func TestStreamEndsWithSingleError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		timeout time.Duration
		want    string
	}{
		{"exit", "echo partial; echo broken >&2; exit 1", 10 * time.Second, "broken"},
		{"timeout", "sleep 30", 200 * time.Millisecond, ErrTimeout.Error()},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newInvokeFixture(t, test.body, test.timeout)
			events := testutil.Drain(t, f.invoker.Stream(context.Background(), Request{TenantID: "tenant-1", Message: "go"}), 10*time.Second)
			terminal := 0
			for _, event := range events {
				if event.Terminal() {
					terminal++
				}
			}
			if terminal != 1 {
				t.Fatalf("%d terminal events in %+v", terminal, events)
			}
			last := events[len(events)-1]
			if last.Kind != EventError || !strings.Contains(last.Message, test.want) {
				t.Errorf("terminal event = %+v, want error containing %q", last, test.want)
			}
		})
	}
}

func TestStreamValidationError(t *testing.T) {
	f := newInvokeFixture(t, "echo ok", 10*time.Second)
	events := testutil.Drain(t, f.invoker.Stream(context.Background(), Request{TenantID: "tenant-1"}), 5*time.Second)
	if len(events) != 1 || events[0].Kind != EventError {
		t.Errorf("events = %+v", events)
	}
}
