// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdriver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/workbench/lib/fault"
	"github.com/bureau-foundation/workbench/lib/process"
	"github.com/bureau-foundation/workbench/lib/schema"
	"github.com/bureau-foundation/workbench/lib/workspace"
	"github.com/bureau-foundation/workbench/sandbox"
)

// ErrTimeout is returned, or reported as the stream's error event,
// when the agent does not finish within the invoker's timeout.
var ErrTimeout = errors.New("agent response timed out")

// IdentityResolver returns the identity a tenant's agent runs as, or
// nil to run it as the engine user.
type IdentityResolver interface {
	Ensure(ctx context.Context, tenantID string) (*schema.Identity, error)
}

// Config configures an Invoker. Sandbox and Logger are required.
type Config struct {
	// Binary is the agent executable. Defaults to "claude".
	Binary string

	Sandbox    *sandbox.Builder
	Identities IdentityResolver
	Layout     workspace.Layout

	// Timeout bounds each invocation. Defaults to 300s.
	Timeout time.Duration

	// Model is passed as --model when a request sets none.
	Model string

	Logger *slog.Logger
}

// Request is one message to the agent.
type Request struct {
	TenantID string

	// ProjectID, when set, makes the project directory the working
	// directory and adds it to the writable paths.
	ProjectID string

	Message string

	// Continue resumes the tenant's most recent conversation.
	Continue bool

	Model string
}

// Response is the result of a blocking invocation.
type Response struct {
	Text              string   `json:"text"`
	FilesModified     []string `json:"files_modified"`
	SuggestedCommands []string `json:"suggested_commands"`
}

// Invoker runs agent requests. Safe for concurrent use.
type Invoker struct {
	binary     string
	sandbox    *sandbox.Builder
	identities IdentityResolver
	layout     workspace.Layout
	timeout    time.Duration
	model      string
	logger     *slog.Logger
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Invoker, error) {
	if cfg.Sandbox == nil {
		return nil, fmt.Errorf("agentdriver: Sandbox is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("agentdriver: Logger is required")
	}
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &Invoker{
		binary:     cfg.Binary,
		sandbox:    cfg.Sandbox,
		identities: cfg.Identities,
		layout:     cfg.Layout,
		timeout:    cfg.Timeout,
		model:      cfg.Model,
		logger:     cfg.Logger,
	}, nil
}

const (
	sendOp   = "agent send"
	streamOp = "agent stream"
)

// Send runs the agent to completion and returns its full output.
func (i *Invoker) Send(ctx context.Context, request Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	cmd, err := i.command(ctx, request, false)
	if err != nil {
		return Response{}, err
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Response{}, fault.Wrap(fault.Execution, sendOp, ErrTimeout)
	}
	if runErr != nil {
		return Response{}, fault.Wrap(fault.Execution, sendOp, exitError(runErr, stderr.String()))
	}
	if stderr.Len() > 0 {
		i.logger.Warn("agent wrote to stderr", "tenant_id", request.TenantID, "stderr", strings.TrimSpace(stderr.String()))
	}

	text := stdout.String()
	return Response{
		Text:              text,
		FilesModified:     ExtractModifiedFiles(text),
		SuggestedCommands: ExtractCommands(text),
	}, nil
}

// Stream runs the agent in streaming mode. The returned channel
// carries text and activity events, then exactly one Done or Error
// event, then closes. If ctx is cancelled the process is killed and
// the channel closes once the terminal event is delivered or dropped.
func (i *Invoker) Stream(ctx context.Context, request Request) <-chan Event {
	events := make(chan Event, 64)
	go i.stream(ctx, request, events)
	return events
}

func (i *Invoker) stream(ctx context.Context, request Request, events chan<- Event) {
	defer close(events)
	terminated := false
	emit := func(event Event) bool {
		if terminated {
			return false
		}
		select {
		case events <- event:
			if event.Terminal() {
				terminated = true
			}
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		i.logger.Warn("agent stream failed", "tenant_id", request.TenantID, "error", err)
		// Deliver the terminal event even after cancellation if the
		// reader still has buffer room.
		if !emit(errorEvent(err.Error())) && !terminated {
			select {
			case events <- errorEvent(err.Error()):
			default:
			}
		}
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			fail(fmt.Errorf("%s: decoder panic: %v", streamOp, recovered))
		}
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	cmd, err := i.command(timeoutCtx, request, true)
	if err != nil {
		fail(err)
		return
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fail(fmt.Errorf("%s: stdout pipe: %w", streamOp, err))
		return
	}
	if err := cmd.Start(); err != nil {
		fail(fault.Wrap(fault.Execution, streamOp, err))
		return
	}

	var decoder Decoder
	buffer := make([]byte, 4096)
	for {
		n, readErr := stdout.Read(buffer)
		if n > 0 {
			for _, event := range decoder.Feed(buffer[:n]) {
				if !emit(event) {
					// Reader gone; stop the agent and drain.
					cancel()
					io.Copy(io.Discard, stdout)
					cmd.Wait()
					fail(ctx.Err())
					return
				}
			}
		}
		if readErr != nil {
			break
		}
	}
	for _, event := range decoder.Flush() {
		emit(event)
	}

	waitErr := cmd.Wait()
	switch {
	case errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		fail(ErrTimeout)
	case ctx.Err() != nil:
		fail(ctx.Err())
	case waitErr != nil:
		fail(fault.Wrap(fault.Execution, streamOp, exitError(waitErr, stderr.String())))
	default:
		if stderr.Len() > 0 {
			i.logger.Warn("agent wrote to stderr", "tenant_id", request.TenantID, "stderr", strings.TrimSpace(stderr.String()))
		}
		emit(decoder.Finish())
	}
}

// Args returns the agent argument list for a request, without the
// sandbox wrapper.
func (i *Invoker) Args(request Request, streaming bool) []string {
	args := []string{i.binary, "--print", "-p", request.Message, "--permission-mode", "bypassPermissions"}
	if request.Continue {
		args = append(args, "--continue")
	}
	model := request.Model
	if model == "" {
		model = i.model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if streaming {
		args = append(args, "--output-format", "stream-json", "--verbose", "--include-partial-messages")
	}
	return args
}

// command builds the sandboxed agent process for request. The process
// leads its own group, and cancelling ctx kills the whole group.
func (i *Invoker) command(ctx context.Context, request Request, streaming bool) (*exec.Cmd, error) {
	op := sendOp
	if streaming {
		op = streamOp
	}
	if err := workspace.ValidateID(request.TenantID); err != nil {
		return nil, fault.Wrap(fault.Validation, op, err)
	}
	if strings.TrimSpace(request.Message) == "" {
		return nil, fault.New(fault.Validation, op, "message is required")
	}

	workspaceRoot := i.layout.Workspace(request.TenantID)
	configDir := i.layout.AgentConfigDir(request.TenantID)
	workingDir := workspaceRoot
	allowed := []string{workspaceRoot, configDir}
	if request.ProjectID != "" {
		if err := workspace.ValidateID(request.ProjectID); err != nil {
			return nil, fault.Wrap(fault.Validation, op, err)
		}
		workingDir = i.layout.ProjectPath(request.TenantID, request.ProjectID)
		allowed = append(allowed, workingDir)
	}

	sandboxRequest := sandbox.Request{
		Command:   i.Args(request, streaming),
		ReadWrite: allowed,
		WorkDir:   workingDir,
	}
	if i.identities != nil {
		identity, err := i.identities.Ensure(ctx, request.TenantID)
		if err != nil {
			return nil, err
		}
		if identity != nil {
			sandboxRequest.RunAs = &sandbox.RunAs{UID: identity.UID, GID: identity.GID}
		}
	}
	wrapped, err := i.sandbox.Build(sandboxRequest)
	if err != nil {
		return nil, err
	}

	credential, err := i.layout.ReadCredential(request.TenantID)
	if err != nil {
		i.logger.Warn("reading agent credential failed", "tenant_id", request.TenantID, "error", err)
	}

	cmd := exec.CommandContext(ctx, wrapped.Args[0], wrapped.Args[1:]...)
	cmd.Dir = workingDir
	cmd.Env = append(agentEnvironment(os.Environ()), "CLAUDE_CONFIG_DIR="+configDir)
	if credential != "" {
		cmd.Env = append(cmd.Env, credentialVariable+"="+credential)
	}
	cmd.SysProcAttr = process.GroupAttr()
	cmd.Cancel = func() error {
		return process.SignalGroup(cmd.Process.Pid, unix.SIGKILL)
	}

	i.logger.Debug("invoking agent",
		"tenant_id", request.TenantID,
		"project_id", request.ProjectID,
		"streaming", streaming,
		"primitive", wrapped.Primitive,
	)
	return cmd, nil
}

// exitError attaches the agent's stderr to a failed run.
// credentialVariable carries the tenant's API key. The engine's own
// value is never inherited: a tenant without a stored key runs without
// one.
const credentialVariable = "ANTHROPIC_API_KEY"

// agentEnvironment copies environ without variables the agent must
// receive only from the tenant's workspace.
func agentEnvironment(environ []string) []string {
	filtered := make([]string, 0, len(environ))
	for _, entry := range environ {
		name, _, _ := strings.Cut(entry, "=")
		if name == credentialVariable || name == "CLAUDE_CONFIG_DIR" {
			continue
		}
		filtered = append(filtered, entry)
	}
	return filtered
}

func exitError(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, stderr)
}
