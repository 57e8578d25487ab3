// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/bureau-foundation/workbench/lib/fault"
	"github.com/bureau-foundation/workbench/lib/schema"
	"github.com/bureau-foundation/workbench/lib/workspace"
	"github.com/bureau-foundation/workbench/sandbox"
)

// Store persists tenant identities.
type Store interface {
	// Identity returns the tenant's identity, or nil when none is
	// allocated.
	Identity(ctx context.Context, tenantID string) (*schema.Identity, error)

	// SetIdentity records an allocation.
	SetIdentity(ctx context.Context, identity schema.Identity) error

	// ClearIdentity removes the tenant's allocation.
	ClearIdentity(ctx context.Context, tenantID string) error

	// AllocatedIDs returns every uid currently recorded, so ids
	// recorded but not yet visible in passwd are never reissued.
	AllocatedIDs(ctx context.Context) ([]int, error)
}

// Capabilities reports what isolation the host supports.
type Capabilities struct {
	// Identities is true when accounts can be created and removed.
	Identities bool `json:"identities"`

	// Jail is true when firejail or bwrap is usable.
	Jail bool `json:"jail"`

	// PrivilegeDrop is true when setpriv is usable.
	PrivilegeDrop bool `json:"privilege_drop"`
}

// Config configures a Registry. Store, Runner, and Logger are required.
type Config struct {
	Store  Store
	Runner CommandRunner
	Logger *slog.Logger

	Layout workspace.Layout

	// Available is the detected isolation tool set.
	Available sandbox.Availability

	// Enabled gates Ensure. Provision and Deprovision work regardless.
	Enabled bool

	MinUID         int
	MaxUID         int
	UsernamePrefix string
	Shell          string
	PasswdFile     string
	GroupFile      string
	Escalate       []string

	// LookPath resolves account-management tools. Defaults to
	// exec.LookPath.
	LookPath func(file string) (string, error)
}

// Registry allocates tenant identities.
type Registry struct {
	config Config

	// allocation serializes the passwd scan with account creation.
	allocation sync.Mutex
}

var accountTools = []string{"groupadd", "useradd", "chown", "userdel", "groupdel"}

// NewRegistry validates cfg and fills defaults.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("identity: Store is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("identity: Runner is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("identity: Logger is required")
	}
	if cfg.MinUID == 0 && cfg.MaxUID == 0 {
		cfg.MinUID, cfg.MaxUID = 10000, 60000
	}
	if cfg.MaxUID <= cfg.MinUID {
		return nil, fmt.Errorf("identity: uid range [%d, %d) is empty", cfg.MinUID, cfg.MaxUID)
	}
	if cfg.UsernamePrefix == "" {
		cfg.UsernamePrefix = "wb_"
	}
	if cfg.Shell == "" {
		cfg.Shell = "/usr/sbin/nologin"
	}
	if cfg.PasswdFile == "" {
		cfg.PasswdFile = "/etc/passwd"
	}
	if cfg.GroupFile == "" {
		cfg.GroupFile = "/etc/group"
	}
	if cfg.LookPath == nil {
		cfg.LookPath = exec.LookPath
	}
	return &Registry{config: cfg}, nil
}

// CheckCapabilities probes for account tools. Read-only.
func (r *Registry) CheckCapabilities() Capabilities {
	return Capabilities{
		Identities:    r.missingTool() == "",
		Jail:          r.config.Available.HasJail(),
		PrivilegeDrop: r.config.Available.HasPrivilegeDrop(),
	}
}

// missingTool names the first absent account-management tool.
func (r *Registry) missingTool() string {
	tools := accountTools
	if len(r.config.Escalate) > 0 {
		tools = append([]string{r.config.Escalate[0]}, accountTools...)
	}
	for _, tool := range tools {
		if _, err := r.config.LookPath(tool); err != nil {
			return tool
		}
	}
	return ""
}

// Provision returns the tenant's identity, creating the OS account and
// group on first call. Later calls return the stored identity without
// touching the host.
func (r *Registry) Provision(ctx context.Context, tenantID string) (schema.Identity, error) {
	if err := workspace.ValidateID(tenantID); err != nil {
		return schema.Identity{}, fault.Wrap(fault.Validation, "identity provision", err)
	}
	if existing, err := r.config.Store.Identity(ctx, tenantID); err != nil {
		return schema.Identity{}, fmt.Errorf("identity: loading %s: %w", tenantID, err)
	} else if existing != nil {
		return *existing, nil
	}

	if tool := r.missingTool(); tool != "" {
		return schema.Identity{}, fault.New(fault.Configuration, "identity provision",
			"%s is not installed; account provisioning is unavailable", tool)
	}

	r.allocation.Lock()
	defer r.allocation.Unlock()

	// Another caller may have finished provisioning while this one
	// waited for the lock.
	if existing, err := r.config.Store.Identity(ctx, tenantID); err != nil {
		return schema.Identity{}, fmt.Errorf("identity: loading %s: %w", tenantID, err)
	} else if existing != nil {
		return *existing, nil
	}

	identity, err := r.allocate(ctx, tenantID)
	if err != nil {
		return schema.Identity{}, err
	}

	workspaceRoot := r.config.Layout.Workspace(tenantID)
	if err := r.config.Layout.EnsureTenant(tenantID); err != nil {
		return schema.Identity{}, fmt.Errorf("identity: %w", err)
	}
	ownership := strconv.Itoa(identity.UID) + ":" + strconv.Itoa(identity.GID)
	if _, err := r.run(ctx, "chown", "-R", ownership, workspaceRoot); err != nil {
		return schema.Identity{}, fault.Wrap(fault.Execution, "identity provision", err)
	}

	if err := r.config.Store.SetIdentity(ctx, identity); err != nil {
		return schema.Identity{}, fmt.Errorf("identity: recording %s: %w", identity.Username, err)
	}
	r.config.Logger.Info("provisioned tenant identity",
		"tenant_id", tenantID,
		"username", identity.Username,
		"uid", identity.UID,
	)
	return identity, nil
}

// allocate picks a username and id and creates the group and account.
// An account left behind by an interrupted earlier attempt (same name,
// home at this tenant's workspace) is adopted instead of recreated.
func (r *Registry) allocate(ctx context.Context, tenantID string) (schema.Identity, error) {
	database, err := readAccountDatabase(r.config.PasswdFile, r.config.GroupFile)
	if err != nil {
		return schema.Identity{}, err
	}
	workspaceRoot := r.config.Layout.Workspace(tenantID)

	var username string
	for _, candidate := range usernameCandidates(r.config.UsernamePrefix, tenantID) {
		if entry, found := database.lookup(candidate); found {
			if entry.home == workspaceRoot {
				r.config.Logger.Info("adopting existing account", "tenant_id", tenantID, "username", candidate, "uid", entry.uid)
				return schema.Identity{TenantID: tenantID, Username: candidate, UID: entry.uid, GID: entry.gid}, nil
			}
			continue
		}
		if !database.usedNames[candidate] {
			username = candidate
			break
		}
	}
	if username == "" {
		return schema.Identity{}, fault.New(fault.Configuration, "identity provision",
			"every username candidate for tenant %s is taken", tenantID)
	}

	recorded, err := r.config.Store.AllocatedIDs(ctx)
	if err != nil {
		return schema.Identity{}, fmt.Errorf("identity: listing allocations: %w", err)
	}
	reserved := make(map[int]bool, len(recorded))
	for _, id := range recorded {
		reserved[id] = true
	}
	id, err := database.lowestFreeID(r.config.MinUID, r.config.MaxUID, reserved)
	if err != nil {
		return schema.Identity{}, fault.Wrap(fault.Configuration, "identity provision", err)
	}
	idText := strconv.Itoa(id)

	// groupadd exits 9 when the group name is taken.
	if _, err := r.run(ctx, "groupadd", "--gid", idText, username); err != nil && !exitedWith(err, "already exists", 9) {
		return schema.Identity{}, fault.Wrap(fault.Execution, "identity provision", err)
	}
	_, err = r.run(ctx, "useradd",
		"--uid", idText,
		"--gid", idText,
		"--home-dir", workspaceRoot,
		"--shell", r.config.Shell,
		"--no-create-home",
		username,
	)
	if err != nil && !exitedWith(err, "already exists", 9) {
		return schema.Identity{}, fault.Wrap(fault.Execution, "identity provision", err)
	}

	return schema.Identity{TenantID: tenantID, Username: username, UID: id, GID: id}, nil
}

// Deprovision removes the tenant's account and group, then clears the
// stored identity. A tenant without an identity is a no-op. The store
// is cleared only after both removals succeed, so a failure leaves the
// mapping in place for a retry.
func (r *Registry) Deprovision(ctx context.Context, tenantID string) error {
	existing, err := r.config.Store.Identity(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("identity: loading %s: %w", tenantID, err)
	}
	if existing == nil {
		return nil
	}
	if tool := r.missingTool(); tool != "" {
		return fault.New(fault.Configuration, "identity deprovision",
			"%s is not installed; account removal is unavailable", tool)
	}

	r.allocation.Lock()
	defer r.allocation.Unlock()

	// userdel and groupdel exit 6 when the name does not exist.
	if _, err := r.run(ctx, "userdel", existing.Username); err != nil && !exitedWith(err, "does not exist", 6) {
		return fault.Wrap(fault.Execution, "identity deprovision", err)
	}
	if _, err := r.run(ctx, "groupdel", existing.Username); err != nil && !exitedWith(err, "does not exist", 6) {
		return fault.Wrap(fault.Execution, "identity deprovision", err)
	}
	if err := r.config.Store.ClearIdentity(ctx, tenantID); err != nil {
		return fmt.Errorf("identity: clearing %s: %w", tenantID, err)
	}
	r.config.Logger.Info("deprovisioned tenant identity", "tenant_id", tenantID, "username", existing.Username)
	return nil
}

// Ensure returns the tenant's identity, provisioning it on first use.
// It returns nil without error when identities are disabled or the
// host lacks account tools; provisioning failures are returned.
func (r *Registry) Ensure(ctx context.Context, tenantID string) (*schema.Identity, error) {
	existing, err := r.config.Store.Identity(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("identity: loading %s: %w", tenantID, err)
	}
	if existing != nil {
		return existing, nil
	}
	if !r.config.Enabled {
		return nil, nil
	}
	if tool := r.missingTool(); tool != "" {
		r.config.Logger.Debug("identity provisioning unavailable", "missing", tool)
		return nil, nil
	}
	identity, err := r.Provision(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *Registry) run(ctx context.Context, argv ...string) (string, error) {
	full := make([]string, 0, len(r.config.Escalate)+len(argv))
	full = append(full, r.config.Escalate...)
	full = append(full, argv...)
	return r.config.Runner.Run(ctx, full...)
}
