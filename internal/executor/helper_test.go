package executor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llmos-bridge/daemon/internal/approval"
	"github.com/llmos-bridge/daemon/internal/eventbus"
	"github.com/llmos-bridge/daemon/internal/model"
	"github.com/llmos-bridge/daemon/internal/ratelimit"
	"github.com/llmos-bridge/daemon/internal/registry"
	"github.com/llmos-bridge/daemon/internal/resourcemgr"
	"github.com/llmos-bridge/daemon/internal/security/permission"
	"github.com/llmos-bridge/daemon/internal/security/scanner"
	"github.com/llmos-bridge/daemon/internal/statestore"
)

// fakeModule is a minimal registry.Module whose behaviour each test
// configures via a function field, mirroring how the teacher's queue tests
// stub out chain steps rather than spinning up real agents.
type fakeModule struct {
	id      string
	execute func(ctx context.Context, action string, params map[string]any) (any, error)
}

func (f *fakeModule) ID() string { return f.id }

func (f *fakeModule) Manifest() model.ModuleManifest {
	return model.ModuleManifest{ModuleID: f.id, Version: "1.0.0"}
}

func (f *fakeModule) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	return f.execute(ctx, action, params)
}

func echoModule(id string) *fakeModule {
	return &fakeModule{id: id, execute: func(_ context.Context, action string, params map[string]any) (any, error) {
		return map[string]any{"action": action, "params": params}, nil
	}}
}

func failingModule(id string, errText string) *fakeModule {
	return &fakeModule{id: id, execute: func(_ context.Context, _ string, _ map[string]any) (any, error) {
		return nil, assertionError(errText)
	}}
}

type assertionError string

func (e assertionError) Error() string { return string(e) }

// unrestrictedProfile allows every module.action with no approval gating,
// used by tests that aren't exercising the permission layer itself.
func unrestrictedProfile() *model.PermissionProfile {
	return &model.PermissionProfile{
		Name:                model.ProfileUnrestricted,
		AllowedPatterns:     []string{"*.*"},
		MaxPlanActions:      1000,
		AllowApprovalBypass: true,
	}
}

// newTestExecutor wires every collaborator with real (not mocked)
// implementations, backed by a temp-file SQLite state store, and registers
// modules into a local node. Tests mutate the returned Config before
// calling New where they need non-default policy (rate limits, fallback
// chains, a restrictive profile, and so on).
func newTestExecutor(t *testing.T, modules ...*fakeModule) (*PlanExecutor, Config, *statestore.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	store, err := statestore.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	moduleRegistry := registry.NewModuleRegistry()
	for _, m := range modules {
		moduleRegistry.Register(m)
	}
	localNode := registry.NewLocalNode(moduleRegistry)
	nodeRegistry := registry.NewNodeRegistry(localNode)

	guard := permission.NewGuard(unrestrictedProfile(), nil, nil)

	cfg := Config{
		Modules:               moduleRegistry,
		Nodes:                 nodeRegistry,
		Guard:                 guard,
		Approval:              approval.NewGate(0, "reject"),
		RateLimit:             ratelimit.New(),
		Resources:             resourcemgr.New(nil, 10),
		Store:                 store,
		Events:                eventbus.NullBus{},
		CascadeSkipDependents: true,
	}
	return New(cfg), cfg, store
}

func rebuild(cfg Config) *PlanExecutor {
	return New(cfg)
}

func simplePlan(planID string, mode model.ExecutionMode, actions ...model.IMLAction) *model.IMLPlan {
	return &model.IMLPlan{
		ProtocolVersion: model.ProtocolVersion,
		PlanID:          planID,
		ExecutionMode:   mode,
		Actions:         actions,
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	require.NoError(t, err)
}

// approvalGatedGuard behaves like unrestrictedProfile but actually honours
// requires_approval, used by tests that exercise the Approval Gate — the
// default test profile sets AllowApprovalBypass so CheckAction never
// returns ApprovalRequired.
func approvalGatedGuard() *permission.Guard {
	profile := &model.PermissionProfile{
		Name:            model.ProfilePowerUser,
		AllowedPatterns: []string{"*.*"},
		MaxPlanActions:  1000,
	}
	return permission.NewGuard(profile, nil, nil)
}

// permissionGuardWithSandbox builds a Guard scoped to a single allowed root,
// used by tests exercising the pre-resolution sandbox check.
func permissionGuardWithSandbox(t *testing.T, root string) *permission.Guard {
	t.Helper()
	return permission.NewGuard(unrestrictedProfile(), nil, []string{root})
}

// alwaysReject is a Scanner stub that rejects every plan outright, used to
// exercise the preflight scanner-rejection path without needing a real
// heuristic match.
type alwaysReject struct{}

func (alwaysReject) ID() string       { return "always-reject" }
func (alwaysReject) Priority() int    { return 0 }
func (alwaysReject) Scan(_ context.Context, _ string, _ *scanner.Context) scanner.Result {
	return scanner.Result{ScannerID: "always-reject", Verdict: scanner.Reject, ThreatTypes: []string{"test"}}
}

func rejectEverythingPipeline(t *testing.T) *scanner.Pipeline {
	t.Helper()
	reg := scanner.NewRegistry()
	reg.Register(alwaysReject{})
	return scanner.NewPipeline(reg)
}
