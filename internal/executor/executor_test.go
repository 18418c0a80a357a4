package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmos-bridge/daemon/internal/model"
	"github.com/llmos-bridge/daemon/internal/ratelimit"
)

func TestRun_SequentialSuccess(t *testing.T) {
	exec, _, _ := newTestExecutor(t, echoModule("fs"))

	plan := simplePlan("p1", model.ModeSequential,
		model.IMLAction{ID: "a1", Module: "fs", Action: "read"},
		model.IMLAction{ID: "a2", Module: "fs", Action: "write", DependsOn: []string{"a1"}},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanCompleted, state.PlanStatus)
	assert.Equal(t, model.ActionCompleted, state.Actions["a1"].Status)
	assert.Equal(t, model.ActionCompleted, state.Actions["a2"].Status)
}

func TestRun_ParallelWaveSuccess(t *testing.T) {
	exec, _, _ := newTestExecutor(t, echoModule("fs"))

	plan := simplePlan("p2", model.ModeParallel,
		model.IMLAction{ID: "a1", Module: "fs", Action: "read"},
		model.IMLAction{ID: "a2", Module: "fs", Action: "read"},
		model.IMLAction{ID: "a3", Module: "fs", Action: "write", DependsOn: []string{"a1", "a2"}},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanCompleted, state.PlanStatus)
	for _, id := range []string{"a1", "a2", "a3"} {
		assert.Equal(t, model.ActionCompleted, state.Actions[id].Status)
	}
}

func TestRun_CascadeSkipsDependentsOfFailedAction(t *testing.T) {
	exec, _, _ := newTestExecutor(t, failingModule("fs", "disk full"), echoModule("net"))

	plan := simplePlan("p3", model.ModeSequential,
		model.IMLAction{ID: "a1", Module: "fs", Action: "write", OnError: model.OnErrorContinue},
		model.IMLAction{ID: "a2", Module: "net", Action: "post", DependsOn: []string{"a1"}},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFailed, state.PlanStatus)
	assert.Equal(t, model.ActionFailed, state.Actions["a1"].Status)
	assert.Equal(t, model.ActionSkipped, state.Actions["a2"].Status)
	assert.Contains(t, state.Actions["a2"].Error, "dependency")
}

func TestRun_OnErrorHaltStopsRemainingWaves(t *testing.T) {
	exec, _, _ := newTestExecutor(t, failingModule("fs", "boom"), echoModule("net"))

	plan := simplePlan("p4", model.ModeSequential,
		model.IMLAction{ID: "a1", Module: "fs", Action: "write", OnError: model.OnErrorHalt},
		model.IMLAction{ID: "a2", Module: "net", Action: "post", DependsOn: []string{"a1"}},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFailed, state.PlanStatus)
	assert.Equal(t, model.ActionFailed, state.Actions["a1"].Status)
	// a2 never ran: the wave loop halted before reaching its wave.
	assert.Equal(t, model.ActionPending, state.Actions["a2"].Status)
}

func TestRun_TemplateResolutionFailureHaltsPlan(t *testing.T) {
	exec, _, _ := newTestExecutor(t, echoModule("fs"))

	plan := simplePlan("p5", model.ModeSequential,
		model.IMLAction{
			ID: "a1", Module: "fs", Action: "read",
			Params: map[string]any{"path": "{{result.missing.value}}"},
		},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFailed, state.PlanStatus)
	assert.Equal(t, model.ActionFailed, state.Actions["a1"].Status)
	assert.NotEmpty(t, state.Actions["a1"].Error)
}

func TestRun_SandboxRejectsPathOutsideAllowedRoots(t *testing.T) {
	exec, cfg, _ := newTestExecutor(t, echoModule("fs"))
	cfg.Guard = permissionGuardWithSandbox(t, "/tmp/sandbox")
	exec = rebuild(cfg)

	plan := simplePlan("p6", model.ModeSequential,
		model.IMLAction{
			ID: "a1", Module: "fs", Action: "write",
			Params: map[string]any{"path": "/etc/passwd"},
		},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFailed, state.PlanStatus)
	assert.Equal(t, model.ActionFailed, state.Actions["a1"].Status)
}

func TestRun_RateLimitRejectsSecondCall(t *testing.T) {
	exec, cfg, _ := newTestExecutor(t, echoModule("fs"))
	one := 1
	cfg.RateLimits = map[string]ratelimit.Limits{"fs.read": {PerMinute: &one}}
	exec = rebuild(cfg)

	plan := simplePlan("p7", model.ModeSequential,
		model.IMLAction{ID: "a1", Module: "fs", Action: "read", OnError: model.OnErrorContinue},
		model.IMLAction{ID: "a2", Module: "fs", Action: "read"},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCompleted, state.Actions["a1"].Status)
	assert.Equal(t, model.ActionFailed, state.Actions["a2"].Status)
}

func TestRun_FallbackChainRecoversFromDispatchFailure(t *testing.T) {
	exec, cfg, _ := newTestExecutor(t, failingModule("primary", "unreachable"), echoModule("backup"))
	cfg.FallbackChains = map[string][]string{"primary": {"backup"}}
	exec = rebuild(cfg)

	plan := simplePlan("p8", model.ModeSequential,
		model.IMLAction{ID: "a1", Module: "primary", Action: "fetch"},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanCompleted, state.PlanStatus)
	assert.Equal(t, model.ActionCompleted, state.Actions["a1"].Status)
}

func TestRun_RetryExhaustsThenHalts(t *testing.T) {
	attempts := 0
	m := &fakeModule{id: "flaky", execute: func(_ context.Context, _ string, _ map[string]any) (any, error) {
		attempts++
		return nil, assertionError("still failing")
	}}
	exec, _, _ := newTestExecutor(t, m)

	plan := simplePlan("p9", model.ModeSequential,
		model.IMLAction{
			ID: "a1", Module: "flaky", Action: "try",
			OnError: model.OnErrorRetry,
			Retry:   &model.RetryPolicy{MaxAttempts: 3, BackoffSeconds: 0.01},
		},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFailed, state.PlanStatus)
	assert.Equal(t, model.ActionFailed, state.Actions["a1"].Status)
	assert.Equal(t, 3, attempts)
}

func TestRun_RetrySucceedsBeforeExhaustion(t *testing.T) {
	attempts := 0
	m := &fakeModule{id: "flaky", execute: func(_ context.Context, _ string, _ map[string]any) (any, error) {
		attempts++
		if attempts < 2 {
			return nil, assertionError("transient")
		}
		return "ok", nil
	}}
	exec, _, _ := newTestExecutor(t, m)

	plan := simplePlan("p10", model.ModeSequential,
		model.IMLAction{
			ID: "a1", Module: "flaky", Action: "try",
			OnError: model.OnErrorRetry,
			Retry:   &model.RetryPolicy{MaxAttempts: 3, BackoffSeconds: 0.01},
		},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanCompleted, state.PlanStatus)
	assert.Equal(t, model.ActionCompleted, state.Actions["a1"].Status)
	assert.Equal(t, 2, attempts)
}

func TestRun_RollbackRunsInLIFOOrderOnHalt(t *testing.T) {
	var rolledBack []string
	ok := echoModule("svc")
	failing := failingModule("bad", "network down")
	exec, cfg, _ := newTestExecutor(t, ok, failing)
	cfg.Modules.Register(&fakeModule{id: "rb", execute: func(_ context.Context, action string, params map[string]any) (any, error) {
		rolledBack = append(rolledBack, params["tag"].(string))
		return nil, nil
	}})
	exec = rebuild(cfg)

	plan := simplePlan("p11", model.ModeSequential,
		model.IMLAction{
			ID: "a1", Module: "svc", Action: "create",
			Rollback: &model.IMLAction{ID: "a1-rb", Module: "rb", Action: "undo", Params: map[string]any{"tag": "a1"}},
		},
		model.IMLAction{
			ID: "a2", Module: "svc", Action: "create", DependsOn: []string{"a1"},
			Rollback: &model.IMLAction{ID: "a2-rb", Module: "rb", Action: "undo", Params: map[string]any{"tag": "a2"}},
		},
		model.IMLAction{ID: "a3", Module: "bad", Action: "create", DependsOn: []string{"a2"}},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanFailed, state.PlanStatus)
	assert.Equal(t, []string{"a2", "a1"}, rolledBack)
}

func TestRun_PlanRejectedByScannerNeverStartsActions(t *testing.T) {
	exec, cfg, _ := newTestExecutor(t, echoModule("fs"))
	cfg.Scanners = rejectEverythingPipeline(t)
	exec = rebuild(cfg)

	plan := simplePlan("p12", model.ModeSequential,
		model.IMLAction{ID: "a1", Module: "fs", Action: "read"},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanRejected, state.PlanStatus)
	require.NotNil(t, state.RejectionDetails)
}

func TestRun_InvalidExecutionModeRejected(t *testing.T) {
	exec, _, _ := newTestExecutor(t, echoModule("fs"))
	plan := simplePlan("p13", model.ExecutionMode("bogus"),
		model.IMLAction{ID: "a1", Module: "fs", Action: "read"},
	)

	state, err := exec.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, model.PlanRejected, state.PlanStatus)
}

func TestBackoffDelay_DoublesPerAttempt(t *testing.T) {
	assert.Equal(t, time.Second, backoffDelay(1, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(1, 2))
	assert.Equal(t, 4*time.Second, backoffDelay(1, 3))
}

func TestAlternativeHints_NamesFallbackModule(t *testing.T) {
	hints := alternativeHints("permission denied: /etc", "fs", "write", map[string][]string{"fs": {"fs2"}})
	assert.Contains(t, hints[0], "sandboxed path")
	assert.Contains(t, hints[len(hints)-1], "fs2")
}
