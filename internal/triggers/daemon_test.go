package triggers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmos-bridge/daemon/internal/model"
)

// recordingBus collects every emitted event for assertions, mirroring how
// the teacher's wave tests inspect dispatched events rather than wiring a
// real subscriber.
type recordingBus struct {
	mu     sync.Mutex
	events []model.EventRecord
}

func (b *recordingBus) Emit(topic string, event model.EventRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	event[model.KeyTopic] = topic
	b.events = append(b.events, event)
}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		if name, ok := e[model.KeyEvent].(string); ok {
			out = append(out, name)
		}
	}
	return out
}

// stubScheduler records every Enqueue call and returns whatever err is
// configured, standing in for the teacher's mocked
// daemon._scheduler.enqueue.
type stubScheduler struct {
	mu    sync.Mutex
	calls []FireEvent
	err   error
}

func (s *stubScheduler) Enqueue(_ context.Context, _ *Definition, fireEvent FireEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fireEvent)
	return s.err
}

func (s *stubScheduler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func intervalTrigger(id string, seconds float64) *Definition {
	d := New()
	d.TriggerID = id
	d.Name = "test-trigger"
	d.Condition = Condition{Type: Temporal, Params: map[string]any{"interval_seconds": seconds}}
	d.PlanTemplate = map[string]any{"actions": []any{}}
	return d
}

func TestDaemon_Register_ArmsEnabledTrigger(t *testing.T) {
	ctx := context.Background()
	store := openTestTriggerStore(t)
	daemon := NewDaemon(store, nil, &stubScheduler{})

	trig := intervalTrigger("t1", 3600)
	registered, err := daemon.Register(ctx, trig)
	require.NoError(t, err)
	assert.Equal(t, StateActive, registered.State)
	assert.True(t, daemon.IsArmed("t1"))
	daemon.Stop()
}

func TestDaemon_Register_DisabledStaysUnarmed(t *testing.T) {
	ctx := context.Background()
	store := openTestTriggerStore(t)
	daemon := NewDaemon(store, nil, &stubScheduler{})

	trig := intervalTrigger("t1", 3600)
	trig.Enabled = false
	registered, err := daemon.Register(ctx, trig)
	require.NoError(t, err)
	assert.Equal(t, StateRegistered, registered.State)
	assert.False(t, daemon.IsArmed("t1"))
}

func TestDaemon_Register_ChainDepthExceeded(t *testing.T) {
	ctx := context.Background()
	store := openTestTriggerStore(t)
	daemon := NewDaemon(store, nil, &stubScheduler{})

	trig := intervalTrigger("t1", 3600)
	trig.MaxChainDepth = 3
	trig.ChainDepth = 10

	_, err := daemon.Register(ctx, trig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain depth")
	assert.False(t, daemon.IsArmed("t1"))
}

func TestDaemon_ActivateDeactivate_UnknownErrors(t *testing.T) {
	ctx := context.Background()
	store := openTestTriggerStore(t)
	daemon := NewDaemon(store, nil, &stubScheduler{})

	assert.Error(t, daemon.Activate(ctx, "missing"))
	assert.Error(t, daemon.Deactivate(ctx, "missing"))
}

func TestDaemon_Deactivate_DisarmsWatcher(t *testing.T) {
	ctx := context.Background()
	store := openTestTriggerStore(t)
	daemon := NewDaemon(store, nil, &stubScheduler{})

	trig := intervalTrigger("t1", 3600)
	_, err := daemon.Register(ctx, trig)
	require.NoError(t, err)
	require.True(t, daemon.IsArmed("t1"))

	require.NoError(t, daemon.Deactivate(ctx, "t1"))
	assert.False(t, daemon.IsArmed("t1"))

	got, err := daemon.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateInactive, got.State)
	assert.False(t, got.Enabled)
}

func TestDaemon_Delete_RemovesFromStoreAndDisarms(t *testing.T) {
	ctx := context.Background()
	store := openTestTriggerStore(t)
	daemon := NewDaemon(store, nil, &stubScheduler{})

	trig := intervalTrigger("t1", 3600)
	_, err := daemon.Register(ctx, trig)
	require.NoError(t, err)

	deleted, err := daemon.Delete(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, daemon.IsArmed("t1"))

	loaded, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestDaemon_HandleFire_EnqueuesAndRecordsHealth(t *testing.T) {
	ctx := context.Background()
	store := openTestTriggerStore(t)
	scheduler := &stubScheduler{}
	daemon := NewDaemon(store, nil, scheduler)

	trig := intervalTrigger("t1", 3600)
	trig.State = StateActive
	require.NoError(t, store.Save(ctx, trig))
	daemon.defs["t1"] = trig

	daemon.handleFire(trig, "temporal.interval", map[string]any{"n": 1})

	assert.Equal(t, 1, scheduler.callCount())
	assert.Equal(t, "t1", scheduler.calls[0].TriggerID)
	assert.Equal(t, 1, trig.Health.FireCount)
	assert.Equal(t, StateWatching, trig.State)
}

func TestDaemon_HandleFire_ThrottledNeverEnqueues(t *testing.T) {
	ctx := context.Background()
	store := openTestTriggerStore(t)
	bus := &recordingBus{}
	scheduler := &stubScheduler{}
	daemon := NewDaemon(store, bus, scheduler)

	trig := intervalTrigger("t1", 3600)
	trig.State = StateWatching
	trig.MinIntervalSeconds = 3600
	last := time.Now().UTC().Add(-time.Second)
	trig.Health.LastFiredAt = &last
	require.NoError(t, store.Save(ctx, trig))
	daemon.defs["t1"] = trig

	daemon.handleFire(trig, "temporal.interval", map[string]any{})

	assert.Equal(t, 0, scheduler.callCount())
	assert.Equal(t, 1, trig.Health.ThrottleCount)
	assert.Contains(t, bus.names(), "trigger_throttled")
}

func TestDaemon_HandleFire_ChainDepthRejected(t *testing.T) {
	ctx := context.Background()
	store := openTestTriggerStore(t)
	bus := &recordingBus{}
	scheduler := &stubScheduler{}
	daemon := NewDaemon(store, bus, scheduler)

	trig := intervalTrigger("t1", 3600)
	trig.State = StateActive
	trig.MaxChainDepth = 2
	trig.ChainDepth = 2
	require.NoError(t, store.Save(ctx, trig))
	daemon.defs["t1"] = trig

	daemon.handleFire(trig, "temporal.interval", map[string]any{})

	assert.Equal(t, 0, scheduler.callCount())
	assert.Contains(t, bus.names(), "trigger_rejected_chain_depth")
}

func TestDaemon_OnWatcherFire_UnknownTriggerIsNoop(t *testing.T) {
	store := openTestTriggerStore(t)
	scheduler := &stubScheduler{}
	daemon := NewDaemon(store, nil, scheduler)

	daemon.onWatcherFire("never-registered", "temporal.interval", nil)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, scheduler.callCount())
}

func TestBuildPlanPayload_InjectsReactiveModeAndTriggerID(t *testing.T) {
	trig := intervalTrigger("t1", 3600)
	trig.PlanTemplate = map[string]any{"actions": []any{}, "execution_mode": "sequential"}

	payload := buildPlanPayload(trig, "plan-123")
	assert.Equal(t, "plan-123", payload["plan_id"])
	assert.Equal(t, string(model.ModeReactive), payload["execution_mode"])
	meta, ok := payload["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "t1", meta["trigger_id"])
}
