package triggers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/llmos-bridge/daemon/internal/eventbus"
	"github.com/llmos-bridge/daemon/internal/metrics"
	"github.com/llmos-bridge/daemon/internal/model"
	"github.com/llmos-bridge/daemon/internal/triggers/watchers"
)

// Scheduler is the interface the Trigger Daemon enqueues a fired trigger's
// plan through, decoupling it from the concrete Plan Executor the way
// original_source's daemon tests substitute a mock at
// TriggerDaemon._scheduler.enqueue. ExecutorScheduler is the production
// implementation.
type Scheduler interface {
	Enqueue(ctx context.Context, trigger *Definition, fireEvent FireEvent) error
}

// Daemon owns the lifecycle of every registered trigger: persistence,
// watcher arm/disarm, and the on-fire admission pipeline — spec.md
// §4.14's Trigger Daemon.
type Daemon struct {
	store     *Store
	events    eventbus.Bus
	scheduler Scheduler
	metrics   *metrics.Metrics

	mu         sync.Mutex
	started    bool
	defs       map[string]*Definition
	watcherSet map[string]watchers.Watcher
}

// SetMetrics wires in the daemon's Prometheus instrumentation. Optional —
// a nil metrics pointer (the zero value before this is called) means fire
// outcomes simply aren't recorded, the same nil-safe pattern the executor
// uses for its own *metrics.Metrics field.
func (d *Daemon) SetMetrics(m *metrics.Metrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = m
}

func NewDaemon(store *Store, events eventbus.Bus, scheduler Scheduler) *Daemon {
	if events == nil {
		events = eventbus.NullBus{}
	}
	return &Daemon{
		store:      store,
		events:     events,
		scheduler:  scheduler,
		defs:       make(map[string]*Definition),
		watcherSet: make(map[string]watchers.Watcher),
	}
}

// Start is idempotent: it loads every enabled ACTIVE/WATCHING trigger from
// the store and re-arms its watcher, preserving the REGISTERED/INACTIVE/
// ACTIVE sets and their counters across a stop/start cycle (spec.md §8
// edge case).
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	active, err := d.store.LoadActive(ctx)
	if err != nil {
		return fmt.Errorf("load active triggers: %w", err)
	}
	for _, t := range active {
		d.defs[t.TriggerID] = t
		d.armLocked(t)
	}
	d.started = true
	return nil
}

// Stop is idempotent: it disarms every running watcher and clears the
// started flag, without touching the store.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	for id := range d.watcherSet {
		d.disarmLocked(id)
	}
	d.started = false
}

// Register persists a new trigger, refusing one whose chain_depth already
// exceeds its own max_chain_depth (loop protection), and arms its watcher
// when enabled — an unarmed (disabled) trigger stays REGISTERED.
func (d *Daemon) Register(ctx context.Context, t *Definition) (*Definition, error) {
	if t.ChainDepth > t.MaxChainDepth {
		return nil, fmt.Errorf("trigger %q exceeds max chain depth (%d > %d)", t.TriggerID, t.ChainDepth, t.MaxChainDepth)
	}

	d.mu.Lock()
	d.defs[t.TriggerID] = t
	if t.Enabled {
		d.armLocked(t)
	}
	d.mu.Unlock()

	if err := d.store.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Activate enables and arms a known trigger.
func (d *Daemon) Activate(ctx context.Context, id string) error {
	d.mu.Lock()
	t, ok := d.defs[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("unknown trigger %q", id)
	}
	t.Enabled = true
	d.armLocked(t)
	d.mu.Unlock()
	return d.store.Save(ctx, t)
}

// Deactivate disarms a known trigger's watcher and marks it INACTIVE.
func (d *Daemon) Deactivate(ctx context.Context, id string) error {
	d.mu.Lock()
	t, ok := d.defs[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("unknown trigger %q", id)
	}
	d.disarmLocked(id)
	t.Enabled = false
	t.State = StateInactive
	d.mu.Unlock()
	return d.store.Save(ctx, t)
}

// Delete disarms (if armed) and permanently removes a trigger, reporting
// whether it existed.
func (d *Daemon) Delete(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	d.disarmLocked(id)
	delete(d.defs, id)
	d.mu.Unlock()
	return d.store.Delete(ctx, id)
}

// Get returns a trigger by ID, preferring the in-memory copy (which
// reflects in-flight state/health changes the store may not have caught
// up with yet) and falling back to the store.
func (d *Daemon) Get(ctx context.Context, id string) (*Definition, error) {
	d.mu.Lock()
	t, ok := d.defs[id]
	d.mu.Unlock()
	if ok {
		return t, nil
	}
	return d.store.Get(ctx, id)
}

func (d *Daemon) ListAll(ctx context.Context) ([]*Definition, error) {
	return d.store.ListAll(ctx)
}

func (d *Daemon) ListActive(ctx context.Context) ([]*Definition, error) {
	return d.store.LoadActive(ctx)
}

// IsArmed reports whether a watcher is currently running for id.
func (d *Daemon) IsArmed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.watcherSet[id]
	return ok
}

// armLocked builds and starts a watcher for t if one isn't already
// running. Must be called with d.mu held.
func (d *Daemon) armLocked(t *Definition) {
	if _, exists := d.watcherSet[t.TriggerID]; exists {
		return
	}
	w, err := buildWatcher(t.TriggerID, t.Condition, d.onWatcherFire)
	if err != nil {
		t.State = StateFailed
		t.Health.RecordFail(err.Error())
		return
	}
	w.Start()
	d.watcherSet[t.TriggerID] = w
	if t.State != StateWatching && t.State != StateFired {
		t.State = StateActive
	}
	if d.metrics != nil {
		d.metrics.ArmedTriggers.Set(float64(len(d.watcherSet)))
	}
}

// disarmLocked stops and forgets t's watcher, if any. Must be called with
// d.mu held.
func (d *Daemon) disarmLocked(id string) {
	if w, exists := d.watcherSet[id]; exists {
		w.Stop()
		delete(d.watcherSet, id)
	}
	if d.metrics != nil {
		d.metrics.ArmedTriggers.Set(float64(len(d.watcherSet)))
	}
}

// onWatcherFire is the fire_callback every watcher is constructed with. It
// runs on the watcher's own goroutine, so admission and dispatch are
// handed off to a fresh goroutine rather than blocking the watcher's loop
// for the duration of a full plan run.
func (d *Daemon) onWatcherFire(triggerID, eventType string, payload map[string]any) {
	d.mu.Lock()
	t, ok := d.defs[triggerID]
	d.mu.Unlock()
	if !ok {
		return
	}
	go d.handleFire(t, eventType, payload)
}

// handleFire runs the Trigger Daemon's 7-step on-fire algorithm (spec.md
// §4.14): fire-ready + throttle + chain-depth admission, plan
// instantiation and dispatch through the Scheduler, then health/state
// finalisation once the plan completes (or fails to even start).
func (d *Daemon) handleFire(t *Definition, eventType string, payload map[string]any) {
	ctx := context.Background()

	d.mu.Lock()
	canFire := t.CanFire()
	if !canFire {
		t.Health.RecordThrottle()
	}
	d.mu.Unlock()
	if !canFire {
		_ = d.store.Save(ctx, t)
		d.recordFireOutcome(t.TriggerID, "throttled")
		d.emitTrigger("trigger_throttled", t)
		return
	}

	d.mu.Lock()
	chainExceeded := t.ChainDepth >= t.MaxChainDepth
	d.mu.Unlock()
	if chainExceeded {
		d.recordFireOutcome(t.TriggerID, "rejected_chain_depth")
		d.emitTrigger("trigger_rejected_chain_depth", t)
		return
	}

	fireEvent := NewFireEvent(t.TriggerID, t.Name, eventType, payload)
	fireEvent.PlanID = t.GeneratePlanID()

	d.mu.Lock()
	t.State = StateFired
	d.mu.Unlock()
	_ = d.store.Save(ctx, t)

	if d.scheduler == nil {
		return
	}

	start := time.Now()
	err := d.scheduler.Enqueue(ctx, t, fireEvent)
	latencyMs := float64(time.Since(start).Milliseconds())

	d.mu.Lock()
	if err != nil {
		t.Health.RecordFail(err.Error())
	} else {
		t.Health.RecordFire(latencyMs)
	}
	if t.State != StateFailed {
		t.State = StateWatching
	}
	d.mu.Unlock()
	_ = d.store.Save(ctx, t)

	if err != nil {
		d.recordFireOutcome(t.TriggerID, "failed")
	} else {
		d.recordFireOutcome(t.TriggerID, "dispatched")
	}
}

// recordFireOutcome is a nil-safe wrapper around the fire-count metric —
// metrics are optional instrumentation, never load-bearing for dispatch.
func (d *Daemon) recordFireOutcome(triggerID, outcome string) {
	if d.metrics != nil {
		d.metrics.TriggerFiresTotal.WithLabelValues(triggerID, outcome).Inc()
	}
}

func (d *Daemon) emitTrigger(eventName string, t *Definition) {
	d.events.Emit(model.TopicTriggers, eventbus.NewUniversalEvent(map[string]any{
		model.KeyEvent: eventName,
		"trigger_id":   t.TriggerID,
		"name":         t.Name,
	}, eventbus.UniversalEventOptions{}))
}

// buildPlanPayload instantiates a trigger's plan_template into a
// submittable plan: plan_id is injected, execution_mode is forced to
// "reactive", and metadata.trigger_id records provenance — spec.md §4.14
// step 4.
func buildPlanPayload(t *Definition, planID string) map[string]any {
	payload := make(map[string]any, len(t.PlanTemplate)+2)
	for k, v := range t.PlanTemplate {
		payload[k] = v
	}
	payload["plan_id"] = planID
	payload["execution_mode"] = string(model.ModeReactive)

	metadata := map[string]any{}
	if existing, ok := payload["metadata"].(map[string]any); ok {
		for k, v := range existing {
			metadata[k] = v
		}
	}
	metadata["trigger_id"] = t.TriggerID
	payload["metadata"] = metadata
	return payload
}
