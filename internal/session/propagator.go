// Package session implements the Session Context Propagator: a thin
// plan_id -> trigger_context mapping the Template Resolver consults for
// the {{trigger.*}} scope when resolving a plan that a trigger fired.
package session

import (
	"sync"
	"sync/atomic"
)

// Propagator binds trigger context to the plan IDs a trigger spawns, so
// the resolver can look up {{trigger.*}} values without the trigger
// daemon and the executor sharing any other state. Grounded on spec.md
// §4.15's explicit concurrency contract: writes (bind/unbind) serialise
// through a single mutex and replace the whole snapshot map, while reads
// (get/active_count/active_plan_ids) load the current snapshot via an
// atomic pointer and never block on the write lock — matching the
// teacher's pkg/session.Manager in shape (map keyed by ID, behind a
// lock) but swapped to a copy-on-write snapshot so Get can be lock-free
// as the spec requires.
type Propagator struct {
	writeMu sync.Mutex
	current atomic.Pointer[map[string]map[string]any]
}

func New() *Propagator {
	p := &Propagator{}
	empty := make(map[string]map[string]any)
	p.current.Store(&empty)
	return p
}

// Bind associates planID with triggerContext, replacing any existing
// binding for the same plan.
func (p *Propagator) Bind(planID string, triggerContext map[string]any) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	old := *p.current.Load()
	next := make(map[string]map[string]any, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[planID] = triggerContext
	p.current.Store(&next)
}

// Get returns the trigger context bound to planID, if any. Lock-free.
func (p *Propagator) Get(planID string) (map[string]any, bool) {
	snapshot := *p.current.Load()
	ctx, ok := snapshot[planID]
	return ctx, ok
}

// Unbind removes planID's binding, if present.
func (p *Propagator) Unbind(planID string) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	old := *p.current.Load()
	if _, ok := old[planID]; !ok {
		return
	}
	next := make(map[string]map[string]any, len(old)-1)
	for k, v := range old {
		if k == planID {
			continue
		}
		next[k] = v
	}
	p.current.Store(&next)
}

// ActiveCount reports how many plans currently have bound trigger
// context. Lock-free.
func (p *Propagator) ActiveCount() int {
	return len(*p.current.Load())
}

// ActivePlanIDs returns the plan IDs currently bound. Lock-free.
func (p *Propagator) ActivePlanIDs() []string {
	snapshot := *p.current.Load()
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	return ids
}
