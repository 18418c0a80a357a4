// Package resourcemgr implements the Resource Manager: a per-module
// concurrency limiter that caps how many actions against a given module
// (filesystem, excel, browser, ...) may run at once, independent of the
// rate limiter's calls-per-window ceiling and the permission profile's
// per-plan action ceiling.
package resourcemgr

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Manager lazily creates one weighted semaphore per module on first
// acquire, sized from limits[module] or the default limit when the
// module has no configured override. Grounded directly on
// original_source's orchestration/resource_manager.py ResourceManager —
// same lazy-semaphore-per-module model, same status() shape, same
// default-limit fallback. Uses golang.org/x/sync/semaphore rather than a
// hand-rolled counting channel: it is the teacher pack's own answer to a
// weighted, context-cancellable counting semaphore (already a direct
// dependency via internal/triggers and the teacher's own module graph).
type Manager struct {
	mu         sync.Mutex
	limits     map[string]int64
	defaultCap int64
	semaphores map[string]*semaphore.Weighted
	inUse      map[string]int64
}

// New builds a Manager. limits overrides the default per-module cap for
// the named modules; defaultLimit applies to every other module. A
// defaultLimit <= 0 falls back to 10, matching the Python default.
func New(limits map[string]int, defaultLimit int) *Manager {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	capped := make(map[string]int64, len(limits))
	for module, n := range limits {
		capped[module] = int64(n)
	}
	return &Manager{
		limits:     capped,
		defaultCap: int64(defaultLimit),
		semaphores: make(map[string]*semaphore.Weighted),
		inUse:      make(map[string]int64),
	}
}

func (m *Manager) limitFor(module string) int64 {
	if n, ok := m.limits[module]; ok {
		return n
	}
	return m.defaultCap
}

func (m *Manager) semaphoreFor(module string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sem, ok := m.semaphores[module]; ok {
		return sem
	}
	sem := semaphore.NewWeighted(m.limitFor(module))
	m.semaphores[module] = sem
	return sem
}

// Release is returned by Acquire and must be called exactly once to
// return the module's slot.
type Release func()

// Acquire blocks until a slot for module is free or ctx is cancelled. On
// success it returns a Release that must be called to give the slot
// back; on failure (ctx cancelled) it returns a nil Release and the
// context's error.
func (m *Manager) Acquire(ctx context.Context, module string) (Release, error) {
	sem := m.semaphoreFor(module)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.inUse[module]++
	m.mu.Unlock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		m.mu.Lock()
		m.inUse[module]--
		m.mu.Unlock()
		sem.Release(1)
	}, nil
}

// ModuleStatus reports a single module's current occupancy.
type ModuleStatus struct {
	Limit     int
	InUse     int
	Available int
}

// Status reports occupancy for every module that has been acquired at
// least once. A module never acquired has no semaphore yet and so does
// not appear, matching the Python implementation's lazy-creation status().
func (m *Manager) Status() map[string]ModuleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ModuleStatus, len(m.semaphores))
	for module := range m.semaphores {
		limit := int(m.limitFor(module))
		inUse := int(m.inUse[module])
		out[module] = ModuleStatus{
			Limit:     limit,
			InUse:     inUse,
			Available: limit - inUse,
		}
	}
	return out
}
