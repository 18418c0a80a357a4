// Package scheduler implements the DAG Scheduler: builds a dependency
// graph from a plan's actions and emits ExecutionWaves (spec.md §4.3),
// plus the ancestor/descendant/independence queries the executor and
// approval-gate UI use. Grounded on original_source's orchestration/dag.py,
// which builds on networkx.DiGraph; this port replaces that with a plain
// adjacency-map graph (Go's stdlib has no graph package, and none of the
// teacher's or pack's dependencies provide one, so a hand-rolled graph is
// the only option here — documented stdlib exception).
package scheduler

import (
	"sort"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
	"github.com/llmos-bridge/daemon/internal/model"
)

// ExecutionWave is one batch of actions that the executor may dispatch
// together (concurrently in PARALLEL/REACTIVE mode, as a singleton in
// SEQUENTIAL mode).
type ExecutionWave struct {
	WaveIndex int
	ActionIDs []string
	IsFinal   bool
}

// DAGScheduler holds the dependency graph built from one plan's actions.
type DAGScheduler struct {
	mode   model.ExecutionMode
	ids    []string
	deps   map[string][]string // action -> depends_on
	rdeps  map[string][]string // action -> dependents (reverse edges)
}

// New builds a scheduler from plan, validating acyclicity. Cycle detection
// is re-run here even though the Protocol validator already checked it
// (spec.md §4.3: "already done in 4.1 but re-checked"), since the
// scheduler must not assume its caller validated the plan.
func New(plan *model.IMLPlan) (*DAGScheduler, error) {
	s := &DAGScheduler{
		mode:  plan.ExecutionMode,
		deps:  make(map[string][]string, len(plan.Actions)),
		rdeps: make(map[string][]string, len(plan.Actions)),
	}
	for _, a := range plan.Actions {
		s.ids = append(s.ids, a.ID)
		s.deps[a.ID] = append([]string{}, a.DependsOn...)
	}
	for _, a := range plan.Actions {
		for _, dep := range a.DependsOn {
			s.rdeps[dep] = append(s.rdeps[dep], a.ID)
		}
	}
	sort.Strings(s.ids)

	if cycle, ok := s.findCycle(); ok {
		return nil, imlerrors.New(imlerrors.DAGCycle, "dependency cycle detected").WithDetail("cycle", cycle)
	}
	return s, nil
}

func (s *DAGScheduler) findCycle() ([]string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(s.ids))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		path = append(path, id)
		for _, dep := range s.deps[id] {
			switch color[dep] {
			case white:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			case gray:
				for i, p := range path {
					if p == dep {
						cyc := append([]string{}, path[i:]...)
						return append(cyc, dep)
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, id := range s.ids {
		if color[id] == white {
			if cyc := visit(id); cyc != nil {
				return cyc, true
			}
		}
	}
	return nil, false
}

// Waves produces the full set of ExecutionWaves for the plan's mode.
func (s *DAGScheduler) Waves() []ExecutionWave {
	switch s.mode {
	case model.ModeSequential:
		return s.sequentialWaves()
	default: // PARALLEL, REACTIVE
		return s.parallelWaves()
	}
}

// sequentialWaves puts one action per wave, in topological order.
func (s *DAGScheduler) sequentialWaves() []ExecutionWave {
	order := s.TopologicalOrder()
	waves := make([]ExecutionWave, len(order))
	for i, id := range order {
		waves[i] = ExecutionWave{WaveIndex: i, ActionIDs: []string{id}, IsFinal: i == len(order)-1}
	}
	return waves
}

// parallelWaves implements Kahn's algorithm: each wave is every currently
// zero-in-degree action, sorted by ID for deterministic tie-break.
func (s *DAGScheduler) parallelWaves() []ExecutionWave {
	indegree := make(map[string]int, len(s.ids))
	for _, id := range s.ids {
		indegree[id] = len(s.deps[id])
	}
	remaining := len(s.ids)

	var waves []ExecutionWave
	waveIndex := 0
	for remaining > 0 {
		var ready []string
		for _, id := range s.ids {
			if indegree[id] == 0 {
				ready = append(ready, id)
			}
		}
		sort.Strings(ready)

		for _, id := range ready {
			indegree[id] = -1 // mark consumed, so it isn't re-selected
			remaining--
			for _, dependent := range s.rdeps[id] {
				indegree[dependent]--
			}
		}

		waves = append(waves, ExecutionWave{
			WaveIndex: waveIndex,
			ActionIDs: ready,
			IsFinal:   remaining == 0,
		})
		waveIndex++
	}
	return waves
}

// TopologicalOrder returns a single valid topological sort, deterministic
// via ID tie-break — used directly by SEQUENTIAL mode and exposed for
// diagnostics/tests.
func (s *DAGScheduler) TopologicalOrder() []string {
	indegree := make(map[string]int, len(s.ids))
	for _, id := range s.ids {
		indegree[id] = len(s.deps[id])
	}
	var order []string
	remaining := len(s.ids)
	consumed := make(map[string]bool, len(s.ids))
	for remaining > 0 {
		var ready []string
		for _, id := range s.ids {
			if !consumed[id] && indegree[id] == 0 {
				ready = append(ready, id)
			}
		}
		sort.Strings(ready)
		for _, id := range ready {
			consumed[id] = true
			order = append(order, id)
			remaining--
			for _, dependent := range s.rdeps[id] {
				indegree[dependent]--
			}
		}
	}
	return order
}

// Successors returns the action IDs that directly depend on id.
func (s *DAGScheduler) Successors(id string) []string {
	return append([]string{}, s.rdeps[id]...)
}

// Predecessors returns id's direct depends_on targets.
func (s *DAGScheduler) Predecessors(id string) []string {
	return append([]string{}, s.deps[id]...)
}

// Ancestors returns every action id transitively depends on.
func (s *DAGScheduler) Ancestors(id string) []string {
	seen := map[string]struct{}{}
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range s.deps[cur] {
			if _, ok := seen[dep]; !ok {
				seen[dep] = struct{}{}
				walk(dep)
			}
		}
	}
	walk(id)
	return sortedKeys(seen)
}

// Descendants returns every action that transitively depends on id.
func (s *DAGScheduler) Descendants(id string) []string {
	seen := map[string]struct{}{}
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range s.rdeps[cur] {
			if _, ok := seen[dep]; !ok {
				seen[dep] = struct{}{}
				walk(dep)
			}
		}
	}
	walk(id)
	return sortedKeys(seen)
}

// IsIndependent reports whether a and b share no ancestor/descendant
// relationship in either direction.
func (s *DAGScheduler) IsIndependent(a, b string) bool {
	if a == b {
		return false
	}
	for _, anc := range s.Ancestors(a) {
		if anc == b {
			return false
		}
	}
	for _, anc := range s.Ancestors(b) {
		if anc == a {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
