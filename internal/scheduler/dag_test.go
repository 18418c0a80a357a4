package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imlerrors "github.com/llmos-bridge/daemon/internal/iml/errors"
	"github.com/llmos-bridge/daemon/internal/model"
)

func plan(mode model.ExecutionMode, actions ...model.IMLAction) *model.IMLPlan {
	return &model.IMLPlan{ExecutionMode: mode, Actions: actions}
}

func TestNew_DetectsCycle(t *testing.T) {
	p := plan(model.ModeParallel,
		model.IMLAction{ID: "a", DependsOn: []string{"b"}},
		model.IMLAction{ID: "b", DependsOn: []string{"a"}},
	)
	_, err := New(p)
	require.Error(t, err)
	kind, _ := imlerrors.KindOf(err)
	assert.Equal(t, imlerrors.DAGCycle, kind)
}

func TestSequentialWaves_OnePerWave(t *testing.T) {
	p := plan(model.ModeSequential,
		model.IMLAction{ID: "a1"},
		model.IMLAction{ID: "a2", DependsOn: []string{"a1"}},
		model.IMLAction{ID: "a3", DependsOn: []string{"a2"}},
	)
	s, err := New(p)
	require.NoError(t, err)
	waves := s.Waves()
	require.Len(t, waves, 3)
	for i, w := range waves {
		assert.Len(t, w.ActionIDs, 1)
		assert.Equal(t, i == len(waves)-1, w.IsFinal)
	}
	assert.Equal(t, []string{"a1"}, waves[0].ActionIDs)
	assert.Equal(t, []string{"a2"}, waves[1].ActionIDs)
	assert.Equal(t, []string{"a3"}, waves[2].ActionIDs)
}

func TestParallelWaves_KahnBatching(t *testing.T) {
	p := plan(model.ModeParallel,
		model.IMLAction{ID: "a1"},
		model.IMLAction{ID: "a2"},
		model.IMLAction{ID: "a3", DependsOn: []string{"a1", "a2"}},
	)
	s, err := New(p)
	require.NoError(t, err)
	waves := s.Waves()
	require.Len(t, waves, 2)
	assert.ElementsMatch(t, []string{"a1", "a2"}, waves[0].ActionIDs)
	assert.False(t, waves[0].IsFinal)
	assert.Equal(t, []string{"a3"}, waves[1].ActionIDs)
	assert.True(t, waves[1].IsFinal)
}

func TestParallelWaves_DeterministicTieBreak(t *testing.T) {
	p := plan(model.ModeParallel,
		model.IMLAction{ID: "zzz"},
		model.IMLAction{ID: "aaa"},
		model.IMLAction{ID: "mmm"},
	)
	s, err := New(p)
	require.NoError(t, err)
	waves := s.Waves()
	require.Len(t, waves, 1)
	assert.Equal(t, []string{"aaa", "mmm", "zzz"}, waves[0].ActionIDs)
}

func TestTopologicalOrder_IsDeterministicAndValid(t *testing.T) {
	p := plan(model.ModeSequential,
		model.IMLAction{ID: "a2", DependsOn: []string{"a1"}},
		model.IMLAction{ID: "a1"},
		model.IMLAction{ID: "a3", DependsOn: []string{"a2"}},
	)
	s, err := New(p)
	require.NoError(t, err)
	order := s.TopologicalOrder()
	assert.Equal(t, []string{"a1", "a2", "a3"}, order)

	s2, _ := New(p)
	assert.Equal(t, order, s2.TopologicalOrder())
}

func TestAncestorsDescendantsIndependence(t *testing.T) {
	p := plan(model.ModeParallel,
		model.IMLAction{ID: "a1"},
		model.IMLAction{ID: "a2", DependsOn: []string{"a1"}},
		model.IMLAction{ID: "a3", DependsOn: []string{"a2"}},
		model.IMLAction{ID: "b1"},
	)
	s, err := New(p)
	require.NoError(t, err)

	assert.Equal(t, []string{"a1", "a2"}, s.Ancestors("a3"))
	assert.Equal(t, []string{"a2", "a3"}, s.Descendants("a1"))
	assert.True(t, s.IsIndependent("a1", "b1"))
	assert.False(t, s.IsIndependent("a1", "a2"))
	assert.False(t, s.IsIndependent("a1", "a1"))
}

func TestZeroActions_EmptyWaves(t *testing.T) {
	p := plan(model.ModeParallel)
	s, err := New(p)
	require.NoError(t, err)
	assert.Empty(t, s.Waves())
}
