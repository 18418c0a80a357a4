package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBindAndGet(t *testing.T) {
	p := New()
	p.Bind("plan-1", map[string]any{"trigger_id": "t1", "fired_at": "2026-07-30T00:00:00Z"})

	ctx, ok := p.Get("plan-1")
	assert.True(t, ok)
	assert.Equal(t, "t1", ctx["trigger_id"])
}

func TestGet_UnknownPlanReturnsFalse(t *testing.T) {
	p := New()
	_, ok := p.Get("missing")
	assert.False(t, ok)
}

func TestUnbind_RemovesBinding(t *testing.T) {
	p := New()
	p.Bind("plan-1", map[string]any{"trigger_id": "t1"})
	p.Unbind("plan-1")

	_, ok := p.Get("plan-1")
	assert.False(t, ok)
	assert.Equal(t, 0, p.ActiveCount())
}

func TestUnbind_UnknownPlanIsNoop(t *testing.T) {
	p := New()
	p.Unbind("never-bound")
	assert.Equal(t, 0, p.ActiveCount())
}

func TestActiveCountAndPlanIDs(t *testing.T) {
	p := New()
	p.Bind("plan-1", map[string]any{})
	p.Bind("plan-2", map[string]any{})

	assert.Equal(t, 2, p.ActiveCount())
	assert.ElementsMatch(t, []string{"plan-1", "plan-2"}, p.ActivePlanIDs())
}

func TestBind_OverwritesExistingBinding(t *testing.T) {
	p := New()
	p.Bind("plan-1", map[string]any{"trigger_id": "t1"})
	p.Bind("plan-1", map[string]any{"trigger_id": "t2"})

	ctx, ok := p.Get("plan-1")
	assert.True(t, ok)
	assert.Equal(t, "t2", ctx["trigger_id"])
	assert.Equal(t, 1, p.ActiveCount())
}

func TestConcurrentBindAndGet(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			planID := fmt.Sprintf("plan-%d", i)
			p.Bind(planID, map[string]any{"n": i})
			_, _ = p.Get(planID)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, p.ActiveCount())
}
