package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmos-bridge/daemon/internal/model"
)

type fakeScanner struct {
	id       string
	priority int
	result   Result
}

func (f *fakeScanner) ID() string    { return f.id }
func (f *fakeScanner) Priority() int { return f.priority }
func (f *fakeScanner) Scan(_ context.Context, _ string, _ *Context) Result {
	r := f.result
	r.ScannerID = f.id
	return r
}

type panickingScanner struct{}

func (panickingScanner) ID() string    { return "panicker" }
func (panickingScanner) Priority() int { return 1 }
func (panickingScanner) Scan(_ context.Context, _ string, _ *Context) Result {
	panic("boom")
}

func cleanPlan() *model.IMLPlan {
	return &model.IMLPlan{
		PlanID:      "p1",
		Description: "read a file",
		Actions:     []model.IMLAction{{ID: "a1", Module: "filesystem", Action: "read_file"}},
	}
}

func TestPipeline_DisabledAllowsEverything(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeScanner{id: "x", priority: 1, result: Result{Verdict: Reject, RiskScore: 1}})
	p := NewPipeline(reg, WithEnabled(false))

	result := p.ScanInput(context.Background(), cleanPlan())
	assert.True(t, result.Allowed)
}

func TestPipeline_NoScannersAllowsEverything(t *testing.T) {
	p := NewPipeline(NewRegistry())
	result := p.ScanInput(context.Background(), cleanPlan())
	assert.True(t, result.Allowed)
}

func TestPipeline_RejectShortCircuitsWithFailFast(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeScanner{id: "first", priority: 1, result: Result{Verdict: Reject, RiskScore: 0.9}})
	reg.Register(&fakeScanner{id: "second", priority: 2, result: Result{Verdict: Allow}})
	p := NewPipeline(reg, WithFailFast(true))

	result := p.ScanInput(context.Background(), cleanPlan())
	require.False(t, result.Allowed)
	assert.True(t, result.ShortCircuited)
	assert.Len(t, result.ScannerResults, 1)
}

func TestPipeline_WarnDoesNotBlock(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeScanner{id: "x", priority: 1, result: Result{Verdict: Warn, RiskScore: 0.2}})
	p := NewPipeline(reg)

	result := p.ScanInput(context.Background(), cleanPlan())
	assert.True(t, result.Allowed)
	assert.Equal(t, Warn, result.AggregateVerdict)
}

func TestPipeline_RiskScoreAboveThresholdForcesReject(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeScanner{id: "x", priority: 1, result: Result{Verdict: Warn, RiskScore: 0.95}})
	p := NewPipeline(reg, WithRejectThreshold(0.7))

	result := p.ScanInput(context.Background(), cleanPlan())
	assert.False(t, result.Allowed)
	assert.Equal(t, Reject, result.AggregateVerdict)
}

func TestPipeline_PanickingScannerBecomesWarnNotCrash(t *testing.T) {
	reg := NewRegistry()
	reg.Register(panickingScanner{})
	p := NewPipeline(reg)

	var result *PipelineResult
	assert.NotPanics(t, func() {
		result = p.ScanInput(context.Background(), cleanPlan())
	})
	require.Len(t, result.ScannerResults, 1)
	assert.Equal(t, Warn, result.ScannerResults[0].Verdict)
}

func TestPipeline_DisabledScannerSkipped(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeScanner{id: "x", priority: 1, result: Result{Verdict: Reject, RiskScore: 1}})
	reg.Disable("x")
	p := NewPipeline(reg)

	result := p.ScanInput(context.Background(), cleanPlan())
	assert.True(t, result.Allowed)
}
