package scanner

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/llmos-bridge/daemon/internal/model"
)

// PipelineResult is the aggregated outcome of running every enabled scanner
// against one plan.
type PipelineResult struct {
	Allowed          bool
	AggregateVerdict Verdict
	MaxRiskScore     float64
	ScannerResults   []Result
	ShortCircuited   bool
	TotalDurationMS  float64
}

// Pipeline runs the registry's enabled scanners in priority order before a
// plan reaches the executor. This is the "Step 1.3" gate referenced in
// spec.md §4.6/§4.2 — scanners run once, before the permission guard's
// plan preflight, so a malicious plan never pays for DAG validation either.
type Pipeline struct {
	registry        *Registry
	failFast        bool
	rejectThreshold float64
	warnThreshold   float64
	enabled         bool
}

type PipelineOption func(*Pipeline)

func WithFailFast(v bool) PipelineOption           { return func(p *Pipeline) { p.failFast = v } }
func WithRejectThreshold(v float64) PipelineOption { return func(p *Pipeline) { p.rejectThreshold = v } }
func WithWarnThreshold(v float64) PipelineOption   { return func(p *Pipeline) { p.warnThreshold = v } }
func WithEnabled(v bool) PipelineOption            { return func(p *Pipeline) { p.enabled = v } }

// NewPipeline builds a Pipeline with spec.md's documented defaults
// (fail_fast=true, reject_threshold=0.7, warn_threshold=0.3, enabled=true),
// overridable via options.
func NewPipeline(registry *Registry, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry:        registry,
		failFast:        true,
		rejectThreshold: 0.7,
		warnThreshold:   0.3,
		enabled:         true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Enabled() bool      { return p.enabled }
func (p *Pipeline) SetEnabled(v bool)  { p.enabled = v }
func (p *Pipeline) Registry() *Registry { return p.registry }

// ScanInput runs every enabled scanner against plan, in priority order,
// short-circuiting on the first REJECT if fail_fast is set. A scanner that
// panics is treated the same as one that returned an error result: recorded
// as a WARN, not allowed to bring down the pipeline.
func (p *Pipeline) ScanInput(ctx context.Context, plan *model.IMLPlan) *PipelineResult {
	if !p.enabled {
		return &PipelineResult{Allowed: true, AggregateVerdict: Allow}
	}

	scanners := p.registry.ListEnabled()
	if len(scanners) == 0 {
		return &PipelineResult{Allowed: true, AggregateVerdict: Allow}
	}

	text := serializePlan(plan)
	sctx := &Context{
		PlanID:          plan.PlanID,
		PlanDescription: plan.Description,
		ActionCount:     len(plan.Actions),
		ModuleIDs:       moduleIDs(plan),
		SessionID:       plan.SessionID,
	}

	start := time.Now()
	result := &PipelineResult{Allowed: true, AggregateVerdict: Allow}

	for _, s := range scanners {
		scanResult := p.runOne(ctx, s, text, sctx)
		result.ScannerResults = append(result.ScannerResults, scanResult)

		if scanResult.RiskScore > result.MaxRiskScore {
			result.MaxRiskScore = scanResult.RiskScore
		}
		switch {
		case scanResult.Verdict == Reject:
			result.AggregateVerdict = Reject
			result.Allowed = false
		case scanResult.Verdict == Warn && result.AggregateVerdict != Reject:
			result.AggregateVerdict = Warn
		}

		if p.failFast && scanResult.Verdict == Reject {
			result.ShortCircuited = true
			slog.Warn("scanner pipeline short-circuited", "scanner_id", s.ID(), "risk_score", scanResult.RiskScore)
			break
		}
	}

	result.TotalDurationMS = float64(time.Since(start).Microseconds()) / 1000.0

	if result.MaxRiskScore >= p.rejectThreshold && result.AggregateVerdict != Reject {
		result.AggregateVerdict = Reject
		result.Allowed = false
	}

	return result
}

func (p *Pipeline) runOne(ctx context.Context, s Scanner, text string, sctx *Context) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scanner panicked", "scanner_id", s.ID(), "panic", r)
			result = Result{ScannerID: s.ID(), Verdict: Warn, Details: "scanner panicked"}
		}
		result.ScanDurationMS = float64(time.Since(start).Microseconds()) / 1000.0
	}()
	return s.Scan(ctx, text, sctx)
}

// PipelineStatus describes the pipeline for REST introspection.
type PipelineStatus struct {
	Enabled         bool     `json:"enabled"`
	FailFast        bool     `json:"fail_fast"`
	RejectThreshold float64  `json:"reject_threshold"`
	WarnThreshold   float64  `json:"warn_threshold"`
	Scanners        []Status `json:"scanners"`
}

func (p *Pipeline) Status() PipelineStatus {
	all := p.registry.ListAll()
	statuses := make([]Status, 0, len(all))
	for _, s := range all {
		statuses = append(statuses, Status{
			ScannerID: s.ID(),
			Priority:  s.Priority(),
			Enabled:   p.registry.IsEnabled(s.ID()),
		})
	}
	return PipelineStatus{
		Enabled:         p.enabled,
		FailFast:        p.failFast,
		RejectThreshold: p.rejectThreshold,
		WarnThreshold:   p.warnThreshold,
		Scanners:        statuses,
	}
}

type serialisedAction struct {
	ID     string         `json:"id"`
	Module string         `json:"module"`
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

type serialisedPlan struct {
	PlanID      string             `json:"plan_id"`
	Description string             `json:"description"`
	Actions     []serialisedAction `json:"actions"`
}

// serializePlan renders the subset of the plan scanners need to see as
// JSON text, matching SecurityPipeline._serialize_plan's field selection.
func serializePlan(plan *model.IMLPlan) string {
	sp := serialisedPlan{PlanID: plan.PlanID, Description: plan.Description}
	for _, a := range plan.Actions {
		sp.Actions = append(sp.Actions, serialisedAction{ID: a.ID, Module: a.Module, Action: a.Action, Params: a.Params})
	}
	data, err := json.Marshal(sp)
	if err != nil {
		return plan.Description
	}
	return string(data)
}

func moduleIDs(plan *model.IMLPlan) []string {
	set := make(map[string]struct{})
	for _, a := range plan.Actions {
		set[a.Module] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
