// Package scanner implements the pluggable pre-execution input scanner
// pipeline: a priority-ordered chain of scanners that inspect a serialised
// plan for prompt injection, destructive commands, and credential
// exfiltration before a single action is dispatched.
package scanner

import "context"

// Verdict is a single scanner's opinion of a piece of input.
type Verdict string

const (
	Allow  Verdict = "allow"
	Warn   Verdict = "warn"
	Reject Verdict = "reject"
)

// Result is what one scanner returns for one scan call. A scanner must
// never panic out of Scan — an internal failure is reported as a WARN
// result, not propagated as a Go error, matching the "scan() must not
// raise" contract this is grounded on.
type Result struct {
	ScannerID       string
	Verdict         Verdict
	RiskScore       float64
	ThreatTypes     []string
	Details         string
	MatchedPatterns []string
	ScanDurationMS  float64
	Metadata        map[string]any
}

// Context carries plan-shape information a scanner may use beyond the raw
// text, e.g. to weight risk by which modules are in play.
type Context struct {
	PlanID          string
	PlanDescription string
	ActionCount     int
	ModuleIDs       []string
	SessionID       string
}

// Scanner is the contract every pluggable input scanner implements.
// Priority determines execution order in the pipeline — lower runs first.
type Scanner interface {
	ID() string
	Priority() int
	Scan(ctx context.Context, text string, sctx *Context) Result
}

// Status describes a scanner for introspection endpoints.
type Status struct {
	ScannerID   string `json:"scanner_id"`
	Priority    int    `json:"priority"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}
