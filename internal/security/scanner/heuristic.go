package scanner

import (
	"context"
	"regexp"
	"strings"
)

// heuristicPattern is one regex/weight entry in the built-in catalogue.
type heuristicPattern struct {
	name       string
	threatType string
	re         *regexp.Regexp
	weight     float64
}

// heuristicCatalogue is the zero-dependency, sub-millisecond pattern set the
// heuristic scanner checks every plan against. Grounded on spec.md's
// description of a regex-based scanner and on the threat classes exercised
// by original_source's test_scanner_pipeline.py ("ignore all previous
// instructions" prompt injection, "rm -rf /" destructive command).
var heuristicCatalogue = []heuristicPattern{
	{
		name:       "prompt_injection_ignore_instructions",
		threatType: "prompt_injection",
		re:         regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
		weight:     0.8,
	},
	{
		name:       "prompt_injection_disregard",
		threatType: "prompt_injection",
		re:         regexp.MustCompile(`(?i)disregard\s+(the\s+)?(above|previous|prior)`),
		weight:     0.75,
	},
	{
		name:       "prompt_injection_role_override",
		threatType: "prompt_injection",
		re:         regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\b`),
		weight:     0.6,
	},
	{
		name:       "prompt_injection_system_prompt_leak",
		threatType: "prompt_injection",
		re:         regexp.MustCompile(`(?i)reveal\s+(your\s+)?system\s+prompt`),
		weight:     0.7,
	},
	{
		name:       "shell_destructive_rm_rf_root",
		threatType: "destructive_command",
		re:         regexp.MustCompile(`rm\s+-[a-z]*r[a-z]*f[a-z]*\s+/(\s|"|$)`),
		weight:     0.95,
	},
	{
		name:       "shell_destructive_fork_bomb",
		threatType: "destructive_command",
		re:         regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`),
		weight:     0.95,
	},
	{
		name:       "shell_destructive_disk_wipe",
		threatType: "destructive_command",
		re:         regexp.MustCompile(`(?i)\b(mkfs|dd\s+if=/dev/(zero|urandom).*of=/dev/sd)`),
		weight:     0.9,
	},
	{
		name:       "credential_exfiltration_private_key",
		threatType: "credential_exfiltration",
		re:         regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
		weight:     0.85,
	},
	{
		name:       "credential_exfiltration_aws_secret",
		threatType: "credential_exfiltration",
		re:         regexp.MustCompile(`(?i)aws_secret_access_key\s*[:=]`),
		weight:     0.8,
	},
	{
		name:       "credential_exfiltration_curl_pipe_shell",
		threatType: "credential_exfiltration",
		re:         regexp.MustCompile(`(?i)curl\s+[^|]+\|\s*(sh|bash)\b`),
		weight:     0.65,
	},
}

// HeuristicScanner is the zero-dependency, always-enabled-by-default
// built-in scanner. Grounded on original_source's scanners/base.py module
// docstring listing HeuristicScanner as "regex/pattern-based, zero
// dependencies (<1ms)".
type HeuristicScanner struct{}

func NewHeuristicScanner() *HeuristicScanner { return &HeuristicScanner{} }

func (h *HeuristicScanner) ID() string    { return "heuristic" }
func (h *HeuristicScanner) Priority() int { return 10 }

func (h *HeuristicScanner) Scan(_ context.Context, text string, _ *Context) Result {
	var matched []string
	threatSet := make(map[string]struct{})
	maxWeight := 0.0

	for _, p := range heuristicCatalogue {
		if p.re.MatchString(text) {
			matched = append(matched, p.name)
			threatSet[p.threatType] = struct{}{}
			if p.weight > maxWeight {
				maxWeight = p.weight
			}
		}
	}

	if len(matched) == 0 {
		return Result{ScannerID: h.ID(), Verdict: Allow}
	}

	threatTypes := make([]string, 0, len(threatSet))
	for t := range threatSet {
		threatTypes = append(threatTypes, t)
	}

	verdict := Warn
	if maxWeight >= 0.7 {
		verdict = Reject
	}

	return Result{
		ScannerID:       h.ID(),
		Verdict:         verdict,
		RiskScore:       maxWeight,
		ThreatTypes:     threatTypes,
		Details:         "matched " + strings.Join(matched, ", "),
		MatchedPatterns: matched,
	}
}
