// Package config implements the daemon's layered YAML configuration
// loader: defaults -> base YAML file -> environment variable expansion ->
// fail-fast validation. Grounded on the teacher's pkg/config package
// (loader.go/merge.go/envexpand.go/validator.go), generalised from the
// teacher's multi-file agent/chain/MCP-server registries to the single
// llmos.yaml this daemon reads, covering bind address, permission
// profile, sandbox roots, rate limits, resource-manager caps, scanner
// posture, the state/trigger store DSN, event-bus backend, and trigger
// definitions.
package config

import "time"

// Config is the fully resolved, validated daemon configuration returned
// by Initialize. Every field has a sane default (see Default()) so a
// deployment's YAML file only needs to set what it wants to override.
type Config struct {
	configDir string

	Server     ServerConfig     `yaml:"server"`
	Permission PermissionConfig `yaml:"permission"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Resources  ResourceConfig   `yaml:"resources"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Store      StoreConfig      `yaml:"store"`
	EventBus   EventBusConfig   `yaml:"event_bus"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Retention  RetentionConfig  `yaml:"retention"`

	// Triggers holds each trigger's raw YAML definition, in the same
	// shape the "triggers" module's register_trigger action expects. The
	// entries are validated (trigger_id present and unique) but cmd/llmosd
	// does not read them: no trigger is registered from this list.
	Triggers []map[string]any `yaml:"triggers"`
}

// ConfigDir returns the directory Initialize read llmos.yaml from.
func (c *Config) ConfigDir() string { return c.configDir }

type ServerConfig struct {
	BindAddress string `yaml:"bind_address"`
}

type PermissionConfig struct {
	Profile string `yaml:"profile"`
}

type SandboxConfig struct {
	Paths []string `yaml:"paths"`
}

// ActionLimits is a single "module.action"'s per-minute/per-hour override.
// A nil pointer field means "use the rate-limit section's default for
// that window", not "unlimited" — an explicit 0 is how a deployment
// expresses unlimited.
type ActionLimits struct {
	PerMinute *int `yaml:"per_minute,omitempty"`
	PerHour   *int `yaml:"per_hour,omitempty"`
}

type RateLimitConfig struct {
	DefaultPerMinute int                     `yaml:"default_per_minute"`
	DefaultPerHour   int                     `yaml:"default_per_hour"`
	Overrides        map[string]ActionLimits `yaml:"overrides"`
}

type ResourceConfig struct {
	DefaultLimit int            `yaml:"default_limit"`
	PerModule    map[string]int `yaml:"per_module"`
}

type ScannerConfig struct {
	HeuristicEnabled bool   `yaml:"heuristic_enabled"`
	// Mode is "enforce" (block on a scanner rejection) or "warn" (the
	// aggregate risk score never rejects a plan; a REJECT verdict from an
	// individual scanner still does) — spec.md §4.9's scanner pipeline
	// leaves enforcement posture to deployment config.
	Mode string `yaml:"mode"`
}

type StoreConfig struct {
	StateDSN   string `yaml:"state_dsn"`
	TriggerDSN string `yaml:"trigger_dsn"`
}

type EventBusConfig struct {
	// Backend is "memory" or "websocket"; the validator accepts only those
	// two values. cmd/llmosd does not read it: the daemon always routes
	// events into the WebSocket bus, whichever value is set.
	Backend string `yaml:"backend"`
}

type ExecutorConfig struct {
	FallbackChains                 map[string][]string `yaml:"fallback_chains"`
	CascadeSkipDependents          bool                `yaml:"cascade_skip_dependents"`
	AllowEnvTemplates              bool                `yaml:"allow_env_templates"`
	DefaultApprovalTimeout         time.Duration       `yaml:"default_approval_timeout"`
	DefaultApprovalTimeoutBehavior string              `yaml:"default_approval_timeout_behavior"`
	RollbackTimeout                time.Duration       `yaml:"rollback_timeout"`
}

// RetentionConfig controls how long terminal plans stay in the State Store
// before the retention sweep prunes them.
type RetentionConfig struct {
	// PlanRetention is how long a plan stays queryable via get_plan/list_plans
	// after reaching a terminal status before it is pruned.
	PlanRetention time.Duration `yaml:"plan_retention"`

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}
