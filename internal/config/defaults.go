package config

import "time"

// Default returns the daemon's built-in configuration: every value a
// deployment doesn't override in its YAML file. Grounded on
// pkg/config/defaults.go's role (system-wide fallbacks merged under
// whatever the YAML file supplies) generalised from agent/chain defaults
// to daemon-wide operational defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress: "127.0.0.1:8765",
		},
		Permission: PermissionConfig{
			Profile: "local_worker",
		},
		Sandbox: SandboxConfig{
			Paths: nil,
		},
		RateLimit: RateLimitConfig{
			DefaultPerMinute: 30,
			DefaultPerHour:   600,
			Overrides:        map[string]ActionLimits{},
		},
		Resources: ResourceConfig{
			DefaultLimit: 4,
			PerModule:    map[string]int{},
		},
		Scanner: ScannerConfig{
			HeuristicEnabled: true,
			Mode:             "enforce",
		},
		Store: StoreConfig{
			StateDSN:   "./data/state.db",
			TriggerDSN: "./data/state.db",
		},
		EventBus: EventBusConfig{
			Backend: "memory",
		},
		Executor: ExecutorConfig{
			FallbackChains:                 map[string][]string{},
			CascadeSkipDependents:          true,
			AllowEnvTemplates:              false,
			DefaultApprovalTimeout:         5 * time.Minute,
			DefaultApprovalTimeoutBehavior: "reject",
			RollbackTimeout:                2 * time.Minute,
		},
		Retention: RetentionConfig{
			PlanRetention: 7 * 24 * time.Hour,
			SweepInterval: 1 * time.Hour,
		},
		Triggers: nil,
	}
}
