package config

import (
	"fmt"

	"github.com/llmos-bridge/daemon/internal/model"
)

// Validator validates configuration comprehensively with clear error
// messages — grounded on pkg/config/validator.go's Validator/ValidateAll
// shape, with the teacher's agent/chain/MCP-server/LLM-provider sections
// replaced by this daemon's server/permission/sandbox/rate-limit/
// resource/scanner/store/event-bus/executor/trigger sections.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation, fail-fast at the first
// error. Order matters: permission profile is validated before sandbox,
// since sandbox enforcement is meaningless without a resolvable profile;
// triggers are validated last since trigger conditions can reference
// rate-limited/resource-capped actions from earlier sections.
func (v *Validator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := v.validatePermission(); err != nil {
		return fmt.Errorf("permission validation failed: %w", err)
	}
	if err := v.validateSandbox(); err != nil {
		return fmt.Errorf("sandbox validation failed: %w", err)
	}
	if err := v.validateRateLimit(); err != nil {
		return fmt.Errorf("rate limit validation failed: %w", err)
	}
	if err := v.validateResources(); err != nil {
		return fmt.Errorf("resource validation failed: %w", err)
	}
	if err := v.validateScanner(); err != nil {
		return fmt.Errorf("scanner validation failed: %w", err)
	}
	if err := v.validateStore(); err != nil {
		return fmt.Errorf("store validation failed: %w", err)
	}
	if err := v.validateEventBus(); err != nil {
		return fmt.Errorf("event bus validation failed: %w", err)
	}
	if err := v.validateExecutor(); err != nil {
		return fmt.Errorf("executor validation failed: %w", err)
	}
	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	if err := v.validateTriggers(); err != nil {
		return fmt.Errorf("trigger validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateServer() error {
	if v.cfg.Server.BindAddress == "" {
		return NewValidationError("server", "bind_address", fmt.Errorf("%w", ErrMissingRequiredField))
	}
	return nil
}

func (v *Validator) validatePermission() error {
	profile := model.ProfileName(v.cfg.Permission.Profile)
	if !profile.Valid() {
		return NewValidationError("permission", "profile", fmt.Errorf("%w: %q", ErrInvalidValue, v.cfg.Permission.Profile))
	}
	return nil
}

func (v *Validator) validateSandbox() error {
	for i, p := range v.cfg.Sandbox.Paths {
		if p == "" {
			return NewValidationError("sandbox", fmt.Sprintf("paths[%d]", i), fmt.Errorf("path must not be empty"))
		}
	}
	return nil
}

func (v *Validator) validateRateLimit() error {
	rl := v.cfg.RateLimit
	if rl.DefaultPerMinute < 0 {
		return NewValidationError("rate_limit", "default_per_minute", fmt.Errorf("must be non-negative"))
	}
	if rl.DefaultPerHour < 0 {
		return NewValidationError("rate_limit", "default_per_hour", fmt.Errorf("must be non-negative"))
	}
	for action, limits := range rl.Overrides {
		if limits.PerMinute != nil && *limits.PerMinute < 0 {
			return NewValidationError("rate_limit", fmt.Sprintf("overrides[%s].per_minute", action), fmt.Errorf("must be non-negative"))
		}
		if limits.PerHour != nil && *limits.PerHour < 0 {
			return NewValidationError("rate_limit", fmt.Sprintf("overrides[%s].per_hour", action), fmt.Errorf("must be non-negative"))
		}
	}
	return nil
}

func (v *Validator) validateResources() error {
	res := v.cfg.Resources
	if res.DefaultLimit < 1 {
		return NewValidationError("resources", "default_limit", fmt.Errorf("must be at least 1"))
	}
	for module, limit := range res.PerModule {
		if limit < 1 {
			return NewValidationError("resources", fmt.Sprintf("per_module[%s]", module), fmt.Errorf("must be at least 1"))
		}
	}
	return nil
}

func (v *Validator) validateScanner() error {
	switch v.cfg.Scanner.Mode {
	case "enforce", "warn":
	default:
		return NewValidationError("scanner", "mode", fmt.Errorf("%w: %q (must be \"enforce\" or \"warn\")", ErrInvalidValue, v.cfg.Scanner.Mode))
	}
	return nil
}

func (v *Validator) validateStore() error {
	if v.cfg.Store.StateDSN == "" {
		return NewValidationError("store", "state_dsn", fmt.Errorf("%w", ErrMissingRequiredField))
	}
	if v.cfg.Store.TriggerDSN == "" {
		return NewValidationError("store", "trigger_dsn", fmt.Errorf("%w", ErrMissingRequiredField))
	}
	return nil
}

func (v *Validator) validateEventBus() error {
	switch v.cfg.EventBus.Backend {
	case "memory", "websocket":
	default:
		return NewValidationError("event_bus", "backend", fmt.Errorf("%w: %q (must be \"memory\" or \"websocket\")", ErrInvalidValue, v.cfg.EventBus.Backend))
	}
	return nil
}

func (v *Validator) validateExecutor() error {
	ex := v.cfg.Executor
	switch ex.DefaultApprovalTimeoutBehavior {
	case "reject", "skip":
	default:
		return NewValidationError("executor", "default_approval_timeout_behavior",
			fmt.Errorf("%w: %q (must be \"reject\" or \"skip\")", ErrInvalidValue, ex.DefaultApprovalTimeoutBehavior))
	}
	if ex.DefaultApprovalTimeout <= 0 {
		return NewValidationError("executor", "default_approval_timeout", fmt.Errorf("must be positive"))
	}
	if ex.RollbackTimeout <= 0 {
		return NewValidationError("executor", "rollback_timeout", fmt.Errorf("must be positive"))
	}
	for action, chain := range ex.FallbackChains {
		if len(chain) == 0 {
			return NewValidationError("executor", fmt.Sprintf("fallback_chains[%s]", action), fmt.Errorf("fallback chain must not be empty"))
		}
	}
	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r.PlanRetention <= 0 {
		return NewValidationError("retention", "plan_retention", fmt.Errorf("must be positive"))
	}
	if r.SweepInterval <= 0 {
		return NewValidationError("retention", "sweep_interval", fmt.Errorf("must be positive"))
	}
	return nil
}

// validateTriggers only checks structural shape — trigger_id presence and
// uniqueness. Condition trees and watcher wiring are not checked, and the
// daemon does not register these entries at startup.
func (v *Validator) validateTriggers() error {
	seen := make(map[string]bool, len(v.cfg.Triggers))
	for i, t := range v.cfg.Triggers {
		id, _ := t["trigger_id"].(string)
		if id == "" {
			return NewValidationError("triggers", fmt.Sprintf("[%d].trigger_id", i), fmt.Errorf("%w", ErrMissingRequiredField))
		}
		if seen[id] {
			return NewValidationError("triggers", "trigger_id", fmt.Errorf("duplicate trigger_id %q", id))
		}
		seen[id] = true
	}
	return nil
}
