package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fileName is the single YAML file a deployment edits, analogous to the
// teacher's tarsy.yaml — this daemon has one operational surface (server,
// permissions, sandbox, rate limits, resources, scanner, store, event
// bus, executor policy, triggers) rather than the teacher's split
// agent/chain/MCP-server registries, so one file covers it.
const fileName = "llmos.yaml"

// Initialize loads, merges, and validates the daemon's configuration.
// This is the primary entry point — grounded on pkg/config/loader.go's
// Initialize (load -> validate -> return ready-to-use Config).
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration initialized",
		"bind_address", cfg.Server.BindAddress,
		"permission_profile", cfg.Permission.Profile,
		"triggers", len(cfg.Triggers))

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	cfg := Default()
	cfg.configDir = configDir

	path := filepath.Join(configDir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file at all is fine — the daemon runs on defaults alone,
			// the way a fresh checkout of the teacher runs on built-ins
			// until tarsy.yaml is added.
			slog.Warn("no configuration file found, using built-in defaults", "path", path)
			return cfg, nil
		}
		return nil, NewLoadError(fileName, err)
	}

	data = ExpandEnv(data)

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, NewLoadError(fileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := mergo.Merge(cfg, &fileCfg, mergo.WithOverride); err != nil {
		return nil, NewLoadError(fileName, fmt.Errorf("merge configuration: %w", err))
	}

	// mergo treats a present-but-empty map/slice as a zero value and
	// won't clear defaults with it, which is what we want for
	// Overrides/PerModule/FallbackChains — but Triggers is a slice the
	// file either supplies wholesale or not at all, so union semantics
	// would silently drop a deliberately emptied trigger list. Take the
	// file's triggers verbatim when the key was present.
	if fileCfg.Triggers != nil {
		cfg.Triggers = fileCfg.Triggers
	}

	return cfg, nil
}
