package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte(contents), 0o644))
}

func TestInitializeNoFilePresentUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Initialize(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, Default().Server.BindAddress, cfg.Server.BindAddress)
	assert.Equal(t, "local_worker", cfg.Permission.Profile)
}

func TestInitializeMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
server:
  bind_address: "0.0.0.0:9000"
permission:
  profile: readonly
rate_limit:
  default_per_minute: 10
`)

	cfg, err := Initialize(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.BindAddress)
	assert.Equal(t, "readonly", cfg.Permission.Profile)
	assert.Equal(t, 10, cfg.RateLimit.DefaultPerMinute)
	// Untouched defaults survive the merge.
	assert.Equal(t, 600, cfg.RateLimit.DefaultPerHour)
	assert.Equal(t, 4, cfg.Resources.DefaultLimit)
}

func TestInitializeExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
server:
  bind_address: "${LLMOS_BIND:-127.0.0.1:8765}"
`)
	t.Setenv("LLMOS_BIND", "0.0.0.0:7000")

	cfg, err := Initialize(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.Server.BindAddress)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "server: [unterminated")

	_, err := Initialize(context.Background(), dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeValidationFailure(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
permission:
  profile: not_a_real_profile
`)

	_, err := Initialize(context.Background(), dir)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestInitializeLoadsTriggerDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
triggers:
  - trigger_id: watch-tmp
    type: filesystem
    path: /tmp
`)

	cfg, err := Initialize(context.Background(), dir)

	require.NoError(t, err)
	require.Len(t, cfg.Triggers, 1)
	assert.Equal(t, "watch-tmp", cfg.Triggers[0]["trigger_id"])
}

func TestInitializeDuplicateTriggerIDsFail(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
triggers:
  - trigger_id: dup
    type: interval
  - trigger_id: dup
    type: once
`)

	_, err := Initialize(context.Background(), dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "trigger validation failed")
}
