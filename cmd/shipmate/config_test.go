package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	// Keep the default config path away from any real ~/.shipmate.
	t.Setenv("HOME", t.TempDir())
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "SHIPMATE_") {
			key := strings.SplitN(env, "=", 2)[0]
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "ansible-playbook", cfg.Executor.Binary)
	assert.Equal(t, 15*time.Minute, cfg.Executor.Timeout)
	assert.False(t, cfg.Deploy.RedeployAfterFailure)
	assert.Equal(t, 30, cfg.Health.Attempts)
	assert.Equal(t, time.Second, cfg.Health.Interval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.NotEmpty(t, cfg.StateDir)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
state_dir: /var/lib/shipmate
playbook: setup/push_code.yml

executor:
  binary: ansible-playbook-2.16
  timeout: 30m

deploy:
  redeploy_after_failure: true

log:
  level: debug
  format: json

profiles:
  staging:
    host: 10.0.0.5
    user: deploy
    private_key_path: /home/ci/.ssh/id_ed25519
  prod:
    host: 203.0.113.10
    user: deploy
    production: true
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/shipmate", cfg.StateDir)
	assert.Equal(t, "setup/push_code.yml", cfg.Playbook)
	assert.Equal(t, "ansible-playbook-2.16", cfg.Executor.Binary)
	assert.Equal(t, 30*time.Minute, cfg.Executor.Timeout)
	assert.True(t, cfg.Deploy.RedeployAfterFailure)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.Contains(t, cfg.Profiles, "staging")
	staging := cfg.Profiles["staging"]
	assert.Equal(t, "10.0.0.5", staging.Host)
	assert.Equal(t, "deploy", staging.User)
	assert.False(t, staging.Production)
	assert.True(t, cfg.Profiles["prod"].Production)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("SHIPMATE_LOG_LEVEL", "warn")
	t.Setenv("SHIPMATE_PLAYBOOK", "/opt/playbooks/deploy.yml")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/opt/playbooks/deploy.yml", cfg.Playbook)
}

func TestLoadConfig_ExplicitMissingFileFails(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig("/nonexistent/shipmate.yaml")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidYAMLFails(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("log: [unclosed"), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Profile Tests
// =============================================================================

func TestProfile_Target(t *testing.T) {
	p := Profile{
		Host:           "10.0.0.5",
		Port:           2222,
		User:           "deploy",
		PrivateKeyPath: "/keys/id_ed25519",
		WorkDir:        "/srv/app",
		EnvFile:        "/srv/app/.env",
		DeployCommand:  "docker compose up -d",
	}

	target := p.Target()
	assert.Equal(t, "10.0.0.5", target.Host)
	assert.Equal(t, 2222, target.Port)
	assert.Equal(t, "deploy", target.User)
	assert.Equal(t, "/keys/id_ed25519", target.PrivateKeyPath)
	assert.Equal(t, "/srv/app", target.WorkDir)
	assert.Equal(t, "/srv/app/.env", target.EnvFile)
	assert.Equal(t, "docker compose up -d", target.DeployCommand)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		cfg := &Config{Log: LogConfig{Level: level, Format: "text"}}
		assert.NotNil(t, SetupLogger(cfg), level)
	}
}

func TestSetupLogger_WithRotatingFile(t *testing.T) {
	cfg := &Config{Log: LogConfig{
		Level:      "info",
		Format:     "json",
		File:       filepath.Join(t.TempDir(), "shipmate.log"),
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	}}

	logger := SetupLogger(cfg)
	logger.Info("test entry", "key", "value")
	// The file is created on first write.
	_, err := os.Stat(cfg.Log.File)
	assert.NoError(t, err)
}
