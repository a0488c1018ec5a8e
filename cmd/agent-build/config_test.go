package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.SourceRoot)
	assert.Equal(t, "./agent_build_output", cfg.WorkDir)
	assert.Equal(t, "deployments/deployments.yaml", cfg.Manifest)
	assert.Equal(t, "", cfg.Cache.Dir)
	assert.Equal(t, "", cfg.Docker.Host)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
source_root: /src/agent
work_dir: /tmp/agent-build
manifest: /src/agent/deployments.yaml

cache:
  dir: /var/cache/agent-build

docker:
  host: tcp://127.0.0.1:2375

log:
  level: debug
  format: json
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "/src/agent", cfg.SourceRoot)
	assert.Equal(t, "/tmp/agent-build", cfg.WorkDir)
	assert.Equal(t, "/src/agent/deployments.yaml", cfg.Manifest)
	assert.Equal(t, "/var/cache/agent-build", cfg.Cache.Dir)
	assert.Equal(t, "tcp://127.0.0.1:2375", cfg.Docker.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("AGENTBUILD_SOURCE_ROOT", "/env/src")
	t.Setenv("AGENTBUILD_CACHE_DIR", "/env/cache")
	t.Setenv("AGENTBUILD_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "/env/src", cfg.SourceRoot)
	assert.Equal(t, "/env/cache", cfg.Cache.Dir)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.SourceRoot)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0o644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		cfg := &Config{Log: LogConfig{Level: "info", Format: format}}
		assert.NotNil(t, SetupLogger(cfg))
	}
}

func TestSetupLogger_InvalidLevelFallsBack(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "nonsense", Format: "text"}}
	assert.NotNil(t, SetupLogger(cfg))
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"AGENTBUILD_SOURCE_ROOT",
		"AGENTBUILD_WORK_DIR",
		"AGENTBUILD_MANIFEST",
		"AGENTBUILD_CACHE_DIR",
		"AGENTBUILD_DOCKER_HOST",
		"AGENTBUILD_LOG_LEVEL",
		"AGENTBUILD_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
