package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Environment Snapshot Tests
// =============================================================================

func TestLoadEnvironment_SnapshotsProcessEnv(t *testing.T) {
	t.Setenv("BRANCHDEPLOY_TEST_MARKER", "present")

	vars, err := LoadEnvironment("")
	require.NoError(t, err)
	assert.Equal(t, "present", vars["BRANCHDEPLOY_TEST_MARKER"])
}

func TestLoadEnvironment_SkipsEmptyValues(t *testing.T) {
	t.Setenv("BRANCHDEPLOY_TEST_EMPTY", "")

	vars, err := LoadEnvironment("")
	require.NoError(t, err)
	_, ok := vars["BRANCHDEPLOY_TEST_EMPTY"]
	assert.False(t, ok, "empty variables count as unset")
}

func TestLoadEnvironment_EnvFileFillsGaps(t *testing.T) {
	content := `
gcp_project_id: file-project
pulumi_org: acme
`
	envFile := filepath.Join(t.TempDir(), "local.yaml")
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))
	os.Unsetenv("GCP_PROJECT_ID")
	os.Unsetenv("PULUMI_ORG")

	vars, err := LoadEnvironment(envFile)
	require.NoError(t, err)
	assert.Equal(t, "file-project", vars["GCP_PROJECT_ID"])
	assert.Equal(t, "acme", vars["PULUMI_ORG"])
}

func TestLoadEnvironment_ProcessEnvWinsOverFile(t *testing.T) {
	content := "gcp_project_id: file-project\n"
	envFile := filepath.Join(t.TempDir(), "local.yaml")
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))
	t.Setenv("GCP_PROJECT_ID", "env-project")

	vars, err := LoadEnvironment(envFile)
	require.NoError(t, err)
	assert.Equal(t, "env-project", vars["GCP_PROJECT_ID"])
}

func TestLoadEnvironment_MissingFile(t *testing.T) {
	_, err := LoadEnvironment("/nonexistent/local.yaml")
	assert.Error(t, err)
}

// =============================================================================
// Log Config Tests
// =============================================================================

func TestLoadLogConfig_Defaults(t *testing.T) {
	os.Unsetenv("BRANCHDEPLOY_LOG_LEVEL")
	os.Unsetenv("BRANCHDEPLOY_LOG_FORMAT")

	cfg := LoadLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
}

func TestLoadLogConfig_EnvironmentOverride(t *testing.T) {
	t.Setenv("BRANCHDEPLOY_LOG_LEVEL", "debug")
	t.Setenv("BRANCHDEPLOY_LOG_FORMAT", "json")

	cfg := LoadLogConfig()
	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
}

func TestSetupLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "garbage", ""} {
		logger := SetupLogger(LogConfig{Level: level, Format: "text"})
		assert.NotNil(t, logger, "level %q", level)
	}
}

func TestSetupLogger_JSONFormat(t *testing.T) {
	logger := SetupLogger(LogConfig{Level: "info", Format: "json"})
	assert.NotNil(t, logger)
}
