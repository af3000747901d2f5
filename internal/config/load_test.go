package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.toml")

	cfg, err := LoadOrDefault(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverridesDefaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[storage]
provider = "kira_cloud"
kira_cloud_base_url = "https://cloud.example.com"

[sync]
transfer_workers = 12
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "kira_cloud", cfg.Storage.Provider)
	assert.Equal(t, "https://cloud.example.com", cfg.Storage.KiraCloudBaseURL)
	assert.Equal(t, 12, cfg.Sync.TransferWorkers)
	// Untouched sections keep their defaults.
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
}

func TestLoad_InvalidConfigFailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[storage]
provider = "not_a_provider"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	_, err := Load(path, testLogger())
	require.Error(t, err)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	_, err := Load(path, testLogger())
	require.Error(t, err)
}

func TestResolveConfigPath_Priority(t *testing.T) {
	env := EnvOverrides{ConfigPath: "/from/env.toml"}
	cli := CLIOverrides{}

	assert.Equal(t, "/from/env.toml", ResolveConfigPath(env, cli, testLogger()))

	cli.ConfigPath = "/from/cli.toml"
	assert.Equal(t, "/from/cli.toml", ResolveConfigPath(env, cli, testLogger()))
}

func TestResolve_AppliesFullOverrideChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[storage]
workspace_id = "file-workspace"

[sync]
transfer_workers = 8
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	env := EnvOverrides{ConfigPath: path, WorkspaceID: "env-workspace"}
	cli := CLIOverrides{WorkspaceID: "cli-workspace", TransferWorkers: 16}

	cfg, err := Resolve(env, cli, testLogger())
	require.NoError(t, err)

	// CLI beats env beats file.
	assert.Equal(t, "cli-workspace", cfg.Storage.WorkspaceID)
	assert.Equal(t, 16, cfg.Sync.TransferWorkers)
	assert.NotEmpty(t, cfg.Storage.LocalRoot)
}

func TestResolve_EnvBeatsFileWhenCLIUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[storage]
workspace_id = "file-workspace"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	env := EnvOverrides{ConfigPath: path, WorkspaceID: "env-workspace"}

	cfg, err := Resolve(env, CLIOverrides{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "env-workspace", cfg.Storage.WorkspaceID)
}

func TestResolve_PropagatesValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[storage]
provider = "not_a_provider"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	_, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{}, testLogger())
	require.Error(t, err)
}
