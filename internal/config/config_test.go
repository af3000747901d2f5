package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_AllFieldsPopulated(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "local_encrypted", cfg.Storage.Provider)
	assert.NotEmpty(t, cfg.Storage.PINEnvVar)
	assert.Positive(t, cfg.Sync.TransferWorkers)
	assert.NotEmpty(t, cfg.Sync.PollInterval)
	assert.Positive(t, cfg.Backfill.ConcurrentUploads)
	assert.NotEmpty(t, cfg.Logging.LogLevel)
	assert.NotEmpty(t, cfg.Logging.LogFormat)
}

func TestDefaultConfig_PassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Provider = "not_a_real_provider"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.provider")
}

func TestValidate_KiraCloudRequiresBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Provider = "kira_cloud"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kira_cloud_base_url")
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Provider = "bogus"
	cfg.Sync.TransferWorkers = 0
	cfg.Logging.LogLevel = "verbose"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.provider")
	assert.Contains(t, err.Error(), "sync.transfer_workers")
	assert.Contains(t, err.Error(), "logging.log_level")
}

func TestValidate_TransferWorkersOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.TransferWorkers = maxTransferWorkers + 1

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.transfer_workers")
}

func TestValidate_PollIntervalTooShort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.PollInterval = "100ms"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
}
