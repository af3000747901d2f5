package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants.
const (
	minTransferWorkers   = 1
	maxTransferWorkers   = 64
	minConcurrentUploads = 1
	maxConcurrentUploads = 64
	minPollInterval      = 1 * time.Second
)

var validProviders = map[string]bool{
	"local_encrypted": true,
	"kira_cloud":      true,
	"google_drive":    true,
	"dropbox":         true,
	"onedrive":        true,
	"box":             true,
}

var validSyncPolicies = map[string]bool{
	"wifi_only":     true,
	"wifi_cellular": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Validate checks all configuration values and returns all errors found. It
// accumulates every error rather than stopping at the first, so users see a
// complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateBackfill(&cfg.Backfill)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateStorage(s *StorageConfig) []error {
	var errs []error

	if !validProviders[s.Provider] {
		errs = append(errs, fmt.Errorf("storage.provider: unknown provider %q", s.Provider))
	}

	if s.Provider == "kira_cloud" && s.KiraCloudBaseURL == "" {
		errs = append(errs, errors.New("storage.kira_cloud_base_url: required when provider is kira_cloud"))
	}

	if s.PINEnvVar == "" {
		errs = append(errs, errors.New("storage.pin_env_var: must not be empty"))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.TransferWorkers < minTransferWorkers || s.TransferWorkers > maxTransferWorkers {
		errs = append(errs, fmt.Errorf("sync.transfer_workers: must be between %d and %d, got %d",
			minTransferWorkers, maxTransferWorkers, s.TransferWorkers))
	}

	if err := validateDurationMin("sync.poll_interval", s.PollInterval, minPollInterval); err != nil {
		errs = append(errs, err)
	}

	if !validSyncPolicies[s.SyncPolicy] {
		errs = append(errs, fmt.Errorf("sync.sync_policy: must be one of wifi_only, wifi_cellular; got %q", s.SyncPolicy))
	}

	return errs
}

func validateBackfill(b *BackfillConfig) []error {
	var errs []error

	if b.ConcurrentUploads < minConcurrentUploads || b.ConcurrentUploads > maxConcurrentUploads {
		errs = append(errs, fmt.Errorf("backfill.concurrent_uploads: must be between %d and %d, got %d",
			minConcurrentUploads, maxConcurrentUploads, b.ConcurrentUploads))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}
