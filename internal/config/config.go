// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for kira.
package config

// Config is the top-level configuration structure, one struct per concern.
type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Sync     SyncConfig     `toml:"sync"`
	Audit    AuditConfig    `toml:"audit"`
	Backfill BackfillConfig `toml:"backfill"`
	Logging  LoggingConfig  `toml:"logging"`
}

// StorageConfig selects and configures the storage provider a receipt's
// image and index land on.
type StorageConfig struct {
	Provider         string `toml:"provider"` // local_encrypted, kira_cloud, google_drive, dropbox, onedrive, box
	LocalRoot        string `toml:"local_root"`
	WorkspaceID      string `toml:"workspace_id"`
	KiraCloudBaseURL string `toml:"kira_cloud_base_url"`
	TokenFile        string `toml:"token_file"`
	PINEnvVar        string `toml:"pin_env_var"`
}

// SyncConfig controls the durable queue's worker pool and the capture
// ingestion watcher.
type SyncConfig struct {
	TransferWorkers int    `toml:"transfer_workers"`
	PollInterval    string `toml:"poll_interval"`
	WatchCaptureDir string `toml:"watch_capture_dir"`
	SyncPolicy      string `toml:"sync_policy"` // wifi_only, wifi_cellular
	LowDataMode     bool   `toml:"low_data_mode"`
}

// AuditConfig controls the integrity auditor's scheduling.
type AuditConfig struct {
	QuickOnStartup  bool `toml:"quick_on_startup"`
	FullOnWatchIdle bool `toml:"full_on_watch_idle"`
}

// BackfillConfig controls the backfill service's per-run behavior.
type BackfillConfig struct {
	ConcurrentUploads int `toml:"concurrent_uploads"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}
