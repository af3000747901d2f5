package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file on top of DefaultConfig (so unset
// fields retain defaults), validates it, and returns the result.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports the zero-config
// first run: a new workspace can start syncing to the local-encrypted
// provider before any file exists on disk.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// EnvOverrides holds values read from environment variables, the third
// layer of the four-layer override chain (defaults -> file -> env -> CLI).
type EnvOverrides struct {
	ConfigPath  string
	Provider    string
	WorkspaceID string
}

// LoadEnvOverrides reads the KIRA_* environment variables recognized by the
// override chain.
func LoadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv("KIRA_CONFIG"),
		Provider:    os.Getenv("KIRA_PROVIDER"),
		WorkspaceID: os.Getenv("KIRA_WORKSPACE_ID"),
	}
}

// CLIOverrides holds values parsed from command-line flags, the fourth and
// highest-priority layer of the override chain. Pointer/zero-value fields
// are only applied when explicitly set by the caller.
type CLIOverrides struct {
	ConfigPath      string
	Provider        string
	WorkspaceID     string
	TransferWorkers int
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	path := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		path = env.ConfigPath
		source = "env"
	}

	if cli.ConfigPath != "" {
		path = cli.ConfigPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", path, "source", source)

	return path
}

// Resolve applies the full four-layer override chain (defaults -> config
// file -> environment -> CLI flags) and returns the fully resolved,
// validated Config.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := ResolveConfigPath(env, cli, logger)

	cfg, err := LoadOrDefault(path, logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if env.Provider != "" {
		cfg.Storage.Provider = env.Provider
	}

	if env.WorkspaceID != "" {
		cfg.Storage.WorkspaceID = env.WorkspaceID
	}

	if cli.Provider != "" {
		cfg.Storage.Provider = cli.Provider
	}

	if cli.WorkspaceID != "" {
		cfg.Storage.WorkspaceID = cli.WorkspaceID
	}

	if cli.TransferWorkers > 0 {
		cfg.Sync.TransferWorkers = cli.TransferWorkers
	}

	if cfg.Storage.LocalRoot == "" {
		cfg.Storage.LocalRoot = DefaultLocalRoot()
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}
