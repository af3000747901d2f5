package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kira-app/kira/internal/config"
	"github.com/kira-app/kira/internal/coordinator"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath      string
	flagProvider        string
	flagWorkspaceID     string
	flagTransferWorkers int
	flagVerbose         bool
	flagDebug           bool
	flagQuiet           bool
)

// skipConfigAnnotation marks commands that bootstrap their own config
// rather than requiring the automatic four-layer resolution in
// PersistentPreRunE (link-provider, which may be run before a config file
// exists at all).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the resolved config, logger, and wired coordinator so
// RunE handlers never rebuild them.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Coord  *coordinator.Coordinator
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// mustCLIContext extracts the CLIContext or panics with an actionable
// message — a programmer error, since the command tree guarantees
// PersistentPreRunE populates it before any RunE that doesn't opt out via
// skipConfigAnnotation.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not skip config loading (no skipConfigAnnotation)")
	}

	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kira",
		Short:         "Kira receipt durability core CLI",
		Long:          "Syncs, backfills, and audits a Kira receipt workspace against a storage provider.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "storage provider override")
	cmd.PersistentFlags().StringVar(&flagWorkspaceID, "workspace-id", "", "shared workspace ID override")
	cmd.PersistentFlags().IntVar(&flagTransferWorkers, "transfer-workers", 0, "sync engine worker pool size override")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newLinkProviderCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newBackfillCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newQuarantineCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadCLIContext resolves config via the four-layer override chain, builds
// the logger, wires the coordinator, and stores the result on the
// command's context for every RunE handler to share.
func loadCLIContext(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	env := config.LoadEnvOverrides()
	cli := config.CLIOverrides{
		ConfigPath:      flagConfigPath,
		Provider:        flagProvider,
		WorkspaceID:     flagWorkspaceID,
		TransferWorkers: flagTransferWorkers,
	}

	cfg, err := config.Resolve(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	finalLogger := buildLogger(cfg)

	coord, err := buildCoordinator(cmd.Context(), cfg, finalLogger)
	if err != nil {
		return fmt.Errorf("wiring coordinator: %w", err)
	}

	cc := &CLIContext{Cfg: cfg, Logger: finalLogger, Coord: coord}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger using the config-file log level as a
// baseline and CLI flags (mutually exclusive, enforced by Cobra) as the
// highest-priority override. Pass nil for pre-config bootstrap.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
