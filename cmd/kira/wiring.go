package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kira-app/kira/internal/config"
	"github.com/kira-app/kira/internal/coordinator"
	"github.com/kira-app/kira/internal/notify"
	"github.com/kira-app/kira/internal/receiptdao"
	"github.com/kira-app/kira/internal/syncengine"
)

// buildCoordinator wires the receipt store, storage provider, and every
// durability-core component behind one Coordinator, the way root.go's
// loadConfig wires a single graph.Client for every subcommand to share.
func buildCoordinator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*coordinator.Coordinator, error) {
	store, err := receiptdao.Open(ctx, config.DefaultReceiptDBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening receipt store: %w", err)
	}

	provider, err := buildProvider(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building storage provider: %w", err)
	}

	var workspaceID *string
	if cfg.Storage.WorkspaceID != "" {
		workspaceID = &cfg.Storage.WorkspaceID
	}

	hub := notify.NewHub()

	return coordinator.New(coordinator.Config{
		Store:       store,
		Provider:    provider,
		ProviderID:  cfg.Storage.Provider,
		LocalRoot:   cfg.Storage.LocalRoot,
		WorkspaceID: workspaceID,
		Workers:     cfg.Sync.TransferWorkers,
		Hub:         hub,
		Logger:      logger,

		NetworkMonitor: syncengine.NewInterfaceNetworkMonitor(),
		SyncPolicy:     cfg.Sync.SyncPolicy,
		LowDataMode:    cfg.Sync.LowDataMode,
	}), nil
}
