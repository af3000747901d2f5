package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kira-app/kira/internal/folder"
	"github.com/kira-app/kira/internal/receiptdao"
)

// newSyncCmd drives the sync queue: once for a single drain, or
// continuously (--watch) alongside the capture ingestion watcher.
func newSyncCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the sync queue, optionally watching for new captures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			if watch {
				return runSyncWatch(cmd.Context(), cc)
			}
			return runSyncOnce(cmd.Context(), cc)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running, polling the queue and watching the capture directory")

	return cmd
}

func runSyncOnce(ctx context.Context, cc *CLIContext) error {
	progressLine("syncing...")

	if err := cc.Coord.RunSyncCycle(ctx); err != nil {
		return fmt.Errorf("sync cycle: %w", err)
	}

	status, err := cc.Coord.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	progressLine("synced: %d entries remaining in queue", status.PendingInQueue)
	progressDone()

	return nil
}

// runSyncWatch runs the sync engine's poll loop and the capture directory
// watcher side by side, stopping both the moment either one errors or the
// context is cancelled — mirroring the teacher's errgroup-backed daemon
// loop for its own background sync goroutine.
func runSyncWatch(ctx context.Context, cc *CLIContext) error {
	interval, err := time.ParseDuration(cc.Cfg.Sync.PollInterval)
	if err != nil {
		return fmt.Errorf("parsing sync.poll_interval: %w", err)
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return pollSyncLoop(gctx, cc, interval)
	})

	if dir := cc.Cfg.Sync.WatchCaptureDir; dir != "" {
		group.Go(func() error {
			return runCaptureWatch(gctx, cc, dir)
		})
	}

	return group.Wait()
}

func pollSyncLoop(ctx context.Context, cc *CLIContext, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := cc.Coord.RunSyncCycle(ctx); err != nil {
			cc.Logger.Error("sync cycle failed", "error", err)
		} else {
			status, err := cc.Coord.Status(ctx)
			if err == nil {
				progressLine("watching: %d pending, engine %s", status.PendingInQueue, status.EngineState)
			}
		}

		select {
		case <-ctx.Done():
			progressDone()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func runCaptureWatch(ctx context.Context, cc *CLIContext, dir string) error {
	var workspaceID *string
	if cc.Cfg.Storage.WorkspaceID != "" {
		workspaceID = &cc.Cfg.Storage.WorkspaceID
	}

	localRoot := cc.Cfg.Storage.LocalRoot
	folderSvc := folder.New(func() (string, error) { return localRoot, nil })

	watcher, err := receiptdao.NewWatcher(cc.Coord.Store, dir, cc.Coord.EnqueueReceipt, folderSvc, workspaceID, cc.Logger)
	if err != nil {
		return fmt.Errorf("starting capture watcher on %s: %w", dir, err)
	}

	return watcher.Run(ctx)
}
