package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd prints a one-shot snapshot of the sync engine and open
// integrity alerts, the CLI's equivalent of the teacher's multi-account
// status table but for one workspace.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync engine state, queue depth, and open alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			status, err := cc.Coord.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading status: %w", err)
			}

			fmt.Printf("provider:       %s\n", cc.Cfg.Storage.Provider)
			fmt.Printf("engine state:   %s\n", status.EngineState)
			fmt.Printf("queue pending:  %d\n", status.PendingInQueue)
			fmt.Printf("open alerts:    %d\n", status.OpenAlerts)
			fmt.Printf("checked at:     %s\n", status.CheckedAt.Format("2006-01-02T15:04:05Z07:00"))

			return nil
		},
	}
}
