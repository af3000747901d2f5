package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newAuditCmd runs the integrity auditor: a quick pass over every date
// folder by default, or with --full a full pass (checksums recomputed) over
// only the last --days dates.
func newAuditCmd() *cobra.Command {
	var full bool
	var days int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check local files, the index, and the provider for consistency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			progressLine("auditing...")

			var daysScanned, filesScanned, alertCount int

			if full {
				dates := recentDates(days)

				r, err := cc.Coord.RunFullAudit(cmd.Context(), dates)
				if err != nil {
					return fmt.Errorf("full audit: %w", err)
				}

				daysScanned, filesScanned, alertCount = r.DaysScanned, r.FilesScanned, len(r.AlertsRaised)
			} else {
				r, err := cc.Coord.RunQuickAudit(cmd.Context())
				if err != nil {
					return fmt.Errorf("quick audit: %w", err)
				}

				daysScanned, filesScanned, alertCount = r.DaysScanned, r.FilesScanned, len(r.AlertsRaised)
			}

			progressDone()
			fmt.Printf("scanned %d day(s), %d file(s), raised %d alert(s)\n", daysScanned, filesScanned, alertCount)

			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "run the full audit, with checksum verification, over the last --days dates instead of the quick pass over every date folder")
	cmd.Flags().IntVar(&days, "days", 30, "number of recent days to scan with --full")

	return cmd
}

// recentDates returns the last n calendar dates (including today) in
// YYYY-MM-DD form, oldest first.
func recentDates(n int) []string {
	if n <= 0 {
		n = 1
	}

	dates := make([]string, n)
	now := time.Now().UTC()

	for i := 0; i < n; i++ {
		dates[n-1-i] = now.AddDate(0, 0, -i).Format("2006-01-02")
	}

	return dates
}
