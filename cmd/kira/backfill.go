package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kira-app/kira/internal/folder"
)

// newBackfillCmd runs the backfill pipeline for one country folder,
// uploading every local-only receipt that the provider doesn't have yet.
func newBackfillCmd() *cobra.Command {
	var country string

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Upload every local-only receipt for a country to the storage provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			c, err := parseCountry(country)
			if err != nil {
				return err
			}

			progressLine("backfilling %s...", c)

			result, err := cc.Coord.RunBackfill(cmd.Context(), c)
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}

			progressDone()
			fmt.Printf("total %d, succeeded %d, skipped (already synced) %d, failed %d\n",
				result.Total, result.Succeeded, result.SkippedDuplicate, result.Failed)

			for _, itemErr := range result.Errors {
				fmt.Printf("  %s: %v\n", itemErr.ReceiptID, itemErr.Err)
			}

			if result.Failed > 0 {
				return fmt.Errorf("backfill: %d receipts failed to upload", result.Failed)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "country folder to backfill (Canada, United_States)")
	_ = cmd.MarkFlagRequired("country")

	return cmd
}

func parseCountry(s string) (folder.Country, error) {
	switch folder.Country(s) {
	case folder.Canada:
		return folder.Canada, nil
	case folder.UnitedStates:
		return folder.UnitedStates, nil
	default:
		return "", fmt.Errorf("unknown country %q (expected Canada or United_States)", s)
	}
}
