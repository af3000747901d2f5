package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// newQuarantineCmd moves the receipt behind an open alert to the
// quarantine folder, the explicit user action the auditor won't take on
// its own.
func newQuarantineCmd() *cobra.Command {
	var dismiss bool

	cmd := &cobra.Command{
		Use:   "quarantine <alert-id>",
		Short: "Quarantine (or dismiss) the receipt behind an open integrity alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			alertID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid alert ID %q: %w", args[0], err)
			}

			if dismiss {
				if err := cc.Coord.Dismiss(cmd.Context(), alertID); err != nil {
					return fmt.Errorf("dismissing alert %d: %w", alertID, err)
				}

				fmt.Printf("alert %d dismissed\n", alertID)
				return nil
			}

			if err := cc.Coord.Quarantine(cmd.Context(), alertID); err != nil {
				return fmt.Errorf("quarantining alert %d: %w", alertID, err)
			}

			fmt.Printf("alert %d quarantined\n", alertID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dismiss, "dismiss", false, "dismiss the alert instead of quarantining its receipt")

	return cmd
}
