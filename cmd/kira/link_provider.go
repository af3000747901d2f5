package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/kira-app/kira/internal/config"
	"github.com/kira-app/kira/internal/folder"
	"github.com/kira-app/kira/internal/storage/driveauth"
)

// newLinkProviderCmd registers a storage provider against an
// already-completed OAuth2 authorization. The interactive consent dialog
// is an external collaborator's concern (spec Non-goal: "OAuth dialog
// UX") — this command only persists the resulting token and runs the
// initial backfill, the way the teacher's login command persists a token
// obtained by a flow it owns.
func newLinkProviderCmd() *cobra.Command {
	var accessToken, refreshToken string

	var expiresInSeconds int64

	cmd := &cobra.Command{
		Use:   "link-provider <provider>",
		Short: "Register a storage provider using an already-obtained OAuth2 token",
		Long: `Persists an OAuth2 token for a storage provider (google_drive, dropbox,
onedrive, box) and runs an initial backfill of every local-only receipt.

local_encrypted needs no token: link-provider only validates it and
triggers the initial backfill.`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLinkProvider(cmd, args[0], accessToken, refreshToken, expiresInSeconds)
		},
	}

	cmd.Flags().StringVar(&accessToken, "access-token", "", "OAuth2 access token obtained out-of-band")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth2 refresh token obtained out-of-band")
	cmd.Flags().Int64Var(&expiresInSeconds, "expires-in", 0, "seconds until the access token expires")

	return cmd
}

func runLinkProvider(cmd *cobra.Command, provider, accessToken, refreshToken string, expiresIn int64) error {
	logger := buildLogger(nil)

	env := config.LoadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath, Provider: provider}

	cfg, err := config.Resolve(env, cli, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg.Storage.Provider = provider

	if accessToken != "" {
		tok := &oauth2.Token{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
		}
		if expiresIn > 0 {
			tok.Expiry = time.Now().UTC().Add(time.Duration(expiresIn) * time.Second)
		}

		if err := driveauth.SaveToken(tokenFilePath(provider), tok); err != nil {
			return fmt.Errorf("persisting token for %s: %w", provider, err)
		}
	}

	coord, err := buildCoordinator(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring coordinator for %s: %w", provider, err)
	}

	fmt.Printf("Provider %s linked. Running initial backfill...\n", provider)

	for _, country := range []folder.Country{folder.Canada, folder.UnitedStates} {
		result, err := coord.RunBackfill(cmd.Context(), country)
		if err != nil {
			return fmt.Errorf("backfilling %s: %w", country, err)
		}

		fmt.Printf("%s: %d succeeded, %d failed\n", country, result.Succeeded, result.Failed)
	}

	return nil
}
