package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"

	"github.com/kira-app/kira/internal/config"
	"github.com/kira-app/kira/internal/storage"
	"github.com/kira-app/kira/internal/storage/driveauth"
)

// oauthEndpoint returns the well-known OAuth2 endpoint for each supported
// network provider. Client credentials are supplied out-of-band via
// environment variables — the interactive consent dialog itself is an
// external collaborator's concern, not this core's.
func oauthEndpoint(provider string) (oauth2.Endpoint, error) {
	switch provider {
	case "google_drive":
		return oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		}, nil
	case "dropbox":
		return oauth2.Endpoint{
			AuthURL:  "https://www.dropbox.com/oauth2/authorize",
			TokenURL: "https://api.dropboxapi.com/oauth2/token",
		}, nil
	case "onedrive":
		return oauth2.Endpoint{
			AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
			TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		}, nil
	case "box":
		return oauth2.Endpoint{
			AuthURL:  "https://account.box.com/api/oauth2/authorize",
			TokenURL: "https://api.box.com/oauth2/token",
		}, nil
	default:
		return oauth2.Endpoint{}, fmt.Errorf("no OAuth2 endpoint for provider %q", provider)
	}
}

// oauthConfigFor builds the oauth2.Config for provider from
// KIRA_<PROVIDER>_CLIENT_ID / _CLIENT_SECRET environment variables.
func oauthConfigFor(provider string) (*oauth2.Config, error) {
	endpoint, err := oauthEndpoint(provider)
	if err != nil {
		return nil, err
	}

	envPrefix := "KIRA_" + normalizeEnvKey(provider)

	clientID := os.Getenv(envPrefix + "_CLIENT_ID")
	if clientID == "" {
		return nil, fmt.Errorf("%s_CLIENT_ID is not set; link-provider requires it for %s", envPrefix, provider)
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: os.Getenv(envPrefix + "_CLIENT_SECRET"),
		Endpoint:     endpoint,
	}, nil
}

func normalizeEnvKey(provider string) string {
	out := make([]byte, len(provider))

	for i := range provider {
		c := provider[i]
		if c == '-' {
			c = '_'
		}

		out[i] = byte(upperASCII(c))
	}

	return string(out)
}

func upperASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}

	return c
}

// tokenFilePath returns the path a provider's OAuth2 token is persisted
// to, under the data directory.
func tokenFilePath(provider string) string {
	if provider == "" {
		return ""
	}

	return filepath.Join(config.DefaultDataDir(), "tokens", provider+".json")
}

// buildProvider constructs the storage.Provider selected by cfg.Storage.
func buildProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Provider, error) {
	switch cfg.Storage.Provider {
	case "local_encrypted":
		root := cfg.Storage.LocalRoot
		if root == "" {
			root = config.DefaultLocalRoot()
		}

		return storage.NewLocalEncryptedProvider(root, pinFromEnv(cfg.Storage.PINEnvVar)), nil

	case "kira_cloud":
		tok, err := loadTokenSource(ctx, "kira_cloud")
		if err != nil {
			return nil, err
		}

		return storage.NewKiraCloudProvider(cfg.Storage.KiraCloudBaseURL, tok), nil

	case "google_drive":
		tok, err := loadTokenSource(ctx, "google_drive")
		if err != nil {
			return nil, err
		}

		return storage.NewDriveProvider(tok), nil

	case "dropbox":
		tok, err := loadTokenSource(ctx, "dropbox")
		if err != nil {
			return nil, err
		}

		return storage.NewDropboxProvider(tok), nil

	case "onedrive":
		tok, err := loadTokenSource(ctx, "onedrive")
		if err != nil {
			return nil, err
		}

		return storage.NewOneDriveProvider(tok), nil

	case "box":
		tok, err := loadTokenSource(ctx, "box")
		if err != nil {
			return nil, err
		}

		return storage.NewBoxProvider(tok), nil

	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func loadTokenSource(ctx context.Context, provider string) (*driveauth.PersistingTokenSource, error) {
	oauthCfg, err := oauthConfigFor(provider)
	if err != nil {
		return nil, err
	}

	return driveauth.NewFromConfig(ctx, oauthCfg, nil, tokenFilePath(provider))
}

// pinFromEnv reads the local-encrypted vault passphrase from envVar.
type pinSource string

func (p pinSource) Passphrase(_ context.Context) (string, error) {
	return string(p), nil
}

func pinFromEnv(envVar string) storage.KeySource {
	return pinSource(os.Getenv(envVar))
}
