// Package driveauth provides OAuth2 token persistence and a refreshing
// TokenSource shared by every OAuth-based storage provider (Drive,
// Dropbox, OneDrive, Box). It wraps the stock golang.org/x/oauth2 package
// rather than a provider-specific fork.
package driveauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// file is the on-disk format for a saved token.
type file struct {
	Token *oauth2.Token `json:"token"`
}

// LoadToken reads a saved token file from disk. Returns (nil, nil) if the
// file does not exist.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("driveauth: reading %s: %w", path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("driveauth: decoding %s: %w", path, err)
	}

	if f.Token == nil {
		return nil, fmt.Errorf("driveauth: %s missing token field (re-link required)", path)
	}

	return f.Token, nil
}

// SaveToken writes a token file to disk atomically (write-to-temp +
// rename) with 0600 permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(file{Token: tok}, "", "  ")
	if err != nil {
		return fmt.Errorf("driveauth: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("driveauth: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("driveauth: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()

		return fmt.Errorf("driveauth: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("driveauth: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return fmt.Errorf("driveauth: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("driveauth: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("driveauth: renaming: %w", err)
	}

	success = true

	return nil
}
