// Package storage defines the uniform cloud-storage Provider interface and
// its implementations (Google Drive, Dropbox, OneDrive, Box, a local AES-
// encrypted vault, and Kira's own backend), plus the shared HTTP retry and
// error-classification helpers every network provider builds on.
package storage

import "context"

// Provider is the uniform surface every storage backend implements. Paths
// are provider-relative, slash-separated, and rooted at the account's Kira
// folder (created by CreateFolder on first use).
type Provider interface {
	CreateFolder(ctx context.Context, path string) error
	ListFiles(ctx context.Context, path string) ([]string, error)
	UploadFile(ctx context.Context, path, name string, data []byte) error
	DownloadFile(ctx context.Context, path, name string) ([]byte, bool, error)
	ReadTextFile(ctx context.Context, path string) (string, bool, error)
	WriteTextFile(ctx context.Context, path, content string) error
	MoveFile(ctx context.Context, srcPath, dstPath string) error
	FileExists(ctx context.Context, path, name string) (bool, error)
	Authenticate(ctx context.Context) error
	IsAuthenticated(ctx context.Context) bool
	Logout(ctx context.Context) error
}
