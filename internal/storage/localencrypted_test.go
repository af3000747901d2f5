package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEncryptedRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewLocalEncryptedProvider(dir, StaticKeySource("correct horse battery staple"))

	ctx := context.Background()
	require.NoError(t, p.UploadFile(ctx, "Receipts/Canada/2025/2025-06/2025-06-14", "2025-06-14_1.jpg", []byte("receipt bytes")))

	data, ok, err := p.DownloadFile(ctx, "Receipts/Canada/2025/2025-06/2025-06-14", "2025-06-14_1.jpg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "receipt bytes", string(data))
}

func TestLocalEncryptedStoresCiphertextOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewLocalEncryptedProvider(dir, StaticKeySource("correct horse battery staple"))

	ctx := context.Background()
	require.NoError(t, p.UploadFile(ctx, "day", "file.jpg", []byte("plaintext-marker")))

	raw, err := os.ReadFile(filepath.Join(dir, "day", "file.jpg"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plaintext-marker")
}

func TestLocalEncryptedDifferentPassphraseFailsDecrypt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writer := NewLocalEncryptedProvider(dir, StaticKeySource("passphrase-one"))

	ctx := context.Background()
	require.NoError(t, writer.UploadFile(ctx, "day", "file.jpg", []byte("secret")))

	reader := NewLocalEncryptedProvider(dir, StaticKeySource("passphrase-two"))
	_, _, err := reader.DownloadFile(ctx, "day", "file.jpg")
	require.Error(t, err)
}

func TestLocalEncryptedFileExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewLocalEncryptedProvider(dir, StaticKeySource("correct horse battery staple"))

	ctx := context.Background()
	exists, err := p.FileExists(ctx, "day", "file.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, p.UploadFile(ctx, "day", "file.jpg", []byte("x")))

	exists, err = p.FileExists(ctx, "day", "file.jpg")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalEncryptedMoveFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewLocalEncryptedProvider(dir, StaticKeySource("correct horse battery staple"))

	ctx := context.Background()
	require.NoError(t, p.UploadFile(ctx, "day", "file.jpg", []byte("x")))
	require.NoError(t, p.MoveFile(ctx, "day/file.jpg", "day/_Quarantine/file.jpg"))

	exists, err := p.FileExists(ctx, "day", "file.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = p.FileExists(ctx, "day/_Quarantine", "file.jpg")
	require.NoError(t, err)
	assert.True(t, exists)
}
