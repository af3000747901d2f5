package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA256FileMatchesBytes(t *testing.T) {
	t.Parallel()

	data := []byte("receipt-image-bytes")
	path := filepath.Join(t.TempDir(), "receipt.jpg")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, err := SHA256File(path)
	require.NoError(t, err)
	assert.Equal(t, SHA256Bytes(data), got)
	assert.True(t, Valid(got))
}

func TestValidRejectsMalformed(t *testing.T) {
	t.Parallel()

	assert.False(t, Valid("not-hex"))
	assert.False(t, Valid("ABCD"))
	assert.False(t, Valid(""))
}
