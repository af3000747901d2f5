// Package checksum computes SHA-256 digests over receipt image bytes,
// streaming from disk the way driveops.ComputeQuickXorHash streams a file
// into its rolling hash.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// SHA256File computes the lowercase hex SHA-256 digest of the file at path.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: opening %s: %w", path, err)
	}
	defer f.Close()

	return SHA256Reader(f)
}

// SHA256Bytes computes the lowercase hex SHA-256 digest of an in-memory
// byte slice, e.g. receipt bytes already buffered for upload.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// SHA256Reader streams r into SHA-256 and returns the lowercase hex digest.
func SHA256Reader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("checksum: hashing: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Valid reports whether digest is a well-formed lowercase 64-char hex SHA-256
// string.
func Valid(digest string) bool {
	if len(digest) != sha256.Size*2 {
		return false
	}

	_, err := hex.DecodeString(digest)

	return err == nil && digest == lower(digest)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}

	return string(b)
}
