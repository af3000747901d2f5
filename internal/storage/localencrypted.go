package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

// localEncryptedKeySize is the AES-256 key size in bytes.
const localEncryptedKeySize = 32

// localEncryptedSaltSize is the random per-vault salt size in bytes,
// generated once and persisted alongside the ciphertext — never derived
// from an encryption probe (Open Question (a) resolution: the teacher's
// examples don't cover this, so this follows kopia's
// auth/password_creds.go key-derivation shape instead).
const localEncryptedSaltSize = 16

const pbkdf2Iterations = 100000

const saltFileName = ".kira-vault-salt"

// KeySource supplies the passphrase (or platform-keystore-released secret)
// used to derive the vault's AES key. Declared at the consumer so a
// biometric/keystore-backed implementation is a pluggable collaborator,
// not a concrete dependency — that release path itself is out of scope.
type KeySource interface {
	Passphrase(ctx context.Context) (string, error)
}

// StaticKeySource is a KeySource that always returns the same passphrase,
// useful for tests and for callers that have already prompted the user.
type StaticKeySource string

func (s StaticKeySource) Passphrase(_ context.Context) (string, error) {
	return string(s), nil
}

// LocalEncryptedProvider implements storage.Provider over a sandboxed
// local directory, encrypting every file with AES-256-GCM using a random
// 96-bit nonce per file. The AES key is derived once per process from the
// KeySource and a persisted per-vault salt.
type LocalEncryptedProvider struct {
	root string
	keys KeySource

	key []byte // resolved lazily by ensureKey
}

// NewLocalEncryptedProvider builds a Provider rooted at dir, deriving its
// encryption key from keys on first use.
func NewLocalEncryptedProvider(dir string, keys KeySource) *LocalEncryptedProvider {
	return &LocalEncryptedProvider{root: dir, keys: keys}
}

func (p *LocalEncryptedProvider) ensureKey(ctx context.Context) ([]byte, error) {
	if p.key != nil {
		return p.key, nil
	}

	if err := os.MkdirAll(p.root, 0o700); err != nil {
		return nil, fmt.Errorf("storage(localencrypted): creating vault root: %w", err)
	}

	saltPath := filepath.Join(p.root, saltFileName)

	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, os.ErrNotExist) {
		salt = make([]byte, localEncryptedSaltSize)
		if _, randErr := rand.Read(salt); randErr != nil {
			return nil, fmt.Errorf("storage(localencrypted): generating salt: %w", randErr)
		}

		if writeErr := os.WriteFile(saltPath, salt, 0o600); writeErr != nil {
			return nil, fmt.Errorf("storage(localencrypted): persisting salt: %w", writeErr)
		}
	} else if err != nil {
		return nil, fmt.Errorf("storage(localencrypted): reading salt: %w", err)
	}

	passphrase, err := p.keys.Passphrase(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage(localencrypted): obtaining passphrase: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, localEncryptedKeySize, sha256.New)
	p.key = key

	return key, nil
}

func (p *LocalEncryptedProvider) gcm(ctx context.Context) (cipher.AEAD, error) {
	key, err := p.ensureKey(ctx)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("storage(localencrypted): building AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("storage(localencrypted): building GCM: %w", err)
	}

	return gcm, nil
}

func (p *LocalEncryptedProvider) encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	gcm, err := p.gcm(ctx)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("storage(localencrypted): generating nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *LocalEncryptedProvider) decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	gcm, err := p.gcm(ctx)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("storage(localencrypted): ciphertext too short")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("storage(localencrypted): decrypting: %w", err)
	}

	return plaintext, nil
}

func (p *LocalEncryptedProvider) abs(relPath string) string {
	return filepath.Join(p.root, filepath.FromSlash(relPath))
}

func (p *LocalEncryptedProvider) CreateFolder(ctx context.Context, relPath string) error {
	if err := os.MkdirAll(p.abs(relPath), 0o700); err != nil {
		return fmt.Errorf("storage(localencrypted): creating folder %s: %w", relPath, err)
	}

	return nil
}

func (p *LocalEncryptedProvider) ListFiles(ctx context.Context, relPath string) ([]string, error) {
	entries, err := os.ReadDir(p.abs(relPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("storage(localencrypted): listing %s: %w", relPath, err)
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || e.Name() == saltFileName {
			continue
		}

		names = append(names, e.Name())
	}

	return names, nil
}

func (p *LocalEncryptedProvider) UploadFile(ctx context.Context, relPath, name string, data []byte) error {
	if err := p.CreateFolder(ctx, relPath); err != nil {
		return err
	}

	ciphertext, err := p.encrypt(ctx, data)
	if err != nil {
		return err
	}

	dst := filepath.Join(p.abs(relPath), name)
	if err := os.WriteFile(dst, ciphertext, 0o600); err != nil {
		return fmt.Errorf("storage(localencrypted): writing %s: %w", dst, err)
	}

	return nil
}

func (p *LocalEncryptedProvider) DownloadFile(ctx context.Context, relPath, name string) ([]byte, bool, error) {
	src := filepath.Join(p.abs(relPath), name)

	ciphertext, err := os.ReadFile(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("storage(localencrypted): reading %s: %w", src, err)
	}

	plaintext, err := p.decrypt(ctx, ciphertext)
	if err != nil {
		return nil, false, err
	}

	return plaintext, true, nil
}

func (p *LocalEncryptedProvider) ReadTextFile(ctx context.Context, relPath string) (string, bool, error) {
	data, ok, err := p.DownloadFile(ctx, filepath.Dir(relPath), filepath.Base(relPath))

	return string(data), ok, err
}

func (p *LocalEncryptedProvider) WriteTextFile(ctx context.Context, relPath, content string) error {
	return p.UploadFile(ctx, filepath.Dir(relPath), filepath.Base(relPath), []byte(content))
}

func (p *LocalEncryptedProvider) MoveFile(ctx context.Context, srcPath, dstPath string) error {
	if err := p.CreateFolder(ctx, filepath.Dir(dstPath)); err != nil {
		return err
	}

	src := p.abs(srcPath)
	dst := p.abs(dstPath)

	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return &StorageNotFound{Provider: "localencrypted", Path: srcPath}
	}

	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("storage(localencrypted): moving %s to %s: %w", srcPath, dstPath, err)
	}

	return nil
}

func (p *LocalEncryptedProvider) FileExists(ctx context.Context, relPath, name string) (bool, error) {
	_, err := os.Stat(filepath.Join(p.abs(relPath), name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("storage(localencrypted): checking %s/%s: %w", relPath, name, err)
	}

	return true, nil
}

// Authenticate resolves the encryption key, prompting via KeySource if
// needed — there is no network identity provider for a local vault.
func (p *LocalEncryptedProvider) Authenticate(ctx context.Context) error {
	_, err := p.ensureKey(ctx)

	return err
}

func (p *LocalEncryptedProvider) IsAuthenticated(ctx context.Context) bool {
	return p.key != nil
}

// Logout discards the cached key, requiring the passphrase to be supplied
// again on next use.
func (p *LocalEncryptedProvider) Logout(ctx context.Context) error {
	p.key = nil

	return nil
}
