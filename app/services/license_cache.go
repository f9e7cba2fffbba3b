package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const licenseCacheInfo = "exchange-bridge license cache v1"

// ErrLicenseCacheMissing is returned when no cache file exists yet
var ErrLicenseCacheMissing = errors.New("license cache not found")

// LicenseCache persists the last verified license status on disk, sealed
// with XChaCha20-Poly1305 under a key derived from the license key.
type LicenseCache struct {
	path       string
	key        []byte
	instanceID string
}

// NewLicenseCache derives the sealing key with HKDF-SHA256. The instance id
// is the salt and the additional data, so a cache copied between instances
// does not open.
func NewLicenseCache(path, licenseKey, instanceID string) (*LicenseCache, error) {
	if path == "" {
		return nil, fmt.Errorf("license cache path is required")
	}
	if licenseKey == "" {
		return nil, fmt.Errorf("license key is required")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(licenseKey), []byte(instanceID), []byte(licenseCacheInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive license cache key: %w", err)
	}

	return &LicenseCache{path: path, key: key, instanceID: instanceID}, nil
}

// Save seals status and replaces the cache file atomically
func (c *LicenseCache) Save(status *LicenseStatus) error {
	plaintext, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode license status: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, []byte(c.instanceID))

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("failed to create license cache directory: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write license cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace license cache: %w", err)
	}
	return nil
}

// Load opens the cache file. Tampered or foreign files fail authentication.
func (c *LicenseCache) Load() (*LicenseStatus, error) {
	sealed, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrLicenseCacheMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read license cache: %w", err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("license cache is truncated")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(c.instanceID))
	if err != nil {
		return nil, fmt.Errorf("license cache failed authentication: %w", err)
	}

	var status LicenseStatus
	if err := json.Unmarshal(plaintext, &status); err != nil {
		return nil, fmt.Errorf("failed to decode license cache: %w", err)
	}
	return &status, nil
}
