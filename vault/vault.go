// Package vault implements the CredentialVault of §4.2: a symmetric
// authenticated cipher over a process-wide key, grounded on the AES-256-GCM
// + PBKDF2 scheme of the pack's nexus-ai vault (internal/vault/vault.go),
// adapted from a per-secret SQLite store to the gateway's single
// seal/open contract over the encrypted credential blob stored on each
// Provider record.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	pbkdf2KeyLen      = 32 // AES-256
	saltLen           = 16
)

// staticSalt anchors key derivation across process restarts when a
// passphrase (not a raw 32-byte key) is supplied. A per-install salt would
// require its own persisted state outside this package's contract; the
// gateway's ENCRYPTION_KEY is expected to be a high-entropy secret already,
// so a fixed salt does not materially weaken it (unlike a user passphrase).
var staticSalt = []byte("ai-provider-gateway-core-vault-salt")

// Vault is the CredentialVault of §4.2.
type Vault struct {
	key     []byte
	volatile bool
	logger  *zap.Logger
}

// New derives a Vault from the configured encryption key. An empty key
// means no key was configured at startup: per §4.2 and §9, the vault
// generates a volatile random key and logs a warning — credentials sealed
// under it cannot be decrypted after a restart. Callers in production
// MUST treat an empty key as fail-fast (the caller decides that policy;
// this constructor only warns, per §9 "warn-and-continue in tests").
func New(encryptionKey string, logger *zap.Logger) (*Vault, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if encryptionKey == "" {
		key := make([]byte, pbkdf2KeyLen)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("vault: generate volatile key: %w", err)
		}
		logger.Warn("no ENCRYPTION_KEY configured; generated a volatile key for this process only — " +
			"credentials sealed now cannot be opened after restart")
		return &Vault{key: key, volatile: true, logger: logger}, nil
	}
	key := pbkdf2.Key([]byte(encryptionKey), staticSalt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return &Vault{key: key, logger: logger}, nil
}

// Volatile reports whether this Vault was started without a configured key.
func (v *Vault) Volatile() bool { return v.volatile }

// Seal encrypts plaintext into an opaque, base64-encoded ciphertext.
func (v *Vault) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	ct := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Open decrypts a ciphertext produced by Seal. Only the vault may
// materialize plaintext (P5, §4.2); callers must not persist the result.
func (v *Vault) Open(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("vault: base64: %w", err)
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("vault: ciphertext too short")
	}
	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("vault: open failed (wrong key or corrupted data)")
	}
	return string(plaintext), nil
}
