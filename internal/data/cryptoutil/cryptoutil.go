// Package cryptoutil provides the at-rest encryption primitives for stored
// OAuth tokens.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encryptor encrypts and decrypts byte secrets to opaque storable strings.
type Encryptor interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// Ciphertext prefixes version the storage format so keys and algorithms can
// rotate without rewriting rows.
const (
	prefixAESGCMv1 = "v1:"
	prefixNoop     = "noop:"
)

// AESGCMEncryptor implements Encryptor with AES-256-GCM and a random
// per-secret nonce stored alongside the ciphertext.
type AESGCMEncryptor struct {
	aead cipher.AEAD
}

// NewAESGCMEncryptor builds the AEAD once from a 32-byte key.
func NewAESGCMEncryptor(key []byte) (*AESGCMEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCMEncryptor{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh nonce and returns
// "v1:" + base64(nonce || ciphertext).
func (e *AESGCMEncryptor) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	return prefixAESGCMv1 + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a string produced by Encrypt. Noop-prefixed values written
// before a key was configured still decode.
func (e *AESGCMEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	if strings.HasPrefix(ciphertext, prefixNoop) {
		return NoopEncryptor{}.Decrypt(ciphertext)
	}

	b64, ok := strings.CutPrefix(ciphertext, prefixAESGCMv1)
	if !ok {
		return nil, fmt.Errorf("unknown ciphertext version (prefix: %.10s)", ciphertext)
	}
	sealed, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	return e.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
}

// NoopEncryptor stores plaintext base64-encoded behind a marker prefix. Used
// by tests and by deployments without an encryption key.
type NoopEncryptor struct{}

func (NoopEncryptor) Encrypt(plaintext []byte) (string, error) {
	return prefixNoop + base64.StdEncoding.EncodeToString(plaintext), nil
}

func (NoopEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	b64, ok := strings.CutPrefix(ciphertext, prefixNoop)
	if !ok {
		return nil, errors.New("invalid noop ciphertext")
	}
	return base64.StdEncoding.DecodeString(b64)
}
