package data

import (
	"github.com/toralehq/torale/internal/data/cryptoutil"
)

// TokenCipher adapts the byte-oriented cryptoutil.Encryptor to the string
// token surface the integration services consume.
type TokenCipher struct {
	enc cryptoutil.Encryptor
}

// NewTokenCipher builds a TokenCipher over an AES-256-GCM encryptor keyed by
// the 32-byte process key.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	enc, err := cryptoutil.NewAESGCMEncryptor(key)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{enc: enc}, nil
}

// NewNoopTokenCipher builds a TokenCipher that stores marked plaintext.
// Only for tests and local development.
func NewNoopTokenCipher() *TokenCipher {
	return &TokenCipher{enc: cryptoutil.NoopEncryptor{}}
}

// Encrypt encrypts a token for storage.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	return c.enc.Encrypt([]byte(plaintext))
}

// Decrypt recovers a stored token.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := c.enc.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
