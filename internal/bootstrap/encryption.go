package bootstrap

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/toralehq/torale/internal/data"
)

// CreateTokenCipher creates the AES-GCM token cipher from the configured key.
// A 64-character hex key is decoded directly; any other non-empty key is
// hashed to 32 bytes. An empty or invalid key yields a noop cipher with a
// warning so development setups run without OAuth secrets.
func CreateTokenCipher(key string, logger *slog.Logger) *data.TokenCipher {
	if key == "" {
		if logger != nil {
			logger.Warn("oauth encryption key is empty, tokens will be stored unencrypted")
		}
		return data.NewNoopTokenCipher()
	}

	var keyBytes []byte
	if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
		keyBytes = decoded
	} else {
		hash := sha256.Sum256([]byte(key))
		keyBytes = hash[:]
	}

	cipher, err := data.NewTokenCipher(keyBytes)
	if err != nil {
		if logger != nil {
			logger.Warn("failed to create token cipher, tokens will be stored unencrypted", "error", err)
		}
		return data.NewNoopTokenCipher()
	}
	return cipher
}
