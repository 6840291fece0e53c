package agent

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// apiKeyBytes is the entropy of a generated API key (256 bits).
const apiKeyBytes = 32

// apiKeyPrefix identifies Sentinel-issued keys in logs and support tickets.
const apiKeyPrefix = "snt_"

// GenerateAPIKey returns a new random agent API key. The key is URL-safe
// and carries the "snt_" prefix.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAPIKey produces a bcrypt hash of the plaintext key for storage.
func HashAPIKey(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// ValidateAPIKey reports whether plain matches the stored bcrypt hash.
// Empty inputs never match.
func ValidateAPIKey(plain, storedHash string) bool {
	if plain == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plain)) == nil
}
