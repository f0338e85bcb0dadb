package invitation

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenBytes is the amount of entropy in an invitation token (256 bits).
	TokenBytes = 32
	// TokenLength is the encoded length of a token: two hex chars per byte.
	TokenLength = TokenBytes * 2

	tokenLogPrefix = 8
)

// GenerateToken returns a new random token as 64 lowercase hex characters.
// Uniqueness is backed by the storage layer's unique index.
func GenerateToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IsValidTokenFormat reports whether token is exactly 64 hex characters.
// Upper-case input is accepted; NormalizeToken returns the canonical form.
func IsValidTokenFormat(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// NormalizeToken returns the canonical lowercase form of a token.
func NormalizeToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// TruncateToken returns a log-safe prefix of a token. Full tokens must never
// reach the logs.
func TruncateToken(token string) string {
	if len(token) <= tokenLogPrefix {
		return token + "..."
	}
	return token[:tokenLogPrefix] + "..."
}
