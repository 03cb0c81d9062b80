package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
)

const (
	CSRFHeaderName = "X-CSRF-Token"
	CSRFCookieName = "csrf_token"
)

// GenerateCSRFToken returns 32 random bytes hex encoded.
func GenerateCSRFToken() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// TokensEqual compares two non-empty tokens in constant time.
func TokensEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RotateCSRFCookie issues a fresh public double-submit token.
func RotateCSRFCookie(w http.ResponseWriter, maxAge int, config CookieConfig) (string, error) {
	token, err := GenerateCSRFToken()
	if err != nil {
		return "", err
	}
	SetCSRFTokenCookie(w, token, maxAge, config)
	return token, nil
}
