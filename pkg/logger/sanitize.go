package logger

import (
	"log/slog"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@*******.ph")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	// keep only the TLD
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// EmailAttr is the slog attribute used for every logged address.
func EmailAttr(email string) slog.Attr {
	return slog.String("email", SanitizedEmail(email))
}

var sensitiveParams = []string{
	"password", "token", "secret", "code", "otp",
	"email", "auth", "csrf", "session",
}

// SanitizeQueryString reports whether the raw query carries anything that
// must not reach the request log.
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}

// RedactPath masks the token segment of device verification links.
func RedactPath(path string) string {
	const prefix = "/verify-device/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}
	rest := strings.TrimPrefix(path, prefix)
	if i := strings.Index(rest, "/"); i >= 0 {
		return prefix + "[REDACTED]" + rest[i:]
	}
	return prefix + "[REDACTED]"
}
