package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/bantay/internal/session"
	pkghttp "github.com/BradenHooton/bantay/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	// IPConfig decides which forwarding headers are believed. Nil keys on
	// the direct peer only.
	IPConfig *pkghttp.IPConfig
}

func (c RateLimitConfig) clientKey(r *http.Request) (string, error) {
	return "ip:" + pkghttp.ExtractClientIP(r, c.IPConfig), nil
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Too many requests, please slow down")
}

// RateLimitByIP limits unauthenticated endpoints per client address.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(config.clientKey),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByAccount keys on the session's account so one resident behind a
// shared barangay hall connection does not starve the others. Requests
// without a session fall back to the client IP.
func RateLimitByAccount(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if s := session.FromRequest(r); s != nil {
				return "account:" + s.AccountID, nil
			}
			return config.clientKey(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}
