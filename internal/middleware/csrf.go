package middleware

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bantay/internal/auth"
	"github.com/BradenHooton/bantay/internal/session"
	pkghttp "github.com/BradenHooton/bantay/pkg/http"
)

// CSRFProtection validates the X-CSRF-Token header on state-changing
// requests:
// - with a session: the header must equal the token bound to that session
// - without one: double-submit, the header must equal the csrf_token cookie
//
// Mount it after LoadSession on authenticated routes.
func CSRFProtection(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			headerToken := r.Header.Get(auth.CSRFHeaderName)
			if headerToken == "" {
				logger.Warn("CSRF token missing in request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				pkghttp.WriteError(w, http.StatusForbidden, "csrf_missing", "CSRF token missing")
				return
			}

			if s := session.FromRequest(r); s != nil {
				if !auth.TokensEqual(headerToken, s.CSRFToken) {
					logger.Warn("CSRF token validation failed",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("account_id", s.AccountID))
					pkghttp.WriteError(w, http.StatusForbidden, "csrf_invalid", "CSRF token invalid")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			cookieToken, err := auth.GetCSRFTokenCookie(r)
			if err != nil || !auth.TokensEqual(headerToken, cookieToken) {
				logger.Warn("CSRF token validation failed for public endpoint",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				pkghttp.WriteError(w, http.StatusForbidden, "csrf_invalid", "CSRF token invalid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
