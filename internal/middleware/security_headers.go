package middleware

import "net/http"

// SecurityHeadersConfig holds security headers configuration
type SecurityHeadersConfig struct {
	Env string
}

const (
	productionCSP = "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data:; font-src 'self'; connect-src 'self'; " +
		"frame-ancestors 'none'; base-uri 'self'; form-action 'self'"

	// dev servers need inline scripts and websockets for hot reload
	developmentCSP = "default-src 'self' http: https: ws:; " +
		"script-src 'self' 'unsafe-inline' 'unsafe-eval' http: https: ws:; " +
		"style-src 'self' 'unsafe-inline' http: https:; img-src 'self' data: https: http:; " +
		"connect-src 'self' http: https: ws: wss:; frame-ancestors 'self'; base-uri 'self'; form-action 'self'"
)

// SecurityHeaders adds the browser hardening headers to every response.
// Pages carrying one-time codes and verification results must not be cached.
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	production := config.Env == "production"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Permissions-Policy", "camera=(), geolocation=(), microphone=(), payment=(), usb=()")

			if production {
				h.Set("Content-Security-Policy", productionCSP)
				if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
					h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
				}
			} else {
				h.Set("Content-Security-Policy", developmentCSP)
			}

			next.ServeHTTP(w, r)
		})
	}
}
