package routes

import (
	"log/slog"

	"github.com/BradenHooton/bantay/internal/handlers"
	"github.com/BradenHooton/bantay/internal/middleware"
	"github.com/BradenHooton/bantay/internal/session"
	"github.com/go-chi/chi/v5"
)

// Handlers groups everything RegisterRoutes mounts
type Handlers struct {
	Auth     *handlers.AuthHandler
	Session  *handlers.SessionHandler
	Devices  *handlers.DeviceHandler
	Password *handlers.PasswordHandler
	Health   *handlers.HealthHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	sessions *session.Manager,
	rateLimitConfig middleware.RateLimitConfig,
	logger *slog.Logger,
) {
	csrf := middleware.CSRFProtection(logger)

	router.Get("/health", h.Health.Health)

	// Public routes - no session required
	router.Get("/auth/csrf", h.Auth.CSRF)
	router.Get("/auth/notice", h.Auth.Notice)
	router.Get("/verify-device/{token}/{device_id}", h.Devices.Verify)

	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))
		r.Use(csrf)

		r.Post("/auth/register", h.Auth.Register)
		r.Post("/auth/login", h.Auth.Login)

		r.Post("/password/otp", h.Password.RequestOTP)
		r.Post("/password/otp/verify", h.Password.VerifyOTP)
		r.Post("/password/reset", h.Password.ResetPassword)
	})

	// Protected routes - idle timeout enforced on every request
	router.Group(func(r chi.Router) {
		r.Use(sessions.LoadSession)
		r.Use(csrf)
		r.Use(sessions.TrackActivity)
		r.Use(middleware.RateLimitByAccount(middleware.RateLimitConfig{
			RequestsPerMinute: rateLimitConfig.RequestsPerMinute * 12,
			IPConfig:          rateLimitConfig.IPConfig,
		}))

		r.Post("/auth/logout", h.Auth.Logout)

		r.Get("/session/config", h.Session.Config)
		r.Post("/session/extend", h.Session.Extend)
		r.Get("/me", h.Session.Me)

		r.Get("/devices", h.Devices.List)
		r.Post("/devices/{id}/revoke", h.Devices.Revoke)
	})
}
