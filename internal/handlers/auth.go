package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/bantay/internal/auth"
	"github.com/BradenHooton/bantay/internal/models"
	"github.com/BradenHooton/bantay/internal/services"
	"github.com/BradenHooton/bantay/internal/session"
	pkgauth "github.com/BradenHooton/bantay/pkg/auth"
	pkghttp "github.com/BradenHooton/bantay/pkg/http"
)

// csrfCookieMaxAge bounds the anonymous double-submit token. Login replaces
// it with the session-bound token.
const csrfCookieMaxAge = 60 * 60

const registrationReceived = "Registration received. A barangay official will review your account before you can log in."

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	Register(ctx context.Context, in services.RegisterInput) (*models.Account, error)
}

// SessionManager is the part of session.Manager the handlers use
type SessionManager interface {
	Start(w http.ResponseWriter, r *http.Request, id session.Identity) (*session.Session, error)
	Destroy(w http.ResponseWriter, r *http.Request, reason string) error
	PopNotice(w http.ResponseWriter, r *http.Request) (*session.Notice, bool)
	Touch(ctx context.Context, s *session.Session) error
	Remaining(s *session.Session) time.Duration
	IdleTimeout() time.Duration
	WarningWindow() time.Duration
}

// AuthHandler handles login, registration and logout
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionManager
	ipConfig *pkghttp.IPConfig
	cookie   auth.CookieConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, sessions SessionManager, ipConfig *pkghttp.IPConfig, cookie auth.CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		ipConfig: ipConfig,
		cookie:   cookie,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=120"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
	Role     string `json:"role" validate:"omitempty,oneof=resident official"`
}

// Response DTOs

type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// LoginResponse is returned once the session cookie has been set
type LoginResponse struct {
	Account              models.AccountResponse `json:"account"`
	Device               *models.TrustedDevice  `json:"device"`
	NewDevice            bool                   `json:"new_device"`
	VerificationRequired bool                   `json:"verification_required"`
	VerificationSent     bool                   `json:"verification_sent"`
	Notice               string                 `json:"notice,omitempty"`
	CSRFToken            string                 `json:"csrf_token"`
	IdleTimeoutSeconds   int                    `json:"idle_timeout_seconds"`
	WarningWindowSeconds int                    `json:"warning_window_seconds"`
}

type NoticeResponse struct {
	Notice *session.Notice `json:"notice"`
}

// CSRF hands out the double-submit token the login and password forms echo
// back in X-CSRF-Token. An existing token is reused so a logged-in tab keeps
// its session-bound value.
// @Router /auth/csrf [get]
func (h *AuthHandler) CSRF(w http.ResponseWriter, r *http.Request) {
	if token, err := auth.GetCSRFTokenCookie(r); err == nil && token != "" {
		pkghttp.WriteJSON(w, http.StatusOK, CSRFResponse{CSRFToken: token})
		return
	}

	token, err := auth.RotateCSRFCookie(w, csrfCookieMaxAge, h.cookie)
	if err != nil {
		h.logger.Error("failed to issue csrf token", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, CSRFResponse{CSRFToken: token})
}

// Login authenticates the account and opens a session for the device
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	s, err := h.sessions.Start(w, r, session.Identity{
		AccountID: result.Account.ID,
		Email:     result.Account.Email,
		Name:      result.Account.Name,
		Role:      result.Account.Role,
		DeviceID:  result.Device.ID,
	})
	if err != nil {
		h.logger.Error("failed to start session",
			slog.String("account_id", result.Account.ID),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := LoginResponse{
		Account:              result.Account.ToResponse(),
		Device:               result.Device,
		NewDevice:            result.NewDevice,
		VerificationRequired: result.VerificationRequired,
		VerificationSent:     result.VerificationSent,
		CSRFToken:            s.CSRFToken,
		IdleTimeoutSeconds:   int(h.sessions.IdleTimeout().Seconds()),
		WarningWindowSeconds: int(h.sessions.WarningWindow().Seconds()),
	}
	switch {
	case result.NotificationErr != nil:
		resp.Notice = "We could not send the verification email for this device. Log in again later to receive a new link."
	case result.VerificationSent:
		resp.Notice = "This device is new. Check your email for a link to trust it."
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Register creates a pending account. An already registered email gets the
// same answer as a new one.
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	_, err := h.service.Register(r.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		var weak *pkgauth.PasswordValidationError
		switch {
		case errors.Is(err, models.ErrConflict):
			// fall through to the generic response
		case errors.As(err, &weak), errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteServiceError(w, err)
			return
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
			return
		}
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{Message: registrationReceived})
}

// Notice returns the one-shot login page message left by an expiry or
// logout, or null.
// @Router /auth/notice [get]
func (h *AuthHandler) Notice(w http.ResponseWriter, r *http.Request) {
	notice, _ := h.sessions.PopNotice(w, r)
	pkghttp.WriteJSON(w, http.StatusOK, NoticeResponse{Notice: notice})
}

// Logout terminates the session and rotates the CSRF token
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(w, r, session.ReasonLoggedOut); err != nil {
		h.logger.Error("failed to destroy session", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "You have been logged out."})
}
