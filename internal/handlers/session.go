package handlers

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/bantay/internal/session"
	pkghttp "github.com/BradenHooton/bantay/pkg/http"
)

// SessionHandler serves the endpoints the browser idle monitor talks to.
// Every route sits behind session.Manager.LoadSession.
type SessionHandler struct {
	sessions SessionManager
	logger   *slog.Logger
}

func NewSessionHandler(sessions SessionManager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

// SessionConfigResponse seeds the client countdown
type SessionConfigResponse struct {
	IdleTimeoutSeconds   int `json:"idle_timeout_seconds"`
	WarningWindowSeconds int `json:"warning_window_seconds"`
	RemainingSeconds     int `json:"remaining_seconds"`
}

type ExtendResponse struct {
	Extended         bool `json:"extended"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

type MeResponse struct {
	AccountID        string `json:"account_id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	Role             string `json:"role"`
	DeviceID         string `json:"device_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// Config
// @Router /session/config [get]
func (h *SessionHandler) Config(w http.ResponseWriter, r *http.Request) {
	s := session.FromRequest(r)
	if s == nil {
		pkghttp.WriteError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SessionConfigResponse{
		IdleTimeoutSeconds:   int(h.sessions.IdleTimeout().Seconds()),
		WarningWindowSeconds: int(h.sessions.WarningWindow().Seconds()),
		RemainingSeconds:     int(h.sessions.Remaining(s).Seconds()),
	})
}

// Extend does nothing but refresh last_activity. It is what "stay logged in"
// calls.
// @Router /session/extend [post]
func (h *SessionHandler) Extend(w http.ResponseWriter, r *http.Request) {
	s := session.FromRequest(r)
	if s == nil {
		pkghttp.WriteError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	if err := h.sessions.Touch(r.Context(), s); err != nil {
		h.logger.Error("failed to extend session",
			slog.String("account_id", s.AccountID),
			slog.Any("error", err))
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ExtendResponse{
		Extended:         true,
		RemainingSeconds: int(h.sessions.Remaining(s).Seconds()),
	})
}

// Me returns the identity bound to the session
// @Router /me [get]
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	s := session.FromRequest(r)
	if s == nil {
		pkghttp.WriteError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MeResponse{
		AccountID:        s.AccountID,
		Email:            s.Email,
		Name:             s.Name,
		Role:             s.Role,
		DeviceID:         s.DeviceID,
		RemainingSeconds: int(h.sessions.Remaining(s).Seconds()),
	})
}
