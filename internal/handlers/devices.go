package handlers

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/bantay/internal/models"
	"github.com/BradenHooton/bantay/internal/session"
	pkghttp "github.com/BradenHooton/bantay/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// DeviceTrustServiceInterface defines the device self-service operations
type DeviceTrustServiceInterface interface {
	DevicesFor(ctx context.Context, accountID string) ([]*models.TrustedDevice, error)
	Revoke(ctx context.Context, deviceID, accountID string) error
	VerifyAndTrust(ctx context.Context, deviceID, token string) (bool, error)
}

type DeviceHandler struct {
	service DeviceTrustServiceInterface
	logger  *slog.Logger
}

func NewDeviceHandler(service DeviceTrustServiceInterface, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{service: service, logger: logger}
}

// DeviceResponse is one row of the device list
type DeviceResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Platform    string     `json:"platform"`
	Browser     string     `json:"browser"`
	IPAddress   string     `json:"ip_address"`
	IsTrusted   bool       `json:"is_trusted"`
	Current     bool       `json:"current"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
}

type DeviceListResponse struct {
	Devices []DeviceResponse `json:"devices"`
}

// VerifyDeviceResponse is the outcome of a verification link visit
type VerifyDeviceResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

const (
	deviceVerifiedMessage = "This device is now trusted. You can continue using the portal."
	deviceFailedMessage   = "This verification link is invalid, expired or already used."
)

var verifyOutcomePage = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
<p><a href="/login">Go to login</a></p>
</body>
</html>
`))

// List returns the caller's devices
// @Router /devices [get]
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	s := session.FromRequest(r)
	if s == nil {
		pkghttp.WriteError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	devices, err := h.service.DevicesFor(r.Context(), s.AccountID)
	if err != nil {
		h.logger.Error("failed to list devices", slog.String("account_id", s.AccountID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := DeviceListResponse{Devices: make([]DeviceResponse, 0, len(devices))}
	for _, d := range devices {
		resp.Devices = append(resp.Devices, DeviceResponse{
			ID:          d.ID,
			Name:        d.Name,
			Platform:    d.Platform,
			Browser:     d.Browser,
			IPAddress:   d.IPAddress,
			IsTrusted:   d.IsTrusted,
			Current:     d.ID == s.DeviceID,
			FirstSeenAt: d.FirstSeenAt,
			LastSeenAt:  d.LastSeenAt,
			VerifiedAt:  d.VerifiedAt,
		})
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Revoke withdraws trust from a device the caller owns. Devices owned by
// someone else look exactly like missing ones.
// @Router /devices/{id}/revoke [post]
func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	s := session.FromRequest(r)
	if s == nil {
		pkghttp.WriteError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	deviceID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(deviceID); err != nil {
		pkghttp.WriteNotFound(w, "Device not found")
		return
	}

	if err := h.service.Revoke(r.Context(), deviceID, s.AccountID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Device not found")
			return
		}
		h.logger.Error("failed to revoke device",
			slog.String("account_id", s.AccountID),
			slog.String("device_id", deviceID),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Device trust revoked"})
}

// Verify consumes the emailed token. A second visit with the same link gets
// the failure outcome, never a server error.
// @Router /verify-device/{token}/{device_id} [get]
func (h *DeviceHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	deviceID := chi.URLParam(r, "device_id")

	verified := false
	if _, err := uuid.Parse(deviceID); err == nil {
		ok, err := h.service.VerifyAndTrust(r.Context(), deviceID, token)
		verified = ok && err == nil
	}

	if pkghttp.WantsHTML(r) {
		h.renderOutcome(w, verified)
		return
	}
	if !verified {
		pkghttp.WriteServiceError(w, models.ErrDeviceVerificationFailed)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, VerifyDeviceResponse{Verified: true, Message: deviceVerifiedMessage})
}

func (h *DeviceHandler) renderOutcome(w http.ResponseWriter, verified bool) {
	data := struct{ Title, Message string }{"Device verified", deviceVerifiedMessage}
	status := http.StatusOK
	if !verified {
		data.Title, data.Message = "Verification failed", deviceFailedMessage
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := verifyOutcomePage.Execute(w, data); err != nil {
		h.logger.Error("failed to render verification outcome", slog.Any("error", err))
	}
}
