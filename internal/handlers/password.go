package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/bantay/pkg/http"
)

// PasswordResetServiceInterface is the three step reset protocol
type PasswordResetServiceInterface interface {
	RequestOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (string, error)
	ResetPassword(ctx context.Context, resetToken, email, newPassword string) error
}

type PasswordHandler struct {
	service       PasswordResetServiceInterface
	resetTokenTTL time.Duration
}

func NewPasswordHandler(service PasswordResetServiceInterface, resetTokenTTL time.Duration) *PasswordHandler {
	return &PasswordHandler{service: service, resetTokenTTL: resetTokenTTL}
}

type RequestOTPRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// ResetPasswordRequest carries the reset token from VerifyOTP. The password
// rules are enforced by the service, not here.
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	ResetToken  string `json:"reset_token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,max=128"`
}

type VerifyOTPResponse struct {
	ResetToken       string `json:"reset_token"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// RequestOTP mails a 6 digit code. Unknown emails get the same 202.
// @Router /password/otp [post]
func (h *PasswordHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req RequestOTPRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.RequestOTP(r.Context(), req.Email); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If the email belongs to an approved account, a verification code has been sent.",
	})
}

// VerifyOTP exchanges a valid code for a short-lived reset token
// @Router /password/otp/verify [post]
func (h *PasswordHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	token, err := h.service.VerifyOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyOTPResponse{
		ResetToken:       token,
		ExpiresInSeconds: int(h.resetTokenTTL.Seconds()),
	})
}

// ResetPassword
// @Router /password/reset [post]
func (h *PasswordHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := pkghttp.DecodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.ResetToken, req.Email, req.NewPassword); err != nil {
		pkghttp.WriteServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Your password has been changed. You can now log in."})
}
