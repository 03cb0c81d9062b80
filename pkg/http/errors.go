package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BradenHooton/bantay/internal/models"
	pkgauth "github.com/BradenHooton/bantay/pkg/auth"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context

	AttemptsRemaining *int `json:"attempts_remaining,omitempty"`
	RetryAfterMinutes int  `json:"retry_after_minutes,omitempty"`
}

// WriteJSON writes v with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorWithDetails(w, statusCode, errorCode, message, "")
}

// WriteErrorWithDetails writes a JSON error response with additional details
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, errorCode, message, details string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteServiceError maps a service-layer error to its status and code.
// Anything unrecognised becomes a 500 with a generic message.
func WriteServiceError(w http.ResponseWriter, err error) {
	var (
		locked      *models.LockedOutError
		invalid     *models.InvalidCredentialsError
		notApproved *models.AccountNotApprovedError
		weak        *pkgauth.PasswordValidationError
	)

	switch {
	case errors.As(err, &locked):
		WriteJSON(w, http.StatusLocked, ErrorResponse{
			Error:             "account_locked",
			Message:           locked.Error(),
			RetryAfterMinutes: locked.RemainingMinutes,
		})
	case errors.As(err, &invalid):
		resp := ErrorResponse{Error: "invalid_credentials", Message: invalid.Error()}
		if invalid.AttemptsRemaining >= 0 {
			remaining := invalid.AttemptsRemaining
			resp.AttemptsRemaining = &remaining
		}
		WriteJSON(w, http.StatusUnauthorized, resp)
	case errors.As(err, &notApproved):
		WriteError(w, http.StatusForbidden, "account_"+notApproved.Status, notApproved.Error())
	case errors.As(err, &weak):
		WriteErrorWithDetails(w, http.StatusBadRequest, "weak_password", "Password does not meet the requirements", weak.Error())
	case errors.Is(err, models.ErrInvalidOTP):
		WriteError(w, http.StatusBadRequest, "invalid_otp", "The code is incorrect or has already been used")
	case errors.Is(err, models.ErrExpiredOTP):
		WriteError(w, http.StatusBadRequest, "expired_otp", "The code has expired, request a new one")
	case errors.Is(err, models.ErrInvalidResetToken):
		WriteError(w, http.StatusBadRequest, "invalid_reset_token", "The reset link is invalid or has expired")
	case errors.Is(err, models.ErrDeviceVerificationFailed):
		WriteError(w, http.StatusBadRequest, "device_verification_failed", "This verification link is invalid or has expired")
	case errors.Is(err, models.ErrNotificationFailed):
		WriteError(w, http.StatusBadGateway, "notification_failed", "We could not send the email, please try again")
	case errors.Is(err, models.ErrSessionExpired):
		WriteError(w, http.StatusUnauthorized, "session_expired", "Your session expired due to inactivity")
	case errors.Is(err, models.ErrNoSession):
		WriteError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
	case errors.Is(err, models.ErrNotFound):
		WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		WriteConflict(w, "Resource already exists")
	case errors.Is(err, models.ErrBadRequest):
		WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrForbidden):
		WriteForbidden(w, "Forbidden")
	default:
		WriteInternalError(w, "An unexpected error occurred")
	}
}
