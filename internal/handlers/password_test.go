package handlers_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/bantay/internal/handlers"
	"github.com/BradenHooton/bantay/internal/models"
	pkgauth "github.com/BradenHooton/bantay/pkg/auth"
	"github.com/stretchr/testify/assert"
)

func TestRequestOTP(t *testing.T) {
	tests := []struct {
		name         string
		serviceErr   error
		expectStatus int
		expectCode   string
	}{
		{"sent or unknown", nil, http.StatusAccepted, ""},
		{"pending account", &models.AccountNotApprovedError{Status: models.StatusPending}, http.StatusForbidden, "account_pending"},
		{"dispatch failed", fmt.Errorf("%w: ses throttled", models.ErrNotificationFailed), http.StatusBadGateway, "notification_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &handlers.MockPasswordResetService{
				RequestOTPFunc: func(ctx context.Context, email string) error { return tt.serviceErr },
			}
			handler := handlers.NewPasswordHandler(service, 15*time.Minute)

			w := httptest.NewRecorder()
			handler.RequestOTP(w, handlers.NewTestRequest(t, "POST", "/password/otp", handlers.RequestOTPRequest{Email: "b@x.com"}))

			if tt.expectCode != "" {
				handlers.AssertErrorResponse(t, w, tt.expectStatus, tt.expectCode)
				return
			}
			handlers.AssertJSONResponse(t, w, tt.expectStatus, nil)
		})
	}
}

func TestVerifyOTP(t *testing.T) {
	service := &handlers.MockPasswordResetService{
		VerifyOTPFunc: func(ctx context.Context, email, code string) (string, error) {
			switch code {
			case "042017":
				return "reset-token", nil
			case "111111":
				return "", models.ErrExpiredOTP
			default:
				return "", models.ErrInvalidOTP
			}
		},
	}
	handler := handlers.NewPasswordHandler(service, 15*time.Minute)

	w := httptest.NewRecorder()
	handler.VerifyOTP(w, handlers.NewTestRequest(t, "POST", "/password/otp/verify", handlers.VerifyOTPRequest{Email: "b@x.com", Code: "042017"}))

	var resp handlers.VerifyOTPResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "reset-token", resp.ResetToken)
	assert.Equal(t, 900, resp.ExpiresInSeconds)

	w = httptest.NewRecorder()
	handler.VerifyOTP(w, handlers.NewTestRequest(t, "POST", "/password/otp/verify", handlers.VerifyOTPRequest{Email: "b@x.com", Code: "111111"}))
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "expired_otp")

	w = httptest.NewRecorder()
	handler.VerifyOTP(w, handlers.NewTestRequest(t, "POST", "/password/otp/verify", handlers.VerifyOTPRequest{Email: "b@x.com", Code: "999999"}))
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "invalid_otp")
}

func TestVerifyOTP_RejectsMalformedCode(t *testing.T) {
	service := &handlers.MockPasswordResetService{
		VerifyOTPFunc: func(ctx context.Context, email, code string) (string, error) {
			t.Fatal("service must not be called")
			return "", nil
		},
	}
	handler := handlers.NewPasswordHandler(service, 15*time.Minute)

	for _, code := range []string{"42017", "0420170", "04201a"} {
		w := httptest.NewRecorder()
		handler.VerifyOTP(w, handlers.NewTestRequest(t, "POST", "/password/otp/verify", handlers.VerifyOTPRequest{Email: "b@x.com", Code: code}))
		handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	}
}

func TestResetPassword(t *testing.T) {
	tests := []struct {
		name         string
		serviceErr   error
		expectStatus int
		expectCode   string
	}{
		{"changed", nil, http.StatusOK, ""},
		{"bad token", models.ErrInvalidResetToken, http.StatusBadRequest, "invalid_reset_token"},
		{"weak password", &pkgauth.PasswordValidationError{Errors: []string{"missing symbol"}}, http.StatusBadRequest, "weak_password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotToken, gotEmail, gotPassword string
			service := &handlers.MockPasswordResetService{
				ResetPasswordFunc: func(ctx context.Context, resetToken, email, newPassword string) error {
					gotToken, gotEmail, gotPassword = resetToken, email, newPassword
					return tt.serviceErr
				},
			}
			handler := handlers.NewPasswordHandler(service, 15*time.Minute)

			w := httptest.NewRecorder()
			handler.ResetPassword(w, handlers.NewTestRequest(t, "POST", "/password/reset", handlers.ResetPasswordRequest{
				Email:       "b@x.com",
				ResetToken:  "reset-token",
				NewPassword: "Fresh#2024",
			}))

			if tt.expectCode != "" {
				handlers.AssertErrorResponse(t, w, tt.expectStatus, tt.expectCode)
			} else {
				handlers.AssertJSONResponse(t, w, tt.expectStatus, nil)
			}
			assert.Equal(t, "reset-token", gotToken)
			assert.Equal(t, "b@x.com", gotEmail)
			assert.Equal(t, "Fresh#2024", gotPassword)
		})
	}
}
