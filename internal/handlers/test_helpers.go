package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/bantay/internal/models"
	"github.com/BradenHooton/bantay/internal/services"
	"github.com/BradenHooton/bantay/internal/session"
	pkghttp "github.com/BradenHooton/bantay/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext puts s in the request context the way LoadSession does
func WithSessionContext(req *http.Request, s *session.Session) *http.Request {
	return req.WithContext(session.WithSession(req.Context(), s))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc    func(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
	RegisterFunc func(ctx context.Context, in services.RegisterInput) (*models.Account, error)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, &models.InvalidCredentialsError{AttemptsRemaining: -1}
	}
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) (*models.Account, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, in)
}

// MockSessionManager implements SessionManager for testing. Idle and Warning
// default to 15 minutes and 1 minute.
type MockSessionManager struct {
	StartFunc     func(w http.ResponseWriter, r *http.Request, id session.Identity) (*session.Session, error)
	DestroyFunc   func(w http.ResponseWriter, r *http.Request, reason string) error
	PopNoticeFunc func(w http.ResponseWriter, r *http.Request) (*session.Notice, bool)
	TouchFunc     func(ctx context.Context, s *session.Session) error
	RemainingFunc func(s *session.Session) time.Duration
	Idle          time.Duration
	Warning       time.Duration
}

func (m *MockSessionManager) Start(w http.ResponseWriter, r *http.Request, id session.Identity) (*session.Session, error) {
	if m.StartFunc == nil {
		return &session.Session{
			ID:        "session-1",
			AccountID: id.AccountID,
			Email:     id.Email,
			Name:      id.Name,
			Role:      id.Role,
			DeviceID:  id.DeviceID,
			CSRFToken: "csrf-token",
		}, nil
	}
	return m.StartFunc(w, r, id)
}

func (m *MockSessionManager) Destroy(w http.ResponseWriter, r *http.Request, reason string) error {
	if m.DestroyFunc == nil {
		return nil
	}
	return m.DestroyFunc(w, r, reason)
}

func (m *MockSessionManager) PopNotice(w http.ResponseWriter, r *http.Request) (*session.Notice, bool) {
	if m.PopNoticeFunc == nil {
		return nil, false
	}
	return m.PopNoticeFunc(w, r)
}

func (m *MockSessionManager) Touch(ctx context.Context, s *session.Session) error {
	if m.TouchFunc == nil {
		return nil
	}
	return m.TouchFunc(ctx, s)
}

func (m *MockSessionManager) Remaining(s *session.Session) time.Duration {
	if m.RemainingFunc == nil {
		return m.IdleTimeout()
	}
	return m.RemainingFunc(s)
}

func (m *MockSessionManager) IdleTimeout() time.Duration {
	if m.Idle == 0 {
		return 15 * time.Minute
	}
	return m.Idle
}

func (m *MockSessionManager) WarningWindow() time.Duration {
	if m.Warning == 0 {
		return time.Minute
	}
	return m.Warning
}

// MockDeviceTrustService implements DeviceTrustServiceInterface for testing
type MockDeviceTrustService struct {
	DevicesForFunc     func(ctx context.Context, accountID string) ([]*models.TrustedDevice, error)
	RevokeFunc         func(ctx context.Context, deviceID, accountID string) error
	VerifyAndTrustFunc func(ctx context.Context, deviceID, token string) (bool, error)
}

func (m *MockDeviceTrustService) DevicesFor(ctx context.Context, accountID string) ([]*models.TrustedDevice, error) {
	if m.DevicesForFunc == nil {
		return []*models.TrustedDevice{}, nil
	}
	return m.DevicesForFunc(ctx, accountID)
}

func (m *MockDeviceTrustService) Revoke(ctx context.Context, deviceID, accountID string) error {
	if m.RevokeFunc == nil {
		return models.ErrNotFound
	}
	return m.RevokeFunc(ctx, deviceID, accountID)
}

func (m *MockDeviceTrustService) VerifyAndTrust(ctx context.Context, deviceID, token string) (bool, error) {
	if m.VerifyAndTrustFunc == nil {
		return false, models.ErrDeviceVerificationFailed
	}
	return m.VerifyAndTrustFunc(ctx, deviceID, token)
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	RequestOTPFunc    func(ctx context.Context, email string) error
	VerifyOTPFunc     func(ctx context.Context, email, code string) (string, error)
	ResetPasswordFunc func(ctx context.Context, resetToken, email, newPassword string) error
}

func (m *MockPasswordResetService) RequestOTP(ctx context.Context, email string) error {
	if m.RequestOTPFunc == nil {
		return nil
	}
	return m.RequestOTPFunc(ctx, email)
}

func (m *MockPasswordResetService) VerifyOTP(ctx context.Context, email, code string) (string, error) {
	if m.VerifyOTPFunc == nil {
		return "", models.ErrInvalidOTP
	}
	return m.VerifyOTPFunc(ctx, email, code)
}

func (m *MockPasswordResetService) ResetPassword(ctx context.Context, resetToken, email, newPassword string) error {
	if m.ResetPasswordFunc == nil {
		return models.ErrInvalidResetToken
	}
	return m.ResetPasswordFunc(ctx, resetToken, email, newPassword)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
//
// Example usage:
//
//	req := httptest.NewRequest("POST", "/devices/abc/revoke", nil)
//	req = WithChiRouteContext(req, map[string]string{"id": "abc"})
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
