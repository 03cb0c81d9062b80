package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/bantay/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSES struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput) (*ses.SendEmailOutput, error)
	last          *ses.SendEmailInput
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.last = params
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params)
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func newTestSESDispatcher(client sesSender) *SESDispatcher {
	return &SESDispatcher{
		client:      client,
		fromAddress: "no-reply@barangay.ph",
		baseURL:     "https://portal.barangay.ph",
		otpTTL:      10 * time.Minute,
		logger:      slog.Default(),
	}
}

func TestVerificationLink(t *testing.T) {
	assert.Equal(t,
		"https://portal.barangay.ph/verify-device/abc_-/dev-1",
		VerificationLink("https://portal.barangay.ph", "abc_-", "dev-1"))
}

func TestSESDispatcher_SendDeviceVerification(t *testing.T) {
	client := &mockSES{}
	d := newTestSESDispatcher(client)

	account := &models.Account{Email: "maria@barangay.ph", Name: "Maria <Clara>"}
	device := &models.TrustedDevice{ID: "dev-1", Name: "Chrome on Windows", IPAddress: "203.0.113.5", FirstSeenAt: time.Now()}

	require.NoError(t, d.SendDeviceVerification(context.Background(), account, device, "tok123"))
	require.NotNil(t, client.last)

	assert.Equal(t, []string{"maria@barangay.ph"}, client.last.Destination.ToAddresses)
	htmlBody := aws.ToString(client.last.Message.Body.Html.Data)
	assert.Contains(t, htmlBody, "/verify-device/tok123/dev-1")
	assert.Contains(t, htmlBody, "data:image/png;base64,")
	assert.Contains(t, htmlBody, "Maria &lt;Clara&gt;")
	assert.Contains(t, aws.ToString(client.last.Message.Body.Text.Data), "/verify-device/tok123/dev-1")
}

func TestSESDispatcher_SendOTP(t *testing.T) {
	client := &mockSES{}
	d := newTestSESDispatcher(client)

	require.NoError(t, d.SendOTP(context.Background(), &models.Account{Email: "maria@barangay.ph", Name: "Maria"}, "042017"))

	text := aws.ToString(client.last.Message.Body.Text.Data)
	assert.Contains(t, text, "042017")
	assert.True(t, strings.Contains(text, "10 minutes"))
}

func TestSESDispatcher_SendFailure(t *testing.T) {
	client := &mockSES{SendEmailFunc: func(ctx context.Context, params *ses.SendEmailInput) (*ses.SendEmailOutput, error) {
		return nil, errors.New("throttled")
	}}
	d := newTestSESDispatcher(client)

	err := d.SendOTP(context.Background(), &models.Account{Email: "maria@barangay.ph"}, "123456")
	assert.Error(t, err)
}

func TestLogDispatcher_KeepsSecretsOutOfLogs(t *testing.T) {
	var buf bytes.Buffer
	d := NewLogDispatcher("https://portal.barangay.ph", false, slog.New(slog.NewJSONHandler(&buf, nil)))
	account := &models.Account{Email: "b@x.com"}
	expires := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, d.SendOTP(context.Background(), account, "042017"))
	require.NoError(t, d.SendDeviceVerification(context.Background(), account,
		&models.TrustedDevice{ID: "dev-1", VerificationExpiresAt: &expires}, "tok123"))

	out := buf.String()
	assert.NotContains(t, out, "042017")
	assert.NotContains(t, out, "tok123")
	assert.Contains(t, out, `"device_id":"dev-1"`)
	assert.Contains(t, out, "expires_at")
}

func TestLogDispatcher_RevealsInDevelopment(t *testing.T) {
	var buf bytes.Buffer
	d := NewLogDispatcher("https://portal.barangay.ph", true, slog.New(slog.NewJSONHandler(&buf, nil)))
	account := &models.Account{Email: "b@x.com"}

	require.NoError(t, d.SendOTP(context.Background(), account, "042017"))
	require.NoError(t, d.SendDeviceVerification(context.Background(), account, &models.TrustedDevice{ID: "dev-1"}, "tok123"))

	out := buf.String()
	assert.Contains(t, out, `"code":"042017"`)
	assert.Contains(t, out, "/verify-device/tok123/dev-1")
}
