package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"time"

	"github.com/BradenHooton/bantay/internal/models"
	pkglogger "github.com/BradenHooton/bantay/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	qrcode "github.com/skip2/go-qrcode"
)

// Dispatcher delivers security notifications. Callers never roll back state
// when it fails.
type Dispatcher interface {
	SendDeviceVerification(ctx context.Context, account *models.Account, device *models.TrustedDevice, token string) error
	SendOTP(ctx context.Context, account *models.Account, code string) error
}

// sesSender is the subset of *ses.Client used here
type sesSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESDispatcher sends notifications through AWS SES
type SESDispatcher struct {
	client      sesSender
	fromAddress string
	baseURL     string
	otpTTL      time.Duration
	logger      *slog.Logger
}

func NewSESDispatcher(region, fromAddress, baseURL string, otpTTL time.Duration, logger *slog.Logger) (*SESDispatcher, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESDispatcher{
		client:      ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		otpTTL:      otpTTL,
		logger:      logger,
	}, nil
}

// VerificationLink builds /verify-device/{token}/{device_id}.
func VerificationLink(baseURL, token, deviceID string) string {
	return fmt.Sprintf("%s/verify-device/%s/%s", baseURL, url.PathEscape(token), url.PathEscape(deviceID))
}

const emailStyle = `
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .button { display: inline-block; background-color: #0b6e4f; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .code { font-size: 32px; letter-spacing: 8px; font-weight: bold; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }`

func (s *SESDispatcher) SendDeviceVerification(ctx context.Context, account *models.Account, device *models.TrustedDevice, token string) error {
	link := VerificationLink(s.baseURL, token, device.ID)

	qrImg := ""
	if png, err := qrcode.Encode(link, qrcode.Medium, 192); err == nil {
		qrImg = fmt.Sprintf(`<p><img alt="Scan to verify" src="data:image/png;base64,%s" width="192" height="192"></p>`,
			base64.StdEncoding.EncodeToString(png))
	} else {
		s.logger.Warn("failed to render verification QR code", slog.Any("error", err))
	}

	seen := device.LastSeenAt.Format("Jan 2, 2006 3:04 PM MST")
	expires := "in 24 hours"
	if device.VerificationExpiresAt != nil {
		expires = "on " + device.VerificationExpiresAt.Format("Jan 2, 2006 3:04 PM MST")
	}
	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><style>%s</style></head>
<body>
    <div class="container">
        <div class="header"><h1>New device sign-in</h1></div>
        <p>Hello %s,</p>
        <p>Your barangay portal account was signed in from <strong>%s</strong> (IP %s) on %s.</p>
        <p>If this was you, confirm the device:</p>
        <p><a href="%s" class="button">Trust this device</a></p>
        %s
        <p>The link expires %s. If this was not you, change your password right away.</p>
        <div class="footer"><p>This is an automated message. Please do not reply.</p></div>
    </div>
</body>
</html>`, emailStyle, html.EscapeString(account.Name), html.EscapeString(device.Name),
		html.EscapeString(device.IPAddress), seen, link, qrImg, expires)

	textBody := fmt.Sprintf(`New device sign-in

Hello %s,

Your barangay portal account was signed in from %s (IP %s) on %s.

If this was you, open the link below to trust the device:
%s

The link expires %s. If this was not you, change your password right away.
`, account.Name, device.Name, device.IPAddress, seen, link, expires)

	return s.send(ctx, account.Email, "Confirm your new device", htmlBody, textBody, "device_verification")
}

func (s *SESDispatcher) SendOTP(ctx context.Context, account *models.Account, code string) error {
	minutes := int(s.otpTTL / time.Minute)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><style>%s</style></head>
<body>
    <div class="container">
        <div class="header"><h1>Password reset code</h1></div>
        <p>Hello %s,</p>
        <p>Use this code to reset your password:</p>
        <p class="code">%s</p>
        <p>The code expires in %d minutes and can be used once.</p>
        <p>If you did not request a reset you can ignore this email.</p>
        <div class="footer"><p>This is an automated message. Please do not reply.</p></div>
    </div>
</body>
</html>`, emailStyle, html.EscapeString(account.Name), code, minutes)

	textBody := fmt.Sprintf(`Password reset code

Hello %s,

Your code is %s. It expires in %d minutes and can be used once.

If you did not request a reset you can ignore this email.
`, account.Name, code, minutes)

	return s.send(ctx, account.Email, "Your password reset code", htmlBody, textBody, "password_otp")
}

func (s *SESDispatcher) send(ctx context.Context, to, subject, htmlBody, textBody, kind string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("kind", kind),
			pkglogger.EmailAttr(to),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("kind", kind),
		pkglogger.EmailAttr(to),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogDispatcher writes notifications to the log instead of sending them.
// Links and codes are only written when reveal is set, which main does for
// local development and nowhere else.
type LogDispatcher struct {
	baseURL string
	reveal  bool
	logger  *slog.Logger
}

func NewLogDispatcher(baseURL string, reveal bool, logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{baseURL: baseURL, reveal: reveal, logger: logger}
}

func (d *LogDispatcher) SendDeviceVerification(ctx context.Context, account *models.Account, device *models.TrustedDevice, token string) error {
	attrs := []any{
		pkglogger.EmailAttr(account.Email),
		slog.String("device_id", device.ID),
	}
	if device.VerificationExpiresAt != nil {
		attrs = append(attrs, slog.Time("expires_at", *device.VerificationExpiresAt))
	}
	if d.reveal {
		attrs = append(attrs, slog.String("link", VerificationLink(d.baseURL, token, device.ID)))
	}
	d.logger.InfoContext(ctx, "device verification email (not sent)", attrs...)
	return nil
}

func (d *LogDispatcher) SendOTP(ctx context.Context, account *models.Account, code string) error {
	attrs := []any{pkglogger.EmailAttr(account.Email)}
	if d.reveal {
		attrs = append(attrs, slog.String("code", code))
	}
	d.logger.InfoContext(ctx, "password reset code email (not sent)", attrs...)
	return nil
}
