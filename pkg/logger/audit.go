package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types
const (
	EventLoginSuccess        = "login_success"
	EventLoginFailed         = "login_failed"
	EventAccountLocked       = "account_locked"
	EventLogout              = "logout"
	EventSessionExpired      = "session_expired"
	EventDeviceCreated       = "device_created"
	EventDeviceAutoTrusted   = "device_auto_trusted"
	EventDeviceVerified      = "device_verified"
	EventDeviceVerifyFailed  = "device_verification_failed"
	EventDeviceRevoked       = "device_revoked"
	EventPasswordOTPIssued   = "password_otp_issued"
	EventPasswordOTPVerified = "password_otp_verified"
	EventPasswordReset       = "password_reset"
	EventRegister            = "register"
)

// AuditEvent is one security-relevant occurrence
type AuditEvent struct {
	EventType     string
	AccountID     string
	DeviceID      string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Log writes the event at info on success and warn on failure.
func (al *AuditLogger) Log(ctx context.Context, auditType string, event AuditEvent) {
	if al == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	al.Log(ctx, "auth", event)
}

func (al *AuditLogger) LogDeviceEvent(ctx context.Context, event AuditEvent) {
	al.Log(ctx, "device", event)
}

func (al *AuditLogger) LogPasswordEvent(ctx context.Context, event AuditEvent) {
	al.Log(ctx, "password", event)
}

func (al *AuditLogger) LogSessionEvent(ctx context.Context, event AuditEvent) {
	al.Log(ctx, "session", event)
}
