package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bantay/internal/auth"
	"github.com/BradenHooton/bantay/internal/models"
	pkgauth "github.com/BradenHooton/bantay/pkg/auth"
	pkglogger "github.com/BradenHooton/bantay/pkg/logger"
)

// ResetTokenLedger marks reset tokens as used
type ResetTokenLedger interface {
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}

// PasswordResetService runs request-code, verify-code, set-password.
// The verified email travels from step two to step three inside a signed,
// single-use token rather than in client-supplied form data.
type PasswordResetService struct {
	accounts     AccountRepository
	otp          *OTPService
	dispatcher   Dispatcher
	tokens       *auth.ResetTokenManager
	ledger       ResetTokenLedger
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
	hashPassword func(string) (string, error)
	now          func() time.Time
}

func NewPasswordResetService(
	accounts AccountRepository,
	otp *OTPService,
	dispatcher Dispatcher,
	tokens *auth.ResetTokenManager,
	ledger ResetTokenLedger,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *PasswordResetService {
	return &PasswordResetService{
		accounts:     accounts,
		otp:          otp,
		dispatcher:   dispatcher,
		tokens:       tokens,
		ledger:       ledger,
		logger:       logger,
		auditLogger:  auditLogger,
		hashPassword: pkgauth.HashPassword,
		now:          time.Now,
	}
}

// RequestOTP mails a code to an approved account. Unknown emails succeed
// silently so the endpoint cannot be used to probe for accounts.
func (s *PasswordResetService) RequestOTP(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email", pkglogger.EmailAttr(email))
			return nil
		}
		s.logger.Error("failed to get account by email", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if account.Status != models.StatusApproved {
		return &models.AccountNotApprovedError{Status: account.Status}
	}

	code, err := s.otp.Issue(ctx, email)
	if err != nil {
		s.logger.Error("failed to issue one-time code", slog.String("account_id", account.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogPasswordEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventPasswordOTPIssued,
		AccountID: account.ID,
		Success:   true,
	})

	if err := s.dispatcher.SendOTP(ctx, account, code); err != nil {
		s.logger.Error("failed to send one-time code", slog.String("account_id", account.ID), slog.Any("error", err))
		return fmt.Errorf("%w: %v", models.ErrNotificationFailed, err)
	}
	return nil
}

// VerifyOTP consumes the code and returns a reset token bound to email.
func (s *PasswordResetService) VerifyOTP(ctx context.Context, email, code string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := s.otp.Verify(ctx, email, code); err != nil {
		if errors.Is(err, models.ErrInvalidOTP) || errors.Is(err, models.ErrExpiredOTP) {
			s.auditLogger.LogPasswordEvent(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventPasswordOTPVerified,
				FailureReason: err.Error(),
				Metadata:      map[string]string{"email": pkglogger.SanitizedEmail(email)},
			})
			return "", err
		}
		s.logger.Error("failed to verify one-time code", slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	token, _, err := s.tokens.Issue(email)
	if err != nil {
		s.logger.Error("failed to issue reset token", slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	s.auditLogger.LogPasswordEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventPasswordOTPVerified,
		Success:   true,
		Metadata:  map[string]string{"email": pkglogger.SanitizedEmail(email)},
	})
	return token, nil
}

// ResetPassword sets a new password. Complexity is checked here regardless
// of what the client enforced.
func (s *PasswordResetService) ResetPassword(ctx context.Context, resetToken, email, newPassword string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	claims, err := s.tokens.Validate(resetToken)
	if err != nil {
		return models.ErrInvalidResetToken
	}
	if claims.Email != email {
		s.logger.Warn("reset token email mismatch", pkglogger.EmailAttr(email))
		return models.ErrInvalidResetToken
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidResetToken
		}
		s.logger.Error("failed to get account by email", slog.Any("error", err))
		return models.ErrInternalServer
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Sub(s.now()) + time.Minute
	}
	first, err := s.ledger.Consume(ctx, claims.ID, ttl)
	if err != nil {
		s.logger.Error("failed to record reset token use", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !first {
		s.logger.Warn("reset token replayed", slog.String("account_id", account.ID))
		return models.ErrInvalidResetToken
	}

	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		s.logger.Error("failed to update password", slog.String("account_id", account.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("password reset", slog.String("account_id", account.ID))
	s.auditLogger.LogPasswordEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventPasswordReset,
		AccountID: account.ID,
		Success:   true,
	})
	return nil
}
