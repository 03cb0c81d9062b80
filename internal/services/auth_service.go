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
	"github.com/BradenHooton/bantay/pkg/fingerprint"
	pkglogger "github.com/BradenHooton/bantay/pkg/logger"
)

type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// AuthService orchestrates the adaptive login flow
type AuthService struct {
	accounts     AccountRepository
	guard        *CredentialGuard
	devices      *DeviceTrustService
	dispatcher   Dispatcher
	timing       *auth.TimingDelay
	logger       *slog.Logger
	auditLogger  *pkglogger.AuditLogger
	hashPassword func(string) (string, error)
	now          func() time.Time
}

func NewAuthService(
	accounts AccountRepository,
	guard *CredentialGuard,
	devices *DeviceTrustService,
	dispatcher Dispatcher,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		accounts:     accounts,
		guard:        guard,
		devices:      devices,
		dispatcher:   dispatcher,
		timing:       timing,
		logger:       logger,
		auditLogger:  auditLogger,
		hashPassword: pkgauth.HashPassword,
		now:          time.Now,
	}
}

type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginResult is a successful credential check. The device may still need
// verification; NotificationErr is set when the verification email failed.
type LoginResult struct {
	Account              *models.Account
	Device               *models.TrustedDevice
	NewDevice            bool
	VerificationRequired bool
	VerificationSent     bool
	NotificationErr      error
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	event := pkglogger.AuditEvent{
		EventType: pkglogger.EventLoginFailed,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	}

	if email == "" {
		s.timing.Wait(ctx, false)
		return nil, &models.InvalidCredentialsError{AttemptsRemaining: -1}
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("login failed: invalid credentials")
			event.FailureReason = "invalid_credentials"
			s.auditLogger.LogAuthAttempt(ctx, event)
			s.timing.Wait(ctx, false)
			return nil, &models.InvalidCredentialsError{AttemptsRemaining: -1}
		}
		s.logger.Error("failed to get account by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	event.AccountID = account.ID

	if err := s.guard.CheckLockout(account); err != nil {
		s.logger.Info("login blocked: account locked", slog.String("account_id", account.ID))
		event.FailureReason = "account_locked"
		s.auditLogger.LogAuthAttempt(ctx, event)
		return nil, err
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, in.Password); err != nil {
		return nil, s.handleFailedPassword(ctx, account, event)
	}

	if err := s.guard.RecordSuccess(ctx, account.ID); err != nil {
		var locked *models.LockedOutError
		if errors.As(err, &locked) {
			event.FailureReason = "account_locked"
			s.auditLogger.LogAuthAttempt(ctx, event)
			return nil, locked
		}
		s.logger.Error("failed to reset login counters", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	account.FailedLoginAttempts = 0
	account.LockedUntil = nil

	if account.Status != models.StatusApproved {
		s.logger.Info("login blocked: account not approved",
			slog.String("account_id", account.ID),
			slog.String("status", account.Status))
		event.FailureReason = "account_" + account.Status
		s.auditLogger.LogAuthAttempt(ctx, event)
		return nil, &models.AccountNotApprovedError{Status: account.Status}
	}

	result, err := s.resolveDevice(ctx, account, in)
	if err != nil {
		s.logger.Error("device trust lookup failed", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("account logged in",
		slog.String("account_id", account.ID),
		slog.String("device_id", result.Device.ID),
		slog.Bool("device_trusted", result.Device.IsTrusted))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLoginSuccess,
		AccountID: account.ID,
		DeviceID:  result.Device.ID,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
		Success:   true,
	})

	return result, nil
}

func (s *AuthService) handleFailedPassword(ctx context.Context, account *models.Account, event pkglogger.AuditEvent) error {
	updated, err := s.guard.RecordFailure(ctx, account.ID)
	s.timing.Wait(ctx, false)
	if err != nil {
		s.logger.Error("failed to record login failure", slog.String("account_id", account.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("login failed: invalid credentials",
		slog.String("account_id", account.ID),
		slog.Int("failed_attempts", updated.FailedLoginAttempts))

	// this failure tripped the lock
	if lockErr := s.guard.CheckLockout(updated); lockErr != nil {
		event.EventType = pkglogger.EventAccountLocked
		event.FailureReason = "too_many_failures"
		s.auditLogger.LogAuthAttempt(ctx, event)
		return lockErr
	}

	event.FailureReason = "invalid_credentials"
	s.auditLogger.LogAuthAttempt(ctx, event)
	return &models.InvalidCredentialsError{AttemptsRemaining: s.guard.AttemptsRemaining(updated)}
}

// resolveDevice records the device and, when it is not trusted, mails a
// verification link. A failed email never undoes the device record.
func (s *AuthService) resolveDevice(ctx context.Context, account *models.Account, in LoginInput) (*LoginResult, error) {
	fp := fingerprint.Fingerprint(in.UserAgent, account.ID)

	device, isNew, err := s.devices.LookupOrCreate(ctx, account.ID, fp, in.IPAddress, in.UserAgent)
	if err != nil {
		return nil, err
	}

	result := &LoginResult{Account: account, Device: device, NewDevice: isNew}

	if isNew {
		if _, err := s.devices.AutoTrustIfFirstDevice(ctx, account.ID, device); err != nil {
			return nil, fmt.Errorf("auto-trust device: %w", err)
		}
	} else if err := s.devices.Touch(ctx, device, in.IPAddress); err != nil {
		s.logger.Warn("failed to touch device", slog.String("device_id", device.ID), slog.Any("error", err))
	}

	if device.IsTrusted {
		return result, nil
	}

	result.VerificationRequired = true

	token, err := s.devices.IssueVerificationToken(ctx, device)
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.SendDeviceVerification(ctx, account, device, token); err != nil {
		s.logger.Error("device verification email failed",
			slog.String("account_id", account.ID),
			slog.String("device_id", device.ID),
			slog.Any("error", err))
		result.NotificationErr = fmt.Errorf("%w: %v", models.ErrNotificationFailed, err)
		return result, nil
	}

	result.VerificationSent = true
	return result, nil
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// Register creates a pending account awaiting approval.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	name := strings.TrimSpace(in.Name)
	if email == "" || name == "" {
		return nil, models.ErrBadRequest
	}

	role := in.Role
	if role == "" {
		role = models.RoleResident
	}
	if role == models.RoleAdmin || !models.IsValidRole(role) {
		return nil, models.ErrBadRequest
	}

	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	account, err := s.accounts.Create(ctx, &models.Account{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         role,
		Status:       models.StatusPending,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventRegister,
		AccountID: account.ID,
		Success:   true,
		Metadata:  map[string]string{"role": account.Role},
	})
	return account, nil
}

// EnsureAdmin creates an approved admin when email has no account yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password, name string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return false, fmt.Errorf("lookup admin: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return false, fmt.Errorf("admin password: %w", err)
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return false, err
	}

	if _, err := s.accounts.Create(ctx, &models.Account{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         models.RoleAdmin,
		Status:       models.StatusApproved,
	}); err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}

	s.logger.Info("bootstrap admin created", pkglogger.EmailAttr(email))
	return true, nil
}
