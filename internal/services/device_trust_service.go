package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bantay/internal/models"
	"github.com/BradenHooton/bantay/pkg/fingerprint"
	pkglogger "github.com/BradenHooton/bantay/pkg/logger"
)

// TrustedDeviceRepository is the persistence the trust store needs
type TrustedDeviceRepository interface {
	GetByFingerprint(ctx context.Context, accountID, fingerprint string) (*models.TrustedDevice, error)
	GetByID(ctx context.Context, id string) (*models.TrustedDevice, error)
	GetForAccount(ctx context.Context, id, accountID string) (*models.TrustedDevice, error)
	ListByAccount(ctx context.Context, accountID string) ([]*models.TrustedDevice, error)
	Create(ctx context.Context, d *models.TrustedDevice) (*models.TrustedDevice, bool, error)
	Touch(ctx context.Context, id, ip string, seenAt time.Time) error
	HasTrusted(ctx context.Context, accountID string) (bool, error)
	TrustIfOnlyDevice(ctx context.Context, id, accountID string, at time.Time) (bool, error)
	SetVerificationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ConsumeVerificationToken(ctx context.Context, id, tokenHash string, at time.Time) (bool, error)
	Revoke(ctx context.Context, id, accountID string) error
	ClearExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

const deviceTokenBytes = 32

// DeviceTrustService owns the per-account device records and their
// verification tokens.
type DeviceTrustService struct {
	repo        TrustedDeviceRepository
	tokenTTL    time.Duration
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

func NewDeviceTrustService(repo TrustedDeviceRepository, tokenTTL time.Duration, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *DeviceTrustService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &DeviceTrustService{
		repo:        repo,
		tokenTTL:    tokenTTL,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// LookupOrCreate returns the device for (accountID, fp). A concurrent
// creation of the same pair resolves to the row that won.
func (s *DeviceTrustService) LookupOrCreate(ctx context.Context, accountID, fp, ip, userAgent string) (*models.TrustedDevice, bool, error) {
	existing, err := s.repo.GetByFingerprint(ctx, accountID, fp)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup device: %w", err)
	}

	info := fingerprint.Parse(userAgent)
	now := s.now()
	device, created, err := s.repo.Create(ctx, &models.TrustedDevice{
		AccountID:   accountID,
		Fingerprint: fp,
		Name:        fingerprint.DeviceName(info),
		Platform:    info.Platform,
		Browser:     info.Browser,
		IPAddress:   ip,
		FirstSeenAt: now,
		LastSeenAt:  now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create device: %w", err)
	}

	if created {
		s.auditLogger.LogDeviceEvent(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventDeviceCreated,
			AccountID: accountID,
			DeviceID:  device.ID,
			IPAddress: ip,
			Success:   true,
			Metadata:  map[string]string{"device_name": device.Name},
		})
	}
	return device, created, nil
}

func (s *DeviceTrustService) Touch(ctx context.Context, device *models.TrustedDevice, ip string) error {
	now := s.now()
	if err := s.repo.Touch(ctx, device.ID, ip, now); err != nil {
		return err
	}
	if now.After(device.LastSeenAt) {
		device.LastSeenAt = now
	}
	device.IPAddress = ip
	return nil
}

func (s *DeviceTrustService) HasAnyTrusted(ctx context.Context, accountID string) (bool, error) {
	return s.repo.HasTrusted(ctx, accountID)
}

// AutoTrustIfFirstDevice trusts device when it is the only record the
// account has.
func (s *DeviceTrustService) AutoTrustIfFirstDevice(ctx context.Context, accountID string, device *models.TrustedDevice) (bool, error) {
	if device.IsTrusted {
		return true, nil
	}

	now := s.now()
	trusted, err := s.repo.TrustIfOnlyDevice(ctx, device.ID, accountID, now)
	if err != nil {
		return false, err
	}
	if !trusted {
		return false, nil
	}

	device.IsTrusted = true
	device.VerifiedAt = &now
	device.VerificationTokenHash = nil
	device.VerificationExpiresAt = nil

	s.auditLogger.LogDeviceEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventDeviceAutoTrusted,
		AccountID: accountID,
		DeviceID:  device.ID,
		Success:   true,
	})
	return true, nil
}

// IssueVerificationToken returns the plaintext once; only its SHA-256 is
// stored. Issuing again supersedes the previous token.
func (s *DeviceTrustService) IssueVerificationToken(ctx context.Context, device *models.TrustedDevice) (string, error) {
	tokenBytes := make([]byte, deviceTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate device token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(tokenBytes)
	hash := hashDeviceToken(token)
	expiresAt := s.now().Add(s.tokenTTL)

	if err := s.repo.SetVerificationToken(ctx, device.ID, hash, expiresAt); err != nil {
		return "", fmt.Errorf("store device token: %w", err)
	}

	device.VerificationTokenHash = &hash
	device.VerificationExpiresAt = &expiresAt
	return token, nil
}

// VerifyAndTrust reports whether token trusted the device. Every failure is
// returned as models.ErrDeviceVerificationFailed; the cause is only logged.
func (s *DeviceTrustService) VerifyAndTrust(ctx context.Context, deviceID, token string) (bool, error) {
	fail := func(reason string, err error) (bool, error) {
		attrs := []any{slog.String("device_id", deviceID), slog.String("reason", reason)}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		s.logger.Info("device verification failed", attrs...)
		s.auditLogger.LogDeviceEvent(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventDeviceVerifyFailed,
			DeviceID:      deviceID,
			FailureReason: reason,
		})
		return false, models.ErrDeviceVerificationFailed
	}

	if token == "" || deviceID == "" {
		return fail("missing_token", nil)
	}

	device, err := s.repo.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fail("unknown_device", nil)
		}
		return fail("lookup_error", err)
	}

	if device.VerificationTokenHash == nil {
		return fail("no_pending_token", nil)
	}

	presented := hashDeviceToken(token)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(*device.VerificationTokenHash)) != 1 {
		return fail("token_mismatch", nil)
	}

	now := s.now()
	if device.VerificationExpiresAt != nil && !now.Before(*device.VerificationExpiresAt) {
		return fail("token_expired", nil)
	}

	consumed, err := s.repo.ConsumeVerificationToken(ctx, device.ID, presented, now)
	if err != nil {
		return fail("consume_error", err)
	}
	if !consumed {
		return fail("token_already_used", nil)
	}

	s.logger.Info("device verified", slog.String("device_id", device.ID), slog.String("account_id", device.AccountID))
	s.auditLogger.LogDeviceEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventDeviceVerified,
		AccountID: device.AccountID,
		DeviceID:  device.ID,
		Success:   true,
	})
	return true, nil
}

// Revoke returns models.ErrNotFound for devices the account does not own.
func (s *DeviceTrustService) Revoke(ctx context.Context, deviceID, accountID string) error {
	if err := s.repo.Revoke(ctx, deviceID, accountID); err != nil {
		return err
	}

	s.auditLogger.LogDeviceEvent(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventDeviceRevoked,
		AccountID: accountID,
		DeviceID:  deviceID,
		Success:   true,
	})
	return nil
}

func (s *DeviceTrustService) DevicesFor(ctx context.Context, accountID string) ([]*models.TrustedDevice, error) {
	return s.repo.ListByAccount(ctx, accountID)
}

func (s *DeviceTrustService) Get(ctx context.Context, deviceID, accountID string) (*models.TrustedDevice, error) {
	return s.repo.GetForAccount(ctx, deviceID, accountID)
}

func (s *DeviceTrustService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	return s.repo.ClearExpiredTokens(ctx, s.now())
}

func hashDeviceToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
