package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/BradenHooton/bantay/internal/models"
	pkglogger "github.com/BradenHooton/bantay/pkg/logger"
	"github.com/pquerna/otp"
)

// OTPStore keeps at most one live code per email
type OTPStore interface {
	Upsert(ctx context.Context, email, code string, expiresAt, now time.Time) error
	Consume(ctx context.Context, email, code string) (*models.OneTimeCode, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OTPService issues and verifies 6-digit password recovery codes
type OTPService struct {
	store    OTPStore
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
	generate func() (string, error)
}

func NewOTPService(store OTPStore, ttl time.Duration, logger *slog.Logger) *OTPService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &OTPService{
		store:    store,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		generate: generateNumericCode,
	}
}

var codeSpace = big.NewInt(1_000_000)

// generateNumericCode returns a uniform code in 000000-999999.
func generateNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return otp.DigitsSix.Format(int32(n.Int64())), nil
}

// Issue replaces any live code for email.
func (s *OTPService) Issue(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	code, err := s.generate()
	if err != nil {
		return "", err
	}

	now := s.now()
	if err := s.store.Upsert(ctx, email, code, now.Add(s.ttl), now); err != nil {
		return "", err
	}

	s.logger.Info("one-time code issued", pkglogger.EmailAttr(email))
	return code, nil
}

// Verify consumes the code. Returns ErrInvalidOTP when nothing matched and
// ErrExpiredOTP when the matched code was past its window (it is removed
// either way).
func (s *OTPService) Verify(ctx context.Context, email, code string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	code = strings.TrimSpace(code)

	if !isSixDigits(code) {
		return models.ErrInvalidOTP
	}

	stored, err := s.store.Consume(ctx, email, code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidOTP
		}
		return fmt.Errorf("verify one-time code: %w", err)
	}

	if stored.IsExpired(s.now()) {
		s.logger.Info("expired one-time code presented", pkglogger.EmailAttr(email))
		return models.ErrExpiredOTP
	}
	return nil
}

func (s *OTPService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}

func isSixDigits(code string) bool {
	if len(code) != int(otp.DigitsSix) {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
