package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/bantay/internal/models"
)

// AccountCounterStore serializes read-modify-write of the failure counters.
type AccountCounterStore interface {
	UpdateSecurityCounters(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error)
}

type CredentialGuardConfig struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// CredentialGuard implements OPEN -(N failures)-> LOCKED -(duration)-> OPEN
type CredentialGuard struct {
	store  AccountCounterStore
	config CredentialGuardConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewCredentialGuard(store AccountCounterStore, config CredentialGuardConfig, logger *slog.Logger) *CredentialGuard {
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = 5
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = 15 * time.Minute
	}
	return &CredentialGuard{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// CheckLockout must run before the password is compared.
func (g *CredentialGuard) CheckLockout(account *models.Account) error {
	now := g.now()
	if !account.IsLocked(now) {
		return nil
	}
	return &models.LockedOutError{RemainingMinutes: remainingMinutes(*account.LockedUntil, now)}
}

// remainingMinutes rounds up so a lock with 30s left reads "1 minute".
func remainingMinutes(until, now time.Time) int {
	remaining := until.Sub(now)
	minutes := int(remaining / time.Minute)
	if remaining%time.Minute > 0 {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// RecordFailure counts one failed password. An elapsed lock is reset first
// so the account starts a fresh window.
func (g *CredentialGuard) RecordFailure(ctx context.Context, accountID string) (*models.Account, error) {
	now := g.now()
	locked := false

	account, err := g.store.UpdateSecurityCounters(ctx, accountID, func(a *models.Account) error {
		if a.LockedUntil != nil && !now.Before(*a.LockedUntil) {
			a.FailedLoginAttempts = 0
			a.LockedUntil = nil
		}
		if a.IsLocked(now) {
			return nil
		}

		a.FailedLoginAttempts++
		if a.FailedLoginAttempts >= g.config.MaxFailedAttempts {
			until := now.Add(g.config.LockoutDuration)
			a.LockedUntil = &until
			locked = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record login failure: %w", err)
	}

	if locked {
		g.logger.Warn("account locked after repeated failures",
			slog.String("account_id", accountID),
			slog.Int("failed_attempts", account.FailedLoginAttempts),
			slog.Time("locked_until", *account.LockedUntil),
		)
	}
	return account, nil
}

// RecordSuccess clears the counters after a correct password. The lock is
// re-checked under the row lock since a concurrent failure may have set it.
func (g *CredentialGuard) RecordSuccess(ctx context.Context, accountID string) error {
	now := g.now()

	_, err := g.store.UpdateSecurityCounters(ctx, accountID, func(a *models.Account) error {
		if a.IsLocked(now) {
			return &models.LockedOutError{RemainingMinutes: remainingMinutes(*a.LockedUntil, now)}
		}
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	return nil
}

// AttemptsRemaining never goes negative.
func (g *CredentialGuard) AttemptsRemaining(account *models.Account) int {
	remaining := g.config.MaxFailedAttempts - account.FailedLoginAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}
