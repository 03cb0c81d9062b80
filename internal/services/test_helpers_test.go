package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/bantay/internal/models"
	pkglogger "github.com/BradenHooton/bantay/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// fakeClock is a settable time source shared by services under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testAudit() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(slog.Default())
}

func mustHash(password string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}

func fastHash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(h), err
}

// MockAccountRepository implements AccountRepository and AccountCounterStore
type MockAccountRepository struct {
	GetByIDFunc                func(ctx context.Context, id string) (*models.Account, error)
	GetByEmailFunc             func(ctx context.Context, email string) (*models.Account, error)
	CreateFunc                 func(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdatePasswordFunc         func(ctx context.Context, id, passwordHash string) error
	UpdateSecurityCountersFunc func(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockAccountRepository) UpdateSecurityCounters(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	if m.UpdateSecurityCountersFunc != nil {
		return m.UpdateSecurityCountersFunc(ctx, id, fn)
	}
	return nil, models.ErrNotFound
}

// newMemoryAccounts backs the mock with a map guarded by a mutex, which
// stands in for the row lock.
func newMemoryAccounts(seed ...*models.Account) *MockAccountRepository {
	var mu sync.Mutex
	byID := map[string]*models.Account{}
	for _, a := range seed {
		byID[a.ID] = a
	}

	clone := func(a *models.Account) *models.Account {
		c := *a
		if a.LockedUntil != nil {
			t := *a.LockedUntil
			c.LockedUntil = &t
		}
		return &c
	}

	return &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			mu.Lock()
			defer mu.Unlock()
			if a, ok := byID[id]; ok {
				return clone(a), nil
			}
			return nil, models.ErrNotFound
		},
		GetByEmailFunc: func(ctx context.Context, email string) (*models.Account, error) {
			mu.Lock()
			defer mu.Unlock()
			for _, a := range byID {
				if strings.EqualFold(a.Email, email) {
					return clone(a), nil
				}
			}
			return nil, models.ErrNotFound
		},
		CreateFunc: func(ctx context.Context, account *models.Account) (*models.Account, error) {
			mu.Lock()
			defer mu.Unlock()
			for _, a := range byID {
				if strings.EqualFold(a.Email, account.Email) {
					return nil, models.ErrConflict
				}
			}
			account.ID = uuid.New().String()
			byID[account.ID] = clone(account)
			return clone(account), nil
		},
		UpdatePasswordFunc: func(ctx context.Context, id, passwordHash string) error {
			mu.Lock()
			defer mu.Unlock()
			a, ok := byID[id]
			if !ok {
				return models.ErrNotFound
			}
			a.PasswordHash = passwordHash
			return nil
		},
		UpdateSecurityCountersFunc: func(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
			mu.Lock()
			defer mu.Unlock()
			a, ok := byID[id]
			if !ok {
				return nil, models.ErrNotFound
			}
			working := clone(a)
			if err := fn(working); err != nil {
				return nil, err
			}
			byID[id] = working
			return clone(working), nil
		},
	}
}

// MockTrustedDeviceRepository implements TrustedDeviceRepository
type MockTrustedDeviceRepository struct {
	GetByFingerprintFunc         func(ctx context.Context, accountID, fingerprint string) (*models.TrustedDevice, error)
	GetByIDFunc                  func(ctx context.Context, id string) (*models.TrustedDevice, error)
	GetForAccountFunc            func(ctx context.Context, id, accountID string) (*models.TrustedDevice, error)
	ListByAccountFunc            func(ctx context.Context, accountID string) ([]*models.TrustedDevice, error)
	CreateFunc                   func(ctx context.Context, d *models.TrustedDevice) (*models.TrustedDevice, bool, error)
	TouchFunc                    func(ctx context.Context, id, ip string, seenAt time.Time) error
	HasTrustedFunc               func(ctx context.Context, accountID string) (bool, error)
	TrustIfOnlyDeviceFunc        func(ctx context.Context, id, accountID string, at time.Time) (bool, error)
	SetVerificationTokenFunc     func(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	ConsumeVerificationTokenFunc func(ctx context.Context, id, tokenHash string, at time.Time) (bool, error)
	RevokeFunc                   func(ctx context.Context, id, accountID string) error
	ClearExpiredTokensFunc       func(ctx context.Context, now time.Time) (int64, error)
}

func (m *MockTrustedDeviceRepository) GetByFingerprint(ctx context.Context, accountID, fingerprint string) (*models.TrustedDevice, error) {
	if m.GetByFingerprintFunc != nil {
		return m.GetByFingerprintFunc(ctx, accountID, fingerprint)
	}
	return nil, models.ErrNotFound
}

func (m *MockTrustedDeviceRepository) GetByID(ctx context.Context, id string) (*models.TrustedDevice, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockTrustedDeviceRepository) GetForAccount(ctx context.Context, id, accountID string) (*models.TrustedDevice, error) {
	if m.GetForAccountFunc != nil {
		return m.GetForAccountFunc(ctx, id, accountID)
	}
	return nil, models.ErrNotFound
}

func (m *MockTrustedDeviceRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.TrustedDevice, error) {
	if m.ListByAccountFunc != nil {
		return m.ListByAccountFunc(ctx, accountID)
	}
	return []*models.TrustedDevice{}, nil
}

func (m *MockTrustedDeviceRepository) Create(ctx context.Context, d *models.TrustedDevice) (*models.TrustedDevice, bool, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, d)
	}
	return nil, false, models.ErrInternalServer
}

func (m *MockTrustedDeviceRepository) Touch(ctx context.Context, id, ip string, seenAt time.Time) error {
	if m.TouchFunc != nil {
		return m.TouchFunc(ctx, id, ip, seenAt)
	}
	return nil
}

func (m *MockTrustedDeviceRepository) HasTrusted(ctx context.Context, accountID string) (bool, error) {
	if m.HasTrustedFunc != nil {
		return m.HasTrustedFunc(ctx, accountID)
	}
	return false, nil
}

func (m *MockTrustedDeviceRepository) TrustIfOnlyDevice(ctx context.Context, id, accountID string, at time.Time) (bool, error) {
	if m.TrustIfOnlyDeviceFunc != nil {
		return m.TrustIfOnlyDeviceFunc(ctx, id, accountID, at)
	}
	return false, nil
}

func (m *MockTrustedDeviceRepository) SetVerificationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	if m.SetVerificationTokenFunc != nil {
		return m.SetVerificationTokenFunc(ctx, id, tokenHash, expiresAt)
	}
	return nil
}

func (m *MockTrustedDeviceRepository) ConsumeVerificationToken(ctx context.Context, id, tokenHash string, at time.Time) (bool, error) {
	if m.ConsumeVerificationTokenFunc != nil {
		return m.ConsumeVerificationTokenFunc(ctx, id, tokenHash, at)
	}
	return false, nil
}

func (m *MockTrustedDeviceRepository) Revoke(ctx context.Context, id, accountID string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id, accountID)
	}
	return models.ErrNotFound
}

func (m *MockTrustedDeviceRepository) ClearExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	if m.ClearExpiredTokensFunc != nil {
		return m.ClearExpiredTokensFunc(ctx, now)
	}
	return 0, nil
}

// newMemoryDevices mirrors the SQL semantics of the device repository.
func newMemoryDevices() *MockTrustedDeviceRepository {
	var mu sync.Mutex
	devices := map[string]*models.TrustedDevice{}

	clone := func(d *models.TrustedDevice) *models.TrustedDevice {
		c := *d
		return &c
	}
	countFor := func(accountID string) int {
		n := 0
		for _, d := range devices {
			if d.AccountID == accountID {
				n++
			}
		}
		return n
	}

	return &MockTrustedDeviceRepository{
		GetByFingerprintFunc: func(ctx context.Context, accountID, fp string) (*models.TrustedDevice, error) {
			mu.Lock()
			defer mu.Unlock()
			for _, d := range devices {
				if d.AccountID == accountID && d.Fingerprint == fp {
					return clone(d), nil
				}
			}
			return nil, models.ErrNotFound
		},
		GetByIDFunc: func(ctx context.Context, id string) (*models.TrustedDevice, error) {
			mu.Lock()
			defer mu.Unlock()
			if d, ok := devices[id]; ok {
				return clone(d), nil
			}
			return nil, models.ErrNotFound
		},
		GetForAccountFunc: func(ctx context.Context, id, accountID string) (*models.TrustedDevice, error) {
			mu.Lock()
			defer mu.Unlock()
			if d, ok := devices[id]; ok && d.AccountID == accountID {
				return clone(d), nil
			}
			return nil, models.ErrNotFound
		},
		ListByAccountFunc: func(ctx context.Context, accountID string) ([]*models.TrustedDevice, error) {
			mu.Lock()
			defer mu.Unlock()
			out := []*models.TrustedDevice{}
			for _, d := range devices {
				if d.AccountID == accountID {
					out = append(out, clone(d))
				}
			}
			return out, nil
		},
		CreateFunc: func(ctx context.Context, d *models.TrustedDevice) (*models.TrustedDevice, bool, error) {
			mu.Lock()
			defer mu.Unlock()
			for _, existing := range devices {
				if existing.AccountID == d.AccountID && existing.Fingerprint == d.Fingerprint {
					return clone(existing), false, nil
				}
			}
			d.ID = uuid.New().String()
			devices[d.ID] = clone(d)
			return clone(d), true, nil
		},
		TouchFunc: func(ctx context.Context, id, ip string, seenAt time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			if d, ok := devices[id]; ok {
				d.LastSeenAt = seenAt
				d.IPAddress = ip
			}
			return nil
		},
		HasTrustedFunc: func(ctx context.Context, accountID string) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			for _, d := range devices {
				if d.AccountID == accountID && d.IsTrusted {
					return true, nil
				}
			}
			return false, nil
		},
		TrustIfOnlyDeviceFunc: func(ctx context.Context, id, accountID string, at time.Time) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			d, ok := devices[id]
			if !ok || d.AccountID != accountID || countFor(accountID) != 1 {
				return false, nil
			}
			d.IsTrusted = true
			d.VerifiedAt = &at
			d.VerificationTokenHash = nil
			d.VerificationExpiresAt = nil
			return true, nil
		},
		SetVerificationTokenFunc: func(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			d, ok := devices[id]
			if !ok || d.IsTrusted {
				return models.ErrNotFound
			}
			d.VerificationTokenHash = &tokenHash
			d.VerificationExpiresAt = &expiresAt
			return nil
		},
		ConsumeVerificationTokenFunc: func(ctx context.Context, id, tokenHash string, at time.Time) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			d, ok := devices[id]
			if !ok || d.VerificationTokenHash == nil || *d.VerificationTokenHash != tokenHash {
				return false, nil
			}
			if d.VerificationExpiresAt != nil && !at.Before(*d.VerificationExpiresAt) {
				return false, nil
			}
			d.IsTrusted = true
			d.VerifiedAt = &at
			d.VerificationTokenHash = nil
			d.VerificationExpiresAt = nil
			return true, nil
		},
		RevokeFunc: func(ctx context.Context, id, accountID string) error {
			mu.Lock()
			defer mu.Unlock()
			d, ok := devices[id]
			if !ok || d.AccountID != accountID {
				return models.ErrNotFound
			}
			d.IsTrusted = false
			d.VerifiedAt = nil
			d.VerificationTokenHash = nil
			d.VerificationExpiresAt = nil
			return nil
		},
	}
}

// MockOTPStore implements OTPStore
type MockOTPStore struct {
	UpsertFunc        func(ctx context.Context, email, code string, expiresAt, now time.Time) error
	ConsumeFunc       func(ctx context.Context, email, code string) (*models.OneTimeCode, error)
	DeleteExpiredFunc func(ctx context.Context, now time.Time) (int64, error)
}

func (m *MockOTPStore) Upsert(ctx context.Context, email, code string, expiresAt, now time.Time) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, email, code, expiresAt, now)
	}
	return nil
}

func (m *MockOTPStore) Consume(ctx context.Context, email, code string) (*models.OneTimeCode, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, email, code)
	}
	return nil, models.ErrNotFound
}

func (m *MockOTPStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, now)
	}
	return 0, nil
}

// newMemoryOTPStore keeps one code per email like the primary key does.
func newMemoryOTPStore() *MockOTPStore {
	var mu sync.Mutex
	codes := map[string]models.OneTimeCode{}

	return &MockOTPStore{
		UpsertFunc: func(ctx context.Context, email, code string, expiresAt, now time.Time) error {
			mu.Lock()
			defer mu.Unlock()
			codes[email] = models.OneTimeCode{Email: email, Code: code, ExpiresAt: expiresAt, CreatedAt: now}
			return nil
		},
		ConsumeFunc: func(ctx context.Context, email, code string) (*models.OneTimeCode, error) {
			mu.Lock()
			defer mu.Unlock()
			c, ok := codes[email]
			if !ok || c.Code != code {
				return nil, models.ErrNotFound
			}
			delete(codes, email)
			return &c, nil
		},
		DeleteExpiredFunc: func(ctx context.Context, now time.Time) (int64, error) {
			mu.Lock()
			defer mu.Unlock()
			var n int64
			for email, c := range codes {
				if c.IsExpired(now) {
					delete(codes, email)
					n++
				}
			}
			return n, nil
		},
	}
}

// MockDispatcher implements Dispatcher and records what was sent
type MockDispatcher struct {
	SendDeviceVerificationFunc func(ctx context.Context, account *models.Account, device *models.TrustedDevice, token string) error
	SendOTPFunc                func(ctx context.Context, account *models.Account, code string) error

	mu           sync.Mutex
	DeviceTokens []string
	OTPCodes     []string
}

func (m *MockDispatcher) SendDeviceVerification(ctx context.Context, account *models.Account, device *models.TrustedDevice, token string) error {
	m.mu.Lock()
	m.DeviceTokens = append(m.DeviceTokens, token)
	m.mu.Unlock()
	if m.SendDeviceVerificationFunc != nil {
		return m.SendDeviceVerificationFunc(ctx, account, device, token)
	}
	return nil
}

func (m *MockDispatcher) SendOTP(ctx context.Context, account *models.Account, code string) error {
	m.mu.Lock()
	m.OTPCodes = append(m.OTPCodes, code)
	m.mu.Unlock()
	if m.SendOTPFunc != nil {
		return m.SendOTPFunc(ctx, account, code)
	}
	return nil
}

// MockResetTokenLedger implements ResetTokenLedger
type MockResetTokenLedger struct {
	ConsumeFunc func(ctx context.Context, jti string, ttl time.Duration) (bool, error)

	mu   sync.Mutex
	seen map[string]bool
}

func (m *MockResetTokenLedger) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, jti, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[jti] {
		return false, nil
	}
	m.seen[jti] = true
	return true, nil
}
