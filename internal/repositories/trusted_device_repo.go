package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/bantay/internal/database"
	"github.com/BradenHooton/bantay/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TrustedDeviceRepository handles per-account device records
type TrustedDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewTrustedDeviceRepository(db *database.DB) *TrustedDeviceRepository {
	return &TrustedDeviceRepository{pool: db.Pool}
}

const deviceColumns = `id, account_id, fingerprint, name, platform, browser, ip_address, is_trusted,
	first_seen_at, last_seen_at, verification_token_hash, verification_expires_at, verified_at`

func scanDeviceRow(row rowScanner) (*models.TrustedDevice, error) {
	var d models.TrustedDevice

	err := row.Scan(
		&d.ID, &d.AccountID, &d.Fingerprint, &d.Name, &d.Platform, &d.Browser,
		&d.IPAddress, &d.IsTrusted, &d.FirstSeenAt, &d.LastSeenAt,
		&d.VerificationTokenHash, &d.VerificationExpiresAt, &d.VerifiedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &d, nil
}

func scanDeviceRows(rows pgx.Rows) ([]*models.TrustedDevice, error) {
	defer rows.Close()

	devices := make([]*models.TrustedDevice, 0)
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trusted device: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device rows: %w", err)
	}
	return devices, nil
}

func (r *TrustedDeviceRepository) GetByFingerprint(ctx context.Context, accountID, fingerprint string) (*models.TrustedDevice, error) {
	query := `SELECT ` + deviceColumns + ` FROM trusted_devices WHERE account_id = $1 AND fingerprint = $2`
	return scanDeviceRow(r.pool.QueryRow(ctx, query, accountID, fingerprint))
}

func (r *TrustedDeviceRepository) GetByID(ctx context.Context, id string) (*models.TrustedDevice, error) {
	query := `SELECT ` + deviceColumns + ` FROM trusted_devices WHERE id = $1`
	return scanDeviceRow(r.pool.QueryRow(ctx, query, id))
}

// GetForAccount returns ErrNotFound for devices owned by someone else.
func (r *TrustedDeviceRepository) GetForAccount(ctx context.Context, id, accountID string) (*models.TrustedDevice, error) {
	query := `SELECT ` + deviceColumns + ` FROM trusted_devices WHERE id = $1 AND account_id = $2`
	return scanDeviceRow(r.pool.QueryRow(ctx, query, id, accountID))
}

func (r *TrustedDeviceRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.TrustedDevice, error) {
	query := `SELECT ` + deviceColumns + ` FROM trusted_devices WHERE account_id = $1 ORDER BY last_seen_at DESC`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	return scanDeviceRows(rows)
}

// Create inserts d unless (account_id, fingerprint) already exists, in which
// case the existing row wins and created is false.
func (r *TrustedDeviceRepository) Create(ctx context.Context, d *models.TrustedDevice) (*models.TrustedDevice, bool, error) {
	query := `
		INSERT INTO trusted_devices (account_id, fingerprint, name, platform, browser, ip_address, is_trusted, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $7)
		ON CONFLICT (account_id, fingerprint) DO NOTHING
		RETURNING ` + deviceColumns

	created, err := scanDeviceRow(r.pool.QueryRow(ctx, query,
		d.AccountID, d.Fingerprint, d.Name, d.Platform, d.Browser, d.IPAddress, d.FirstSeenAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to create device: %w", err)
	}

	existing, err := r.GetByFingerprint(ctx, d.AccountID, d.Fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load concurrently created device: %w", err)
	}
	return existing, false, nil
}

func (r *TrustedDeviceRepository) Touch(ctx context.Context, id, ip string, seenAt time.Time) error {
	query := `UPDATE trusted_devices SET last_seen_at = GREATEST(last_seen_at, $2), ip_address = $3 WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, seenAt, ip); err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	return nil
}

func (r *TrustedDeviceRepository) HasTrusted(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM trusted_devices WHERE account_id = $1 AND is_trusted)`
	if err := r.pool.QueryRow(ctx, query, accountID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check trusted devices: %w", err)
	}
	return exists, nil
}

// TrustIfOnlyDevice trusts id when it is the account's sole device record.
func (r *TrustedDeviceRepository) TrustIfOnlyDevice(ctx context.Context, id, accountID string, at time.Time) (bool, error) {
	query := `
		UPDATE trusted_devices
		SET is_trusted = TRUE, verified_at = $3, verification_token_hash = NULL, verification_expires_at = NULL
		WHERE id = $1 AND account_id = $2
		  AND (SELECT COUNT(*) FROM trusted_devices WHERE account_id = $2) = 1`

	tag, err := r.pool.Exec(ctx, query, id, accountID, at)
	if err != nil {
		return false, fmt.Errorf("failed to auto-trust device: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetVerificationToken replaces any pending token on an untrusted device.
func (r *TrustedDeviceRepository) SetVerificationToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	query := `
		UPDATE trusted_devices
		SET verification_token_hash = $2, verification_expires_at = $3
		WHERE id = $1 AND NOT is_trusted`

	tag, err := r.pool.Exec(ctx, query, id, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to store verification token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ConsumeVerificationToken trusts the device only if tokenHash is still the
// pending, unexpired hash. At most one concurrent caller succeeds.
func (r *TrustedDeviceRepository) ConsumeVerificationToken(ctx context.Context, id, tokenHash string, at time.Time) (bool, error) {
	query := `
		UPDATE trusted_devices
		SET is_trusted = TRUE, verified_at = $3, verification_token_hash = NULL, verification_expires_at = NULL
		WHERE id = $1 AND verification_token_hash = $2
		  AND (verification_expires_at IS NULL OR verification_expires_at > $3)`

	tag, err := r.pool.Exec(ctx, query, id, tokenHash, at)
	if err != nil {
		return false, fmt.Errorf("failed to consume verification token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TrustedDeviceRepository) Revoke(ctx context.Context, id, accountID string) error {
	query := `
		UPDATE trusted_devices
		SET is_trusted = FALSE, verified_at = NULL, verification_token_hash = NULL, verification_expires_at = NULL
		WHERE id = $1 AND account_id = $2`

	tag, err := r.pool.Exec(ctx, query, id, accountID)
	if err != nil {
		return fmt.Errorf("failed to revoke device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearExpiredTokens drops verification hashes past their expiry.
func (r *TrustedDeviceRepository) ClearExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE trusted_devices
		SET verification_token_hash = NULL, verification_expires_at = NULL
		WHERE verification_token_hash IS NOT NULL AND verification_expires_at <= $1`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired device tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
