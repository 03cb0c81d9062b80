package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/bantay/internal/database"
	"github.com/BradenHooton/bantay/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OTPRepository stores at most one password-reset code per email
type OTPRepository struct {
	pool *pgxpool.Pool
}

func NewOTPRepository(db *database.DB) *OTPRepository {
	return &OTPRepository{pool: db.Pool}
}

// Upsert replaces any live code for the email in one statement.
func (r *OTPRepository) Upsert(ctx context.Context, email, code string, expiresAt, now time.Time) error {
	query := `
		INSERT INTO password_reset_codes (email, code, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET code = EXCLUDED.code, expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`

	if _, err := r.pool.Exec(ctx, query, normalizeEmail(email), code, expiresAt, now); err != nil {
		return fmt.Errorf("failed to store one-time code: %w", err)
	}
	return nil
}

// Consume deletes the exact (email, code) pair and returns the stored code.
// ErrNotFound when nothing matched.
func (r *OTPRepository) Consume(ctx context.Context, email, code string) (*models.OneTimeCode, error) {
	query := `
		DELETE FROM password_reset_codes
		WHERE email = $1 AND code = $2
		RETURNING email, code, expires_at, created_at`

	var c models.OneTimeCode
	err := r.pool.QueryRow(ctx, query, normalizeEmail(email), code).Scan(&c.Email, &c.Code, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

// DeleteExpired removes codes strictly past expiry; a code whose expiry is
// exactly now is still verifiable.
func (r *OTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM password_reset_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired codes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
