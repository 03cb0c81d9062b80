package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/bantay/internal/database"
	"github.com/BradenHooton/bantay/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AccountRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db, pool: db.Pool}
}

// rowScanner covers pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const accountColumns = `id, email, password_hash, name, role, status, failed_login_attempts, locked_until, created_at, updated_at`

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	var lockedUntil *time.Time

	err := scanner.Scan(
		&account.ID, &account.Email, &account.PasswordHash, &account.Name,
		&account.Role, &account.Status, &account.FailedLoginAttempts, &lockedUntil,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	account.LockedUntil = lockedUntil
	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccountRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`

	account, err := scanAccountRow(r.pool.QueryRow(ctx, query, strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	account.ID = uuid.New().String()

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	if account.Role == "" {
		account.Role = models.RoleResident
	}
	if account.Status == "" {
		account.Status = models.StatusPending
	}

	query := `
		INSERT INTO accounts (id, email, password_hash, name, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.pool.QueryRow(ctx, query,
		account.ID, account.Email, account.PasswordHash, account.Name,
		account.Role, account.Status, account.CreatedAt, account.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateSecurityCounters runs fn against the row under SELECT ... FOR UPDATE
// and persists the counters it leaves behind. If fn returns an error the
// transaction rolls back and that error is returned unchanged.
func (r *AccountRepository) UpdateSecurityCounters(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	var updated *models.Account

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

		account, err := scanAccountRow(tx.QueryRow(ctx, query, id))
		if err != nil {
			return err
		}

		if err := fn(account); err != nil {
			return err
		}

		update := `
			UPDATE accounts
			SET failed_login_attempts = $2, locked_until = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING ` + accountColumns

		updated, err = scanAccountRow(tx.QueryRow(ctx, update, id, account.FailedLoginAttempts, account.LockedUntil))
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update security counters: %w", err)
	}

	return updated, nil
}
