//go:build integration

package repositories

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/bantay/internal/database"
	"github.com/BradenHooton/bantay/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a disposable postgres and applies the migrations.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("bantay"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()
	require.NoError(t, database.Migrate(ctx, sqlDB, slog.Default()))

	return database.New(pool, slog.Default())
}

func createTestAccount(t *testing.T, repo *AccountRepository, email string) *models.Account {
	t.Helper()
	account, err := repo.Create(context.Background(), &models.Account{
		Email:        email,
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderpl",
		Name:         "Juan Dela Cruz",
		Status:       models.StatusApproved,
	})
	require.NoError(t, err)
	return account
}
