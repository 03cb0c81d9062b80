package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const resetTokenKeyPrefix = "reset:jti:"

// ResetTokenLedger records consumed password-reset token ids in redis.
type ResetTokenLedger struct {
	client redis.UniversalClient
}

func NewResetTokenLedger(client redis.UniversalClient) *ResetTokenLedger {
	return &ResetTokenLedger{client: client}
}

// Consume returns true the first time jti is seen. The marker lives for ttl,
// which should cover the token's remaining lifetime.
func (l *ResetTokenLedger) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := l.client.SetNX(ctx, resetTokenKeyPrefix+jti, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record reset token use: %w", err)
	}
	return ok, nil
}
