package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Purger deletes rows that can no longer be used and reports how many went.
type Purger interface {
	Name() string
	Purge(ctx context.Context) (int64, error)
}

// PurgeFunc adapts a plain function to Purger
type PurgeFunc struct {
	Label string
	Fn    func(ctx context.Context) (int64, error)
}

func (p PurgeFunc) Name() string                             { return p.Label }
func (p PurgeFunc) Purge(ctx context.Context) (int64, error) { return p.Fn(ctx) }

// CleanupManager periodically removes expired one-time codes and device
// verification tokens. Expiry is already enforced at read time, so a missed
// run only leaves dead rows behind.
type CleanupManager struct {
	purgers  []Purger
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

const DefaultInterval = time.Hour

// NewCleanupManager creates a new cleanup manager. A non-positive interval
// falls back to DefaultInterval.
func NewCleanupManager(logger *slog.Logger, interval time.Duration, purgers ...Purger) *CleanupManager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &CleanupManager{
		purgers:  purgers,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce runs every purger. One failing purger does not stop the rest.
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for _, p := range cm.purgers {
		rowsDeleted, err := p.Purge(cleanupCtx)
		if err != nil {
			cm.logger.Error("cleanup failed", slog.String("target", p.Name()), slog.Any("error", err))
			continue
		}

		if rowsDeleted > 0 {
			cm.logger.Info("cleanup completed",
				slog.String("target", p.Name()),
				slog.Int64("rows_deleted", rowsDeleted))
		}
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
