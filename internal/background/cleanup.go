package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TokenPruner deletes token history older than a cutoff
type TokenPruner interface {
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PrunerFunc adapts a delete-before function to TokenPruner
type PrunerFunc func(ctx context.Context, cutoff time.Time) (int64, error)

func (f PrunerFunc) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

// CleanupManager periodically prunes token history past the retention period
type CleanupManager struct {
	pruner    TokenPruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewCleanupManager creates a new cleanup manager. retention must exceed the
// rate limit window or pruning would hand subjects a fresh budget.
func NewCleanupManager(pruner TokenPruner, retention, interval time.Duration, logger *slog.Logger) *CleanupManager {
	return &CleanupManager{
		pruner:    pruner,
		retention: retention,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start runs cleanup immediately and then on every interval until stopped
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

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

// RunOnce prunes everything created before now minus retention
func (cm *CleanupManager) RunOnce(ctx context.Context) int64 {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := cm.now().Add(-cm.retention)

	rowsDeleted, err := cm.pruner.DeleteCreatedBefore(cleanupCtx, cutoff)
	if err != nil {
		cm.logger.Error("failed to prune token history", slog.Any("error", err))
		return 0
	}

	if rowsDeleted > 0 {
		cm.logger.Info("token history pruned",
			slog.Int64("rows_deleted", rowsDeleted),
			slog.Time("cutoff", cutoff))
	}
	return rowsDeleted
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
