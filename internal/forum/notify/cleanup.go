package notify

import (
	"context"
	"fmt"
	"time"

	"go_forum/internal/forum/repository"
	"go_forum/internal/logger"
)

// RunReadCleanup 清理过期阅读记录，每 24 小时最多执行一次
func (c *Cron) RunReadCleanup(ctx context.Context) (bool, error) {
	release, err := c.acquire(ctx, JobReadCleanup)
	if err != nil {
		return false, err
	}
	defer release()

	now := c.now()
	last, err := c.store.State.GetTime(ctx, repository.StateLastReadCleanTime)
	if err != nil {
		return false, fmt.Errorf("failed to read last cleanup time: %w", err)
	}
	if !last.IsZero() && now.Sub(last) < readCleanupEvery {
		return false, nil
	}

	started := time.Now()
	deleted, err := c.ledger.CompactOldRecords(ctx)
	if err != nil {
		return false, err
	}
	if err := c.store.State.SetTime(ctx, repository.StateLastReadCleanTime, now); err != nil {
		return false, fmt.Errorf("failed to save last cleanup time: %w", err)
	}
	c.metrics.observeRun(JobReadCleanup, time.Since(started).Seconds())
	logger.L().Infof("Read record cleanup removed %d records", deleted)
	return true, nil
}
