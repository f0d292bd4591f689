package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// unreadRetentionFactor scales the retention applied to unread notifications.
const unreadRetentionFactor = 2

// CleanupJob handles notification retention cleanup
type CleanupJob struct {
	repo          Repository
	retentionDays int
	now           func() time.Time
}

// NewCleanupJob creates a cleanup job
func NewCleanupJob(repo Repository, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &CleanupJob{repo: repo, retentionDays: retentionDays, now: time.Now}
}

// Start runs the cleanup immediately and then every interval until ctx is
// done.
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.run(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Notification cleanup job stopped")
			return nil
		case <-ticker.C:
			j.run(ctx)
		}
	}
}

func (j *CleanupJob) run(ctx context.Context) {
	rows, err := j.RunOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old notifications")
		return
	}
	if rows > 0 {
		log.Info().
			Int64("deleted", rows).
			Int("retention_days", j.retentionDays).
			Msg("Cleaned up old notifications")
	}
}

// RunOnce runs cleanup once (for manual trigger or testing)
func (j *CleanupJob) RunOnce(ctx context.Context) (int64, error) {
	now := j.now()
	readCutoff := now.AddDate(0, 0, -j.retentionDays)
	unreadCutoff := now.AddDate(0, 0, -j.retentionDays*unreadRetentionFactor)
	return j.repo.DeleteOlderThan(ctx, readCutoff, unreadCutoff)
}
