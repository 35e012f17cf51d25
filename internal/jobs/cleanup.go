package jobs

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"emarsync/internal/events"
)

const cleanupBatchSize = 1000

// InstanceCleanupJob removes finished event instances older than the retention period
type InstanceCleanupJob struct {
	dbManager     cartridge.DBManager
	logger        *slog.Logger
	retentionDays int
}

func NewInstanceCleanupJob(dbManager cartridge.DBManager, logger *slog.Logger, retentionDays int) *InstanceCleanupJob {
	return &InstanceCleanupJob{
		dbManager:     dbManager,
		logger:        logger,
		retentionDays: retentionDays,
	}
}

// Run deletes instances in the error or success state whose timestamp is
// before the cutoff. Instances still sending are kept. A retention of zero
// keeps everything.
func (j *InstanceCleanupJob) Run() error {
	if j.retentionDays <= 0 {
		j.logger.Debug("Instance cleanup disabled")
		return nil
	}

	db := j.dbManager.GetConnection()
	cutoffDate := time.Now().UTC().AddDate(0, 0, -j.retentionDays)

	j.logger.Info("Starting cleanup of old event instances",
		slog.Int("retention_days", j.retentionDays),
		slog.Time("cutoff_date", cutoffDate))

	deleted, err := events.DeleteFinishedInstancesBefore(j.logger, db, cutoffDate, cleanupBatchSize)
	if err != nil {
		j.logger.Error("Failed to delete old event instances",
			slog.Any("error", err),
			slog.Int64("deleted_so_far", deleted))
		return err
	}

	if deleted == 0 {
		j.logger.Debug("No old event instances to clean up")
		return nil
	}

	j.logger.Info("Cleaned up old event instances",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.retentionDays))

	return nil
}
