package jobs

import (
	"context"
	"log/slog"

	"emarsync/internal/events"
)

// EventSyncer is the part of the event service the sync job drives.
type EventSyncer interface {
	SyncEvents(ctx context.Context) events.SyncResult
}

// EventSyncJob refreshes the stored remote event ids
type EventSyncJob struct {
	syncer EventSyncer
	logger *slog.Logger
}

func NewEventSyncJob(syncer EventSyncer, logger *slog.Logger) *EventSyncJob {
	return &EventSyncJob{syncer: syncer, logger: logger}
}

// Run synchronizes once. Remote failures are logged by the service and never
// fail the job.
func (j *EventSyncJob) Run(ctx context.Context) error {
	result := j.syncer.SyncEvents(ctx)
	j.logger.Debug("Event sync job finished",
		slog.Int("new", result.New),
		slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted),
		slog.Int("unsynced", len(result.Unsynced)))
	return nil
}
