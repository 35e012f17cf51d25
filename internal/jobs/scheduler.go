package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"

	"emarsync/internal/config"
)

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool

	syncInterval    time.Duration
	cleanupInterval time.Duration

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	// Job instances
	eventSync *EventSyncJob
	cleanup   *InstanceCleanupJob

	// Tickers for each job type
	syncTicker    *time.Ticker
	cleanupTicker *time.Ticker
}

func NewScheduler(cfg *config.Config, dbManager cartridge.DBManager, syncer EventSyncer, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		enabled:         true,
		syncInterval:    cfg.GetSyncInterval(),
		cleanupInterval: 24 * time.Hour,
		eventSync:       NewEventSyncJob(syncer, logger),
		cleanup:         NewInstanceCleanupJob(dbManager, logger, cfg.InstanceRetentionDays),
	}
}

// executeJobSafely runs a job only if no other job is currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")
	s.isRunning = true

	if s.syncInterval > 0 {
		s.syncTicker = s.startJob("event_sync", s.syncInterval, func() {
			s.executeJobSafely("event_sync", s.runEventSync)
		})
	} else {
		s.logger.Info("Event sync job disabled")
	}
	s.cleanupTicker = s.startJob("instance_cleanup", s.cleanupInterval, func() {
		if err := s.cleanup.Run(); err != nil {
			s.logger.Error("Error in cleanup job", slog.Any("error", err))
		}
	})

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))

	return nil
}

func (s *Scheduler) runEventSync() error {
	return s.eventSync.Run(s.ctx)
}

// startJob runs job once right away and then on every tick until Stop.
func (s *Scheduler) startJob(name string, interval time.Duration, job func()) *time.Ticker {
	s.logger.Info("Starting job", slog.String("job", name), slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)

	go func() {
		job()

		for {
			select {
			case <-ticker.C:
				job()
			case <-s.ctx.Done():
				s.logger.Info("Job stopped", slog.String("job", name))
				return
			}
		}
	}()

	return ticker
}

// Stop halts all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	if s.syncTicker != nil {
		s.syncTicker.Stop()
	}
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
	}

	s.cancel()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// SyncEvents runs the event sync job right away
func (s *Scheduler) SyncEvents() error {
	if !s.enabled {
		return nil
	}
	return s.runEventSync()
}
