// Package http holds the operations API handlers.
package http

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"emarsync/internal/events"
)

// Handlers serves the operations API on top of the event service.
type Handlers struct {
	service *events.Service
}

func NewHandlers(service *events.Service) *Handlers {
	return &Handlers{service: service}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	DBStatus       string    `json:"db_status"`
	DeclaredEvents int       `json:"declared_events"`
	SyncedEvents   int64     `json:"synced_events"`
}

// HealthIndexAction reports database connectivity and how many declared
// events have a remote id.
func (h *Handlers) HealthIndexAction(ctx *cartridge.Context) error {
	health := HealthStatus{
		Status:         "ok",
		Timestamp:      time.Now().UTC(),
		DBStatus:       "ok",
		DeclaredEvents: len(h.service.Declarations().EventNames()),
	}

	db := ctx.DBManager.GetConnection()
	if db == nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database connection unavailable")
	} else if sqlDB, err := db.DB(); err != nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
	} else if err := sqlDB.Ping(); err != nil {
		health.DBStatus = "error"
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
	} else if err := db.Model(&events.Event{}).Where("remote_id IS NOT NULL").Count(&health.SyncedEvents).Error; err != nil {
		ctx.Logger.Warn("Failed to count synced events", slog.Any("error", err))
	}

	if health.DBStatus != "ok" {
		health.Status = "degraded"
	}

	return ctx.JSON(health)
}
