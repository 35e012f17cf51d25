package events

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// SyncResult counts the changes made by SyncEvents. Unsynced lists the
// declared events the remote platform does not know.
type SyncResult struct {
	New      int      `json:"new"`
	Updated  int      `json:"updated"`
	Deleted  int      `json:"deleted"`
	Unsynced []string `json:"unsynced"`
}

// SyncEvents reconciles the stored events with the remote event list. Remote
// events that are declared are created or get their id refreshed, stored
// events that are gone remotely or no longer declared are deleted. A failure
// to fetch the remote list is logged and leaves the store untouched.
func (s *Service) SyncEvents(ctx context.Context) SyncResult {
	result := SyncResult{Unsynced: []string{}}

	remote, err := s.gateway.ListEvents(ctx)
	if err != nil {
		s.logger.Error("Failed to fetch remote events", slog.Any("error", err))
		return result
	}

	local, err := ListEvents(ctx, s.db)
	if err != nil {
		s.logger.Error("Failed to load stored events", slog.Any("error", err))
		return result
	}

	var stale, changed []Event
	for _, event := range local {
		remoteID, ok := remote[event.Name]
		if !ok || !s.decl.IsDeclared(event.Name) {
			stale = append(stale, event)
			continue
		}
		delete(remote, event.Name)

		if event.RemoteID == nil || *event.RemoteID != remoteID {
			event.RemoteID = &remoteID
			changed = append(changed, event)
		}
	}

	// Deletes and id releases go first so a remote id moving between names
	// never collides on the unique index.
	for _, event := range stale {
		if err := s.write(func(tx *gorm.DB) error {
			return tx.Delete(&Event{}, event.ID).Error
		}); err != nil {
			s.logger.Error("Failed to delete event", slog.String("event", event.Name), slog.Any("error", err))
			continue
		}
		result.Deleted++
	}

	for _, event := range changed {
		if err := s.write(func(tx *gorm.DB) error {
			return tx.Model(&Event{}).Where("id = ?", event.ID).Update("remote_id", nil).Error
		}); err != nil {
			s.logger.Error("Failed to release event remote id", slog.String("event", event.Name), slog.Any("error", err))
		}
	}

	for _, event := range changed {
		if err := s.write(func(tx *gorm.DB) error {
			return tx.Model(&Event{}).Where("id = ?", event.ID).Update("remote_id", *event.RemoteID).Error
		}); err != nil {
			s.logger.Error("Failed to update event remote id", slog.String("event", event.Name), slog.Any("error", err))
			continue
		}
		result.Updated++
	}

	names := make([]string, 0, len(remote))
	for name := range remote {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !s.decl.IsDeclared(name) {
			continue
		}
		remoteID := remote[name]
		if err := s.write(func(tx *gorm.DB) error {
			return tx.Create(&Event{Name: name, RemoteID: &remoteID}).Error
		}); err != nil {
			s.logger.Error("Failed to create event", slog.String("event", name), slog.Any("error", err))
			continue
		}
		result.New++
	}

	result.Unsynced = s.unsynced(ctx)
	if len(result.Unsynced) > 0 {
		s.logger.Warn("these declared event names are not known by the remote platform: " + quoteNames(result.Unsynced))
	}

	s.logger.Info("Event sync finished",
		slog.Int("new", result.New),
		slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted))

	return result
}

func (s *Service) unsynced(ctx context.Context) []string {
	var stored []string
	if err := s.db.WithContext(ctx).Model(&Event{}).Pluck("name", &stored).Error; err != nil {
		s.logger.Error("Failed to load stored event names", slog.Any("error", err))
	}
	known := make(map[string]struct{}, len(stored))
	for _, name := range stored {
		known[name] = struct{}{}
	}

	unsynced := []string{}
	for _, name := range s.decl.EventNames() {
		if _, ok := known[name]; !ok {
			unsynced = append(unsynced, name)
		}
	}
	return unsynced
}

func (s *Service) write(fn func(tx *gorm.DB) error) error {
	return sqlite.PerformWrite(s.logger, s.db, fn)
}

// quoteNames renders names as "a", "b" with embedded quotes escaped.
func quoteNames(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = `"` + strings.ReplaceAll(name, `"`, `\"`) + `"`
	}
	return strings.Join(quoted, ", ")
}

// formatNames renders names as ['a', 'b'].
func formatNames(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = "'" + name + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
