// Package events stores the declared events, keeps their remote ids in sync
// and triggers them for recipients.
package events

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Event is a declared event known locally. RemoteID caches the remote
// platform's id for Name and may be missing or stale.
type Event struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"uniqueIndex;not null"`
	RemoteID  *int64 `gorm:"uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Label returns the display class and text for the remote id state.
func (e Event) Label() (string, string) {
	if e.RemoteID != nil {
		return "success", "OK"
	}
	return "important", "remote ID unknown"
}

// FindEventByName returns the stored event or gorm.ErrRecordNotFound.
func FindEventByName(ctx context.Context, db *gorm.DB, name string) (*Event, error) {
	var event Event
	if err := db.WithContext(ctx).Where("name = ?", name).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ListEvents returns every stored event ordered by name.
func ListEvents(ctx context.Context, db *gorm.DB) ([]Event, error) {
	var events []Event
	if err := db.WithContext(ctx).Order("name ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// remoteIDFor returns the cached remote id of name, or nil when the event is
// unknown or has no remote id.
func remoteIDFor(ctx context.Context, db *gorm.DB, name string) (*int64, error) {
	event, err := FindEventByName(ctx, db, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return event.RemoteID, nil
}
