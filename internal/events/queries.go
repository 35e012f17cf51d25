package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// ErrInstanceNotFound is returned by FindInstance for an unknown id.
var ErrInstanceNotFound = gorm.ErrRecordNotFound

// InstanceFilters represents filtering options for event instances
type InstanceFilters struct {
	EventName string
	State     State
	Recipient string
	Limit     int
	Offset    int
}

// InstancesResult represents a page of event instances
type InstancesResult struct {
	Instances []EventInstance
	Total     int64
}

// FindInstance loads one instance by id.
func FindInstance(ctx context.Context, db *gorm.DB, id uint) (*EventInstance, error) {
	var instance EventInstance
	if err := db.WithContext(ctx).First(&instance, id).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// ListInstances retrieves filtered and paginated instances, newest first
func ListInstances(ctx context.Context, db *gorm.DB, filters InstanceFilters) (InstancesResult, error) {
	query := db.WithContext(ctx).Model(&EventInstance{})

	if filters.EventName != "" {
		query = query.Where("event_name = ?", filters.EventName)
	}
	if filters.State != "" {
		query = query.Where("state = ?", filters.State)
	}
	if filters.Recipient != "" {
		query = query.Where("recipient_email LIKE ?", "%"+filters.Recipient+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return InstancesResult{}, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	var instances []EventInstance
	if err := query.Order("timestamp DESC, id DESC").
		Limit(limit).
		Offset(filters.Offset).
		Find(&instances).Error; err != nil {
		return InstancesResult{}, err
	}

	return InstancesResult{
		Instances: instances,
		Total:     total,
	}, nil
}

// DeleteFinishedInstancesBefore removes instances in StateError or
// StateSuccess older than cutoff, batchSize rows per write.
func DeleteFinishedInstancesBefore(logger *slog.Logger, db *gorm.DB, cutoff time.Time, batchSize int) (int64, error) {
	var total int64
	for {
		var affected int64
		err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
			sub := tx.Model(&EventInstance{}).
				Select("id").
				Where("state IN ? AND timestamp < ?", []State{StateError, StateSuccess}, cutoff).
				Limit(batchSize)
			result := tx.Where("id IN (?)", sub).Delete(&EventInstance{})
			affected = result.RowsAffected
			return result.Error
		})
		if err != nil {
			return total, err
		}

		total += affected
		if affected < int64(batchSize) {
			return total, nil
		}
	}
}
