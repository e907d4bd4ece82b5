// Package repo – audit records of admitted inbound events.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

// CreateEventRecord persists the minimal audit record of a raw event.
// ErrDuplicate is returned when the event id is already recorded, which
// can only happen if the idempotency marker expired between a
// retransmission pair; callers treat it like the duplicate path.
func CreateEventRecord(ctx context.Context, db *gorm.DB, rec *domain.EventRecord) (*domain.EventRecord, error) {
	rec.ID = uuid.NewString()
	rec.ReceivedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// CountEventRecords returns the number of stored audit records for a
// tenant; used by dashboards.
func CountEventRecords(ctx context.Context, db *gorm.DB, tenantID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.EventRecord{}).
		Where("tenant_id = ?", tenantID).Count(&n).Error
	return n, err
}

// SweepEventRecords hard-deletes audit records received before cutoff and
// returns how many rows were removed. Called by the retention sweeper.
func SweepEventRecords(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("received_at < ?", cutoff).
		Delete(&domain.EventRecord{})
	return res.RowsAffected, res.Error
}
