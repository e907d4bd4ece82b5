// Package repo – the append-only outbound delivery attempt log.
//
// The log exists for dashboards and alerting only; business logic never
// reads it back. Rows are bounded by the retention sweep.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

// RecordDeliveryAttempt appends one attempt record.
func RecordDeliveryAttempt(ctx context.Context, db *gorm.DB, att *domain.DeliveryAttempt) error {
	att.ID = uuid.NewString()
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(att).Error
}

// ListDeliveryAttempts returns a page of a tenant's delivery attempts,
// newest first, joined through the owning subscription.
func ListDeliveryAttempts(ctx context.Context, db *gorm.DB, tenantID string, offset, limit int) ([]domain.DeliveryAttempt, int64, error) {
	base := db.WithContext(ctx).Model(&domain.DeliveryAttempt{}).
		Joins("JOIN webhook_subscriptions ON webhook_subscriptions.id = delivery_attempts.subscription_id").
		Where("webhook_subscriptions.tenant_id = ?", tenantID)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var attempts []domain.DeliveryAttempt
	err := base.
		Order("delivery_attempts.created_at DESC").
		Offset(offset).Limit(limit).
		Find(&attempts).Error
	return attempts, total, err
}

// SweepDeliveryAttempts hard-deletes attempt records created before
// cutoff and returns how many rows were removed.
func SweepDeliveryAttempts(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&domain.DeliveryAttempt{})
	return res.RowsAffected, res.Error
}
