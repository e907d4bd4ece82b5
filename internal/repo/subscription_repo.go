// Package repo – webhook subscription persistence.
//
// Subscription CRUD is driven by the management API; the delivery
// subsystem consumes subscriptions read-only via ListActiveSubscriptions.
package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

// CreateSubscription inserts a subscription with a fresh id.
func CreateSubscription(ctx context.Context, db *gorm.DB, sub *domain.WebhookSubscription) (*domain.WebhookSubscription, error) {
	sub.ID = uuid.NewString()
	if err := db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscription returns a tenant's subscription by id.
func GetSubscription(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.WebhookSubscription, error) {
	var sub domain.WebhookSubscription
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &sub, err
}

// ListSubscriptions returns a tenant's subscriptions, newest first.
func ListSubscriptions(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.WebhookSubscription, error) {
	var subs []domain.WebhookSubscription
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&subs).Error
	return subs, err
}

// ListActiveSubscriptions returns the tenant's active subscriptions whose
// event-type set includes eventType. The type match is finished in Go:
// the stored form is a CSV list and a LIKE match alone would also hit
// prefixes.
func ListActiveSubscriptions(ctx context.Context, db *gorm.DB, tenantID, eventType string) ([]domain.WebhookSubscription, error) {
	var subs []domain.WebhookSubscription
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Where("event_types LIKE ?", "%"+eventType+"%").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	out := subs[:0]
	for i := range subs {
		if subs[i].Matches(eventType) {
			out = append(out, subs[i])
		}
	}
	return out, nil
}

// UpdateSubscription persists the mutable fields of sub.
func UpdateSubscription(ctx context.Context, db *gorm.DB, sub *domain.WebhookSubscription) error {
	res := db.WithContext(ctx).Model(&domain.WebhookSubscription{}).
		Where("id = ? AND tenant_id = ?", sub.ID, sub.TenantID).
		Updates(map[string]any{
			"url":            sub.URL,
			"event_types":    sub.EventTypes,
			"secret":         sub.Secret,
			"is_active":      sub.IsActive,
			"retry_attempts": sub.RetryAttempts,
			"retry_delay_ms": sub.RetryDelayMs,
			"timeout_ms":     sub.TimeoutMs,
			"headers":        sub.Headers,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSubscription soft-deletes a tenant's subscription.
func DeleteSubscription(ctx context.Context, db *gorm.DB, tenantID, id string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&domain.WebhookSubscription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
