// Package repo – instance persistence.
//
// Instances are resolved on the hot ingestion path by their provider-side
// external identifier; everything else here supports the connection-state
// handler's status transitions.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

// GetInstanceByExternalID resolves an instance (with its owning tenant
// preloaded) from the provider-side identifier carried by inbound events.
func GetInstanceByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Instance, error) {
	var inst domain.Instance
	err := db.WithContext(ctx).
		Preload("Tenant").
		Where("external_id = ?", externalID).
		First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &inst, err
}

// GetInstance returns an instance by primary key.
func GetInstance(ctx context.Context, db *gorm.DB, id string) (*domain.Instance, error) {
	var inst domain.Instance
	err := db.WithContext(ctx).Where("id = ?", id).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &inst, err
}

// GetTenantInstance returns a tenant's instance by primary key. The tenant
// filter keeps the management API from leaking rows across tenants.
func GetTenantInstance(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.Instance, error) {
	var inst domain.Instance
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &inst, err
}

// ListInstances returns a tenant's instances, newest first.
func ListInstances(ctx context.Context, db *gorm.DB, tenantID string) ([]domain.Instance, error) {
	var insts []domain.Instance
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&insts).Error
	return insts, err
}

// CreateInstance provisions a connection for a tenant.
func CreateInstance(ctx context.Context, db *gorm.DB, tenantID, externalID string) (*domain.Instance, error) {
	inst := &domain.Instance{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		ExternalID: externalID,
		Status:     domain.InstanceDisconnected,
	}
	if err := db.WithContext(ctx).Create(inst).Error; err != nil {
		return nil, err
	}
	return inst, nil
}

// MarkInstanceConnected records a transition to CONNECTED: the cached
// pairing QR artifact is cleared, "last connected" is stamped, and the
// connected-since anchor is set for later uptime accumulation.
func MarkInstanceConnected(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.Instance{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":            domain.InstanceConnected,
			"qr_code":           "",
			"last_connected_at": at,
			"connected_since":   at,
		}).Error
}

// MarkInstanceStatus records a non-CONNECTED status transition. When the
// instance was previously CONNECTED, addUptime carries the elapsed
// connected duration to accumulate for analytics.
func MarkInstanceStatus(ctx context.Context, db *gorm.DB, id, status string, addUptime time.Duration) error {
	updates := map[string]any{
		"status":          status,
		"connected_since": nil,
	}
	if addUptime > 0 {
		updates["uptime_seconds"] = gorm.Expr("uptime_seconds + ?", int64(addUptime.Seconds()))
	}
	return db.WithContext(ctx).Model(&domain.Instance{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateInstanceQRCode stores the latest pairing artifact.
func UpdateInstanceQRCode(ctx context.Context, db *gorm.DB, id, qr string) error {
	return db.WithContext(ctx).Model(&domain.Instance{}).
		Where("id = ?", id).
		Update("qr_code", qr).Error
}
