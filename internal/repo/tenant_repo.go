// Package repo – minimal tenant persistence. Tenant CRUD is owned by an
// external control plane; these helpers cover resolution and test/dev
// seeding.
package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

// GetTenant returns a tenant by id.
func GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &t, err
}

// CreateTenant inserts a tenant row.
func CreateTenant(ctx context.Context, db *gorm.DB, name, plan string) (*domain.Tenant, error) {
	t := &domain.Tenant{
		ID:       uuid.NewString(),
		Name:     name,
		Plan:     plan,
		IsActive: true,
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}
