// Package repo – bot session persistence for the bot-session handler.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

// GetBotSession returns the session row for a session key within an
// instance, or ErrNotFound.
func GetBotSession(ctx context.Context, db *gorm.DB, instanceID, sessionKey string) (*domain.BotSession, error) {
	var s domain.BotSession
	err := db.WithContext(ctx).
		Where("instance_id = ? AND session_key = ?", instanceID, sessionKey).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &s, err
}

// UpsertBotSession creates the session if absent, otherwise applies the
// lifecycle transition. Paused sessions stay ACTIVE but are annotated;
// ending a session stamps EndedAt once.
func UpsertBotSession(ctx context.Context, db *gorm.DB, tenantID, instanceID, sessionKey, status string, paused bool, at time.Time) (*domain.BotSession, error) {
	existing, err := GetBotSession(ctx, db, instanceID, sessionKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		updates := map[string]any{
			"status": status,
			"paused": paused,
		}
		if status == domain.SessionEnded && existing.EndedAt == nil {
			updates["ended_at"] = at
		}
		if err := db.WithContext(ctx).Model(existing).Updates(updates).Error; err != nil {
			return nil, err
		}
		existing.Status = status
		existing.Paused = paused
		return existing, nil
	}

	s := &domain.BotSession{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		InstanceID: instanceID,
		SessionKey: sessionKey,
		Status:     status,
		Paused:     paused,
		StartedAt:  at,
	}
	if status == domain.SessionEnded {
		s.EndedAt = &at
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return UpsertBotSession(ctx, db, tenantID, instanceID, sessionKey, status, paused, at)
		}
		return nil, err
	}
	return s, nil
}
