// Package repo – message persistence for the message-state handler.
package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

// GetMessageByProviderID returns the message row for a provider message
// id within an instance, or ErrNotFound.
func GetMessageByProviderID(ctx context.Context, db *gorm.DB, instanceID, providerMessageID string) (*domain.Message, error) {
	var msg domain.Message
	err := db.WithContext(ctx).
		Where("instance_id = ? AND provider_message_id = ?", instanceID, providerMessageID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &msg, err
}

// UpsertMessage creates the message row if absent, otherwise updates its
// status and mutable fields. The (instance, provider message id) pair is
// the natural key; a concurrent insert losing the race degrades to the
// update path via the unique index.
func UpsertMessage(ctx context.Context, db *gorm.DB, msg *domain.Message) (*domain.Message, error) {
	existing, err := GetMessageByProviderID(ctx, db, msg.InstanceID, msg.ProviderMessageID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		updates := map[string]any{"status": msg.Status}
		if msg.Content != "" {
			updates["content"] = msg.Content
		}
		if msg.MediaType != "" {
			updates["media_type"] = msg.MediaType
		}
		if err := db.WithContext(ctx).Model(existing).Updates(updates).Error; err != nil {
			return nil, err
		}
		existing.Status = msg.Status
		return existing, nil
	}

	msg.ID = uuid.NewString()
	if err := db.WithContext(ctx).Create(msg).Error; err != nil {
		// Lost an insert race; fall back to the update path.
		if isUniqueViolation(err) {
			return UpsertMessage(ctx, db, msg)
		}
		return nil, err
	}
	return msg, nil
}

// UpdateMessageStatus moves a message to the given status.
func UpdateMessageStatus(ctx context.Context, db *gorm.DB, instanceID, providerMessageID, status string) error {
	res := db.WithContext(ctx).Model(&domain.Message{}).
		Where("instance_id = ? AND provider_message_id = ?", instanceID, providerMessageID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
