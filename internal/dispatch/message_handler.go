// Package dispatch – message-state handler.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/domain"
	"github.com/tbourn/go-event-gateway/internal/repo"
)

// messageData is the subset of the provider's message payload the handler
// consumes.
type messageData struct {
	Key struct {
		ID        string `json:"id"`
		FromMe    bool   `json:"fromMe"`
		RemoteJID string `json:"remoteJid"`
	} `json:"key"`
	Status      string `json:"status"`
	MessageType string `json:"messageType"`
	Message     struct {
		Conversation string `json:"conversation"`
	} `json:"message"`
}

// MessageHandler upserts message records keyed by the provider message id
// and walks their status through sent -> delivered -> read | failed.
// Unknown status subtypes are logged and ignored (non-fatal).
type MessageHandler struct {
	DB *gorm.DB
}

// Handle implements Handler.
func (h *MessageHandler) Handle(ctx context.Context, env *domain.Envelope) error {
	var data messageData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("message payload: %w", err)
	}
	if data.Key.ID == "" {
		return fmt.Errorf("message payload: missing key.id")
	}

	switch env.Event {
	case domain.EventMessagesUpsert:
		msg := &domain.Message{
			TenantID:          env.TenantID,
			InstanceID:        env.InstanceID,
			ProviderMessageID: data.Key.ID,
			Status:            domain.MessageSent,
			FromMe:            data.Key.FromMe,
			ChatJID:           data.Key.RemoteJID,
			Content:           data.Message.Conversation,
			MediaType:         mediaType(data.MessageType),
		}
		if st, ok := mapMessageStatus(data.Status); ok {
			msg.Status = st
		}
		_, err := repo.UpsertMessage(ctx, h.DB, msg)
		return err

	case domain.EventMessagesUpdate:
		st, ok := mapMessageStatus(data.Status)
		if !ok {
			log.Warn().
				Str("event_id", env.EventID).
				Str("subtype", data.Status).
				Msg("unknown message status subtype ignored")
			return nil
		}
		err := repo.UpdateMessageStatus(ctx, h.DB, env.InstanceID, data.Key.ID, st)
		if err == repo.ErrNotFound {
			// Update for a message we never saw; record it rather than drop
			// the status.
			_, err = repo.UpsertMessage(ctx, h.DB, &domain.Message{
				TenantID:          env.TenantID,
				InstanceID:        env.InstanceID,
				ProviderMessageID: data.Key.ID,
				Status:            st,
				FromMe:            data.Key.FromMe,
				ChatJID:           data.Key.RemoteJID,
			})
		}
		return err
	}
	return nil
}

// mapMessageStatus translates provider status subtypes to the internal
// message lifecycle.
func mapMessageStatus(s string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "PENDING", "SERVER_ACK", "SENT":
		return domain.MessageSent, s != ""
	case "DELIVERY_ACK", "DELIVERED":
		return domain.MessageDelivered, true
	case "READ":
		return domain.MessageRead, true
	case "ERROR", "FAILED":
		return domain.MessageFailed, true
	default:
		return "", false
	}
}

// mediaType normalizes the provider's messageType into a short media
// label; plain text maps to empty.
func mediaType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "imagemessage", "image":
		return "image"
	case "videomessage", "video":
		return "video"
	case "audiomessage", "audio":
		return "audio"
	case "documentmessage", "document":
		return "document"
	case "stickermessage", "sticker":
		return "sticker"
	default:
		return ""
	}
}

// IsMediaEvent reports whether the envelope carries a media message; used
// by admission control to apply the media weight.
func IsMediaEvent(env *domain.Envelope) bool {
	if env.Event != domain.EventMessagesUpsert {
		return false
	}
	var data messageData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return false
	}
	return mediaType(data.MessageType) != ""
}
