// Package dispatch – bot-session handler.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/domain"
	"github.com/tbourn/go-event-gateway/internal/repo"
)

// botSessionData is the subset of the provider's bot session payload the
// handler consumes.
type botSessionData struct {
	SessionID string `json:"sessionId"`
	Phone     string `json:"phone"`
	BotKind   string `json:"botKind"`
	Status    string `json:"status"`
}

// BotSessionHandler upserts session records and maps the provider's
// session status (opened|closed|paused) to the internal lifecycle:
// opened -> ACTIVE, closed -> ENDED, paused -> ACTIVE with the paused
// annotation.
type BotSessionHandler struct {
	DB *gorm.DB

	// now is a test seam; defaults to time.Now.
	Now func() time.Time
}

// Handle implements Handler.
func (h *BotSessionHandler) Handle(ctx context.Context, env *domain.Envelope) error {
	var data botSessionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("bot session payload: %w", err)
	}

	key := sessionKey(data)
	if key == "" {
		return fmt.Errorf("bot session payload: no session identity")
	}

	status, paused, ok := mapSessionStatus(data.Status)
	if !ok {
		log.Warn().
			Str("event_id", env.EventID).
			Str("status", data.Status).
			Msg("unknown bot session status ignored")
		return nil
	}

	now := time.Now().UTC()
	if h.Now != nil {
		now = h.Now().UTC()
	}

	_, err := repo.UpsertBotSession(ctx, h.DB, env.TenantID, env.InstanceID, key, status, paused, now)
	return err
}

// sessionKey prefers the provider's session id and falls back to a key
// derived from (phone, bot kind) when absent.
func sessionKey(d botSessionData) string {
	if s := strings.TrimSpace(d.SessionID); s != "" {
		return s
	}
	phone := strings.TrimSpace(d.Phone)
	kind := strings.TrimSpace(d.BotKind)
	if phone == "" {
		return ""
	}
	if kind == "" {
		kind = "bot"
	}
	return phone + ":" + kind
}

// mapSessionStatus translates provider session statuses to the internal
// lifecycle plus the paused annotation.
func mapSessionStatus(s string) (status string, paused, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "opened":
		return domain.SessionActive, false, true
	case "paused":
		return domain.SessionActive, true, true
	case "closed":
		return domain.SessionEnded, false, true
	default:
		return "", false, false
	}
}
