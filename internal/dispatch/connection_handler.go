// Package dispatch – connection-state handler.
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

// connectionData is the subset of the provider's connection payload the
// handler consumes.
type connectionData struct {
	State string `json:"state"`
}

// ConnectionHandler owns the instance lifecycle events: connection-state
// transitions and pairing-artifact updates. On transition to CONNECTED it
// clears the cached pairing artifact and stamps "last connected"; on close
// after being open it accumulates uptime for analytics; a QR update stores
// the latest artifact so a dashboard can render it until pairing completes.
type ConnectionHandler struct {
	DB *gorm.DB

	// now is a test seam; defaults to time.Now.
	Now func() time.Time
}

// Handle implements Handler.
func (h *ConnectionHandler) Handle(ctx context.Context, env *domain.Envelope) error {
	if env.Event == domain.EventQRCodeUpdated {
		return h.handleQRCode(ctx, env)
	}

	var data connectionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return fmt.Errorf("connection payload: %w", err)
	}

	now := time.Now().UTC()
	if h.Now != nil {
		now = h.Now().UTC()
	}

	switch strings.ToLower(strings.TrimSpace(data.State)) {
	case "open":
		return repo.MarkInstanceConnected(ctx, h.DB, env.InstanceID, now)

	case "connecting":
		return repo.MarkInstanceStatus(ctx, h.DB, env.InstanceID, domain.InstanceConnecting, 0)

	case "close":
		uptime, err := h.connectedFor(ctx, env.InstanceID, now)
		if err != nil {
			return err
		}
		return repo.MarkInstanceStatus(ctx, h.DB, env.InstanceID, domain.InstanceDisconnected, uptime)

	default:
		log.Warn().
			Str("event_id", env.EventID).
			Str("state", data.State).
			Msg("unknown connection state; marking instance errored")
		return repo.MarkInstanceStatus(ctx, h.DB, env.InstanceID, domain.InstanceError, 0)
	}
}

// handleQRCode stores the latest pairing artifact. A payload without a
// recognizable artifact is ignored rather than rejected: the event was
// already admitted and audited, and the stale artifact stays displayable.
func (h *ConnectionHandler) handleQRCode(ctx context.Context, env *domain.Envelope) error {
	qr, ok := parseQRCode(env.Data)
	if !ok {
		log.Warn().
			Str("event_id", env.EventID).
			Str("instance_id", env.InstanceID).
			Msg("qr update without artifact; ignored")
		return nil
	}
	return repo.UpdateInstanceQRCode(ctx, h.DB, env.InstanceID, qr)
}

// parseQRCode extracts the pairing artifact from the observed payload
// shapes: {"qrcode": "<data>"}, {"base64": "<data>"}, and
// {"qrcode": {"base64": "<data>", "code": "<data>"}}.
func parseQRCode(data []byte) (string, bool) {
	var d struct {
		QRCode json.RawMessage `json:"qrcode"`
		Base64 string          `json:"base64"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return "", false
	}
	if d.Base64 != "" {
		return d.Base64, true
	}
	if len(d.QRCode) > 0 {
		var s string
		if err := json.Unmarshal(d.QRCode, &s); err == nil && s != "" {
			return s, true
		}
		var nested struct {
			Base64 string `json:"base64"`
			Code   string `json:"code"`
		}
		if err := json.Unmarshal(d.QRCode, &nested); err == nil {
			if nested.Base64 != "" {
				return nested.Base64, true
			}
			if nested.Code != "" {
				return nested.Code, true
			}
		}
	}
	return "", false
}

// connectedFor returns the elapsed connected duration when the instance
// is currently CONNECTED, zero otherwise.
func (h *ConnectionHandler) connectedFor(ctx context.Context, instanceID string, now time.Time) (time.Duration, error) {
	inst, err := repo.GetInstance(ctx, h.DB, instanceID)
	if err != nil {
		return 0, err
	}
	if inst.Status != domain.InstanceConnected || inst.ConnectedSince == nil {
		return 0, nil
	}
	d := now.Sub(*inst.ConnectedSince)
	if d < 0 {
		d = 0
	}
	return d, nil
}
