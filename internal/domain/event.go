// Package domain – inbound event envelope.
//
// This file defines the closed set of provider event types the gateway
// understands, the per-request envelope reconstructed from the raw webhook
// body, and the deterministic event-id digest used as the idempotency key.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// EventType identifies a provider event. The set is closed: unknown values
// are rejected at validation time, and the dispatch table is built over
// the categories below so unhandled categories are a compile-time
// omission, not a runtime surprise.
type EventType string

// Known provider event types.
const (
	EventMessagesUpsert   EventType = "MESSAGES_UPSERT"
	EventMessagesUpdate   EventType = "MESSAGES_UPDATE"
	EventMessagesDelete   EventType = "MESSAGES_DELETE"
	EventConnectionUpdate EventType = "CONNECTION_UPDATE"
	EventQRCodeUpdated    EventType = "QRCODE_UPDATED"
	EventBotSessionUpdate EventType = "BOT_SESSION_UPDATE"
)

// EventCategory groups event types by the handler that owns their state
// mutation.
type EventCategory string

// Event categories. CategoryNone marks known event types that currently
// have no business handler; they are still admitted, deduplicated,
// audited, and fanned out.
const (
	CategoryMessage    EventCategory = "message"
	CategoryConnection EventCategory = "connection"
	CategoryBotSession EventCategory = "botsession"
	CategoryNone       EventCategory = "none"
)

// knownEvents maps every accepted event type to its category.
var knownEvents = map[EventType]EventCategory{
	EventMessagesUpsert:   CategoryMessage,
	EventMessagesUpdate:   CategoryMessage,
	EventMessagesDelete:   CategoryNone,
	EventConnectionUpdate: CategoryConnection,
	EventQRCodeUpdated:    CategoryConnection,
	EventBotSessionUpdate: CategoryBotSession,
}

// KnownEventTypes returns the accepted event type names, for validation
// messages and subscription checks.
func KnownEventTypes() []string {
	out := make([]string, 0, len(knownEvents))
	for t := range knownEvents {
		out = append(out, string(t))
	}
	return out
}

// IsKnownEventType reports whether name is an accepted event type.
func IsKnownEventType(name string) bool {
	_, ok := knownEvents[EventType(name)]
	return ok
}

// Category returns the handler category for the event type, or
// CategoryNone when the type is known but unhandled.
func (t EventType) Category() EventCategory {
	if c, ok := knownEvents[t]; ok {
		return c
	}
	return CategoryNone
}

// Envelope is the normalized inbound event, reconstructed per request.
// It is not persisted as a first-class entity; the audit EventRecord keeps
// the raw payload, and EventID carries the idempotency identity.
type Envelope struct {
	Event       EventType       `json:"event"`
	Instance    string          `json:"instance"`
	Data        json.RawMessage `json:"data"`
	DateTime    string          `json:"date_time"`
	Destination string          `json:"destination,omitempty"`
	Sender      string          `json:"sender,omitempty"`
	ServerURL   string          `json:"server_url,omitempty"`
	APIKey      string          `json:"apikey,omitempty"`

	// Resolved during ingestion; not part of the wire format.
	TenantID   string `json:"tenant_id,omitempty"`
	InstanceID string `json:"-"`
	EventID    string `json:"event_id,omitempty"`
}

// OccurredAt parses the declared date_time. RFC3339 is the provider's
// documented format; a handful of observed variants are tolerated.
func (e *Envelope) OccurredAt() (time.Time, bool) {
	s := strings.TrimSpace(e.DateTime)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// eventKeyData is the subset of the payload consulted for a stable
// provider message reference.
type eventKeyData struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// DeriveEventID computes the deterministic idempotency key for the
// envelope: a hex SHA-256 over (event, instance, stable reference).
//
// The stable reference is the provider message id from data.key.id when
// present, so retransmissions with a regenerated date_time still collide;
// otherwise the declared date_time is used, which makes the digest
// deterministic for byte-identical retransmissions.
func (e *Envelope) DeriveEventID() string {
	ref := strings.TrimSpace(e.DateTime)
	var kd eventKeyData
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &kd); err == nil && kd.Key.ID != "" {
			ref = kd.Key.ID
		}
	}
	sum := sha256.Sum256([]byte(string(e.Event) + "|" + e.Instance + "|" + ref))
	return hex.EncodeToString(sum[:])
}

// SplitTypes parses a comma-separated event type list, trimming blanks.
func SplitTypes(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// JoinTypes renders event types as the stored comma-separated form.
func JoinTypes(types []string) string {
	clean := make([]string, 0, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	return strings.Join(clean, ",")
}
