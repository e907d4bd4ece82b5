// Package domain defines the persistence models for tenants, provider
// instances, messages, bot sessions, webhook subscriptions, and delivery
// records. These types are mapped with GORM and form the core data layer
// of the event gateway.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Plan tiers. A tenant's plan parameterizes its quota limit tables.
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// Instance connection statuses, mapped from the provider's connection
// states (open|connecting|close).
const (
	InstanceConnected    = "CONNECTED"
	InstanceConnecting   = "CONNECTING"
	InstanceDisconnected = "DISCONNECTED"
	InstanceError        = "ERROR"
)

// Message delivery statuses. Transitions move forward only:
// sent -> delivered -> read, or any -> failed.
const (
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
	MessageFailed    = "failed"
)

// Bot session lifecycle statuses.
const (
	SessionActive = "ACTIVE"
	SessionEnded  = "ENDED"
)

// Delivery attempt outcomes.
const (
	DeliverySuccess   = "success"
	DeliveryFailed    = "failed"
	DeliveryExhausted = "exhausted"
)

// Tenant is an isolated customer account. Tenant CRUD is owned by an
// external control plane; the gateway keeps the minimal row needed to
// resolve ownership and plan limits for inbound events.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: display name, informational only.
//   - Plan: quota plan tier (free|pro|enterprise).
//   - IsActive: inactive tenants reject inbound events for their instances.
type Tenant struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string         `json:"name"       gorm:"type:varchar(255);not null"`
	Plan      string         `json:"plan"       gorm:"type:varchar(32);not null;default:'free';check:plan IN ('free','pro','enterprise')"`
	IsActive  bool           `json:"is_active"  gorm:"not null;default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Tenant.
func (Tenant) TableName() string { return "tenants" }

// Instance is a provider-side connection/session owned by exactly one
// tenant. Inbound events carry the instance's external identifier, which
// is how the gateway keys an event back to its owner.
//
// Deletion is soft so an instance stays resolvable for the lifetime of
// any in-flight event that references it.
type Instance struct {
	ID         string `json:"id"          gorm:"type:char(36);primaryKey"`
	TenantID   string `json:"tenant_id"   gorm:"type:char(36);not null;index:idx_tenant_instances"`
	ExternalID string `json:"external_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_instance_external"`
	Status     string `json:"status"      gorm:"type:varchar(16);not null;default:'DISCONNECTED'"`

	// QRCode holds the current pairing artifact while the instance is not
	// yet connected; cleared on transition to CONNECTED.
	QRCode string `json:"-" gorm:"type:text"`

	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	// ConnectedSince is set while the instance is CONNECTED and is the
	// basis for uptime accumulation on disconnect.
	ConnectedSince *time.Time `json:"-"`
	UptimeSeconds  int64      `json:"uptime_seconds" gorm:"not null;default:0"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Tenant Tenant `json:"-" gorm:"foreignKey:TenantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Instance.
func (Instance) TableName() string { return "instances" }

// Message is the tenant-visible record of a provider message, upserted by
// the message event handler and keyed by the provider's message id within
// an instance.
type Message struct {
	ID                string `json:"id"                  gorm:"type:char(36);primaryKey"`
	TenantID          string `json:"tenant_id"           gorm:"type:char(36);not null;index"`
	InstanceID        string `json:"instance_id"         gorm:"type:char(36);not null;uniqueIndex:ux_msg_instance_provider,priority:1"`
	ProviderMessageID string `json:"provider_message_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_msg_instance_provider,priority:2"`
	Status            string `json:"status"              gorm:"type:varchar(16);not null;default:'sent';check:status IN ('sent','delivered','read','failed')"`
	FromMe            bool   `json:"from_me"             gorm:"not null;default:false"`
	ChatJID           string `json:"chat_jid"            gorm:"type:varchar(128)"`
	Content           string `json:"content,omitempty"   gorm:"type:text"`
	MediaType         string `json:"media_type,omitempty" gorm:"type:varchar(32)"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Instance Instance `json:"-" gorm:"foreignKey:InstanceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "gw_messages" }

// BotSession tracks a bot conversation reported by the provider, keyed by
// a session identifier within an instance. Paused sessions remain ACTIVE
// but carry the Paused annotation.
type BotSession struct {
	ID         string     `json:"id"          gorm:"type:char(36);primaryKey"`
	TenantID   string     `json:"tenant_id"   gorm:"type:char(36);not null;index"`
	InstanceID string     `json:"instance_id" gorm:"type:char(36);not null;uniqueIndex:ux_session_instance_key,priority:1"`
	SessionKey string     `json:"session_key" gorm:"type:varchar(160);not null;uniqueIndex:ux_session_instance_key,priority:2"`
	Status     string     `json:"status"      gorm:"type:varchar(16);not null;default:'ACTIVE';check:status IN ('ACTIVE','ENDED')"`
	Paused     bool       `json:"paused"      gorm:"not null;default:false"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Instance Instance `json:"-" gorm:"foreignKey:InstanceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for BotSession.
func (BotSession) TableName() string { return "bot_sessions" }

// WebhookSubscription is a tenant-registered external endpoint that
// receives matching events. Managed by the subscription CRUD surface;
// consumed read-only by the delivery subsystem.
//
// EventTypes is stored as a comma-separated list of known event type
// names; use Types/SetTypes for set access.
type WebhookSubscription struct {
	ID         string `json:"id"          gorm:"type:char(36);primaryKey"`
	TenantID   string `json:"tenant_id"   gorm:"type:char(36);not null;index:idx_tenant_subscriptions"`
	URL        string `json:"url"         gorm:"type:varchar(2048);not null"`
	EventTypes string `json:"-"           gorm:"column:event_types;type:text;not null"`
	Secret     string `json:"-"           gorm:"type:varchar(255)"`
	IsActive   bool   `json:"is_active"   gorm:"not null;default:true"`

	// Retry policy. RetryAttempts is the number of retries after the first
	// attempt; RetryDelayMs the base backoff; TimeoutMs the per-call cap.
	RetryAttempts int `json:"retry_attempts" gorm:"not null;default:3"`
	RetryDelayMs  int `json:"retry_delay_ms" gorm:"not null;default:5000"`
	TimeoutMs     int `json:"timeout_ms"     gorm:"not null;default:30000"`

	// Headers is an optional JSON object of extra headers attached to
	// every delivery request.
	Headers string `json:"-" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for WebhookSubscription.
func (WebhookSubscription) TableName() string { return "webhook_subscriptions" }

// Types returns the subscribed event types as a slice.
func (s *WebhookSubscription) Types() []string { return SplitTypes(s.EventTypes) }

// SetTypes stores the given event types, dropping empties.
func (s *WebhookSubscription) SetTypes(types []string) { s.EventTypes = JoinTypes(types) }

// Matches reports whether the subscription covers the given event type.
func (s *WebhookSubscription) Matches(eventType string) bool {
	for _, t := range s.Types() {
		if t == eventType {
			return true
		}
	}
	return false
}

// DeliveryAttempt is an append-only log record of one outbound delivery
// attempt. It is retained for a bounded operational window and is never
// consulted by business logic.
type DeliveryAttempt struct {
	ID             string    `json:"id"              gorm:"type:char(36);primaryKey"`
	SubscriptionID string    `json:"subscription_id" gorm:"type:char(36);not null;index:idx_attempt_subscription"`
	EventID        string    `json:"event_id"        gorm:"type:char(64);not null;index:idx_attempt_event"`
	AttemptNumber  int       `json:"attempt_number"  gorm:"not null"`
	Outcome        string    `json:"outcome"         gorm:"type:varchar(16);not null;check:outcome IN ('success','failed','exhausted')"`
	HTTPStatus     int       `json:"http_status,omitempty"`
	Error          string    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"      gorm:"index"`
}

// TableName returns the database table name for DeliveryAttempt.
func (DeliveryAttempt) TableName() string { return "delivery_attempts" }

// EventRecord is the minimal audit record of an admitted inbound event,
// persisted before dispatch so operators can replay or debug. Bounded by
// the retention sweep, not a first-class entity.
type EventRecord struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	TenantID   string    `json:"tenant_id"   gorm:"type:char(36);not null;index"`
	InstanceID string    `json:"instance_id" gorm:"type:char(36);not null"`
	EventID    string    `json:"event_id"    gorm:"type:char(64);not null;uniqueIndex:ux_event_records_event"`
	EventType  string    `json:"event_type"  gorm:"type:varchar(64);not null"`
	Payload    string    `json:"payload"     gorm:"type:text;not null"`
	OccurredAt time.Time `json:"occurred_at"`
	ReceivedAt time.Time `json:"received_at" gorm:"index"`
}

// TableName returns the database table name for EventRecord.
func (EventRecord) TableName() string { return "event_records" }
