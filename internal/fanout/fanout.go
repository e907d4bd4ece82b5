// Package fanout publishes normalized event envelopes onto tenant-scoped
// and global broadcast channels for live subscribers (dashboards).
//
// Fan-out is best-effort and fire-and-forget: there is no persistence or
// replay, and a publish failure must never fail or delay the ingestion
// response. That contract is encoded in the signature: Publish returns
// nothing; failures are logged and counted, not propagated.
package fanout

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-event-gateway/internal/domain"
)

// Channel naming is a pure function of tenant and category so external
// subscribers can selectively attach.

// ChannelGlobal is the firehose channel carrying every tenant's events.
func ChannelGlobal() string { return "events:global" }

// ChannelTenant carries all of one tenant's events.
func ChannelTenant(tenantID string) string { return "events:tenant:" + tenantID }

// ChannelTenantCategory carries one tenant's events of one category.
func ChannelTenantCategory(tenantID string, cat domain.EventCategory) string {
	return "events:tenant:" + tenantID + ":" + string(cat)
}

// Publisher broadcasts envelopes to live subscribers.
type Publisher interface {
	// Publish is best-effort: implementations swallow (and log) errors.
	Publish(ctx context.Context, tenantID string, env *domain.Envelope)
}

// RedisPublisher broadcasts over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps a go-redis client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish implements Publisher. Each envelope goes to the tenant channel,
// the tenant+category channel, and the global channel.
func (p *RedisPublisher) Publish(ctx context.Context, tenantID string, env *domain.Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		log.Warn().Err(err).Str("event_id", env.EventID).Msg("fanout: marshal failed")
		return
	}
	channels := []string{
		ChannelTenant(tenantID),
		ChannelTenantCategory(tenantID, env.Event.Category()),
		ChannelGlobal(),
	}
	for _, ch := range channels {
		if err := p.client.Publish(ctx, ch, body).Err(); err != nil {
			log.Warn().Err(err).
				Str("channel", ch).
				Str("event_id", env.EventID).
				Msg("fanout: publish failed")
		}
	}
}

// LogPublisher is the fallback when no Redis is configured: it emits the
// envelope at debug level so local development still sees the stream.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(_ context.Context, tenantID string, env *domain.Envelope) {
	log.Debug().
		Str("tenant_id", tenantID).
		Str("event", string(env.Event)).
		Str("event_id", env.EventID).
		Msg("fanout: local publish")
}
