// Package ingest – admission pipeline.
//
// This file implements Service, the component that owns the path from a
// raw inbound webhook body to dispatched tenant state: structural
// validation, optional signature verification, tenant resolution, quota
// evaluation, the atomic idempotency test-and-set, the audit record, and
// the hand-off to dispatch, fan-out, and delivery.
//
// Ordering matters and is part of the contract:
//   - signature is verified before the idempotency check so forged input
//     never consumes idempotency budget;
//   - the idempotency marker is set before any state mutation, using the
//     counter store's native test-and-set (not read-then-write), because
//     it is the only operation that must be atomic across concurrent
//     duplicate arrivals;
//   - quota is consumed only after dispatch succeeds;
//   - fan-out and delivery run after dispatch and can never fail the ack.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-event-gateway/internal/config"
	"github.com/tbourn/go-event-gateway/internal/delivery"
	"github.com/tbourn/go-event-gateway/internal/dispatch"
	"github.com/tbourn/go-event-gateway/internal/domain"
	"github.com/tbourn/go-event-gateway/internal/fanout"
	"github.com/tbourn/go-event-gateway/internal/quota"
	"github.com/tbourn/go-event-gateway/internal/repo"
	"github.com/tbourn/go-event-gateway/internal/store"
)

// ProviderSignatureHeader carries the provider's hex HMAC-SHA256 of the
// raw inbound body when a shared secret is configured.
const ProviderSignatureHeader = "X-Signature"

// Deliverer is the slice of the delivery service the pipeline needs;
// narrowed to an interface so tests can break delivery and prove fan-out
// independence.
type Deliverer interface {
	Dispatch(ctx context.Context, tenantID string, env *domain.Envelope) error
}

// Result is the successful outcome of ingesting one event.
type Result struct {
	EventID    string
	TenantID   string
	InstanceID string

	// Duplicate marks the soft-accept path: the event was already
	// admitted and no reprocessing happened.
	Duplicate bool

	// Quota is the admission decision for the event's resource class;
	// the transport layer exposes it as response headers.
	Quota quota.Decision
}

// Service wires the admission pipeline. All dependencies are injected;
// the service holds no process-wide mutable state, so any number of
// instances may run concurrently against the shared stores.
type Service struct {
	DB         *gorm.DB
	Store      store.CounterStore
	Quota      *quota.Engine
	Dispatcher *dispatch.Dispatcher
	Fanout     fanout.Publisher
	Delivery   Deliverer

	// ProviderSecret enables inbound HMAC verification when non-empty.
	ProviderSecret string
	IdempotencyTTL time.Duration
}

// Ingest admits one raw webhook body. sig is the provider's signature
// header value (empty when absent).
//
// On ErrDuplicate the Result still carries the event identity so the
// caller can acknowledge softly. On *QuotaError the Result carries the
// rejecting decision.
func (s *Service) Ingest(ctx context.Context, body []byte, sig string) (Result, error) {
	tr := otel.Tracer("ingest/Service")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(attribute.Int("event.bytes", len(body))),
	)
	defer span.End()

	// 1) Structural validation.
	env, err := parseEnvelope(body)
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("event.type", string(env.Event)),
		attribute.String("event.instance", env.Instance),
	)

	// Signature verification happens before anything that consumes
	// budget on forged input.
	if s.ProviderSecret != "" {
		if sig == "" || !hmacEqual(delivery.Sign(s.ProviderSecret, body), sig) {
			return Result{}, ErrBadSignature
		}
	}

	// 2) Resolve the owning instance and tenant.
	inst, err := repo.GetInstanceByExternalID(ctx, s.DB, env.Instance)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn().
				Str("instance", env.Instance).
				Str("event", string(env.Event)).
				Msg("event for unknown instance rejected")
			return Result{}, ErrUnknownInstance
		}
		return Result{}, fmt.Errorf("resolve instance: %w", err)
	}
	if !inst.Tenant.IsActive {
		log.Warn().
			Str("instance", env.Instance).
			Str("tenant_id", inst.TenantID).
			Msg("event for inactive tenant rejected")
		return Result{}, ErrUnknownInstance
	}
	env.TenantID = inst.TenantID
	env.InstanceID = inst.ID
	env.APIKey = "" // never forward provider credentials downstream

	// 3) Quota for the message resource class; weight is declarative.
	weight := quota.WeightMessage
	if dispatch.IsMediaEvent(env) {
		weight = quota.WeightMediaMessage
	}
	dec, err := s.Quota.Check(ctx, inst.TenantID, inst.Tenant.Plan, config.ClassMessages, weight)
	if err != nil {
		return Result{}, err // fail closed (ErrStoreUnavailable)
	}
	if !dec.Allowed {
		return Result{Quota: dec, TenantID: inst.TenantID}, &QuotaError{Decision: dec}
	}

	// 4) Deterministic event id + atomic idempotency test-and-set.
	env.EventID = env.DeriveEventID()
	res := Result{
		EventID:    env.EventID,
		TenantID:   inst.TenantID,
		InstanceID: inst.ID,
		Quota:      dec,
	}
	span.SetAttributes(attribute.String("event.id", env.EventID))

	fresh, err := s.Store.SetMarker(ctx, markerKey(inst.TenantID, env.EventID), s.IdempotencyTTL)
	if err != nil {
		// Never skip idempotency silently; fail loudly instead.
		return Result{}, err
	}
	if !fresh {
		res.Duplicate = true
		return res, ErrDuplicate
	}

	// 5) Audit record before hand-off, so the raw event is replayable.
	occurred, _ := env.OccurredAt()
	if _, err := repo.CreateEventRecord(ctx, s.DB, &domain.EventRecord{
		TenantID:   inst.TenantID,
		InstanceID: inst.ID,
		EventID:    env.EventID,
		EventType:  string(env.Event),
		Payload:    string(body),
		OccurredAt: occurred,
	}); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// Marker expired between retransmissions; same soft path.
			res.Duplicate = true
			return res, ErrDuplicate
		}
		return Result{}, fmt.Errorf("audit record: %w", err)
	}

	// 6) State mutation via the dispatch table.
	if err := s.Dispatcher.Dispatch(ctx, env); err != nil {
		return Result{}, err
	}

	// Consume only after the guarded operation was accepted downstream.
	if err := s.Quota.Consume(ctx, inst.TenantID, config.ClassMessages, weight); err != nil {
		log.Warn().Err(err).
			Str("tenant_id", inst.TenantID).
			Msg("quota consume incomplete")
	}

	// 7) Fan-out always; best-effort by contract.
	s.Fanout.Publish(ctx, inst.TenantID, env)

	// 8) Delivery is fully decoupled: failures are logged, retried
	// out-of-band, and never surface to the inbound caller.
	if s.Delivery != nil {
		if err := s.Delivery.Dispatch(ctx, inst.TenantID, env); err != nil {
			log.Error().Err(err).
				Str("tenant_id", inst.TenantID).
				Str("event_id", env.EventID).
				Msg("delivery dispatch failed")
		}
	}

	return res, nil
}

// parseEnvelope validates the raw body against the inbound wire shape:
// required fields event, instance, data, date_time, and an event value
// inside the known enumeration.
func parseEnvelope(body []byte) (*domain.Envelope, error) {
	var env domain.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON", ErrValidation)
	}
	if strings.TrimSpace(string(env.Event)) == "" ||
		strings.TrimSpace(env.Instance) == "" ||
		len(env.Data) == 0 ||
		strings.TrimSpace(env.DateTime) == "" {
		return nil, fmt.Errorf("%w: event, instance, data and date_time are required", ErrValidation)
	}
	if !domain.IsKnownEventType(string(env.Event)) {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, env.Event)
	}
	if _, ok := env.OccurredAt(); !ok {
		return nil, fmt.Errorf("%w: unparseable date_time", ErrValidation)
	}
	return &env, nil
}

// markerKey derives the idempotency marker key for (tenant, event).
func markerKey(tenantID, eventID string) string {
	return "idem:" + tenantID + ":" + eventID
}

// hmacEqual compares two hex signatures in constant time.
func hmacEqual(want, got string) bool {
	if len(want) != len(got) {
		return false
	}
	var diff byte
	for i := 0; i < len(want); i++ {
		diff |= want[i] ^ got[i]
	}
	return diff == 0
}
