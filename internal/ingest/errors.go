// Package ingest defines the admission pipeline for inbound provider
// events. This file centralizes ingestion-level error values so that they
// can be consistently returned by the service and translated into HTTP
// status codes at the handler layer.
package ingest

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-event-gateway/internal/quota"
)

var (
	// ErrValidation indicates a malformed payload or an event type
	// outside the known enumeration. Never retried by the gateway.
	ErrValidation = errors.New("invalid event payload")

	// ErrUnknownInstance indicates the payload's source instance does not
	// resolve to an active tenant. Logged distinctly from validation
	// failures for operator visibility; never silently dropped.
	ErrUnknownInstance = errors.New("unknown instance")

	// ErrDuplicate indicates the event was already admitted within the
	// idempotency marker TTL. Callers treat this as a soft success and
	// acknowledge without reprocessing, to avoid upstream retry storms.
	ErrDuplicate = errors.New("duplicate event")

	// ErrBadSignature indicates the provider signature did not match the
	// configured shared secret. Rejected before the idempotency check so
	// forged input cannot consume idempotency budget.
	ErrBadSignature = errors.New("signature mismatch")
)

// QuotaError carries the quota decision that rejected an event, so the
// transport layer can expose the most restrictive period and its reset
// hint.
type QuotaError struct {
	Decision quota.Decision
}

// Error implements error.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %s window", e.Decision.MostRestrictive)
}
