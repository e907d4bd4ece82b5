// Package store abstracts the shared windowed counter store used by all
// admission-control components: atomic increment-with-expiry counters for
// quota windows, TTL-bound test-and-set markers for idempotency, and
// time-ordered sets for the sliding-window abuse limiter.
//
// Two implementations exist: a Redis-backed store for production (all
// true state lives in the shared store so multiple gateway processes can
// run concurrently) and an in-memory store for development and tests. The
// in-memory store is process-local and must not be used behind a load
// balancer.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the counter store could not be reached. Quota
// and abuse checks treat this as a fail-closed condition: admission is
// a fairness/billing guarantee, so the gateway never silently allows on
// store failure.
var ErrUnavailable = errors.New("counter store unavailable")

// Counter is one quota window read: the key and its current value
// (0 when the window does not exist yet).
type Counter struct {
	Key   string
	Value int64
}

// CounterStore is the narrow contract every admission component depends
// on. All operations are single network round trips backed by native
// atomic primitives; none perform read-modify-write across calls.
type CounterStore interface {
	// IncrBy atomically adds delta to the counter at key and pins the
	// key's expiry to expireAt (the window's period boundary). Returns
	// the updated value.
	IncrBy(ctx context.Context, key string, delta int64, expireAt time.Time) (int64, error)

	// GetCounters reads the given counter keys in one round trip.
	// Missing keys read as zero.
	GetCounters(ctx context.Context, keys []string) ([]Counter, error)

	// SetMarker atomically records a marker with the given TTL and
	// reports whether it was newly set. A false return means the marker
	// already existed (duplicate).
	SetMarker(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// WindowCount prunes entries older than now-window from the ordered
	// set at key and returns the number of remaining entries.
	WindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)

	// WindowAdd appends a timestamped entry for an accepted request and
	// refreshes the set's expiry to one window past now.
	WindowAdd(ctx context.Context, key string, now time.Time, window time.Duration) error

	// Ping verifies connectivity; used by health checks.
	Ping(ctx context.Context) error
}
