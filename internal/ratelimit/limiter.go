// Package ratelimit implements the sliding-window abuse limiter guarding
// the ingestion edge. It is deliberately coarser and faster than the
// quota engine: it runs before any expensive validation or tenant
// resolution and never consults tenant plan data.
//
// Three scopes are checked in order (source IP, then upstream instance
// when resolvable from the raw payload, then global) and the first failing scope
// short-circuits. Each scope keeps a per-key time-ordered set of accepted
// request timestamps in the shared counter store; entries older than the
// window are pruned opportunistically before counting.
//
// The accepted request's own entry is inserted after the check, so under
// concurrent load a key can transiently count max+O(concurrency) entries.
// That bounded imprecision is accepted; the limiter is edge protection,
// not an exact budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/tbourn/go-event-gateway/internal/config"
	"github.com/tbourn/go-event-gateway/internal/store"
)

// Scope identifies which limit rejected a request.
type Scope string

// Limiter scopes, in check order.
const (
	ScopeSource   Scope = "source"
	ScopeInstance Scope = "instance"
	ScopeGlobal   Scope = "global"
)

// Limiter enforces per-scope sliding-window limits over a CounterStore.
// Stateless in-process; safe for concurrent use and horizontal scaling.
type Limiter struct {
	store store.CounterStore
	cfg   config.AbuseConfig

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// New constructs a Limiter with the given thresholds.
func New(cs store.CounterStore, cfg config.AbuseConfig) *Limiter {
	return &Limiter{store: cs, cfg: cfg, now: time.Now}
}

// SetClock overrides the limiter clock for tests.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Admit checks source, instance, and global scopes in order. It returns
// the failing scope when the request must be rejected; an empty scope
// with nil error means the request is admitted and its entry recorded in
// every scope. instanceID may be empty when the raw payload carries no
// resolvable instance; that scope is then skipped.
//
// Store failures fail closed (the request is rejected with the error).
func (l *Limiter) Admit(ctx context.Context, sourceIP, instanceID string) (Scope, error) {
	now := l.now()

	checks := []struct {
		scope Scope
		key   string
		max   int64
	}{
		{ScopeSource, "abuse:ip:" + sourceIP, l.cfg.PerIP},
		{ScopeInstance, "abuse:inst:" + instanceID, l.cfg.PerInstance},
		{ScopeGlobal, "abuse:global", l.cfg.Global},
	}

	for _, c := range checks {
		if c.scope == ScopeInstance && instanceID == "" {
			continue
		}
		count, err := l.store.WindowCount(ctx, c.key, now, l.cfg.Window)
		if err != nil {
			return c.scope, fmt.Errorf("abuse check %s: %w", c.scope, err)
		}
		if count >= c.max {
			return c.scope, nil
		}
	}

	// All scopes passed; record the accepted request in each.
	for _, c := range checks {
		if c.scope == ScopeInstance && instanceID == "" {
			continue
		}
		if err := l.store.WindowAdd(ctx, c.key, now, l.cfg.Window); err != nil {
			return c.scope, fmt.Errorf("abuse record %s: %w", c.scope, err)
		}
	}
	return "", nil
}
