// Package quota implements the hierarchical quota engine: per tenant, per
// resource class, over hourly/daily/monthly windows. Checks are separate
// from consumption so a guarded operation only pays once it has been
// accepted downstream.
//
// All counter state lives in the shared store under deterministic
// period-bucketed keys, so any number of gateway processes enforce the
// same budgets. If the store is unreachable the engine fails closed:
// quota is a billing/fairness guarantee and must never be silently waived.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-event-gateway/internal/config"
	"github.com/tbourn/go-event-gateway/internal/store"
)

// Declarative operation weights. Some operations cost more than one unit;
// the weight is a property of the operation, never derived from payload
// size.
const (
	WeightMessage        int64 = 1
	WeightMediaMessage   int64 = 2
	WeightInstanceCreate int64 = 5
	WeightBotCreate      int64 = 1
	WeightAPICall        int64 = 1
)

// ErrStoreUnavailable wraps store failures during a quota check. Callers
// must reject the guarded operation (fail closed), distinguishable from a
// quota rejection.
var ErrStoreUnavailable = errors.New("quota: counter store unavailable")

// periods lists the quota periods shortest-first; the order is the
// most-restrictive precedence used when several periods are violated at
// once.
var periods = []string{config.PeriodHourly, config.PeriodDaily, config.PeriodMonthly}

// PeriodStatus is one window's view at check time.
type PeriodStatus struct {
	Period    string    `json:"period"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"` // 0 = unlimited
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Decision is the outcome of a quota check. When Allowed is false,
// MostRestrictive names the shortest violated period and Retry hints when
// that window resets.
type Decision struct {
	Allowed         bool           `json:"allowed"`
	Periods         []PeriodStatus `json:"periods"`
	MostRestrictive string         `json:"most_restrictive,omitempty"`
	Retry           time.Time      `json:"retry_at,omitempty"`
}

// Status returns the PeriodStatus for the named period.
func (d Decision) Status(period string) PeriodStatus {
	for _, p := range d.Periods {
		if p.Period == period {
			return p
		}
	}
	return PeriodStatus{Period: period}
}

// Engine evaluates and consumes tenant quotas against the counter store.
// It holds no mutable in-process state and is safe for concurrent use and
// horizontal scaling.
type Engine struct {
	store  store.CounterStore
	limits config.PlanLimits

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewEngine constructs a quota engine over the given store and plan
// limit tables.
func NewEngine(cs store.CounterStore, limits config.PlanLimits) *Engine {
	return &Engine{store: cs, limits: limits, now: time.Now}
}

// SetClock overrides the engine clock for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Check reads all three windows for (tenant, class) and reports whether
// an operation of the given weight fits every period's limit. It does not
// consume; call Consume after the operation is accepted.
func (e *Engine) Check(ctx context.Context, tenantID, plan, class string, weight int64) (Decision, error) {
	now := e.now().UTC()
	keys := make([]string, len(periods))
	for i, p := range periods {
		keys[i] = counterKey(tenantID, class, p, now)
	}

	counters, err := e.store.GetCounters(ctx, keys)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	dec := Decision{Allowed: true, Periods: make([]PeriodStatus, len(periods))}
	for i, period := range periods {
		limit := e.limits.Limit(plan, class, period)
		used := counters[i].Value
		st := PeriodStatus{
			Period:  period,
			Used:    used,
			Limit:   limit,
			ResetAt: periodEnd(period, now),
		}
		if limit > 0 {
			st.Remaining = limit - used
			if st.Remaining < 0 {
				st.Remaining = 0
			}
			if used+weight > limit {
				st.Remaining = 0
				// Shortest violated period wins; periods iterate
				// hour -> day -> month, so first hit is the answer.
				if dec.Allowed {
					dec.Allowed = false
					dec.MostRestrictive = period
					dec.Retry = st.ResetAt
				}
			}
		} else {
			st.Remaining = -1 // unlimited
		}
		dec.Periods[i] = st
	}
	return dec, nil
}

// Consume increments all three windows by weight. Each window is
// independently atomic; a partial failure across windows is tolerated
// (logged, surfaced) rather than rolled back, because the store offers no
// cross-key transaction and under-counting one long window is preferable
// to blocking admitted traffic.
func (e *Engine) Consume(ctx context.Context, tenantID, class string, weight int64) error {
	now := e.now().UTC()
	var errs []error
	for _, period := range periods {
		key := counterKey(tenantID, class, period, now)
		if _, err := e.store.IncrBy(ctx, key, weight, periodEnd(period, now)); err != nil {
			log.Warn().Err(err).
				Str("tenant_id", tenantID).
				Str("class", class).
				Str("period", period).
				Msg("quota consume: window increment failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// counterKey derives the deterministic store key for one quota window.
func counterKey(tenantID, class, period string, now time.Time) string {
	return "quota:" + tenantID + ":" + class + ":" + periodBucket(period, now)
}

// periodBucket formats the wall-clock bucket for a period.
func periodBucket(period string, now time.Time) string {
	switch period {
	case config.PeriodHourly:
		return "h:" + now.Format("2006-01-02-15")
	case config.PeriodDaily:
		return "d:" + now.Format("2006-01-02")
	default:
		return "m:" + now.Format("2006-01")
	}
}

// periodEnd returns the exclusive upper boundary of the current bucket,
// which doubles as the window's expiry and the caller-facing reset hint.
func periodEnd(period string, now time.Time) time.Time {
	switch period {
	case config.PeriodHourly:
		return now.Truncate(time.Hour).Add(time.Hour)
	case config.PeriodDaily:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	default:
		y, m, _ := now.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	}
}
