// Package delivery forwards processed events to tenant-registered
// webhook endpoints: signed outbound calls with per-subscription
// timeouts, bounded retries with backoff, and an append-only attempt log.
//
// Delivery is decoupled from the inbound request/response cycle. The
// provider's webhook call is acknowledged as soon as ingestion, dispatch,
// and fan-out complete; deliveries and their retries run out-of-band on
// detached contexts and surface failures only through the attempt log,
// metrics, and error logs, never by failing the original ack.
//
// Multiple subscriptions for the same event are delivered independently
// and concurrently; one subscription's failure never blocks another's.
package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/tbourn/go-event-gateway/internal/config"
	"github.com/tbourn/go-event-gateway/internal/domain"
	"github.com/tbourn/go-event-gateway/internal/repo"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw request
// body when the subscription has a secret configured.
const SignatureHeader = "X-Signature"

// Service performs reliable webhook delivery. Safe for concurrent use;
// all durable state lives in the database, so multiple gateway processes
// can deliver concurrently (a retransmitted event is deduplicated before
// it ever reaches this layer).
type Service struct {
	DB        *gorm.DB
	Client    *http.Client
	UserAgent string

	// Exponential selects doubling backoff between retries; fixed delay
	// otherwise.
	Exponential bool

	// pacer bounds the global outbound request rate across all
	// subscriptions; nil means unpaced.
	pacer *rate.Limiter

	// sleep is a test seam for the inter-retry delay.
	sleep func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

// New constructs a delivery service from the operator policy.
func New(db *gorm.DB, cfg config.DeliveryConfig) *Service {
	var pacer *rate.Limiter
	if cfg.PaceRPS > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.PaceRPS), cfg.PaceBurst)
	}
	return &Service{
		DB:          db,
		Client:      &http.Client{},
		UserAgent:   cfg.UserAgent,
		Exponential: cfg.ExponentialBackoff,
		pacer:       pacer,
		sleep:       sleepCtx,
	}
}

// SetSleep overrides the retry delay function; tests use this to avoid
// real waits.
func (s *Service) SetSleep(fn func(ctx context.Context, d time.Duration) error) { s.sleep = fn }

// Dispatch fans the envelope out to every active subscription of the
// tenant whose event-type set matches. Each subscription is delivered on
// its own goroutine with a context detached from the inbound request, so
// retries survive the provider's webhook call returning.
func (s *Service) Dispatch(ctx context.Context, tenantID string, env *domain.Envelope) error {
	subs, err := repo.ListActiveSubscriptions(ctx, s.DB, tenantID, string(env.Event))
	if err != nil {
		return fmt.Errorf("delivery: list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("delivery: marshal envelope: %w", err)
	}

	detached := context.WithoutCancel(ctx)
	for i := range subs {
		sub := subs[i]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deliver(detached, &sub, env.EventID, body)
		}()
	}
	return nil
}

// Drain blocks until all in-flight deliveries finish or the timeout
// elapses; used during graceful shutdown.
func (s *Service) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// deliver runs the bounded attempt loop for one subscription. A
// subscription configured with retryAttempts=N produces at most N+1
// attempts, strictly increasing; the run ends in one success record or a
// terminal 'exhausted' record, never a silent drop.
func (s *Service) deliver(ctx context.Context, sub *domain.WebhookSubscription, eventID string, body []byte) {
	maxAttempts := sub.RetryAttempts + 1
	delay := time.Duration(sub.RetryDelayMs) * time.Millisecond

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if s.pacer != nil {
			if err := s.pacer.Wait(ctx); err != nil {
				return
			}
		}

		status, err := s.attempt(ctx, sub, body)

		rec := &domain.DeliveryAttempt{
			SubscriptionID: sub.ID,
			EventID:        eventID,
			AttemptNumber:  attempt,
			HTTPStatus:     status,
		}
		switch {
		case err == nil:
			rec.Outcome = domain.DeliverySuccess
		case attempt == maxAttempts:
			rec.Outcome = domain.DeliveryExhausted
			rec.Error = err.Error()
		default:
			rec.Outcome = domain.DeliveryFailed
			rec.Error = err.Error()
		}
		s.record(ctx, rec)

		if err == nil {
			attemptsTotal.WithLabelValues(domain.DeliverySuccess).Inc()
			return
		}
		attemptsTotal.WithLabelValues(rec.Outcome).Inc()

		if attempt == maxAttempts {
			log.Error().
				Str("subscription_id", sub.ID).
				Str("event_id", eventID).
				Int("attempts", maxAttempts).
				Str("error", err.Error()).
				Msg("delivery permanently failed")
			return
		}

		if serr := s.sleep(ctx, delay); serr != nil {
			return
		}
		if s.Exponential {
			delay *= 2
		}
	}
}

// attempt performs one signed outbound call under the subscription's
// timeout. Any non-2xx status, transport error, or timeout is a failure.
func (s *Service) attempt(ctx context.Context, sub *domain.WebhookSubscription, body []byte) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(sub.TimeoutMs)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.UserAgent)
	for k, v := range parseHeaders(sub.Headers) {
		req.Header.Set(k, v)
	}
	if sub.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(sub.Secret, body))
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the transport can reuse the connection.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// record appends the attempt to the delivery log. Log failures are
// reported but never interrupt the attempt loop: the log is operational,
// not business state.
func (s *Service) record(ctx context.Context, rec *domain.DeliveryAttempt) {
	if err := repo.RecordDeliveryAttempt(ctx, s.DB, rec); err != nil {
		log.Warn().Err(err).
			Str("subscription_id", rec.SubscriptionID).
			Str("event_id", rec.EventID).
			Msg("delivery: attempt record failed")
	}
}

// Sign computes the hex-encoded HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// parseHeaders decodes the subscription's optional JSON header map;
// malformed values yield no extra headers.
func parseHeaders(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
