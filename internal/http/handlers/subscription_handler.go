// Webhook subscription handlers.
//
// This file exposes REST endpoints for tenant-managed subscriptions:
//   - POST   /subscriptions          (create)
//   - GET    /subscriptions          (list)
//   - GET    /subscriptions/{id}     (fetch)
//   - PUT    /subscriptions/{id}     (update)
//   - DELETE /subscriptions/{id}     (deactivate, soft)
//
// Handlers are transport-thin: they validate input, call the repository,
// and translate results into HTTP responses. The tenant scope comes from
// the X-Tenant-ID header set by the fronting auth proxy; every query is
// tenant-filtered so one tenant can never see or mutate another's rows.
package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-event-gateway/internal/domain"
	"github.com/tbourn/go-event-gateway/internal/repo"
)

// tenantHeader identifies the calling tenant on management endpoints.
const tenantHeader = "X-Tenant-ID"

// Retry policy bounds. Values outside the range are rejected, absent
// values take the default.
const (
	maxRetryAttempts = 10
	defRetryAttempts = 3

	minRetryDelayMs = 1000
	maxRetryDelayMs = 300000
	defRetryDelayMs = 5000

	minTimeoutMs = 1000
	maxTimeoutMs = 60000
	defTimeoutMs = 30000
)

// tenantID extracts the calling tenant from the Gin context (set by
// upstream middleware) or the X-Tenant-ID header. Empty means the request
// is unscoped and must be rejected.
func tenantID(c *gin.Context) string {
	if v, ok := c.Get("tenantID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return strings.TrimSpace(c.GetHeader(tenantHeader))
}

// SubscriptionRequest is the JSON payload for creating or updating a
// subscription. Pointer fields distinguish "absent" from zero so partial
// updates keep defaults intact.
type SubscriptionRequest struct {
	URL           string            `json:"url"`
	Events        []string          `json:"events"`
	Secret        *string           `json:"secret,omitempty"`
	IsActive      *bool             `json:"is_active,omitempty"`
	RetryAttempts *int              `json:"retry_attempts,omitempty"`
	RetryDelayMs  *int              `json:"retry_delay_ms,omitempty"`
	TimeoutMs     *int              `json:"timeout_ms,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// SubscriptionResponse is the client-facing subscription shape. Secret and
// header values never leave the server; only their presence is reported.
type SubscriptionResponse struct {
	ID            string   `json:"id"`
	URL           string   `json:"url"`
	Events        []string `json:"events"`
	IsActive      bool     `json:"is_active"`
	RetryAttempts int      `json:"retry_attempts"`
	RetryDelayMs  int      `json:"retry_delay_ms"`
	TimeoutMs     int      `json:"timeout_ms"`
	HasSecret     bool     `json:"has_secret"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

func toSubscriptionResponse(s *domain.WebhookSubscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:            s.ID,
		URL:           s.URL,
		Events:        s.Types(),
		IsActive:      s.IsActive,
		RetryAttempts: s.RetryAttempts,
		RetryDelayMs:  s.RetryDelayMs,
		TimeoutMs:     s.TimeoutMs,
		HasSecret:     s.Secret != "",
		CreatedAt:     s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:     s.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// CreateSubscription handles POST /subscriptions.
func (h *Handlers) CreateSubscription(c *gin.Context) {
	tid := tenantID(c)
	if tid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant identity required")
		return
	}
	var req SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	sub := &domain.WebhookSubscription{
		TenantID:      tid,
		IsActive:      true,
		RetryAttempts: defRetryAttempts,
		RetryDelayMs:  defRetryDelayMs,
		TimeoutMs:     defTimeoutMs,
	}
	if msg := applySubscriptionRequest(sub, &req, true); msg != "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
		return
	}

	created, err := repo.CreateSubscription(c.Request.Context(), h.db, sub)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to create subscription")
		return
	}
	ok(c, http.StatusCreated, toSubscriptionResponse(created))
}

// ListSubscriptions handles GET /subscriptions.
func (h *Handlers) ListSubscriptions(c *gin.Context) {
	tid := tenantID(c)
	if tid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant identity required")
		return
	}
	subs, err := repo.ListSubscriptions(c.Request.Context(), h.db, tid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to list subscriptions")
		return
	}
	out := make([]SubscriptionResponse, 0, len(subs))
	for i := range subs {
		out = append(out, toSubscriptionResponse(&subs[i]))
	}
	ok(c, http.StatusOK, gin.H{"subscriptions": out})
}

// GetSubscription handles GET /subscriptions/:id.
func (h *Handlers) GetSubscription(c *gin.Context) {
	tid := tenantID(c)
	if tid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant identity required")
		return
	}
	sub, err := repo.GetSubscription(c.Request.Context(), h.db, tid, c.Param("id"))
	if err != nil {
		if err == repo.ErrNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "subscription not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load subscription")
		return
	}
	ok(c, http.StatusOK, toSubscriptionResponse(sub))
}

// UpdateSubscription handles PUT /subscriptions/:id. Absent fields keep
// their current values.
func (h *Handlers) UpdateSubscription(c *gin.Context) {
	tid := tenantID(c)
	if tid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant identity required")
		return
	}
	sub, err := repo.GetSubscription(c.Request.Context(), h.db, tid, c.Param("id"))
	if err != nil {
		if err == repo.ErrNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "subscription not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load subscription")
		return
	}

	var req SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if msg := applySubscriptionRequest(sub, &req, false); msg != "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
		return
	}

	if err := repo.UpdateSubscription(c.Request.Context(), h.db, sub); err != nil {
		if err == repo.ErrNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "subscription not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to update subscription")
		return
	}
	ok(c, http.StatusOK, toSubscriptionResponse(sub))
}

// DeleteSubscription handles DELETE /subscriptions/:id.
func (h *Handlers) DeleteSubscription(c *gin.Context) {
	tid := tenantID(c)
	if tid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "tenant identity required")
		return
	}
	if err := repo.DeleteSubscription(c.Request.Context(), h.db, tid, c.Param("id")); err != nil {
		if err == repo.ErrNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "subscription not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to delete subscription")
		return
	}
	noContent(c)
}

// applySubscriptionRequest validates req and copies it onto sub. create
// makes url and events mandatory; updates treat absent fields as "keep".
// Returns a client-facing message on validation failure, "" on success.
func applySubscriptionRequest(sub *domain.WebhookSubscription, req *SubscriptionRequest, create bool) string {
	if req.URL != "" {
		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "url must be a valid http(s) URL"
		}
		sub.URL = req.URL
	} else if create {
		return "url is required"
	}

	if req.Events != nil {
		if len(req.Events) == 0 {
			return "events must name at least one event type"
		}
		for _, e := range req.Events {
			if !domain.IsKnownEventType(e) {
				return "unknown event type: " + e
			}
		}
		sub.SetTypes(req.Events)
	} else if create {
		return "events is required"
	}

	if req.RetryAttempts != nil {
		if *req.RetryAttempts < 0 || *req.RetryAttempts > maxRetryAttempts {
			return "retry_attempts must be between 0 and 10"
		}
		sub.RetryAttempts = *req.RetryAttempts
	}
	if req.RetryDelayMs != nil {
		if *req.RetryDelayMs < minRetryDelayMs || *req.RetryDelayMs > maxRetryDelayMs {
			return "retry_delay_ms must be between 1000 and 300000"
		}
		sub.RetryDelayMs = *req.RetryDelayMs
	}
	if req.TimeoutMs != nil {
		if *req.TimeoutMs < minTimeoutMs || *req.TimeoutMs > maxTimeoutMs {
			return "timeout_ms must be between 1000 and 60000"
		}
		sub.TimeoutMs = *req.TimeoutMs
	}

	if req.Secret != nil {
		sub.Secret = *req.Secret
	}
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
	}
	if req.Headers != nil {
		raw, err := json.Marshal(req.Headers)
		if err != nil {
			return "headers must be a flat string map"
		}
		sub.Headers = string(raw)
	}
	return ""
}
