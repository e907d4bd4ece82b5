// Webhook ingestion handler.
//
// This file exposes the single provider-facing endpoint:
//   - POST /webhook/events
//
// The handler is transport-thin: it reads the raw body, hands it to the
// admission pipeline, and translates the pipeline's outcome into an HTTP
// response. Two translation rules matter to upstream providers:
//
//   - a duplicate event is a soft success (200 with "duplicate": true), so
//     provider retransmissions never trigger retry storms;
//   - a quota rejection is 429 with per-window X-Quota-* headers and a
//     Retry-After hint for the most restrictive violated window.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-event-gateway/internal/config"
	"github.com/tbourn/go-event-gateway/internal/http/middleware"
	"github.com/tbourn/go-event-gateway/internal/ingest"
	"github.com/tbourn/go-event-gateway/internal/quota"
	"github.com/tbourn/go-event-gateway/internal/store"
)

// IngestResponse is the acknowledgement returned for an admitted event.
type IngestResponse struct {
	Success   bool   `json:"success"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// QuotaExceededResponse is the 429 body for quota rejections. Beyond the
// standard error envelope it names the most restrictive violated window
// with machine-readable limit, remaining, and reset fields, mirroring the
// X-Quota-* headers so clients need not parse either the message or the
// headers.
type QuotaExceededResponse struct {
	RequestID string    `json:"request_id,omitempty"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Period    string    `json:"period"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// PostEvent handles POST /webhook/events.
func (h *Handlers) PostEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		// MaxBytesReader surfaces oversized bodies as a read error.
		middleware.CountAdmissionReject("validation")
		fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
		return
	}

	res, err := h.ingestSvc.Ingest(c.Request.Context(), body, c.GetHeader(ingest.ProviderSignatureHeader))

	if res.Quota.Periods != nil {
		writeQuotaHeaders(c, res.Quota)
	}

	switch {
	case err == nil:
		ok(c, http.StatusOK, IngestResponse{Success: true, EventID: res.EventID})

	case errors.Is(err, ingest.ErrDuplicate):
		ok(c, http.StatusOK, IngestResponse{Success: true, EventID: res.EventID, Duplicate: true})

	case errors.Is(err, ingest.ErrValidation):
		middleware.CountAdmissionReject("validation")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())

	case errors.Is(err, ingest.ErrBadSignature):
		middleware.CountAdmissionReject("signature")
		fail(c, http.StatusUnauthorized, ErrCodeBadSignature, "event signature verification failed")

	case errors.Is(err, ingest.ErrUnknownInstance):
		middleware.CountAdmissionReject("unknown_instance")
		fail(c, http.StatusNotFound, ErrCodeUnknownInstance, "instance is not registered with an active tenant")

	case errors.Is(err, quota.ErrStoreUnavailable), errors.Is(err, store.ErrUnavailable):
		// Counter-store outages fail closed everywhere in admission: the
		// idempotency test-and-set surfaces the same way as quota/abuse
		// checks, never as a generic 500.
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "admission temporarily unavailable")

	default:
		var qe *ingest.QuotaError
		if errors.As(err, &qe) {
			middleware.CountAdmissionReject("quota")
			retry := int(time.Until(qe.Decision.Retry).Seconds())
			if retry < 1 {
				retry = 1
			}
			st := qe.Decision.Status(qe.Decision.MostRestrictive)
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, QuotaExceededResponse{
				RequestID: c.Writer.Header().Get("X-Request-ID"),
				Code:      ErrCodeQuotaExceeded,
				Message:   st.Period + " message quota exhausted",
				Period:    st.Period,
				Limit:     st.Limit,
				Remaining: 0,
				ResetAt:   st.ResetAt,
			})
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to process event")
	}
}

// writeQuotaHeaders exposes the per-window admission state so well-behaved
// clients can pace themselves before hitting 429.
func writeQuotaHeaders(c *gin.Context, dec quota.Decision) {
	set := func(prefix, period string) {
		st := dec.Status(period)
		c.Header("X-Quota-"+prefix+"-Limit", strconv.FormatInt(st.Limit, 10))
		c.Header("X-Quota-"+prefix+"-Remaining", strconv.FormatInt(st.Remaining, 10))
		if !st.ResetAt.IsZero() {
			c.Header("X-Quota-"+prefix+"-Reset", strconv.FormatInt(st.ResetAt.Unix(), 10))
		}
	}
	set("Hourly", config.PeriodHourly)
	set("Daily", config.PeriodDaily)
	set("Monthly", config.PeriodMonthly)
}
