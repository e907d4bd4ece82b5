// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file adapts the sliding-window abuse limiter to the webhook route.
// Unlike an in-process token bucket, the limiter state lives in the shared
// counter store, so the admitted rate holds across every gateway replica.
//
// The instance scope needs the upstream instance name, which only exists
// inside the JSON body. The middleware peeks at the body (already capped by
// the body size limiter) and restores it for the handler; a body that does
// not parse simply skips the instance scope and is judged on the source IP
// and global scopes alone.
package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-event-gateway/internal/config"
	"github.com/tbourn/go-event-gateway/internal/ratelimit"
)

// AbuseLimiter returns a Gin middleware that rejects requests exceeding the
// sliding-window thresholds with 429 and a Retry-After hint of one window.
//
// Store failures reject with 503: an unreachable store must never turn the
// limiter off.
func AbuseLimiter(l *ratelimit.Limiter, cfg config.AbuseConfig) gin.HandlerFunc {
	retryAfter := strconv.Itoa(int(cfg.Window.Seconds()))
	return func(c *gin.Context) {
		instance, perr := peekInstance(c)
		var maxErr *http.MaxBytesError
		if errors.As(perr, &maxErr) {
			CountAdmissionReject("validation")
			abortJSON(c, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return
		}

		scope, err := l.Admit(c.Request.Context(), c.ClientIP(), instance)
		if err != nil {
			lg := LoggerFrom(c)
			lg.Error().Err(err).Str("scope", string(scope)).Msg("abuse limiter store failure")
			abortJSON(c, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
			return
		}
		if scope != "" {
			CountAdmissionReject("abuse")
			lg := LoggerFrom(c)
			lg.Warn().Str("scope", string(scope)).Msg("request rate limited")
			c.Header("Retry-After", retryAfter)
			abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded for "+string(scope)+" scope")
			return
		}
		c.Next()
	}
}

// peekInstance extracts the instance field from the JSON body without
// consuming it. A malformed body yields "" so the request is judged on the
// source and global scopes alone; a read error (notably the body size cap)
// is returned to the caller.
func peekInstance(c *gin.Context) (string, error) {
	if c.Request.Body == nil {
		return "", nil
	}
	raw, err := io.ReadAll(c.Request.Body)
	_ = c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	var probe struct {
		Instance string `json:"instance"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return "", nil
	}
	return probe.Instance, nil
}

// abortJSON writes the standard error envelope without depending on the
// handlers package (which itself imports middleware).
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
