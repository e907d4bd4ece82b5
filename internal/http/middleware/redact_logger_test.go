package middleware

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// captureLogs routes the global logger into a buffer for the duration of
// the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = orig })
	return &buf
}

func newLoggedEngine(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Signature"}}))
	r.Use(Recovery())
	r.GET("/ping", handler)
	return r
}

func TestRedactingLogger_ScrubsIdentifiers(t *testing.T) {
	buf := captureLogs(t)
	r := newLoggedEngine(func(c *gin.Context) { c.Status(200) })

	req := httptest.NewRequest("GET",
		"/ping?user=jane.doe@example.com&phone=%2B1%20212-555-1212&ref=123e4567-e89b-42d3-a456-426614174000", nil)
	req.Header.Set("X-Contact", "call +1 212-555-1212")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := buf.String()
	for _, leaked := range []string{"jane.doe@example.com", "212-555-1212", "123e4567"} {
		if strings.Contains(out, leaked) {
			t.Errorf("log leaks %q:\n%s", leaked, out)
		}
	}
	for _, marker := range []string{"[REDACTED:email]", "[REDACTED:phone]", "[REDACTED:id]"} {
		if !strings.Contains(out, marker) {
			t.Errorf("log missing marker %q:\n%s", marker, out)
		}
	}
}

func TestRedactingLogger_MasksHeaders(t *testing.T) {
	buf := captureLogs(t)
	r := newLoggedEngine(func(c *gin.Context) { c.Status(200) })

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Authorization", "Bearer very-private-token")
	req.Header.Set("X-Signature", "aabbccdd")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := buf.String()
	if strings.Contains(out, "very-private-token") || strings.Contains(out, "aabbccdd") {
		t.Fatalf("log leaks masked header values:\n%s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("masked headers missing redaction marker:\n%s", out)
	}
}

func TestRecovery_TurnsPanicIntoJSON500(t *testing.T) {
	captureLogs(t)
	r := newLoggedEngine(func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != 500 {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "req-1") {
		t.Fatalf("response missing request id: %s", w.Body.String())
	}
}
