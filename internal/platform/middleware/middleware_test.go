package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/platform/auth"
)

func newContext(method, target string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRequestID_GeneratesNew(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/", nil)
	var seen string
	h := RequestID()(func(c echo.Context) error {
		seen = requestIDOf(c)
		return ok(c)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == "" {
		t.Error("expected request_id to be generated")
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/", nil)
	c.Request().Header.Set(RequestIDHeader, "my-custom-id")
	if err := RequestID()(ok)(c); err != nil {
		t.Fatal(err)
	}
	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	c, _ := newContext(http.MethodGet, "/api/v1/cases", nil)
	if err := Logger(logger)(ok)(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"level":"info"`) {
		t.Errorf("expected info line, got %s", buf.String())
	}

	buf.Reset()
	c, _ = newContext(http.MethodGet, "/api/v1/cases/x", nil)
	_ = Logger(logger)(func(echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	})(c)
	if !strings.Contains(buf.String(), `"level":"warn"`) || !strings.Contains(buf.String(), `"status":404`) {
		t.Errorf("expected warn line with 404, got %s", buf.String())
	}

	buf.Reset()
	c, _ = newContext(http.MethodGet, "/api/v1/cases", nil)
	_ = Logger(logger)(func(echo.Context) error { return errors.New("boom") })(c)
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("expected error line, got %s", buf.String())
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newContext(http.MethodGet, "/panic", nil)
	err := Recovery(zerolog.New(&buf))(func(echo.Context) error { panic("test panic") })(c)

	httpErr, isHTTP := err.(*echo.HTTPError)
	if !isHTTP || httpErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if !strings.Contains(buf.String(), "test panic") {
		t.Error("panic not logged")
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/ok", nil)
	if err := Recovery(zerolog.Nop())(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type recorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (r *recorder) RecordAccess(e AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}

func TestAudit_CaseRoute(t *testing.T) {
	rec := &recorder{}
	caseID := "0b8f3c52-6a3e-4d2c-9a47-1f6f1f0e2c11"
	c, _ := newContext(http.MethodPost, "/api/v1/cases/"+caseID+"/feedback", nil)
	c.Set(requestIDKey, "req-123")
	c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), "doc-1", "Dr. Okafor", []string{"doctor"})))

	if err := Audit(zerolog.Nop(), rec)(ok)(c); err != nil {
		t.Fatal(err)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(rec.entries))
	}
	e := rec.entries[0]
	if e.UserID != "doc-1" || e.Resource != "cases" || e.CaseID != caseID || e.Action != "create" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.RequestID != "req-123" || e.StatusCode != http.StatusOK {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	rec := &recorder{}
	c, _ := newContext(http.MethodGet, "/health", nil)
	if err := Audit(zerolog.Nop(), rec)(ok)(c); err != nil {
		t.Fatal(err)
	}
	if len(rec.entries) != 0 {
		t.Error("health checks should not be audited")
	}
}

func TestAudit_RecorderErrorDoesNotBreakRequest(t *testing.T) {
	rec := &recorder{err: errors.New("disk full")}
	c, _ := newContext(http.MethodGet, "/api/v1/notifications", nil)
	if err := Audit(zerolog.Nop(), rec)(ok)(c); err != nil {
		t.Errorf("recorder failure leaked into response: %v", err)
	}
}

func TestResourceOf(t *testing.T) {
	tests := []struct {
		path, resource, caseID string
	}{
		{"/api/v1/cases", "cases", ""},
		{"/api/v1/cases/not-a-uuid", "cases", ""},
		{"/api/v1/cases/0b8f3c52-6a3e-4d2c-9a47-1f6f1f0e2c11/test-requests", "cases", "0b8f3c52-6a3e-4d2c-9a47-1f6f1f0e2c11"},
		{"/api/v1/consultations", "consultations", ""},
		{"/api/v1/", "unknown", ""},
	}
	for _, tt := range tests {
		r, id := resourceOf(tt.path)
		if r != tt.resource || id != tt.caseID {
			t.Errorf("%s: got (%s, %s)", tt.path, r, id)
		}
	}
}

func TestParseLimit(t *testing.T) {
	tests := map[string]int64{
		"":     1 << 20,
		"512":  512,
		"512K": 512 << 10,
		"2M":   2 << 20,
		"2mb":  2 << 20,
		"1G":   1 << 30,
		"lots": 1 << 20,
		"-5K":  1 << 20,
	}
	for in, want := range tests {
		if got := ParseLimit(in); got != want {
			t.Errorf("ParseLimit(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestBodyLimit(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/", strings.NewReader("small"))
	if err := BodyLimit("1K")(ok)(c); err != nil {
		t.Errorf("small body rejected: %v", err)
	}

	c, _ = newContext(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 2048)))
	err := BodyLimit("1K")(ok)(c)
	if he, isHTTP := err.(*echo.HTTPError); !isHTTP || he.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 from Content-Length, got %v", err)
	}

	c, _ = newContext(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 2048)))
	c.Request().ContentLength = -1
	err = BodyLimit("1K")(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})(c)
	if he, isHTTP := err.(*echo.HTTPError); !isHTTP || he.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 while reading, got %v", err)
	}
}

func TestSecurityHeaders(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/", nil)
	if err := SecurityHeaders()(ok)(c); err != nil {
		t.Fatal(err)
	}
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Cache-Control"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}
