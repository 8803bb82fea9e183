package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/caseflow/caseflow/internal/config"
	"github.com/caseflow/caseflow/internal/platform/auth"
	"github.com/caseflow/caseflow/internal/platform/outbox"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                   "development",
		StoreDriver:           config.DriverMemory,
		CORSOrigins:           []string{"*"},
		HospitalIDPrefix:      "SGH",
		TransitionMaxAttempts: 5,
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       50,
		OutboxMaxAttempts:     3,
		OutboxRetention:       time.Hour,
		BodyLimit:             "1M",
	}
}

func newTestServer(t *testing.T) *server {
	t.Helper()
	cfg := testConfig()
	b, err := openBackend(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	srv, err := newServer(cfg, zerolog.Nop(), b)
	if err != nil {
		t.Fatal(err)
	}
	return srv
}

type client struct {
	t   *testing.T
	srv *server
	id  string
	nm  string
}

func (c client) do(method, path string, body interface{}, want int) map[string]interface{} {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderUserID, c.id)
	req.Header.Set(auth.HeaderUserName, c.nm)
	rec := httptest.NewRecorder()
	c.srv.echo.ServeHTTP(rec, req)
	if rec.Code != want {
		c.t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, rec.Code, rec.Body.String())
	}
	var out map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return out
}

func (c client) inbox() []map[string]interface{} {
	c.t.Helper()
	resp := c.do(http.MethodGet, "/api/v1/notifications", nil, http.StatusOK)
	raw, _ := resp["data"].([]interface{})
	items := make([]map[string]interface{}, len(raw))
	for i, r := range raw {
		items[i] = r.(map[string]interface{})
	}
	return items
}

func (c client) unread() float64 {
	c.t.Helper()
	return c.do(http.MethodGet, "/api/v1/notifications/unread-count", nil, http.StatusOK)["unread"].(float64)
}

func status(resp map[string]interface{}) string {
	if cs, ok := resp["case"].(map[string]interface{}); ok {
		return cs["status"].(string)
	}
	return resp["status"].(string)
}

func TestCaseLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	caregiver := client{t, srv, "cg-1", "Grace Mensah"}
	doctor := client{t, srv, "doc-1", "Dr. Okafor"}
	specialist := client{t, srv, "sp-1", "Dr. Lindqvist"}

	created := caregiver.do(http.MethodPost, "/api/v1/cases", map[string]interface{}{
		"demographics":    map[string]interface{}{"patient_name": "Amara Diallo", "gender": "female"},
		"medical_history": "asthma",
	}, http.StatusCreated)
	if status(created) != "Pending Doctor Review" {
		t.Fatalf("unexpected initial status %v", created["status"])
	}
	if !strings.HasPrefix(created["hospital_id"].(string), "SGH") {
		t.Errorf("unexpected hospital id %v", created["hospital_id"])
	}
	base := "/api/v1/cases/" + created["id"].(string)

	resp := doctor.do(http.MethodPost, base+"/feedback", map[string]string{"note": "increase fluids"}, http.StatusCreated)
	if status(resp) != "Reviewed by Doctor" {
		t.Fatalf("unexpected status after feedback %q", status(resp))
	}
	srv.relay.DeliverPending(ctx)
	if n := caregiver.unread(); n != 1 {
		t.Fatalf("expected 1 unread for caregiver, got %v", n)
	}

	tr := doctor.do(http.MethodPost, base+"/test-requests", map[string]string{"test_name": "CBC", "reason": "pallor"}, http.StatusCreated)
	srv.relay.DeliverPending(ctx)
	if n := caregiver.unread(); n != 2 {
		t.Fatalf("expected 2 unread for caregiver, got %v", n)
	}

	trPath := base + "/test-requests/" + tr["id"].(string)
	caregiver.do(http.MethodPost, trPath+"/fulfill", map[string]interface{}{
		"notes": "done", "files": []string{"https://files.example/cbc.pdf"},
	}, http.StatusOK)
	caregiver.do(http.MethodPost, trPath+"/fulfill", map[string]interface{}{"notes": "again"}, http.StatusConflict)
	srv.relay.DeliverPending(ctx)
	if got := doctor.inbox(); len(got) != 1 || got[0]["type"] != "test_fulfilled" {
		t.Fatalf("expected test_fulfilled for doctor, got %v", got)
	}

	resp = doctor.do(http.MethodPost, base+"/consultations", map[string]string{"details": "persistent murmur"}, http.StatusCreated)
	if status(resp) != "Pending Specialist Consultation" {
		t.Fatalf("unexpected status %q", status(resp))
	}
	consultation := resp["consultation"].(map[string]interface{})

	worklist := specialist.do(http.MethodGet, "/api/v1/consultations", nil, http.StatusOK)
	if worklist["total"].(float64) != 1 {
		t.Fatalf("expected one pending consultation, got %v", worklist["total"])
	}

	cPath := base + "/consultations/" + consultation["id"].(string)
	resp = specialist.do(http.MethodPost, cPath+"/feedback", map[string]string{"feedback": "echo recommended"}, http.StatusOK)
	if status(resp) != "Specialist Feedback Provided" {
		t.Fatalf("unexpected status %q", status(resp))
	}
	specialist.do(http.MethodPost, cPath+"/feedback", map[string]string{"feedback": "twice"}, http.StatusConflict)
	srv.relay.DeliverPending(ctx)

	if n := doctor.unread(); n != 2 {
		t.Fatalf("expected 2 unread for doctor, got %v", n)
	}
	if got := specialist.inbox(); len(got) != 0 {
		t.Errorf("specialist should have no notifications, got %d", len(got))
	}

	marked := caregiver.do(http.MethodPost, "/api/v1/notifications/read-all", nil, http.StatusOK)
	if marked["marked"].(float64) != 2 || caregiver.unread() != 0 {
		t.Errorf("read-all did not clear caregiver inbox: %v", marked)
	}

	first := doctor.inbox()[0]
	doctor.do(http.MethodPost, "/api/v1/notifications/"+first["id"].(string)+"/read", nil, http.StatusOK)
	caregiver.do(http.MethodPost, "/api/v1/notifications/"+first["id"].(string)+"/read", nil, http.StatusNotFound)
	if n := doctor.unread(); n != 1 {
		t.Errorf("expected 1 unread for doctor, got %v", n)
	}

	if n := srv.relay.DeliverPending(ctx); n != 0 {
		t.Errorf("expected empty outbox, got %d", n)
	}
}

func TestPublicEndpoints(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/health", "/health/db", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestRequestIDEchoed(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
	req.Header.Set("X-Request-ID", "trace-me")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "trace-me" {
		t.Errorf("request id not echoed: %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestPrintOutboxStatus(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	printOutboxStatus(cmd, "memory", map[outbox.Status]int{outbox.StatusPending: 2, outbox.StatusFailed: 1})

	want := "Outbox status (memory)\npending    2\ndelivered  0\nfailed     1\n"
	if out.String() != want {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestSigningKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "staging"
	cfg.AuthSigningKey = "shared-secret"
	b, err := openBackend(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	srv, err := newServer(cfg, zerolog.Nop(), b)
	if err != nil {
		t.Fatal(err)
	}

	sign := func(key string) string {
		claims := auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "cg-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Name: "Grace Mensah",
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"configured key", "Bearer " + sign("shared-secret"), http.StatusOK},
		{"other key", "Bearer " + sign("not-the-secret"), http.StatusUnauthorized},
		{"no token", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications/unread-count", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			srv.echo.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
