package consultation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/caseflow/caseflow/internal/platform/auth"
)

func post(body, userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithUser(req.Context(), userID, userID, nil))
}

func TestHandler_FeedbackConflict(t *testing.T) {
	svc, _, cs := setup(t)
	h := NewHandler(svc)
	e := echo.New()

	cr, _, err := svc.Request(context.Background(), cs.ID, doctor, "murmur")
	if err != nil {
		t.Fatal(err)
	}

	submit := func() (int, error) {
		rec := httptest.NewRecorder()
		c := e.NewContext(post(`{"feedback":"echo recommended"}`, "sp-1"), rec)
		c.SetParamNames("id", "consultationID")
		c.SetParamValues(cs.ID.String(), cr.ID.String())
		err := h.SubmitFeedback(c)
		return rec.Code, err
	}
	if code, err := submit(); err != nil || code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", code, err)
	}
	_, err = submit()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_Request_EmptyDetails(t *testing.T) {
	svc, _, cs := setup(t)
	h := NewHandler(svc)
	e := echo.New()

	c := e.NewContext(post(`{"details":""}`, "doc-1"), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(cs.ID.String())
	err := h.Request(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Worklist(t *testing.T) {
	svc, _, cs := setup(t)
	h := NewHandler(svc)
	e := echo.New()
	if _, _, err := svc.Request(context.Background(), cs.ID, doctor, "murmur"); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/consultations", nil), rec)
	if err := h.Worklist(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
