package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func params(t *testing.T, target string) Params {
	t.Helper()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	return FromContext(c)
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		target string
		limit  int
		offset int
	}{
		{"/", DefaultLimit, 0},
		{"/?limit=50&offset=10", 50, 10},
		{"/?limit=5000", MaxLimit, 0},
		{"/?limit=-3&offset=-1", DefaultLimit, 0},
		{"/?limit=abc", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := params(t, tt.target)
		if p.Limit != tt.limit || p.Offset != tt.offset {
			t.Errorf("%s: expected %d/%d, got %d/%d", tt.target, tt.limit, tt.offset, p.Limit, p.Offset)
		}
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, 2, 2)
	if !r.HasMore {
		t.Error("expected more results after offset 2")
	}
	r = NewResponse([]string{"e"}, 5, 2, 4)
	if r.HasMore {
		t.Error("last page should not report more")
	}
}
