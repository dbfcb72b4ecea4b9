package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", DefaultLimit, 0},
		{"explicit", "?limit=5&offset=10", 5, 10},
		{"clamped", "?limit=1000", MaxLimit, 0},
		{"negative offset", "?offset=-3", DefaultLimit, 0},
		{"garbage", "?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paramsFor(t, tt.query)
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want %d/%d", p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestNewResponse_NextOffset(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, 2, 0)
	if !r.HasMore || r.NextOffset == nil || *r.NextOffset != 2 {
		t.Errorf("expected next offset 2, got %+v", r)
	}

	last := NewResponse([]int{5}, 5, 2, 4)
	if last.HasMore || last.NextOffset != nil {
		t.Errorf("expected last page, got %+v", last)
	}
}
