package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/tarbot/internal/testutil"
)

var noContent = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestAuth(t *testing.T) {
	h := Auth("s3cret", "/api/health")(noContent)
	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"exempt", "/api/health", nil, http.StatusNoContent},
		{"missing", "/api/status", nil, http.StatusUnauthorized},
		{"bearer", "/api/status", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusNoContent},
		{"bearer lowercase", "/api/status", map[string]string{"Authorization": "bearer s3cret"}, http.StatusNoContent},
		{"header", "/api/status", map[string]string{"X-API-Key": "s3cret"}, http.StatusNoContent},
		{"wrong", "/api/status", map[string]string{"X-API-Key": "s3cre"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(noContent).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestLoggingRequestID(t *testing.T) {
	h := Logging(testutil.Logger(), "/api/health")(noContent)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(RequestIDHeader, "abc")
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc" {
		t.Errorf("echoed id = %q", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("generated id = %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, 2)(noContent)
	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}
