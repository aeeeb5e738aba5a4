package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/orderflow/orderflow/pkg/api/response"
)

func rateLimitedHandler(cfg RateLimitConfig) http.Handler {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return RateLimit(cfg)(next)
}

func doFrom(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	handler := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		if rec := doFrom(handler, "10.0.0.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimit_RejectsAfterBurst(t *testing.T) {
	handler := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})

	doFrom(handler, "10.0.0.1:1234")
	doFrom(handler, "10.0.0.1:1234")

	rec := doFrom(handler, "10.0.0.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	var errResp response.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if errResp.Error.Code != "RATE_LIMITED" {
		t.Errorf("expected RATE_LIMITED, got %q", errResp.Error.Code)
	}
}

func TestRateLimit_PerClientBuckets(t *testing.T) {
	handler := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})

	if rec := doFrom(handler, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", rec.Code)
	}
	if rec := doFrom(handler, "10.0.0.1:5678"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same client, new port: expected 429, got %d", rec.Code)
	}

	// A different IP has its own bucket.
	if rec := doFrom(handler, "10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Fatalf("second client: expected 200, got %d", rec.Code)
	}
}

func TestRateLimit_ZeroConfigUsesDefaults(t *testing.T) {
	handler := rateLimitedHandler(RateLimitConfig{})

	if rec := doFrom(handler, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 under defaults, got %d", rec.Code)
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"host and port", "10.0.0.1:1234", "10.0.0.1"},
		{"ipv6 host and port", "[::1]:1234", "::1"},
		{"no port falls back to raw value", "10.0.0.1", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if got := clientAddr(req); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
