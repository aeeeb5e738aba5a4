package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/orderflow/orderflow/pkg/api/response"
)

// RateLimitConfig defines per-client rate limiting behavior.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// ClientTTL is how long an idle client's limiter is kept before eviction.
	ClientTTL time.Duration
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		Burst:             100,
		ClientTTL:         10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit returns a middleware that limits requests per client IP using a
// token bucket. Idle clients are evicted lazily so the limiter map does not
// grow without bound.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRateLimitConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultRateLimitConfig().Burst
	}
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = DefaultRateLimitConfig().ClientTTL
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*clientLimiter)
	)

	getLimiter := func(clientIP string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if len(clients) > 1000 {
			for ip, client := range clients {
				if now.Sub(client.lastSeen) > cfg.ClientTTL {
					delete(clients, ip)
				}
			}
		}

		client, ok := clients[clientIP]
		if !ok {
			client = &clientLimiter{
				limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
			}
			clients[clientIP] = client
		}
		client.lastSeen = now
		return client.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := clientAddr(r)
			if !getLimiter(clientIP).Allow() {
				requestID := GetRequestID(r.Context())
				response.Error(w,
					http.StatusTooManyRequests,
					"RATE_LIMITED",
					"too many requests",
					requestID,
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
