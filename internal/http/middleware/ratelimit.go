package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds requests per client IP with a token bucket.
type RateLimitConfig struct {
	RPS      float64
	Burst    int
	IdleTTL  time.Duration
	Now      func() time.Time
	Disabled bool
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientBuckets holds one limiter per client. Buckets idle longer than ttl
// are dropped on the next lookup after a sweep is due.
type clientBuckets struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	byClient  map[string]*clientBucket
	nextSweep time.Time
}

func (c *clientBuckets) reserve(client string, now time.Time) *rate.Reservation {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !now.Before(c.nextSweep) {
		for key, bucket := range c.byClient {
			if now.Sub(bucket.lastSeen) > c.ttl {
				delete(c.byClient, key)
			}
		}
		c.nextSweep = now.Add(c.ttl)
	}

	bucket, ok := c.byClient[client]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.byClient[client] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.ReserveN(now, 1)
}

// RateLimit rejects requests over the per-IP budget with 429 and a
// Retry-After hint derived from the bucket refill time.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Disabled {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	buckets := &clientBuckets{
		limit:     rate.Limit(cfg.RPS),
		burst:     cfg.Burst,
		ttl:       cfg.IdleTTL,
		byClient:  make(map[string]*clientBucket),
		nextSweep: cfg.Now().Add(cfg.IdleTTL),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := cfg.Now()
			reservation := buckets.reserve(clientIP(r.RemoteAddr), now)
			delay := reservation.DelayFrom(now)
			if delay == 0 {
				next.ServeHTTP(w, r)
				return
			}
			reservation.CancelAt(now)

			retryAfter := int(delay.Seconds())
			if time.Duration(retryAfter)*time.Second < delay {
				retryAfter++
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":      map[string]string{"code": "rate_limited", "message": "too many requests"},
				"request_id": RequestIDFrom(r.Context()),
			})
		})
	}
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}
	return remoteAddr
}
