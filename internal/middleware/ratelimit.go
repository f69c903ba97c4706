package middleware

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientIdleTTL is how long an unused per-client bucket survives a sweep.
const clientIdleTTL = 10 * time.Minute

// RateLimitConfig configures the request token buckets. With PerClient set
// every remote host gets its own bucket; otherwise one bucket is shared by
// the whole process.
type RateLimitConfig struct {
	Enabled   bool
	RPS       float64
	Burst     int
	PerClient bool
}

// RateLimitMiddleware rejects requests over the configured rate with a
// GraphQL shaped 429. A non-positive RPS or Burst disables limiting.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.RPS <= 0 || cfg.Burst <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	var allow func(*http.Request) bool
	if cfg.PerClient {
		buckets := newClientBuckets(rate.Limit(cfg.RPS), cfg.Burst)
		allow = func(r *http.Request) bool {
			return buckets.get(clientHost(r), time.Now()).Allow()
		}
	} else {
		limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
		allow = func(*http.Request) bool { return limiter.Allow() }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allow(r) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, `{"errors":[{"message":"rate limit exceeded"}]}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type clientBuckets struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clients   map[string]*clientBucket
	nextSweep time.Time
}

func newClientBuckets(limit rate.Limit, burst int) *clientBuckets {
	return &clientBuckets{limit: limit, burst: burst, clients: make(map[string]*clientBucket)}
}

func (c *clientBuckets) get(host string, now time.Time) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.After(c.nextSweep) {
		for key, b := range c.clients {
			if now.Sub(b.lastSeen) > clientIdleTTL {
				delete(c.clients, key)
			}
		}
		c.nextSweep = now.Add(clientIdleTTL)
	}

	b, ok := c.clients[host]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.clients[host] = b
	}
	b.lastSeen = now
	return b.limiter
}
