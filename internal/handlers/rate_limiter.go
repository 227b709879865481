package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/platform/httpx"
)

const defaultLimiterIdle = 3 * time.Minute

type rateLimiter interface {
	Allow(key string) bool
}

// keyedRateLimiter hands out one token bucket per key and forgets buckets idle for longer than expiresIn.
type keyedRateLimiter struct {
	limit     rate.Limit
	burst     int
	expiresIn time.Duration
	clock     func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	lastGC   time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedRateLimiter(limit rate.Limit, burst int, expiresIn time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || burst <= 0 {
		return nil
	}
	if expiresIn <= 0 {
		expiresIn = defaultLimiterIdle
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedRateLimiter{
		limit:     limit,
		burst:     burst,
		expiresIn: expiresIn,
		clock:     clock,
		visitors:  make(map[string]*visitor),
	}
}

// perMinute converts a per-minute budget into a rate.Limit.
func perMinute(n int) rate.Limit {
	if n <= 0 {
		return 0
	}
	return rate.Every(time.Minute / time.Duration(n))
}

func (l *keyedRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > l.expiresIn {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.expiresIn {
				delete(l.visitors, k)
			}
		}
		l.lastGC = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// rateLimitMiddleware rejects requests over budget with 429. A nil limiter disables it.
func rateLimitMiddleware(limiter rateLimiter, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFn(r)) {
				w.Header().Set("Retry-After", "1")
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userOrIPKey keys on the authenticated user and falls back to the client address.
func userOrIPKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && identity.UID != "" {
		return "user:" + identity.UID
	}
	return clientIPKey(r)
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
