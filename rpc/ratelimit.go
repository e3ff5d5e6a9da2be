package rpc

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"charityledger/crypto"
	"charityledger/observability"
)

// RateLimitConfig bounds how often one caller may hit the API.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

var errRateLimited = errors.New("rate limit exceeded")

const visitorIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller. Authenticated requests are
// keyed by address, anonymous ones by client IP.
type RateLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

// NewRateLimiter returns a limiter; a non-positive rate disables limiting.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimiter{cfg: cfg, visitors: make(map[string]*visitor), now: time.Now}
}

// Middleware enforces the limit for the route group it wraps.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.cfg.RequestsPerSecond <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !l.allow(visitorKey(r)) {
			observability.ModuleMetrics().RecordThrottle(routePattern(r), "rate_limit")
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.visitors[key]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.visitors[key] = entry
	}
	entry.lastSeen = now
	if len(l.visitors) > 1024 {
		l.evictLocked(now)
	}
	return entry.limiter.AllowN(now, 1)
}

func (l *RateLimiter) evictLocked(now time.Time) {
	for key, entry := range l.visitors {
		if now.Sub(entry.lastSeen) > visitorIdleTTL {
			delete(l.visitors, key)
		}
	}
}

func visitorKey(r *http.Request) string {
	if caller, ok := callerFrom(r.Context()); ok {
		return "addr:" + crypto.FormatAddress(caller)
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
