package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig throttles API requests per client address.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// CleanupInterval is how often idle clients are forgotten. A client is
	// idle after two intervals without a request.
	CleanupInterval time.Duration
	// TrustProxyHeaders keys clients on X-Forwarded-For or X-Real-IP. Enable
	// it only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 10,
	Burst:             20,
	CleanupInterval:   5 * time.Minute,
}

// RateLimitStats is reported under /api/stats.
type RateLimitStats struct {
	Allowed  uint64 `json:"allowed"`
	Rejected uint64 `json:"rejected"`
	Clients  int    `json:"clients"`
}

type client struct {
	bucket *rate.Limiter
	seen   time.Time
}

// IPRateLimiter keeps one token bucket per client address.
type IPRateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	clients map[string]*client

	allowed  atomic.Uint64
	rejected atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter starts a limiter with a background sweeper; call Stop to
// end it.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{
		cfg:     cfg,
		clients: make(map[string]*client),
		done:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// Allow spends one token from addr's bucket.
func (rl *IPRateLimiter) Allow(addr string) bool {
	now := time.Now()
	rl.mu.Lock()
	c, ok := rl.clients[addr]
	if !ok {
		c = &client{bucket: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)}
		rl.clients[addr] = c
	}
	c.seen = now
	ok = c.bucket.AllowN(now, 1)
	rl.mu.Unlock()

	if ok {
		rl.allowed.Add(1)
	} else {
		rl.rejected.Add(1)
	}
	return ok
}

func (rl *IPRateLimiter) Stats() RateLimitStats {
	rl.mu.Lock()
	n := len(rl.clients)
	rl.mu.Unlock()
	return RateLimitStats{
		Allowed:  rl.allowed.Load(),
		Rejected: rl.rejected.Load(),
		Clients:  n,
	}
}

func (rl *IPRateLimiter) sweep() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case now := <-ticker.C:
			rl.forgetIdle(now.Add(-2 * rl.cfg.CleanupInterval))
		}
	}
}

func (rl *IPRateLimiter) forgetIdle(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for addr, c := range rl.clients {
		if c.seen.Before(cutoff) {
			delete(rl.clients, addr)
		}
	}
}

// Middleware answers 429 once a client's bucket is empty.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.clientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			writeError(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *IPRateLimiter) clientIP(r *http.Request) string {
	if rl.cfg.TrustProxyHeaders {
		if ip := forwardedIP(r); ip != "" {
			return ip
		}
	}
	return remoteIP(r)
}

// forwardedIP returns the first hop of X-Forwarded-For, or X-Real-IP.
func forwardedIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WebSocketRateLimiter caps concurrent WebSocket connections per address.
type WebSocketRateLimiter struct {
	mu       sync.Mutex
	open     map[string]int
	maxPerIP int
}

func NewWebSocketRateLimiter(maxPerIP int) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{open: make(map[string]int), maxPerIP: maxPerIP}
}

// Allow reserves a connection slot for addr.
func (l *WebSocketRateLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open[addr] >= l.maxPerIP {
		return false
	}
	l.open[addr]++
	return true
}

// Release frees a slot reserved by Allow.
func (l *WebSocketRateLimiter) Release(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open[addr] <= 1 {
		delete(l.open, addr)
		return
	}
	l.open[addr]--
}

// IsAllowedOrigin reports whether origin matches one of the patterns. A
// pattern may hold a single "*" wildcard, as in "http://localhost:*".
func IsAllowedOrigin(origin string, patterns []string) bool {
	if origin == "" {
		return false
	}
	origin = strings.ToLower(origin)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if p == "*" || p == origin {
			return true
		}
		prefix, suffix, ok := strings.Cut(p, "*")
		if ok && len(origin) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}
