package httpapi

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "qms",
	Name:      "http_rate_limited_total",
	Help:      "Requests rejected by the rate limiter, by bucket scope.",
}, []string{"scope"})

// Probes and scrapes are never limited.
var unlimitedPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

type RateLimitConfig struct {
	IPPerMinute      int
	IPBurst          int
	// Manager buckets only count writes; the public display and token lookup
	// are read by many screens on behalf of one manager.
	ManagerPerMinute int
	ManagerBurst     int
}

type RateLimiter struct {
	ipLimiter      *tokenLimiter
	managerLimiter *tokenLimiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		ipLimiter:      newTokenLimiter(cfg.IPPerMinute, cfg.IPBurst),
		managerLimiter: newTokenLimiter(cfg.ManagerPerMinute, cfg.ManagerBurst),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if unlimitedPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if ip := clientIP(r); ip != "" {
			if ok, wait := l.ipLimiter.allow(ip); !ok {
				reject(w, r, "ip", wait)
				return
			}
		}
		if manager := managerID(r); manager != "" && isWrite(r.Method) {
			if ok, wait := l.managerLimiter.allow(manager); !ok {
				reject(w, r, "manager", wait)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func reject(w http.ResponseWriter, r *http.Request, scope string, wait time.Duration) {
	rateLimitedTotal.WithLabelValues(scope).Inc()
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, requestID(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
}

func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// tokenLimiter keeps one bucket per key. Buckets idle long enough to have
// refilled completely carry no state and are swept.
type tokenLimiter struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	buckets   map[string]*bucket
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

func newTokenLimiter(perMinute, burst int) *tokenLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 20
	}
	rate := float64(perMinute) / 60.0
	return &tokenLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		idle:    time.Duration(float64(burst)/rate*float64(time.Second)) + time.Minute,
		now:     time.Now,
	}
}

// allow takes a token for key. When none is left it reports how long until one is.
func (l *tokenLimiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{tokens: l.burst - 1, last: now}
		return true, 0
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = math.Min(l.burst, b.tokens+elapsed*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false, time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	}
	b.tokens--
	return true, 0
}

func (l *tokenLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.last) >= l.idle {
			delete(l.buckets, key)
		}
	}
}

func (l *tokenLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
