package api

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/time/rate"
)

// AdminAuthMiddleware admits requests whose x-admin-token header matches
// token. An empty token locks the admin API entirely.
func AdminAuthMiddleware(token string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := []byte(strings.TrimSpace(r.Header.Get("x-admin-token")))
			if len(expected) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
				respondWithError(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPThrottle is a token bucket per client IP.
type IPThrottle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewIPThrottle allows rps requests per second per IP with the given burst.
func NewIPThrottle(rps float64, burst int) *IPThrottle {
	if burst < 1 {
		burst = 1
	}
	return &IPThrottle{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow spends one token from ip's bucket.
func (t *IPThrottle) Allow(ip string) bool {
	t.mu.Lock()
	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[ip] = v
	}
	now := t.now()
	v.lastSeen = now
	t.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the per-IP budget with 429.
func (t *IPThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.Allow(getClientIP(r)) {
			respondWithError(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Prune forgets IPs idle for longer than maxIdle.
func (t *IPThrottle) Prune(maxIdle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-maxIdle)
	removed := 0
	for ip, v := range t.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(t.visitors, ip)
			removed++
		}
	}
	return removed
}

// RunJanitor prunes idle IPs every interval until ctx is done.
func (t *IPThrottle) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Prune(10 * time.Minute)
		case <-ctx.Done():
			return
		}
	}
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func respondWithError(w http.ResponseWriter, r *http.Request, code int, message string) {
	render.Status(r, code)
	render.JSON(w, r, map[string]string{"error": message})
}
