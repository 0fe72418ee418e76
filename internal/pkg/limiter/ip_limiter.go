/*
Package limiter throttles clients by IP address with one token bucket
(golang.org/x/time/rate) per address.

Idle buckets are dropped by a background sweep so the map does not grow with
every address ever seen. The gateway puts it in front of the WebSocket
upgrade, login and the upload handshake.
*/
package limiter

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"rtgateway/internal/pkg/errs"
	"rtgateway/internal/pkg/logx"
	"rtgateway/internal/pkg/resp"
)

// DefaultCleanupInterval is how often idle buckets are swept.
const DefaultCleanupInterval = 3 * time.Minute

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	// mu guards limits.
	mu sync.RWMutex

	// limits maps client IP to its bucket.
	limits map[string]*rate.Limiter

	// r is the refill rate in tokens per second.
	r rate.Limit

	// b is the bucket size.
	b int

	stop     chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewIPRateLimiter returns a limiter allowing r requests per second with
// bursts of b, and starts the sweep goroutine. Call Close to stop it.
func NewIPRateLimiter(r rate.Limit, b int, cleanupInterval time.Duration) *IPRateLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	i := &IPRateLimiter{
		limits: make(map[string]*rate.Limiter),
		r:      r,
		b:      b,
		stop:   make(chan struct{}),
		logger: logx.Component("limiter"),
	}

	go i.cleanUpVisitors(cleanupInterval)

	return i
}

// GetLimiter returns the bucket for ip, creating it on first use.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.RLock()
	limiter, exists := i.limits[ip]
	i.mu.RUnlock()

	if exists {
		return limiter
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	limiter, exists = i.limits[ip]
	if !exists {
		limiter = rate.NewLimiter(i.r, i.b)
		i.limits[ip] = limiter
	}

	return limiter
}

// Allow takes one token from ip's bucket.
func (i *IPRateLimiter) Allow(ip string) bool {
	return i.GetLimiter(ip).Allow()
}

// Size returns the number of tracked addresses.
func (i *IPRateLimiter) Size() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.limits)
}

// Close stops the sweep goroutine.
func (i *IPRateLimiter) Close() {
	i.stopOnce.Do(func() { close(i.stop) })
}

func (i *IPRateLimiter) cleanUpVisitors(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-i.stop:
			return
		case <-ticker.C:
			removed, remaining := i.sweep(time.Now())
			i.logger.Debug().
				Int("removed", removed).
				Int("remaining", remaining).
				Msg("rate limiter sweep")
		}
	}
}

// sweep drops every bucket that has refilled completely by now.
func (i *IPRateLimiter) sweep(now time.Time) (removed, remaining int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for ip, limiter := range i.limits {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(i.limits, ip)
			removed++
		}
	}

	return removed, len(i.limits)
}

// ClientIP extracts the host part of r.RemoteAddr. chi's RealIP middleware
// has already rewritten RemoteAddr from proxy headers when present.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if ip == "" {
		ip = "unknown_ip"
	}
	return ip
}

// Middleware rejects requests over the limit with a 429 envelope.
func (i *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !i.Allow(ClientIP(r)) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		next.ServeHTTP(w, r)
	})
}
