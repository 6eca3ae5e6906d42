package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kelmah/apigateway/internal/apierr"
	"github.com/kelmah/apigateway/internal/observability"
)

// Rate limiter defaults.
const (
	DefaultClientTTL   = 10 * time.Minute
	minCleanupInterval = 10 * time.Second
	maxCleanupInterval = time.Minute
	rateLimitRoute     = "global"
)

type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per client IP. Idle buckets are
// dropped after the client TTL.
type RateLimiter struct {
	rps       rate.Limit
	burst     int
	clientTTL time.Duration
	now       func() time.Time
	logger    observability.Logger
	metrics   *observability.Metrics
	ips       *ClientIPExtractor

	mu      sync.Mutex
	clients map[string]*clientEntry
	stopCh  chan struct{}
	stopped bool
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterLogger sets the logger.
func WithRateLimiterLogger(logger observability.Logger) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.logger = logger
	}
}

// WithRateLimiterMetrics counts rejections.
func WithRateLimiterMetrics(m *observability.Metrics) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.metrics = m
	}
}

// WithClientIPExtractor sets how clients are identified.
func WithClientIPExtractor(e *ClientIPExtractor) RateLimiterOption {
	return func(rl *RateLimiter) {
		if e != nil {
			rl.ips = e
		}
	}
}

// WithClientTTL sets how long an idle client's bucket is kept.
func WithClientTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		if ttl > 0 {
			rl.clientTTL = ttl
		}
	}
}

// NewRateLimiter creates a limiter allowing rps requests per second with
// the given burst per client.
func NewRateLimiter(rps, burst int, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		clientTTL: DefaultClientTTL,
		now:       time.Now,
		logger:    observability.NopLogger(),
		ips:       NewClientIPExtractor(nil),
		clients:   make(map[string]*clientEntry),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow reports whether client may proceed now.
func (rl *RateLimiter) Allow(client string) bool {
	now := rl.now()

	rl.mu.Lock()
	entry, ok := rl.clients[client]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[client] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	rl.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Middleware rejects over-limit requests with 429 RATE_LIMITED.
func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := rl.ips.Extract(r)
			if !rl.Allow(client) {
				rl.logger.WithContext(r.Context()).Warn("rate limit exceeded",
					observability.String("client_ip", client),
					observability.String("path", r.URL.Path),
				)
				rl.metrics.RecordRateLimited(rateLimitRoute)

				w.Header().Set("Retry-After", "1")
				apierr.Write(w, apierr.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CleanupOldClients drops buckets idle for longer than maxAge.
func (rl *RateLimiter) CleanupOldClients(maxAge time.Duration) int {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for client, entry := range rl.clients {
		if now.Sub(entry.lastAccess) > maxAge {
			delete(rl.clients, client)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("cleaned up idle rate limiter entries",
			observability.Int("removed", removed),
			observability.Int("remaining", len(rl.clients)),
		)
	}
	return removed
}

// StartAutoCleanup runs CleanupOldClients periodically until Stop.
func (rl *RateLimiter) StartAutoCleanup() {
	rl.mu.Lock()
	if rl.stopped {
		rl.mu.Unlock()
		return
	}
	rl.mu.Unlock()

	interval := rl.clientTTL / 2
	if interval > maxCleanupInterval {
		interval = maxCleanupInterval
	}
	if interval < minCleanupInterval {
		interval = minCleanupInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.CleanupOldClients(rl.clientTTL)
			case <-rl.stopCh:
				return
			}
		}
	}()
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.stopped {
		rl.stopped = true
		close(rl.stopCh)
	}
}
