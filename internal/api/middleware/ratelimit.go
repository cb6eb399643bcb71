package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	defaultMaxClients          int     = 10000
	defaultGlobalRPS           int     = 200
	defaultClientRPS           int     = 20
	thresholdMultiplier        float64 = 0.8
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter decides whether a client may make another request.
	RateLimiter interface {
		Allow(clientKey string) bool
	}

	// InMemoryRateLimiter implements RateLimiter with token buckets from golang.org/x/time/rate:
	// one global bucket and one bucket per client. Buckets of clients idle longer than the
	// idle timeout are dropped by a background cleanup; once MaxClients buckets exist, new
	// clients share the global bucket only.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		clients       map[string]*clientLimiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}
		closeOnce     sync.Once

		clientRPS       int
		clientBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxClients      int
		warned          bool
	}

	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a limiter and starts its cleanup goroutine.
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{GlobalRPS: 200, ClientRPS: 20})
//	defer rl.Close()
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(config.GlobalRPS), computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)),
		clients:         make(map[string]*clientLimiter),
		done:            make(chan struct{}),
		clientRPS:       config.ClientRPS,
		clientBurst:     computeBurstCapacity(config.ClientRPS, config.ClientBurst),
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxClients:      config.MaxClients,
	}

	if rl.maxClients <= 0 {
		rl.maxClients = defaultMaxClients
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity returns burstOverride when set, otherwise 2 × rate.
//
//	computeBurstCapacity(100, 0)   // 200
//	computeBurstCapacity(100, 500) // 500
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow checks the global bucket first, then the client's.
func (rl *InMemoryRateLimiter) Allow(clientKey string) bool {
	if !rl.global.Allow() {
		return false
	}

	cl := rl.client(clientKey)
	if cl == nil {
		return true
	}

	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

func (rl *InMemoryRateLimiter) client(key string) *clientLimiter {
	rl.mu.RLock()
	cl, ok := rl.clients[key]
	rl.mu.RUnlock()

	if ok {
		return cl
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, ok = rl.clients[key]; ok {
		return cl
	}

	if len(rl.clients) >= rl.maxClients {
		return nil
	}

	cl = &clientLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst),
		lastAccess: time.Now(),
	}
	rl.clients[key] = cl

	if threshold := int(float64(rl.maxClients) * thresholdMultiplier); len(rl.clients) >= threshold && !rl.warned {
		rl.warned = true

		slog.Warn("rate limiter approaching max clients limit",
			slog.Int("current_clients", len(rl.clients)),
			slog.Int("max_clients", rl.maxClients),
		)
	}

	return cl
}

// Clients returns the number of tracked clients.
func (rl *InMemoryRateLimiter) Clients() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return len(rl.clients)
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.done)
	})

	return nil
}

func (rl *InMemoryRateLimiter) startCleanup() {
	interval := rl.cleanupInterval
	if interval <= 0 {
		interval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup(time.Now())
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup drops clients idle at now for longer than the idle timeout.
func (rl *InMemoryRateLimiter) cleanup(now time.Time) {
	idleTimeout := rl.idleTimeout
	if idleTimeout <= 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, cl := range rl.clients {
		cl.mu.Lock()
		lastAccess := cl.lastAccess
		cl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.clients, key)
		}
	}

	if len(rl.clients) < int(float64(rl.maxClients)*thresholdMultiplier) {
		rl.warned = false
	}
}

// ClientKey identifies the client of a request by address. With trustForwardedFor the
// first X-Forwarded-For entry wins.
func ClientKey(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// RateLimit returns a middleware answering 429 with an RFC 7807 body once a client
// exceeds its limit. Public endpoints are exempt.
func RateLimit(limiter RateLimiter, logger *slog.Logger, opts ...RateLimitOption) func(http.Handler) http.Handler {
	settings := rateLimitSettings{}
	for _, opt := range opts {
		opt(&settings)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			if !limiter.Allow(ClientKey(r, settings.trustForwardedFor)) {
				w.Header().Set("Retry-After", "1")

				detail := "Rate limit exceeded. Please retry after some time."
				if err := writeProblem(w, r, http.StatusTooManyRequests, detail); err != nil {
					logger.Error("failed to write rate limit response",
						slog.String("correlation_id", GetCorrelationID(r.Context())),
						slog.String("path", r.URL.Path),
						slog.Any("error", err),
					)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type rateLimitSettings struct {
	trustForwardedFor bool
}

// RateLimitOption adjusts RateLimit.
type RateLimitOption func(*rateLimitSettings)

// TrustForwardedFor keys clients by X-Forwarded-For.
func TrustForwardedFor(trust bool) RateLimitOption {
	return func(s *rateLimitSettings) {
		s.trustForwardedFor = trust
	}
}
