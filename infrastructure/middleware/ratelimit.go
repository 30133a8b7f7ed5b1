package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/multiacct/sessionhost/infrastructure/errors"
	"github.com/multiacct/sessionhost/infrastructure/httputil"
	"github.com/multiacct/sessionhost/infrastructure/logging"
)

// RateLimiter rate-limits IPC channel requests, keyed per channel so that
// one noisy channel cannot starve another.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	limit    int
	window   time.Duration
	logger   *logging.Logger
}

// NewRateLimiterWithWindow creates a rate limiter configured by a fixed
// window and request budget, e.g. 50 requests per 1 second.
func NewRateLimiterWithWindow(limit int, window time.Duration, burst int, logger *logging.Logger) *RateLimiter {
	if window <= 0 {
		window = time.Second
	}
	requestsPerSecond := float64(limit) / window.Seconds()
	if requestsPerSecond < 0 {
		requestsPerSecond = 0
	}

	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		limit:    limit,
		window:   window,
		logger:   logger,
	}
}

// LimiterCount returns the number of active per-channel limiters.
func (rl *RateLimiter) LimiterCount() int {
	if rl == nil {
		return 0
	}
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// channelKey extracts the IPC channel name for a request, preferring an
// X-IPC-Channel request header over the raw URL path.
func channelKey(r *http.Request) string {
	if route := r.Header.Get("X-IPC-Channel"); route != "" {
		return route
	}
	return r.URL.Path
}

// Handler returns the rate-limiting middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := channelKey(r)
		limiter := rl.getLimiter(key)

		if !limiter.Allow() {
			if rl.logger != nil {
				rl.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"channel": key,
					"path":    r.URL.Path,
					"method":  r.Method,
				}).Warn("ipc rate limit exceeded")
			}

			window := rl.window
			if window <= 0 {
				window = time.Second
			}
			hostErr := errors.New(errors.Category("RateLimitExceeded"), "too many requests on this channel", http.StatusTooManyRequests).
				WithDetails("limit", rl.limit).
				WithDetails("window", window.String())
			if seconds := int(math.Ceil(window.Seconds())); seconds > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
			httputil.WriteHostError(w, r, hostErr)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops all per-channel limiters once the channel set has grown
// unreasonably large; channel names are a small fixed set in practice, so
// this is a safety valve rather than a steady-state path.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) > 1000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}
