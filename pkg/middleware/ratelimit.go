package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-engine/pkg/response"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds per-client token bucket settings
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// EntryTTL evicts limiters of clients idle for longer than this
	EntryTTL time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	entries map[string]*limiterEntry
	now     func() time.Time
}

// NewRateLimiter creates a limiter; zero values fall back to 20 rps, burst 40
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 20
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 40
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = 5 * time.Minute
	}
	return &RateLimiter{
		config:  config,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// Allow reports whether key may proceed now
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)}
		rl.entries[key] = entry
		if len(rl.entries)%1024 == 0 {
			rl.evictLocked(now)
		}
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) evictLocked(now time.Time) {
	for k, e := range rl.entries {
		if now.Sub(e.lastSeen) > rl.config.EntryTTL {
			delete(rl.entries, k)
		}
	}
}

// Middleware limits by client IP
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			response.Abort(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		c.Next()
	}
}
