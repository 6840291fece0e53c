package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterConfig tunes per-IP rate limiting. RPS is the steady-state
// requests per second, Burst the maximum burst size. Entries idle longer than
// Staleness are evicted every CleanupInterval.
type RateLimiterConfig struct {
	RPS             int
	Burst           int
	CleanupInterval time.Duration // default 5m
	Staleness       time.Duration // default 10m
}

// RateLimiter enforces per-IP token-bucket rate limiting on the management
// API. Call Stop on shutdown to release the eviction loop.
type RateLimiter struct {
	cfg    RateLimiterConfig
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*ipLimiter

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a RateLimiter and starts its eviction loop.
func NewRateLimiter(cfg RateLimiterConfig, logger *zap.Logger) *RateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = 10 * time.Minute
	}

	rl := &RateLimiter{
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*ipLimiter),
		stop:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Middleware returns the Gin middleware enforcing the limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		rl.mu.Lock()
		l, ok := rl.limiters[ip]
		if !ok {
			l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RPS), rl.cfg.Burst)}
			rl.limiters[ip] = l
		}
		l.lastSeen = time.Now()
		rl.mu.Unlock()

		if !l.limiter.Allow() {
			rl.logger.Warn("rate limit exceeded", zap.String("ip", ip))
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// Stop terminates the eviction loop. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimiter) evictStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	evicted := 0
	for ip, l := range rl.limiters {
		if time.Since(l.lastSeen) > rl.cfg.Staleness {
			delete(rl.limiters, ip)
			evicted++
		}
	}
	if evicted > 0 {
		rl.logger.Debug("evicted stale rate limiters", zap.Int("count", evicted))
	}
}
