package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestRateLimiter_burstThenRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(RateLimiterConfig{RPS: 1, Burst: 2}, zap.NewNop())
	defer rl.Stop()

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.9:4444"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := do(); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}

	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}

func TestRateLimiter_perIPBuckets(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(RateLimiterConfig{RPS: 1, Burst: 1}, zap.NewNop())
	defer rl.Stop()

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if got := do("203.0.113.9:4444"); got != http.StatusOK {
		t.Fatalf("first IP status = %d, want 200", got)
	}
	if got := do("203.0.113.9:4444"); got != http.StatusTooManyRequests {
		t.Fatalf("first IP repeat status = %d, want 429", got)
	}
	// A different client still has a full bucket.
	if got := do("198.51.100.7:5555"); got != http.StatusOK {
		t.Fatalf("second IP status = %d, want 200", got)
	}
}

func TestRateLimiter_evictsStaleEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RPS:             1,
		Burst:           1,
		CleanupInterval: time.Hour, // evict manually below
		Staleness:       10 * time.Millisecond,
	}, zap.NewNop())
	defer rl.Stop()

	rl.mu.Lock()
	rl.limiters["203.0.113.9"] = &ipLimiter{lastSeen: time.Now().Add(-time.Minute)}
	rl.limiters["198.51.100.7"] = &ipLimiter{lastSeen: time.Now()}
	rl.mu.Unlock()

	rl.evictStale()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.limiters["203.0.113.9"]; ok {
		t.Error("stale entry not evicted")
	}
	if _, ok := rl.limiters["198.51.100.7"]; !ok {
		t.Error("fresh entry evicted")
	}
}
