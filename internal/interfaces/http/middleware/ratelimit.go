package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/casevault/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// RateLimiter is a fixed-window in-memory request limiter keyed by client.
// This protects the enforcement API itself from abusive callers; it is
// unrelated to quota accounting, which lives in the ledger.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   int
	window  time.Duration

	stopChan  chan struct{}
	closeOnce sync.Once
}

type client struct {
	count     int
	windowEnd time.Time
}

// NewRateLimiter creates a new rate limiter allowing limit requests per window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients:  make(map[string]*client),
		limit:    limit,
		window:   window,
		stopChan: make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from the given key may proceed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, ok := rl.clients[key]
	if !ok || now.After(c.windowEnd) {
		rl.clients[key] = &client{count: 1, windowEnd: now.Add(rl.window)}
		return true
	}
	if c.count >= rl.limit {
		return false
	}
	c.count++
	return true
}

// Close stops the cleanup goroutine
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stopChan) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, c := range rl.clients {
				if now.After(c.windowEnd) {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimit returns a middleware enforcing the limiter per client IP
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponse(
				dto.ErrCodeRateLimited,
				"Too many requests, slow down",
			))
			return
		}
		c.Next()
	}
}
