package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestRequestID_Generated(t *testing.T) {
	engine := newTestEngine()
	engine.Use(RequestID())
	engine.GET("/ping", func(c *gin.Context) {
		assert.NotEmpty(t, c.GetString(RequestIDContextKey))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID_Propagated(t *testing.T) {
	engine := newTestEngine()
	engine.Use(RequestID())
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, "caller-supplied-id", w.Header().Get("X-Request-ID"))
}

func TestCORS_AllowedOrigin(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://app.example.com"}

	engine := newTestEngine()
	engine.Use(CORSWithConfig(cfg))
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://app.example.com"}

	engine := newTestEngine()
	engine.Use(CORSWithConfig(cfg))
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://app.example.com"}

	engine := newTestEngine()
	engine.Use(CORSWithConfig(cfg))

	req := httptest.NewRequest(http.MethodOptions, "/anything", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestBodyLimit(t *testing.T) {
	engine := newTestEngine()
	engine.Use(BodyLimit(16))
	engine.POST("/echo", func(c *gin.Context) { c.Status(http.StatusOK) })

	small := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("ok"))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, small)
	assert.Equal(t, http.StatusOK, w.Code)

	big := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 64)))
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))

	// Separate clients have separate windows.
	assert.True(t, rl.Allow("5.6.7.8"))
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)
	defer rl.Close()

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("1.2.3.4"))
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Close()

	engine := newTestEngine()
	engine.Use(RateLimit(rl))
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
