package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

func TestNew(t *testing.T) {
	t.Run("creates a console logger", func(t *testing.T) {
		logger, err := New(DefaultConfig())
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("creates a json logger", func(t *testing.T) {
		logger, err := New(ProductionConfig())
		require.NoError(t, err)
		require.NotNil(t, logger)
	})
}

func TestNewForEnvironment(t *testing.T) {
	for _, env := range []string{"development", "production", "testing"} {
		logger, err := NewForEnvironment(env)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("info"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("WARNING"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("unknown"))
}

func TestContextHelpers(t *testing.T) {
	base := zap.NewNop()

	t.Run("logger round-trips through context", func(t *testing.T) {
		ctx := WithContext(context.Background(), base)
		assert.Equal(t, base, FromContext(ctx))
	})

	t.Run("missing logger yields a no-op", func(t *testing.T) {
		assert.NotNil(t, FromContext(context.Background()))
	})

	t.Run("request id round-trips", func(t *testing.T) {
		ctx, enriched := WithRequestID(context.Background(), base, "req-123")
		assert.NotNil(t, enriched)
		assert.Equal(t, "req-123", GetRequestID(ctx))
	})

	t.Run("user id round-trips", func(t *testing.T) {
		ctx, _ := WithUserID(context.Background(), base, "user-9")
		assert.Equal(t, "user-9", GetUserID(ctx))
	})

	t.Run("absent values are empty", func(t *testing.T) {
		assert.Empty(t, GetRequestID(context.Background()))
		assert.Empty(t, GetUserID(context.Background()))
	})
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("stores a request-scoped logger", func(t *testing.T) {
		router := gin.New()
		router.Use(GinMiddleware(zap.NewNop()))
		router.GET("/ping", func(c *gin.Context) {
			assert.NotNil(t, GetGinLogger(c))
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("recovery converts panics to 500", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery(zap.NewNop()))
		router.GET("/boom", func(c *gin.Context) {
			panic("boom")
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/boom", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("logger fallback outside middleware", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		assert.NotNil(t, GetGinLogger(c))
	})
}

func TestMapGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, MapGormLogLevel("silent"))
	assert.Equal(t, gormlogger.Error, MapGormLogLevel("error"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel("warn"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("info"))
	assert.Equal(t, gormlogger.Info, MapGormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, MapGormLogLevel(""))
}
