package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

func serve(r http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	calls := 0
	r := gin.New()
	r.Use(Cache(cache.New(time.Minute, time.Minute), time.Minute))
	r.GET("/ok", func(c *gin.Context) {
		calls++
		c.Header("X-Origin", "handler")
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})
	r.GET("/missing", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusNotFound, gin.H{"error": "nope"})
	})
	r.POST("/ok", func(c *gin.Context) {
		calls++
		c.Status(http.StatusNoContent)
	})

	t.Run("Hit replays headers and body", func(t *testing.T) {
		calls = 0
		first := serve(r, http.MethodGet, "/ok", nil)
		second := serve(r, http.MethodGet, "/ok", nil)

		assert.Equal(t, "MISS", first.Header().Get(CacheStatusHeader))
		assert.Equal(t, "HIT", second.Header().Get(CacheStatusHeader))
		assert.Equal(t, "handler", second.Header().Get("X-Origin"))
		assert.Contains(t, second.Header().Get("Content-Type"), "application/json")
		assert.JSONEq(t, `{"calls":1}`, second.Body.String())
		assert.Equal(t, 1, calls)
	})

	t.Run("no-cache refreshes the entry", func(t *testing.T) {
		calls = 0
		serve(r, http.MethodGet, "/ok?fresh", nil)
		w := serve(r, http.MethodGet, "/ok?fresh", http.Header{"Cache-Control": {"no-cache"}})
		after := serve(r, http.MethodGet, "/ok?fresh", nil)

		assert.Equal(t, "MISS", w.Header().Get(CacheStatusHeader))
		assert.JSONEq(t, `{"calls":2}`, after.Body.String())
		assert.Equal(t, 2, calls)
	})

	t.Run("Errors are not cached", func(t *testing.T) {
		calls = 0
		serve(r, http.MethodGet, "/missing", nil)
		w := serve(r, http.MethodGet, "/missing", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, 2, calls)
	})

	t.Run("Other methods pass through", func(t *testing.T) {
		calls = 0
		serve(r, http.MethodPost, "/ok", nil)
		serve(r, http.MethodPost, "/ok", nil)

		assert.Equal(t, 2, calls)
	})
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(0.25), 2, zap.NewNop()))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", nil).Code)
	w := serve(r, http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "4", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
}

func TestIPRateLimiter_PerIP(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 1)

	assert.Same(t, l.GetLimiter("10.0.0.1"), l.GetLimiter("10.0.0.1"))
	assert.NotSame(t, l.GetLimiter("10.0.0.1"), l.GetLimiter("10.0.0.2"))
}

func TestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/fail", func(c *gin.Context) {
		_ = c.Error(assert.AnError)
		c.Status(http.StatusInternalServerError)
	})

	serve(r, http.MethodGet, "/ok", nil)
	serve(r, http.MethodGet, "/fail", nil)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "/ok", entries[0].ContextMap()["path"])
	assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
