package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSyncRateLimiter_AcquireRelease(t *testing.T) {
	l := NewSyncRateLimiter()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	first, _, ok := l.Acquire("k", time.Minute)
	assert.True(t, ok)
	_, retryAfter, ok := l.Acquire("k", time.Minute)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)

	// 其它 key 不受影响
	_, _, ok = l.Acquire("other", time.Minute)
	assert.True(t, ok)

	// 释放后可立即重新占用
	l.Release(first)
	second, _, ok := l.Acquire("k", time.Minute)
	assert.True(t, ok)

	// 旧 slot 的释放不影响新的冷却
	l.Release(first)
	clock = clock.Add(10 * time.Second)
	_, retryAfter, ok = l.Acquire("k", time.Minute)
	assert.False(t, ok)
	assert.Equal(t, 50*time.Second, retryAfter)

	clock = clock.Add(50 * time.Second)
	third, _, ok := l.Acquire("k", time.Minute)
	assert.True(t, ok)
	l.Release(second)
	_, _, ok = l.Acquire("k", time.Minute)
	assert.False(t, ok)
	l.Release(third)
	_, _, ok = l.Acquire("k", time.Minute)
	assert.True(t, ok)
}

func TestSyncRateLimit_PerProduct(t *testing.T) {
	l := NewSyncRateLimiter()
	r := gin.New()
	r.POST("/products/:id/sync", SyncRateLimit(l, SyncTypeProduct, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, do("/products/1/sync").Code)
	w := do("/products/1/sync")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "cooling down")

	assert.Equal(t, http.StatusOK, do("/products/2/sync").Code)
	assert.Equal(t, http.StatusBadRequest, do("/products/abc/sync").Code)
}

func TestSyncRateLimit_FailedSyncReleasesCooldown(t *testing.T) {
	l := NewSyncRateLimiter()
	status := http.StatusBadGateway
	r := gin.New()
	r.POST("/products/:id/sync", SyncRateLimit(l, SyncTypeProduct, time.Minute), func(c *gin.Context) {
		c.Status(status)
	})

	do := func() int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/products/1/sync", nil))
		return w.Code
	}

	// 远端失败：不占用冷却
	assert.Equal(t, http.StatusBadGateway, do())
	assert.Equal(t, http.StatusBadGateway, do())

	status = http.StatusOK
	assert.Equal(t, http.StatusOK, do())
	assert.Equal(t, http.StatusTooManyRequests, do())
}

func TestGlobalSyncRateLimit(t *testing.T) {
	l := NewSyncRateLimiter()
	r := gin.New()
	r.POST("/bulk", GlobalSyncRateLimit(l, SyncTypeBulk, time.Minute), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bulk", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bulk", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRequestContext(t *testing.T) {
	r := gin.New()
	r.Use(RequestContext(), AccessLog(zap.NewNop()))
	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = RequestIDFrom(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestFormatRetryMessage(t *testing.T) {
	assert.Equal(t, "sync cooling down, retry in 5s", formatRetryMessage(4*time.Second+500*time.Millisecond))
	assert.Equal(t, "sync cooling down, retry in 2m", formatRetryMessage(119*time.Second+100*time.Millisecond))
	assert.Equal(t, "sync cooling down, retry in 1m30s", formatRetryMessage(89*time.Second))
}
