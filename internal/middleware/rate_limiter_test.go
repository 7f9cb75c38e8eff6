package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskrouter/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg *RateLimiterConfig) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiterBurstAndRefill(t *testing.T) {
	rl, now := newTestLimiter(t, &RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 2})

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))

	// 其他键不受影响
	assert.True(t, rl.Allow("u2"))

	*now = now.Add(time.Second)
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))

	stats := rl.Stats()
	assert.Equal(t, 2, stats.ActiveClients)
	assert.Equal(t, int64(2), stats.Rejected)
}

func TestRateLimiterMinuteWindow(t *testing.T) {
	rl, now := newTestLimiter(t, &RateLimiterConfig{RequestsPerSecond: 100, RequestsPerMinute: 3, BurstSize: 100})

	for i := 0; i < 3; i++ {
		require.True(t, rl.Allow("u1"), "request %d", i)
	}
	assert.False(t, rl.Allow("u1"))

	*now = now.Add(time.Minute)
	assert.True(t, rl.Allow("u1"))
}

func TestRateLimiterEvictIdle(t *testing.T) {
	rl, now := newTestLimiter(t, &RateLimiterConfig{IdleTTL: time.Minute})
	rl.Allow("u1")

	*now = now.Add(2 * time.Minute)
	rl.evictIdle()
	assert.Equal(t, 0, rl.Stats().ActiveClients)

	rl.Stop()
	rl.Stop()
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, _ := newTestLimiter(t, &RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 1})

	r := gin.New()
	r.POST("/run", RateLimitMiddleware(rl), func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/run", nil)
		if user != "" {
			req.Header.Set(HeaderUserID, user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	before := testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("/run"))
	assert.Equal(t, http.StatusOK, do("alice").Code)
	w := do("alice")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"code":1004`)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("/run")))

	assert.Equal(t, http.StatusOK, do("bob").Code)
	assert.Equal(t, http.StatusOK, do("").Code)
	assert.Equal(t, http.StatusTooManyRequests, do("").Code)
}
