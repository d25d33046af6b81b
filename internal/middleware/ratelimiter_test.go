package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinBurstSucceeds(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 10, BurstSize: 10})

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("client-a"))
	}
}

func TestAllowBeyondBurstRejects(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 5, BurstSize: 5})

	for i := 0; i < 5; i++ {
		require.True(t, rl.Allow("client-b"))
	}
	assert.False(t, rl.Allow("client-b"))
}

func TestAllowTracksKeysIndependently(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 1, BurstSize: 1})

	require.True(t, rl.Allow("client-c"))
	assert.False(t, rl.Allow("client-c"))
	assert.True(t, rl.Allow("client-d"))
}

func TestMiddlewareRejectsWithTooManyRequests(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 1, BurstSize: 1})
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.RemoteAddr = "10.0.0.5:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
	assert.Equal(t, "60", rec2.Header().Get("Retry-After"))
}

func TestStatsReportsConfiguredLimits(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 30, BurstSize: 45})
	rl.Allow("client-e")

	stats := rl.Stats()
	assert.Equal(t, 30, stats["max_calls_per_min"])
	assert.Equal(t, 45, stats["burst_size"])
	assert.Equal(t, 1, stats["active_windows"])
}
