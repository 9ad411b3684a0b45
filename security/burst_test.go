package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBurstLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter := CreateBurstLimiter(10, 5)
	defer limiter.Close()
	limiter.now = func() time.Time { return now }

	t.Run("burst then block", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			assert.True(t, limiter.Allow("10.0.0.1"), "request %d", i+1)
		}
		assert.False(t, limiter.Allow("10.0.0.1"))
		assert.Equal(t, 100*time.Millisecond, limiter.RetryAfter("10.0.0.1"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		assert.True(t, limiter.Allow("10.0.0.2"))
	})

	t.Run("refill", func(t *testing.T) {
		now = now.Add(200 * time.Millisecond)
		assert.True(t, limiter.Allow("10.0.0.1"))
		assert.True(t, limiter.Allow("10.0.0.1"))
		assert.False(t, limiter.Allow("10.0.0.1"))
	})
}

func TestBurstLimiter_EvictIdle(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter := CreateBurstLimiter(0, 0)
	defer limiter.Close()
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(4 * time.Minute)
	limiter.Allow("b")
	assert.Equal(t, 2, limiter.Len())

	now = now.Add(2 * time.Minute)
	limiter.evictIdle()
	assert.Equal(t, 1, limiter.Len())
	assert.Zero(t, limiter.RetryAfter("a"))
}
