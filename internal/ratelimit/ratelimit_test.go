package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(perMinute, burst int) *Limiter {
	return New(Config{
		RequestsPerMinute: perMinute,
		BurstSize:         burst,
		CleanupInterval:   time.Minute,
	})
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	limiter := newTestLimiter(60, 5)
	defer limiter.Stop()

	const token = "Bearer adm-console-secret"
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(token), "request %d is inside the burst", i)
	}
	assert.False(t, limiter.Allow(token), "burst exhausted")

	// 60/min replenishes one token per second.
	time.Sleep(time.Second)
	assert.True(t, limiter.Allow(token))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := newTestLimiter(60, 3)
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("console-a")
	}
	assert.False(t, limiter.Allow("console-a"), "console-a spent its burst")
	assert.True(t, limiter.Allow("console-b"), "console-b has its own bucket")
}

func TestLimiter_Replenishment(t *testing.T) {
	limiter := newTestLimiter(600, 1) // 10 tokens per second
	defer limiter.Stop()

	assert.True(t, limiter.Allow("k"))
	assert.False(t, limiter.Allow("k"))

	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow("k"), "one token back after ~100ms at 10/s")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 10, cfg.BurstSize)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
}
