package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterDeniesOverLimit(t *testing.T) {
	limiter := NewMemory(3, time.Second)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(context.Background(), "1.2.3.4", now)
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should be admitted", i+1)
	}

	allowed, retryAfter, err := limiter.Allow(context.Background(), "1.2.3.4", now)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Second)
}

func TestMemoryLimiterWindowReset(t *testing.T) {
	limiter := NewMemory(3, time.Second)
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		limiter.Allow(context.Background(), "1.2.3.4", now)
	}

	// Once the window elapses the key starts over at count 1.
	later := now.Add(1100 * time.Millisecond)
	allowed, _, err := limiter.Allow(context.Background(), "1.2.3.4", later)
	require.NoError(t, err)
	assert.True(t, allowed)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Equal(t, 1, limiter.entries["1.2.3.4"].count)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewMemory(1, time.Second)
	now := time.Now().UTC()

	allowed, _, _ := limiter.Allow(context.Background(), "1.2.3.4", now)
	assert.True(t, allowed)

	allowed, _, _ = limiter.Allow(context.Background(), "1.2.3.4", now)
	assert.False(t, allowed)

	allowed, _, _ = limiter.Allow(context.Background(), "5.6.7.8", now)
	assert.True(t, allowed)
}

func TestMemoryLimiterSweep(t *testing.T) {
	limiter := NewMemory(3, time.Second)
	now := time.Now().UTC()

	limiter.Allow(context.Background(), "stale", now)
	limiter.Allow(context.Background(), "fresh", now.Add(900*time.Millisecond))

	removed := limiter.Sweep(now.Add(1500 * time.Millisecond))
	assert.Equal(t, 1, removed)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.entries, "stale")
	assert.Contains(t, limiter.entries, "fresh")
}

func TestMemoryLimiterConcurrentAdmission(t *testing.T) {
	limiter := NewMemory(10, time.Second)
	now := time.Now().UTC()

	results := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		go func() {
			allowed, _, _ := limiter.Allow(context.Background(), "shared", now)
			results <- allowed
		}()
	}

	admitted := 0
	for i := 0; i < 50; i++ {
		if <-results {
			admitted++
		}
	}

	// Increment-and-compare holds the lock, so exactly the limit gets
	// through regardless of interleaving.
	assert.Equal(t, 10, admitted)
}
