package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a process-local Limiter. Increment-and-compare runs
// under one mutex so two concurrent requests can never both slip past
// the limit. It does not coordinate across instances.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*entry
}

type entry struct {
	count int
	reset time.Time
}

func NewMemory(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		entries: map[string]*entry{},
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || now.After(e.reset) {
		// A sweep racing this read looks identical to an absent key:
		// the caller starts a fresh window either way.
		l.entries[key] = &entry{count: 1, reset: now.Add(l.window)}
		return true, 0, nil
	}

	if e.count >= l.limit {
		retryAfter := e.reset.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	e.count++
	return true, 0, nil
}

// Sweep deletes entries whose window has already expired.
func (l *MemoryLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		if now.After(e.reset) {
			delete(l.entries, key)
			removed++
		}
	}

	return removed
}

// Run sweeps on a ticker until ctx is cancelled, bounding memory held
// by keys that were never seen again.
func (l *MemoryLimiter) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = l.window
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}
