// Package rate provides a keyed fixed-window request limiter. Each key
// maps to a counter that resets once its window elapses; the first hit
// in a fresh window is always admitted. Backends are pluggable so
// single-instance deployments can run on the in-process map while
// multi-instance deployments share limits through Redis.
package rate

import (
	"context"
	"time"
)

type Limiter interface {
	// Allow records a hit for key and reports whether it is admitted.
	// When denied, retryAfter is the time left in the current window.
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}
