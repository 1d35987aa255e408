package rate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLimiter struct {
	allowed    bool
	retryAfter time.Duration
	err        error
	lastKey    string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ time.Time) (bool, time.Duration, error) {
	s.lastKey = key
	return s.allowed, s.retryAfter, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllows(t *testing.T) {
	limiter := &stubLimiter{allowed: true}
	handler := Middleware(limiter, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareDenies(t *testing.T) {
	limiter := &stubLimiter{allowed: false, retryAfter: 42 * time.Second}
	handler := Middleware(limiter, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
}

func TestMiddlewareKeysByForwardedFor(t *testing.T) {
	limiter := &stubLimiter{allowed: true}
	handler := Middleware(limiter, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "203.0.113.7", limiter.lastKey)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: context.DeadlineExceeded}
	handler := Middleware(limiter, okHandler())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Backend trouble must not take logins down with it.
	assert.Equal(t, http.StatusOK, rec.Code)
}
