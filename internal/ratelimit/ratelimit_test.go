package ratelimit_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/musubi/internal/model"
	"github.com/ashita-ai/musubi/internal/ratelimit"
)

// stubLimiter returns a fixed decision, or an error, for every request.
type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (s *stubLimiter) Allow(context.Context, string) (bool, error) {
	s.calls++
	return s.allow, s.err
}

func (s *stubLimiter) Close() error { return nil }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllowsWithinLimit(t *testing.T) {
	limiter := &stubLimiter{allow: true}
	h := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/shifts", nil)
	req.RemoteAddr = "10.0.0.1:55555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, limiter.calls)
}

func TestMiddlewareDeniesWithEnvelope(t *testing.T) {
	limiter := &stubLimiter{allow: false}
	reqID := func(*http.Request) string { return "req-123" }
	h := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, reqID)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/shifts", nil)
	req.RemoteAddr = "10.0.0.1:55555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-123", body.Meta.RequestID)
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	h := ratelimit.Middleware(nil, ratelimit.IPKeyFunc, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/shifts", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareEmptyKeySkipsLimiting(t *testing.T) {
	limiter := &stubLimiter{allow: false}
	skipAll := func(*http.Request) string { return "" }
	h := ratelimit.Middleware(limiter, skipAll, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/shifts", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, limiter.calls, "limiter must not be consulted for skipped keys")
}

func TestMiddlewareFailsOpenOnLimiterError(t *testing.T) {
	limiter := &stubLimiter{allow: false, err: errors.New("limiter broken")}
	h := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/shifts", nil)
	req.RemoteAddr = "10.0.0.1:55555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "limiter malfunction must not block traffic")
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:44321"
	assert.Equal(t, "192.0.2.7", ratelimit.IPKeyFunc(req))

	req.RemoteAddr = "bare-host"
	assert.Equal(t, "bare-host", ratelimit.IPKeyFunc(req))
}
