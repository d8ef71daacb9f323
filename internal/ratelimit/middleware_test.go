package ratelimit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/common"
	"github.com/noah-isme/backend-klinik/internal/ratelimit"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("store down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newWindow(t *testing.T, rate string) ratelimit.Window {
	t.Helper()
	store, err := ratelimit.NewStore(nil, "test")
	require.NoError(t, err)
	w, err := ratelimit.New(store, rate)
	require.NoError(t, err)
	return w
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	handler := ratelimit.Handler{
		Limiter: newWindow(t, "1-M"),
		Key:     func(*http.Request) string { return "static" },
	}
	counted := handler.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr1 := httptest.NewRecorder()
	counted.ServeHTTP(rr1, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	counted.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.Equal(t, "1", rr2.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rr2.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, rr2.Header().Get("Retry-After"))
	require.Contains(t, rr2.Body.String(), "RATE_LIMITED")
}

func TestHandlerMiddlewareSeparatesActors(t *testing.T) {
	handler := ratelimit.Handler{Limiter: newWindow(t, "1-M")}
	counted := handler.Middleware(okHandler())

	for _, actor := range []string{"frontdesk-1", "frontdesk-2"} {
		req := httptest.NewRequest(http.MethodPost, "/patients", nil)
		req = req.WithContext(common.WithActorID(req.Context(), actor))
		rr := httptest.NewRecorder()
		counted.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, actor)
	}
}

func TestByActorOrIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.4:1234"
	require.Equal(t, "ip:192.0.2.4", ratelimit.ByActorOrIP(req))

	req = req.WithContext(common.WithActorID(req.Context(), "op-9"))
	require.Equal(t, "actor:op-9", ratelimit.ByActorOrIP(req))
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	called := false
	handler := ratelimit.Handler{
		Limiter: failingLimiter{},
		OnError: func(error) { called = true },
	}
	rr := httptest.NewRecorder()
	handler.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}

func TestNewRejectsBadRate(t *testing.T) {
	store, err := ratelimit.NewStore(nil, "")
	require.NoError(t, err)
	_, err = ratelimit.New(store, "lots")
	require.Error(t, err)
}
