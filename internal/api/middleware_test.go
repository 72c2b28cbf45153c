package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"automation/internal/redis"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) *redis.RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)

	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}
	client, err := redis.New(context.Background(), redis.Config{Host: mr.Host(), Port: port}, zap.NewNop())
	if err != nil {
		t.Fatalf("connect to miniredis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{Limit: limit, Window: window})
}

func rateLimitedHandler(limiter *redis.RateLimiter, keyFunc func(*http.Request) string) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return RateLimitMiddleware(limiter, zap.NewNop(), keyFunc)(ok)
}

func TestRateLimitMiddleware_AllowsUnderLimit(t *testing.T) {
	limiter := newTestLimiter(t, 3, time.Minute)
	handler := rateLimitedHandler(limiter, IPKeyFunc)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(2-i) {
			t.Errorf("request %d remaining = %s", i+1, got)
		}
	}
}

func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	limiter := newTestLimiter(t, 2, time.Minute)
	handler := rateLimitedHandler(limiter, IPKeyFunc)

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q", ct)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimitMiddleware_KeysAreIndependent(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Minute)
	handler := rateLimitedHandler(limiter, IPKeyFunc)

	first := httptest.NewRequest(http.MethodGet, "/stats", nil)
	first.Header.Set("X-Forwarded-For", "10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first client: %d", rec.Code)
	}

	blocked := httptest.NewRequest(http.MethodGet, "/stats", nil)
	blocked.Header.Set("X-Forwarded-For", "10.0.0.1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, blocked)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("repeat client: %d", rec.Code)
	}

	other := httptest.NewRequest(http.MethodGet, "/stats", nil)
	other.Header.Set("X-Forwarded-For", "10.0.0.2")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("other client: %d", rec.Code)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	handler := rateLimitedHandler(nil, IPKeyFunc)

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i+1, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_EmptyKeyPassesThrough(t *testing.T) {
	limiter := newTestLimiter(t, 1, time.Minute)
	handler := rateLimitedHandler(limiter, func(*http.Request) string { return "" })

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i+1, rec.Code)
		}
	}
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := IPKeyFunc(req); got != "ip:192.0.2.1:1234" {
		t.Errorf("remote addr key = %q", got)
	}

	req.Header.Set("X-Real-IP", "203.0.113.9")
	if got := IPKeyFunc(req); got != "ip:203.0.113.9" {
		t.Errorf("real ip key = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.4")
	if got := IPKeyFunc(req); got != "ip:198.51.100.4" {
		t.Errorf("forwarded key = %q", got)
	}
}
