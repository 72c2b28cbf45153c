package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  3,
		Window: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "ip:10.0.0.1")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  2,
		Window: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := limiter.Allow(ctx, "ip:10.0.0.1"); err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
	}

	result, err := limiter.Allow(ctx, "ip:10.0.0.1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if result.Allowed {
		t.Error("expected request over the limit to be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %d", result.Remaining)
	}
	if !result.ResetAt.After(time.Now()) {
		t.Error("reset time should be in the future")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  1,
		Window: time.Minute,
	})
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, "ip:10.0.0.1"); err != nil {
		t.Fatalf("allow: %v", err)
	}

	result, err := limiter.Allow(ctx, "ip:10.0.0.2")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !result.Allowed {
		t.Error("different key should have its own budget")
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  5,
		Window: time.Minute,
	})
	ctx := context.Background()

	result, err := limiter.AllowN(ctx, "ip:10.0.0.1", 4)
	if err != nil {
		t.Fatalf("allow n: %v", err)
	}
	if !result.Allowed || result.Remaining != 1 {
		t.Errorf("result = %+v", result)
	}

	result, err = limiter.AllowN(ctx, "ip:10.0.0.1", 2)
	if err != nil {
		t.Fatalf("allow n: %v", err)
	}
	if result.Allowed {
		t.Error("expected batch over the limit to be blocked")
	}
}
