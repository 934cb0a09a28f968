package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConnectRedisNotConfigured(t *testing.T) {
	t.Setenv("REDIS_ADDRESS", "")
	if err := ConnectRedis(context.Background(), 3); !errors.Is(err, ErrRedisNotConfigured) {
		t.Fatalf("expected ErrRedisNotConfigured, got %v", err)
	}
	if GetRedisDB() != nil || GetRedisLock() != nil {
		t.Fatalf("no client should be set")
	}
}

func TestConnectRedisGivesUp(t *testing.T) {
	// Nothing listens on port 1.
	t.Setenv("REDIS_ADDRESS", "127.0.0.1:1")

	start := time.Now()
	if err := ConnectRedis(context.Background(), 1); err == nil {
		t.Fatalf("expected an error for an unreachable redis")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("single attempt took %s", time.Since(start))
	}
	if GetRedisDB() != nil {
		t.Fatalf("client must stay unset after a failed connect")
	}
	if v, ok, err := GetRedisValue(context.Background(), "Token:abc"); v != "" || ok || err != nil {
		t.Fatalf("GetRedisValue without redis = %q %v %v", v, ok, err)
	}
}

func TestConnectRedisStopsOnContext(t *testing.T) {
	t.Setenv("REDIS_ADDRESS", "127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := ConnectRedis(ctx, 10)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("connect ignored the context deadline (%s)", time.Since(start))
	}
}

func TestRedisConnectAttempts(t *testing.T) {
	t.Setenv("REDIS_CONNECT_ATTEMPTS", "")
	if n := RedisConnectAttempts(); n != 5 {
		t.Fatalf("default attempts = %d", n)
	}
	t.Setenv("REDIS_CONNECT_ATTEMPTS", "2")
	if n := RedisConnectAttempts(); n != 2 {
		t.Fatalf("attempts = %d", n)
	}
}
