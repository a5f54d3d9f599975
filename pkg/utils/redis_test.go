package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisConfigDefaults(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379"}.withDefaults()

	if cfg.PoolSize != 32 {
		t.Fatalf("PoolSize = %d, want 32", cfg.PoolSize)
	}
	if cfg.DialTimeout != 3*time.Second || cfg.ReadTimeout != 2*time.Second {
		t.Fatalf("timeouts = %v/%v", cfg.DialTimeout, cfg.ReadTimeout)
	}
	if cfg.ConnMaxLifetime != 30*time.Minute || cfg.ConnMaxIdleTime != 5*time.Minute {
		t.Fatalf("conn lifetimes = %v/%v", cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime)
	}
}

func TestRedisConfigDefaults_ExplicitValuesKept(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379", PoolSize: 8, PingTimeout: time.Second}.withDefaults()

	if cfg.PoolSize != 8 {
		t.Fatalf("PoolSize = %d, want the configured 8", cfg.PoolSize)
	}
	if cfg.PingTimeout != time.Second {
		t.Fatalf("PingTimeout = %v, want the configured 1s", cfg.PingTimeout)
	}
}

func TestAcquireConcurrencyCap_ValidatesArguments(t *testing.T) {
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})

	if _, err := AcquireConcurrencyCap(ctx, nil, "k", 1, time.Minute); err == nil {
		t.Fatalf("nil client must error")
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "", 1, time.Minute); err == nil {
		t.Fatalf("empty key must error")
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "k", 0, time.Minute); err == nil {
		t.Fatalf("zero limit must error")
	}
	if _, err := AcquireConcurrencyCap(ctx, rdb, "k", 1, 0); err == nil {
		t.Fatalf("zero ttl must error")
	}
}

func TestReleaseConcurrencyCap_ValidatesArguments(t *testing.T) {
	ctx := context.Background()

	if err := ReleaseConcurrencyCap(ctx, nil, "k"); err == nil {
		t.Fatalf("nil client must error")
	}
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	if err := ReleaseConcurrencyCap(ctx, rdb, ""); err == nil {
		t.Fatalf("empty key must error")
	}
}
