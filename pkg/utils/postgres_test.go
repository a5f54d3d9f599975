package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolDefaults(t *testing.T) {
	cfg := PostgresPoolConfig{}.withDefaults()

	if cfg.MaxOpenConns != 20 || cfg.MaxIdleConns != 10 {
		t.Fatalf("conns = %d/%d, want 20/10", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != 30*time.Minute || cfg.ConnMaxIdleTime != 5*time.Minute {
		t.Fatalf("lifetimes = %v/%v", cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime)
	}
	if cfg.PingTimeout != 5*time.Second {
		t.Fatalf("PingTimeout = %v", cfg.PingTimeout)
	}
}

func TestPostgresPoolDefaults_ExplicitValuesKept(t *testing.T) {
	cfg := PostgresPoolConfig{MaxOpenConns: 4, MaxIdleConns: 2}.withDefaults()

	if cfg.MaxOpenConns != 4 || cfg.MaxIdleConns != 2 {
		t.Fatalf("conns = %d/%d, want the configured 4/2", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
}
