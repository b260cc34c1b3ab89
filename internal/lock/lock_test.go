package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go_forum/internal/config"
)

func TestLocalTryLock(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	release, err := l.TryLock(ctx, "immediate", time.Minute)
	if err != nil {
		t.Fatalf("first lock failed: %v", err)
	}

	if _, err := l.TryLock(ctx, "immediate", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	other, err := l.TryLock(ctx, "digest", time.Minute)
	if err != nil {
		t.Fatalf("different name should not block: %v", err)
	}
	other()

	release()
	release()

	again, err := l.TryLock(ctx, "immediate", time.Minute)
	if err != nil {
		t.Fatalf("lock after release failed: %v", err)
	}
	again()
}

func TestRedisTryLock(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	r, err := NewRedis(ctx, config.RedisConfig{Addr: addr})
	if err != nil {
		t.Fatalf("NewRedis failed: %v", err)
	}
	defer r.Close()

	name := "test-" + time.Now().Format("150405.000000")
	release, err := r.TryLock(ctx, name, time.Minute)
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	if _, err := r.TryLock(ctx, name, time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	release()

	release2, err := r.TryLock(ctx, name, time.Minute)
	if err != nil {
		t.Fatalf("TryLock after release failed: %v", err)
	}
	release2()
}
