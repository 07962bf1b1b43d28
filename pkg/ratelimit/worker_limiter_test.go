package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNewLocal_Unlimited(t *testing.T) {
	l := NewLocal(Config{})
	if _, ok := l.(Unlimited); !ok {
		t.Fatalf("NewLocal(zero) = %T, want Unlimited", l)
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestNewLocal_Paces(t *testing.T) {
	l := NewLocal(Config{RequestsPerSecond: 50, BurstSize: 1})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("3 waits at 50/s took %v, want >= 30ms", elapsed)
	}
}

func TestWait_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := (Unlimited{}).Wait(ctx); err == nil {
		t.Error("Unlimited.Wait() on cancelled ctx = nil, want error")
	}

	l := NewSlidingWindowLimiter(nil, "test", Config{RequestsPerSecond: 1, BurstSize: 1})
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("fallback Wait() error = %v", err)
	}
}
