package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, time.Second},
		{60, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_JitterBounded(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Jitter: 5 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := b.Delay(1)
		if d < 10*time.Millisecond || d >= 15*time.Millisecond {
			t.Fatalf("Delay(1) = %v, want in [10ms,15ms)", d)
		}
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() = %v, want context.Canceled", err)
	}
}

func TestExecute_NonTrippingErrorsPassThrough(t *testing.T) {
	cb := NewCircuitBreaker("test")
	notFound := errors.New("not found")

	for i := 0; i < 20; i++ {
		err := Execute(cb, func() error { return notFound }, func(error) bool { return false })
		if !errors.Is(err, notFound) {
			t.Fatalf("Execute() = %v, want %v", err, notFound)
		}
	}
	if got := cb.State().String(); got != "closed" {
		t.Errorf("breaker state = %s, want closed", got)
	}
}

func TestExecute_TrippingErrorsOpenBreaker(t *testing.T) {
	cb := NewCircuitBreaker("test-trip")
	boom := errors.New("503")

	var last error
	for i := 0; i < 10; i++ {
		last = Execute(cb, func() error { return boom }, func(error) bool { return true })
	}
	if !IsOpen(last) {
		t.Errorf("last error = %v, want open breaker", last)
	}
}
