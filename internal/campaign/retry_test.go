package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"voiceagent-platform/internal/provider"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Second}

	if d := p.Delay(1); d != 0 {
		t.Fatalf("first attempt waits nothing, got %v", d)
	}
	if d := p.Delay(2); d != 2*time.Second {
		t.Fatalf("attempt 2 = base delay, got %v", d)
	}
	if d := p.Delay(3); d != 4*time.Second {
		t.Fatalf("attempt 3 doubles, got %v", d)
	}
	if d := p.Delay(4); d != 5*time.Second {
		t.Fatalf("attempt 4 capped at max, got %v", d)
	}
}

func TestRetryPolicy_DelayJitterBounds(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := p.Delay(2)
		if d < 500*time.Millisecond || d > time.Second {
			t.Fatalf("jittered delay %v outside [0.5s, 1s]", d)
		}
	}
}

func TestRetryPolicy_Do_RetriesTransient(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return provider.Transientf("provider busy")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_Do_StopsOnPermanent(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	calls := 0
	wantErr := provider.Permanentf("number unreachable")
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Fatalf("permanent error must not retry, calls = %d", calls)
	}
}

func TestRetryPolicy_Do_ExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return provider.Transientf("still busy")
	})
	if err == nil {
		t.Fatalf("want last transient error after exhaustion")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_Do_CanceledContext(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return provider.Transientf("busy")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (cancel hit during backoff)", calls)
	}
}
