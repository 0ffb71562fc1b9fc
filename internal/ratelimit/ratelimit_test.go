package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestLimiterRateCompliance tests that no sliding one-second window sees more
// than R*(1+eps) emissions.
func TestLimiterRateCompliance(t *testing.T) {
	t.Parallel()

	const (
		pps      = 40
		workers  = 8
		duration = 1500 * time.Millisecond
		eps      = 0.1
	)

	l := New(pps)
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := l.Wait(ctx); err != nil {
					return
				}
				mu.Lock()
				times = append(times, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	limit := int(float64(pps) * (1 + eps))
	for i := range times {
		count := 0
		for j := range times {
			d := times[j].Sub(times[i])
			if d >= 0 && d < time.Second {
				count++
			}
		}
		if count > limit {
			t.Fatalf("window starting at emission %d saw %d emissions, limit %d", i, count, limit)
		}
	}
	if uint64(len(times)) != l.Emitted() {
		t.Errorf("expected Emitted %d, got %d", len(times), l.Emitted())
	}
}

// TestLimiterUnlimited tests that a zero rate never blocks.
func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(0)
	if l.Rate() != 0 {
		t.Errorf("expected rate 0, got %d", l.Rate())
	}

	start := time.Now()
	for range 10000 {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if time.Since(start) > time.Second {
		t.Error("unlimited limiter blocked")
	}
}

// TestLimiterCancelled tests that Wait honors context cancellation.
func TestLimiterCancelled(t *testing.T) {
	t.Parallel()

	l := New(1)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if l.Emitted() != 1 {
		t.Errorf("expected 1 emission, got %d", l.Emitted())
	}
}
