package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestLimiter(t *testing.T) {
	clock := clockwork.NewFakeClock()
	// 10 tokens/sec and burst of 5
	l := NewWithClock(10, 5, clock)

	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Errorf("request %d should be allowed (within burst)", i+1)
		}
	}

	if l.Allow() {
		t.Error("6th request should be denied")
	}

	clock.Advance(200 * time.Millisecond)

	// 2 tokens regenerated at 10/sec
	if !l.Allow() || !l.Allow() {
		t.Error("requests after refill should be allowed")
	}
	if l.Allow() {
		t.Error("request beyond refill should be denied")
	}
}

func TestLimiterAllowN(t *testing.T) {
	l := NewWithClock(1, 10, clockwork.NewFakeClock())

	if !l.AllowN(7) {
		t.Error("AllowN(7) should be allowed")
	}
	if l.AllowN(4) {
		t.Error("AllowN(4) should be denied with 3 tokens left")
	}
	if got := l.Tokens(); got != 3 {
		t.Errorf("Tokens() = %v, want 3", got)
	}
}

func TestLimiterCapsAtBurst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewWithClock(100, 3, clock)

	clock.Advance(time.Hour)

	if got := l.Tokens(); got != 3 {
		t.Errorf("Tokens() = %v, want burst 3", got)
	}
	if !l.Full() {
		t.Error("Full() = false, want true")
	}
}

func TestLimiterReset(t *testing.T) {
	l := NewWithClock(1, 2, clockwork.NewFakeClock())
	l.Allow()
	l.Allow()

	l.Reset()

	if got := l.Tokens(); got != 2 {
		t.Errorf("Tokens() after Reset = %v, want 2", got)
	}
}

func TestKeyedLimiter(t *testing.T) {
	clock := clockwork.NewFakeClock()
	k := NewKeyed(1, 2, clock)

	tests := []struct {
		key  string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.0.0.1", true},
		{"10.0.0.1", false},
		{"10.0.0.2", true},
		{"10.0.0.2", true},
		{"10.0.0.2", false},
	}

	for i, tt := range tests {
		if got := k.Allow(tt.key); got != tt.want {
			t.Errorf("step %d: Allow(%s) = %v, want %v", i, tt.key, got, tt.want)
		}
	}

	if got := k.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestKeyedLimiterSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	k := NewKeyed(1, 2, clock)

	k.Allow("a")
	k.Allow("b")
	k.Allow("b")

	clock.Advance(time.Second)

	// a refilled to 2, b is at 1.
	if got := k.Sweep(); got != 1 {
		t.Errorf("Sweep() = %d, want 1", got)
	}
	if got := k.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	clock.Advance(time.Second)
	if got := k.Sweep(); got != 1 {
		t.Errorf("second Sweep() = %d, want 1", got)
	}
}

func TestKeyedLimiterConcurrent(t *testing.T) {
	k := NewKeyed(0.001, 50, clockwork.NewFakeClock())

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if k.Allow("viewer") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}
