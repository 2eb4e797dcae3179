// Package ratelimit provides rate limiting for session admission.
// It keeps a single viewer address from flooding the host with connects.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Limiter implements a token bucket rate limiter.
type Limiter struct {
	rate       float64   // Tokens per second
	burst      int       // Maximum burst size
	tokens     float64   // Current tokens
	lastUpdate time.Time // Last update time
	clock      clockwork.Clock
	mu         sync.Mutex
}

// New creates a new rate limiter.
// rate is tokens per second, burst is maximum burst size.
func New(rate float64, burst int) *Limiter {
	return NewWithClock(rate, burst, clockwork.NewRealClock())
}

// NewWithClock creates a limiter driven by clock.
func NewWithClock(rate float64, burst int, clock clockwork.Clock) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: clock.Now(),
		clock:      clock,
	}
}

// Allow returns true if the action is allowed under the rate limit.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN returns true if n tokens can be consumed.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}

	return false
}

// Tokens returns the current number of available tokens.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	return l.tokens
}

// Full reports whether the bucket is back at burst capacity.
func (l *Limiter) Full() bool {
	return l.Tokens() >= float64(l.burst)
}

// Reset resets the limiter to full capacity.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = float64(l.burst)
	l.lastUpdate = l.clock.Now()
}

func (l *Limiter) refill() {
	now := l.clock.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

// KeyedLimiter keeps one Limiter per key, typically a remote address.
// Buckets that have refilled completely are evicted on Sweep.
type KeyedLimiter struct {
	rate     float64
	burst    int
	clock    clockwork.Clock
	limiters map[string]*Limiter
	mu       sync.Mutex
}

// NewKeyed creates a per-key limiter.
func NewKeyed(rate float64, burst int, clock clockwork.Clock) *KeyedLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &KeyedLimiter{
		rate:     rate,
		burst:    burst,
		clock:    clock,
		limiters: make(map[string]*Limiter),
	}
}

// Allow consumes one token from key's bucket.
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = NewWithClock(k.rate, k.burst, k.clock)
		k.limiters[key] = l
	}
	k.mu.Unlock()

	return l.Allow()
}

// Sweep drops buckets that are full again and returns how many were dropped.
func (k *KeyedLimiter) Sweep() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	dropped := 0
	for key, l := range k.limiters {
		if l.Full() {
			delete(k.limiters, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}
