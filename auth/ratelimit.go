package auth

import (
	"math"
	"sync"
	"time"
)

const (
	// Unlock attempts: five per rolling minute.
	UnlockAttemptCapacity = 5
	UnlockAttemptWindow   = time.Minute

	// Export operations: three per rolling hour.
	ExportCapacity = 3
	ExportWindow   = time.Hour
)

// RateLimiter is a token bucket with continuous refill. A full window of
// quiet restores the full capacity; a burst drains it and further calls are
// refused with a wait hint until enough has trickled back.
type RateLimiter struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time

	now func() time.Time
}

// NewRateLimiter allows capacity operations per window. The bucket starts
// full.
func NewRateLimiter(capacity int, window time.Duration) *RateLimiter {
	l := &RateLimiter{
		capacity:   float64(capacity),
		refillRate: float64(capacity) / window.Seconds(),
		tokens:     float64(capacity),
		now:        time.Now,
	}
	l.lastRefill = l.now()
	return l
}

// TryConsume takes one token. When the bucket is empty it refuses and
// reports how long until the next token becomes available.
func (l *RateLimiter) TryConsume() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()

	if l.tokens >= 1 {
		l.tokens--
		return true, 0
	}
	wait := time.Duration(math.Ceil((1-l.tokens)/l.refillRate)) * time.Second
	return false, wait
}

// Remaining reports how many whole tokens are currently available.
func (l *RateLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return int(l.tokens)
}

// Reset refills the bucket to capacity. Called after a successful unlock so
// earlier failed attempts stop counting against the caller.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	l.tokens = l.capacity
	l.lastRefill = l.now()
	l.mu.Unlock()
}

func (l *RateLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens = math.Min(l.capacity, l.tokens+elapsed*l.refillRate)
	l.lastRefill = now
}
