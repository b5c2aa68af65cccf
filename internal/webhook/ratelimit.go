package webhook

import (
	"context"
	"math"
	"sync"
	"time"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is a fixed-window counter per key, local to the process.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	entries  map[string]*windowEntry
	limit    int
	window   time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type MemoryOption func(*MemoryRateLimiter)

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(rl *MemoryRateLimiter) {
		rl.now = now
	}
}

func NewMemoryRateLimiter(limit int, window time.Duration, opts ...MemoryOption) *MemoryRateLimiter {
	rl := &MemoryRateLimiter{
		entries: make(map[string]*windowEntry),
		limit:   limit,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

func (rl *MemoryRateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	e, ok := rl.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &windowEntry{count: 1, resetAt: now.Add(rl.window)}
		rl.entries[key] = e
		return Decision{Allowed: true, Remaining: rl.limit - 1, ResetAt: e.resetAt}, nil
	}

	e.count++
	if e.count <= rl.limit {
		return Decision{Allowed: true, Remaining: rl.limit - e.count, ResetAt: e.resetAt}, nil
	}

	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: e.resetAt.Sub(now),
		ResetAt:    e.resetAt,
	}, nil
}

// Sweep drops entries whose window has closed.
func (rl *MemoryRateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, e := range rl.entries {
		if !now.Before(e.resetAt) {
			delete(rl.entries, key)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps expired entries every interval until Stop is called.
func (rl *MemoryRateLimiter) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = rl.window * 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Sweep()
			case <-rl.stop:
				return
			}
		}
	}()
}

func (rl *MemoryRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *MemoryRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}
