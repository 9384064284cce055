package auth

import (
	"context"
	"hash/maphash"
	"log/slog"
	"sync"
	"time"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// RateLimiter counts login attempts per client identity in fixed windows.
type RateLimiter interface {
	Check(ctx context.Context, identity string) (Decision, error)
	// Sweep drops entries whose window has elapsed and returns how many.
	Sweep(ctx context.Context) (int64, error)
}

const limiterShards = 64

// windowEntry is one identity's counter. Its own lock serialises attempts
// for that identity; the shard lock only guards the map.
type windowEntry struct {
	mu      sync.Mutex
	start   time.Time
	count   int
	evicted bool
}

type limiterShard struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
}

// MemoryLimiter is a process-local fixed-window limiter. Identities are
// spread over shards, and each identity counts under its own lock, so
// distinct identities only meet on the brief map lookup.
type MemoryLimiter struct {
	window time.Duration
	max    int
	now    func() time.Time
	seed   maphash.Seed
	shards [limiterShards]limiterShard
}

func NewMemoryLimiter(window time.Duration, maxAttempts int) *MemoryLimiter {
	l := &MemoryLimiter{
		window: window,
		max:    maxAttempts,
		now:    time.Now,
		seed:   maphash.MakeSeed(),
	}
	for i := range l.shards {
		l.shards[i].entries = make(map[string]*windowEntry)
	}
	return l
}

func (l *MemoryLimiter) shard(identity string) *limiterShard {
	return &l.shards[maphash.String(l.seed, identity)%limiterShards]
}

func (l *MemoryLimiter) expired(e *windowEntry, now time.Time) bool {
	return e.count == 0 || !now.Before(e.start.Add(l.window))
}

// entry returns the entry for identity, creating it if needed.
func (l *MemoryLimiter) entry(identity string) *windowEntry {
	s := l.shard(identity)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[identity]
	if !ok {
		e = &windowEntry{}
		s.entries[identity] = e
	}
	return e
}

func (l *MemoryLimiter) Check(_ context.Context, identity string) (Decision, error) {
	for {
		e := l.entry(identity)
		e.mu.Lock()
		if e.evicted {
			// Swept between lookup and lock; fetch the replacement.
			e.mu.Unlock()
			continue
		}

		now := l.now()
		if l.expired(e, now) {
			e.start = now
			e.count = 0
		}
		// Stop counting once over the limit; the decision is the same.
		if e.count <= l.max {
			e.count++
		}
		d := Decision{
			Allowed: e.count <= l.max,
			Count:   e.count,
			ResetAt: e.start.Add(l.window),
		}
		e.mu.Unlock()
		return d, nil
	}
}

func (l *MemoryLimiter) Sweep(_ context.Context) (int64, error) {
	now := l.now()
	var removed int64
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for id, e := range s.entries {
			e.mu.Lock()
			if l.expired(e, now) {
				e.evicted = true
				delete(s.entries, id)
				removed++
			}
			e.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of tracked identities.
func (l *MemoryLimiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, l RateLimiter, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				logger.Warn("rate limit sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("rate limit entries swept", "count", n)
			}
		}
	}
}
