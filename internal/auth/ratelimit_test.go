package auth

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MediSynth-io/showcase/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWindow      = 15 * time.Minute
	testMaxAttempts = 5
)

func newTestMemoryLimiter(clock *fakeClock) *MemoryLimiter {
	l := NewMemoryLimiter(testWindow, testMaxAttempts)
	l.now = clock.Now
	return l
}

func newTestSQLLimiter(t *testing.T, clock *fakeClock) *SQLLimiter {
	l := NewSQLLimiter(newTestDB(t), testWindow, testMaxAttempts)
	l.now = clock.Now
	return l
}

// limiterCases runs the shared behaviour against both backends.
func limiterCases(t *testing.T, build func(t *testing.T, clock *fakeClock) RateLimiter) {
	ctx := context.Background()

	t.Run("AllowsUpToMaxThenRejects", func(t *testing.T) {
		clock := newFakeClock()
		l := build(t, clock)
		start := clock.Now()

		for i := 1; i <= testMaxAttempts; i++ {
			d, err := l.Check(ctx, "198.51.100.7")
			require.NoError(t, err)
			assert.True(t, d.Allowed, "attempt %d", i)
			assert.Equal(t, i, d.Count)
			clock.Advance(time.Second)
		}

		d, err := l.Check(ctx, "198.51.100.7")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.True(t, d.ResetAt.Equal(start.Add(testWindow)), "reset at %s", d.ResetAt)
	})

	t.Run("FreshWindowAfterReset", func(t *testing.T) {
		clock := newFakeClock()
		l := build(t, clock)

		for i := 0; i <= testMaxAttempts; i++ {
			_, err := l.Check(ctx, "198.51.100.7")
			require.NoError(t, err)
		}

		clock.Advance(testWindow)
		d, err := l.Check(ctx, "198.51.100.7")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Count)
		assert.True(t, d.ResetAt.Equal(clock.Now().Add(testWindow)))
	})

	t.Run("IdentitiesAreIndependent", func(t *testing.T) {
		clock := newFakeClock()
		l := build(t, clock)

		for i := 0; i <= testMaxAttempts; i++ {
			_, err := l.Check(ctx, "198.51.100.7")
			require.NoError(t, err)
		}

		d, err := l.Check(ctx, "203.0.113.9")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Count)
	})

	t.Run("ConcurrentChecksAdmitExactlyMax", func(t *testing.T) {
		clock := newFakeClock()
		l := build(t, clock)

		var (
			allowed atomic.Int32
			wg      sync.WaitGroup
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := l.Check(ctx, "198.51.100.7")
				if assert.NoError(t, err) && d.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(testMaxAttempts), allowed.Load())
	})

	t.Run("SweepDropsElapsedWindows", func(t *testing.T) {
		clock := newFakeClock()
		l := build(t, clock)

		_, err := l.Check(ctx, "old")
		require.NoError(t, err)
		clock.Advance(testWindow - time.Minute)
		_, err = l.Check(ctx, "recent")
		require.NoError(t, err)
		clock.Advance(time.Minute)

		n, err := l.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		d, err := l.Check(ctx, "recent")
		require.NoError(t, err)
		assert.Equal(t, 2, d.Count)
	})
}

func TestMemoryLimiter(t *testing.T) {
	limiterCases(t, func(t *testing.T, clock *fakeClock) RateLimiter {
		return newTestMemoryLimiter(clock)
	})
}

func TestSQLLimiter(t *testing.T) {
	limiterCases(t, func(t *testing.T, clock *fakeClock) RateLimiter {
		return newTestSQLLimiter(t, clock)
	})
}

func TestMemoryLimiter_CountStopsAfterLimit(t *testing.T) {
	clock := newFakeClock()
	l := newTestMemoryLimiter(clock)

	var d Decision
	for i := 0; i < 100; i++ {
		d, _ = l.Check(context.Background(), "x")
	}
	assert.False(t, d.Allowed)
	assert.Equal(t, testMaxAttempts+1, d.Count)
	assert.Equal(t, 1, l.Len())
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	l := NewMemoryLimiter(time.Millisecond, 1)
	_, err := l.Check(context.Background(), "x")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, l, 5*time.Millisecond, logging.Discard())
		close(done)
	}()

	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestMemoryLimiter_SameShardIdentitiesDoNotWait(t *testing.T) {
	l := NewMemoryLimiter(testWindow, testMaxAttempts)

	other := ""
	for i := 0; other == ""; i++ {
		candidate := "203.0.113." + strconv.Itoa(i)
		if candidate != "198.51.100.7" && l.shard(candidate) == l.shard("198.51.100.7") {
			other = candidate
		}
	}

	busy := l.entry("198.51.100.7")
	busy.mu.Lock()
	defer busy.mu.Unlock()

	done := make(chan Decision, 1)
	go func() {
		d, _ := l.Check(context.Background(), other)
		done <- d
	}()

	select {
	case d := <-done:
		assert.True(t, d.Allowed)
	case <-time.After(time.Second):
		t.Fatal("check blocked on another identity's entry")
	}
}

func TestMemoryLimiter_CheckAfterEvictionStartsFresh(t *testing.T) {
	clock := newFakeClock()
	l := newTestMemoryLimiter(clock)

	for i := 0; i <= testMaxAttempts; i++ {
		_, err := l.Check(context.Background(), "x")
		require.NoError(t, err)
	}
	stale := l.entry("x")

	clock.Advance(testWindow)
	n, err := l.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, stale.evicted)

	d, err := l.Check(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
	assert.Equal(t, 1, l.Len())
	assert.NotSame(t, stale, l.entry("x"))
}
