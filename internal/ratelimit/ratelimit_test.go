package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestLimiter(limit int, window time.Duration) (*Limiter[string], *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New[string](limit, window)
	l.now = clock.Now

	return l, clock
}

func TestLimiter_Window(t *testing.T) {
	require := require.New(t)

	l, clock := newTestLimiter(1000, time.Second)

	for i := 0; i < 1000; i++ {
		require.True(l.Allow("d1"), "event %d", i+1)
		clock.Advance(500 * time.Microsecond)
	}
	require.False(l.Allow("d1"))
	require.Equal(1000, l.Count("d1"))

	// other keys have their own budget
	require.True(l.Allow("a1"))

	clock.Advance(time.Second)
	require.True(l.Allow("d1"))
	require.Equal(1, l.Count("d1"))
}

func TestLimiter_Sliding(t *testing.T) {
	require := require.New(t)

	l, clock := newTestLimiter(2, time.Second)

	require.True(l.Allow("k"))
	clock.Advance(600 * time.Millisecond)
	require.True(l.Allow("k"))
	require.False(l.Allow("k"))

	// the first event leaves the window, the second doesn't
	clock.Advance(400 * time.Millisecond)
	require.True(l.Allow("k"))
	require.False(l.Allow("k"))
}

func TestLimiter_RejectedNotRecorded(t *testing.T) {
	require := require.New(t)

	l, clock := newTestLimiter(1, time.Second)

	require.True(l.Allow("k"))
	for i := 0; i < 10; i++ {
		clock.Advance(50 * time.Millisecond)
		require.False(l.Allow("k"))
	}

	clock.Advance(500 * time.Millisecond)
	require.True(l.Allow("k"))
}

func TestLimiter_Undo(t *testing.T) {
	require := require.New(t)

	l, clock := newTestLimiter(2, time.Second)

	require.True(l.Allow("k"))
	clock.Advance(600 * time.Millisecond)
	require.True(l.Allow("k"))
	require.False(l.Allow("k"))

	// the newest event is removed, the oldest keeps its place in the window
	l.Undo("k")
	require.Equal(1, l.Count("k"))
	require.True(l.Allow("k"))
	require.False(l.Allow("k"))

	clock.Advance(400 * time.Millisecond)
	require.Equal(1, l.Count("k"))

	// unknown and empty keys are ignored
	l.Undo("other")
	l.Undo("k")
	l.Undo("k")
	require.Zero(l.Count("k"))
}

func TestLimiter_PruneAndReset(t *testing.T) {
	require := require.New(t)

	l, clock := newTestLimiter(5, time.Second)

	require.True(l.Allow("a"))
	clock.Advance(700 * time.Millisecond)
	require.True(l.Allow("b"))
	require.Equal(2, l.Len())

	clock.Advance(400 * time.Millisecond)
	require.Equal(1, l.Prune())
	require.Equal(1, l.Len())
	require.Equal(0, l.Count("a"))

	l.Reset()
	require.Equal(0, l.Len())
}

func TestLimiter_Disabled(t *testing.T) {
	require := require.New(t)

	l := New[int](0, time.Second)
	for i := 0; i < 10000; i++ {
		require.True(l.Allow(1))
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	require := require.New(t)

	l := New[string](1000, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if l.Allow("k") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(1000, allowed)
}
