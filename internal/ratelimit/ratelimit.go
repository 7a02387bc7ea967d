// Package ratelimit implements a sliding-window rate limiter keyed by an arbitrary comparable key.
package ratelimit

import (
	"sync"
	"time"

	"github.com/arloliu/go-xsig/internal/queue"
)

// Limiter admits at most limit events per key within any window-long interval.
//
// Each key keeps the timestamps of its admitted events. Allow first expires timestamps older than
// the window, then rejects the event if the remaining count already reached the limit.
// Rejected events are not recorded.
type Limiter[K comparable] struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[K]queue.Queue[time.Time]
}

// New creates a Limiter. A limit <= 0 disables limiting.
func New[K comparable](limit int, window time.Duration) *Limiter[K] {
	return &Limiter[K]{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[K]queue.Queue[time.Time]),
	}
}

// Allow records an event for key and reports whether it is within the budget.
func (l *Limiter[K]) Allow(key K) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	q, ok := l.windows[key]
	if !ok {
		q = queue.NewSliceQueue[time.Time](min(l.limit, 16))
		l.windows[key] = q
	}

	l.expire(q, now)
	if q.Length() >= l.limit {
		return false
	}
	q.Enqueue(now)

	return true
}

// Undo removes the most recent event recorded for key.
func (l *Limiter[K]) Undo(key K) {
	if l.limit <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.windows[key]
	if !ok || q.IsEmpty() {
		return
	}

	// rotate the older events behind the newest one, then drop it
	for n := q.Length() - 1; n > 0; n-- {
		ts, _ := q.Dequeue()
		q.Enqueue(ts)
	}
	_, _ = q.Dequeue()
}

// Count returns the number of events recorded for key within the current window.
func (l *Limiter[K]) Count(key K) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.windows[key]
	if !ok {
		return 0
	}
	l.expire(q, l.now())

	return q.Length()
}

// Prune drops the keys without events in the current window and returns how many were dropped.
func (l *Limiter[K]) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dropped := 0
	for key, q := range l.windows {
		l.expire(q, now)
		if q.IsEmpty() {
			delete(l.windows, key)
			dropped++
		}
	}

	return dropped
}

// Reset forgets every key.
func (l *Limiter[K]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.windows)
}

// Len returns the number of tracked keys.
func (l *Limiter[K]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.windows)
}

func (l *Limiter[K]) expire(q queue.Queue[time.Time], now time.Time) {
	for {
		ts, ok := q.Peek()
		if !ok || now.Sub(ts) < l.window {
			return
		}
		_, _ = q.Dequeue()
	}
}
