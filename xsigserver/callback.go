package xsigserver

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-xsig/internal/pool"
	"github.com/arloliu/go-xsig/logger"
	"github.com/arloliu/go-xsig/xsig"
)

type callbackEntry struct {
	seq uint64
	cb  xsig.Callback
}

// callbackRegistry maps join-ids to callbacks and fans events out to them.
//
// Slices stored in callbacks are never mutated in place, so a snapshot taken under the read lock
// stays valid after the lock is released.
type callbackRegistry struct {
	mu        sync.RWMutex
	seq       uint64
	callbacks map[xsig.JoinID][]callbackEntry

	timeout func() time.Duration
	logger  logger.Logger
	metrics *ServerMetrics
}

func newCallbackRegistry(l logger.Logger, metrics *ServerMetrics, timeout func() time.Duration) *callbackRegistry {
	return &callbackRegistry{
		callbacks: make(map[xsig.JoinID][]callbackEntry),
		timeout:   timeout,
		logger:    l,
		metrics:   metrics,
	}
}

// register adds cb for id and returns its idempotent deregistration function.
func (r *callbackRegistry) register(id xsig.JoinID, cb xsig.Callback) func() {
	if cb == nil {
		return func() {}
	}

	r.mu.Lock()
	r.seq++
	seq := r.seq
	entries := r.callbacks[id]
	next := make([]callbackEntry, len(entries), len(entries)+1)
	copy(next, entries)
	r.callbacks[id] = append(next, callbackEntry{seq: seq, cb: cb})
	r.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() { r.unregister(id, seq) })
	}
}

func (r *callbackRegistry) unregister(id xsig.JoinID, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.callbacks[id]
	next := make([]callbackEntry, 0, len(entries))
	for _, e := range entries {
		if e.seq != seq {
			next = append(next, e)
		}
	}

	if len(next) == 0 {
		delete(r.callbacks, id)
	} else {
		r.callbacks[id] = next
	}
}

// count returns the number of callbacks registered for exactly id.
func (r *callbackRegistry) count(id xsig.JoinID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.callbacks[id])
}

// snapshot returns the callbacks interested in ev: those registered for its join-id, plus the
// AnyJoinID subscribers for join events.
func (r *callbackRegistry) snapshot(ev xsig.Event) []callbackEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	direct := r.callbacks[ev.ID]
	if ev.IsSystem() {
		return direct
	}

	wildcard := r.callbacks[xsig.AnyJoinID]
	if len(wildcard) == 0 {
		return direct
	}
	if len(direct) == 0 {
		return wildcard
	}

	out := make([]callbackEntry, 0, len(direct)+len(wildcard))
	out = append(out, direct...)

	return append(out, wildcard...)
}

// notify runs the callbacks interested in ev concurrently and waits for them up to the callback
// timeout. Callbacks still running after the timeout are left to finish on their own.
func (r *callbackRegistry) notify(ev xsig.Event) {
	entries := r.snapshot(ev)
	if len(entries) == 0 {
		return
	}

	var pending atomic.Int32
	pending.Store(int32(len(entries)))
	done := make(chan struct{})

	for _, e := range entries {
		go func(cb xsig.Callback) {
			defer func() {
				if pending.Add(-1) == 0 {
					close(done)
				}
			}()
			r.invoke(ev, cb)
		}(e.cb)
	}

	timeout := r.timeout()
	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case <-done:
	case <-timer.C:
		r.metrics.incCallbackTimeoutCount()
		r.logger.Warn("callback timed out",
			"join_id", ev.ID, "timeout", timeout, "pending", pending.Load(), "total", len(entries),
		)
	}
}

func (r *callbackRegistry) invoke(ev xsig.Event, cb xsig.Callback) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.incCallbackErrCount()
			r.logger.Error("callback panicked", "join_id", ev.ID, "panic", fmt.Sprint(rec))
		}
	}()

	if err := cb(ev); err != nil {
		r.metrics.incCallbackErrCount()
		r.logger.Error("callback failed", "join_id", ev.ID, "error", err)
	}
}
