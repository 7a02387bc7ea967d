package xsigserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-xsig/internal/pool"
	"github.com/arloliu/go-xsig/xsig"
)

// command is one outbound join update. data is encoded when the set is accepted, written runs on
// the command consumer after the frame reached the socket. buf, when set, backs data and goes back
// to the frame buffer pool once the command is written or dropped.
type command struct {
	id      xsig.JoinID
	data    []byte
	buf     *[]byte
	written func()
}

func (c command) release() {
	if c.buf != nil {
		pool.PutFrameBuffer(c.buf)
	}
}

// enqueue adds cmd to the command queue, waiting up to the command timeout for room.
func (s *Server) enqueue(cmd command) error {
	select {
	case s.cmdQueue <- cmd:
		return nil
	default:
	}

	timer := pool.GetTimer(s.cfg.CommandTimeout())
	defer pool.PutTimer(timer)

	select {
	case s.cmdQueue <- cmd:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", xsig.ErrCommandQueueFull, cmd.id)
	}
}

// consumeCommand is the command consumer task. Commands are only dequeued while the control
// system is synced, so they accumulate during a handshake and flow in order afterwards.
func (s *Server) consumeCommand() bool {
	ctx := s.taskMgr.Context()
	timeout := s.cfg.CommandTimeout()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	err := s.stateMgr.WaitState(waitCtx, xsig.SyncedState)
	cancel()
	if err != nil {
		// not synced within the timeout, check again unless stopping
		return ctx.Err() == nil
	}

	timer := pool.GetTimer(timeout)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case cmd := <-s.cmdQueue:
		s.execCommand(cmd)
		return true
	}
}

func (s *Server) execCommand(cmd command) {
	defer cmd.release()

	h := s.currentConn()
	if h == nil || !s.Available() {
		s.metrics.incCommandDropCount()
		s.logger.Warn("drop command, control system not available", "join_id", cmd.id)
		return
	}

	if err := h.writeFrame(cmd.data); err != nil {
		s.metrics.incCommandErrCount()
		h.logger.Error("failed to write command", "join_id", cmd.id, "error", err)
		s.dropConn(h, err)
		return
	}

	if cmd.written != nil {
		cmd.written()
	}
}

// drainCommands discards all queued commands and returns how many were dropped.
func (s *Server) drainCommands() int {
	n := 0
	for {
		select {
		case cmd := <-s.cmdQueue:
			cmd.release()
			n++
			s.metrics.incCommandDropCount()
		default:
			return n
		}
	}
}

// echoTracker holds the pending digital sets waiting for the control system to echo them.
// When a set isn't echoed within the timeout, fire applies it locally.
type echoTracker struct {
	mu      sync.Mutex
	timers  map[int]*time.Timer
	timeout func() time.Duration
	fire    func(join int, value bool)
}

func newEchoTracker(timeout func() time.Duration, fire func(join int, value bool)) *echoTracker {
	return &echoTracker{
		timers:  make(map[int]*time.Timer),
		timeout: timeout,
		fire:    fire,
	}
}

// arm starts waiting for the echo of a digital set, replacing any earlier wait on the same join.
func (e *echoTracker) arm(join int, value bool) {
	d := e.timeout()
	if d <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.timers[join]; ok {
		prev.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		e.mu.Lock()
		cur, ok := e.timers[join]
		if !ok || cur != t {
			e.mu.Unlock()
			return
		}
		delete(e.timers, join)
		e.mu.Unlock()

		e.fire(join, value)
	})
	e.timers[join] = t
}

// confirm cancels the pending wait of join, if any.
func (e *echoTracker) confirm(join int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[join]; ok {
		t.Stop()
		delete(e.timers, join)
	}
}

// reset cancels all pending waits.
func (e *echoTracker) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for join, t := range e.timers {
		t.Stop()
		delete(e.timers, join)
	}
}

func (e *echoTracker) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.timers)
}
