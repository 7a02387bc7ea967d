package xsigserver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-xsig/internal/pool"
	"github.com/arloliu/go-xsig/logger"
	"github.com/arloliu/go-xsig/xsig"
)

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// connHandler serves one control-system connection.
type connHandler struct {
	srv     *Server
	id      string
	remote  string
	conn    io.ReadWriteCloser
	reader  *frameReader
	logger  logger.Logger
	taskMgr *xsig.TaskManager

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once

	// owned by the read loop
	synced      bool
	lastSyncAll time.Time
	lastResync  time.Time
}

func newConnHandler(s *Server, conn io.ReadWriteCloser, remote string) *connHandler {
	id := uuid.NewString()
	l := s.logger.With("conn_id", id, "remote_address", remote)

	return &connHandler{
		srv:     s,
		id:      id,
		remote:  remote,
		conn:    conn,
		reader:  newFrameReader(conn),
		logger:  l,
		taskMgr: xsig.NewTaskManager(s.pctx, l),
	}
}

// serveConn installs conn as the active connection and starts the handshake: the previous
// connection is torn down, the join tables are cleared and an update request is sent.
func (s *Server) serveConn(conn io.ReadWriteCloser, remote string) error {
	s.serveMutex.Lock()
	defer s.serveMutex.Unlock()

	if old := s.currentConn(); old != nil {
		old.logger.Warn("replace control-system connection", "new_remote_address", remote)
		s.dropConn(old, errConnReplaced)
	}

	h := newConnHandler(s, conn, remote)

	s.store.clear()
	s.connMutex.Lock()
	s.conn = h
	s.connMutex.Unlock()

	s.metrics.incConnAcceptCount()

	if err := s.stateMgr.ToUnsynced(); err != nil {
		s.dropConn(h, err)
		return err
	}

	h.logger.Info("control system connected, wait for sync")

	if err := h.start(); err != nil {
		s.dropConn(h, err)
		return err
	}

	if err := h.writeControl(xsig.UpdateRequest); err != nil {
		s.dropConn(h, err)
		return err
	}

	return nil
}

// dropConn tears h down. If h is the active connection the join tables are cleared, the engine
// returns to the listening state and the disconnected event fires.
//
// It must not be called synchronously from the read loop of h.
func (s *Server) dropConn(h *connHandler, reason error) {
	h.closeOnce.Do(func() {
		h.logger.Info("close control-system connection", "reason", reason)
		h.close(s.cfg.CloseTimeout())

		s.connMutex.Lock()
		current := s.conn == h
		if current {
			s.conn = nil
		}
		s.connMutex.Unlock()

		if !current {
			return
		}

		s.echo.reset()
		s.store.clear()
		s.stateMgr.ToListening()
		s.metrics.incDisconnectCount()
		s.registry.notify(xsig.NewSystemEvent(xsig.SystemDisconnected))
	})
}

func (h *connHandler) start() error {
	if err := h.taskMgr.StartReceiver("readLoop", h.readFrame, h.onReadLoopExit); err != nil {
		return err
	}

	if timeout := h.srv.cfg.InitialSyncTimeout(); timeout > 0 {
		if err := h.taskMgr.Go("initialSyncWatchdog", h.watchInitialSync(timeout)); err != nil {
			return err
		}
	}

	return nil
}

func (h *connHandler) close(timeout time.Duration) {
	h.closed.Store(true)
	h.taskMgr.Stop()

	if tcpConn, ok := h.conn.(*net.TCPConn); ok {
		_ = tcpConn.SetLinger(0)
	}

	if err := h.conn.Close(); err != nil {
		h.logger.Debug("failed to close connection", "error", err)
	}

	h.taskMgr.WaitTimeout(timeout)
}

func (h *connHandler) isCurrent() bool {
	return h.srv.currentConn() == h
}

// onReadLoopExit tears the connection down once the read loop ends. It runs on the read loop
// goroutine, which dropConn waits for, so the teardown happens on a new goroutine.
func (h *connHandler) onReadLoopExit() {
	go h.srv.dropConn(h, xsig.ErrConnClosed)
}

// readFrame is the read loop task.
func (h *connHandler) readFrame() bool {
	if h.closed.Load() {
		return false
	}

	f, err := h.reader.ReadFrame()
	if err != nil {
		if errors.Is(err, xsig.ErrProtocol) {
			return h.handleProtocolError(err)
		}

		if h.closed.Load() {
			h.logger.Debug("read loop ends, connection closed", "error", err)
		} else if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			h.logger.Info("control system closed the connection", "error", err)
		} else {
			h.logger.Warn("failed to read from control system", "error", err)
		}

		return false
	}

	h.srv.metrics.incFrameRecvCount(f)
	if h.logger.Level() == logger.DebugLevel {
		h.logger.Debug("frame received", "frame", f.String())
	}

	if f.IsControl() {
		return h.handleControl(f.Control)
	}

	h.srv.applyInbound(f)

	return true
}

func (h *connHandler) handleControl(b byte) bool {
	switch b {
	case xsig.SyncAll:
		return h.handleSyncAll()

	case xsig.UpdateRequest, xsig.ClearOutputs:
		h.logger.Debug("ignore control byte from control system", "byte", fmt.Sprintf("0x%02X", b))
	}

	return true
}

// handleSyncAll handles a sync-all marker. The first one completes the handshake: the engine
// becomes available, the connected event fires and a follow-up update request is sent.
func (h *connHandler) handleSyncAll() bool {
	now := time.Now()
	if !h.lastSyncAll.IsZero() && now.Sub(h.lastSyncAll) < h.srv.cfg.SyncDebounce() {
		h.logger.Debug("debounce sync-all marker")
		return true
	}
	h.lastSyncAll = now

	if !h.synced {
		if h.closed.Load() || !h.isCurrent() {
			return false
		}

		if err := h.srv.stateMgr.ToSynced(); err != nil {
			h.logger.Warn("failed to enter synced state", "state", h.srv.stateMgr.State(), "error", err)
			return false
		}
		h.synced = true

		h.logger.Info("control system synced")
		h.srv.registry.notify(xsig.NewSystemEvent(xsig.SystemConnected))

		if err := h.writeControl(xsig.UpdateRequest); err != nil {
			h.logger.Warn("failed to send follow-up update request", "error", err)
			return false
		}
	}

	h.srv.invokeSyncAllHandler()

	return true
}

// handleProtocolError counts a skipped byte and asks for a fresh dump, at most once per
// debounce window.
func (h *connHandler) handleProtocolError(err error) bool {
	h.srv.metrics.incProtocolErrCount()
	h.logger.Debug("skip malformed byte", "error", err)

	now := time.Now()
	if !h.lastResync.IsZero() && now.Sub(h.lastResync) < h.srv.cfg.SyncDebounce() {
		return true
	}
	h.lastResync = now

	h.logger.Warn("protocol error, request full update", "error", err)
	if err := h.writeControl(xsig.UpdateRequest); err != nil {
		h.logger.Warn("failed to send update request", "error", err)
		return false
	}

	return true
}

func (h *connHandler) watchInitialSync(timeout time.Duration) func(ctx context.Context) {
	return func(ctx context.Context) {
		timer := pool.GetTimer(timeout)
		defer pool.PutTimer(timer)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if h.isCurrent() && h.srv.stateMgr.IsUnsynced() {
			h.logger.Warn("control system didn't sync in time", "timeout", timeout)
			// the teardown waits for this task, so it runs on its own goroutine
			go h.srv.dropConn(h, fmt.Errorf("%w: initial sync timeout", xsig.ErrConnClosed))
		}
	}
}

func (h *connHandler) writeControl(b byte) error {
	return h.writeFrame([]byte{b})
}

// writeFrame writes one encoded frame. Writes of all goroutines are serialized.
func (h *connHandler) writeFrame(data []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.closed.Load() {
		return xsig.ErrConnClosed
	}

	if dl, ok := h.conn.(writeDeadliner); ok {
		_ = dl.SetWriteDeadline(time.Now().Add(h.srv.cfg.WriteTimeout()))
	}

	if _, err := h.conn.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	h.srv.metrics.incFrameSendCount()
	if h.logger.Level() == logger.DebugLevel {
		h.logger.Debug("frame sent", "data", hex.EncodeToString(data))
	}

	return nil
}

func (s *Server) invokeSyncAllHandler() {
	fn := s.syncAllHandler.Load()
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync-all handler panicked", "panic", fmt.Sprint(r))
		}
	}()

	(*fn)()
}
