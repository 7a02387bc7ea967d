package xsigserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-xsig/internal/pool"
	"github.com/arloliu/go-xsig/internal/ratelimit"
	"github.com/arloliu/go-xsig/logger"
	"github.com/arloliu/go-xsig/xsig"
)

// SyncAllHandler is invoked on the read loop for every sync-all marker outside the debounce window.
type SyncAllHandler func()

var errConnReplaced = errors.New("replaced by a new connection")

// Server is the XSIG engine: a TCP listener serving one control-system connection at a time.
//
// It implements xsig.Engine. Inbound frames update the join tables and notify the registered
// callbacks; outbound sets are queued and written in order once the control system is synced.
type Server struct {
	pctx   context.Context
	cfg    *ServerConfig
	logger logger.Logger

	stateMgr *xsig.ConnStateMgr
	taskMgr  *xsig.TaskManager // accept loop, command consumer and housekeeping

	store    *joinStore
	registry *callbackRegistry
	limiter  *ratelimit.Limiter[xsig.JoinID]
	echo     *echoTracker
	cmdQueue chan command

	lifecycleMutex sync.Mutex // serializes Start, Stop and task startup
	running        bool       // server tasks are running
	listenerMutex  sync.Mutex
	listener       net.Listener
	shutdown       atomic.Bool

	serveMutex sync.Mutex // serializes connection hand-over
	connMutex  sync.Mutex
	conn       *connHandler

	syncAllHandler atomic.Pointer[SyncAllHandler]

	metrics ServerMetrics
}

// ensure Server implements xsig.Engine interface.
var _ xsig.Engine = (*Server)(nil)

// NewServer creates a new XSIG server. ctx bounds the lifetime of every goroutine the server starts.
// A nil cfg selects the default configuration.
func NewServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		var err error
		if cfg, err = NewServerConfig(); err != nil {
			return nil, err
		}
	}

	l := cfg.Logger()
	limit, window := cfg.RateLimit()

	s := &Server{
		pctx:     ctx,
		cfg:      cfg,
		logger:   l,
		stateMgr: xsig.NewConnStateMgr(l),
		taskMgr:  xsig.NewTaskManager(ctx, l),
		store:    newJoinStore(),
		limiter:  ratelimit.New[xsig.JoinID](limit, window),
		cmdQueue: make(chan command, cfg.CommandQueueSize()),
	}
	s.registry = newCallbackRegistry(l, &s.metrics, cfg.CallbackTimeout)
	s.echo = newEchoTracker(cfg.DigitalEchoTimeout, s.applyDigitalFallback)
	s.stateMgr.AddHandler(s.connStateHandler)

	return s, nil
}

// Start binds the listener on host:port and starts accepting control-system connections.
// An empty host listens on all interfaces.
//
// It returns ErrServerStarted if the listener is already bound.
func (s *Server) Start(host string, port int) error {
	if err := ValidatePort(port); err != nil {
		return err
	}

	s.lifecycleMutex.Lock()
	defer s.lifecycleMutex.Unlock()

	s.listenerMutex.Lock()
	bound := s.listener != nil
	s.listenerMutex.Unlock()
	if bound {
		return xsig.ErrServerStarted
	}

	s.shutdown.Store(false)

	listener, err := s.listen(host, port)
	if err != nil {
		return err
	}

	s.listenerMutex.Lock()
	s.listener = listener
	s.listenerMutex.Unlock()

	if err := s.startTasks(); err != nil {
		_ = s.closeListener()
		return err
	}

	if err := s.taskMgr.Start("acceptLoop", s.acceptConn); err != nil {
		_ = s.closeListener()
		return err
	}

	s.logger.Info("xsig server listening", "address", listener.Addr().String())

	return nil
}

// Stop closes the listener and the active connection, stops the command consumer and drops the
// queued commands. It is idempotent; the server can be started again afterwards.
func (s *Server) Stop() error {
	s.lifecycleMutex.Lock()
	defer s.lifecycleMutex.Unlock()

	s.listenerMutex.Lock()
	bound := s.listener != nil
	s.listenerMutex.Unlock()

	if !bound && !s.running {
		return nil
	}

	s.shutdown.Store(true)
	err := s.closeListener()

	s.taskMgr.Stop()
	s.taskMgr.Wait()
	s.running = false

	if h := s.currentConn(); h != nil {
		s.dropConn(h, xsig.ErrConnClosed)
	}

	if n := s.drainCommands(); n > 0 {
		s.logger.Info("dropped queued commands on stop", "count", n)
	}
	s.limiter.Reset()

	s.logger.Info("xsig server stopped")

	return err
}

// ServeConn serves conn as the control-system connection, replacing the active one if any.
// It returns once the handshake has started; the connection is served in the background.
//
// Start calls it for every accepted TCP connection. It can also be used directly with any
// transport, in which case the server tasks are started on first use.
func (s *Server) ServeConn(conn io.ReadWriteCloser) error {
	s.lifecycleMutex.Lock()
	err := s.startTasks()
	s.lifecycleMutex.Unlock()
	if err != nil {
		return err
	}

	return s.serveConn(conn, remoteAddress(conn))
}

// startTasks starts the server-lifetime tasks once. lifecycleMutex must be held.
func (s *Server) startTasks() error {
	if s.running {
		return nil
	}

	if err := s.taskMgr.Start("commandConsumer", s.consumeCommand); err != nil {
		return err
	}

	_, window := s.cfg.RateLimit()
	if err := s.taskMgr.StartInterval("rateLimiterPrune", s.pruneRateLimiter, 10*window); err != nil {
		s.taskMgr.Stop()
		s.taskMgr.Wait()
		return err
	}

	s.running = true

	return nil
}

// Available reports whether a control system is connected and synced.
func (s *Server) Available() bool {
	return s.stateMgr.IsSynced()
}

// State returns the connection state.
func (s *Server) State() xsig.ConnState {
	return s.stateMgr.State()
}

// WaitState blocks until the connection reaches state or ctx is done.
func (s *Server) WaitState(ctx context.Context, state xsig.ConnState) error {
	return s.stateMgr.WaitState(ctx, state)
}

// GetDigital returns the last known value of a digital join.
func (s *Server) GetDigital(join int) bool {
	if !s.readable(xsig.Digital, join) {
		return false
	}

	return s.store.digital.get(join)
}

// GetAnalog returns the last known value of an analog join.
func (s *Server) GetAnalog(join int) uint16 {
	if !s.readable(xsig.Analog, join) {
		return 0
	}

	return s.store.analog.get(join)
}

// GetSerial returns the last known value of a serial join.
func (s *Server) GetSerial(join int) string {
	if !s.readable(xsig.Serial, join) {
		return ""
	}

	return s.store.serial.get(join)
}

func (s *Server) readable(t xsig.JoinType, join int) bool {
	return s.Available() && xsig.ValidateJoin(t, join) == nil
}

// SetDigital queues a digital update. The local value changes when the control system echoes the
// join, or when the digital echo timeout expires without an echo.
func (s *Server) SetDigital(join int, value bool) error {
	return s.set(xsig.DigitalID(join),
		func(dst []byte) ([]byte, error) { return xsig.AppendDigital(dst, join, value) },
		func() { s.echo.arm(join, value) },
	)
}

// SetAnalog queues an analog update. The local value changes once the frame is written.
func (s *Server) SetAnalog(join int, value uint16) error {
	return s.set(xsig.AnalogID(join),
		func(dst []byte) ([]byte, error) { return xsig.AppendAnalog(dst, join, value) },
		func() { s.applyLocal(xsig.Frame{Type: xsig.Analog, Join: join, Analog: value}) },
	)
}

// SetSerial queues a serial update. The local value changes once the frame is written.
func (s *Server) SetSerial(join int, value string) error {
	return s.set(xsig.SerialID(join),
		func(dst []byte) ([]byte, error) { return xsig.AppendSerial(dst, join, value) },
		func() { s.applyLocal(xsig.Frame{Type: xsig.Serial, Join: join, Serial: value}) },
	)
}

// set encodes a join update into a pooled buffer and submits it. Encoding errors are reported
// before availability and rate limiting are checked.
func (s *Server) set(id xsig.JoinID, encode func(dst []byte) ([]byte, error), written func()) error {
	buf := pool.GetFrameBuffer()

	data, err := encode(*buf)
	if err != nil {
		pool.PutFrameBuffer(buf)
		return err
	}
	*buf = data

	cmd := command{id: id, data: data, buf: buf, written: written}
	if err := s.submit(cmd); err != nil {
		cmd.release()
		return err
	}

	return nil
}

func (s *Server) submit(cmd command) error {
	if !s.Available() {
		return fmt.Errorf("%w: set %s", xsig.ErrNotAvailable, cmd.id)
	}

	if !s.limiter.Allow(cmd.id) {
		s.metrics.incRateLimitedCount()
		return fmt.Errorf("%w: %s", xsig.ErrRateLimited, cmd.id)
	}

	// a set that never reaches the queue does not count against the rate limit
	if err := s.enqueue(cmd); err != nil {
		s.limiter.Undo(cmd.id)
		return err
	}

	return nil
}

// RegisterCallback registers cb for events of id and returns a function that removes it.
//
// id is a join-id such as "d10", xsig.SystemID or xsig.AnyJoinID.
func (s *Server) RegisterCallback(id xsig.JoinID, cb xsig.Callback) func() {
	if id != xsig.SystemID && id != xsig.AnyJoinID {
		if _, _, err := id.Parse(); err != nil {
			s.logger.Warn("callback registered for an invalid join-id", "join_id", id, "error", err)
		}
	}

	return s.registry.register(id, cb)
}

// RegisterSyncAllHandler sets the handler invoked for sync-all markers. Nil removes it.
func (s *Server) RegisterSyncAllHandler(fn SyncAllHandler) {
	if fn == nil {
		s.syncAllHandler.Store(nil)
		return
	}
	s.syncAllHandler.Store(&fn)
}

// RequestUpdate asks the control system for a full dump of its join values.
// It only needs a connection, not a completed sync.
func (s *Server) RequestUpdate() error {
	h := s.currentConn()
	if h == nil {
		return fmt.Errorf("%w: request update", xsig.ErrNotAvailable)
	}

	if err := h.writeControl(xsig.UpdateRequest); err != nil {
		s.dropConn(h, err)
		return fmt.Errorf("%w: %w", xsig.ErrConnClosed, err)
	}

	return nil
}

// ClearOutputs asks the control system to force all outputs to zero.
func (s *Server) ClearOutputs() error {
	h := s.currentConn()
	if h == nil || !s.Available() {
		return fmt.Errorf("%w: clear outputs", xsig.ErrNotAvailable)
	}

	if err := h.writeControl(xsig.ClearOutputs); err != nil {
		s.dropConn(h, err)
		return fmt.Errorf("%w: %w", xsig.ErrConnClosed, err)
	}

	return nil
}

// Status describes the server for diagnostics.
type Status struct {
	State         xsig.ConnState
	Available     bool
	ListenAddress string
	RemoteAddress string
	ConnID        string
	QueueDepth    int
	QueueCapacity int
	DigitalJoins  int
	AnalogJoins   int
	SerialJoins   int
	PendingEchoes int
}

// Status returns a point-in-time description of the server.
func (s *Server) Status() Status {
	st := Status{
		State:         s.stateMgr.State(),
		Available:     s.Available(),
		QueueDepth:    len(s.cmdQueue),
		QueueCapacity: cap(s.cmdQueue),
		DigitalJoins:  s.store.digital.size(),
		AnalogJoins:   s.store.analog.size(),
		SerialJoins:   s.store.serial.size(),
		PendingEchoes: s.echo.pending(),
	}

	s.listenerMutex.Lock()
	if s.listener != nil {
		st.ListenAddress = s.listener.Addr().String()
	}
	s.listenerMutex.Unlock()

	if h := s.currentConn(); h != nil {
		st.RemoteAddress = h.remote
		st.ConnID = h.id
	}

	return st
}

// Snapshot returns a copy of the join tables.
func (s *Server) Snapshot() Snapshot {
	return s.store.snapshot()
}

// QueueDepth returns the number of queued commands.
func (s *Server) QueueDepth() int {
	return len(s.cmdQueue)
}

// GetMetrics returns the metrics of the server.
func (s *Server) GetMetrics() *ServerMetrics {
	return &s.metrics
}

func (s *Server) currentConn() *connHandler {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()

	return s.conn
}

func (s *Server) connStateHandler(prevState xsig.ConnState, newState xsig.ConnState) {
	s.logger.Debug("server connection state changes", "prev_state", prevState, "new_state", newState)
}

// applyInbound applies a join frame received from the control system.
// Digital frames always notify, analog and serial frames only when the value changes.
func (s *Server) applyInbound(f xsig.Frame) {
	switch f.Type {
	case xsig.Digital:
		s.echo.confirm(f.Join)
		s.store.digital.update(f.Join, f.Digital)
		s.registry.notify(xsig.NewJoinEvent(f))

	case xsig.Analog, xsig.Serial:
		s.applyLocal(f)
	}
}

// applyLocal stores an analog or serial value and notifies subscribers if it changed.
func (s *Server) applyLocal(f xsig.Frame) {
	var changed bool
	switch f.Type {
	case xsig.Analog:
		changed = s.store.analog.update(f.Join, f.Analog)
	case xsig.Serial:
		changed = s.store.serial.update(f.Join, f.Serial)
	}

	if changed {
		s.registry.notify(xsig.NewJoinEvent(f))
	}
}

// applyDigitalFallback applies a digital set whose echo never arrived.
func (s *Server) applyDigitalFallback(join int, value bool) {
	if !s.Available() {
		return
	}

	s.metrics.incEchoFallbackCount()
	s.logger.Debug("no echo for digital set, apply locally", "join", join, "value", value)

	s.store.digital.update(join, value)
	s.registry.notify(xsig.NewJoinEvent(xsig.Frame{Type: xsig.Digital, Join: join, Digital: value}))
}

func (s *Server) pruneRateLimiter() bool {
	if n := s.limiter.Prune(); n > 0 {
		s.logger.Debug("pruned idle rate limit windows", "count", n)
	}

	return true
}

func remoteAddress(conn io.ReadWriteCloser) string {
	if c, ok := conn.(net.Conn); ok && c.RemoteAddr() != nil {
		return c.RemoteAddr().String()
	}

	return fmt.Sprintf("%T", conn)
}
