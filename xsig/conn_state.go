package xsig

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-xsig/logger"
)

// ConnState represents the stages of the control-system connection.
type ConnState uint32

// Connection states.
const (
	// ListeningState indicates that the listener is bound (or stopped) and no connection is active.
	ListeningState ConnState = iota
	// UnsyncedState indicates that a control system is connected but hasn't answered the update
	// request yet. Inbound frames are applied, outbound commands are held.
	UnsyncedState
	// SyncedState indicates that the control system acknowledged the update request with a sync-all
	// marker. The engine is available and outbound commands flow.
	SyncedState
)

// IsListening returns if the current state is listening.
func (cs ConnState) IsListening() bool { return cs == ListeningState }

// IsUnsynced returns if the current state is connected but not synced.
func (cs ConnState) IsUnsynced() bool { return cs == UnsyncedState }

// IsSynced returns if the current state is synced.
func (cs ConnState) IsSynced() bool { return cs == SyncedState }

// String returns string representation of the state.
func (cs ConnState) String() string {
	switch cs {
	case ListeningState:
		return "listening"
	case UnsyncedState:
		return "connected-unsynced"
	case SyncedState:
		return "connected-synced"
	default:
		return "unknown"
	}
}

// ConnStateChangeHandler is invoked when the connection state changes.
//
// Handlers run synchronously with the state manager locked. They must return quickly and must
// not call back into the ConnStateMgr.
type ConnStateChangeHandler func(prevState ConnState, newState ConnState)

// ConnStateMgr manages the connection state of the engine.
//
// Transitions are serialized; State and the Is* methods are lock-free and safe for concurrent use.
type ConnStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []ConnStateChangeHandler
}

// NewConnStateMgr creates a new ConnStateMgr in ListeningState.
// A nil logger selects the package default.
func NewConnStateMgr(l logger.Logger, handlers ...ConnStateChangeHandler) *ConnStateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	cs := &ConnStateMgr{
		logger:   l,
		handlers: make([]ConnStateChangeHandler, 0, len(handlers)),
	}
	cs.cond = sync.NewCond(&cs.mu)
	cs.state.Store(uint32(ListeningState))
	cs.AddHandler(handlers...)

	return cs
}

// State returns the current connection state.
func (cs *ConnStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

// AddHandler adds handlers invoked on every state change.
func (cs *ConnStateMgr) AddHandler(handlers ...ConnStateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			cs.handlers = append(cs.handlers, h)
		}
	}
}

// WaitState blocks until the connection reaches state or ctx is done.
// It returns nil if the desired state is reached, or the context error.
func (cs *ConnStateMgr) WaitState(ctx context.Context, state ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		cs.mu.Lock()
		cs.cond.Broadcast()
		cs.mu.Unlock()
	})
	defer stop()

	for cs.State() != state {
		if err := ctx.Err(); err != nil {
			return err
		}
		cs.cond.Wait()
	}

	return nil
}

// ToListening transitions to ListeningState. It is allowed from any state.
// It returns false if the state was already ListeningState.
func (cs *ConnStateMgr) ToListening() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsListening() {
		return false
	}

	// waiters observe the loss of the connection before handlers run
	cs.setState(ListeningState)
	cs.invokeHandlers(curState, ListeningState)

	return true
}

// ToUnsynced transitions to UnsyncedState. It is only allowed from ListeningState.
//
// Returns nil on success or if already unsynced, ErrInvalidTransition otherwise.
func (cs *ConnStateMgr) ToUnsynced() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsUnsynced() {
		return nil
	}

	if !curState.IsListening() {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, UnsyncedState)
	cs.setState(UnsyncedState)

	return nil
}

// ToSynced transitions to SyncedState. It is only allowed from UnsyncedState.
//
// Returns nil on success or if already synced, ErrInvalidTransition otherwise.
func (cs *ConnStateMgr) ToSynced() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsSynced() {
		return nil
	}

	if !curState.IsUnsynced() {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, SyncedState)
	cs.setState(SyncedState)

	return nil
}

// IsListening returns if the current state is listening.
func (cs *ConnStateMgr) IsListening() bool { return cs.State().IsListening() }

// IsUnsynced returns if the current state is connected but not synced.
func (cs *ConnStateMgr) IsUnsynced() bool { return cs.State().IsUnsynced() }

// IsSynced returns if the current state is synced.
func (cs *ConnStateMgr) IsSynced() bool { return cs.State().IsSynced() }

// setState stores newState and wakes up waiters. cs.mu must be held.
func (cs *ConnStateMgr) setState(newState ConnState) {
	cs.state.Store(uint32(newState))
	cs.cond.Broadcast()
}

func (cs *ConnStateMgr) invokeHandlers(prevState ConnState, newState ConnState) {
	cs.logger.Debug("connection state changes", "prev_state", prevState, "new_state", newState)
	for _, handler := range cs.handlers {
		handler(prevState, newState)
	}
}
