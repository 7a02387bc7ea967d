package xsig

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnStateTransitions(t *testing.T) {
	t.Run("Initial State", func(t *testing.T) {
		cs := NewConnStateMgr(nil)
		require.Equal(t, ListeningState, cs.State())
		require.True(t, cs.IsListening())
	})

	t.Run("Handshake", func(t *testing.T) {
		require := require.New(t)

		var changes [][2]ConnState
		cs := NewConnStateMgr(nil, func(prev, cur ConnState) { changes = append(changes, [2]ConnState{prev, cur}) })

		require.ErrorIs(cs.ToSynced(), ErrInvalidTransition)
		require.Empty(changes)

		require.NoError(cs.ToUnsynced())
		require.True(cs.IsUnsynced())

		// no-op
		require.NoError(cs.ToUnsynced())
		require.Len(changes, 1)

		require.NoError(cs.ToSynced())
		require.True(cs.IsSynced())
		require.NoError(cs.ToSynced())
		require.Len(changes, 2)

		require.ErrorIs(cs.ToUnsynced(), ErrInvalidTransition)

		require.True(cs.ToListening())
		require.False(cs.ToListening())
		require.True(cs.IsListening())

		require.Equal([][2]ConnState{
			{ListeningState, UnsyncedState},
			{UnsyncedState, SyncedState},
			{SyncedState, ListeningState},
		}, changes)
	})

	t.Run("Handler observes state", func(t *testing.T) {
		require := require.New(t)

		var seen []ConnState
		cs := NewConnStateMgr(nil)
		cs.AddHandler(func(_, _ ConnState) { seen = append(seen, cs.State()) })

		require.NoError(cs.ToUnsynced())
		require.NoError(cs.ToSynced())
		cs.ToListening()

		// state is committed after the handlers for forward transitions and before them for ToListening
		require.Equal([]ConnState{ListeningState, UnsyncedState, ListeningState}, seen)
	})
}

func TestWaitConnState(t *testing.T) {
	require := require.New(t)

	cs := NewConnStateMgr(nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = cs.ToUnsynced()
	}()

	begin := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(cs.WaitState(ctx, UnsyncedState))
	require.NoError(cs.WaitState(ctx, UnsyncedState))

	err := cs.WaitState(ctx, SyncedState)
	require.ErrorIs(err, context.DeadlineExceeded)
	require.WithinDuration(begin.Add(100*time.Millisecond), time.Now(), 30*time.Millisecond)
}

func TestWaitConnState_Canceled(t *testing.T) {
	require := require.New(t)

	cs := NewConnStateMgr(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(cs.WaitState(ctx, SyncedState), context.Canceled)
	require.NoError(cs.WaitState(ctx, ListeningState))
}

func TestConnState_String(t *testing.T) {
	require := require.New(t)

	require.Equal("listening", ListeningState.String())
	require.Equal("connected-unsynced", UnsyncedState.String())
	require.Equal("connected-synced", SyncedState.String())
	require.Equal("unknown", ConnState(99).String())
}
