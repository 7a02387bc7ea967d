package xsig

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-xsig/logger"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTaskMockLogger() *logger.MockLogger {
	l := logger.NewMockLogger()
	l.On("Debug", mock.Anything, mock.Anything).Return()
	l.On("Warn", mock.Anything, mock.Anything).Return()
	l.On("Error", mock.Anything, mock.Anything).Return()

	return l
}

func TestTaskManager_Start(t *testing.T) {
	require := require.New(t)

	taskMgr := NewTaskManager(context.Background(), newTaskMockLogger())

	var count atomic.Int32
	require.NoError(taskMgr.Start("counter", func() bool {
		return count.Add(1) < 5
	}))

	require.Eventually(func() bool { return taskMgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(int32(5), count.Load())
}

func TestTaskManager_StopAndRestart(t *testing.T) {
	require := require.New(t)

	taskMgr := NewTaskManager(context.Background(), newTaskMockLogger())

	var canceled atomic.Bool
	require.NoError(taskMgr.StartReceiver("loop", func() bool {
		time.Sleep(time.Millisecond)
		return true
	}, func() { canceled.Store(true) }))
	require.Equal(1, taskMgr.TaskCount())

	taskMgr.Stop()
	require.ErrorIs(taskMgr.Start("late", func() bool { return false }), ErrTaskManagerStopped)

	taskMgr.Wait()
	require.True(canceled.Load())
	require.Equal(0, taskMgr.TaskCount())

	// the manager is rearmed after Wait
	done := make(chan struct{})
	require.NoError(taskMgr.Go("once", func(_ context.Context) { close(done) }))
	<-done
}

func TestTaskManager_Go(t *testing.T) {
	require := require.New(t)

	taskMgr := NewTaskManager(context.Background(), newTaskMockLogger())

	var stopped atomic.Bool
	require.NoError(taskMgr.Go("watch", func(ctx context.Context) {
		<-ctx.Done()
		stopped.Store(true)
	}))

	taskMgr.Stop()
	require.True(taskMgr.WaitTimeout(time.Second))
	require.True(stopped.Load())
}

func TestTaskManager_Interval(t *testing.T) {
	require := require.New(t)

	taskMgr := NewTaskManager(context.Background(), newTaskMockLogger())

	var count atomic.Int32
	require.NoError(taskMgr.StartInterval("tick", func() bool {
		return count.Add(1) < 3
	}, 5*time.Millisecond))
	require.Error(taskMgr.StartInterval("tick", func() bool { return true }, 5*time.Millisecond))
	require.Error(taskMgr.StartInterval("bad", func() bool { return true }, 0))

	require.Eventually(func() bool { return count.Load() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(func() bool { return taskMgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)

	// the name is free again once the task ended
	require.NoError(taskMgr.StartInterval("tick", func() bool { return false }, 5*time.Millisecond))
	taskMgr.Stop()
	taskMgr.Wait()
}

func TestTaskManager_RecoverPanic(t *testing.T) {
	require := require.New(t)

	l := newTaskMockLogger()
	taskMgr := NewTaskManager(context.Background(), l)

	require.NoError(taskMgr.Start("panic", func() bool { panic("boom") }))
	require.Eventually(func() bool { return taskMgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
	l.AssertCalled(t, "Error", "panic in task", mock.Anything)
}

func TestTaskManager_WaitTimeout(t *testing.T) {
	require := require.New(t)

	taskMgr := NewTaskManager(context.Background(), newTaskMockLogger())

	release := make(chan struct{})
	require.NoError(taskMgr.Go("stuck", func(_ context.Context) { <-release }))

	taskMgr.Stop()
	require.False(taskMgr.WaitTimeout(20 * time.Millisecond))

	close(release)
	require.Eventually(func() bool { return taskMgr.TaskCount() == 0 }, time.Second, 5*time.Millisecond)
}
