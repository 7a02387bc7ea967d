package xsigserver

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-xsig/logger"
	"github.com/arloliu/go-xsig/xsig"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(timeout time.Duration) (*callbackRegistry, *logger.MockLogger, *ServerMetrics) {
	l := logger.NewMockLogger()
	l.On("Warn", mock.Anything, mock.Anything).Return()
	l.On("Error", mock.Anything, mock.Anything).Return()

	metrics := &ServerMetrics{}

	return newCallbackRegistry(l, metrics, func() time.Duration { return timeout }), l, metrics
}

func digitalEvent(join int, value bool) xsig.Event {
	return xsig.NewJoinEvent(xsig.Frame{Type: xsig.Digital, Join: join, Digital: value})
}

func TestCallbackRegistry_RegisterUnregister(t *testing.T) {
	require := require.New(t)

	r, _, _ := newTestRegistry(time.Second)

	var calls atomic.Int32
	cb := func(xsig.Event) error {
		calls.Add(1)
		return nil
	}

	unregister1 := r.register(xsig.DigitalID(10), cb)
	unregister2 := r.register(xsig.DigitalID(10), cb)
	require.Equal(2, r.count(xsig.DigitalID(10)))

	r.notify(digitalEvent(10, true))
	require.Equal(int32(2), calls.Load())

	unregister1()
	unregister1()
	require.Equal(1, r.count(xsig.DigitalID(10)))

	r.notify(digitalEvent(10, false))
	require.Equal(int32(3), calls.Load())

	unregister2()
	require.Zero(r.count(xsig.DigitalID(10)))

	// nil callbacks are ignored
	r.register(xsig.DigitalID(1), nil)()
	require.Zero(r.count(xsig.DigitalID(1)))
}

func TestCallbackRegistry_Routing(t *testing.T) {
	require := require.New(t)

	r, _, _ := newTestRegistry(time.Second)

	var d10, d11, wildcard, system atomic.Int32
	r.register(xsig.DigitalID(10), func(xsig.Event) error { d10.Add(1); return nil })
	r.register(xsig.DigitalID(11), func(xsig.Event) error { d11.Add(1); return nil })
	r.register(xsig.AnyJoinID, func(xsig.Event) error { wildcard.Add(1); return nil })

	var state atomic.Value
	r.register(xsig.SystemID, func(ev xsig.Event) error {
		system.Add(1)
		state.Store(ev.System)
		return nil
	})

	r.notify(digitalEvent(10, true))
	r.notify(xsig.NewJoinEvent(xsig.Frame{Type: xsig.Analog, Join: 10, Analog: 1}))
	r.notify(xsig.NewSystemEvent(xsig.SystemConnected))

	require.Equal(int32(1), d10.Load())
	require.Zero(d11.Load())
	require.Equal(int32(2), wildcard.Load(), "wildcard receives join events only")
	require.Equal(int32(1), system.Load())
	require.Equal(xsig.SystemConnected, state.Load())
}

func TestCallbackRegistry_Timeout(t *testing.T) {
	require := require.New(t)

	r, l, metrics := newTestRegistry(50 * time.Millisecond)

	release := make(chan struct{})
	defer close(release)

	var fastDone atomic.Bool
	r.register(xsig.DigitalID(1), func(xsig.Event) error {
		<-release
		return nil
	})
	r.register(xsig.DigitalID(1), func(xsig.Event) error {
		fastDone.Store(true)
		return nil
	})

	start := time.Now()
	r.notify(digitalEvent(1, true))
	elapsed := time.Since(start)

	require.GreaterOrEqual(elapsed, 50*time.Millisecond)
	require.Less(elapsed, time.Second)
	require.True(fastDone.Load())
	require.Equal(uint64(1), metrics.CallbackTimeoutCount.Load())
	l.AssertCalled(t, "Warn", "callback timed out", mock.Anything)
}

func TestCallbackRegistry_ErrorAndPanic(t *testing.T) {
	require := require.New(t)

	r, l, metrics := newTestRegistry(time.Second)

	var healthy atomic.Bool
	r.register(xsig.SerialID(3), func(xsig.Event) error { return errors.New("failed") })
	r.register(xsig.SerialID(3), func(xsig.Event) error { panic("boom") })
	r.register(xsig.SerialID(3), func(xsig.Event) error {
		healthy.Store(true)
		return nil
	})

	r.notify(xsig.NewJoinEvent(xsig.Frame{Type: xsig.Serial, Join: 3, Serial: "hi"}))

	require.True(healthy.Load())
	require.Equal(uint64(2), metrics.CallbackErrCount.Load())
	require.Zero(metrics.CallbackTimeoutCount.Load())
	l.AssertCalled(t, "Error", "callback failed", mock.Anything)
	l.AssertCalled(t, "Error", "callback panicked", mock.Anything)
}

func TestCallbackRegistry_Reentrant(t *testing.T) {
	require := require.New(t)

	r, _, _ := newTestRegistry(time.Second)

	var inner atomic.Int32
	var unregister func()
	unregister = r.register(xsig.DigitalID(1), func(xsig.Event) error {
		// registering and unregistering from a callback doesn't deadlock
		r.register(xsig.DigitalID(2), func(xsig.Event) error { inner.Add(1); return nil })
		unregister()
		return nil
	})

	r.notify(digitalEvent(1, true))
	require.Zero(r.count(xsig.DigitalID(1)))
	require.Equal(1, r.count(xsig.DigitalID(2)))

	r.notify(digitalEvent(2, true))
	require.Equal(int32(1), inner.Load())
}
