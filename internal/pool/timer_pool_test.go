package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerPool(t *testing.T) {
	t.Run("fires after the requested duration", func(t *testing.T) {
		require := require.New(t)

		begin := time.Now()
		timer := GetTimer(30 * time.Millisecond)
		<-timer.C
		require.GreaterOrEqual(time.Since(begin), 30*time.Millisecond)
		PutTimer(timer)
	})

	t.Run("reused timer carries no stale tick", func(t *testing.T) {
		require := require.New(t)

		timer := GetTimer(time.Millisecond)
		time.Sleep(10 * time.Millisecond) // expired, value never received
		PutTimer(timer)

		begin := time.Now()
		timer = GetTimer(50 * time.Millisecond)
		defer PutTimer(timer)

		select {
		case <-timer.C:
			require.GreaterOrEqual(time.Since(begin), 45*time.Millisecond)
		case <-time.After(time.Second):
			require.Fail("timer didn't fire")
		}
	})

	t.Run("concurrent use", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				timer := GetTimer(5 * time.Millisecond)
				defer PutTimer(timer)
				<-timer.C
			}()
		}
		wg.Wait()
	})
}

func TestFrameBufferPool(t *testing.T) {
	require := require.New(t)

	b := GetFrameBuffer()
	require.Empty(*b)
	require.GreaterOrEqual(cap(*b), FrameBufferSize)

	*b = append(*b, 0x80, 0x09)
	PutFrameBuffer(b)

	b = GetFrameBuffer()
	require.Empty(*b, "buffers are returned empty")
	PutFrameBuffer(b)

	big := make([]byte, 0, 10*FrameBufferSize)
	PutFrameBuffer(&big)
	PutFrameBuffer(nil)
}
