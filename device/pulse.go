package device

import (
	"context"
	"time"

	"github.com/arloliu/go-xsig/internal/pool"
	"github.com/arloliu/go-xsig/xsig"
)

// Pulse duration limits.
const (
	MinPulseDuration     = 10 * time.Millisecond
	MaxPulseDuration     = 5 * time.Second
	DefaultPulseDuration = 100 * time.Millisecond
)

// ClampPulseDuration limits d to MinPulseDuration..MaxPulseDuration.
func ClampPulseDuration(d time.Duration) time.Duration {
	return min(max(d, MinPulseDuration), MaxPulseDuration)
}

// Pulse sets digital join high, waits d (clamped by ClampPulseDuration) and sets it low again.
//
// The join is released even when ctx is done during the wait; the context error is returned then.
func Pulse(ctx context.Context, io xsig.JoinIO, join int, d time.Duration) error {
	if err := io.SetDigital(join, true); err != nil {
		return err
	}

	timer := pool.GetTimer(ClampPulseDuration(d))
	defer pool.PutTimer(timer)

	var ctxErr error
	select {
	case <-ctx.Done():
		ctxErr = ctx.Err()
	case <-timer.C:
	}

	if err := io.SetDigital(join, false); err != nil {
		return err
	}

	return ctxErr
}
