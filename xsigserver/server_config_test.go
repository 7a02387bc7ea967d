package xsigserver

import (
	"testing"
	"time"

	"github.com/arloliu/go-xsig/logger"
	"github.com/arloliu/go-xsig/xsig"
	"github.com/stretchr/testify/require"
)

func TestNewServerConfig_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := NewServerConfig()
	require.NoError(err)

	require.Equal(100, cfg.CommandQueueSize())
	require.Equal(5*time.Second, cfg.CommandTimeout())
	require.Equal(500*time.Millisecond, cfg.CallbackTimeout())
	limit, window := cfg.RateLimit()
	require.Equal(1000, limit)
	require.Equal(time.Second, window)
	require.Equal(100*time.Millisecond, cfg.SyncDebounce())
	require.Zero(cfg.InitialSyncTimeout())
	require.Equal(2*time.Second, cfg.DigitalEchoTimeout())
	require.Equal(3*time.Second, cfg.CloseTimeout())
	require.Equal(time.Second, cfg.AcceptTimeout())
	require.Equal(5*time.Second, cfg.WriteTimeout())
	require.NotNil(cfg.Logger())
}

func TestNewServerConfig_Options(t *testing.T) {
	require := require.New(t)

	l := logger.NewMockLogger()
	cfg, err := NewServerConfig(
		WithCommandQueueSize(10),
		WithCommandTimeout(time.Second),
		WithCallbackTimeout(50*time.Millisecond),
		WithRateLimit(0, time.Second),
		WithSyncDebounce(0),
		WithInitialSyncTimeout(10*time.Second),
		WithDigitalEchoTimeout(0),
		WithCloseTimeout(time.Second),
		WithAcceptTimeout(100*time.Millisecond),
		WithWriteTimeout(time.Second),
		WithLogger(l),
	)
	require.NoError(err)

	require.Equal(10, cfg.CommandQueueSize())
	require.Equal(time.Second, cfg.CommandTimeout())
	require.Equal(50*time.Millisecond, cfg.CallbackTimeout())
	limit, _ := cfg.RateLimit()
	require.Zero(limit)
	require.Zero(cfg.SyncDebounce())
	require.Equal(10*time.Second, cfg.InitialSyncTimeout())
	require.Zero(cfg.DigitalEchoTimeout())
	require.Same(l, cfg.Logger())
}

func TestNewServerConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opt  ServerOption
	}{
		{"queue size zero", WithCommandQueueSize(0)},
		{"queue size too large", WithCommandQueueSize(10001)},
		{"command timeout too short", WithCommandTimeout(time.Millisecond)},
		{"callback timeout too long", WithCallbackTimeout(time.Minute)},
		{"negative rate limit", WithRateLimit(-1, time.Second)},
		{"zero rate window", WithRateLimit(10, 0)},
		{"negative debounce", WithSyncDebounce(-time.Millisecond)},
		{"initial sync timeout too short", WithInitialSyncTimeout(time.Millisecond)},
		{"echo timeout too long", WithDigitalEchoTimeout(2 * time.Minute)},
		{"close timeout zero", WithCloseTimeout(0)},
		{"accept timeout too long", WithAcceptTimeout(3 * time.Second)},
		{"write timeout too short", WithWriteTimeout(time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewServerConfig(tt.opt)
			require.ErrorIs(t, err, xsig.ErrValidation)
		})
	}
}

func TestServerOption_NilConfig(t *testing.T) {
	require.ErrorIs(t, WithCommandQueueSize(1).apply(nil), ErrServerConfigNil)
}

func TestValidatePort(t *testing.T) {
	require := require.New(t)

	require.NoError(ValidatePort(DefaultPort))
	require.NoError(ValidatePort(MinPort))
	require.NoError(ValidatePort(MaxPort))
	require.ErrorIs(ValidatePort(0), xsig.ErrValidation)
	require.ErrorIs(ValidatePort(1023), xsig.ErrValidation)
	require.ErrorIs(ValidatePort(65536), xsig.ErrValidation)
}
