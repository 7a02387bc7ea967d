package xsigserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/go-xsig/logger"
	"github.com/arloliu/go-xsig/xsig"
)

// Port limits of the XSIG listener.
const (
	DefaultPort = 32768
	MinPort     = 1024
	MaxPort     = 65535
)

// ErrServerConfigNil is returned when an option is applied to a nil configuration.
var ErrServerConfigNil = errors.New("xsig: server config is nil")

// ServerConfig holds the tunables of an XSIG server.
type ServerConfig struct {
	mu sync.RWMutex

	// commandQueueSize is the capacity of the outbound command queue.
	// Defaults to 100.
	commandQueueSize int

	// commandTimeout bounds how long Set waits for room in a full command queue, and how long the
	// command consumer waits for availability before it rechecks.
	// Defaults to 5 seconds.
	commandTimeout time.Duration

	// callbackTimeout bounds the wait for the callbacks of one notification.
	// Defaults to 500 milliseconds.
	callbackTimeout time.Duration

	// rateLimit is the number of sets admitted per join within rateWindow. Zero disables limiting.
	// Defaults to 1000 per second.
	rateLimit  int
	rateWindow time.Duration

	// syncDebounce is the window in which repeated sync-all markers, and update requests sent
	// after protocol errors, are suppressed.
	// Defaults to 100 milliseconds.
	syncDebounce time.Duration

	// initialSyncTimeout drops a connection that doesn't complete the handshake in time.
	// Zero disables it; this is the default.
	initialSyncTimeout time.Duration

	// digitalEchoTimeout is how long a digital set waits for the control system to echo the join
	// before the value is applied locally. Zero disables the fallback.
	// Defaults to 2 seconds.
	digitalEchoTimeout time.Duration

	// closeTimeout bounds the wait for connection goroutines when a connection is torn down.
	// Defaults to 3 seconds.
	closeTimeout time.Duration

	// acceptTimeout is the deadline of each accept iteration, so the accept loop notices shutdown.
	// Defaults to 1 second.
	acceptTimeout time.Duration

	// writeTimeout is the write deadline of each frame written to the socket.
	// Defaults to 5 seconds.
	writeTimeout time.Duration

	logger logger.Logger
}

// NewServerConfig creates a configuration with default values and applies opts in order.
func NewServerConfig(opts ...ServerOption) (*ServerConfig, error) {
	cfg := &ServerConfig{
		commandQueueSize:   100,
		commandTimeout:     5 * time.Second,
		callbackTimeout:    500 * time.Millisecond,
		rateLimit:          1000,
		rateWindow:         time.Second,
		syncDebounce:       100 * time.Millisecond,
		initialSyncTimeout: 0,
		digitalEchoTimeout: 2 * time.Second,
		closeTimeout:       3 * time.Second,
		acceptTimeout:      time.Second,
		writeTimeout:       5 * time.Second,
		logger:             logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func (cfg *ServerConfig) CommandQueueSize() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.commandQueueSize
}

func (cfg *ServerConfig) CommandTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.commandTimeout
}

func (cfg *ServerConfig) CallbackTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.callbackTimeout
}

// RateLimit returns the number of sets admitted per join within the returned window.
func (cfg *ServerConfig) RateLimit() (int, time.Duration) {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.rateLimit, cfg.rateWindow
}

func (cfg *ServerConfig) SyncDebounce() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.syncDebounce
}

func (cfg *ServerConfig) InitialSyncTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.initialSyncTimeout
}

func (cfg *ServerConfig) DigitalEchoTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.digitalEchoTimeout
}

func (cfg *ServerConfig) CloseTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.closeTimeout
}

func (cfg *ServerConfig) AcceptTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.acceptTimeout
}

func (cfg *ServerConfig) WriteTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.writeTimeout
}

func (cfg *ServerConfig) Logger() logger.Logger {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.logger
}

// ServerOption represents a functional option for configuring a ServerConfig.
type ServerOption interface {
	apply(*ServerConfig) error
}

type serverOptFunc struct {
	name      string
	applyFunc func(*ServerConfig) error
}

func (o *serverOptFunc) apply(cfg *ServerConfig) error {
	if cfg == nil {
		return ErrServerConfigNil
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if err := o.applyFunc(cfg); err != nil {
		return fmt.Errorf("%s: %w", o.name, err)
	}

	return nil
}

func newServerOptFunc(name string, f func(*ServerConfig) error) *serverOptFunc {
	return &serverOptFunc{name: name, applyFunc: f}
}

func checkRange(what string, d, lo, hi time.Duration) error {
	if d < lo || d > hi {
		return fmt.Errorf("%w: %s %v out of range [%v, %v]", xsig.ErrValidation, what, d, lo, hi)
	}

	return nil
}

// WithCommandQueueSize sets the capacity of the outbound command queue, between 1 and 10000.
//
// The default value is 100.
func WithCommandQueueSize(size int) ServerOption {
	return newServerOptFunc("WithCommandQueueSize", func(cfg *ServerConfig) error {
		if size < 1 || size > 10000 {
			return fmt.Errorf("%w: command queue size %d out of range [1, 10000]", xsig.ErrValidation, size)
		}
		cfg.commandQueueSize = size

		return nil
	})
}

// WithCommandTimeout sets how long Set waits for room in a full command queue. It is also the
// recheck period of the command consumer while the control system is unavailable.
// It should be between 10 milliseconds and 60 seconds.
//
// The default value is 5 seconds.
func WithCommandTimeout(timeout time.Duration) ServerOption {
	return newServerOptFunc("WithCommandTimeout", func(cfg *ServerConfig) error {
		if err := checkRange("command timeout", timeout, 10*time.Millisecond, time.Minute); err != nil {
			return err
		}
		cfg.commandTimeout = timeout

		return nil
	})
}

// WithCallbackTimeout sets the bound on waiting for the callbacks of one notification.
// Callbacks exceeding it are logged and left running. It should be between 1 millisecond and 30 seconds.
//
// The default value is 500 milliseconds.
func WithCallbackTimeout(timeout time.Duration) ServerOption {
	return newServerOptFunc("WithCallbackTimeout", func(cfg *ServerConfig) error {
		if err := checkRange("callback timeout", timeout, time.Millisecond, 30*time.Second); err != nil {
			return err
		}
		cfg.callbackTimeout = timeout

		return nil
	})
}

// WithRateLimit admits at most limit sets per join within window. A limit of zero disables rate limiting.
//
// The default value is 1000 sets per second.
func WithRateLimit(limit int, window time.Duration) ServerOption {
	return newServerOptFunc("WithRateLimit", func(cfg *ServerConfig) error {
		if limit < 0 {
			return fmt.Errorf("%w: rate limit must not be negative", xsig.ErrValidation)
		}
		if window <= 0 {
			return fmt.Errorf("%w: rate window must be positive", xsig.ErrValidation)
		}
		cfg.rateLimit = limit
		cfg.rateWindow = window

		return nil
	})
}

// WithSyncDebounce sets the window in which repeated sync-all markers are ignored.
// It should be between 0 and 10 seconds.
//
// The default value is 100 milliseconds.
func WithSyncDebounce(d time.Duration) ServerOption {
	return newServerOptFunc("WithSyncDebounce", func(cfg *ServerConfig) error {
		if err := checkRange("sync debounce", d, 0, 10*time.Second); err != nil {
			return err
		}
		cfg.syncDebounce = d

		return nil
	})
}

// WithInitialSyncTimeout drops a connection that doesn't answer the initial update request within
// timeout. Zero disables the check; otherwise it should be between 100 milliseconds and 5 minutes.
//
// The default value is 0.
func WithInitialSyncTimeout(timeout time.Duration) ServerOption {
	return newServerOptFunc("WithInitialSyncTimeout", func(cfg *ServerConfig) error {
		if timeout != 0 {
			if err := checkRange("initial sync timeout", timeout, 100*time.Millisecond, 5*time.Minute); err != nil {
				return err
			}
		}
		cfg.initialSyncTimeout = timeout

		return nil
	})
}

// WithDigitalEchoTimeout sets how long a digital set waits for the control system to echo the join
// before the value is applied locally and subscribers are notified. Zero disables the fallback.
// It should be at most 1 minute.
//
// The default value is 2 seconds.
func WithDigitalEchoTimeout(timeout time.Duration) ServerOption {
	return newServerOptFunc("WithDigitalEchoTimeout", func(cfg *ServerConfig) error {
		if err := checkRange("digital echo timeout", timeout, 0, time.Minute); err != nil {
			return err
		}
		cfg.digitalEchoTimeout = timeout

		return nil
	})
}

// WithCloseTimeout sets the bound on waiting for connection goroutines on teardown.
// It should be between 1 millisecond and 30 seconds.
//
// The default value is 3 seconds.
func WithCloseTimeout(timeout time.Duration) ServerOption {
	return newServerOptFunc("WithCloseTimeout", func(cfg *ServerConfig) error {
		if err := checkRange("close timeout", timeout, time.Millisecond, 30*time.Second); err != nil {
			return err
		}
		cfg.closeTimeout = timeout

		return nil
	})
}

// WithAcceptTimeout sets the deadline of each accept iteration.
// It should be between 10 milliseconds and 2 seconds.
//
// The default value is 1 second.
func WithAcceptTimeout(timeout time.Duration) ServerOption {
	return newServerOptFunc("WithAcceptTimeout", func(cfg *ServerConfig) error {
		if err := checkRange("accept timeout", timeout, 10*time.Millisecond, 2*time.Second); err != nil {
			return err
		}
		cfg.acceptTimeout = timeout

		return nil
	})
}

// WithWriteTimeout sets the write deadline of each frame.
// It should be between 10 milliseconds and 60 seconds.
//
// The default value is 5 seconds.
func WithWriteTimeout(timeout time.Duration) ServerOption {
	return newServerOptFunc("WithWriteTimeout", func(cfg *ServerConfig) error {
		if err := checkRange("write timeout", timeout, 10*time.Millisecond, time.Minute); err != nil {
			return err
		}
		cfg.writeTimeout = timeout

		return nil
	})
}

// WithLogger sets the logger of the server. Nil selects the package default logger.
func WithLogger(l logger.Logger) ServerOption {
	return newServerOptFunc("WithLogger", func(cfg *ServerConfig) error {
		if l == nil {
			l = logger.GetLogger()
		}
		cfg.logger = l

		return nil
	})
}

// ValidatePort checks that port is usable by the XSIG listener.
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: port %d out of range [%d, %d]", xsig.ErrValidation, port, MinPort, MaxPort)
	}

	return nil
}
