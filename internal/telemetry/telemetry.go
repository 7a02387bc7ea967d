// Package telemetry records join changes as InfluxDB points.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/arloliu/go-xsig/internal/config"
	"github.com/arloliu/go-xsig/logger"
	"github.com/arloliu/go-xsig/xsig"
)

// Measurement is the name of the measurement join points are written to.
const Measurement = "xsig_join"

const defaultPingTimeout = 5 * time.Second

var (
	// ErrDisabled is returned by Connect when the influxdb section is disabled.
	ErrDisabled = errors.New("telemetry: influxdb disabled")
	// ErrConnectionFailed is returned by Connect when the server can't be reached.
	ErrConnectionFailed = errors.New("telemetry: influxdb connection failed")
)

// PointWriter is the subset of the influxdb non-blocking write API used by Writer.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// JoinSource is where Writer subscribes for join events.
type JoinSource interface {
	RegisterCallback(id xsig.JoinID, cb xsig.Callback) (unregister func())
}

// Writer turns join events into points.
//
// Writes are non-blocking and batched by the underlying write API. Write errors are logged.
type Writer struct {
	client influxdb2.Client
	api    PointWriter
	logger logger.Logger

	mu         sync.Mutex
	unregister func()
	closed     bool
}

// Connect creates an influxdb client from cfg, verifies it with a ping, and returns a Writer
// using its non-blocking write API.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, l logger.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = time.Second
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(uint(flushInterval.Milliseconds())),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	w := New(writeAPI, l)
	w.client = client

	go w.handleWriteErrors(writeAPI.Errors())

	return w, nil
}

// New returns a Writer on top of an existing write API. A nil logger selects the default logger.
func New(api PointWriter, l logger.Logger) *Writer {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Writer{api: api, logger: l.With("component", "telemetry")}
}

func (w *Writer) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		w.logger.Error("influxdb write failed", "error", err)
	}
}

// Attach subscribes w to every join event of src. A previous subscription is replaced.
func (w *Writer) Attach(src JoinSource) {
	unregister := src.RegisterCallback(xsig.AnyJoinID, w.Record)

	w.mu.Lock()
	prev := w.unregister
	w.unregister = unregister
	w.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// Record writes ev as a point. System events and events after Close are ignored.
func (w *Writer) Record(ev xsig.Event) error {
	if ev.IsSystem() {
		return nil
	}

	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return nil
	}

	w.api.WritePoint(NewPoint(ev))

	return nil
}

// NewPoint returns the point describing ev.
func NewPoint(ev xsig.Event) *write.Point {
	var value any
	switch ev.Type {
	case xsig.Digital:
		value = ev.Digital
	case xsig.Analog:
		value = int64(ev.Analog)
	default:
		value = ev.Serial
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		Measurement,
		map[string]string{
			"join_id": string(ev.ID),
			"type":    ev.Type.String(),
		},
		map[string]any{"value": value},
		ts,
	)
}

// Close unsubscribes, flushes pending points and closes the client. It is idempotent.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	unregister := w.unregister
	w.unregister = nil
	w.mu.Unlock()

	if unregister != nil {
		unregister()
	}

	w.api.Flush()

	if w.client != nil {
		w.client.Close()
	}
}
