// Package metrics exposes the engine counters to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-xsig/xsigserver"
)

const namespace = "xsig"

// Source is the part of the engine the collector reads.
type Source interface {
	GetMetrics() *xsigserver.ServerMetrics
	QueueDepth() int
	Available() bool
}

// NewRegistry returns a registry holding the engine collectors of src plus the Go runtime and
// process collectors.
func NewRegistry(src Source) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	if err := Register(reg, src); err != nil {
		return nil, err
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg, nil
}

// Register registers the engine collectors of src with reg.
func Register(reg prometheus.Registerer, src Source) error {
	m := src.GetMetrics()

	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	frames := func(typ string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "frames_received_total",
			Help:        "Frames received from the control system.",
			ConstLabels: prometheus.Labels{"type": typ},
		}, func() float64 { return float64(v.Load()) })
	}

	cs := []prometheus.Collector{
		frames("digital", &m.DigitalRecvCount),
		frames("analog", &m.AnalogRecvCount),
		frames("serial", &m.SerialRecvCount),
		frames("control", &m.ControlRecvCount),
		counter("frames_sent_total", "Frames written to the control system.", &m.FrameSendCount),
		counter("protocol_errors_total", "Undecodable bytes skipped.", &m.ProtocolErrCount),
		counter("command_errors_total", "Commands that failed to write.", &m.CommandErrCount),
		counter("commands_dropped_total", "Commands dropped because the connection went away.", &m.CommandDropCount),
		counter("rate_limited_total", "Sets rejected by the per-join rate limiter.", &m.RateLimitedCount),
		counter("echo_fallbacks_total", "Digital sets applied locally without an echo.", &m.EchoFallbackCount),
		counter("callback_errors_total", "Callbacks that failed or panicked.", &m.CallbackErrCount),
		counter("callback_timeouts_total", "Notifications whose callbacks exceeded the timeout.", &m.CallbackTimeoutCount),
		counter("connections_accepted_total", "Control-system connections accepted.", &m.ConnAcceptCount),
		counter("disconnects_total", "Control-system connections torn down.", &m.DisconnectCount),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "command_queue_depth",
			Help:      "Commands waiting to be written.",
		}, func() float64 { return float64(src.QueueDepth()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available",
			Help:      "1 when a synchronized control system is connected.",
		}, func() float64 {
			if src.Available() {
				return 1
			}
			return 0
		}),
	}

	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("registering engine metrics: %w", err)
		}
	}

	return nil
}

// Handler returns the HTTP handler serving reg, with a /health endpoint next to path.
func Handler(reg *prometheus.Registry, path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

// NewHTTPServer returns the metrics HTTP server listening on addr.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve runs srv until it is shut down. A graceful shutdown is not an error.
func Serve(srv *http.Server, ln net.Listener) error {
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
