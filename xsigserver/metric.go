package xsigserver

import (
	"sync/atomic"

	"github.com/arloliu/go-xsig/xsig"
)

// ServerMetrics contains atomic metrics of a server.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ServerMetrics struct {
	// DigitalRecvCount indicates the number of digital frames received.
	DigitalRecvCount atomic.Uint64
	// AnalogRecvCount indicates the number of analog frames received.
	AnalogRecvCount atomic.Uint64
	// SerialRecvCount indicates the number of serial frames received.
	SerialRecvCount atomic.Uint64
	// ControlRecvCount indicates the number of control bytes received.
	ControlRecvCount atomic.Uint64
	// ProtocolErrCount indicates the number of undecodable bytes skipped.
	ProtocolErrCount atomic.Uint64

	// FrameSendCount indicates the number of frames written, control bytes included.
	FrameSendCount atomic.Uint64
	// CommandErrCount indicates the number of commands that failed to write.
	CommandErrCount atomic.Uint64
	// CommandDropCount indicates the number of commands dropped because the connection went away.
	CommandDropCount atomic.Uint64
	// RateLimitedCount indicates the number of sets rejected by the rate limiter.
	RateLimitedCount atomic.Uint64
	// EchoFallbackCount indicates the number of digital sets applied locally because no echo arrived.
	EchoFallbackCount atomic.Uint64

	// CallbackErrCount indicates the number of callbacks that returned an error or panicked.
	CallbackErrCount atomic.Uint64
	// CallbackTimeoutCount indicates the number of notifications whose callbacks exceeded the callback timeout.
	CallbackTimeoutCount atomic.Uint64

	// ConnAcceptCount indicates the number of control-system connections accepted.
	ConnAcceptCount atomic.Uint64
	// DisconnectCount indicates the number of connections torn down.
	DisconnectCount atomic.Uint64
}

func (m *ServerMetrics) incFrameRecvCount(f xsig.Frame) {
	if f.IsControl() {
		m.ControlRecvCount.Add(1)
		return
	}

	switch f.Type {
	case xsig.Digital:
		m.DigitalRecvCount.Add(1)
	case xsig.Analog:
		m.AnalogRecvCount.Add(1)
	case xsig.Serial:
		m.SerialRecvCount.Add(1)
	}
}

func (m *ServerMetrics) incProtocolErrCount() {
	m.ProtocolErrCount.Add(1)
}

func (m *ServerMetrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *ServerMetrics) incCommandErrCount() {
	m.CommandErrCount.Add(1)
}

func (m *ServerMetrics) incCommandDropCount() {
	m.CommandDropCount.Add(1)
}

func (m *ServerMetrics) incRateLimitedCount() {
	m.RateLimitedCount.Add(1)
}

func (m *ServerMetrics) incEchoFallbackCount() {
	m.EchoFallbackCount.Add(1)
}

func (m *ServerMetrics) incCallbackErrCount() {
	m.CallbackErrCount.Add(1)
}

func (m *ServerMetrics) incCallbackTimeoutCount() {
	m.CallbackTimeoutCount.Add(1)
}

func (m *ServerMetrics) incConnAcceptCount() {
	m.ConnAcceptCount.Add(1)
}

func (m *ServerMetrics) incDisconnectCount() {
	m.DisconnectCount.Add(1)
}
