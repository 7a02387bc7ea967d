package metrics

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-xsig/xsigserver"
)

type fakeSource struct {
	m         xsigserver.ServerMetrics
	depth     int
	available bool
}

func (f *fakeSource) GetMetrics() *xsigserver.ServerMetrics { return &f.m }
func (f *fakeSource) QueueDepth() int                       { return f.depth }
func (f *fakeSource) Available() bool                       { return f.available }

func TestRegister(t *testing.T) {
	require := require.New(t)

	src := &fakeSource{depth: 3, available: true}
	src.m.DigitalRecvCount.Add(5)
	src.m.FrameSendCount.Add(2)
	src.m.RateLimitedCount.Add(1)

	reg := prometheus.NewRegistry()
	require.NoError(Register(reg, src))

	expected := `
# HELP xsig_available 1 when a synchronized control system is connected.
# TYPE xsig_available gauge
xsig_available 1
# HELP xsig_command_queue_depth Commands waiting to be written.
# TYPE xsig_command_queue_depth gauge
xsig_command_queue_depth 3
# HELP xsig_frames_sent_total Frames written to the control system.
# TYPE xsig_frames_sent_total counter
xsig_frames_sent_total 2
# HELP xsig_rate_limited_total Sets rejected by the per-join rate limiter.
# TYPE xsig_rate_limited_total counter
xsig_rate_limited_total 1
`
	require.NoError(testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"xsig_available", "xsig_command_queue_depth", "xsig_frames_sent_total", "xsig_rate_limited_total"))

	families, err := reg.Gather()
	require.NoError(err)
	for _, mf := range families {
		if mf.GetName() != "xsig_frames_received_total" {
			continue
		}
		require.Len(mf.GetMetric(), 4)
		for _, m := range mf.GetMetric() {
			if m.GetLabel()[0].GetValue() == "digital" {
				require.InDelta(5.0, m.GetCounter().GetValue(), 0)
			}
		}
	}

	src.available = false
	src.m.DigitalRecvCount.Add(1)
	require.NoError(testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP xsig_available 1 when a synchronized control system is connected.
# TYPE xsig_available gauge
xsig_available 0
`), "xsig_available"))

	require.Error(Register(reg, src), "duplicate registration fails")
}

func TestHandler(t *testing.T) {
	require := require.New(t)

	reg, err := NewRegistry(&fakeSource{})
	require.NoError(err)

	ts := httptest.NewServer(Handler(reg, "/metrics"))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(err)
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Contains(string(body), "xsig_connections_accepted_total 0")
	require.Contains(string(body), "go_goroutines")

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(err)
	resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
}

func TestServe(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)

	srv := NewHTTPServer(ln.Addr().String(), http.NotFoundHandler())
	done := make(chan error, 1)
	go func() { done <- Serve(srv, ln) }()

	require.NoError(srv.Close())
	require.NoError(<-done)
}
