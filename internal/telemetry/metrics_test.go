package telemetry

import (
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObservePoll("message")
	m.ObservePoll("message")
	m.ObservePoll("timeout")
	m.ObserveWrite("orders", 0, 10, 2)
	m.ObserveWrite("orders", 0, 11, 3)
	m.SetState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PollResults.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollResults.WithLabelValues("timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesWritten.WithLabelValues("orders")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.BytesWritten.WithLabelValues("orders")))
	assert.Equal(t, 11.0, testutil.ToFloat64(m.LastOffset.WithLabelValues("orders", "0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.State))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePoll("timeout")
		m.ObserveWrite("t", 0, 1, 1)
		m.SetState(1)
	})
}

func TestExposeServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObservePoll("eof")

	srv, err := Expose(0, reg)
	require.NoError(t, err)
	defer Shutdown(srv)

	_, port, err := net.SplitHostPort(srv.Addr)
	require.NoError(t, err)
	resp, err := http.Get("http://127.0.0.1:" + port + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `kafkadump_poll_results_total{result="eof"} 1`)
}
