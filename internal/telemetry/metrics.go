package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"kafkadump/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	PollResults     *prometheus.CounterVec
	MessagesWritten *prometheus.CounterVec
	BytesWritten    *prometheus.CounterVec
	LastOffset      *prometheus.GaugeVec
	State           prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PollResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafkadump_poll_results_total",
			Help: "Poll outcomes by kind (message, timeout, eof, transient_error, fatal_error).",
		}, []string{"result"}),
		MessagesWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafkadump_messages_written_total",
			Help: "Payloads appended to the sink.",
		}, []string{"topic"}),
		BytesWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafkadump_bytes_written_total",
			Help: "Payload bytes appended to the sink, excluding framing.",
		}, []string{"topic"}),
		LastOffset: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kafkadump_last_offset_written",
			Help: "Highest offset appended per partition.",
		}, []string{"topic", "partition"}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Name: "kafkadump_state",
			Help: "Driver loop state (0 initializing .. 5 terminated).",
		}),
	}
}

func (m *Metrics) ObservePoll(result string) {
	if m == nil {
		return
	}
	m.PollResults.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveWrite(topic string, partition int32, offset int64, n int) {
	if m == nil {
		return
	}
	m.MessagesWritten.WithLabelValues(topic).Inc()
	m.BytesWritten.WithLabelValues(topic).Add(float64(n))
	m.LastOffset.WithLabelValues(topic, strconv.Itoa(int(partition))).Set(float64(offset))
}

func (m *Metrics) SetState(v int) {
	if m == nil {
		return
	}
	m.State.Set(float64(v))
}

// Expose serves /metrics for g on port until the returned server is shut
// down. Port 0 picks a free port; see the server's Addr.
func Expose(port int, g prometheus.Gatherer) (*http.Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Component("telemetry").Error("metrics server stopped", "err", err)
		}
	}()
	logging.Component("telemetry").Info("metrics exposed", "addr", srv.Addr)
	return srv, nil
}

// Shutdown stops srv, waiting at most a second for in-flight scrapes.
func Shutdown(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
