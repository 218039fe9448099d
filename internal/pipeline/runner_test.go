package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"kafkadump/internal/telemetry"
	"kafkadump/sink"
	"kafkadump/source/kafka"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource replays results; once exhausted it calls done and
// reports timeouts.
type scriptedSource struct {
	results []kafka.Result
	done    func()
	polls   int
	acked   []int64
}

func (s *scriptedSource) Configure(kafka.Config) error { return nil }
func (s *scriptedSource) Subscribe(context.Context, string) error { return nil }
func (s *scriptedSource) Close() error { return nil }
func (s *scriptedSource) Ack(m *kafka.Message) { s.acked = append(s.acked, m.Offset) }

func (s *scriptedSource) Poll(context.Context, time.Duration) kafka.Result {
	s.polls++
	if len(s.results) == 0 {
		if s.done != nil {
			s.done()
		}
		return kafka.Timeout()
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r
}

type captureSink struct {
	buf     bytes.Buffer
	track   sink.Tracker
	failAt  int // 1-based append that fails; 0 never
	appends int
}

func (c *captureSink) Configure(any) error { return nil }
func (c *captureSink) Append(p []byte, m sink.Meta) error {
	c.appends++
	if c.failAt > 0 && c.appends == c.failAt {
		return &sink.IoError{Op: "write", Path: "capture", Err: errors.New("no space left on device")}
	}
	c.buf.Write(p)
	c.track.Record(m)
	return nil
}
func (c *captureSink) LastWritten() (sink.Meta, bool) { return c.track.Last() }
func (c *captureSink) Offsets() map[int32]int64 { return c.track.Offsets() }
func (c *captureSink) Close() error { return nil }

func message(partition int32, offset int64, payload string) kafka.Result {
	return kafka.Delivered(&kafka.Message{Topic: "orders", Partition: partition, Offset: offset, Payload: []byte(payload)})
}

func transientErr() kafka.Result {
	return kafka.Failed(&kafka.SourceError{Err: errors.New("broker transport failure")})
}

func fatalErr() kafka.Result {
	return kafka.Failed(&kafka.SourceError{Fatal: true, Err: errors.New("topic authorization failed")})
}

func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func runScript(t *testing.T, src *scriptedSource, dst sink.Adapter, opts ...Option) ([]time.Duration, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src.done = cancel

	var delays []time.Duration
	r := NewRunner(src, dst, opts...)
	r.sleep = noSleep(&delays)
	return delays, r.Run(ctx)
}

func TestRunWritesPayloadsInOrder(t *testing.T) {
	payloads := []string{"M1", "", "M\x003", "M4\n"}
	src := &scriptedSource{}
	for i, p := range payloads {
		src.results = append(src.results, message(0, int64(i), p))
	}
	dst := &captureSink{}

	_, err := runScript(t, src, dst)
	require.NoError(t, err)
	assert.Equal(t, "M1M\x003M4\n", dst.buf.String())
	assert.Equal(t, []int64{0, 1, 2, 3}, src.acked)
}

func TestTimeoutNeverWrites(t *testing.T) {
	src := &scriptedSource{results: []kafka.Result{kafka.Timeout(), kafka.Timeout(), kafka.Timeout()}}
	dst := &captureSink{}

	_, err := runScript(t, src, dst)
	require.NoError(t, err)
	assert.Zero(t, dst.appends)
	_, ok := dst.LastWritten()
	assert.False(t, ok)
}

func TestEndOfPartitionIsSkipped(t *testing.T) {
	src := &scriptedSource{results: []kafka.Result{
		message(0, 1, "a"),
		kafka.EndOfPartition("orders", 0, 2),
		message(0, 2, "b"),
	}}
	dst := &captureSink{}

	_, err := runScript(t, src, dst)
	require.NoError(t, err)
	assert.Equal(t, "ab", dst.buf.String())
}

func TestTransientErrorBacksOffAndRecovers(t *testing.T) {
	src := &scriptedSource{results: []kafka.Result{
		transientErr(),
		transientErr(),
		message(0, 5, "X"),
	}}
	dst := &captureSink{}

	delays, err := runScript(t, src, dst)
	require.NoError(t, err)
	assert.Equal(t, "X", dst.buf.String())
	require.Len(t, delays, 2)
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, DefaultBackoffMin)
		assert.LessOrEqual(t, d, DefaultBackoffMax)
	}
}

func TestFatalSourceErrorStops(t *testing.T) {
	src := &scriptedSource{results: []kafka.Result{fatalErr(), message(0, 1, "never")}}
	dst := &captureSink{}

	_, err := runScript(t, src, dst)
	var se *kafka.SourceError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Fatal)
	assert.Zero(t, dst.appends)
	assert.Equal(t, 1, src.polls)
}

func TestSinkFailureStopsWithoutRetry(t *testing.T) {
	src := &scriptedSource{results: []kafka.Result{message(0, 1, "a"), message(0, 2, "b"), message(0, 3, "c")}}
	dst := &captureSink{failAt: 2}

	_, err := runScript(t, src, dst)
	var ioErr *sink.IoError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, 2, dst.appends)
	assert.Equal(t, "a", dst.buf.String())
	assert.Equal(t, []int64{1}, src.acked)
}

func TestScenarioABTimeoutCDFatal(t *testing.T) {
	src := &scriptedSource{results: []kafka.Result{
		message(0, 10, "AB"),
		kafka.Timeout(),
		message(0, 11, "CD"),
		fatalErr(),
	}}
	dst := &captureSink{}
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)

	_, err := runScript(t, src, dst, WithMetrics(m))
	var se *kafka.SourceError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Fatal)
	assert.Equal(t, "ABCD", dst.buf.String())

	last, ok := dst.LastWritten()
	require.True(t, ok)
	assert.EqualValues(t, 11, last.Offset)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PollResults.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollResults.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollResults.WithLabelValues("fatal_error")))
	assert.Equal(t, 11.0, testutil.ToFloat64(m.LastOffset.WithLabelValues("orders", "0")))
}

func TestShutdownDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedSource{results: []kafka.Result{transientErr(), message(0, 1, "late")}}
	dst := &captureSink{}

	r := NewRunner(src, dst)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepCtx(ctx, d)
	}
	require.NoError(t, r.Run(ctx))
	assert.Zero(t, dst.appends)
	assert.Equal(t, Polling, r.Status().Get())
}

func TestCancelledBeforeFirstPoll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &scriptedSource{results: []kafka.Result{message(0, 1, "x")}}
	require.NoError(t, NewRunner(src, &captureSink{}).Run(ctx))
	assert.Zero(t, src.polls)
}

func TestStatusTransitions(t *testing.T) {
	var seen []State
	st := NewStatus(func(s State) { seen = append(seen, s) })
	src := &scriptedSource{results: []kafka.Result{message(0, 1, "x"), kafka.EndOfPartition("orders", 0, 2)}}

	_, err := runScript(t, src, &captureSink{}, WithStatus(st))
	require.NoError(t, err)
	assert.Equal(t, []State{Polling, Writing, Polling, Skipping, Polling, Polling}, seen)
}
