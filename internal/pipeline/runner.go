package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kafkadump/internal/logging"
	"kafkadump/internal/telemetry"
	"kafkadump/sink"
	"kafkadump/source/kafka"
)

const DefaultPollTimeout = time.Second

// Runner is the Polling ⇄ Writing/Skipping part of the driver loop. It is
// strictly sequential: one poll, then at most one append.
type Runner struct {
	source      kafka.Adapter
	sink        sink.Adapter
	pollTimeout time.Duration
	backoff     *Backoff
	metrics     *telemetry.Metrics
	status      *Status
	log         *slog.Logger

	sleep func(context.Context, time.Duration) error
}

type Option func(*Runner)

func WithPollTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.pollTimeout = d
		}
	}
}

func WithBackoff(b *Backoff) Option { return func(r *Runner) { r.backoff = b } }

func WithMetrics(m *telemetry.Metrics) Option { return func(r *Runner) { r.metrics = m } }

func WithStatus(s *Status) Option { return func(r *Runner) { r.status = s } }

func NewRunner(src kafka.Adapter, dst sink.Adapter, opts ...Option) *Runner {
	r := &Runner{
		source:      src,
		sink:        dst,
		pollTimeout: DefaultPollTimeout,
		log:         logging.Component("pipeline"),
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	if r.backoff == nil {
		r.backoff = NewBackoff(DefaultBackoffMin, DefaultBackoffMax)
	}
	if r.status == nil {
		r.status = NewStatus(nil)
	}
	return r
}

func (r *Runner) Status() *Status { return r.status }

// Run polls until ctx is cancelled (nil), the source fails fatally
// (*kafka.SourceError) or the sink fails (*sink.IoError). Cancellation is
// only observed between iterations, never in the middle of an append.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil || r.sink == nil {
		return errors.New("pipeline: runner needs a source and a sink")
	}
	for {
		r.status.Set(Polling)
		if ctx.Err() != nil {
			return nil
		}

		res := r.source.Poll(ctx, r.pollTimeout)
		switch res.Kind {
		case kafka.KindTimeout:
			r.metrics.ObservePoll("timeout")
			r.backoff.Reset()

		case kafka.KindMessage:
			r.metrics.ObservePoll("message")
			if err := r.write(res.Message); err != nil {
				return err
			}
			r.backoff.Reset()

		case kafka.KindEndOfPartition:
			r.status.Set(Skipping)
			r.metrics.ObservePoll("eof")
			r.log.Info("reached end of partition", "topic", res.Topic, "partition", res.Partition, "offset", res.Offset)
			r.backoff.Reset()

		case kafka.KindError:
			se := res.Err
			if se == nil {
				se = &kafka.SourceError{Err: errors.New("unspecified poll error")}
			}
			if se.Fatal {
				r.metrics.ObservePoll("fatal_error")
				return se
			}
			r.metrics.ObservePoll("transient_error")
			delay := r.backoff.Next()
			r.log.Warn("transient source error", "err", se, "retry_in", delay)
			if err := r.sleep(ctx, delay); err != nil {
				return nil
			}
		}
	}
}

func (r *Runner) write(m *kafka.Message) error {
	r.status.Set(Writing)
	r.log.Debug("received message",
		"bytes", len(m.Payload), "topic", m.Topic, "partition", m.Partition, "offset", m.Offset)

	meta := sink.Meta{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
	if err := r.sink.Append(m.Payload, meta); err != nil {
		var ioErr *sink.IoError
		if !errors.As(err, &ioErr) {
			err = &sink.IoError{Op: "write", Err: err}
		}
		return err
	}
	r.source.Ack(m)
	r.metrics.ObserveWrite(m.Topic, m.Partition, m.Offset, len(m.Payload))
	return nil
}
