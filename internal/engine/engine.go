package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"kafkadump/internal/config"
	"kafkadump/internal/logging"
	"kafkadump/internal/pipeline"
	"kafkadump/internal/telemetry"
	"kafkadump/internal/transport"
	"kafkadump/sink"
	"kafkadump/source/kafka"

	// sink drivers register themselves
	_ "kafkadump/sink/file"
	_ "kafkadump/sink/stdout"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome is the terminal state of one Run.
type Outcome struct {
	Reason  Reason
	Err     error
	Last    sink.Meta // valid when HasLast
	HasLast bool
	Offsets map[int32]int64
}

type Option func(*engine)

// WithRegistry sets where metrics are registered and served from.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(e *engine) { e.reg, e.gather = reg, reg }
}

type engine struct {
	cfg    config.Config
	log    *slog.Logger
	reg    prometheus.Registerer
	gather prometheus.Gatherer

	metrics *telemetry.Metrics
	status  *pipeline.Status
	health  *transport.Server
	httpSrv *http.Server
	source  kafka.Adapter
	sink    sink.Adapter
}

// Run drives Initializing → Subscribing → Polling … → Terminated. The sink
// and then the source are released on every path out.
func Run(ctx context.Context, cfg config.Config, opts ...Option) Outcome {
	e := &engine{
		cfg:    cfg,
		log:    logging.Component("engine"),
		reg:    prometheus.DefaultRegisterer,
		gather: prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(e)
	}
	e.metrics = telemetry.NewMetrics(e.reg)
	e.status = pipeline.NewStatus(func(s pipeline.State) { e.metrics.SetState(int(s)) })

	out := e.run(ctx)
	out = e.release(out)
	e.status.Set(pipeline.Terminated)
	e.report(out)
	return out
}

func (e *engine) run(ctx context.Context) Outcome {
	e.status.Set(pipeline.Initializing)

	if e.cfg.MetricsPort > 0 {
		srv, err := telemetry.Expose(e.cfg.MetricsPort, e.gather)
		if err != nil {
			return Outcome{Reason: ConfigFailure, Err: err}
		}
		e.httpSrv = srv
	}
	if e.cfg.GRPCPort > 0 {
		hs, err := transport.StartServer(e.cfg.GRPCPort)
		if err != nil {
			return Outcome{Reason: ConfigFailure, Err: err}
		}
		e.health = hs
	}

	src, err := kafka.NewAdapter(e.cfg.Kafka.Driver)
	if err != nil {
		return Outcome{Reason: ConfigFailure, Err: err}
	}
	if err := src.Configure(e.cfg.Kafka); err != nil {
		return Outcome{Reason: ConfigFailure, Err: err}
	}
	e.source = src

	dst, err := sink.NewAdapter(e.cfg.SinkDriver())
	if err != nil {
		return Outcome{Reason: ConfigFailure, Err: err}
	}
	if err := dst.Configure(e.cfg.SinkOptions()); err != nil {
		return Outcome{Reason: ConfigFailure, Err: err}
	}
	e.sink = dst

	e.status.Set(pipeline.Subscribing)
	if err := src.Subscribe(ctx, e.cfg.Kafka.Topic); err != nil {
		if ctx.Err() != nil {
			return Outcome{Reason: Shutdown}
		}
		return Outcome{Reason: SubscribeFailure, Err: err}
	}
	e.log.Info("subscribed", "topic", e.cfg.Kafka.Topic, "brokers", e.cfg.Kafka.Brokers,
		"driver", e.cfg.Kafka.Driver, "output", e.cfg.Sink.Output)
	if e.health != nil {
		e.health.SetServing(true)
	}

	runner := pipeline.NewRunner(src, dst,
		pipeline.WithPollTimeout(e.cfg.PollTimeout),
		pipeline.WithBackoff(pipeline.NewBackoff(e.cfg.Backoff.Min, e.cfg.Backoff.Max)),
		pipeline.WithMetrics(e.metrics),
		pipeline.WithStatus(e.status),
	)
	return classify(runner.Run(ctx))
}

func classify(err error) Outcome {
	if err == nil {
		return Outcome{Reason: Shutdown}
	}
	var ioErr *sink.IoError
	if errors.As(err, &ioErr) {
		return Outcome{Reason: SinkFailure, Err: err}
	}
	return Outcome{Reason: SourceFailure, Err: err}
}

// release closes the sink, then the source, then the side servers.
func (e *engine) release(out Outcome) Outcome {
	if e.sink != nil {
		out.Last, out.HasLast = e.sink.LastWritten()
		out.Offsets = e.sink.Offsets()
		if err := e.sink.Close(); err != nil {
			e.log.Error("sink close failed", "err", err)
			if out.Reason == Shutdown {
				out.Reason, out.Err = SinkFailure, err
			}
		}
	}
	if e.source != nil {
		if err := e.source.Close(); err != nil {
			e.log.Warn("source close failed", "err", err)
		}
	}
	if e.health != nil {
		e.health.Stop()
	}
	telemetry.Shutdown(e.httpSrv)
	return out
}

func (e *engine) report(out Outcome) {
	attrs := []any{"reason", out.Reason.String(), "exit_code", out.Reason.ExitCode()}
	if out.HasLast {
		attrs = append(attrs, "topic", out.Last.Topic, "partition", out.Last.Partition,
			"last_offset_written", out.Last.Offset)
	}
	if out.Err == nil {
		e.log.Info("terminated", attrs...)
		return
	}
	attrs = append(attrs, "err", out.Err)
	var se *kafka.SourceError
	if errors.As(out.Err, &se) && se.Topic != "" {
		attrs = append(attrs, "source_topic", se.Topic, "source_partition", se.Partition)
	}
	e.log.Error("terminated", attrs...)
}
