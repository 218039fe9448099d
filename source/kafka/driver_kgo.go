package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"kafkadump/internal/logging"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// fetcher is the slice of *kgo.Client the driver needs.
type fetcher interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	CommitMarkedOffsets(ctx context.Context) error
	Close()
}

// KgoDriver consumes through franz-go. Unlike the sarama driver it supports
// SCRAM authentication.
type KgoDriver struct {
	cfg  Config
	opts []kgo.Opt
	cp   *Manager

	cl        fetcher
	pending   []Result // reported by later Polls, oldest first
	closeOnce sync.Once

	dial       func(opts ...kgo.Opt) (fetcher, error)
	topicCheck func(ctx context.Context, cl fetcher, topic string) error
}

func (d *KgoDriver) Configure(config Config) error {
	ApplyDefaults(&config)
	if err := config.Validate(); err != nil {
		return err
	}
	d.cfg = config
	d.cp = NewManager(config.CommitInterval)

	offset := kgo.NewOffset().AtEnd()
	if config.StartFrom == "oldest" {
		offset = kgo.NewOffset().AtStart()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(config.BrokerList()...),
		kgo.ClientID("kafkadump"),
		kgo.ConsumerGroup(config.GroupID),
		kgo.ConsumeResetOffset(offset),
		kgo.DisableAutoCommit(),
		kgo.DialTimeout(config.SubscribeTimeout),
	}
	if config.AllowAutoCreate {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}
	if config.TLS.Enabled {
		tc, err := buildTLSConfig(config.TLS)
		if err != nil {
			return &ConfigError{Field: "tls", Err: err}
		}
		opts = append(opts, kgo.DialTLSConfig(tc))
	}
	if config.SASL.User != "" || config.SASL.Mechanism != "" {
		o, err := kgoSASL(config.SASL)
		if err != nil {
			return &ConfigError{Field: "sasl.mechanism", Err: err}
		}
		opts = append(opts, o)
	}
	d.opts = opts

	if d.dial == nil {
		d.dial = func(opts ...kgo.Opt) (fetcher, error) { return kgo.NewClient(opts...) }
	}
	if d.topicCheck == nil {
		d.topicCheck = adminTopicCheck
	}
	return nil
}

func (d *KgoDriver) Subscribe(ctx context.Context, topic string) error {
	if d.opts == nil {
		return &SubscribeError{Topic: topic, Err: errors.New("driver not configured")}
	}
	if err := ValidateTopic(topic); err != nil {
		return &SubscribeError{Topic: topic, Err: err}
	}
	cl, err := d.dial(append(d.opts, kgo.ConsumeTopics(topic))...)
	if err != nil {
		return &SubscribeError{Topic: topic, Err: err}
	}
	if !d.cfg.AllowAutoCreate {
		cctx, cancel := context.WithTimeout(ctx, d.cfg.SubscribeTimeout)
		err := d.topicCheck(cctx, cl, topic)
		cancel()
		if err != nil {
			cl.Close()
			return &SubscribeError{Topic: topic, Err: err}
		}
	}
	d.cl = cl
	return nil
}

// adminTopicCheck asks the cluster whether topic exists.
func adminTopicCheck(ctx context.Context, cl fetcher, topic string) error {
	kc, ok := cl.(*kgo.Client)
	if !ok {
		return nil
	}
	details, err := kadm.NewClient(kc).ListTopics(ctx, topic)
	if err != nil {
		return err
	}
	td, ok := details[topic]
	if !ok || errors.Is(td.Err, kerr.UnknownTopicOrPartition) {
		return ErrTopicNotFound
	}
	return td.Err
}

func (d *KgoDriver) Poll(ctx context.Context, timeout time.Duration) Result {
	if len(d.pending) > 0 {
		r := d.pending[0]
		d.pending = d.pending[1:]
		return r
	}
	if d.cl == nil {
		return Failed(fatal(ErrNotSubscribed))
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fetches := d.cl.PollRecords(pctx, 1)

	if fetches.IsClientClosed() {
		return Failed(fatal(kgo.ErrClientClosed))
	}

	// A fetch can carry a record and partition errors together. The
	// record is already consumed client side, so it goes out first.
	var out *Result
	var eof *Result
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		if out != nil || len(p.Records) == 0 {
			return
		}
		rec := p.Records[0]
		r := Delivered(&Message{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       rec.Key,
			Payload:   rec.Value,
			Timestamp: rec.Timestamp,
			ref:       rec,
		})
		out = &r
		if d.cfg.PartitionEOF && p.HighWatermark > 0 && rec.Offset+1 >= p.HighWatermark {
			e := EndOfPartition(rec.Topic, rec.Partition, rec.Offset+1)
			eof = &e
		}
	})

	var failed *Result
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		se := classifyKgo(fe.Err)
		se.Topic, se.Partition = fe.Topic, fe.Partition
		r := Failed(se)
		failed = &r
		break
	}

	if out == nil {
		if failed != nil {
			return *failed
		}
		d.commitIfDue()
		return Timeout()
	}
	if eof != nil {
		d.pending = append(d.pending, *eof)
	}
	if failed != nil {
		d.pending = append(d.pending, *failed)
	}
	return *out
}

func (d *KgoDriver) Ack(msg *Message) {
	if msg == nil || d.cl == nil {
		return
	}
	rec, ok := msg.ref.(*kgo.Record)
	if !ok {
		return
	}
	d.cl.MarkCommitRecords(rec)
	if d.cp.Mark(msg.Topic, msg.Partition, msg.Offset) {
		if err := d.commit(); err != nil {
			logging.Component("source").Warn("kgo-driver: commit failed", "err", err)
		}
	}
}

// commitIfDue flushes marks left over from a burst once the topic goes quiet.
func (d *KgoDriver) commitIfDue() {
	if !d.cp.Due() {
		return
	}
	if err := d.commit(); err != nil {
		logging.Component("source").Warn("kgo-driver: commit failed", "err", err)
	}
}

func (d *KgoDriver) commit() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SubscribeTimeout)
	defer cancel()
	if err := d.cl.CommitMarkedOffsets(ctx); err != nil {
		return err
	}
	d.cp.Committed()
	return nil
}

func (d *KgoDriver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.cl == nil {
			return
		}
		if d.cp.Pending() > 0 {
			err = d.commit()
		}
		logging.Component("source").Info("kgo-driver: closing", "acked", d.cp.Acked())
		d.cl.Close()
	})
	return err
}

func classifyKgo(err error) *SourceError {
	switch {
	case errors.Is(err, kgo.ErrClientClosed),
		errors.Is(err, kerr.TopicAuthorizationFailed),
		errors.Is(err, kerr.GroupAuthorizationFailed),
		errors.Is(err, kerr.ClusterAuthorizationFailed),
		errors.Is(err, kerr.SaslAuthenticationFailed),
		errors.Is(err, kerr.UnknownTopicOrPartition),
		errors.Is(err, kerr.FencedInstanceID):
		return fatal(err)
	}
	return transient(err)
}
