package kafka

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"kafkadump/internal/logging"

	"github.com/IBM/sarama"
)

// delivery is one message handed from a claim goroutine to Poll. A delivery
// without msg reports a claim that started at its high-water mark.
type delivery struct {
	msg  *sarama.ConsumerMessage
	sess sarama.ConsumerGroupSession
	eof  bool

	topic     string
	partition int32
	hwm       int64
}

type SaramaDriver struct {
	cfg Config
	sc  *sarama.Config
	cl  sarama.Client
	cp  *Manager

	group      sarama.ConsumerGroup
	events     chan delivery
	consumeErr chan error
	pendingEOF *Result

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	lastSess sarama.ConsumerGroupSession

	newClient func([]string, *sarama.Config) (sarama.Client, error)
	newGroup  func(string, sarama.Client) (sarama.ConsumerGroup, error)
}

func (d *SaramaDriver) Configure(config Config) error {
	ApplyDefaults(&config)
	if err := config.Validate(); err != nil {
		return err
	}
	d.cfg = config
	d.cp = NewManager(config.CommitInterval)

	ver, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return &ConfigError{Field: "version", Err: err}
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = "kafkadump"
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	sc.Metadata.AllowAutoTopicCreation = config.AllowAutoCreate
	sc.Net.DialTimeout = config.SubscribeTimeout
	switch config.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	if config.TLS.Enabled {
		tc, err := buildTLSConfig(config.TLS)
		if err != nil {
			return &ConfigError{Field: "tls", Err: err}
		}
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tc
	}
	if config.SASL.User != "" || config.SASL.Mechanism != "" {
		mech := strings.ToUpper(config.SASL.Mechanism)
		if mech != "" && mech != sarama.SASLTypePlaintext {
			return &ConfigError{Field: "sasl.mechanism", Err: fmt.Errorf("%s is only supported by the kgo driver", mech)}
		}
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASL.User, config.SASL.Password
	}
	if err := sc.Validate(); err != nil {
		return &ConfigError{Field: "client", Err: err}
	}
	d.sc = sc

	if d.newClient == nil {
		d.newClient = sarama.NewClient
	}
	if d.newGroup == nil {
		d.newGroup = sarama.NewConsumerGroupFromClient
	}
	return nil
}

func (d *SaramaDriver) Subscribe(ctx context.Context, topic string) error {
	if d.sc == nil {
		return &SubscribeError{Topic: topic, Err: errors.New("driver not configured")}
	}
	if err := ValidateTopic(topic); err != nil {
		return &SubscribeError{Topic: topic, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &SubscribeError{Topic: topic, Err: err}
	}

	cl, err := d.newClient(d.cfg.BrokerList(), d.sc)
	if err != nil {
		return &SubscribeError{Topic: topic, Err: err}
	}
	if !d.cfg.AllowAutoCreate {
		topics, err := cl.Topics()
		if err != nil {
			_ = cl.Close()
			return &SubscribeError{Topic: topic, Err: err}
		}
		if !slices.Contains(topics, topic) {
			_ = cl.Close()
			return &SubscribeError{Topic: topic, Err: ErrTopicNotFound}
		}
	}
	group, err := d.newGroup(d.cfg.GroupID, cl)
	if err != nil {
		_ = cl.Close()
		return &SubscribeError{Topic: topic, Err: err}
	}

	d.cl, d.group = cl, group
	d.start(topic)
	return nil
}

// start launches the group's consume loop; messages reach Poll one at a time.
func (d *SaramaDriver) start(topic string) {
	d.events = make(chan delivery)
	d.consumeErr = make(chan error)
	d.done = make(chan struct{})

	var ctx context.Context
	ctx, d.cancel = context.WithCancel(context.Background())
	go d.consume(ctx, topic)
}

func (d *SaramaDriver) consume(ctx context.Context, topic string) {
	defer close(d.done)
	handler := &groupHandler{driver: d}
	for {
		if err := d.group.Consume(ctx, []string{topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) || ctx.Err() != nil {
				return
			}
			// Unbuffered: the next attempt waits until Poll has picked
			// this one up, so retries follow the caller's backoff.
			select {
			case d.consumeErr <- err:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (d *SaramaDriver) Poll(ctx context.Context, timeout time.Duration) Result {
	if r := d.pendingEOF; r != nil {
		d.pendingEOF = nil
		return *r
	}
	if d.group == nil {
		return Failed(fatal(ErrNotSubscribed))
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case dv := <-d.events:
		m := dv.msg
		if m == nil {
			return EndOfPartition(dv.topic, dv.partition, dv.hwm)
		}
		if dv.eof {
			eof := EndOfPartition(m.Topic, m.Partition, m.Offset+1)
			d.pendingEOF = &eof
		}
		return Delivered(&Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Payload:   m.Value,
			Timestamp: m.Timestamp,
			ref:       dv,
		})
	case err, ok := <-d.group.Errors():
		if !ok {
			return Failed(fatal(sarama.ErrClosedConsumerGroup))
		}
		return Failed(classifySarama(err))
	case err := <-d.consumeErr:
		return Failed(classifySarama(err))
	case <-t.C:
		d.commitIfDue()
		return Timeout()
	case <-ctx.Done():
		return Timeout()
	}
}

// commitIfDue flushes marks left over from a burst once the topic goes quiet.
func (d *SaramaDriver) commitIfDue() {
	d.mu.Lock()
	sess := d.lastSess
	d.mu.Unlock()
	if sess != nil && d.cp.Due() {
		sess.Commit()
		d.cp.Committed()
	}
}

func (d *SaramaDriver) Ack(msg *Message) {
	if msg == nil {
		return
	}
	dv, ok := msg.ref.(delivery)
	if !ok || dv.sess == nil {
		return
	}
	dv.sess.MarkMessage(dv.msg, "")

	d.mu.Lock()
	d.lastSess = dv.sess
	d.mu.Unlock()

	if d.cp.Mark(msg.Topic, msg.Partition, msg.Offset) {
		dv.sess.Commit()
		d.cp.Committed()
	}
}

func (d *SaramaDriver) Close() error {
	var errs []error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		sess := d.lastSess
		d.mu.Unlock()
		if sess != nil && d.cp.Pending() > 0 {
			sess.Commit()
			d.cp.Committed()
		}
		if d.cp != nil {
			logging.Component("source").Info("sarama-driver: closing", "acked", d.cp.Acked())
		}
		if d.cancel != nil {
			d.cancel()
		}
		if d.group != nil {
			errs = append(errs, d.group.Close())
		}
		if d.done != nil {
			<-d.done
		}
		if d.cl != nil && !d.cl.Closed() {
			errs = append(errs, d.cl.Close())
		}
	})
	return errors.Join(errs...)
}

type groupHandler struct {
	driver *SaramaDriver
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	logging.Component("source").Info("sarama-driver: partitions assigned",
		"claims", sess.Claims(), "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	logging.Component("source").Info("sarama-driver: session ended", "generation", sess.GenerationID())
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	if h.driver.cfg.PartitionEOF && claimAtEnd(claim.InitialOffset(), claim.HighWaterMarkOffset()) {
		dv := delivery{
			sess:      sess,
			topic:     claim.Topic(),
			partition: claim.Partition(),
			hwm:       claim.HighWaterMarkOffset(),
		}
		select {
		case h.driver.events <- dv:
		case <-sess.Context().Done():
			return nil
		}
	}
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			dv := delivery{
				msg:  msg,
				sess: sess,
				eof:  h.driver.cfg.PartitionEOF && msg.Offset+1 >= claim.HighWaterMarkOffset(),
			}
			select {
			case h.driver.events <- dv:
			case <-sess.Context().Done():
				return nil
			}
		}
	}
}

// claimAtEnd reports whether a claim starting at initial has nothing to read
// yet. OffsetNewest always starts at the end; OffsetOldest only on an empty
// partition.
func claimAtEnd(initial, hwm int64) bool {
	switch initial {
	case sarama.OffsetNewest:
		return true
	case sarama.OffsetOldest:
		return hwm == 0
	default:
		return initial >= hwm
	}
}

var saramaFatal = []error{
	sarama.ErrClosedConsumerGroup,
	sarama.ErrClosedClient,
	sarama.ErrTopicAuthorizationFailed,
	sarama.ErrGroupAuthorizationFailed,
	sarama.ErrClusterAuthorizationFailed,
	sarama.ErrSASLAuthenticationFailed,
	sarama.ErrIllegalSASLState,
	sarama.ErrUnknownTopicOrPartition,
	sarama.ErrFencedInstancedId,
}

func classifySarama(err error) *SourceError {
	se := &SourceError{Err: err}
	var ce *sarama.ConsumerError
	if errors.As(err, &ce) {
		se.Topic, se.Partition = ce.Topic, ce.Partition
	}
	for _, target := range saramaFatal {
		if errors.Is(err, target) {
			se.Fatal = true
			break
		}
	}
	return se
}
