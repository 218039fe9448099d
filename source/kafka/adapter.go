package kafka

import (
	"context"
	"fmt"
	"time"
)

// Adapter is a message source polled by the driver loop.
type Adapter interface {
	// Configure validates cfg and prepares client state. No network I/O is
	// required to succeed here.
	Configure(Config) error
	// Subscribe registers interest in topic. Partition assignment happens
	// asynchronously afterwards.
	Subscribe(ctx context.Context, topic string) error
	// Poll waits at most timeout for the next result.
	Poll(ctx context.Context, timeout time.Duration) Result
	// Ack marks msg as durably handled so its offset may be committed.
	Ack(msg *Message)
	Close() error
}

type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Payload   []byte
	Timestamp time.Time

	// driver handle needed to mark the record for commit
	ref any
}

type Kind int

const (
	KindTimeout Kind = iota
	KindMessage
	KindEndOfPartition
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindMessage:
		return "message"
	case KindEndOfPartition:
		return "eof"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is what a single Poll yields. Message is set for KindMessage,
// Topic/Partition/Offset for KindEndOfPartition and Err for KindError.
type Result struct {
	Kind      Kind
	Message   *Message
	Topic     string
	Partition int32
	Offset    int64
	Err       *SourceError
}

func Timeout() Result { return Result{Kind: KindTimeout} }

func Delivered(m *Message) Result { return Result{Kind: KindMessage, Message: m} }

func EndOfPartition(topic string, partition int32, offset int64) Result {
	return Result{Kind: KindEndOfPartition, Topic: topic, Partition: partition, Offset: offset}
}

func Failed(err *SourceError) Result { return Result{Kind: KindError, Err: err} }
