package kafka

import (
	"errors"
	"fmt"
)

// ConfigError reports an unusable broker list, topic or client option.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("kafka source: invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SubscribeError reports that consumption interest could not be registered.
type SubscribeError struct {
	Topic string
	Err   error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("kafka source: subscribe to %q: %v", e.Topic, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

// SourceError is a poll-time failure. Transient errors are retried by the
// caller; fatal ones end consumption.
type SourceError struct {
	Fatal     bool
	Topic     string
	Partition int32
	Err       error
}

func (e *SourceError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	if e.Topic != "" {
		return fmt.Sprintf("kafka source: %s error on %s[%d]: %v", kind, e.Topic, e.Partition, e.Err)
	}
	return fmt.Sprintf("kafka source: %s error: %v", kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

var (
	ErrNotSubscribed = errors.New("poll before subscribe")
	ErrTopicNotFound = errors.New("topic does not exist and auto-creation is disabled")
)

func transient(err error) *SourceError { return &SourceError{Err: err} }

func fatal(err error) *SourceError { return &SourceError{Fatal: true, Err: err} }
