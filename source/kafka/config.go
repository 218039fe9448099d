package kafka

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type TLSCfg struct {
	Enabled    bool   `koanf:"enabled"`
	CAFile     string `koanf:"ca_file"`
	CertFile   string `koanf:"cert_file"`
	KeyFile    string `koanf:"key_file"`
	SkipVerify bool   `koanf:"skip_verify"`
}

type SASLCfg struct {
	Mechanism string `koanf:"mechanism"` // PLAIN|SCRAM-SHA-256|SCRAM-SHA-512
	User      string `koanf:"user"`
	Password  string `koanf:"password"`
}

type Config struct {
	Driver          string `koanf:"driver"`  // sarama|kgo
	Brokers         string `koanf:"brokers"` // host:port[,host:port...]
	Topic           string `koanf:"topic"`
	GroupID         string `koanf:"group_id"`
	StartFrom       string `koanf:"start_from"` // oldest|newest (default newest)
	Version         string `koanf:"version"`    // sarama protocol version
	AllowAutoCreate bool   `koanf:"allow_auto_create"`
	PartitionEOF    bool   `koanf:"partition_eof"`

	CommitInterval   time.Duration `koanf:"commit_interval"`
	SubscribeTimeout time.Duration `koanf:"subscribe_timeout"`

	TLS  TLSCfg  `koanf:"tls"`
	SASL SASLCfg `koanf:"sasl"`
}

const (
	DefaultDriver  = "sarama"
	DefaultGroupID = "kafkadump"
	DefaultVersion = "2.1.0"

	maxTopicLen = 249
)

func ApplyDefaults(c *Config) {
	if c.Driver == "" {
		c.Driver = DefaultDriver
	}
	if c.GroupID == "" {
		c.GroupID = DefaultGroupID
	}
	if c.StartFrom == "" {
		c.StartFrom = "newest"
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.CommitInterval == 0 {
		c.CommitInterval = 5 * time.Second
	}
	if c.SubscribeTimeout == 0 {
		c.SubscribeTimeout = 10 * time.Second
	}
}

// BrokerList splits the comma separated broker string, dropping blanks.
func (c Config) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Validate checks the settings every driver depends on.
func (c Config) Validate() error {
	brokers := c.BrokerList()
	if len(brokers) == 0 {
		return &ConfigError{Field: "brokers", Err: errors.New("no broker address given")}
	}
	for _, b := range brokers {
		if err := validateBroker(b); err != nil {
			return &ConfigError{Field: "brokers", Err: err}
		}
	}
	if err := ValidateTopic(c.Topic); err != nil {
		return &ConfigError{Field: "topic", Err: err}
	}
	switch c.StartFrom {
	case "", "oldest", "newest":
	default:
		return &ConfigError{Field: "start_from", Err: fmt.Errorf("%q (want oldest or newest)", c.StartFrom)}
	}
	switch strings.ToUpper(c.SASL.Mechanism) {
	case "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
	default:
		return &ConfigError{Field: "sasl.mechanism", Err: fmt.Errorf("unsupported mechanism %q", c.SASL.Mechanism)}
	}
	return nil
}

func validateBroker(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("%q: empty host", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%q: invalid port %q", addr, port)
	}
	return nil
}

// ValidateTopic applies the broker's legal topic name rules.
func ValidateTopic(topic string) error {
	switch {
	case topic == "":
		return errors.New("topic name is empty")
	case topic == "." || topic == "..":
		return fmt.Errorf("topic name %q is not allowed", topic)
	case len(topic) > maxTopicLen:
		return fmt.Errorf("topic name longer than %d characters", maxTopicLen)
	}
	for _, r := range topic {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return fmt.Errorf("topic name %q contains illegal character %q", topic, r)
		}
	}
	return nil
}
