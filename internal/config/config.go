package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"kafkadump/internal/logging"
	"kafkadump/sink"
	"kafkadump/source/kafka"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "KAFKADUMP__"
	DotEnvFile      = ".env"
)

// ErrHelp is returned by Load when -h/--help was given.
var ErrHelp = pflag.ErrHelp

type SinkConfig struct {
	Output         string `koanf:"output"` // "-" writes to stdout
	SyncEveryWrite bool   `koanf:"sync_every_write"`
	Framing        string `koanf:"framing"`
	StateFile      string `koanf:"state_file"`
}

type BackoffConfig struct {
	Min time.Duration `koanf:"min"`
	Max time.Duration `koanf:"max"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type Config struct {
	SchemaVersion string        `koanf:"schema_version"`
	Kafka         kafka.Config  `koanf:"kafka"`
	Sink          SinkConfig    `koanf:"sink"`
	PollTimeout   time.Duration `koanf:"poll_timeout"`
	Backoff       BackoffConfig `koanf:"backoff"`
	MetricsPort   int           `koanf:"metrics_port"`
	GRPCPort      int           `koanf:"grpc_port"`
	Log           LogConfig     `koanf:"log"`
}

// Error is any failure to assemble a usable Config.
type Error struct {
	Err error
}

func (e *Error) Error() string { return "config: " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func defaults() map[string]any {
	return map[string]any{
		"schema_version":          SupportedSchema,
		"kafka.driver":            kafka.DefaultDriver,
		"kafka.group_id":          kafka.DefaultGroupID,
		"kafka.start_from":        "newest",
		"kafka.version":           kafka.DefaultVersion,
		"kafka.allow_auto_create": false,
		"kafka.partition_eof":     true,
		"kafka.commit_interval":   "5s",
		"kafka.subscribe_timeout": "10s",
		"sink.output":             "kafka_data.txt",
		"sink.sync_every_write":   false,
		"sink.framing":            string(sink.FramingNone),
		"sink.state_file":         "",
		"poll_timeout":            "1s",
		"backoff.min":             "100ms",
		"backoff.max":             "5s",
		"metrics_port":            0,
		"grpc_port":               0,
		"log.level":               "",
		"log.json":                false,
	}
}

// flag name → koanf key. Flags missing here are not config values.
var flagKeys = map[string]string{
	"output":           "sink.output",
	"sync-every-write": "sink.sync_every_write",
	"framing":          "sink.framing",
	"state-file":       "sink.state_file",
	"driver":           "kafka.driver",
	"group":            "kafka.group_id",
	"from-beginning":   "kafka.start_from",
	"poll-timeout":     "poll_timeout",
	"metrics-port":     "metrics_port",
	"grpc-port":        "grpc_port",
	"log-level":        "log.level",
	"log-json":         "log.json",
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("kafkadump", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.SortFlags = false
	flags.StringP("output", "o", "kafka_data.txt", "output file (\"-\" for stdout)")
	flags.Bool("sync-every-write", false, "fsync the output after every message")
	flags.String("framing", "none", "payload framing: none, newline or length")
	flags.String("state-file", "", "offsets state file (default <output>.offsets.yaml, \"-\" disables)")
	flags.String("driver", kafka.DefaultDriver, "kafka client: sarama or kgo")
	flags.StringP("group", "g", kafka.DefaultGroupID, "consumer group id")
	flags.Bool("from-beginning", false, "start from the oldest offset when the group has none committed")
	flags.Duration("poll-timeout", time.Second, "maximum time a single poll waits")
	flags.Int("metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")
	flags.Int("grpc-port", 0, "serve grpc.health.v1 on this port (0 disables)")
	flags.String("log-level", "", "debug, info, warn or error (default info)")
	flags.Bool("log-json", false, "log as JSON")
	flags.StringP("config", "c", "", "YAML config file")
	return flags
}

// Usage writes the command line help to w.
func Usage(w io.Writer) {
	fmt.Fprintf(w, "usage: kafkadump <brokers> <topic> [flags]\n\n%s", newFlagSet().FlagUsages())
}

// Load builds the configuration from, in increasing precedence: defaults,
// the YAML file named by --config, .env and KAFKADUMP__ environment
// variables, flags, and finally the positional <brokers> <topic>.
func Load(args []string) (Config, error) {
	var cfg Config
	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return cfg, ErrHelp
		}
		return cfg, &Error{Err: err}
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return cfg, &Error{Err: err}
	}

	if path, _ := flags.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, &Error{Err: fmt.Errorf("load %s: %w", path, err)}
		}
	}
	if sv := k.String("schema_version"); sv != SupportedSchema {
		return cfg, &Error{Err: fmt.Errorf("schema_version %q not supported (want %q)", sv, SupportedSchema)}
	}

	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Component("config").Warn("ignoring unreadable .env", "err", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, "__", envKey), nil); err != nil {
		return cfg, &Error{Err: err}
	}

	if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagValue(flags)), nil); err != nil {
		return cfg, &Error{Err: err}
	}

	pos := flags.Args()
	if len(pos) > 2 {
		return cfg, &Error{Err: fmt.Errorf("unexpected arguments %q", pos[2:])}
	}
	positional := map[string]any{}
	if len(pos) > 0 {
		positional["kafka.brokers"] = pos[0]
	}
	if len(pos) > 1 {
		positional["kafka.topic"] = pos[1]
	}
	if err := k.Load(confmap.Provider(positional, "."), nil); err != nil {
		return cfg, &Error{Err: err}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, &Error{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

func flagValue(flags *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		if f.Name == "from-beginning" {
			if on, _ := flags.GetBool(f.Name); on {
				return key, "oldest"
			}
			return key, "newest"
		}
		return key, posflag.FlagVal(flags, f)
	}
}

// Validate checks everything that can be checked without touching the
// network or the filesystem.
func (c Config) Validate() error {
	if c.Kafka.Brokers == "" || c.Kafka.Topic == "" {
		return &Error{Err: errors.New("both <brokers> and <topic> are required")}
	}
	if err := c.Kafka.Validate(); err != nil {
		return &Error{Err: err}
	}
	if _, err := sink.ParseFraming(c.Sink.Framing); err != nil {
		return &Error{Err: err}
	}
	if c.Sink.Output == "" {
		return &Error{Err: errors.New("output path is empty")}
	}
	if c.PollTimeout <= 0 {
		return &Error{Err: fmt.Errorf("poll_timeout must be positive, got %s", c.PollTimeout)}
	}
	if c.Backoff.Min <= 0 || c.Backoff.Max < c.Backoff.Min {
		return &Error{Err: fmt.Errorf("backoff bounds [%s, %s] are invalid", c.Backoff.Min, c.Backoff.Max)}
	}
	for name, p := range map[string]int{"metrics_port": c.MetricsPort, "grpc_port": c.GRPCPort} {
		if p < 0 || p > 65535 {
			return &Error{Err: fmt.Errorf("%s %d out of range", name, p)}
		}
	}
	return nil
}

// SinkDriver names the sink registry entry for the configured output.
func (c Config) SinkDriver() string {
	if c.Sink.Output == "-" {
		return "stdout"
	}
	return "file"
}

func (c Config) SinkOptions() sink.Options {
	framing, _ := sink.ParseFraming(c.Sink.Framing)
	return sink.Options{
		Path:           c.Sink.Output,
		SyncEveryWrite: c.Sink.SyncEveryWrite,
		Framing:        framing,
		StatePath:      c.Sink.StateFile,
	}
}

// LogOptions layers log.* over KAFKADUMP_LOG_LEVEL / KAFKADUMP_LOG_JSON.
func (c Config) LogOptions() logging.Options {
	opts := logging.OptionsFromEnv()
	if c.Log.Level != "" {
		opts.Level = c.Log.Level
	}
	opts.JSON = opts.JSON || c.Log.JSON
	return opts
}
