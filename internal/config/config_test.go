package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kafkadump/sink"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"localhost:9092", "orders"})
	require.NoError(t, err)

	assert.Equal(t, "localhost:9092", cfg.Kafka.Brokers)
	assert.Equal(t, "orders", cfg.Kafka.Topic)
	assert.Equal(t, "sarama", cfg.Kafka.Driver)
	assert.Equal(t, "kafkadump", cfg.Kafka.GroupID)
	assert.Equal(t, "newest", cfg.Kafka.StartFrom)
	assert.True(t, cfg.Kafka.PartitionEOF)
	assert.Equal(t, 5*time.Second, cfg.Kafka.CommitInterval)
	assert.Equal(t, "kafka_data.txt", cfg.Sink.Output)
	assert.False(t, cfg.Sink.SyncEveryWrite)
	assert.Equal(t, time.Second, cfg.PollTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff.Min)
	assert.Equal(t, 5*time.Second, cfg.Backoff.Max)
	assert.Equal(t, "file", cfg.SinkDriver())
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--output=out.bin", "--sync-every-write", "--framing", "newline",
		"--from-beginning", "--driver=kgo", "--poll-timeout=250ms", "-g", "team-a",
		"b1:9092,b2:9092", "orders",
	})
	require.NoError(t, err)

	assert.Equal(t, "out.bin", cfg.Sink.Output)
	assert.True(t, cfg.Sink.SyncEveryWrite)
	assert.Equal(t, "oldest", cfg.Kafka.StartFrom)
	assert.Equal(t, "kgo", cfg.Kafka.Driver)
	assert.Equal(t, "team-a", cfg.Kafka.GroupID)
	assert.Equal(t, 250*time.Millisecond, cfg.PollTimeout)

	opts := cfg.SinkOptions()
	assert.Equal(t, sink.FramingNewline, opts.Framing)
	assert.True(t, opts.SyncEveryWrite)
}

func TestLoadYAMLFileThenPositional(t *testing.T) {
	path := writeFile(t, "kafkadump.yml", `schema_version: v1
kafka:
  brokers: file-broker:9092
  topic: from-file
  partition_eof: false
  commit_interval: 2s
sink:
  output: file.out
  framing: length
metrics_port: 9100
`)
	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, "file-broker:9092", cfg.Kafka.Brokers)
	assert.Equal(t, "from-file", cfg.Kafka.Topic)
	assert.False(t, cfg.Kafka.PartitionEOF)
	assert.Equal(t, 2*time.Second, cfg.Kafka.CommitInterval)
	assert.Equal(t, "file.out", cfg.Sink.Output)
	assert.Equal(t, 9100, cfg.MetricsPort)

	cfg, err = Load([]string{"--config", path, "cli:9092", "from-cli"})
	require.NoError(t, err)
	assert.Equal(t, "cli:9092", cfg.Kafka.Brokers)
	assert.Equal(t, "from-cli", cfg.Kafka.Topic)
}

func TestLoadRejectsSchema(t *testing.T) {
	path := writeFile(t, "kafkadump.yml", "schema_version: v999\n")
	_, err := Load([]string{"--config", path, "h:1", "t"})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "v999")
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "nope.yml"), "h:1", "t"})
	var ce *Error
	require.ErrorAs(t, err, &ce)
}

func TestLoadEnvBelowFlags(t *testing.T) {
	t.Setenv("KAFKADUMP__SINK__OUTPUT", "env.out")
	t.Setenv("KAFKADUMP__KAFKA__PARTITION_EOF", "false")
	t.Setenv("KAFKADUMP__POLL_TIMEOUT", "3s")

	cfg, err := Load([]string{"h:1", "t"})
	require.NoError(t, err)
	assert.Equal(t, "env.out", cfg.Sink.Output)
	assert.False(t, cfg.Kafka.PartitionEOF)
	assert.Equal(t, 3*time.Second, cfg.PollTimeout)

	cfg, err = Load([]string{"--output", "flag.out", "h:1", "t"})
	require.NoError(t, err)
	assert.Equal(t, "flag.out", cfg.Sink.Output)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DotEnvFile), []byte("KAFKADUMP__KAFKA__GROUP_ID=from-dotenv\n"), 0o644))
	t.Chdir(dir)
	// registers cleanup for the variable godotenv is about to set
	t.Setenv("KAFKADUMP__KAFKA__GROUP_ID", "")
	require.NoError(t, os.Unsetenv("KAFKADUMP__KAFKA__GROUP_ID"))

	cfg, err := Load([]string{"h:1", "t"})
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Kafka.GroupID)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string][]string{
		"no args":        {},
		"topic missing":  {"h:1"},
		"too many":       {"h:1", "t", "extra"},
		"bad broker":     {"not-a-broker", "t"},
		"bad topic":      {"h:1", "bad topic"},
		"bad framing":    {"--framing=csv", "h:1", "t"},
		"unknown flag":   {"--nope", "h:1", "t"},
		"zero poll":      {"--poll-timeout=0s", "h:1", "t"},
		"port too large": {"--metrics-port=70000", "h:1", "t"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(args)
			var ce *Error
			require.ErrorAs(t, err, &ce)
		})
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"--help"})
	assert.ErrorIs(t, err, ErrHelp)
}

func TestStdoutSink(t *testing.T) {
	cfg, err := Load([]string{"-o", "-", "h:1", "t"})
	require.NoError(t, err)
	assert.Equal(t, "stdout", cfg.SinkDriver())
}

func TestUsageListsFlags(t *testing.T) {
	var sb strings.Builder
	Usage(&sb)
	assert.Contains(t, sb.String(), "usage: kafkadump <brokers> <topic>")
	assert.Contains(t, sb.String(), "--sync-every-write")
}

func TestLogOptionsLayering(t *testing.T) {
	t.Setenv("KAFKADUMP_LOG_LEVEL", "warn")
	cfg, err := Load([]string{"h:1", "t"})
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogOptions().Level)

	cfg, err = Load([]string{"--log-level=debug", "--log-json", "h:1", "t"})
	require.NoError(t, err)
	opts := cfg.LogOptions()
	assert.Equal(t, "debug", opts.Level)
	assert.True(t, opts.JSON)
}
