package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestConfigure_JSONComponent(t *testing.T) {
	prev := L()
	t.Cleanup(func() { def.Store(prev) })

	var buf bytes.Buffer
	Configure(Options{Level: "debug", JSON: true, Output: &buf})
	Component("sink").Debug("appended", "offset", 11)

	out := buf.String()
	require.Contains(t, out, `"component":"sink"`)
	require.Contains(t, out, `"offset":11`)
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("KAFKADUMP_LOG_LEVEL", "error")
	t.Setenv("KAFKADUMP_LOG_JSON", "true")

	opts := OptionsFromEnv()
	assert.Equal(t, "error", opts.Level)
	assert.True(t, opts.JSON)
}
