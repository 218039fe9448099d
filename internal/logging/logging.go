package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

type Options struct {
	Level string
	JSON  bool
	// Output defaults to stderr; stdout may carry payload bytes.
	Output io.Writer
}

var def atomic.Value

func init() {
	cfg := &slog.HandlerOptions{Level: slog.LevelInfo}
	h := slog.NewTextHandler(os.Stderr, cfg)
	def.Store(slog.New(h))
}

func Configure(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	cfg := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(out, cfg)
	} else {
		h = slog.NewTextHandler(out, cfg)
	}
	def.Store(slog.New(h))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func L() *slog.Logger {
	l, _ := def.Load().(*slog.Logger)
	return l
}

// Component returns L() tagged with the component name used in diagnostics.
func Component(name string) *slog.Logger {
	return L().With("component", name)
}

// OptionsFromEnv reads KAFKADUMP_LOG_LEVEL and KAFKADUMP_LOG_JSON.
func OptionsFromEnv() Options {
	var opts Options
	opts.Level = os.Getenv("KAFKADUMP_LOG_LEVEL")
	if b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("KAFKADUMP_LOG_JSON"))); err == nil {
		opts.JSON = b
	}
	return opts
}

func InitFromEnv() {
	Configure(OptionsFromEnv())
}
