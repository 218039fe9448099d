package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"kafkadump/internal/config"
	"kafkadump/internal/engine"
	"kafkadump/internal/logging"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// writes to a closed stdout reader fail with EPIPE instead of killing us
	signal.Ignore(syscall.SIGPIPE)
	logging.InitFromEnv()

	cfg, err := config.Load(args)
	if errors.Is(err, config.ErrHelp) {
		config.Usage(os.Stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		config.Usage(os.Stderr)
		return engine.ConfigFailure.ExitCode()
	}
	logging.Configure(cfg.LogOptions())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return engine.Run(ctx, cfg).Reason.ExitCode()
}
