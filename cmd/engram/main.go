// Command engram runs the semantic memory engine from the terminal: record
// exchanges, ask memory-augmented questions, and inspect engine state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/engramlabs/engram/logging"
)

func main() {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, argv []string) error {
	cfg := &config{}

	cmd := &cli.Command{
		Name:  "engram",
		Usage: "Semantic memory engine for conversational AI",
		Flags: globalFlags(cfg),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if err := cfg.load(); err != nil {
				return ctx, err
			}
			logger := logging.New(cfg.LogLevel, os.Stderr)
			logging.SetDefault(logger)
			return logging.With(ctx, logger), nil
		},
		Commands: []*cli.Command{
			tellCommand(cfg),
			askCommand(cfg),
			augmentCommand(cfg),
			recallCommand(cfg),
			inspectCommand(cfg),
			decayCommand(cfg),
		},
	}
	return cmd.Run(ctx, argv)
}
