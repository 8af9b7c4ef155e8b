package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/engramlabs/engram/memory"
)

func tellCommand(cfg *config) *cli.Command {
	var prompt, response string
	return &cli.Command{
		Name:  "tell",
		Usage: "Record a prompt/response exchange into memory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "The prompt side of the exchange",
				Required:    true,
				Destination: &prompt,
			},
			&cli.StringFlag{
				Name:        "response",
				Aliases:     []string{"r"},
				Usage:       "The response side of the exchange",
				Required:    true,
				Destination: &response,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			eng, closer, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer closer(ctx)

			result, err := eng.Tell(ctx, prompt, response, nil)
			if err != nil {
				return err
			}
			if result.Deferred {
				fmt.Printf("deferred to document storage (%s): %s\n", result.Reason, result.ID)
				return nil
			}
			fmt.Printf("stored %s (%d concepts)\n", result.ID, result.Concepts)
			return nil
		},
	}
}

func askCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a question with memory-augmented generation",
		ArgsUsage: "<question>",
		Action: func(ctx context.Context, c *cli.Command) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return goerr.New("a question is required")
			}
			eng, closer, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer closer(ctx)

			answer, err := eng.Ask(ctx, question)
			if err != nil {
				return err
			}
			fmt.Println(answer.Text)
			if len(answer.Sources) > 0 {
				fmt.Printf("\n(informed by %d remembered interactions)\n", len(answer.Sources))
			}
			return nil
		},
	}
}

func augmentCommand(cfg *config) *cli.Command {
	var limit int64
	return &cli.Command{
		Name:      "augment",
		Usage:     "Print a prompt enriched with relevant memory context",
		ArgsUsage: "<prompt>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "Maximum interactions to weave in",
				Value:       5,
				Destination: &limit,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			prompt := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if prompt == "" {
				return goerr.New("a prompt is required")
			}
			eng, closer, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer closer(ctx)

			aug, err := eng.Augment(ctx, prompt, memory.RetrieveOptions{Limit: int(limit)})
			if err != nil {
				return err
			}
			fmt.Println(aug.Prompt)
			return nil
		},
	}
}

func recallCommand(cfg *config) *cli.Command {
	var limit int64
	var threshold float64
	return &cli.Command{
		Name:      "recall",
		Usage:     "List interactions relevant to a query",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "Maximum results",
				Value:       10,
				Destination: &limit,
			},
			&cli.FloatFlag{
				Name:        "threshold",
				Usage:       "Similarity threshold override",
				Destination: &threshold,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if query == "" {
				return goerr.New("a query is required")
			}
			eng, closer, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer closer(ctx)

			results, err := eng.Recall(ctx, query, memory.RetrieveOptions{Limit: int(limit), Threshold: threshold})
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no relevant interactions")
				return nil
			}
			for i, in := range results {
				ts := time.UnixMilli(in.Timestamp).Format(time.RFC3339)
				fmt.Printf("%2d. [%s] [%s] %s\n", i+1, in.MemoryType, ts, summarize(in.Prompt))
			}
			return nil
		},
	}
}

func inspectCommand(cfg *config) *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Report engine state",
		Action: func(ctx context.Context, c *cli.Command) error {
			eng, closer, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer closer(ctx)

			if err := eng.Initialize(ctx); err != nil {
				return err
			}
			info := eng.Inspect()
			fmt.Printf("ready:       %v\n", info.Ready)
			fmt.Printf("dimension:   %d\n", info.Dimension)
			fmt.Printf("short-term:  %d\n", info.ShortTerm)
			fmt.Printf("long-term:   %d\n", info.LongTerm)
			fmt.Printf("concepts:    %d\n", info.Concepts)
			fmt.Printf("clusters:    %d %v\n", info.Clusters, info.ClusterSizes)
			return nil
		},
	}
}

func decayCommand(cfg *config) *cli.Command {
	var window time.Duration
	var rate float64
	return &cli.Command{
		Name:  "decay",
		Usage: "Apply a forgetting pass to unaccessed records",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "window",
				Usage:       "Records not accessed within this window decay",
				Value:       7 * 24 * time.Hour,
				Destination: &window,
			},
			&cli.FloatFlag{
				Name:        "rate",
				Usage:       "Decay multiplier in (0, 1)",
				Value:       0.9,
				Destination: &rate,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			eng, closer, err := buildEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer closer(ctx)

			if err := eng.Initialize(ctx); err != nil {
				return err
			}
			n := eng.Sweep(window, rate)
			fmt.Printf("decayed %d records\n", n)
			return nil
		},
	}
}

func summarize(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
