package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/comalice/valuechange"
	"github.com/comalice/valuechange/internal/config"
	"github.com/comalice/valuechange/internal/core"
	"github.com/comalice/valuechange/internal/extensibility"
	"github.com/comalice/valuechange/internal/production"
	"github.com/comalice/valuechange/internal/telemetry"
)

const (
	demoCycles           = 12
	defaultBlockInterval = time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// VALUECHANGE_* variables apply; the backend is always in memory.
	cfg, err := config.Load(os.Getenv("VALUECHANGE_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	shutdown, err := telemetry.Setup(ctx, "valuechange-demo", cfg.OTelEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup telemetry")
	}
	defer func() { _ = shutdown(context.Background()) }()

	interval := cfg.BlockInterval
	if interval == 0 {
		interval = defaultBlockInterval
	}
	blocks := extensibility.NewTickerBlocks(0, interval)
	defer blocks.Stop()

	calls := make(chan string, 10)
	publishChan := make(chan core.Record, 100)

	c := core.NewContract(cfg.ContractID,
		core.WithLogger(logger),
		core.WithBlockSource(blocks),
		core.WithCallSource(extensibility.NewChannelCallSource(calls)),
		core.WithPublisher(production.NewChannelPublisher(publishChan)),
		core.WithTraceSink(production.MultiTraceSink{
			production.NewLogTraceSink(logger),
			production.SpanTraceSink{},
		}),
	)
	defer c.Close()

	if _, err := c.InstantiateDefault(ctx); err != nil {
		logger.Fatal().Err(err).Msg("instantiate")
	}
	if err := c.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start dispatch loop")
	}

	visualizer := &production.DefaultVisualizer{}
	ticker := time.NewTicker(2 * interval)
	defer ticker.Stop()

	cycles := 0
	for {
		select {
		case <-ticker.C:
			calls <- core.MsgFlip
			calls <- core.MsgAddScore
			fmt.Printf("\n--- Cycle %d (block %d) ---\n", cycles+1, blocks.BlockNumber())
			select {
			case rec := <-publishChan:
				if sr, ok := rec.Event.(valuechange.ScoreReturn); ok {
					fmt.Printf("Published: %s score=%d at block %d\n", rec.Topic(), sr.Score, rec.Block)
				}
			case <-time.After(interval / 2):
			}
			if snap, err := c.Snapshot(ctx); err == nil {
				fmt.Println("DOT:\n" + visualizer.ExportDOT(snap))
			}
			cycles++
			if cycles >= demoCycles {
				fmt.Printf("Demo complete after %d cycles.\n", demoCycles)
				return
			}
		case <-ctx.Done():
			fmt.Println("\nShutting down gracefully...")
			return
		}
	}
}
