package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	natspkg "github.com/brojonat/solmirror/service/nats"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// tailCommand follows trade events (or stats snapshots) published to JetStream.
func tailCommand() *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "Follow trade events published by the mirror",
		ArgsUsage: "[master_wallet]",
		Description: `Stream trade outcomes published to NATS JetStream as they happen.

Events are published to the subject: mirror.trades.{master_wallet}
Without a master wallet, events of every master are shown.

Example:
  solmirror nats tail 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM --json
  solmirror nats tail --must-jq '.state == "failed"'
  solmirror nats tail --stats`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "stats",
				Usage: "Follow statistics snapshots instead of trades",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "Only show events for which every jq filter is truthy",
			},
		},
		Action: func(c *cli.Context) error {
			subject := natspkg.TradeSubject(c.Args().Get(0))
			if c.Bool("stats") {
				subject = natspkg.StatsSubject
			}

			filters, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			sub, err := natspkg.NewSubscriber(c.String("nats-url"), "solmirror-cli", quietLogger())
			if err != nil {
				return err
			}
			defer sub.Close()

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			jsonOutput := jsonMode(c)
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", subject)
				fmt.Fprintf(os.Stderr, "   NATS: %s\n", c.String("nats-url"))
				fmt.Fprintf(os.Stderr, "\nWaiting for events... (Ctrl-C to exit)\n\n")
			}

			var count atomic.Int64
			stop, err := sub.Subscribe(ctx, subject, func(data []byte) {
				if !passesFilters(filters, data) {
					return
				}
				n := count.Add(1)
				if err := printEvent(c, subject == natspkg.StatsSubject, data, int(n)); err != nil {
					fmt.Fprintf(os.Stderr, "Error handling event: %v\n", err)
				}
			})
			if err != nil {
				return err
			}
			defer stop()

			<-ctx.Done()
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\n✅ Received %d events\n", count.Load())
			}
			return nil
		},
	}
}

// inspectStreamCommand shows information about the MIRROR JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the MIRROR JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage
- Stream configuration

Example:
  solmirror nats inspect-stream`,
		Action: func(c *cli.Context) error {
			sub, err := natspkg.NewSubscriber(c.String("nats-url"), "solmirror-cli", quietLogger())
			if err != nil {
				return err
			}
			defer sub.Close()

			info, err := sub.StreamInfo(context.Background())
			if err != nil {
				return err
			}

			if jsonMode(c) {
				return output(c, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}

func printEvent(c *cli.Context, stats bool, data []byte, n int) error {
	if stats {
		var event natspkg.StatsEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		if jsonMode(c) {
			return output(c, event)
		}
		printStatsEvent(c.App.Writer, &event)
		return nil
	}

	var event natspkg.TradeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	if jsonMode(c) {
		return output(c, event)
	}
	printTradeEvent(c.App.Writer, &event, n)
	return nil
}

func printTradeEvent(w io.Writer, e *natspkg.TradeEvent, n int) {
	side := "SELL"
	if e.IsBuy {
		side = "BUY"
	}
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Trade #%d  %s  %s\n", n, side, e.State)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Master:       %s\n", e.MasterWallet)
	fmt.Fprintf(w, "Master sig:   %s\n", e.MasterSignature)
	if e.TokenIn != "" {
		fmt.Fprintf(w, "Route:        %s → %s (%s)\n", shortAddress(e.TokenIn), shortAddress(e.TokenOut), e.DEX)
	}
	fmt.Fprintf(w, "Amounts:      master %.6f, ours %.6f\n", e.MasterAmount, e.YourAmount)
	if e.Signature != "" {
		fmt.Fprintf(w, "Signature:    %s (%s)\n", e.Signature, e.ConfirmStatus)
	}
	if e.Reason != "" {
		fmt.Fprintf(w, "Reason:       %s\n", e.Reason)
	}
	fmt.Fprintf(w, "Latency:      %.0fms (stage %s)\n", e.LatencyMs, e.LastStage)
	fmt.Fprintf(w, "Time:         %s\n", e.Timestamp.Format(time.RFC3339))
	fmt.Fprintln(w)
}

func printStatsEvent(w io.Writer, e *natspkg.StatsEvent) {
	last := "never"
	if !e.LastTradeTime.IsZero() {
		last = e.LastTradeTime.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "[%s] copies=%d ok=%d failed=%d skipped=%d avg_latency=%.0fms last_trade=%s\n",
		e.PublishedAt.Format(time.RFC3339),
		e.TotalCopies,
		e.SuccessfulCopies,
		e.FailedCopies,
		e.SkippedRecords,
		e.AvgLatencyMs,
		last,
	)
}

func compileFilters(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, 0, len(filters))
	for _, f := range filters {
		code, err := compileJQ(f)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// passesFilters reports whether every filter is truthy on the JSON event.
func passesFilters(filters []*gojq.Code, data []byte) bool {
	if len(filters) == 0 {
		return true
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return false
	}
	for _, code := range filters {
		if !matchJQ(code, v) {
			return false
		}
	}
	return true
}

// signalContext is cancelled on interrupt or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
