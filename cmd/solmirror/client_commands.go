package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solmirror/client"
	"github.com/brojonat/solmirror/service/ledger"
	natspkg "github.com/brojonat/solmirror/service/nats"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "Query a running mirror over its HTTP API",
		Subcommands: []*cli.Command{
			clientStatsCommand(),
			clientPnLCommand(),
			clientTradesCommand(),
			clientAwaitCommand(),
		},
	}
}

func newAPIClient(c *cli.Context, timeout time.Duration) *client.Client {
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: timeout}, quietLogger())
}

func clientStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show the engine statistics",
		Action: func(c *cli.Context) error {
			stats, err := newAPIClient(c, 10*time.Second).Stats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			if jsonMode(c) {
				return output(c, stats)
			}

			successRate := 0.0
			if stats.TotalCopies > 0 {
				successRate = float64(stats.SuccessfulCopies) / float64(stats.TotalCopies) * 100
			}
			last := "never"
			if !stats.LastTradeTime.IsZero() {
				last = stats.LastTradeTime.Format(time.RFC3339)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Total copies:    %d\n", stats.TotalCopies)
			fmt.Fprintf(w, "Successful:      %d (%.1f%%)\n", stats.SuccessfulCopies, successRate)
			fmt.Fprintf(w, "Failed:          %d\n", stats.FailedCopies)
			fmt.Fprintf(w, "Skipped records: %d\n", stats.SkippedRecords)
			fmt.Fprintf(w, "Avg latency:     %.0fms\n", stats.AvgLatencyMs)
			fmt.Fprintf(w, "Last trade:      %s\n", last)
			return nil
		},
	}
}

func clientPnLCommand() *cli.Command {
	return &cli.Command{
		Name:  "pnl",
		Usage: "Show realized PnL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "period",
				Aliases: []string{"p"},
				Usage:   "Grouping: hour, day, week or total",
				Value:   "day",
			},
		},
		Action: func(c *cli.Context) error {
			period, err := ledger.ParsePeriod(c.String("period"))
			if err != nil {
				return err
			}
			api := newAPIClient(c, 10*time.Second)

			if period == ledger.PeriodTotal {
				total, err := api.TotalPnL(context.Background())
				if err != nil {
					return fmt.Errorf("failed to get pnl: %w", err)
				}
				if jsonMode(c) {
					return output(c, total)
				}
				fmt.Fprintf(c.App.Writer, "Trades: %d  Net PnL: %.6f  ROI: %.2f%%\n", total.TotalTrades, total.NetPnL, total.ROI)
				return nil
			}

			report, err := api.PnL(context.Background(), period)
			if err != nil {
				return fmt.Errorf("failed to get pnl: %w", err)
			}
			if jsonMode(c) {
				return output(c, report)
			}

			keys := make([]string, 0, len(report.Groups))
			for k := range report.Groups {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PERIOD\tTRADES\tPROFIT\tLOSS\tNET PNL")
			for _, k := range keys {
				g := report.Groups[k]
				fmt.Fprintf(w, "%s\t%d\t%.6f\t%.6f\t%.6f\n", k, g.Trades, g.Profit, g.Loss, g.NetPnL)
			}
			return w.Flush()
		},
	}
}

func clientTradesCommand() *cli.Command {
	return &cli.Command{
		Name:  "trades",
		Usage: "List recent mirrored trades",
		Flags: []cli.Flag{limitFlag},
		Action: func(c *cli.Context) error {
			trades, err := newAPIClient(c, 10*time.Second).Trades(context.Background(), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list trades: %w", err)
			}
			if jsonMode(c) {
				return output(c, trades)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSIDE\tTOKEN IN\tTOKEN OUT\tAMOUNT IN\tSTATUS")
			for _, t := range trades {
				side := "sell"
				if t.IsBuy {
					side = "buy"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.6f\t%s\n",
					t.Timestamp.UTC().Format(time.RFC3339),
					side,
					shortAddress(t.TokenIn),
					shortAddress(t.TokenOut),
					t.AmountIn,
					t.Status,
				)
			}
			return w.Flush()
		},
	}
}

func clientAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until the mirror reports the outcome of a master trade",
		ArgsUsage: "MASTER_SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "master",
				Usage: "Only watch events of this master wallet",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for the outcome",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("master signature is required")
			}
			signature := c.Args().Get(0)
			timeout := c.Duration("timeout")

			// streaming: the context bounds the wait, not the http client
			api := newAPIClient(c, 0)

			if !jsonMode(c) {
				fmt.Fprintf(os.Stderr, "Waiting for outcome of %s (timeout %v)...\n\n", signature, timeout)
			}

			event, err := api.Await(c.Context, c.String("master"), timeout, func(e *natspkg.TradeEvent) bool {
				return e.MasterSignature == signature
			})
			if err != nil {
				return fmt.Errorf("failed to await trade: %w", err)
			}

			if jsonMode(c) {
				return output(c, event)
			}
			printTradeEvent(c.App.Writer, event, 1)
			return nil
		},
	}
}
