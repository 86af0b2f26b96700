package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solmirror/service/ledger"
	"github.com/urfave/cli/v2"
)

var limitFlag = &cli.IntFlag{
	Name:    "limit",
	Aliases: []string{"n"},
	Usage:   "Maximum number of entries (most recent first)",
	Value:   20,
}

func ledgerPnLCommand() *cli.Command {
	return &cli.Command{
		Name:  "pnl",
		Usage: "Show realized PnL grouped by period",
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

			book, err := openLedger(c)
			if err != nil {
				return err
			}
			defer book.Close()

			if period == ledger.PeriodTotal {
				total := book.TotalPnL()
				if jsonMode(c) {
					return output(c, total)
				}
				w := c.App.Writer
				fmt.Fprintf(w, "Trades:  %d\n", total.TotalTrades)
				fmt.Fprintf(w, "Profit:  %.6f\n", total.TotalProfit)
				fmt.Fprintf(w, "Loss:    %.6f\n", total.TotalLoss)
				fmt.Fprintf(w, "Net PnL: %.6f\n", total.NetPnL)
				fmt.Fprintf(w, "ROI:     %.2f%%\n", total.ROI)
				return nil
			}

			groups := book.PnL(period)
			if jsonMode(c) {
				return output(c, groups)
			}

			keys := make([]string, 0, len(groups))
			for k := range groups {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PERIOD\tTRADES\tPROFIT\tLOSS\tNET PNL")
			for _, k := range keys {
				g := groups[k]
				fmt.Fprintf(w, "%s\t%d\t%.6f\t%.6f\t%.6f\n", k, g.Trades, g.Profit, g.Loss, g.NetPnL)
			}
			return w.Flush()
		},
	}
}

func ledgerLatencyCommand() *cli.Command {
	return &cli.Command{
		Name:  "latency",
		Usage: "Show mean mirror latency over rolling windows",
		Action: func(c *cli.Context) error {
			book, err := openLedger(c)
			if err != nil {
				return err
			}
			defer book.Close()

			avg := book.LatencyAverages()
			if jsonMode(c) {
				return output(c, avg)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WINDOW\tAVG LATENCY (ms)")
			fmt.Fprintf(w, "1 minute\t%.1f\n", avg.OneMinute)
			fmt.Fprintf(w, "15 minutes\t%.1f\n", avg.FifteenMinutes)
			fmt.Fprintf(w, "1 hour\t%.1f\n", avg.OneHour)
			fmt.Fprintf(w, "4 hours\t%.1f\n", avg.FourHours)
			fmt.Fprintf(w, "24 hours\t%.1f\n", avg.OneDay)
			fmt.Fprintf(w, "all time\t%.1f\n", avg.AllTime)
			return w.Flush()
		},
	}
}

func ledgerDurationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "durations",
		Usage: "Show holding times of closed trades",
		Action: func(c *cli.Context) error {
			book, err := openLedger(c)
			if err != nil {
				return err
			}
			defer book.Close()

			stats := book.DurationStats()
			if jsonMode(c) {
				return output(c, stats)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Average:  %s\n", seconds(stats.Average))
			fmt.Fprintf(w, "Shortest: %s\n", seconds(stats.Shortest))
			fmt.Fprintf(w, "Longest:  %s\n", seconds(stats.Longest))
			fmt.Fprintf(w, "Samples:  %d\n", len(stats.Recent))
			return nil
		},
	}
}

func ledgerTradesCommand() *cli.Command {
	return &cli.Command{
		Name:    "trades",
		Aliases: []string{"ls"},
		Usage:   "List mirrored trades",
		Flags: []cli.Flag{
			limitFlag,
			&cli.BoolFlag{
				Name:  "open",
				Usage: "Only show buys that have not been closed",
			},
		},
		Action: func(c *cli.Context) error {
			book, err := openLedger(c)
			if err != nil {
				return err
			}
			defer book.Close()

			trades := book.Trades(0)
			if c.Bool("open") {
				open := make([]ledger.Trade, 0, len(trades))
				for _, t := range trades {
					if t.IsBuy && !t.Closed() {
						open = append(open, t)
					}
				}
				trades = open
			}
			if n := c.Int("limit"); n > 0 && len(trades) > n {
				trades = trades[len(trades)-n:]
			}

			if jsonMode(c) {
				return output(c, trades)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSIDE\tTOKEN IN\tTOKEN OUT\tAMOUNT IN\tSTATUS\tPNL\tLATENCY")
			for _, t := range trades {
				side := "sell"
				if t.IsBuy {
					side = "buy"
				}
				pnl := "-"
				if t.PnL != nil {
					pnl = fmt.Sprintf("%.6f", *t.PnL)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.6f\t%s\t%s\t%.0fms\n",
					t.Timestamp.UTC().Format(time.RFC3339),
					side,
					shortAddress(t.TokenIn),
					shortAddress(t.TokenOut),
					t.AmountIn,
					t.Status,
					pnl,
					t.LatencyMs,
				)
			}
			return w.Flush()
		},
	}
}

func ledgerFailedCommand() *cli.Command {
	return &cli.Command{
		Name:  "failed",
		Usage: "List master trades that were not mirrored",
		Flags: []cli.Flag{limitFlag},
		Action: func(c *cli.Context) error {
			book, err := openLedger(c)
			if err != nil {
				return err
			}
			defer book.Close()

			failed := book.FailedTrades(c.Int("limit"))
			if jsonMode(c) {
				return output(c, failed)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tMASTER SIGNATURE\tMASTER AMOUNT\tREASON")
			for _, f := range failed {
				fmt.Fprintf(w, "%s\t%s\t%.6f\t%s\n",
					f.Timestamp.UTC().Format(time.RFC3339),
					shortAddress(f.MasterSignature),
					f.MasterAmount,
					f.Reason,
				)
			}
			return w.Flush()
		},
	}
}

func ledgerErrorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "errors",
		Usage: "List pipeline errors",
		Flags: []cli.Flag{
			limitFlag,
			&cli.StringFlag{
				Name:  "type",
				Usage: "Filter by error type (dns, rate_limit, api, rpc, chain, ...)",
			},
		},
		Action: func(c *cli.Context) error {
			book, err := openLedger(c)
			if err != nil {
				return err
			}
			defer book.Close()

			errs := book.Errors(0)
			if typ := c.String("type"); typ != "" {
				filtered := make([]ledger.ErrorRecord, 0)
				for _, e := range errs {
					if e.Type == typ {
						filtered = append(filtered, e)
					}
				}
				errs = filtered
			}
			if n := c.Int("limit"); n > 0 && len(errs) > n {
				errs = errs[len(errs)-n:]
			}

			if jsonMode(c) {
				return output(c, errs)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tMESSAGE\tPOTENTIAL CAUSE")
			for _, e := range errs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.Timestamp.UTC().Format(time.RFC3339),
					e.Type,
					e.Message,
					e.PotentialCause,
				)
			}
			return w.Flush()
		},
	}
}

// openLedger loads the configured ledger backend.
func openLedger(c *cli.Context) (*ledger.Ledger, error) {
	ctx := context.Background()

	var store ledger.Store
	switch backend := c.String("ledger-backend"); backend {
	case "file", "":
		store = ledger.NewFileStore(c.String("ledger-path"), ledger.DefaultLatencyCapacity)
	case "postgres":
		dbURL := c.String("database-url")
		if dbURL == "" {
			return nil, fmt.Errorf("database-url is required for the postgres backend (set DATABASE_URL env var or use --database-url)")
		}
		pg, err := ledger.ConnectPostgres(ctx, dbURL, ledger.DefaultLatencyCapacity)
		if err != nil {
			return nil, err
		}
		store = pg
	default:
		return nil, fmt.Errorf("unknown ledger backend %q: must be file or postgres", backend)
	}

	book, err := ledger.Open(ctx, store, ledger.DefaultLatencyCapacity, quietLogger(), nil)
	if err != nil {
		store.Close()
		return nil, err
	}
	return book, nil
}

func seconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(time.Second).String()
}

// shortAddress abbreviates base58 addresses and signatures for table output.
func shortAddress(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:4] + "…" + s[len(s)-4:]
}
