package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/brojonat/solmirror/service/fees"
	"github.com/brojonat/solmirror/service/quote"
	"github.com/brojonat/solmirror/service/solana"
	"github.com/urfave/cli/v2"
)

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "Request a one-off quote from the aggregator",
		Description: `Asks the aggregator for a route without signing or submitting anything.

Example:
  solmirror quote --out DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263 --amount 0.1`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "in",
				Usage: "Input mint",
				Value: solana.NativeMint,
			},
			&cli.StringFlag{
				Name:     "out",
				Usage:    "Output mint",
				Required: true,
			},
			&cli.Float64Flag{
				Name:     "amount",
				Usage:    "Input amount in UI units",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "decimals",
				Usage: "Decimals of the input mint",
				Value: 9,
			},
			&cli.IntFlag{
				Name:  "slippage-bps",
				Usage: "Slippage tolerance in basis points",
				Value: 100,
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Overall timeout including retries",
				Value: 30 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			amount := c.Float64("amount")
			if amount <= 0 {
				return fmt.Errorf("amount must be positive")
			}
			decimals := c.Int("decimals")
			if decimals < 0 || decimals > 18 {
				return fmt.Errorf("decimals must be between 0 and 18")
			}
			units := uint64(math.Round(amount * math.Pow10(decimals)))

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			client := quote.NewClient([]string{c.String("quote-url")}, quote.DefaultPolicy(), nil, quietLogger(), nil)
			q, err := client.Quote(ctx, quote.QuoteRequest{
				InputMint:   c.String("in"),
				OutputMint:  c.String("out"),
				Amount:      units,
				SlippageBps: c.Int("slippage-bps"),
			})
			if err != nil {
				return fmt.Errorf("quote failed (%s): %w", quote.Classify(err), err)
			}

			if jsonMode(c) {
				return output(c, q)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "In:            %s %s\n", q.InAmount, q.InputMint)
			fmt.Fprintf(w, "Out:           %s %s\n", q.OutAmount, q.OutputMint)
			fmt.Fprintf(w, "Min out:       %s\n", q.OtherAmountThreshold)
			fmt.Fprintf(w, "Slippage:      %d bps\n", q.SlippageBps)
			fmt.Fprintf(w, "Price impact:  %s%%\n", q.PriceImpactPct)
			fmt.Fprintf(w, "Entry price:   %.12f\n", q.EntryPrice())
			return nil
		},
	}
}

func feesCommand() *cli.Command {
	return &cli.Command{
		Name:  "fees",
		Usage: "Show the fee model and the cost of a trade",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:    "slippage",
				Usage:   "Slippage percent",
				EnvVars: []string{"SLIPPAGE_PERCENT"},
				Value:   1.0,
			},
			&cli.Float64Flag{
				Name:    "tips",
				Usage:   "Priority tip in SOL",
				EnvVars: []string{"TIPS_AMOUNT"},
				Value:   0.0001,
			},
			&cli.Float64Flag{
				Name:    "fee-buffer",
				Usage:   "Fixed fee buffer in SOL",
				EnvVars: []string{"FEE_BUFFER"},
				Value:   0.001,
			},
			&cli.Float64Flag{
				Name:  "amount",
				Usage: "Trade size to break down",
			},
			&cli.BoolFlag{
				Name:  "sell",
				Usage: "Break down a sell instead of a buy",
			},
		},
		Action: func(c *cli.Context) error {
			model := fees.NewModel(c.Float64("slippage"), c.Float64("tips"), c.Float64("fee-buffer"))

			result := struct {
				Model     fees.Summary    `json:"model"`
				Breakdown *fees.Breakdown `json:"breakdown,omitempty"`
			}{Model: model.Describe()}
			if amount := c.Float64("amount"); amount > 0 {
				b := model.CostBreakdown(amount, !c.Bool("sell"))
				result.Breakdown = &b
			}

			if jsonMode(c) {
				return output(c, result)
			}

			w := c.App.Writer
			s := result.Model
			fmt.Fprintf(w, "Slippage:       %.2f%% (%d bps)\n", s.SlippagePercent, s.SlippageBps)
			fmt.Fprintf(w, "Base fee:       %.6f SOL\n", s.BaseFee)
			fmt.Fprintf(w, "Size fee:       %.6f SOL\n", s.SizeFee)
			fmt.Fprintf(w, "Tips:           %.6f SOL (%d lamports)\n", s.Tips, s.PriorityFeeLamports)
			fmt.Fprintf(w, "Fee buffer:     %.6f SOL\n", s.FeeBuffer)
			fmt.Fprintf(w, "Total per trade %.6f SOL\n", s.TotalFees)
			if b := result.Breakdown; b != nil {
				fmt.Fprintln(w)
				fmt.Fprintf(w, "Amount:         %.6f\n", b.Amount)
				fmt.Fprintf(w, "With slippage:  %.6f\n", b.SlippageAdjusted)
				fmt.Fprintf(w, "Total cost:     %.6f\n", b.TotalCost)
				fmt.Fprintf(w, "Final amount:   %.6f\n", b.FinalAmount)
			}
			return nil
		},
	}
}
