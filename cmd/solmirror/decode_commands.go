package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/brojonat/solmirror/service/decoder"
	"github.com/brojonat/solmirror/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// decodeResult is what the decode command prints.
type decodeResult struct {
	Signature string          `json:"signature"`
	Source    solana.Source   `json:"source"`
	Decoded   bool            `json:"decoded"`
	Intent    *decoder.Intent `json:"intent,omitempty"`
}

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Run the trade decoder on a master transaction",
		ArgsUsage: "[SIGNATURE]",
		Description: `Fetches a confirmed transaction over RPC and runs the decoder chain on it,
printing the trade intent and the strategy that produced it.

With --file, decodes a stream transaction body saved from the feed instead.

Example:
  solmirror decode 5h3k...x9
  solmirror decode --file frame.json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Decode a saved stream transaction body (JSON)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "RPC timeout",
				Value: 30 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			logger := quietLogger()

			var rec *solana.Record
			var err error
			if path := c.String("file"); path != "" {
				rec, err = recordFromFile(path)
			} else {
				if c.NArg() < 1 {
					return fmt.Errorf("signature or --file is required")
				}
				ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
				defer cancel()
				rpcClient := solana.NewClient(solana.NewRPCClient(c.String("rpc-url")), "cli", nil, logger)
				rec, err = fetchRecord(ctx, rpcClient, c.Args().Get(0))
			}
			if err != nil {
				return err
			}

			intent, ok := decoder.New(logger, nil).Decode(rec)
			result := decodeResult{
				Signature: rec.Signature,
				Source:    rec.Source,
				Decoded:   ok,
				Intent:    intent,
			}

			if jsonMode(c) {
				return output(c, result)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Signature:  %s\n", result.Signature)
			if !ok {
				fmt.Fprintln(w, "No trade intent found")
				return nil
			}
			side := "SELL"
			if intent.IsBuy {
				side = "BUY"
			}
			fmt.Fprintf(w, "Side:       %s\n", side)
			fmt.Fprintf(w, "Token in:   %s\n", intent.TokenIn)
			fmt.Fprintf(w, "Token out:  %s\n", intent.TokenOut)
			fmt.Fprintf(w, "Amount in:  %.9f\n", intent.AmountIn)
			fmt.Fprintf(w, "DEX:        %s\n", intent.DEX)
			fmt.Fprintf(w, "Strategy:   %s (%s confidence)\n", intent.Strategy, intent.Confidence)
			if !intent.Resolved() {
				fmt.Fprintln(w, "Warning:    counter-asset unresolved, the engine would not mirror this trade")
			}
			return nil
		},
	}
}

// recordFromFile reads a stream transaction body.
func recordFromFile(path string) (*solana.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var tx solana.StreamTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &solana.Record{
		Signature:  tx.Signature,
		Source:     solana.SourceStream,
		ReceivedAt: time.Now(),
		Stream:     &tx,
		Raw:        data,
	}, nil
}

// fetchRecord retrieves a transaction the way the polling feed does.
func fetchRecord(ctx context.Context, client *solana.Client, signature string) (*solana.Record, error) {
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	result, err := client.FetchTransaction(ctx, sig)
	if err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(result)

	return &solana.Record{
		Signature:  signature,
		Slot:       result.Slot,
		Source:     solana.SourcePoll,
		ReceivedAt: time.Now(),
		Poll:       result,
		Raw:        raw,
	}, nil
}
