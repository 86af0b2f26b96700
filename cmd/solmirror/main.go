package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "solmirror",
		Usage: "Solana copy-trading mirror CLI",
		Description: `A command-line tool for inspecting and debugging the solmirror daemon.

Use this CLI to read the trade ledger, decode master transactions, request
one-off quotes, query a running daemon and tail published trade events.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Ledger inspection commands
			{
				Name:  "ledger",
				Usage: "Read the trade ledger directly",
				Subcommands: []*cli.Command{
					ledgerPnLCommand(),
					ledgerLatencyCommand(),
					ledgerDurationsCommand(),
					ledgerTradesCommand(),
					ledgerFailedCommand(),
					ledgerErrorsCommand(),
				},
			},
			decodeCommand(),
			quoteCommand(),
			feesCommand(),
			// Client commands (HTTP API)
			clientCommands(),
			// NATS trade event commands
			{
				Name:  "nats",
				Usage: "NATS trade event commands",
				Subcommands: []*cli.Command{
					tailCommand(),
					inspectStreamCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
				},
			},
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "ledger-backend",
				Usage:   "Ledger backend (file or postgres)",
				EnvVars: []string{"LEDGER_BACKEND"},
				Value:   "file",
			},
			&cli.StringFlag{
				Name:    "ledger-path",
				Usage:   "Path of the JSON ledger file",
				EnvVars: []string{"LEDGER_PATH"},
				Value:   "trades.json",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for the postgres backend",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC URL",
				EnvVars: []string{"SOLANA_RPC_URL"},
				Value:   "https://api.mainnet-beta.solana.com",
			},
			&cli.StringFlag{
				Name:    "quote-url",
				Usage:   "Aggregator API base URL",
				EnvVars: []string{"QUOTE_API_URL"},
				Value:   "https://quote-api.jup.ag/v6",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Query API URL of a running daemon",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the JSON output (implies --json)",
			},
		},
	}
}
