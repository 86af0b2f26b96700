package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/brojonat/solmirror/service/ledger"
)

// migrate-ledger copies a JSON ledger file into the Postgres ledger tables.
// Trades already present (by id) are skipped, so the command can be rerun.
// Failed trades, errors and latency samples are copied only into empty
// tables.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	from := flag.String("from", envOr("LEDGER_PATH", "trades.json"), "source ledger file")
	dsn := flag.String("database-url", os.Getenv("DATABASE_URL"), "target Postgres connection string")
	dryRun := flag.Bool("dry-run", false, "report what would be copied without writing")
	flag.Parse()

	if *dsn == "" {
		logger.Error("DATABASE_URL or --database-url is required")
		os.Exit(1)
	}

	ctx := context.Background()
	logger.Info("starting ledger migration", "from", *from, "dry_run", *dryRun)

	src, err := ledger.NewFileStore(*from, ledger.DefaultLatencyCapacity).Load(ctx)
	if err != nil {
		logger.Error("failed to load source ledger", "error", err)
		os.Exit(1)
	}

	store, err := ledger.ConnectPostgres(ctx, *dsn, ledger.DefaultLatencyCapacity)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to apply ledger schema", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	dst, err := store.Load(ctx)
	if err != nil {
		logger.Error("failed to load target ledger", "error", err)
		os.Exit(1)
	}

	var target ledger.Store = store
	if *dryRun {
		target = nil
	}
	res := copyLedger(ctx, src, dst, target, logger)

	logger.Info("migration complete",
		"trades_copied", res.Trades,
		"trades_skipped", res.SkippedTrades,
		"failed_trades_copied", res.FailedTrades,
		"errors_copied", res.Errors,
		"latency_copied", res.Latency,
		"errors", res.WriteErrors,
	)
	if res.WriteErrors > 0 {
		os.Exit(1)
	}
}

type result struct {
	Trades        int
	SkippedTrades int
	FailedTrades  int
	Errors        int
	Latency       int
	WriteErrors   int
}

// copyLedger writes the records of src missing from dst into target. A nil
// target only counts.
func copyLedger(ctx context.Context, src, dst *ledger.Snapshot, target ledger.Store, logger *slog.Logger) result {
	var res result

	existing := make(map[string]bool, len(dst.Trades))
	for _, t := range dst.Trades {
		existing[t.ID] = true
	}

	for _, t := range src.Trades {
		if existing[t.ID] {
			res.SkippedTrades++
			continue
		}
		if target != nil {
			err := target.AppendTrade(ctx, t)
			if errors.Is(err, ledger.ErrDuplicateTrade) {
				res.SkippedTrades++
				continue
			}
			if err != nil {
				logger.Error("failed to copy trade", "trade_id", t.ID, "error", err)
				res.WriteErrors++
				continue
			}
		}
		existing[t.ID] = true
		res.Trades++
	}

	if len(dst.FailedTrades) == 0 {
		for _, f := range src.FailedTrades {
			if err := write(target, func(s ledger.Store) error { return s.AppendFailed(ctx, f) }); err != nil {
				logger.Error("failed to copy failed trade", "master_signature", f.MasterSignature, "error", err)
				res.WriteErrors++
				continue
			}
			res.FailedTrades++
		}
	} else if len(src.FailedTrades) > 0 {
		logger.Warn("target already has failed trades, skipping", "count", len(dst.FailedTrades))
	}

	if len(dst.Errors) == 0 {
		for _, e := range src.Errors {
			if err := write(target, func(s ledger.Store) error { return s.AppendError(ctx, e) }); err != nil {
				logger.Error("failed to copy error record", "error_type", e.Type, "error", err)
				res.WriteErrors++
				continue
			}
			res.Errors++
		}
	} else if len(src.Errors) > 0 {
		logger.Warn("target already has error records, skipping", "count", len(dst.Errors))
	}

	if len(dst.LatencyHistory) == 0 {
		for _, l := range src.LatencyHistory {
			if err := write(target, func(s ledger.Store) error { return s.AppendLatency(ctx, l) }); err != nil {
				logger.Error("failed to copy latency sample", "error", err)
				res.WriteErrors++
				continue
			}
			res.Latency++
		}
	} else if len(src.LatencyHistory) > 0 {
		logger.Warn("target already has latency history, skipping", "count", len(dst.LatencyHistory))
	}

	return res
}

func write(target ledger.Store, fn func(ledger.Store) error) error {
	if target == nil {
		return nil
	}
	return fn(target)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
