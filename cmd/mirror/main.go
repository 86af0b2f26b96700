package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/solmirror/service/config"
	"github.com/brojonat/solmirror/service/decoder"
	"github.com/brojonat/solmirror/service/feed"
	"github.com/brojonat/solmirror/service/keystore"
	"github.com/brojonat/solmirror/service/ledger"
	"github.com/brojonat/solmirror/service/metrics"
	"github.com/brojonat/solmirror/service/mirror"
	natspkg "github.com/brojonat/solmirror/service/nats"
	"github.com/brojonat/solmirror/service/quote"
	"github.com/brojonat/solmirror/service/server"
	"github.com/brojonat/solmirror/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Runs after every other deferred cleanup so the ledger is closed first.
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting mirror",
		"master", cfg.MasterWallet,
		"network", cfg.Network,
		"lot_size_mode", cfg.LotSizeMode,
		"lot_size_value", cfg.LotSizeValue,
		"ledger_backend", cfg.LedgerBackend,
		"log_level", cfg.LogLevel,
	)

	if !cfg.HasSigner() {
		logger.Error("follower key is required: set FOLLOWER_PRIVATE_KEY or FOLLOWER_KEYPAIR_PATH")
		os.Exit(1)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Start metrics HTTP server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Open the ledger
	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open ledger store", "backend", cfg.LedgerBackend, "error", err)
		os.Exit(1)
	}
	book, err := ledger.Open(ctx, store, cfg.LatencyHistorySize, logger, metricsCollector)
	if err != nil {
		logger.Error("failed to load ledger", "error", err)
		store.Close()
		os.Exit(1)
	}
	defer book.Close()

	// Follower key
	signer, err := keystore.Load(cfg.FollowerPrivateKey, cfg.FollowerKeypairPath)
	if err != nil {
		logger.Error("failed to load follower key", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded follower key", "follower", signer.PublicAddress())

	// Solana RPC client with multi-endpoint support
	solanaClient := solana.NewClient(
		solana.NewMultiRPCClient(cfg.RPCURLs),
		endpointLabel(cfg.RPCURLs[0]),
		metricsCollector,
		logger,
	)
	logger.Info("initialized solana RPC client", "total_endpoints", len(cfg.RPCURLs))

	// Aggregator client and executor share one retry policy
	policy := quote.DefaultPolicy()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.InitialInterval = cfg.RetryInitialBackoff
	quotes := quote.NewClient(
		cfg.QuoteURLs,
		policy,
		quote.NewHTTPClient(cfg.HTTPConnectTimeout, cfg.HTTPTimeout),
		logger,
		metricsCollector,
	)
	executor := quote.NewExecutor(quotes, solanaClient, signer, policy, logger, metricsCollector)

	feeModel := cfg.FeeModel()
	summary := feeModel.Describe()
	logger.Info("fee model",
		"slippage_bps", summary.SlippageBps,
		"priority_fee_lamports", summary.PriorityFeeLamports,
		"total_fees_sol", summary.TotalFees,
	)

	engine := mirror.NewEngine(
		mirror.Config{
			LotSizeMode:    cfg.LotSizeMode,
			LotSizeValue:   cfg.LotSizeValue,
			Fees:           feeModel,
			ConfirmTimeout: cfg.ConfirmTimeout,
		},
		decoder.New(logger, metricsCollector),
		solanaClient,
		executor,
		book,
		logger,
		metricsCollector,
	)

	// NATS is optional: without it outcomes and stats are only logged and
	// the SSE endpoints are disabled.
	var statsSink mirror.StatsSink
	var tradeStream server.TradeStream
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, metricsCollector)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		sink := natspkg.NewSink(publisher, cfg.MasterWallet)
		engine.SetSink(sink)
		statsSink = sink

		subscriber, err := natspkg.NewSubscriber(cfg.NATSURL, "solmirror-sse", logger)
		if err != nil {
			logger.Error("failed to create NATS subscriber", "error", err)
			os.Exit(1)
		}
		defer subscriber.Close()
		tradeStream = subscriber

		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, trade events will not be published")
	}

	reporter, err := mirror.NewReporter(ctx, cfg.StatsSchedule, engine, statsSink, logger)
	if err != nil {
		logger.Error("failed to create stats reporter", "error", err)
		os.Exit(1)
	}
	reporter.Start()
	defer reporter.Stop()

	// Query API
	httpServer := server.New(cfg.ServerAddr, book, engine, tradeStream, metricsCollector, logger)
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Feed
	master, _ := solanago.PublicKeyFromBase58(cfg.MasterWallet) // validated by config
	streamCfg := feed.DefaultStreamConfig()
	streamCfg.Endpoint = cfg.FeedEndpoint
	streamCfg.Token = cfg.FeedToken
	streamCfg.PingInterval = cfg.PingInterval

	pollCfg := feed.DefaultPollerConfig()
	pollCfg.Interval = cfg.PollInterval
	pollCfg.Limit = cfg.PollLimit
	pollCfg.RequestsPerSecond = cfg.RPCRequestsPerSecond

	watcher := feed.NewWatcher(feed.Config{
		Master: master,
		Stream: streamCfg,
		Poll:   pollCfg,
	}, solanaClient, logger, metricsCollector)

	engineErrors := make(chan error, 1)
	go func() {
		engineErrors <- engine.Run(ctx, watcher.Watch(ctx))
	}()

	logger.Info("mirror initialized, all dependencies ready",
		"follower", signer.PublicAddress(),
		"server_addr", cfg.ServerAddr,
		"metrics_addr", cfg.MetricsAddr,
	)

	// Wait for shutdown signal or a component failure
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	engineStopped := false
	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		exitCode = 1
	case err := <-engineErrors:
		engineStopped = true
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine stopped", "error", err)
			exitCode = 1
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// A record in flight may still be writing its ledger entry.
	if !engineStopped {
		if err := awaitEngine(shutdownCtx, engineErrors); err != nil {
			logger.Error("engine did not stop cleanly", "error", err)
			exitCode = 1
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", "error", err)
	}

	reporter.Push(shutdownCtx)
	stats := engine.Stats()
	logger.Info("shutdown complete",
		"total_copies", stats.TotalCopies,
		"successful_copies", stats.SuccessfulCopies,
		"failed_copies", stats.FailedCopies,
		"avg_latency_ms", stats.AvgLatencyMs,
	)
}

// awaitEngine waits for the engine goroutine to return, bounded by ctx.
// Cancellation is the normal way for the engine to stop.
func awaitEngine(ctx context.Context, engineErrors <-chan error) error {
	select {
	case err := <-engineErrors:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for engine: %w", ctx.Err())
	}
}

// openStore builds the configured ledger backend.
func openStore(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		pg, err := ledger.ConnectPostgres(ctx, cfg.DatabaseURL, cfg.LatencyHistorySize)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return ledger.NewFileStore(cfg.LedgerPath, cfg.LatencyHistorySize), nil
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// endpointLabel extracts a short identifier from the RPC URL for metrics labeling.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
func endpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "unknown"
	}
	host := parsed.Hostname()

	for _, provider := range []string{"helius", "quiknode", "quicknode", "alchemy", "triton", "rpcpool", "mainnet", "devnet", "testnet"} {
		if strings.Contains(host, provider) {
			if provider == "quicknode" {
				return "quiknode"
			}
			return provider
		}
	}
	return host
}
