package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/solmirror/service/fees"
	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration loaded from environment variables,
// optionally layered over a YAML file named by CONFIG_FILE.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Master wallet and feed
	MasterWallet string
	FeedEndpoint string
	FeedToken    string

	// Solana configuration
	RPCURLs []string
	Network string

	// Aggregator configuration
	QuoteURLs          []string
	HTTPTimeout        time.Duration
	HTTPConnectTimeout time.Duration

	// Follower key material, one of the two
	FollowerPrivateKey  string
	FollowerKeypairPath string

	// Sizing and fees
	LotSizeMode     fees.LotSizeMode
	LotSizeValue    float64
	SlippagePercent float64
	TipsAmount      float64
	FeeBuffer       float64

	// Feed tuning
	PollInterval         time.Duration
	PollLimit            int
	RPCRequestsPerSecond float64
	PingInterval         time.Duration

	// Execution
	ConfirmTimeout      time.Duration
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration

	// Ledger
	LedgerBackend      string
	LedgerPath         string
	DatabaseURL        string
	LatencyHistorySize int

	// Reporting
	NATSURL       string
	StatsSchedule string

	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string
}

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Load reads configuration from CONFIG_FILE (if set) and the environment and
// validates all required fields. Environment variables win over the file.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	var errs []error

	// Master wallet and feed
	cfg.MasterWallet = src.get("MASTER_WALLET_ADDRESS")
	if cfg.MasterWallet == "" {
		errs = append(errs, fmt.Errorf("MASTER_WALLET_ADDRESS is required"))
	} else if _, err := solana.PublicKeyFromBase58(cfg.MasterWallet); err != nil {
		errs = append(errs, fmt.Errorf("MASTER_WALLET_ADDRESS: invalid address %q: %w", cfg.MasterWallet, err))
	}

	cfg.FeedEndpoint = src.get("FEED_ENDPOINT")
	if cfg.FeedEndpoint == "" {
		errs = append(errs, fmt.Errorf("FEED_ENDPOINT is required"))
	}
	cfg.FeedToken = src.get("FEED_TOKEN")
	if cfg.FeedToken == "" {
		errs = append(errs, fmt.Errorf("FEED_TOKEN is required"))
	}

	// Solana configuration
	cfg.RPCURLs = splitList(src.getOrDefault("SOLANA_RPC_URLS", "https://api.mainnet-beta.solana.com"))
	cfg.Network = src.getOrDefault("NETWORK", "mainnet")
	if cfg.Network != "mainnet" && cfg.Network != "devnet" {
		errs = append(errs, fmt.Errorf("NETWORK must be mainnet or devnet, got %q", cfg.Network))
	}

	// Aggregator configuration
	cfg.QuoteURLs = splitList(src.getOrDefault("QUOTE_API_URLS", "https://quote-api.jup.ag/v6"))
	cfg.HTTPTimeout = src.duration("HTTP_TIMEOUT", "10s", &errs)
	cfg.HTTPConnectTimeout = src.duration("HTTP_CONNECT_TIMEOUT", "5s", &errs)

	cfg.FollowerPrivateKey = src.get("FOLLOWER_PRIVATE_KEY")
	cfg.FollowerKeypairPath = src.get("FOLLOWER_KEYPAIR_PATH")

	// Sizing and fees
	cfg.LotSizeMode = fees.ParseLotSizeMode(src.getOrDefault("LOT_SIZE_MODE", "percentage"))
	if !cfg.LotSizeMode.Valid() {
		errs = append(errs, fmt.Errorf("LOT_SIZE_MODE must be fixed, percentage or multiplier, got %q", cfg.LotSizeMode))
	}
	cfg.LotSizeValue = src.float("LOT_SIZE_VALUE", 10, &errs)
	cfg.SlippagePercent = src.float("SLIPPAGE_PERCENT", 1.0, &errs)
	cfg.TipsAmount = src.float("TIPS_AMOUNT", 0.0001, &errs)
	cfg.FeeBuffer = src.float("FEE_BUFFER", 0.001, &errs)

	// Feed tuning
	cfg.PollInterval = src.duration("POLL_INTERVAL", "5s", &errs)
	cfg.PollLimit = src.int("POLL_LIMIT", 5, &errs)
	cfg.RPCRequestsPerSecond = src.float("RPC_REQUESTS_PER_SECOND", 2, &errs)
	cfg.PingInterval = src.duration("PING_INTERVAL", "30s", &errs)

	// Execution
	cfg.ConfirmTimeout = src.duration("CONFIRM_TIMEOUT", "10s", &errs)
	cfg.RetryMaxAttempts = src.int("RETRY_MAX_ATTEMPTS", 3, &errs)
	cfg.RetryInitialBackoff = src.duration("RETRY_INITIAL_BACKOFF", "1s", &errs)

	// Ledger
	cfg.LedgerBackend = strings.ToLower(src.getOrDefault("LEDGER_BACKEND", BackendFile))
	cfg.LedgerPath = src.getOrDefault("LEDGER_PATH", "trades.json")
	cfg.DatabaseURL = src.get("DATABASE_URL")
	cfg.LatencyHistorySize = src.int("LATENCY_HISTORY_SIZE", 10000, &errs)

	// Reporting
	cfg.NATSURL = src.get("NATS_URL")
	cfg.StatsSchedule = src.getOrDefault("STATS_SCHEDULE", "@every 30s")

	// Server configuration
	cfg.ServerAddr = src.getOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = src.getOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = src.getOrDefault("LOG_LEVEL", "info")

	errs = append(errs, cfg.check()...)

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.MasterWallet == "" {
		errs = append(errs, fmt.Errorf("MasterWallet is required"))
	}
	if c.FeedEndpoint == "" {
		errs = append(errs, fmt.Errorf("FeedEndpoint is required"))
	}
	if c.FeedToken == "" {
		errs = append(errs, fmt.Errorf("FeedToken is required"))
	}
	if len(c.RPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("RPCURLs is required"))
	}
	if !c.LotSizeMode.Valid() {
		errs = append(errs, fmt.Errorf("LotSizeMode %q is not supported", c.LotSizeMode))
	}
	errs = append(errs, c.check()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// HasSigner reports whether follower key material is configured.
func (c *Config) HasSigner() bool {
	return c.FollowerPrivateKey != "" || c.FollowerKeypairPath != ""
}

// FeeModel builds the fee model from the configured parameters.
func (c *Config) FeeModel() fees.Model {
	return fees.NewModel(c.SlippagePercent, c.TipsAmount, c.FeeBuffer)
}

// check holds the range and cross-field rules shared by Load and Validate.
func (c *Config) check() []error {
	var errs []error

	if c.LotSizeValue <= 0 {
		errs = append(errs, fmt.Errorf("LOT_SIZE_VALUE must be positive"))
	}
	if c.SlippagePercent < 0 || c.SlippagePercent >= 100 {
		errs = append(errs, fmt.Errorf("SLIPPAGE_PERCENT must be in [0, 100)"))
	}
	if c.TipsAmount < 0 || c.FeeBuffer < 0 {
		errs = append(errs, fmt.Errorf("TIPS_AMOUNT and FEE_BUFFER cannot be negative"))
	}
	if c.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be at least 1 second"))
	}
	if c.PollLimit < 1 {
		errs = append(errs, fmt.Errorf("POLL_LIMIT must be at least 1"))
	}
	if c.RPCRequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("RPC_REQUESTS_PER_SECOND must be positive"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.LatencyHistorySize < 1 {
		errs = append(errs, fmt.Errorf("LATENCY_HISTORY_SIZE must be at least 1"))
	}
	if c.FollowerPrivateKey != "" && c.FollowerKeypairPath != "" {
		errs = append(errs, fmt.Errorf("set only one of FOLLOWER_PRIVATE_KEY and FOLLOWER_KEYPAIR_PATH"))
	}

	switch c.LedgerBackend {
	case BackendFile:
		if c.LedgerPath == "" {
			errs = append(errs, fmt.Errorf("LEDGER_PATH is required for the file backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required when LEDGER_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_BACKEND must be file or postgres, got %q", c.LedgerBackend))
	}

	return errs
}

// source resolves a key from the environment first, then the YAML file.
// File keys are the lower-cased variable names, e.g. master_wallet_address.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	s := source{file: map[string]string{}}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return s, fmt.Errorf("parse config file %s: %w", path, err)
	}
	for k, v := range raw {
		s.file[strings.ToLower(k)] = yamlString(v)
	}
	return s, nil
}

// yamlString flattens a scalar or a list of scalars into the env form.
func yamlString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

func (s source) get(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[strings.ToLower(key)]
}

// getOrDefault returns the value or a default if not set.
func (s source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) duration(key, defaultValue string, errs *[]error) time.Duration {
	value := s.getOrDefault(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q: %w", key, value, err))
		return 0
	}
	return d
}

func (s source) int(key string, defaultValue int, errs *[]error) int {
	value := s.get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q: %w", key, value, err))
		return 0
	}
	return n
}

func (s source) float(key string, defaultValue float64, errs *[]error) float64 {
	value := s.get(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid number %q: %w", key, value, err))
		return 0
	}
	return f
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
