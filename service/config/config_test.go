package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brojonat/solmirror/service/fees"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaster = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

// setRequired sets the three variables every configuration needs.
func setRequired(t *testing.T) {
	t.Setenv("MASTER_WALLET_ADDRESS", testMaster)
	t.Setenv("FEED_ENDPOINT", "wss://feed.example.com/ws")
	t.Setenv("FEED_TOKEN", "secret")
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, testMaster, cfg.MasterWallet)
	assert.Equal(t, []string{"https://api.mainnet-beta.solana.com"}, cfg.RPCURLs)
	assert.Equal(t, []string{"https://quote-api.jup.ag/v6"}, cfg.QuoteURLs)
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, fees.ModePercentage, cfg.LotSizeMode)
	assert.Equal(t, 10.0, cfg.LotSizeValue)
	assert.Equal(t, 1.0, cfg.SlippagePercent)
	assert.Equal(t, 0.0001, cfg.TipsAmount)
	assert.Equal(t, 0.001, cfg.FeeBuffer)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 5, cfg.PollLimit)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryInitialBackoff)
	assert.Equal(t, BackendFile, cfg.LedgerBackend)
	assert.Equal(t, "trades.json", cfg.LedgerPath)
	assert.Equal(t, 10000, cfg.LatencyHistorySize)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, "@every 30s", cfg.StatsSchedule)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, ":9091", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.HasSigner())
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "MASTER_WALLET_ADDRESS is required")
	assert.Contains(t, err.Error(), "FEED_ENDPOINT is required")
	assert.Contains(t, err.Error(), "FEED_TOKEN is required")
}

func TestLoad_InvalidMasterAddress(t *testing.T) {
	setRequired(t)
	t.Setenv("MASTER_WALLET_ADDRESS", "not-base58-0OIl")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SOLANA_RPC_URLS", "https://a.example.com, https://b.example.com")
	t.Setenv("QUOTE_API_URLS", "https://quote-api.jup.ag/v6,https://public.jupiterapi.com")
	t.Setenv("LOT_SIZE_MODE", "Fixed")
	t.Setenv("LOT_SIZE_VALUE", "0.25")
	t.Setenv("SLIPPAGE_PERCENT", "2.5")
	t.Setenv("POLL_INTERVAL", "10s")
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/solmirror")
	t.Setenv("FOLLOWER_PRIVATE_KEY", "base58key")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RPCURLs)
	assert.Len(t, cfg.QuoteURLs, 2)
	assert.Equal(t, fees.ModeFixed, cfg.LotSizeMode)
	assert.Equal(t, 0.25, cfg.LotSizeValue)
	assert.Equal(t, 250, cfg.FeeModel().SlippageBps())
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, BackendPostgres, cfg.LedgerBackend)
	assert.True(t, cfg.HasSigner())
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"duration", "POLL_INTERVAL", "soon", "invalid duration"},
		{"integer", "POLL_LIMIT", "five", "invalid integer"},
		{"number", "SLIPPAGE_PERCENT", "lots", "invalid number"},
		{"lot mode", "LOT_SIZE_MODE", "kelly", "LOT_SIZE_MODE must be"},
		{"backend", "LEDGER_BACKEND", "sqlite", "LEDGER_BACKEND must be"},
		{"network", "NETWORK", "testnet", "NETWORK must be"},
		{"short poll", "POLL_INTERVAL", "100ms", "at least 1 second"},
		{"postgres without url", "LEDGER_BACKEND", "postgres", "DATABASE_URL is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_BothKeySourcesRejected(t *testing.T) {
	setRequired(t)
	t.Setenv("FOLLOWER_PRIVATE_KEY", "a")
	t.Setenv("FOLLOWER_KEYPAIR_PATH", "/tmp/id.json")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set only one of")
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
master_wallet_address: 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
feed_endpoint: wss://feed.example.com/ws
feed_token: from-file
solana_rpc_urls:
  - https://a.example.com
  - https://b.example.com
lot_size_mode: multiplier
lot_size_value: 0.5
poll_limit: 8
`)
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, testMaster, cfg.MasterWallet)
	assert.Equal(t, "from-file", cfg.FeedToken)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RPCURLs)
	assert.Equal(t, fees.ModeMultiplier, cfg.LotSizeMode)
	assert.Equal(t, 0.5, cfg.LotSizeValue)
	assert.Equal(t, 8, cfg.PollLimit)
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
master_wallet_address: 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
feed_endpoint: wss://feed.example.com/ws
feed_token: from-file
`)
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("FEED_TOKEN", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.FeedToken)
}

func TestLoad_BadConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeConfigFile(t, "feed_token: [unterminated"))
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func validConfig() *Config {
	return &Config{
		MasterWallet:         testMaster,
		FeedEndpoint:         "wss://feed.example.com/ws",
		FeedToken:            "secret",
		RPCURLs:              []string{"https://api.mainnet-beta.solana.com"},
		LotSizeMode:          fees.ModeFixed,
		LotSizeValue:         0.1,
		SlippagePercent:      1,
		PollInterval:         5 * time.Second,
		PollLimit:            5,
		RPCRequestsPerSecond: 2,
		RetryMaxAttempts:     3,
		LedgerBackend:        BackendFile,
		LedgerPath:           "trades.json",
		LatencyHistorySize:   100,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingFeedToken(t *testing.T) {
	cfg := validConfig()
	cfg.FeedToken = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FeedToken is required")
}

func TestValidate_NonPositiveLotSize(t *testing.T) {
	cfg := validConfig()
	cfg.LotSizeValue = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOT_SIZE_VALUE must be positive")
}

func TestMustLoad_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	setRequired(t)

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}
