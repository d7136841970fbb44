package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payrail/internal/models"
)

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Chains   map[models.NetworkIndex]ChainConfig
	Exchange ExchangeConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// ChainConfig holds the endpoint and parameters of one network
type ChainConfig struct {
	Network     models.NetworkIndex
	Name        string
	RPCEndpoint string
	ChainID     int64  // EVM only
	APIKey      string // TRON-PRO-API-KEY or RPC provider key
	Params      string // bitcoin: "mainnet" | "testnet3" | "regtest"
	RateLimit   float64
	RateBurst   int
	FeeBps      int64           // operator fee on payment requests, basis points
	MinFee      decimal.Decimal // floor of the operator fee on native coin payments
	// TokenMinFees is the fee floor per token ticker, in units of that token.
	// Tokens without an entry pay the percentage fee only.
	TokenMinFees map[string]decimal.Decimal
}

// ExchangeConfig holds the centralized exchange credentials
type ExchangeConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow int64
	RateLimit  float64
	RateBurst  int
	Timeout    time.Duration
}

// WorkerConfig holds reconciliation job settings
type WorkerConfig struct {
	Enabled           bool
	ReconcileInterval time.Duration
	OutboxInterval    time.Duration
	WithdrawDelay     time.Duration
	DepositWindow     time.Duration
	OutboxLease       time.Duration
	MaxRetries        int
	BaseRetryDelay    time.Duration
}

type chainEnv struct {
	network models.NetworkIndex
	prefix  string
	name    string
	chainID int64
}

var chainEnvs = []chainEnv{
	{models.NetworkNear, "NEAR", "NEAR Protocol", 0},
	{models.NetworkEthereum, "ETH", "Ethereum", 1},
	{models.NetworkBSC, "BSC", "BNB Smart Chain", 56},
	{models.NetworkArbitrum, "ARBITRUM", "Arbitrum One", 42161},
	{models.NetworkTron, "TRON", "TRON", 0},
	{models.NetworkBitcoin, "BTC", "Bitcoin", 0},
	{models.NetworkSolana, "SOLANA", "Solana", 0},
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("SERVER_PORT", 8080),
			AllowedOrigins: splitAndTrim(getEnv("ALLOWED_ORIGINS", "*"), ","),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "payrail"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Exchange: ExchangeConfig{
			BaseURL:    getEnv("EXCHANGE_BASE_URL", "https://api.binance.com"),
			APIKey:     getEnv("EXCHANGE_API_KEY", ""),
			APISecret:  getEnv("EXCHANGE_API_SECRET", ""),
			RecvWindow: int64(getEnvInt("EXCHANGE_RECV_WINDOW", 5000)),
			RateLimit:  getEnvFloat("EXCHANGE_RATE_LIMIT", 10),
			RateBurst:  getEnvInt("EXCHANGE_RATE_BURST", 5),
			Timeout:    getEnvDuration("EXCHANGE_TIMEOUT", 15*time.Second),
		},
		Worker: WorkerConfig{
			Enabled:           getEnvBool("WORKER_ENABLED", true),
			ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 60*time.Second),
			OutboxInterval:    getEnvDuration("OUTBOX_INTERVAL", 5*time.Second),
			WithdrawDelay:     getEnvDuration("WITHDRAW_DELAY", 15*time.Second),
			DepositWindow:     getEnvDuration("DEPOSIT_WINDOW", 30*time.Minute),
			OutboxLease:       getEnvDuration("OUTBOX_LEASE", 2*time.Minute),
			MaxRetries:        getEnvInt("WORKER_MAX_RETRIES", 3),
			BaseRetryDelay:    getEnvDuration("WORKER_RETRY_DELAY", 5*time.Second),
		},
		Chains: make(map[models.NetworkIndex]ChainConfig),
	}

	loadChainConfigs(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadChainConfigs registers every network whose <PREFIX>_RPC_ENDPOINT is set
func loadChainConfigs(cfg *Config) {
	for _, ce := range chainEnvs {
		rpc := getEnv(ce.prefix+"_RPC_ENDPOINT", "")
		if rpc == "" {
			continue
		}
		cfg.Chains[ce.network] = ChainConfig{
			Network:     ce.network,
			Name:        ce.name,
			RPCEndpoint: strings.TrimRight(rpc, "/"),
			ChainID:     int64(getEnvInt(ce.prefix+"_CHAIN_ID", int(ce.chainID))),
			APIKey:      getEnv(ce.prefix+"_API_KEY", ""),
			Params:      getEnv(ce.prefix+"_PARAMS", "mainnet"),
			RateLimit:   getEnvFloat(ce.prefix+"_RATE_LIMIT", 10),
			RateBurst:   getEnvInt(ce.prefix+"_RATE_BURST", 5),
			FeeBps:      int64(getEnvInt(ce.prefix+"_FEE_BPS", 0)),
			MinFee:      getEnvDecimal(ce.prefix+"_MIN_FEE", decimal.Zero),
			// e.g. ETHEREUM_TOKEN_MIN_FEES=USDT=1,USDC=1
			TokenMinFees: getEnvDecimalMap(ce.prefix + "_TOKEN_MIN_FEES"),
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}

	for network, chain := range c.Chains {
		if !network.Valid() {
			return fmt.Errorf("unknown network %q", network)
		}
		if network.Kind() == models.ChainKindEVM && chain.ChainID <= 0 {
			return fmt.Errorf("%s: chain id is required", network)
		}
		if chain.FeeBps < 0 || chain.FeeBps > 10000 {
			return fmt.Errorf("%s: fee bps must be within 0..10000, got %d", network, chain.FeeBps)
		}
		if chain.MinFee.IsNegative() {
			return fmt.Errorf("%s: min fee must not be negative", network)
		}
		for token, fee := range chain.TokenMinFees {
			if fee.IsNegative() {
				return fmt.Errorf("%s: min fee of %s must not be negative", network, token)
			}
		}
	}

	if c.Worker.Enabled {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("exchange credentials are required when the worker is enabled")
		}
		if c.Worker.ReconcileInterval <= 0 || c.Worker.OutboxInterval <= 0 {
			return fmt.Errorf("worker intervals must be positive")
		}
		if c.Worker.MaxRetries < 0 {
			return fmt.Errorf("invalid worker max retries: %d", c.Worker.MaxRetries)
		}
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvDecimalMap parses "KEY=value,KEY=value". Keys are upper-cased and
// malformed entries are skipped.
func getEnvDecimalMap(key string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, pair := range splitAndTrim(os.Getenv(key), ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = d
	}
	return out
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// splitAndTrim splits a separated string and drops empty parts
func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
