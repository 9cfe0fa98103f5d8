// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Venue kinds understood by the resolver.
const (
	KindConcentrated    = "concentrated"
	KindConstantProduct = "constant_product"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Index     IndexConfig     `mapstructure:"index"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// EthereumConfig holds Ethereum node configuration.
type EthereumConfig struct {
	WebSocketURL   string        `mapstructure:"websocket_url"`
	HTTPURL        string        `mapstructure:"http_url"`
	ChainID        uint64        `mapstructure:"chain_id"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// VenueConfig describes one AMM venue.
type VenueConfig struct {
	ID         string   `mapstructure:"id"`
	Kind       string   `mapstructure:"kind"`
	Factory    string   `mapstructure:"factory"`
	FeeTiers   []uint32 `mapstructure:"fee_tiers"`
	IndexDexID string   `mapstructure:"index_dex_id"`
	IndexLabel string   `mapstructure:"index_label"`
}

// FactoryAddress returns the factory as common.Address.
func (v VenueConfig) FactoryAddress() common.Address {
	return common.HexToAddress(v.Factory)
}

// PricingConfig holds venue and reference token settings.
type PricingConfig struct {
	NativeWrapped   string        `mapstructure:"native_wrapped"`
	ReferenceTokens []string      `mapstructure:"reference_tokens"`
	MajorVenues     []string      `mapstructure:"major_venues"`
	PairVenues      []string      `mapstructure:"pair_venues"`
	Venues          []VenueConfig `mapstructure:"venues"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
}

// Venue looks up a venue by id.
func (c *PricingConfig) Venue(id string) (VenueConfig, bool) {
	for _, v := range c.Venues {
		if v.ID == id {
			return v, true
		}
	}
	return VenueConfig{}, false
}

// IndexConfig holds the external pool index settings.
type IndexConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	ChainID           string        `mapstructure:"chain_id"`
	MinLiquidityUSD   float64       `mapstructure:"min_liquidity_usd"`
	MaxPools          int           `mapstructure:"max_pools"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// MinLiquidityDecimal returns the liquidity floor as decimal.Decimal.
func (c *IndexConfig) MinLiquidityDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinLiquidityUSD)
}

// SeedToken is a token tracked from startup.
type SeedToken struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Name     string `mapstructure:"name"`
	Decimals uint8  `mapstructure:"decimals"`
}

// HexAddress returns the seed address as common.Address.
func (s SeedToken) HexAddress() common.Address {
	return common.HexToAddress(s.Address)
}

// StreamConfig holds scheduler and session settings.
type StreamConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RefreshOnBlock  bool          `mapstructure:"refresh_on_block"`
	TokenTimeout    time.Duration `mapstructure:"token_timeout"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	SessionBuffer   int           `mapstructure:"session_buffer"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	SeedTokens      []SeedToken   `mapstructure:"seed_tokens"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig holds the optional token catalog database.
type StorageConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	TraceProvider  string `mapstructure:"trace_provider"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string `mapstructure:"otlp_headers"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("PRICESTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("app.name", "PRICESTREAM_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "PRICESTREAM_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "PRICESTREAM_LOG_LEVEL", "LOG_LEVEL")

	v.BindEnv("ethereum.websocket_url", "PRICESTREAM_ETH_WS_URL", "ETH_WS_URL")
	v.BindEnv("ethereum.http_url", "PRICESTREAM_ETH_HTTP_URL", "ETH_HTTP_URL")
	v.BindEnv("ethereum.chain_id", "PRICESTREAM_ETH_CHAIN_ID", "ETH_CHAIN_ID")

	v.BindEnv("index.base_url", "PRICESTREAM_INDEX_URL")
	v.BindEnv("index.enabled", "PRICESTREAM_INDEX_ENABLED")

	v.BindEnv("server.port", "PRICESTREAM_PORT", "PORT")
	v.BindEnv("storage.postgres_dsn", "PRICESTREAM_POSTGRES_DSN", "DATABASE_URL")

	v.BindEnv("telemetry.enabled", "PRICESTREAM_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "PRICESTREAM_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "PRICESTREAM_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("telemetry.otlp_headers", "PRICESTREAM_OTEL_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricestream")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("ethereum.chain_id", 1)
	v.SetDefault("ethereum.call_timeout", "5s")
	v.SetDefault("ethereum.poll_interval", "12s")
	v.SetDefault("ethereum.reconnect_delay", "5s")

	// Ethereum mainnet
	v.SetDefault("pricing.native_wrapped", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	v.SetDefault("pricing.reference_tokens", []string{
		"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", // WETH
		"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", // USDC
		"0xdAC17F958D2ee523a2206206994597C13D831ec7", // USDT
	})
	v.SetDefault("pricing.major_venues", []string{"uniswap-v3", "uniswap-v2"})
	v.SetDefault("pricing.pair_venues", []string{"uniswap-v3", "uniswap-v2", "sushiswap", "pancakeswap-v3"})
	v.SetDefault("pricing.max_concurrency", 8)
	v.SetDefault("pricing.venues", []map[string]any{
		{
			"id":           "uniswap-v3",
			"kind":         KindConcentrated,
			"factory":      "0x1F98431c8aD98523631AE4a59f267346ea31F984",
			"fee_tiers":    []uint32{100, 500, 3000, 10000},
			"index_dex_id": "uniswap",
			"index_label":  "v3",
		},
		{
			"id":           "uniswap-v2",
			"kind":         KindConstantProduct,
			"factory":      "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
			"index_dex_id": "uniswap",
			"index_label":  "v2",
		},
		{
			"id":           "sushiswap",
			"kind":         KindConstantProduct,
			"factory":      "0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac",
			"index_dex_id": "sushiswap",
		},
		{
			"id":           "pancakeswap-v3",
			"kind":         KindConcentrated,
			"factory":      "0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865",
			"fee_tiers":    []uint32{100, 500, 2500, 10000},
			"index_dex_id": "pancakeswap",
			"index_label":  "v3",
		},
	})

	v.SetDefault("index.enabled", true)
	v.SetDefault("index.base_url", "https://api.dexscreener.com")
	v.SetDefault("index.chain_id", "ethereum")
	v.SetDefault("index.min_liquidity_usd", 1000)
	v.SetDefault("index.max_pools", 5)
	v.SetDefault("index.requests_per_minute", 300)
	v.SetDefault("index.timeout", "8s")

	v.SetDefault("stream.refresh_interval", "15s")
	v.SetDefault("stream.refresh_on_block", false)
	v.SetDefault("stream.token_timeout", "20s")
	v.SetDefault("stream.max_concurrency", 4)
	v.SetDefault("stream.session_buffer", 32)
	v.SetDefault("stream.session_timeout", "90s")
	v.SetDefault("stream.write_timeout", "10s")
	v.SetDefault("stream.ping_interval", "30s")
	v.SetDefault("stream.max_message_size", 64*1024)
	v.SetDefault("stream.seed_tokens", []map[string]any{
		{"address": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "symbol": "WETH", "name": "Wrapped Ether", "decimals": 18},
		{"address": "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", "symbol": "WBTC", "name": "Wrapped BTC", "decimals": 8},
	})

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "pricestream")
	v.SetDefault("telemetry.trace_provider", "zipkin")
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// normalize lower-cases addresses so they can be used as map keys.
func (c *Config) normalize() {
	c.Pricing.NativeWrapped = strings.ToLower(c.Pricing.NativeWrapped)
	for i, addr := range c.Pricing.ReferenceTokens {
		c.Pricing.ReferenceTokens[i] = strings.ToLower(addr)
	}
	for i := range c.Stream.SeedTokens {
		c.Stream.SeedTokens[i].Address = strings.ToLower(c.Stream.SeedTokens[i].Address)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Ethereum.HTTPURL == "" {
		return fmt.Errorf("ethereum.http_url is required")
	}
	if c.Ethereum.CallTimeout <= 0 {
		return fmt.Errorf("ethereum.call_timeout must be positive")
	}

	if !common.IsHexAddress(c.Pricing.NativeWrapped) {
		return fmt.Errorf("invalid pricing.native_wrapped: %s", c.Pricing.NativeWrapped)
	}
	nativeListed := false
	for _, addr := range c.Pricing.ReferenceTokens {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid pricing.reference_tokens entry: %s", addr)
		}
		if addr == c.Pricing.NativeWrapped {
			nativeListed = true
		}
	}
	if !nativeListed {
		return fmt.Errorf("pricing.reference_tokens must include pricing.native_wrapped")
	}

	seen := make(map[string]bool, len(c.Pricing.Venues))
	for _, v := range c.Pricing.Venues {
		if v.ID == "" {
			return fmt.Errorf("pricing.venues: id is required")
		}
		if seen[v.ID] {
			return fmt.Errorf("pricing.venues: duplicate id %s", v.ID)
		}
		seen[v.ID] = true
		if !common.IsHexAddress(v.Factory) {
			return fmt.Errorf("pricing.venues[%s]: invalid factory %s", v.ID, v.Factory)
		}
		switch v.Kind {
		case KindConcentrated:
			if len(v.FeeTiers) == 0 {
				return fmt.Errorf("pricing.venues[%s]: fee_tiers required for concentrated venues", v.ID)
			}
		case KindConstantProduct:
		default:
			return fmt.Errorf("pricing.venues[%s]: unknown kind %q", v.ID, v.Kind)
		}
	}
	for _, id := range append(append([]string{}, c.Pricing.MajorVenues...), c.Pricing.PairVenues...) {
		if !seen[id] {
			return fmt.Errorf("pricing: venue %s is not configured", id)
		}
	}

	if c.Index.Enabled {
		if c.Index.BaseURL == "" {
			return fmt.Errorf("index.base_url is required when the index is enabled")
		}
		if c.Index.MaxPools <= 0 {
			return fmt.Errorf("index.max_pools must be positive")
		}
	}

	if c.Stream.RefreshInterval <= 0 {
		return fmt.Errorf("stream.refresh_interval must be positive")
	}
	if c.Stream.SessionBuffer <= 0 {
		return fmt.Errorf("stream.session_buffer must be positive")
	}
	for _, s := range c.Stream.SeedTokens {
		if !common.IsHexAddress(s.Address) {
			return fmt.Errorf("invalid stream.seed_tokens address: %s", s.Address)
		}
	}

	return nil
}
