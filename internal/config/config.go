// Package config defines the top-level configuration for the trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SCANENGINE_* environment
// variables, plus the literal env vars enumerated for the venue client.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Venue      VenueConfig      `toml:"venue"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	HTTPClient HTTPClientConfig `toml:"http_client"`
	Scan       ScanConfig       `toml:"scan"`
	Storage    StorageConfig    `toml:"storage"`
	Price      PriceConfig      `toml:"price"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	MintSplit  MintSplitConfig  `toml:"mint_split"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage_long"`
	MM         MarketMakingConfig `toml:"market_making"`
	OrderQueue OrderQueueConfig `toml:"order_queue"`
	Global     Global           `toml:"global"`
	Server     ServerConfig     `toml:"server"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials. Absence of PrivateKey
// leaves order placement and contract calls disabled but must not prevent
// scan/storage/price/dispatch from running.
type WalletConfig struct {
	PrivateKey string `toml:"private_key"`
	RPCURL     string `toml:"rpc_url"`
}

// VenueConfig holds venue API endpoints and chain parameters.
type VenueConfig struct {
	ClobAPIURL     string `toml:"clob_api_url"`
	GammaAPIURL    string `toml:"gamma_api_url"`
	PolygonChainID int    `toml:"polygon_chain_id"`
	SocksProxy     string `toml:"socks_proxy"`
	HTTPSProxy     string `toml:"https_proxy"`
	HTTPProxy      string `toml:"http_proxy"`
}

// SupabaseConfig holds PostgreSQL connection parameters for the Store.
type SupabaseConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters for the optional
// read-through cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the cold
// storage archiver.
type S3Config struct {
	Enabled              bool   `toml:"enabled"`
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
}

// HTTPClientConfig configures the shared rate-limited, retrying HTTP
// client core (§4.A).
type HTTPClientConfig struct {
	Timeout           duration `toml:"timeout"`
	MaxRequests       int      `toml:"rate_limit_max_requests"`
	WindowMs          int64    `toml:"rate_limit_window_ms"`
	MaxRetries        int      `toml:"retry_max_retries"`
	InitialDelayMs    int64    `toml:"retry_initial_delay_ms"`
	MaxDelayMs        int64    `toml:"retry_max_delay_ms"`
	RetryOn           []int    `toml:"retry_on"`
	EnableLogging     bool     `toml:"enable_logging"`
	MaxResponseLogLen int      `toml:"max_response_log_size"`
}

// ScanConfig configures the scan stage (§4.D).
type ScanConfig struct {
	Limit        int      `toml:"limit"`
	MaxPages     int      `toml:"max_pages"`
	ScanInterval duration `toml:"scan_interval"`
	Active       bool     `toml:"active"`
	Order        string   `toml:"order"`
	Ascending    bool     `toml:"ascending"`
}

// StorageConfig configures the storage stage (§4.E).
type StorageConfig struct {
	BatchSize     int      `toml:"batch_size"`
	FlushInterval duration `toml:"flush_interval"`
	MaxBufferSize int      `toml:"max_buffer_size"`
	Concurrency   int      `toml:"concurrency"`
	Timeout       duration `toml:"timeout"`
}

// PriceConfig configures the price stage (§4.F).
type PriceConfig struct {
	BatchSize     int      `toml:"batch_size"`
	TokenInterval duration `toml:"token_interval"`
	BatchInterval duration `toml:"batch_interval"`
	ScanInterval  duration `toml:"scan_interval"`
	ActiveOnly    bool     `toml:"active_only"`
	MinLiquidity  float64  `toml:"min_liquidity"`
}

// DispatcherConfig configures the dispatcher (§4.G).
type DispatcherConfig struct {
	AutoDispatch  bool   `toml:"auto_dispatch"`
	MinConfidence string `toml:"min_confidence"`
	CooldownMs    int64  `toml:"cooldown_ms"`
}

// MintSplitConfig configures the Mint-Split strategy (§4.H.1).
type MintSplitConfig struct {
	Enabled        bool    `toml:"enabled"`
	AutoExecute    bool    `toml:"auto_execute"`
	MinPriceSum    float64 `toml:"min_price_sum"`
	MinOutcomes    int     `toml:"min_outcomes"`
	MinLiquidity   float64 `toml:"min_liquidity"`
	MintAmount     float64 `toml:"mint_amount"`
	MaxSlippage    float64 `toml:"max_slippage"`
	CooldownMs     int64   `toml:"cooldown_ms"`
	MaxMintPerTrade float64 `toml:"max_mint_per_trade"`
	MaxMintPerDay  float64 `toml:"max_mint_per_day"`
	MinProfit      float64 `toml:"min_profit"`
}

// ArbitrageConfig configures the Arbitrage-Long strategy (§4.H.2).
type ArbitrageConfig struct {
	Enabled         bool    `toml:"enabled"`
	AutoExecute     bool    `toml:"auto_execute"`
	LongEnabled     bool    `toml:"long_enabled"`
	MaxPriceSum     float64 `toml:"max_price_sum"`
	MinSpread       float64 `toml:"min_spread"`
	TradeAmount     float64 `toml:"trade_amount"`
	MaxSlippage     float64 `toml:"max_slippage"`
	CooldownMs      int64   `toml:"cooldown_ms"`
	MinLiquidity    float64 `toml:"min_liquidity"`
	MaxTradePerOrder float64 `toml:"max_trade_per_order"`
	MaxTradePerDay  float64 `toml:"max_trade_per_day"`
}

// MarketMakingConfig configures the Market-Making strategy (§4.H.3).
type MarketMakingConfig struct {
	Enabled               bool    `toml:"enabled"`
	AutoExecute           bool    `toml:"auto_execute"`
	SpreadPercent         float64 `toml:"spread_percent"`
	OrderSize             float64 `toml:"order_size"`
	MaxPositionPerSide    float64 `toml:"max_position_per_side"`
	RefreshIntervalMs     int64   `toml:"refresh_interval_ms"`
	MinVolume24h          float64 `toml:"min_volume_24h"`
	MinTradesPerMinute    float64 `toml:"min_trades_per_minute"`
	MaxLastTradeAge       duration `toml:"max_last_trade_age"`
	MinMarketSpread       float64 `toml:"min_market_spread"`
	MaxMarketSpread       float64 `toml:"max_market_spread"`
	MaxVolatility         float64 `toml:"max_volatility"`
	PriceRangeMin         float64 `toml:"price_range_min"`
	PriceRangeMax         float64 `toml:"price_range_max"`
	MinDaysUntilEnd       int     `toml:"min_days_until_end"`
	MinLiquidity          float64 `toml:"min_liquidity"`
	MinOrderBookDepth     float64 `toml:"min_order_book_depth"`
	MinDepthAmount        float64 `toml:"min_depth_amount"`
	MinOrderSize          float64 `toml:"min_order_size"`
	EstimatedFeeRate      float64 `toml:"estimated_fee_rate"`
	EnableCompetitionDetection bool `toml:"enable_competition_detection"`
	MaxOrderRefreshRate   int     `toml:"max_order_refresh_rate"`
	MaxFrontRunCount      int     `toml:"max_front_run_count"`
	SkewThreshold         float64 `toml:"skew_threshold"`
	MaxOpenPosition       float64 `toml:"max_open_position"`
	AutoMerge             bool    `toml:"auto_merge"`
	MergeThreshold        float64 `toml:"merge_threshold"`
	MaxDailyLoss          float64 `toml:"max_daily_loss"`
	CooldownMs            int64   `toml:"cooldown_ms"`
}

// OrderQueueConfig configures the order queue (§4.I).
type OrderQueueConfig struct {
	DefaultMaxRetries int      `toml:"default_max_retries"`
	TaskTimeout       duration `toml:"task_timeout"`
	CompletedCapacity int      `toml:"completed_capacity"`
}

// Global gates recordTradeVolume/canExecuteTrade across all strategies
// (§4.J global.* fields).
type Global struct {
	Enabled       bool    `toml:"enabled"`
	MaxDailyVolume float64 `toml:"max_daily_volume"`
}

// ServerConfig holds HTTP control-surface parameters (§6).
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values named throughout §4.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			ClobAPIURL:  "https://clob.polymarket.com",
			GammaAPIURL: "https://gamma-api.polymarket.com",
			PolygonChainID: 137,
		},
		Supabase: SupabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "postgres",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "scanengine-archive",
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
		},
		HTTPClient: HTTPClientConfig{
			Timeout:        duration{20 * time.Second},
			MaxRequests:    10,
			WindowMs:       1000,
			MaxRetries:     3,
			InitialDelayMs: 500,
			MaxDelayMs:     10_000,
			RetryOn:        []int{429, 500, 502, 503, 504},
			EnableLogging:  true,
			MaxResponseLogLen: 2048,
		},
		Scan: ScanConfig{
			Limit:        100,
			MaxPages:     50,
			ScanInterval: duration{3600 * time.Second},
			Active:       true,
			Order:        "volume",
			Ascending:    false,
		},
		Storage: StorageConfig{
			BatchSize:     50,
			FlushInterval: duration{5 * time.Second},
			MaxBufferSize: 500,
			Concurrency:   10,
			Timeout:       duration{10 * time.Second},
		},
		Price: PriceConfig{
			BatchSize:     10,
			TokenInterval: duration{100 * time.Millisecond},
			BatchInterval: duration{1 * time.Second},
			ScanInterval:  duration{60 * time.Second},
			ActiveOnly:    true,
			MinLiquidity:  100,
		},
		Dispatcher: DispatcherConfig{
			AutoDispatch:  true,
			MinConfidence: "MEDIUM",
			CooldownMs:    60_000,
		},
		MintSplit: MintSplitConfig{
			Enabled:         true,
			AutoExecute:     false,
			MinPriceSum:     1.01,
			MinOutcomes:     3,
			MinLiquidity:    100,
			MintAmount:      100,
			MaxSlippage:     1.0,
			CooldownMs:      60_000,
			MaxMintPerTrade: 100,
			MaxMintPerDay:   1000,
			MinProfit:       0.01,
		},
		Arbitrage: ArbitrageConfig{
			Enabled:          true,
			AutoExecute:      false,
			LongEnabled:      true,
			MaxPriceSum:      0.995,
			MinSpread:        0.5,
			TradeAmount:      100,
			MaxSlippage:      1.0,
			CooldownMs:       60_000,
			MinLiquidity:     100,
			MaxTradePerOrder: 200,
			MaxTradePerDay:   2000,
		},
		MM: MarketMakingConfig{
			Enabled:            false,
			SpreadPercent:      2.0,
			OrderSize:          50,
			MaxPositionPerSide: 200,
			RefreshIntervalMs:  30_000,
			MinVolume24h:       1000,
			MinMarketSpread:    1.0,
			MaxMarketSpread:    10.0,
			PriceRangeMin:      0.05,
			PriceRangeMax:      0.95,
			MinDaysUntilEnd:    1,
			MinLiquidity:       500,
			EstimatedFeeRate:   0.015,
			MaxOpenPosition:    500,
			MergeThreshold:     50,
			MaxDailyLoss:       100,
			CooldownMs:         30_000,
		},
		OrderQueue: OrderQueueConfig{
			DefaultMaxRetries: 3,
			TaskTimeout:       duration{60 * time.Second},
			CompletedCapacity: 1000,
		},
		Global: Global{
			Enabled:        true,
			MaxDailyVolume: 5000,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Venue.ClobAPIURL == "" {
		errs = append(errs, "venue: clob_api_url must not be empty")
	}
	if c.Venue.GammaAPIURL == "" {
		errs = append(errs, "venue: gamma_api_url must not be empty")
	}
	if c.Venue.PolygonChainID <= 0 {
		errs = append(errs, "venue: polygon_chain_id must be positive")
	}
	// Wallet.PrivateKey is intentionally not required: its absence disables
	// signing-dependent operations but must not block the rest of the system.

	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	if c.HTTPClient.MaxRequests <= 0 {
		errs = append(errs, "http_client: rate_limit_max_requests must be > 0")
	}
	if c.HTTPClient.WindowMs <= 0 {
		errs = append(errs, "http_client: rate_limit_window_ms must be > 0")
	}

	if c.Scan.Limit <= 0 {
		errs = append(errs, "scan: limit must be > 0")
	}
	if c.Storage.MaxBufferSize <= 0 {
		errs = append(errs, "storage: max_buffer_size must be > 0")
	}
	if c.Storage.Concurrency <= 0 {
		errs = append(errs, "storage: concurrency must be > 0")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if c.Global.MaxDailyVolume < 0 {
		errs = append(errs, "global: max_daily_volume must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
