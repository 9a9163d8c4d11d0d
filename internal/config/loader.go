package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SCANENGINE_* environment variable overrides
// and the literal venue env vars from §6, and returns the final Config.
// The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyVenueEnvVars(&cfg)
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyVenueEnvVars reads the literal environment variables enumerated in
// §6: CLOB_API_URL, GAMMA_API_URL, POLYGON_CHAIN_ID, PRIVATE_KEY, RPC_URL,
// and the proxy variable precedence SOCKS_PROXY > HTTPS_PROXY > HTTP_PROXY.
func applyVenueEnvVars(cfg *Config) {
	setStr(&cfg.Venue.ClobAPIURL, "CLOB_API_URL")
	setStr(&cfg.Venue.GammaAPIURL, "GAMMA_API_URL")
	setInt(&cfg.Venue.PolygonChainID, "POLYGON_CHAIN_ID")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY")
	setStr(&cfg.Wallet.RPCURL, "RPC_URL")
	setStr(&cfg.Venue.SocksProxy, "SOCKS_PROXY")
	setStr(&cfg.Venue.HTTPSProxy, "HTTPS_PROXY")
	setStr(&cfg.Venue.HTTPProxy, "HTTP_PROXY")
}

// applyEnvOverrides reads well-known SCANENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "SCANENGINE_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "SCANENGINE_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SCANENGINE_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SCANENGINE_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SCANENGINE_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SCANENGINE_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SCANENGINE_SUPABASE_SSLMODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SCANENGINE_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SCANENGINE_SUPABASE_POOL_MIN_CONNS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SCANENGINE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SCANENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SCANENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SCANENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SCANENGINE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "SCANENGINE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SCANENGINE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SCANENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SCANENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "SCANENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SCANENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SCANENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SCANENGINE_S3_USE_SSL")
	setInt(&cfg.S3.ArchiveRetentionDays, "SCANENGINE_S3_ARCHIVE_RETENTION_DAYS")

	// ── HTTP client core ──
	setDuration(&cfg.HTTPClient.Timeout, "SCANENGINE_HTTP_TIMEOUT")
	setInt(&cfg.HTTPClient.MaxRequests, "SCANENGINE_HTTP_RATE_LIMIT_MAX_REQUESTS")
	setInt64(&cfg.HTTPClient.WindowMs, "SCANENGINE_HTTP_RATE_LIMIT_WINDOW_MS")
	setInt(&cfg.HTTPClient.MaxRetries, "SCANENGINE_HTTP_RETRY_MAX_RETRIES")

	// ── Scan / Storage / Price ──
	setInt(&cfg.Scan.Limit, "SCANENGINE_SCAN_LIMIT")
	setInt(&cfg.Scan.MaxPages, "SCANENGINE_SCAN_MAX_PAGES")
	setDuration(&cfg.Scan.ScanInterval, "SCANENGINE_SCAN_INTERVAL")
	setInt(&cfg.Storage.BatchSize, "SCANENGINE_STORAGE_BATCH_SIZE")
	setInt(&cfg.Storage.MaxBufferSize, "SCANENGINE_STORAGE_MAX_BUFFER_SIZE")
	setInt(&cfg.Storage.Concurrency, "SCANENGINE_STORAGE_CONCURRENCY")
	setInt(&cfg.Price.BatchSize, "SCANENGINE_PRICE_BATCH_SIZE")
	setDuration(&cfg.Price.ScanInterval, "SCANENGINE_PRICE_SCAN_INTERVAL")

	// ── Dispatcher / strategies ──
	setBool(&cfg.Dispatcher.AutoDispatch, "SCANENGINE_DISPATCHER_AUTO_DISPATCH")
	setStr(&cfg.Dispatcher.MinConfidence, "SCANENGINE_DISPATCHER_MIN_CONFIDENCE")
	setInt64(&cfg.Dispatcher.CooldownMs, "SCANENGINE_DISPATCHER_COOLDOWN_MS")
	setBool(&cfg.MintSplit.Enabled, "SCANENGINE_MINT_SPLIT_ENABLED")
	setBool(&cfg.MintSplit.AutoExecute, "SCANENGINE_MINT_SPLIT_AUTO_EXECUTE")
	setBool(&cfg.Arbitrage.Enabled, "SCANENGINE_ARBITRAGE_LONG_ENABLED")
	setBool(&cfg.Arbitrage.AutoExecute, "SCANENGINE_ARBITRAGE_LONG_AUTO_EXECUTE")
	setBool(&cfg.MM.Enabled, "SCANENGINE_MARKET_MAKING_ENABLED")
	setBool(&cfg.MM.AutoExecute, "SCANENGINE_MARKET_MAKING_AUTO_EXECUTE")

	// ── Global gates ──
	setBool(&cfg.Global.Enabled, "SCANENGINE_GLOBAL_ENABLED")
	setFloat64(&cfg.Global.MaxDailyVolume, "SCANENGINE_GLOBAL_MAX_DAILY_VOLUME")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SCANENGINE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SCANENGINE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SCANENGINE_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "SCANENGINE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
