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
// built-in defaults, applies PREDARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Provider ──
	setStr(&cfg.Provider.Spec, "PREDARB_PROVIDER_SPEC")
	setStr(&cfg.Provider.SpecB, "PREDARB_PROVIDER_SPEC_B")
	setStr(&cfg.Provider.ExchangeA, "PREDARB_PROVIDER_EXCHANGE_A")
	setStr(&cfg.Provider.ExchangeB, "PREDARB_PROVIDER_EXCHANGE_B")
	setInt64(&cfg.Provider.Seed, "PREDARB_PROVIDER_SEED")

	// ── Filter ──
	setFloat64(&cfg.Filter.MaxSpreadPct, "PREDARB_FILTER_MAX_SPREAD_PCT")
	setFloat64(&cfg.Filter.MinVolume24h, "PREDARB_FILTER_MIN_VOLUME_24H")
	setFloat64(&cfg.Filter.MinLiquidity, "PREDARB_FILTER_MIN_LIQUIDITY")
	setFloat64(&cfg.Filter.MinDaysToExpiry, "PREDARB_FILTER_MIN_DAYS_TO_EXPIRY")
	setFloat64(&cfg.Filter.MinLiquidityMultiple, "PREDARB_FILTER_MIN_LIQUIDITY_MULTIPLE")
	setBool(&cfg.Filter.AllowMissingEndDate, "PREDARB_FILTER_ALLOW_MISSING_END_DATE")

	// ── Detector ──
	setFloat64(&cfg.Detector.ParityThreshold, "PREDARB_DETECTOR_PARITY_THRESHOLD")
	setFloat64(&cfg.Detector.LadderTolerance, "PREDARB_DETECTOR_LADDER_TOLERANCE")
	setFloat64(&cfg.Detector.ExclusiveSumTolerance, "PREDARB_DETECTOR_EXCLUSIVE_SUM_TOLERANCE")
	setFloat64(&cfg.Detector.CrossVenueMinGap, "PREDARB_DETECTOR_CROSS_VENUE_MIN_GAP")
	setFloat64(&cfg.Detector.TitleSimilarity, "PREDARB_DETECTOR_TITLE_SIMILARITY")
	setFloat64(&cfg.Detector.TimeLagPriceJump, "PREDARB_DETECTOR_TIME_LAG_PRICE_JUMP")
	setDuration(&cfg.Detector.TimeLagPersistence, "PREDARB_DETECTOR_TIME_LAG_PERSISTENCE")
	setFloat64(&cfg.Detector.ConsistencyTolerance, "PREDARB_DETECTOR_CONSISTENCY_TOLERANCE")

	// ── Execution ──
	setFloat64(&cfg.Execution.FeeBps, "PREDARB_EXECUTION_FEE_BPS")
	setFloat64(&cfg.Execution.SlippageBps, "PREDARB_EXECUTION_SLIPPAGE_BPS")
	setFloat64(&cfg.Execution.DepthFraction, "PREDARB_EXECUTION_DEPTH_FRACTION")
	setFloat64(&cfg.Execution.StartingCash, "PREDARB_EXECUTION_STARTING_CASH")
	setFloat64(&cfg.Execution.TargetOrderSizeUSD, "PREDARB_EXECUTION_TARGET_ORDER_SIZE_USD")

	// ── Risk ──
	setFloat64(&cfg.Risk.MinNetEdge, "PREDARB_RISK_MIN_NET_EDGE")
	setFloat64(&cfg.Risk.MinLiquidityUSD, "PREDARB_RISK_MIN_LIQUIDITY_USD")
	setFloat64(&cfg.Risk.MaxAllocationPerMarket, "PREDARB_RISK_MAX_ALLOCATION_PER_MARKET")
	setInt(&cfg.Risk.MaxOpenPositions, "PREDARB_RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.KillSwitchDrawdown, "PREDARB_RISK_KILL_SWITCH_DRAWDOWN")

	// ── Engine ──
	setDuration(&cfg.Engine.ScanInterval, "PREDARB_ENGINE_SCAN_INTERVAL")
	setInt(&cfg.Engine.CommandBuffer, "PREDARB_ENGINE_COMMAND_BUFFER")
	setInt(&cfg.Engine.MaxIterations, "PREDARB_ENGINE_MAX_ITERATIONS")
	setStr(&cfg.Engine.ControlAddr, "PREDARB_ENGINE_CONTROL_ADDR")

	// ── Report ──
	setStr(&cfg.Report.Dir, "PREDARB_REPORT_DIR")
	setBool(&cfg.Report.CSVEnabled, "PREDARB_REPORT_CSV_ENABLED")
	setBool(&cfg.Report.ArchiveS3, "PREDARB_REPORT_ARCHIVE_S3")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "PREDARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "PREDARB_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.PageSize, "PREDARB_POLYMARKET_PAGE_SIZE")

	// ── Kalshi ──
	setStr(&cfg.Kalshi.BaseURL, "PREDARB_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.ApiKey, "PREDARB_KALSHI_API_KEY")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PREDARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PREDARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PREDARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDARB_REDIS_MAX_RETRIES")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PREDARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDARB_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "PREDARB_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDARB_NOTIFY_EVENTS")
	setInt(&cfg.Notify.RateLimitPerMin, "PREDARB_NOTIFY_RATE_LIMIT_PER_MIN")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDARB_MODE")
	setStr(&cfg.LogLevel, "PREDARB_LOG_LEVEL")
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
