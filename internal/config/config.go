// Package config defines the top-level configuration for the arbitrage
// scanner and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/oddslab/predarb/internal/broker"
	"github.com/oddslab/predarb/internal/detector"
	"github.com/oddslab/predarb/internal/domain"
	"github.com/oddslab/predarb/internal/filter"
	"github.com/oddslab/predarb/internal/risk"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDARB_* environment variables.
type Config struct {
	Provider   ProviderConfig   `toml:"provider"`
	Filter     FilterConfig     `toml:"filter"`
	Detector   DetectorConfig   `toml:"detector"`
	Execution  ExecutionConfig  `toml:"execution"`
	Risk       RiskConfig       `toml:"risk"`
	Engine     EngineConfig     `toml:"engine"`
	Report     ReportConfig     `toml:"report"`
	Venues     []VenueConfig    `toml:"venues"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ProviderConfig selects the market data source. Spec strings take the form
// "scenario:<name>", "file:<path>", or "inline:<json>"; in dual mode SpecB
// names the second venue's source.
type ProviderConfig struct {
	Spec      string `toml:"spec"`
	SpecB     string `toml:"spec_b"`
	ExchangeA string `toml:"exchange_a"`
	ExchangeB string `toml:"exchange_b"`
	Seed      int64  `toml:"seed"`
}

// FilterConfig holds the eligibility thresholds and scoring weights.
type FilterConfig struct {
	MaxSpreadPct         float64 `toml:"max_spread_pct"`
	MinVolume24h         float64 `toml:"min_volume_24h"`
	MinLiquidity         float64 `toml:"min_liquidity"`
	MinDaysToExpiry      float64 `toml:"min_days_to_expiry"`
	MinLiquidityMultiple float64 `toml:"min_liquidity_multiple"`
	AllowMissingEndDate  bool    `toml:"allow_missing_end_date"`
	SpreadWeight         float64 `toml:"spread_weight"`
	VolumeWeight         float64 `toml:"volume_weight"`
	LiquidityWeight      float64 `toml:"liquidity_weight"`
	FrequencyWeight      float64 `toml:"frequency_weight"`
}

// Settings converts the config block into the filter package's settings.
func (f FilterConfig) Settings() filter.Settings {
	return filter.Settings{
		MaxSpreadPct:         f.MaxSpreadPct,
		MinVolume24h:         f.MinVolume24h,
		MinLiquidity:         f.MinLiquidity,
		MinDaysToExpiry:      f.MinDaysToExpiry,
		MinLiquidityMultiple: f.MinLiquidityMultiple,
		AllowMissingEndDate:  f.AllowMissingEndDate,
		SpreadWeight:         f.SpreadWeight,
		VolumeWeight:         f.VolumeWeight,
		LiquidityWeight:      f.LiquidityWeight,
		FrequencyWeight:      f.FrequencyWeight,
	}
}

// DetectorConfig holds the detector trigger thresholds.
type DetectorConfig struct {
	ParityThreshold       float64  `toml:"parity_threshold"`
	LadderTolerance       float64  `toml:"ladder_tolerance"`
	ExclusiveSumTolerance float64  `toml:"exclusive_sum_tolerance"`
	CrossVenueMinGap      float64  `toml:"cross_venue_min_gap"`
	TitleSimilarity       float64  `toml:"title_similarity"`
	TimeLagPriceJump      float64  `toml:"time_lag_price_jump"`
	TimeLagPersistence    duration `toml:"time_lag_persistence"`
	ConsistencyTolerance  float64  `toml:"consistency_tolerance"`
}

// DetectorSettings converts the config block into the detector package's
// config.
func (d DetectorConfig) DetectorSettings() detector.Config {
	return detector.Config{
		ParityThreshold:       d.ParityThreshold,
		LadderTolerance:       d.LadderTolerance,
		ExclusiveSumTolerance: d.ExclusiveSumTolerance,
		CrossVenueMinGap:      d.CrossVenueMinGap,
		TitleSimilarity:       d.TitleSimilarity,
		TimeLagPriceJump:      d.TimeLagPriceJump,
		TimeLagPersistence:    d.TimeLagPersistence.Duration,
		ConsistencyTolerance:  d.ConsistencyTolerance,
	}
}

// ExecutionConfig holds the fill-model and paper-account parameters.
type ExecutionConfig struct {
	FeeBps             float64 `toml:"fee_bps"`
	SlippageBps        float64 `toml:"slippage_bps"`
	DepthFraction      float64 `toml:"depth_fraction"`
	StartingCash       float64 `toml:"starting_cash"`
	TargetOrderSizeUSD float64 `toml:"target_order_size_usd"`
}

// Params converts the config block into broker parameters.
func (e ExecutionConfig) Params() broker.Params {
	return broker.Params{
		FeeBps:        e.FeeBps,
		SlippageBps:   e.SlippageBps,
		DepthFraction: e.DepthFraction,
	}
}

// CostModel converts the fee and slippage assumptions into the detector's
// edge cost model.
func (e ExecutionConfig) CostModel() detector.CostModel {
	return detector.CostModel{FeeBps: e.FeeBps, SlippageBps: e.SlippageBps}
}

// RiskConfig holds the risk manager's limit set.
type RiskConfig struct {
	MinNetEdge             float64 `toml:"min_net_edge"`
	MinLiquidityUSD        float64 `toml:"min_liquidity_usd"`
	MaxAllocationPerMarket float64 `toml:"max_allocation_per_market"`
	MaxOpenPositions       int     `toml:"max_open_positions"`
	KillSwitchDrawdown     float64 `toml:"kill_switch_drawdown"`
}

// Limits converts the config block into the risk manager's limits.
func (r RiskConfig) Limits() risk.Limits {
	return risk.Limits{
		MinNetEdge:             r.MinNetEdge,
		MinLiquidityUSD:        r.MinLiquidityUSD,
		MaxAllocationPerMarket: r.MaxAllocationPerMarket,
		MaxOpenPositions:       r.MaxOpenPositions,
		KillSwitchDrawdown:     r.KillSwitchDrawdown,
	}
}

// EngineConfig holds the scan loop parameters.
type EngineConfig struct {
	ScanInterval  duration `toml:"scan_interval"`
	CommandBuffer int      `toml:"command_buffer"`
	MaxIterations int      `toml:"max_iterations"` // 0 = run until cancelled
	ControlAddr   string   `toml:"control_addr"`   // empty disables the control server
}

// ReportConfig holds the report output locations.
type ReportConfig struct {
	Dir        string `toml:"dir"`
	CSVEnabled bool   `toml:"csv_enabled"`
	ArchiveS3  bool   `toml:"archive_s3"`
}

// VenueConfig declares one venue's execution policy.
type VenueConfig struct {
	Name             string `toml:"name"`
	SupportsShorting bool   `toml:"supports_shorting"`
}

// Policies converts the venue list into the domain policy map.
func (c *Config) Policies() domain.VenuePolicies {
	out := make(domain.VenuePolicies, len(c.Venues))
	for _, v := range c.Venues {
		out[strings.ToLower(v.Name)] = domain.VenuePolicy{
			Name:             strings.ToLower(v.Name),
			SupportsShorting: v.SupportsShorting,
		}
	}
	return out
}

// PolymarketConfig holds the Polymarket API endpoints for live mode.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
	PageSize  int    `toml:"page_size"`
}

// KalshiConfig holds the Kalshi API parameters for live mode.
type KalshiConfig struct {
	BaseURL string `toml:"base_url"`
	ApiKey  string `toml:"api_key"`
}

// PostgresConfig holds PostgreSQL connection parameters for the persistence
// sink. Leave DSN empty to build one from the discrete fields; leave Host
// empty too and persistence is disabled.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the live quote cache and
// notification rate limiter.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// S3Config holds object storage parameters for report archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	RateLimitPerMin   int      `toml:"rate_limit_per_min"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the documented production values.
func Defaults() Config {
	return Config{
		Provider: ProviderConfig{
			Spec:      "scenario:mixed",
			SpecB:     "",
			ExchangeA: "kalshi",
			ExchangeB: "polymarket",
			Seed:      42,
		},
		Filter: FilterConfig{
			MaxSpreadPct:         0.03,
			MinVolume24h:         10_000,
			MinLiquidity:         25_000,
			MinDaysToExpiry:      7,
			MinLiquidityMultiple: 20,
			AllowMissingEndDate:  true,
			SpreadWeight:         0.40,
			VolumeWeight:         0.20,
			LiquidityWeight:      0.30,
			FrequencyWeight:      0.10,
		},
		Detector: DetectorConfig{
			ParityThreshold:       0.99,
			LadderTolerance:       0,
			ExclusiveSumTolerance: 0.03,
			CrossVenueMinGap:      0.05,
			TitleSimilarity:       0.80,
			TimeLagPriceJump:      0.05,
			TimeLagPersistence:    duration{5 * time.Minute},
			ConsistencyTolerance:  0.02,
		},
		Execution: ExecutionConfig{
			FeeBps:             60,
			SlippageBps:        40,
			DepthFraction:      0.10,
			StartingCash:       100_000,
			TargetOrderSizeUSD: 100,
		},
		Risk: RiskConfig{
			MinNetEdge:             0.01,
			MinLiquidityUSD:        1000,
			MaxAllocationPerMarket: 0.05,
			MaxOpenPositions:       10,
			KillSwitchDrawdown:     0.10,
		},
		Engine: EngineConfig{
			ScanInterval:  duration{30 * time.Second},
			CommandBuffer: 32,
		},
		Report: ReportConfig{
			Dir:        "reports",
			CSVEnabled: true,
		},
		Venues: []VenueConfig{
			{Name: "kalshi", SupportsShorting: true},
			{Name: "polymarket", SupportsShorting: false},
		},
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com",
			PageSize:  100,
		},
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "predarb",
			User:          "predarb",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predarb-reports",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events:          []string{"execution", "kill_switch", "error"},
			RateLimitPerMin: 10,
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "scan" runs one
// provider paper-trading; "dual" merges two providers under the strict
// two-venue validator; "live" fetches from the real venue APIs.
var validModes = map[string]bool{
	"scan": true,
	"dual": true,
	"live": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found. Scoring weights that do not sum to
// ~1.0 are fatal here, before any cycle runs.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, dual, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Provider
	if strings.TrimSpace(c.Provider.Spec) == "" {
		errs = append(errs, "provider: spec must not be empty")
	}
	if strings.ToLower(c.Mode) == "dual" {
		if strings.TrimSpace(c.Provider.SpecB) == "" {
			errs = append(errs, "provider: spec_b is required in dual mode")
		}
		if c.Provider.ExchangeA == "" || c.Provider.ExchangeB == "" {
			errs = append(errs, "provider: exchange_a and exchange_b are required in dual mode")
		}
	}

	// Filter, execution, and risk blocks delegate to their packages so the
	// rules live next to the code that enforces them.
	if err := c.Filter.Settings().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Execution.Params().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Execution.StartingCash <= 0 {
		errs = append(errs, fmt.Sprintf("execution: starting_cash must be > 0, got %v", c.Execution.StartingCash))
	}
	if c.Execution.TargetOrderSizeUSD < 0 {
		errs = append(errs, "execution: target_order_size_usd must be >= 0")
	}
	if err := c.Risk.Limits().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	// Detector
	if c.Detector.ParityThreshold <= 0 || c.Detector.ParityThreshold > 1 {
		errs = append(errs, fmt.Sprintf("detector: parity_threshold must be in (0,1], got %v", c.Detector.ParityThreshold))
	}
	if c.Detector.TitleSimilarity < 0 || c.Detector.TitleSimilarity > 1 {
		errs = append(errs, fmt.Sprintf("detector: title_similarity must be in [0,1], got %v", c.Detector.TitleSimilarity))
	}
	if c.Detector.TimeLagPersistence.Duration < 0 {
		errs = append(errs, "detector: time_lag_persistence must be >= 0")
	}

	// Engine
	if c.Engine.ScanInterval.Duration <= 0 {
		errs = append(errs, "engine: scan_interval must be > 0")
	}
	if c.Engine.CommandBuffer < 1 {
		errs = append(errs, "engine: command_buffer must be >= 1")
	}

	// Report
	if strings.TrimSpace(c.Report.Dir) == "" {
		errs = append(errs, "report: dir must not be empty")
	}
	if c.Report.ArchiveS3 && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket is required when report.archive_s3 is enabled")
	}

	// Venues
	if len(c.Venues) == 0 {
		errs = append(errs, "venues: at least one venue policy is required")
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		name := strings.ToLower(v.Name)
		if name == "" {
			errs = append(errs, "venues: venue name must not be empty")
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("venues: duplicate venue %q", name))
		}
		seen[name] = true
	}

	// Live mode dependencies
	if strings.ToLower(c.Mode) == "live" {
		if c.Polymarket.GammaHost == "" {
			errs = append(errs, "polymarket: gamma_host is required in live mode")
		}
		if c.Kalshi.BaseURL == "" {
			errs = append(errs, "kalshi: base_url is required in live mode")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Notify — telegram fields go together.
	tk := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tk != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
