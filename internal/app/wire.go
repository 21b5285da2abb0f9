package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/oddslab/predarb/internal/blob/s3"
	"github.com/oddslab/predarb/internal/broker"
	"github.com/oddslab/predarb/internal/cache/redis"
	"github.com/oddslab/predarb/internal/config"
	"github.com/oddslab/predarb/internal/detector"
	"github.com/oddslab/predarb/internal/domain"
	"github.com/oddslab/predarb/internal/engine"
	"github.com/oddslab/predarb/internal/filter"
	"github.com/oddslab/predarb/internal/notify"
	"github.com/oddslab/predarb/internal/platform/kalshi"
	"github.com/oddslab/predarb/internal/platform/polymarket"
	"github.com/oddslab/predarb/internal/provider"
	"github.com/oddslab/predarb/internal/report"
	"github.com/oddslab/predarb/internal/risk"
	"github.com/oddslab/predarb/internal/store/postgres"
	"github.com/oddslab/predarb/internal/validator"
)

// quoteTTL bounds how long a live quote may mark positions after the feed
// stops updating it.
const quoteTTL = 5 * time.Minute

// Dependencies bundles everything the run modes need. Constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	Engine   *engine.Engine
	Provider domain.MarketProvider
	Interval time.Duration
	MaxIters int

	// Live feed, nil outside live mode.
	Feed       *polymarket.WSClient
	QuoteCache domain.QuoteCache

	// Archival, nil unless report.archive_s3 is set. ArchiveTrades is only
	// true when a trade store backs the archiver.
	Archiver      *s3blob.Archiver
	ArchiveTrades bool
	ReportDir     string
}

// Wire constructs the full pipeline from the configuration and returns it
// with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Interval:  cfg.Engine.ScanInterval.Duration,
		MaxIters:  cfg.Engine.MaxIterations,
		ReportDir: cfg.Report.Dir,
	}

	// --- Market provider per mode ---
	prov, twoVenue, err := buildProvider(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: provider: %w", err))
	}
	deps.Provider = prov

	// --- Pipeline stages ---
	flt, err := filter.New(cfg.Filter.Settings())
	if err != nil {
		return fail(fmt.Errorf("wire: filter: %w", err))
	}

	riskMgr, err := risk.NewManager(cfg.Risk.Limits(), logger)
	if err != nil {
		return fail(fmt.Errorf("wire: risk: %w", err))
	}

	brk, err := broker.New(cfg.Execution.StartingCash, cfg.Execution.Params(), cfg.Policies(), logger)
	if err != nil {
		return fail(fmt.Errorf("wire: broker: %w", err))
	}

	reporter, err := report.NewReporter(cfg.Report.Dir, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: reporter: %w", err))
	}

	var summary *report.SummaryCSV
	if cfg.Report.CSVEnabled {
		summary, err = report.NewSummaryCSV(cfg.Report.Dir)
		if err != nil {
			return fail(fmt.Errorf("wire: summary csv: %w", err))
		}
	}

	var val *validator.Validator
	if twoVenue {
		val = validator.New(cfg.Policies(), cfg.Risk.MinLiquidityUSD, logger)
	}

	// --- Redis: quote cache + notification rate limiter ---
	var limiter domain.RateLimiter
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient, quoteTTL)
		limiter = redis.NewRateLimiter(redisClient)
	}

	// --- Postgres persistence sink ---
	var sink engine.Sink
	var tradeArchive s3blob.TradeArchiveStore
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		trades := postgres.NewTradeStore(pgClient.Pool())
		sink = &pgSink{
			trades: trades,
			execs:  postgres.NewExecutionStore(pgClient.Pool()),
		}
		tradeArchive = trades
	}

	// --- S3 report archival ---
	if cfg.Report.ArchiveS3 {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			tradeArchive,
		)
		deps.ArchiveTrades = tradeArchive != nil
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	var notifier engine.Notifier
	if len(senders) > 0 {
		notifier = notify.NewNotifier(senders, notify.Config{
			Events:        cfg.Notify.Events,
			Limiter:       limiter,
			RatePerMinute: cfg.Notify.RateLimitPerMin,
		}, logger)
	}

	// --- Live websocket quote feed ---
	if strings.EqualFold(cfg.Mode, "live") && cfg.Polymarket.WsHost != "" && deps.QuoteCache != nil {
		deps.Feed = polymarket.NewWSClient(cfg.Polymarket.WsHost, logger)
	}

	eng, err := engine.New(engine.Options{
		Provider:           prov,
		Filter:             flt,
		Detectors:          buildDetectors(cfg, twoVenue),
		Validator:          val,
		Risk:               riskMgr,
		Broker:             brk,
		Reporter:           reporter,
		Summary:            summary,
		Notifier:           notifier,
		Sink:               sink,
		Quotes:             deps.QuoteCache,
		Logger:             logger,
		TwoVenue:           twoVenue,
		TargetOrderSizeUSD: cfg.Execution.TargetOrderSizeUSD,
		CommandBuffer:      cfg.Engine.CommandBuffer,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: engine: %w", err))
	}
	deps.Engine = eng

	return deps, cleanup, nil
}

// buildProvider constructs the market source for the configured mode and
// reports whether the run spans two venues.
func buildProvider(cfg *config.Config, logger *slog.Logger) (domain.MarketProvider, bool, error) {
	switch strings.ToLower(cfg.Mode) {
	case "scan":
		p, err := specProvider(cfg.Provider.Spec, cfg.Provider.Seed)
		return p, false, err

	case "dual":
		a, err := specProvider(cfg.Provider.Spec, cfg.Provider.Seed)
		if err != nil {
			return nil, false, err
		}
		b, err := specProvider(cfg.Provider.SpecB, cfg.Provider.Seed+1)
		if err != nil {
			return nil, false, err
		}
		return provider.NewDual(a, b, cfg.Provider.ExchangeA, cfg.Provider.ExchangeB), true, nil

	case "live":
		a := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.ApiKey, logger)
		b := polymarket.NewGammaClient(cfg.Polymarket.GammaHost, logger)
		return provider.NewDual(a, b, "kalshi", "polymarket"), true, nil

	default:
		return nil, false, fmt.Errorf("unsupported mode %q", cfg.Mode)
	}
}

// specProvider parses a provider spec string: "scenario:<name>",
// "file:<path>", or "inline:<json>".
func specProvider(spec string, seed int64) (domain.MarketProvider, error) {
	kind, arg, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("malformed provider spec %q", spec)
	}
	switch kind {
	case "scenario":
		return provider.NewScenario(arg, seed)
	case "file":
		return provider.NewFixture(arg), nil
	case "inline":
		return provider.NewInline(arg)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}

// buildDetectors assembles the detector chain. The cross-venue and time-lag
// detectors only make sense with two venues in play.
func buildDetectors(cfg *config.Config, twoVenue bool) []detector.Detector {
	dcfg := cfg.Detector.DetectorSettings()
	costs := cfg.Execution.CostModel()

	detectors := []detector.Detector{
		detector.NewParity(dcfg, costs),
		detector.NewExclusiveSum(dcfg, costs),
		detector.NewLadder(dcfg, costs),
		detector.NewConsistency(dcfg, costs),
	}
	if twoVenue {
		detectors = append(detectors,
			detector.NewCrossVenue(dcfg, costs),
			detector.NewTimeLag(dcfg, costs),
		)
	}
	return detectors
}

// pgSink persists executed trades and execution traces to Postgres.
type pgSink struct {
	trades *postgres.TradeStore
	execs  *postgres.ExecutionStore
}

func (s *pgSink) SaveTrades(ctx context.Context, trades []domain.Trade) error {
	return s.trades.InsertBatch(ctx, trades)
}

func (s *pgSink) SaveExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	return s.execs.Insert(ctx, rec)
}
