package domain

import (
	"context"
	"io"
	"time"
)

// MarketProvider returns a fresh set of Market snapshots per call. Providers
// are expected to swallow and log transient venue failures, returning zero
// markets rather than surfacing errors into the scan cycle; a non-nil error
// means the provider itself is misconfigured.
type MarketProvider interface {
	FetchMarkets(ctx context.Context) ([]Market, error)
	Name() string
}

// VenuePolicy describes what a venue permits at execution time.
type VenuePolicy struct {
	Name            string
	SupportsShorting bool // SELL without held inventory (sell-to-open)
}

// VenuePolicies maps exchange identifiers (lower-cased) to their policies.
type VenuePolicies map[string]VenuePolicy

// Allows reports whether the venue permits sell-to-open. Unknown venues are
// treated as no-short.
func (p VenuePolicies) Allows(exchange string) VenuePolicy {
	if v, ok := p[exchange]; ok {
		return v
	}
	return VenuePolicy{Name: exchange, SupportsShorting: false}
}

// TradeStore persists the simulated trade ledger.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) error
	ListSince(ctx context.Context, since time.Time, limit int) ([]Trade, error)
}

// ExecutionStore persists per-opportunity execution records.
type ExecutionStore interface {
	Insert(ctx context.Context, rec ExecutionRecord) error
	GetByTraceID(ctx context.Context, traceID string) (ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	SumRealizedPnL(ctx context.Context, since time.Time) (float64, error)
}

// QuoteCache keeps the latest observed price per outcome for the live feed.
type QuoteCache interface {
	SetQuote(ctx context.Context, outcomeID string, price float64, ts time.Time) error
	GetQuote(ctx context.Context, outcomeID string) (float64, time.Time, error)
	GetQuotes(ctx context.Context, outcomeIDs []string) (map[string]float64, error)
}

// RateLimiter bounds notification and API call rates.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads objects to the archive store.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves and inspects archived objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}
