package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/oddslab/predarb/internal/domain"
)

// Fixture replays markets from a JSON file: either a bare array or an object
// with a top-level "markets" key. The file is re-read every fetch so a test
// can rewrite it between cycles.
type Fixture struct {
	path string
}

func NewFixture(path string) *Fixture { return &Fixture{path: path} }

func (f *Fixture) Name() string { return "file:" + f.path }

func (f *Fixture) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("provider: read fixture %s: %w", f.path, err)
	}
	return decodeMarkets(raw)
}

// Inline parses a JSON market array once at construction and serves it on
// every fetch.
type Inline struct {
	markets []domain.Market
}

func NewInline(jsonStr string) (*Inline, error) {
	markets, err := decodeMarkets([]byte(jsonStr))
	if err != nil {
		return nil, err
	}
	return &Inline{markets: markets}, nil
}

func (p *Inline) Name() string { return "inline" }

func (p *Inline) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	out := make([]domain.Market, len(p.markets))
	copy(out, p.markets)
	return out, nil
}

func decodeMarkets(raw []byte) ([]domain.Market, error) {
	var list []marketJSON
	if err := json.Unmarshal(raw, &list); err == nil {
		return toDomain(list)
	}
	var wrapped struct {
		Markets []marketJSON `json:"markets"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("provider: decode markets: %w", err)
	}
	return toDomain(wrapped.Markets)
}
