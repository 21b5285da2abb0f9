// Package provider supplies market snapshots to the engine. Sources are
// network-free and deterministic unless the live venue clients are wired in:
// fixture files for reproducible tests, inline JSON for quick runs, and
// seeded scenario generators for stress testing the full pipeline.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// FromSpec builds a provider from an injection spec string:
//
//	scenario:<name>   built-in seeded scenario generator
//	file:<path>       JSON fixture file
//	inline:<json>     inline JSON market array
func FromSpec(spec string, seed int64) (domain.MarketProvider, error) {
	switch {
	case strings.HasPrefix(spec, "scenario:"):
		return NewScenario(strings.TrimPrefix(spec, "scenario:"), seed)
	case strings.HasPrefix(spec, "file:"):
		return NewFixture(strings.TrimPrefix(spec, "file:")), nil
	case strings.HasPrefix(spec, "inline:"):
		return NewInline(strings.TrimPrefix(spec, "inline:"))
	default:
		return nil, fmt.Errorf("provider: unknown injection spec %q (want scenario:, file:, or inline:)", spec)
	}
}

// marketJSON is the fixture wire format for one market.
type marketJSON struct {
	ID               string             `json:"id"`
	Question         string             `json:"question"`
	Outcomes         []outcomeJSON      `json:"outcomes"`
	EndDate          *time.Time         `json:"end_date,omitempty"`
	Liquidity        float64            `json:"liquidity"`
	Volume           float64            `json:"volume"`
	Tags             []string           `json:"tags,omitempty"`
	ResolutionSource string             `json:"resolution_source,omitempty"`
	Description      string             `json:"description,omitempty"`
	BestBid          map[string]float64 `json:"best_bid,omitempty"`
	BestAsk          map[string]float64 `json:"best_ask,omitempty"`
	Exchange         string             `json:"exchange,omitempty"`
	Comparator       string             `json:"comparator,omitempty"`
	Threshold        *float64           `json:"threshold,omitempty"`
	Asset            string             `json:"asset,omitempty"`
}

type outcomeJSON struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Price     float64 `json:"price"`
	Liquidity float64 `json:"liquidity"`
}

// toDomain validates each decoded market through the domain constructors so
// fixtures cannot smuggle invalid prices into the pipeline.
func toDomain(raw []marketJSON) ([]domain.Market, error) {
	markets := make([]domain.Market, 0, len(raw))
	for _, mj := range raw {
		outcomes := make([]domain.Outcome, 0, len(mj.Outcomes))
		for _, oj := range mj.Outcomes {
			o, err := domain.NewOutcome(oj.ID, oj.Label, oj.Price, oj.Liquidity)
			if err != nil {
				return nil, fmt.Errorf("provider: market %s: %w", mj.ID, err)
			}
			outcomes = append(outcomes, o)
		}
		m, err := domain.NewMarket(domain.MarketParams{
			ID:               mj.ID,
			Question:         mj.Question,
			Outcomes:         outcomes,
			EndDate:          mj.EndDate,
			Liquidity:        mj.Liquidity,
			Volume:           mj.Volume,
			Tags:             mj.Tags,
			ResolutionSource: mj.ResolutionSource,
			Description:      mj.Description,
			BestBid:          mj.BestBid,
			BestAsk:          mj.BestAsk,
			Exchange:         mj.Exchange,
			Comparator:       domain.Comparator(mj.Comparator),
			Threshold:        mj.Threshold,
			Asset:            mj.Asset,
		})
		if err != nil {
			return nil, fmt.Errorf("provider: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// Dual merges two venue providers into one feed, stamping each side's
// exchange tag on markets that arrive untagged.
type Dual struct {
	venueA    domain.MarketProvider
	venueB    domain.MarketProvider
	exchangeA string
	exchangeB string
}

func NewDual(venueA, venueB domain.MarketProvider, exchangeA, exchangeB string) *Dual {
	return &Dual{venueA: venueA, venueB: venueB, exchangeA: exchangeA, exchangeB: exchangeB}
}

func (d *Dual) Name() string { return "dual:" + d.exchangeA + "+" + d.exchangeB }

func (d *Dual) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	var merged []domain.Market
	for _, side := range []struct {
		p   domain.MarketProvider
		tag string
	}{{d.venueA, d.exchangeA}, {d.venueB, d.exchangeB}} {
		if side.p == nil {
			continue
		}
		markets, err := side.p.FetchMarkets(ctx)
		if err != nil {
			return nil, fmt.Errorf("provider: %s: %w", side.p.Name(), err)
		}
		for i := range markets {
			if markets[i].Exchange == "" {
				markets[i].Exchange = side.tag
			}
		}
		merged = append(merged, markets...)
	}
	return merged, nil
}
