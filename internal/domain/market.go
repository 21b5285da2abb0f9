// Package domain defines the canonical data model shared by every stage of
// the scan pipeline: market snapshots, detected opportunities, simulated
// trades, and execution records. All construction-time validation lives here
// so that no half-valid object can enter the pipeline.
package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Comparator tags threshold-style ("ladder") markets.
type Comparator string

const (
	ComparatorGT Comparator = ">"
	ComparatorLT Comparator = "<"
)

// Outcome is a single priced outcome of a market.
type Outcome struct {
	ID          string
	Label       string
	Price       float64 // probability-price in [0,1]
	Liquidity   float64 // USD-equivalent depth behind this outcome
	LastUpdated *time.Time
}

// NewOutcome validates and constructs an Outcome. Prices outside [0,1],
// NaN/Inf, or negative liquidity are rejected here, never clamped.
func NewOutcome(id, label string, price, liquidity float64) (Outcome, error) {
	if strings.TrimSpace(id) == "" {
		return Outcome{}, fmt.Errorf("domain: outcome id must not be empty: %w", ErrInvalidOutcome)
	}
	if strings.TrimSpace(label) == "" {
		return Outcome{}, fmt.Errorf("domain: outcome %s: label must not be empty: %w", id, ErrInvalidOutcome)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Outcome{}, fmt.Errorf("domain: outcome %s: price must be a finite number: %w", id, ErrInvalidOutcome)
	}
	if price < 0 || price > 1 {
		return Outcome{}, fmt.Errorf("domain: outcome %s: price %v outside [0,1]: %w", id, price, ErrInvalidOutcome)
	}
	if math.IsNaN(liquidity) || liquidity < 0 {
		return Outcome{}, fmt.Errorf("domain: outcome %s: liquidity %v must be >= 0: %w", id, liquidity, ErrInvalidOutcome)
	}
	return Outcome{ID: id, Label: label, Price: price, Liquidity: liquidity}, nil
}

// Market is an immutable snapshot of a tradable prediction market, produced
// fresh each fetch cycle. No pipeline component mutates another's snapshot;
// exposure tracking lives in the broker.
type Market struct {
	ID               string // globally unique, venue-prefixed
	Question         string
	Outcomes         []Outcome
	EndDate          *time.Time
	Liquidity        float64 // USD-equivalent depth
	Volume           float64 // trailing trade volume
	Tags             []string
	ResolutionSource string
	Description      string
	BestBid          map[string]float64 // by outcome label, optional
	BestAsk          map[string]float64 // by outcome label, optional
	Exchange         string             // venue identifier, e.g. "polymarket"

	// Threshold-market fields, populated by the venue client or extracted
	// from the question text.
	Comparator Comparator
	Threshold  *float64
	Asset      string
}

// MarketParams carries the raw fields for NewMarket. Outcomes must already be
// validated (built with NewOutcome).
type MarketParams struct {
	ID               string
	Question         string
	Outcomes         []Outcome
	EndDate          *time.Time
	Liquidity        float64
	Volume           float64
	Tags             []string
	ResolutionSource string
	Description      string
	BestBid          map[string]float64
	BestAsk          map[string]float64
	Exchange         string
	Comparator       Comparator
	Threshold        *float64
	Asset            string
}

// NewMarket validates and constructs a Market snapshot.
func NewMarket(p MarketParams) (Market, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Market{}, fmt.Errorf("domain: market id must not be empty: %w", ErrInvalidMarket)
	}
	if len(p.Outcomes) == 0 {
		return Market{}, fmt.Errorf("domain: market %s requires at least one outcome: %w", p.ID, ErrInvalidMarket)
	}
	seen := make(map[string]bool, len(p.Outcomes))
	for _, o := range p.Outcomes {
		if math.IsNaN(o.Price) || math.IsInf(o.Price, 0) || o.Price < 0 || o.Price > 1 {
			return Market{}, fmt.Errorf("domain: market %s: outcome %s has invalid price %v: %w", p.ID, o.ID, o.Price, ErrInvalidMarket)
		}
		if seen[o.ID] {
			return Market{}, fmt.Errorf("domain: market %s: duplicate outcome id %s: %w", p.ID, o.ID, ErrInvalidMarket)
		}
		seen[o.ID] = true
	}
	if math.IsNaN(p.Liquidity) || p.Liquidity < 0 {
		return Market{}, fmt.Errorf("domain: market %s: liquidity %v must be >= 0: %w", p.ID, p.Liquidity, ErrInvalidMarket)
	}
	if math.IsNaN(p.Volume) || p.Volume < 0 {
		return Market{}, fmt.Errorf("domain: market %s: volume %v must be >= 0: %w", p.ID, p.Volume, ErrInvalidMarket)
	}
	switch p.Comparator {
	case "", ComparatorGT, ComparatorLT:
	default:
		return Market{}, fmt.Errorf("domain: market %s: unknown comparator %q: %w", p.ID, p.Comparator, ErrInvalidMarket)
	}
	return Market{
		ID:               p.ID,
		Question:         p.Question,
		Outcomes:         p.Outcomes,
		EndDate:          p.EndDate,
		Liquidity:        p.Liquidity,
		Volume:           p.Volume,
		Tags:             p.Tags,
		ResolutionSource: p.ResolutionSource,
		Description:      p.Description,
		BestBid:          p.BestBid,
		BestAsk:          p.BestAsk,
		Exchange:         p.Exchange,
		Comparator:       p.Comparator,
		Threshold:        p.Threshold,
		Asset:            p.Asset,
	}, nil
}

// OutcomeByLabel returns the outcome with the given label (case-insensitive),
// or false when absent.
func (m Market) OutcomeByLabel(label string) (Outcome, bool) {
	for _, o := range m.Outcomes {
		if strings.EqualFold(o.Label, label) {
			return o, true
		}
	}
	return Outcome{}, false
}

// OutcomeByID returns the outcome with the given id, or false when absent.
func (m Market) OutcomeByID(id string) (Outcome, bool) {
	for _, o := range m.Outcomes {
		if o.ID == id {
			return o, true
		}
	}
	return Outcome{}, false
}

// OutcomeSum is the sum of all outcome prices. For a fairly priced set of
// mutually exclusive outcomes this is ~1.0.
func (m Market) OutcomeSum() float64 {
	var sum float64
	for _, o := range m.Outcomes {
		sum += o.Price
	}
	return sum
}

// YesNo returns the YES and NO outcomes of a binary market, or false when the
// market is not labelled that way.
func (m Market) YesNo() (yes, no Outcome, ok bool) {
	yes, okYes := m.OutcomeByLabel("yes")
	no, okNo := m.OutcomeByLabel("no")
	return yes, no, okYes && okNo
}

// DaysToExpiry returns whole days between now and the market's end date, and
// false when the market has no end date.
func (m Market) DaysToExpiry(now time.Time) (float64, bool) {
	if m.EndDate == nil {
		return 0, false
	}
	return m.EndDate.Sub(now).Hours() / 24, true
}
