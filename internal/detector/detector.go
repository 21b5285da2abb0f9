// Package detector implements the opportunity detectors. Every detector is a
// pure function over a slice of market snapshots: it never mutates its input
// and silently skips markets with missing or degenerate outcome sets.
package detector

import (
	"sort"
	"strings"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// Detector maps a market set to candidate opportunities.
type Detector interface {
	Name() string
	Detect(markets []domain.Market) []domain.Opportunity
}

// Config holds per-detector thresholds.
type Config struct {
	// ParityThreshold is the gross YES+NO cost below which a single-venue
	// parity opportunity triggers (e.g. 0.99 leaves a 1% margin).
	ParityThreshold float64
	// LadderTolerance pads the monotonicity comparison; equal prices at
	// adjacent thresholds are never a violation.
	LadderTolerance float64
	// ExclusiveSumTolerance is the allowed deviation of an exclusive
	// outcome-price sum from 1.0.
	ExclusiveSumTolerance float64
	// CrossVenueMinGap is the minimum same-event price gap across venues.
	CrossVenueMinGap float64
	// TitleSimilarity is the minimum token similarity for two questions to
	// be considered the same event.
	TitleSimilarity float64
	// TimeLagPriceJump is the minimum price move that counts as a lag signal.
	TimeLagPriceJump float64
	// TimeLagPersistence is how long a prior quote must have stood before a
	// jump against it is considered a stale-quote divergence.
	TimeLagPersistence time.Duration
	// ConsistencyTolerance is the allowed implied-probability violation for
	// logically nested events.
	ConsistencyTolerance float64
}

// DefaultConfig mirrors the documented production defaults.
func DefaultConfig() Config {
	return Config{
		ParityThreshold:       0.99,
		LadderTolerance:       0,
		ExclusiveSumTolerance: 0.03,
		CrossVenueMinGap:      0.05,
		TitleSimilarity:       0.8,
		TimeLagPriceJump:      0.05,
		TimeLagPersistence:    5 * time.Minute,
		ConsistencyTolerance:  0.02,
	}
}

// CostModel converts gross edges into net edges using the configured fee and
// slippage basis-point rates. Edges are reported net of costs so that an
// opportunity with NetEdge <= 0 is still an inspectable object; the risk
// manager rejects it downstream.
type CostModel struct {
	FeeBps      float64
	SlippageBps float64
}

// Rate is the combined proportional cost per unit of notional.
func (c CostModel) Rate() float64 {
	return (c.FeeBps + c.SlippageBps) / 10_000
}

// Cost returns the modeled fee+slippage charge on the given notional.
func (c CostModel) Cost(notional float64) float64 {
	return notional * c.Rate()
}

// Suite returns the full detector set in a fixed order. The time-lag detector
// keeps quote history between calls; everything else is stateless.
func Suite(cfg Config, costs CostModel) []Detector {
	return []Detector{
		NewParity(cfg, costs),
		NewLadder(cfg, costs),
		NewExclusiveSum(cfg, costs),
		NewCrossVenue(cfg, costs),
		NewTimeLag(cfg, costs),
		NewConsistency(cfg, costs),
	}
}

// sortOpps imposes a deterministic order on opportunities produced from map
// iteration: by market-ID list, then by type.
func sortOpps(opps []domain.Opportunity) {
	sort.Slice(opps, func(i, j int) bool {
		a := strings.Join(opps[i].MarketIDs, "|")
		b := strings.Join(opps[j].MarketIDs, "|")
		if a != b {
			return a < b
		}
		return opps[i].Type < opps[j].Type
	})
}

// yesPrice returns the representative probability of a market: the YES
// outcome when labelled, else the first outcome.
func yesPrice(m domain.Market) (domain.Outcome, bool) {
	if yes, ok := m.OutcomeByLabel("yes"); ok {
		return yes, true
	}
	if len(m.Outcomes) > 0 {
		return m.Outcomes[0], true
	}
	return domain.Outcome{}, false
}
