package domain

import (
	"fmt"
	"math"
	"time"
)

// OpportunityType is the closed set of detector outputs.
type OpportunityType string

const (
	OppParity               OpportunityType = "PARITY"
	OppLadder               OpportunityType = "LADDER"
	OppExclusiveSum         OpportunityType = "EXCLUSIVE_SUM"
	OppCrossVenueParity     OpportunityType = "CROSS_VENUE_PARITY"
	OppCrossVenueComplement OpportunityType = "CROSS_VENUE_COMPLEMENT"
	OppRangeReplication     OpportunityType = "RANGE_REPLICATION"
	OppConsistency          OpportunityType = "CONSISTENCY"
	OppTimeLag              OpportunityType = "TIMELAG"
	OppHedge                OpportunityType = "HEDGE"
)

// Side of a trade action.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeAction is one intended leg of an opportunity.
type TradeAction struct {
	MarketID   string
	OutcomeID  string
	Side       Side
	Amount     float64 // outcome-share quantity, > 0
	LimitPrice float64 // in [0,1]
}

// Validate checks the action's numeric constraints.
func (a TradeAction) Validate() error {
	if a.Side != SideBuy && a.Side != SideSell {
		return fmt.Errorf("domain: action %s/%s: unknown side %q: %w", a.MarketID, a.OutcomeID, a.Side, ErrInvalidAction)
	}
	if math.IsNaN(a.Amount) || a.Amount <= 0 {
		return fmt.Errorf("domain: action %s/%s: amount %v must be > 0: %w", a.MarketID, a.OutcomeID, a.Amount, ErrInvalidAction)
	}
	if math.IsNaN(a.LimitPrice) || a.LimitPrice < 0 || a.LimitPrice > 1 {
		return fmt.Errorf("domain: action %s/%s: limit price %v outside [0,1]: %w", a.MarketID, a.OutcomeID, a.LimitPrice, ErrInvalidAction)
	}
	return nil
}

// Opportunity is a candidate mispricing produced by a detector. It lives for
// exactly one scan cycle: created by a detector, consumed by the validator and
// risk manager, and terminally executed or discarded by the broker.
type Opportunity struct {
	Type        OpportunityType
	MarketIDs   []string
	Description string
	NetEdge     float64 // fractional profit net of modeled costs, may be <= 0
	Actions     []TradeAction
	Metadata    map[string]string
	DetectedAt  time.Time
}
