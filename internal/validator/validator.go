// Package validator enforces the two-venue execution constraint: a
// cross-venue opportunity must span exactly two venues, place at least one
// leg on the shorting-capable venue and one on the no-short venue, never
// sell-to-open on the no-short venue, and not be executable on either venue
// alone.
package validator

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/oddslab/predarb/internal/domain"
)

// Reason is the closed set of rejection codes.
type Reason string

const (
	ReasonInsufficientVenues    Reason = "insufficient_venues"
	ReasonForbiddenAction       Reason = "forbidden_action"
	ReasonNoEdge                Reason = "no_edge"
	ReasonInsufficientLiquidity Reason = "insufficient_liquidity"
)

// Result carries the verdict plus the venue breakdown for reporting.
type Result struct {
	Valid     bool
	Reason    Reason
	Venues    []string       // distinct venues, sorted
	VenueLegs map[string]int // leg count per venue
	Detail    string
}

// PositionSource exposes the broker's current inventory so sell-to-close on
// the no-short venue can be distinguished from sell-to-open.
type PositionSource interface {
	Position(marketID, outcomeID string) float64
}

// Validator checks opportunities against the venue policy table.
type Validator struct {
	policies        domain.VenuePolicies
	minLiquidityUSD float64
	logger          *slog.Logger
}

func New(policies domain.VenuePolicies, minLiquidityUSD float64, logger *slog.Logger) *Validator {
	return &Validator{
		policies:        policies,
		minLiquidityUSD: minLiquidityUSD,
		logger:          logger.With(slog.String("component", "validator")),
	}
}

// Validate applies the rules in order, short-circuiting on the first failure.
// markets maps id -> snapshot for every market the opportunity references.
func (v *Validator) Validate(opp domain.Opportunity, markets map[string]domain.Market, positions PositionSource) Result {
	legs := make(map[string]int)
	for _, a := range opp.Actions {
		m, ok := markets[a.MarketID]
		if !ok || m.Exchange == "" {
			continue
		}
		legs[strings.ToLower(m.Exchange)]++
	}
	venues := make([]string, 0, len(legs))
	for venue := range legs {
		venues = append(venues, venue)
	}
	sort.Strings(venues)

	res := Result{Venues: venues, VenueLegs: legs}

	if len(venues) != 2 {
		res.Reason = ReasonInsufficientVenues
		res.Detail = fmt.Sprintf("requires exactly 2 venues, found %d", len(venues))
		return v.reject(opp, res)
	}

	shortCapable, noShort := 0, 0
	for _, venue := range venues {
		if v.policies.Allows(venue).SupportsShorting {
			shortCapable++
		} else {
			noShort++
		}
	}
	if shortCapable == 0 || noShort == 0 {
		res.Reason = ReasonInsufficientVenues
		res.Detail = "legs must span one shorting-capable and one no-short venue"
		return v.reject(opp, res)
	}

	for _, a := range opp.Actions {
		m, ok := markets[a.MarketID]
		if !ok {
			continue
		}
		venue := strings.ToLower(m.Exchange)
		if a.Side != domain.SideSell || v.policies.Allows(venue).SupportsShorting {
			continue
		}
		held := 0.0
		if positions != nil {
			held = positions.Position(a.MarketID, a.OutcomeID)
		}
		if held < a.Amount {
			res.Reason = ReasonForbiddenAction
			res.Detail = fmt.Sprintf("sell-to-open on %s: %s/%s amount %.4f exceeds inventory %.4f",
				venue, a.MarketID, a.OutcomeID, a.Amount, held)
			return v.reject(opp, res)
		}
	}

	if v.singleVenueExecutable(opp, markets) {
		res.Reason = ReasonNoEdge
		res.Detail = "opportunity is executable on a single venue; cross-venue framing is coincidental"
		return v.reject(opp, res)
	}

	var liquidity float64
	for _, id := range opp.MarketIDs {
		if m, ok := markets[id]; ok {
			liquidity += m.Liquidity
		}
	}
	if liquidity < v.minLiquidityUSD {
		res.Reason = ReasonInsufficientLiquidity
		res.Detail = fmt.Sprintf("aggregate liquidity %.2f below minimum %.2f", liquidity, v.minLiquidityUSD)
		return v.reject(opp, res)
	}

	res.Valid = true
	return res
}

// ValidateBatch splits opportunities into valid and rejected sets.
func (v *Validator) ValidateBatch(opps []domain.Opportunity, markets map[string]domain.Market, positions PositionSource) (valid []domain.Opportunity, rejected []Result) {
	for _, opp := range opps {
		res := v.Validate(opp, markets, positions)
		if res.Valid {
			valid = append(valid, opp)
		} else {
			rejected = append(rejected, res)
		}
	}
	return valid, rejected
}

// singleVenueExecutable reports whether one venue's legs, taken alone, form a
// complete basket: a full BUY of complementary outcomes of one market on one
// venue locks the payout without the other venue's participation.
func (v *Validator) singleVenueExecutable(opp domain.Opportunity, markets map[string]domain.Market) bool {
	buysByMarket := make(map[string]map[string]bool)
	for _, a := range opp.Actions {
		if a.Side != domain.SideBuy {
			continue
		}
		if buysByMarket[a.MarketID] == nil {
			buysByMarket[a.MarketID] = make(map[string]bool)
		}
		buysByMarket[a.MarketID][a.OutcomeID] = true
	}
	for id, outcomes := range buysByMarket {
		m, ok := markets[id]
		if !ok || len(m.Outcomes) < 2 {
			continue
		}
		all := true
		for _, o := range m.Outcomes {
			if !outcomes[o.ID] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func (v *Validator) reject(opp domain.Opportunity, res Result) Result {
	v.logger.Debug("opportunity rejected",
		slog.String("type", string(opp.Type)),
		slog.String("reason", string(res.Reason)),
		slog.String("detail", res.Detail))
	return res
}
