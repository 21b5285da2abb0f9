package detector

import (
	"fmt"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// CrossVenue matches the same event listed on two venues and emits two
// opportunity families: a price-gap trade (buy the cheap YES, sell the
// expensive YES) and a complement trade (buy YES on one venue and NO on the
// other when the pair costs less than $1). Venue execution constraints are
// the validator's concern, not ours.
type CrossVenue struct {
	cfg   Config
	costs CostModel
	now   func() time.Time
}

func NewCrossVenue(cfg Config, costs CostModel) *CrossVenue {
	return &CrossVenue{cfg: cfg, costs: costs, now: time.Now}
}

func (d *CrossVenue) Name() string { return "cross_venue" }

func (d *CrossVenue) Detect(markets []domain.Market) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, pair := range matchDuplicates(markets, d.cfg.TitleSimilarity) {
		a, b := pair[0], pair[1]
		if o := d.parity(a, b); o != nil {
			opps = append(opps, *o)
		}
		opps = append(opps, d.complement(a, b)...)
	}
	return opps
}

func (d *CrossVenue) parity(a, b domain.Market) *domain.Opportunity {
	yesA, okA := yesPrice(a)
	yesB, okB := yesPrice(b)
	if !okA || !okB {
		return nil
	}
	cheap, cheapOut, rich, richOut := a, yesA, b, yesB
	if yesB.Price < yesA.Price {
		cheap, cheapOut, rich, richOut = b, yesB, a, yesA
	}
	gap := richOut.Price - cheapOut.Price
	if gap < d.cfg.CrossVenueMinGap {
		return nil
	}
	net := gap - d.costs.Cost(cheapOut.Price+richOut.Price)
	return &domain.Opportunity{
		Type:      domain.OppCrossVenueParity,
		MarketIDs: []string{cheap.ID, rich.ID},
		Description: fmt.Sprintf("cross-venue gap: %q %.3f on %s vs %.3f on %s",
			cheap.Question, cheapOut.Price, cheap.Exchange, richOut.Price, rich.Exchange),
		NetEdge: net,
		Actions: []domain.TradeAction{
			{MarketID: cheap.ID, OutcomeID: cheapOut.ID, Side: domain.SideBuy, Amount: 1, LimitPrice: cheapOut.Price},
			{MarketID: rich.ID, OutcomeID: richOut.ID, Side: domain.SideSell, Amount: 1, LimitPrice: richOut.Price},
		},
		Metadata: map[string]string{
			"venue_buy":  cheap.Exchange,
			"venue_sell": rich.Exchange,
			"gap":        fmt.Sprintf("%.6f", gap),
		},
		DetectedAt: d.now(),
	}
}

// complement checks both orientations: YES on a + NO on b, and YES on b + NO
// on a. Either basket costing under $1 locks the payout.
func (d *CrossVenue) complement(a, b domain.Market) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, pair := range [][2]domain.Market{{a, b}, {b, a}} {
		yesM, noM := pair[0], pair[1]
		yes, okY := yesM.OutcomeByLabel("yes")
		no, okN := noM.OutcomeByLabel("no")
		if !okY || !okN {
			continue
		}
		gross := yes.Price + no.Price
		if gross >= 1-d.cfg.CrossVenueMinGap {
			continue
		}
		net := 1 - gross - d.costs.Cost(gross)
		opps = append(opps, domain.Opportunity{
			Type:      domain.OppCrossVenueComplement,
			MarketIDs: []string{yesM.ID, noM.ID},
			Description: fmt.Sprintf("cross-venue complement: YES %.3f on %s + NO %.3f on %s = %.3f",
				yes.Price, yesM.Exchange, no.Price, noM.Exchange, gross),
			NetEdge: net,
			Actions: []domain.TradeAction{
				{MarketID: yesM.ID, OutcomeID: yes.ID, Side: domain.SideBuy, Amount: 1, LimitPrice: yes.Price},
				{MarketID: noM.ID, OutcomeID: no.ID, Side: domain.SideBuy, Amount: 1, LimitPrice: no.Price},
			},
			Metadata: map[string]string{
				"gross_cost": fmt.Sprintf("%.6f", gross),
				"venue_yes":  yesM.Exchange,
				"venue_no":   noM.Exchange,
			},
			DetectedAt: d.now(),
		})
	}
	return opps
}
