package detector

import (
	"fmt"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// Parity flags binary markets where YES+NO can be bought for less than the
// guaranteed $1 payout.
type Parity struct {
	cfg   Config
	costs CostModel
	now   func() time.Time
}

func NewParity(cfg Config, costs CostModel) *Parity {
	return &Parity{cfg: cfg, costs: costs, now: time.Now}
}

func (d *Parity) Name() string { return "parity" }

func (d *Parity) Detect(markets []domain.Market) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, m := range markets {
		yes, no, ok := m.YesNo()
		if !ok {
			continue
		}
		gross := yes.Price + no.Price
		if gross <= 0 || gross >= d.cfg.ParityThreshold {
			continue
		}
		net := 1 - gross - d.costs.Cost(gross)
		opps = append(opps, domain.Opportunity{
			Type:      domain.OppParity,
			MarketIDs: []string{m.ID},
			Description: fmt.Sprintf("parity: %q YES %.3f + NO %.3f = %.3f < 1",
				m.Question, yes.Price, no.Price, gross),
			NetEdge: net,
			Actions: []domain.TradeAction{
				{MarketID: m.ID, OutcomeID: yes.ID, Side: domain.SideBuy, Amount: 1, LimitPrice: yes.Price},
				{MarketID: m.ID, OutcomeID: no.ID, Side: domain.SideBuy, Amount: 1, LimitPrice: no.Price},
			},
			Metadata: map[string]string{
				"gross_cost": fmt.Sprintf("%.6f", gross),
			},
			DetectedAt: d.now(),
		})
	}
	return opps
}
