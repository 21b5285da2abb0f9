package detector

import (
	"fmt"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// ExclusiveSum flags multi-outcome markets whose mutually exclusive outcome
// prices do not sum to 1 within tolerance. A sum below 1 is bought as a
// basket; a sum above 1 is sold.
type ExclusiveSum struct {
	cfg   Config
	costs CostModel
	now   func() time.Time
}

func NewExclusiveSum(cfg Config, costs CostModel) *ExclusiveSum {
	return &ExclusiveSum{cfg: cfg, costs: costs, now: time.Now}
}

func (d *ExclusiveSum) Name() string { return "exclusive_sum" }

func (d *ExclusiveSum) Detect(markets []domain.Market) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, m := range markets {
		// Binary markets are parity territory; three or more outcomes are
		// needed before the outcome set is treated as an exclusive partition.
		if len(m.Outcomes) < 3 {
			continue
		}
		sum := m.OutcomeSum()
		dev := sum - 1
		if dev < 0 {
			dev = -dev
		}
		if dev <= d.cfg.ExclusiveSumTolerance {
			continue
		}
		side := domain.SideBuy
		if sum > 1 {
			side = domain.SideSell
		}
		perLeg := 1 / float64(len(m.Outcomes))
		actions := make([]domain.TradeAction, 0, len(m.Outcomes))
		for _, o := range m.Outcomes {
			actions = append(actions, domain.TradeAction{
				MarketID:   m.ID,
				OutcomeID:  o.ID,
				Side:       side,
				Amount:     perLeg,
				LimitPrice: o.Price,
			})
		}
		net := dev - d.costs.Cost(sum)
		opps = append(opps, domain.Opportunity{
			Type:      domain.OppExclusiveSum,
			MarketIDs: []string{m.ID},
			Description: fmt.Sprintf("exclusive-sum: %q %d outcomes sum to %.3f",
				m.Question, len(m.Outcomes), sum),
			NetEdge: net,
			Actions: actions,
			Metadata: map[string]string{
				"outcome_sum": fmt.Sprintf("%.6f", sum),
				"side":        string(side),
			},
			DetectedAt: d.now(),
		})
	}
	return opps
}
