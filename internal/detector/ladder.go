package detector

import (
	"fmt"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// Ladder checks threshold families for monotonicity. For ">" ladders the YES
// price must be non-increasing in the threshold; for "<" ladders it must be
// non-decreasing. Equal prices at adjacent rungs satisfy both orderings, so
// only a strict inversion beyond the tolerance is flagged.
type Ladder struct {
	cfg   Config
	costs CostModel
	now   func() time.Time
}

func NewLadder(cfg Config, costs CostModel) *Ladder {
	return &Ladder{cfg: cfg, costs: costs, now: time.Now}
}

func (d *Ladder) Name() string { return "ladder" }

func (d *Ladder) Detect(markets []domain.Market) []domain.Opportunity {
	var opps []domain.Opportunity
	for key, rungs := range groupLadders(markets) {
		if len(rungs) < 2 {
			continue
		}
		for i := 0; i+1 < len(rungs); i++ {
			lo, hi := rungs[i], rungs[i+1]
			if lo.threshold == hi.threshold {
				continue
			}
			pLo, okLo := yesPriceOf(lo.market)
			pHi, okHi := yesPriceOf(hi.market)
			if !okLo || !okHi {
				continue
			}
			// cheap is the rung whose YES is implied-dominant: for ">"
			// families P(x > hi) <= P(x > lo), so a violation means the
			// higher rung is overpriced relative to the lower one.
			var gap float64
			var buy, sell ladderRung
			var buyPrice, sellPrice float64
			switch key.cmp {
			case domain.ComparatorGT:
				gap = pHi - pLo
				buy, sell, buyPrice, sellPrice = lo, hi, pLo, pHi
			case domain.ComparatorLT:
				gap = pLo - pHi
				buy, sell, buyPrice, sellPrice = hi, lo, pHi, pLo
			default:
				continue
			}
			if gap <= d.cfg.LadderTolerance {
				continue
			}
			buyOut, _ := yesPrice(buy.market)
			sellOut, _ := yesPrice(sell.market)
			net := gap - d.costs.Cost(buyPrice+sellPrice)
			opps = append(opps, domain.Opportunity{
				Type:      domain.OppLadder,
				MarketIDs: []string{buy.market.ID, sell.market.ID},
				Description: fmt.Sprintf("ladder: %s %s inverted at %g/%g (%.3f vs %.3f)",
					key.asset, key.cmp, buy.threshold, sell.threshold, buyPrice, sellPrice),
				NetEdge: net,
				Actions: []domain.TradeAction{
					{MarketID: buy.market.ID, OutcomeID: buyOut.ID, Side: domain.SideBuy, Amount: 1, LimitPrice: buyPrice},
					{MarketID: sell.market.ID, OutcomeID: sellOut.ID, Side: domain.SideSell, Amount: 1, LimitPrice: sellPrice},
				},
				Metadata: map[string]string{
					"asset":      key.asset,
					"comparator": string(key.cmp),
					"gap":        fmt.Sprintf("%.6f", gap),
				},
				DetectedAt: d.now(),
			})
		}
	}
	sortOpps(opps)
	return opps
}

func yesPriceOf(m domain.Market) (float64, bool) {
	out, ok := yesPrice(m)
	if !ok {
		return 0, false
	}
	return out.Price, true
}
