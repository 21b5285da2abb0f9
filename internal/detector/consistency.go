package detector

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// Consistency flags logically linked markets whose prices contradict each
// other. Two rules are enforced: complementary threshold pairs (P(x > t) and
// P(x < t) must sum to 1) and event implication (a strictly stronger claim
// can never be priced above the claim it implies).
type Consistency struct {
	cfg   Config
	costs CostModel
	now   func() time.Time
}

func NewConsistency(cfg Config, costs CostModel) *Consistency {
	return &Consistency{cfg: cfg, costs: costs, now: time.Now}
}

func (d *Consistency) Name() string { return "consistency" }

// implicationRules pairs a stronger event marker with the weaker event it
// implies. Markets for the same subject matching both sides of a rule form
// a nested pair.
var implicationRules = [][2]string{
	{"win the championship", "reach the final"},
	{"win the final", "reach the final"},
	{"sweep", "win"},
	{"win by", "win"},
	{"all-time high", "yearly high"},
}

func (d *Consistency) Detect(markets []domain.Market) []domain.Opportunity {
	opps := d.complementaryPairs(markets)
	opps = append(opps, d.nestedEvents(markets)...)
	sortOpps(opps)
	return opps
}

// complementaryPairs matches ">" and "<" markets on the same asset and
// threshold. Their YES prices partition the outcome space, so the sum must
// be 1 up to tolerance.
func (d *Consistency) complementaryPairs(markets []domain.Market) []domain.Opportunity {
	ladders := groupLadders(markets)
	var opps []domain.Opportunity
	for key, above := range ladders {
		if key.cmp != domain.ComparatorGT {
			continue
		}
		below, ok := ladders[ladderKey{asset: key.asset, cmp: domain.ComparatorLT}]
		if !ok {
			continue
		}
		for _, gt := range above {
			for _, lt := range below {
				if gt.threshold != lt.threshold {
					continue
				}
				pGT, okGT := yesPriceOf(gt.market)
				pLT, okLT := yesPriceOf(lt.market)
				if !okGT || !okLT {
					continue
				}
				sum := pGT + pLT
				dev := sum - 1
				if dev < 0 {
					dev = -dev
				}
				if dev <= d.cfg.ConsistencyTolerance {
					continue
				}
				side := domain.SideBuy
				if sum > 1 {
					side = domain.SideSell
				}
				gtOut, _ := yesPrice(gt.market)
				ltOut, _ := yesPrice(lt.market)
				net := dev - d.costs.Cost(sum)
				opps = append(opps, domain.Opportunity{
					Type:      domain.OppConsistency,
					MarketIDs: []string{gt.market.ID, lt.market.ID},
					Description: fmt.Sprintf("consistency: %s >%g and <%g priced %.3f + %.3f = %.3f",
						key.asset, gt.threshold, lt.threshold, pGT, pLT, sum),
					NetEdge: net,
					Actions: []domain.TradeAction{
						{MarketID: gt.market.ID, OutcomeID: gtOut.ID, Side: side, Amount: 1, LimitPrice: pGT},
						{MarketID: lt.market.ID, OutcomeID: ltOut.ID, Side: side, Amount: 1, LimitPrice: pLT},
					},
					Metadata: map[string]string{
						"rule":      "complementary_pair",
						"price_sum": fmt.Sprintf("%.6f", sum),
					},
					DetectedAt: d.now(),
				})
			}
		}
	}
	return opps
}

// nestedEvents finds implication pairs: if A implies B, P(A) <= P(B) must
// hold. A violation is traded by selling the overpriced stronger event and
// buying the implied one.
func (d *Consistency) nestedEvents(markets []domain.Market) []domain.Opportunity {
	sorted := make([]domain.Market, len(markets))
	copy(sorted, markets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var opps []domain.Opportunity
	for _, rule := range implicationRules {
		for _, strong := range sorted {
			sq := normalizeText(strong.Question)
			if !strings.Contains(sq, rule[0]) {
				continue
			}
			for _, weak := range sorted {
				if strong.ID == weak.ID {
					continue
				}
				wq := normalizeText(weak.Question)
				if !strings.Contains(wq, rule[1]) || strings.Contains(wq, rule[0]) {
					continue
				}
				if extractEntity(strong.Question) != extractEntity(weak.Question) {
					continue
				}
				pStrong, okS := yesPriceOf(strong)
				pWeak, okW := yesPriceOf(weak)
				if !okS || !okW {
					continue
				}
				excess := pStrong - pWeak
				if excess <= d.cfg.ConsistencyTolerance {
					continue
				}
				strongOut, _ := yesPrice(strong)
				weakOut, _ := yesPrice(weak)
				net := excess - d.costs.Cost(pStrong+pWeak)
				opps = append(opps, domain.Opportunity{
					Type:      domain.OppConsistency,
					MarketIDs: []string{strong.ID, weak.ID},
					Description: fmt.Sprintf("consistency: %q (%.3f) priced above implied %q (%.3f)",
						strong.Question, pStrong, weak.Question, pWeak),
					NetEdge: net,
					Actions: []domain.TradeAction{
						{MarketID: strong.ID, OutcomeID: strongOut.ID, Side: domain.SideSell, Amount: 1, LimitPrice: pStrong},
						{MarketID: weak.ID, OutcomeID: weakOut.ID, Side: domain.SideBuy, Amount: 1, LimitPrice: pWeak},
					},
					Metadata: map[string]string{
						"rule":   "implication",
						"excess": fmt.Sprintf("%.6f", excess),
					},
					DetectedAt: d.now(),
				})
			}
		}
	}
	return opps
}
