package detector

import (
	"fmt"
	"sync"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// TimeLag tracks quote history across cycles and flags markets whose price
// jumped against a quote that had been standing for at least the persistence
// window. A stale counterpart quote for the same event then lags reality.
// The detector is the only stateful one in the suite; the history map is
// guarded so concurrent detector fan-out stays safe.
type TimeLag struct {
	cfg   Config
	costs CostModel
	now   func() time.Time

	mu      sync.Mutex
	history map[string]observation
}

type observation struct {
	price float64
	seen  time.Time
}

func NewTimeLag(cfg Config, costs CostModel) *TimeLag {
	return &TimeLag{cfg: cfg, costs: costs, now: time.Now, history: make(map[string]observation)}
}

func (d *TimeLag) Name() string { return "time_lag" }

func (d *TimeLag) Detect(markets []domain.Market) []domain.Opportunity {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var opps []domain.Opportunity
	for _, m := range markets {
		yes, ok := yesPrice(m)
		if !ok {
			continue
		}
		prev, seen := d.history[m.ID]
		d.history[m.ID] = observation{price: yes.Price, seen: now}
		if !seen {
			continue
		}
		jump := yes.Price - prev.price
		if jump < 0 {
			jump = -jump
		}
		if jump < d.cfg.TimeLagPriceJump {
			continue
		}
		if now.Sub(prev.seen) < d.cfg.TimeLagPersistence {
			continue
		}
		// Trade in the direction of the move: a jump up means the stale
		// quote undervalued YES, a jump down the reverse.
		side := domain.SideBuy
		if yes.Price < prev.price {
			side = domain.SideSell
		}
		net := jump - d.costs.Cost(yes.Price+prev.price)
		opps = append(opps, domain.Opportunity{
			Type:      domain.OppTimeLag,
			MarketIDs: []string{m.ID},
			Description: fmt.Sprintf("time-lag: %q moved %.3f -> %.3f after %s",
				m.Question, prev.price, yes.Price, now.Sub(prev.seen).Truncate(time.Second)),
			NetEdge: net,
			Actions: []domain.TradeAction{
				{MarketID: m.ID, OutcomeID: yes.ID, Side: side, Amount: 1, LimitPrice: yes.Price},
			},
			Metadata: map[string]string{
				"previous_price": fmt.Sprintf("%.6f", prev.price),
				"jump":           fmt.Sprintf("%.6f", jump),
				"staleness":      now.Sub(prev.seen).String(),
			},
			DetectedAt: now,
		})
	}
	return opps
}

// Reset clears the quote history. Scenario runs use it between independent
// replays.
func (d *TimeLag) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = make(map[string]observation)
}
