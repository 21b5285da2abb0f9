// Package broker simulates order execution against market snapshots. It owns
// the only mutable state in the pipeline: the cash balance, the per-outcome
// position book, and the append-only trade ledger. All mutations go through
// a single lock, so a concurrent orchestrator cannot interleave fills.
package broker

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oddslab/predarb/internal/domain"
)

// fillEpsilon separates a rounding artifact from a genuine partial fill.
const fillEpsilon = 1e-9

// Params are the execution-model knobs.
type Params struct {
	FeeBps        float64 // proportional fee on effective notional
	SlippageBps   float64 // adverse price adjustment per side
	DepthFraction float64 // share of posted liquidity actually fillable
}

// DefaultParams mirrors the documented production defaults.
func DefaultParams() Params {
	return Params{FeeBps: 60, SlippageBps: 40, DepthFraction: 0.10}
}

func (p Params) Validate() error {
	if p.FeeBps < 0 || p.SlippageBps < 0 {
		return fmt.Errorf("broker: fee/slippage bps must be >= 0, got %v/%v", p.FeeBps, p.SlippageBps)
	}
	if p.DepthFraction <= 0 || p.DepthFraction > 1 {
		return fmt.Errorf("broker: depth fraction %v outside (0,1]", p.DepthFraction)
	}
	return nil
}

// position tracks one outcome holding. Quantity may go negative only on
// shorting-capable venues.
type position struct {
	marketID  string
	outcomeID string
	quantity  float64
	avgCost   float64 // per-share cost basis at the effective fill price
	exchange  string
}

// EquityPoint is one observation on the equity curve.
type EquityPoint struct {
	Time   time.Time
	Equity float64
}

// Result is the outcome of executing one opportunity.
type Result struct {
	Trades      []domain.Trade
	Hedge       *domain.HedgeReport
	Status      domain.ExecStatus
	Flags       []string
	RealizedPnL float64
}

// Broker is the simulated execution venue.
type Broker struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]*position
	ledger    []domain.Trade
	curve     []EquityPoint
	peak      float64

	params   Params
	policies domain.VenuePolicies
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func New(startingCash float64, params Params, policies domain.VenuePolicies, logger *slog.Logger) (*Broker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if startingCash <= 0 {
		return nil, fmt.Errorf("broker: starting cash %v must be > 0", startingCash)
	}
	return &Broker{
		cash:      startingCash,
		positions: make(map[string]*position),
		peak:      startingCash,
		params:    params,
		policies:  policies,
		logger:    logger.With(slog.String("component", "broker")),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}, nil
}

func key(marketID, outcomeID string) string { return marketID + ":" + outcomeID }

// Execute fills every leg of the opportunity against the given snapshots,
// then flattens any partial multi-leg fill back to zero net exposure from
// this opportunity. It never overfills: the same inputs always produce the
// same fills.
func (b *Broker) Execute(opp domain.Opportunity, markets map[string]domain.Market) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	var res Result
	deltas := make(map[string]float64) // exposure opened by this opportunity
	full, empty := 0, 0

	for _, a := range opp.Actions {
		m, ok := markets[a.MarketID]
		if !ok {
			empty++
			continue
		}
		trade, filled, capped := b.fill(a, m)
		switch {
		case filled <= fillEpsilon:
			empty++
			if capped == "" {
				capped = domain.FlagLiquidityStarved
			}
			res.Flags = appendFlag(res.Flags, capped)
			continue
		case filled+fillEpsilon < a.Amount:
			res.Flags = appendFlag(res.Flags, capped)
		default:
			full++
		}
		res.Trades = append(res.Trades, trade)
		res.RealizedPnL += trade.RealizedPnL
		if a.Side == domain.SideBuy {
			deltas[key(a.MarketID, a.OutcomeID)] += filled
		} else {
			deltas[key(a.MarketID, a.OutcomeID)] -= filled
		}
	}

	switch {
	case full == len(opp.Actions):
		res.Status = domain.ExecSuccess
	case len(res.Trades) == 0:
		res.Status = domain.ExecCancelled
	default:
		res.Status = domain.ExecPartial
	}

	// A multi-leg opportunity that did not fill evenly leaves directional
	// exposure; unwind it immediately rather than carry it.
	if res.Status != domain.ExecSuccess && len(opp.Actions) > 1 && hasExposure(deltas) {
		hedge := b.flatten(deltas, markets)
		res.Hedge = &hedge
		for _, t := range hedge.Trades {
			res.RealizedPnL += t.RealizedPnL
		}
		if len(hedge.Residual) > 0 {
			res.Flags = appendFlag(res.Flags, domain.FlagResidualExposure)
		}
	}

	b.logger.Info("opportunity executed",
		slog.String("type", string(opp.Type)),
		slog.String("status", string(res.Status)),
		slog.Int("trades", len(res.Trades)),
		slog.Float64("realized_pnl", res.RealizedPnL))
	return res
}

// fill executes one action and returns the booked trade, the filled quantity,
// and the flag naming whichever constraint capped the fill: liquidity_starved
// when posted depth ran out, forbidden_action when venue policy shrank a
// sell-to-open. Empty when the action filled in full. Caller holds the lock.
func (b *Broker) fill(a domain.TradeAction, m domain.Market) (domain.Trade, float64, string) {
	eff := b.effectivePrice(a.LimitPrice, a.Side)
	if eff <= 0 {
		return domain.Trade{}, 0, ""
	}
	qty := math.Min(a.Amount, b.availableDepth(m, a.OutcomeID)/eff)
	var capped string
	if qty+fillEpsilon < a.Amount {
		capped = domain.FlagLiquidityStarved
	}

	k := key(a.MarketID, a.OutcomeID)
	pos := b.positions[k]
	if a.Side == domain.SideSell && !b.policies.Allows(m.Exchange).SupportsShorting {
		held := 0.0
		if pos != nil {
			held = pos.quantity
		}
		if held < qty {
			qty = held
			capped = domain.FlagForbiddenAction
		}
	}
	if qty <= fillEpsilon {
		return domain.Trade{}, 0, capped
	}

	notional := qty * eff
	fee := notional * b.params.FeeBps / 10_000
	slip := qty * math.Abs(eff-a.LimitPrice)

	trade := domain.Trade{
		ID:        b.newID(),
		Timestamp: b.now(),
		MarketID:  a.MarketID,
		OutcomeID: a.OutcomeID,
		Side:      a.Side,
		Amount:    qty,
		Price:     eff,
		Fees:      fee,
		Slippage:  slip,
	}

	if pos == nil {
		pos = &position{marketID: a.MarketID, outcomeID: a.OutcomeID, exchange: m.Exchange}
		b.positions[k] = pos
	}
	dq := qty
	if a.Side == domain.SideSell {
		dq = -qty
		b.cash += notional - fee
	} else {
		b.cash -= notional + fee
	}
	trade.RealizedPnL = pos.apply(dq, eff)
	if math.Abs(pos.quantity) <= fillEpsilon {
		delete(b.positions, k)
	}

	b.ledger = append(b.ledger, trade)
	return trade, qty, capped
}

// apply books a signed fill (buys positive) at the effective price eff,
// updating the average entry price and returning realized PnL on any closed
// quantity. A fill past flat flips the position; the flipped remainder opens
// at eff.
func (p *position) apply(dq, eff float64) float64 {
	q := p.quantity
	if q == 0 || (q > 0) == (dq > 0) {
		total := math.Abs(q) + math.Abs(dq)
		if total > fillEpsilon {
			p.avgCost = (p.avgCost*math.Abs(q) + eff*math.Abs(dq)) / total
		}
		p.quantity = q + dq
		return 0
	}
	closed := math.Min(math.Abs(q), math.Abs(dq))
	realized := closed * (eff - p.avgCost)
	if q < 0 {
		realized = closed * (p.avgCost - eff)
	}
	p.quantity = q + dq
	if math.Abs(dq) > math.Abs(q) {
		p.avgCost = eff // flipped remainder opens fresh at the fill price
	}
	return realized
}

// flatten issues compensating trades to close out the given exposure deltas.
// Residual quantities that could not clear are reported, not hidden.
func (b *Broker) flatten(deltas map[string]float64, markets map[string]domain.Market) domain.HedgeReport {
	report := domain.HedgeReport{Attempted: true, Residual: make(map[string]float64)}

	keys := make([]string, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		delta := deltas[k]
		if math.Abs(delta) <= fillEpsilon {
			continue
		}
		pos, ok := b.positions[k]
		if !ok {
			// Exposure already closed by an offsetting leg.
			continue
		}
		m, ok := markets[pos.marketID]
		if !ok {
			report.Residual[k] = delta
			continue
		}
		out, ok := m.OutcomeByID(pos.outcomeID)
		if !ok {
			report.Residual[k] = delta
			continue
		}
		side := domain.SideSell
		if delta < 0 {
			side = domain.SideBuy
		}
		action := domain.TradeAction{
			MarketID:   pos.marketID,
			OutcomeID:  pos.outcomeID,
			Side:       side,
			Amount:     math.Abs(delta),
			LimitPrice: out.Price,
		}
		trade, filled, _ := b.fill(action, m)
		if filled > fillEpsilon {
			report.Trades = append(report.Trades, trade)
		}
		if remaining := math.Abs(delta) - filled; remaining > fillEpsilon {
			report.Residual[k] = remaining
		}
	}
	if len(report.Residual) == 0 {
		report.Residual = nil
	}
	return report
}

// effectivePrice shifts the limit price against the trader by the configured
// slippage: up for buys, down for sells, clamped to [0,1].
func (b *Broker) effectivePrice(limit float64, side domain.Side) float64 {
	shift := limit * b.params.SlippageBps / 10_000
	if side == domain.SideBuy {
		return math.Min(limit+shift, 1)
	}
	return math.Max(limit-shift, 0)
}

// availableDepth is the fillable USD depth behind one outcome: the outcome's
// own posted liquidity when known, else an equal share of the market's,
// scaled by the depth fraction.
func (b *Broker) availableDepth(m domain.Market, outcomeID string) float64 {
	if out, ok := m.OutcomeByID(outcomeID); ok && out.Liquidity > 0 {
		return out.Liquidity * b.params.DepthFraction
	}
	if len(m.Outcomes) == 0 {
		return 0
	}
	return m.Liquidity * b.params.DepthFraction / float64(len(m.Outcomes))
}

// Cash returns the current cash balance.
func (b *Broker) Cash() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash
}

// Position returns the held quantity for one outcome. Satisfies the
// validator's PositionSource.
func (b *Broker) Position(marketID, outcomeID string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.positions[key(marketID, outcomeID)]; ok {
		return pos.quantity
	}
	return 0
}

// Positions returns a copy of the position book keyed by "marketID:outcomeID".
func (b *Broker) Positions() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.positions))
	for k, p := range b.positions {
		out[k] = p.quantity
	}
	return out
}

// OpenPositionCount is the number of distinct non-flat outcome positions.
func (b *Broker) OpenPositionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// Ledger returns a copy of the append-only trade log.
func (b *Broker) Ledger() []domain.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Trade, len(b.ledger))
	copy(out, b.ledger)
	return out
}

// Equity marks the book to the given outcome prices: cash plus the market
// value of every open position. Equity(marks) == Cash() + MarketValue(marks)
// at every observation.
func (b *Broker) Equity(marks map[string]float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cash + b.marketValueLocked(marks)
}

// MarketValue is the mark value of the open book: what every position would
// liquidate for at the given marks, before fees and slippage. Negative for a
// net short book.
func (b *Broker) MarketValue(marks map[string]float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.marketValueLocked(marks)
}

// Unknown outcomes fall back to cost basis so a missing quote never silently
// zeroes a holding.
func (b *Broker) marketValueLocked(marks map[string]float64) float64 {
	var value float64
	for _, p := range b.positions {
		price, ok := marks[p.outcomeID]
		if !ok {
			price = p.avgCost
		}
		value += p.quantity * price
	}
	return value
}

// Observe appends an equity-curve point at the given marks and updates the
// peak used by the kill switch.
func (b *Broker) Observe(marks map[string]float64) EquityPoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	pt := EquityPoint{Time: b.now(), Equity: b.cash + b.marketValueLocked(marks)}
	b.curve = append(b.curve, pt)
	if pt.Equity > b.peak {
		b.peak = pt.Equity
	}
	return pt
}

// PeakEquity is the highest equity ever observed.
func (b *Broker) PeakEquity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

// EquityCurve returns a copy of all equity observations.
func (b *Broker) EquityCurve() []EquityPoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]EquityPoint, len(b.curve))
	copy(out, b.curve)
	return out
}

func hasExposure(deltas map[string]float64) bool {
	for _, d := range deltas {
		if math.Abs(d) > fillEpsilon {
			return true
		}
	}
	return false
}

func appendFlag(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}
