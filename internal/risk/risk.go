// Package risk gates approved opportunities against portfolio limits. The
// manager is stateless across cycles; it judges each opportunity against the
// broker snapshot taken at the start of the cycle.
package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/oddslab/predarb/internal/domain"
)

// Rejection reasons. Closed set; the reporter groups on these strings.
const (
	ReasonNoEdge                = "no_edge"
	ReasonInsufficientLiquidity = "insufficient_liquidity"
	ReasonExceedsAllocation     = "exceeds_allocation"
	ReasonPositionLimit         = "position_limit"
	ReasonKillSwitch            = "kill_switch"
)

// Limits holds the tunable risk parameters. All are hot-swappable via the
// control plane between cycles.
type Limits struct {
	MinNetEdge             float64 // fractional edge floor
	MinLiquidityUSD        float64 // aggregate market liquidity floor
	MaxAllocationPerMarket float64 // fraction of current equity per opportunity
	MaxOpenPositions       int
	KillSwitchDrawdown     float64 // fractional drawdown from peak equity
}

// DefaultLimits mirrors the documented production defaults.
func DefaultLimits() Limits {
	return Limits{
		MinNetEdge:             0.01,
		MinLiquidityUSD:        1_000,
		MaxAllocationPerMarket: 0.05,
		MaxOpenPositions:       10,
		KillSwitchDrawdown:     0.10,
	}
}

// Validate rejects limit combinations that can never approve anything sane.
func (l Limits) Validate() error {
	if l.MaxAllocationPerMarket <= 0 || l.MaxAllocationPerMarket > 1 {
		return fmt.Errorf("risk: max allocation per market %v outside (0,1]", l.MaxAllocationPerMarket)
	}
	if l.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk: max open positions %d must be > 0", l.MaxOpenPositions)
	}
	if l.KillSwitchDrawdown <= 0 || l.KillSwitchDrawdown >= 1 {
		return fmt.Errorf("risk: kill switch drawdown %v outside (0,1)", l.KillSwitchDrawdown)
	}
	if l.MinLiquidityUSD < 0 {
		return fmt.Errorf("risk: min liquidity %v must be >= 0", l.MinLiquidityUSD)
	}
	return nil
}

// Snapshot is the broker state the manager judges against, captured once per
// cycle before any execution.
type Snapshot struct {
	Equity        float64
	PeakEquity    float64
	OpenPositions int
	Held          map[string]float64 // "marketID:outcomeID" -> quantity
}

// PositionKey builds the ledger key used by Snapshot.Held.
func PositionKey(marketID, outcomeID string) string {
	return marketID + ":" + outcomeID
}

// Manager applies the ordered limit checks.
type Manager struct {
	mu     sync.RWMutex
	limits Limits
	logger *slog.Logger
}

func NewManager(limits Limits, logger *slog.Logger) (*Manager, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Manager{limits: limits, logger: logger.With(slog.String("component", "risk"))}, nil
}

// Limits returns the active limit set.
func (m *Manager) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// SetLimits swaps the limit set; invalid limits are refused and the old set
// stays active.
func (m *Manager) SetLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	old := m.limits
	m.limits = l
	m.mu.Unlock()
	m.logger.Info("risk limits updated",
		slog.Float64("min_net_edge", l.MinNetEdge),
		slog.Float64("max_allocation", l.MaxAllocationPerMarket),
		slog.Int("max_open_positions", l.MaxOpenPositions),
		slog.Float64("prev_min_net_edge", old.MinNetEdge))
	return nil
}

// Approve runs the checks in a fixed order and short-circuits on the first
// failure. markets maps id -> snapshot for the opportunity's references.
func (m *Manager) Approve(opp domain.Opportunity, markets map[string]domain.Market, snap Snapshot) domain.RiskDecision {
	limits := m.Limits()

	if opp.NetEdge < limits.MinNetEdge {
		return m.rejected(opp, ReasonNoEdge)
	}

	var liquidity float64
	for _, id := range opp.MarketIDs {
		if mk, ok := markets[id]; ok {
			liquidity += mk.Liquidity
		}
	}
	if liquidity < limits.MinLiquidityUSD {
		return m.rejected(opp, ReasonInsufficientLiquidity)
	}

	if notional(opp) > limits.MaxAllocationPerMarket*snap.Equity {
		return m.rejected(opp, ReasonExceedsAllocation)
	}

	if snap.OpenPositions >= limits.MaxOpenPositions && !addsToOpenOnly(opp, snap) {
		return m.rejected(opp, ReasonPositionLimit)
	}

	if snap.PeakEquity > 0 {
		drawdown := (snap.PeakEquity - snap.Equity) / snap.PeakEquity
		if drawdown > limits.KillSwitchDrawdown && opensExposure(opp, snap) {
			return m.rejected(opp, ReasonKillSwitch)
		}
	}

	return domain.RiskDecision{Approved: true}
}

func (m *Manager) rejected(opp domain.Opportunity, reason string) domain.RiskDecision {
	m.logger.Debug("opportunity rejected",
		slog.String("type", string(opp.Type)),
		slog.String("reason", reason),
		slog.Float64("net_edge", opp.NetEdge))
	return domain.RiskDecision{Approved: false, Reason: reason}
}

// notional is the total capital the opportunity puts at risk: the sum of
// quantity times limit price across all legs.
func notional(opp domain.Opportunity) float64 {
	var total float64
	for _, a := range opp.Actions {
		total += a.Amount * a.LimitPrice
	}
	return total
}

// addsToOpenOnly reports whether every leg touches a position the portfolio
// already holds; such opportunities bypass the open-position count limit.
func addsToOpenOnly(opp domain.Opportunity, snap Snapshot) bool {
	for _, a := range opp.Actions {
		if snap.Held[PositionKey(a.MarketID, a.OutcomeID)] <= 0 {
			return false
		}
	}
	return len(opp.Actions) > 0
}

// opensExposure reports whether the opportunity would add net exposure. In
// flatten-only mode, SELLs against held positions remain permitted.
func opensExposure(opp domain.Opportunity, snap Snapshot) bool {
	for _, a := range opp.Actions {
		if a.Side == domain.SideBuy {
			return true
		}
		if snap.Held[PositionKey(a.MarketID, a.OutcomeID)] < a.Amount {
			return true
		}
	}
	return false
}
