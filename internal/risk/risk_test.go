package risk

import (
	"io"
	"log/slog"
	"testing"

	"github.com/oddslab/predarb/internal/domain"
)

func testManager(t *testing.T, limits Limits) *Manager {
	t.Helper()
	m, err := NewManager(limits, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func baseLimits() Limits {
	return Limits{
		MinNetEdge:             0.02,
		MinLiquidityUSD:        5_000,
		MaxAllocationPerMarket: 0.10,
		MaxOpenPositions:       3,
		KillSwitchDrawdown:     0.10,
	}
}

func buyOpp(edge, amount, price float64) domain.Opportunity {
	return domain.Opportunity{
		Type:      domain.OppParity,
		MarketIDs: []string{"m1"},
		NetEdge:   edge,
		Actions: []domain.TradeAction{
			{MarketID: "m1", OutcomeID: "m1:yes", Side: domain.SideBuy, Amount: amount, LimitPrice: price},
		},
	}
}

func marketLookup(liquidity float64) map[string]domain.Market {
	return map[string]domain.Market{
		"m1": {ID: "m1", Liquidity: liquidity},
	}
}

func healthySnapshot() Snapshot {
	return Snapshot{Equity: 10_000, PeakEquity: 10_000, OpenPositions: 0, Held: map[string]float64{}}
}

func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Limits)
		wantErr bool
	}{
		{"defaults pass", func(l *Limits) {}, false},
		{"zero allocation", func(l *Limits) { l.MaxAllocationPerMarket = 0 }, true},
		{"allocation above one", func(l *Limits) { l.MaxAllocationPerMarket = 1.5 }, true},
		{"zero positions", func(l *Limits) { l.MaxOpenPositions = 0 }, true},
		{"drawdown at one", func(l *Limits) { l.KillSwitchDrawdown = 1 }, true},
		{"negative liquidity", func(l *Limits) { l.MinLiquidityUSD = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLimits()
			tt.mutate(&l)
			if err := l.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApproveOrderedChecks(t *testing.T) {
	m := testManager(t, baseLimits())

	tests := []struct {
		name       string
		opp        domain.Opportunity
		markets    map[string]domain.Market
		snap       Snapshot
		wantReason string
	}{
		{
			name:       "approved",
			opp:        buyOpp(0.05, 100, 0.5),
			markets:    marketLookup(20_000),
			snap:       healthySnapshot(),
			wantReason: "",
		},
		{
			name:       "edge below threshold",
			opp:        buyOpp(0.01, 100, 0.5),
			markets:    marketLookup(20_000),
			snap:       healthySnapshot(),
			wantReason: ReasonNoEdge,
		},
		{
			name:       "thin market",
			opp:        buyOpp(0.05, 100, 0.5),
			markets:    marketLookup(1_000),
			snap:       healthySnapshot(),
			wantReason: ReasonInsufficientLiquidity,
		},
		{
			name:       "oversized notional",
			opp:        buyOpp(0.05, 5_000, 0.5), // 2,500 notional vs 1,000 cap
			markets:    marketLookup(20_000),
			snap:       healthySnapshot(),
			wantReason: ReasonExceedsAllocation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := m.Approve(tt.opp, tt.markets, tt.snap)
			if tt.wantReason == "" {
				if !dec.Approved {
					t.Fatalf("rejected: %s", dec.Reason)
				}
				return
			}
			if dec.Approved || dec.Reason != tt.wantReason {
				t.Fatalf("got %+v, want reason %s", dec, tt.wantReason)
			}
		})
	}
}

func TestApproveShortCircuitsInOrder(t *testing.T) {
	m := testManager(t, baseLimits())
	// Fails both edge and liquidity; the edge check runs first.
	dec := m.Approve(buyOpp(0.001, 100, 0.5), marketLookup(10), healthySnapshot())
	if dec.Reason != ReasonNoEdge {
		t.Fatalf("reason = %s, want %s", dec.Reason, ReasonNoEdge)
	}
}

func TestPositionLimitWithAddOnException(t *testing.T) {
	m := testManager(t, baseLimits())
	snap := healthySnapshot()
	snap.OpenPositions = 3 // at the cap

	dec := m.Approve(buyOpp(0.05, 100, 0.5), marketLookup(20_000), snap)
	if dec.Approved || dec.Reason != ReasonPositionLimit {
		t.Fatalf("got %+v, want position_limit", dec)
	}

	// Same opportunity, but the leg tops up an already-open position.
	snap.Held["m1:m1:yes"] = 50
	dec = m.Approve(buyOpp(0.05, 100, 0.5), marketLookup(20_000), snap)
	if !dec.Approved {
		t.Fatalf("add-on rejected: %s", dec.Reason)
	}
}

func TestKillSwitchAllowsFlattenOnly(t *testing.T) {
	m := testManager(t, baseLimits())
	snap := Snapshot{
		Equity:     8_500, // 15% drawdown from peak
		PeakEquity: 10_000,
		Held:       map[string]float64{"m1:m1:yes": 200},
	}

	// Any BUY is new exposure.
	dec := m.Approve(buyOpp(0.50, 10, 0.5), marketLookup(20_000), snap)
	if dec.Approved || dec.Reason != ReasonKillSwitch {
		t.Fatalf("got %+v, want kill_switch", dec)
	}

	// A SELL bounded by the held position flattens, which stays allowed.
	flatten := domain.Opportunity{
		Type:      domain.OppHedge,
		MarketIDs: []string{"m1"},
		NetEdge:   0.05,
		Actions: []domain.TradeAction{
			{MarketID: "m1", OutcomeID: "m1:yes", Side: domain.SideSell, Amount: 100, LimitPrice: 0.5},
		},
	}
	dec = m.Approve(flatten, marketLookup(20_000), snap)
	if !dec.Approved {
		t.Fatalf("flatten rejected: %s", dec.Reason)
	}

	// Selling more than held would open short exposure.
	over := flatten
	over.Actions = []domain.TradeAction{
		{MarketID: "m1", OutcomeID: "m1:yes", Side: domain.SideSell, Amount: 500, LimitPrice: 0.5},
	}
	dec = m.Approve(over, marketLookup(20_000), snap)
	if dec.Approved || dec.Reason != ReasonKillSwitch {
		t.Fatalf("got %+v, want kill_switch on oversized sell", dec)
	}
}

func TestSetLimitsRefusesInvalid(t *testing.T) {
	m := testManager(t, baseLimits())
	bad := baseLimits()
	bad.MaxOpenPositions = -1
	if err := m.SetLimits(bad); err == nil {
		t.Fatal("invalid limits accepted")
	}
	if m.Limits().MaxOpenPositions != 3 {
		t.Fatal("limits mutated despite rejection")
	}

	good := baseLimits()
	good.MinNetEdge = 0.05
	if err := m.SetLimits(good); err != nil {
		t.Fatalf("SetLimits: %v", err)
	}
	if m.Limits().MinNetEdge != 0.05 {
		t.Fatal("limits not applied")
	}
}
