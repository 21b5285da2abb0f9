package domain_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

func TestNewOutcome_PriceBounds(t *testing.T) {
	tests := []struct {
		name    string
		price   float64
		wantErr bool
	}{
		{"zero", 0.0, false},
		{"one", 1.0, false},
		{"mid", 0.45, false},
		{"negative", -0.1, true},
		{"above one", 1.5, true},
		{"nan", math.NaN(), true},
		{"pos inf", math.Inf(1), true},
		{"neg inf", math.Inf(-1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.NewOutcome("o1", "YES", tt.price, 100)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewOutcome(price=%v) error = %v, wantErr %v", tt.price, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidOutcome) {
				t.Errorf("error %v should wrap ErrInvalidOutcome", err)
			}
		})
	}
}

func TestNewOutcome_NegativeLiquidity(t *testing.T) {
	if _, err := domain.NewOutcome("o1", "YES", 0.5, -1); err == nil {
		t.Fatal("negative liquidity should be rejected")
	}
}

func TestNewOutcome_MissingIDOrLabel(t *testing.T) {
	if _, err := domain.NewOutcome("", "YES", 0.5, 0); err == nil {
		t.Error("empty id should be rejected")
	}
	if _, err := domain.NewOutcome("o1", "", 0.5, 0); err == nil {
		t.Error("empty label should be rejected")
	}
}

func TestNewMarket_RequiresOutcomes(t *testing.T) {
	_, err := domain.NewMarket(domain.MarketParams{ID: "poly:m1", Question: "Test?"})
	if !errors.Is(err, domain.ErrInvalidMarket) {
		t.Fatalf("market without outcomes: err = %v, want ErrInvalidMarket", err)
	}
}

func TestNewMarket_DuplicateOutcomeID(t *testing.T) {
	yes := mustOutcome(t, "o1", "YES", 0.5)
	dup := mustOutcome(t, "o1", "NO", 0.5)
	_, err := domain.NewMarket(domain.MarketParams{
		ID: "poly:m1", Question: "Test?", Outcomes: []domain.Outcome{yes, dup},
	})
	if err == nil {
		t.Fatal("duplicate outcome id should be rejected")
	}
}

func TestMarket_OutcomeSum(t *testing.T) {
	m := mustBinaryMarket(t, "poly:m1", 0.45, 0.45)
	if got := m.OutcomeSum(); math.Abs(got-0.90) > 1e-12 {
		t.Errorf("OutcomeSum() = %v, want 0.90", got)
	}
}

func TestMarket_YesNo(t *testing.T) {
	m := mustBinaryMarket(t, "poly:m1", 0.6, 0.4)
	yes, no, ok := m.YesNo()
	if !ok {
		t.Fatal("YesNo() should find labelled outcomes")
	}
	if yes.Price != 0.6 || no.Price != 0.4 {
		t.Errorf("YesNo() = %v/%v, want 0.6/0.4", yes.Price, no.Price)
	}

	only := mustOutcome(t, "o1", "Over 100", 0.3)
	m2, err := domain.NewMarket(domain.MarketParams{ID: "poly:m2", Question: "?", Outcomes: []domain.Outcome{only}})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, ok := m2.YesNo(); ok {
		t.Error("YesNo() should report false without YES/NO labels")
	}
}

func TestMarket_DaysToExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := now.Add(10 * 24 * time.Hour)
	m := mustBinaryMarket(t, "poly:m1", 0.5, 0.5)
	m.EndDate = &end
	days, ok := m.DaysToExpiry(now)
	if !ok || math.Abs(days-10) > 1e-9 {
		t.Errorf("DaysToExpiry() = %v,%v, want 10,true", days, ok)
	}
	m.EndDate = nil
	if _, ok := m.DaysToExpiry(now); ok {
		t.Error("missing end date should report false")
	}
}

func TestTradeAction_Validate(t *testing.T) {
	good := domain.TradeAction{MarketID: "m", OutcomeID: "o", Side: domain.SideBuy, Amount: 1, LimitPrice: 0.5}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid action rejected: %v", err)
	}
	bad := []domain.TradeAction{
		{MarketID: "m", OutcomeID: "o", Side: "HOLD", Amount: 1, LimitPrice: 0.5},
		{MarketID: "m", OutcomeID: "o", Side: domain.SideBuy, Amount: 0, LimitPrice: 0.5},
		{MarketID: "m", OutcomeID: "o", Side: domain.SideSell, Amount: 1, LimitPrice: 1.2},
	}
	for i, a := range bad {
		if err := a.Validate(); err == nil {
			t.Errorf("action %d should be rejected", i)
		}
	}
}

// --- helpers shared by domain tests ---

func mustOutcome(t *testing.T, id, label string, price float64) domain.Outcome {
	t.Helper()
	o, err := domain.NewOutcome(id, label, price, 10_000)
	if err != nil {
		t.Fatalf("NewOutcome(%s): %v", id, err)
	}
	return o
}

func mustBinaryMarket(t *testing.T, id string, yes, no float64) domain.Market {
	t.Helper()
	y := mustOutcome(t, id+":yes", "YES", yes)
	n := mustOutcome(t, id+":no", "NO", no)
	m, err := domain.NewMarket(domain.MarketParams{
		ID:        id,
		Question:  "Test market?",
		Outcomes:  []domain.Outcome{y, n},
		Liquidity: 20_000,
		Volume:    50_000,
		Exchange:  "polymarket",
	})
	if err != nil {
		t.Fatalf("NewMarket(%s): %v", id, err)
	}
	return m
}
