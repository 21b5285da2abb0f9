package detector

import (
	"math"
	"testing"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func binaryMarket(t *testing.T, id, question string, yes, no float64, exchange string) domain.Market {
	t.Helper()
	y, err := domain.NewOutcome(id+":yes", "Yes", yes, 10_000)
	if err != nil {
		t.Fatalf("outcome: %v", err)
	}
	n, err := domain.NewOutcome(id+":no", "No", no, 10_000)
	if err != nil {
		t.Fatalf("outcome: %v", err)
	}
	end := testNow.Add(30 * 24 * time.Hour)
	m, err := domain.NewMarket(domain.MarketParams{
		ID:       id,
		Question: question,
		Outcomes: []domain.Outcome{y, n},
		EndDate:  &end,
		Liquidity: 50_000,
		Volume:    100_000,
		Exchange:  exchange,
	})
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	return m
}

func thresholdMarket(t *testing.T, id, asset string, cmp domain.Comparator, threshold, yes float64) domain.Market {
	t.Helper()
	m := binaryMarket(t, id, "threshold market", yes, 1-yes, "polymarket")
	m.Asset = asset
	m.Comparator = cmp
	m.Threshold = &threshold
	return m
}

func approx(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("got %v, want %v (tol %v)", got, want, tol)
	}
}

func TestSuiteNamesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, d := range Suite(DefaultConfig(), CostModel{}) {
		if seen[d.Name()] {
			t.Fatalf("duplicate detector name %q", d.Name())
		}
		seen[d.Name()] = true
	}
	if len(seen) != 6 {
		t.Fatalf("expected 6 detectors, got %d", len(seen))
	}
}

func TestParityDetectsUnderpricedPair(t *testing.T) {
	d := NewParity(DefaultConfig(), CostModel{})
	markets := []domain.Market{binaryMarket(t, "m1", "Will it rain?", 0.45, 0.45, "polymarket")}

	opps := d.Detect(markets)
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	opp := opps[0]
	if opp.Type != domain.OppParity {
		t.Fatalf("type = %s", opp.Type)
	}
	approx(t, opp.NetEdge, 0.10, 1e-9)
	if len(opp.Actions) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(opp.Actions))
	}
	for _, a := range opp.Actions {
		if a.Side != domain.SideBuy {
			t.Fatalf("parity legs must be BUY, got %s", a.Side)
		}
		if err := a.Validate(); err != nil {
			t.Fatalf("invalid action: %v", err)
		}
	}

	// Same input, same output: detection is pure.
	again := d.Detect(markets)
	if len(again) != 1 || again[0].NetEdge != opp.NetEdge {
		t.Fatal("repeated detection diverged")
	}
}

func TestParitySkipsFairAndDegenerateMarkets(t *testing.T) {
	d := NewParity(DefaultConfig(), CostModel{})

	fair := binaryMarket(t, "m1", "fair", 0.50, 0.50, "polymarket")
	if opps := d.Detect([]domain.Market{fair}); len(opps) != 0 {
		t.Fatalf("fair market triggered parity: %+v", opps)
	}

	// Single YES outcome, no NO pairing.
	y, _ := domain.NewOutcome("m2:yes", "Yes", 0.40, 1000)
	lone, err := domain.NewMarket(domain.MarketParams{ID: "m2", Question: "lone", Outcomes: []domain.Outcome{y}})
	if err != nil {
		t.Fatal(err)
	}
	if opps := d.Detect([]domain.Market{lone}); len(opps) != 0 {
		t.Fatal("degenerate market should be skipped")
	}
}

func TestParityEmitsNonpositiveEdgeAfterCosts(t *testing.T) {
	// Costs outweigh the raw 2% mispricing; the opportunity is still emitted
	// so downstream stages can observe and reject it.
	d := NewParity(DefaultConfig(), CostModel{FeeBps: 200, SlippageBps: 200})
	markets := []domain.Market{binaryMarket(t, "m1", "thin edge", 0.49, 0.49, "polymarket")}

	opps := d.Detect(markets)
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	if opps[0].NetEdge > 0 {
		t.Fatalf("expected non-positive net edge, got %v", opps[0].NetEdge)
	}
}

func TestLadderFlagsInvertedRungs(t *testing.T) {
	d := NewLadder(DefaultConfig(), CostModel{})
	markets := []domain.Market{
		thresholdMarket(t, "m50", "btc", domain.ComparatorGT, 50_000, 0.60),
		thresholdMarket(t, "m60", "btc", domain.ComparatorGT, 60_000, 0.70),
	}

	opps := d.Detect(markets)
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	opp := opps[0]
	if opp.Type != domain.OppLadder {
		t.Fatalf("type = %s", opp.Type)
	}
	approx(t, opp.NetEdge, 0.10, 1e-9)
	if opp.Actions[0].MarketID != "m50" || opp.Actions[0].Side != domain.SideBuy {
		t.Fatalf("expected BUY on lower rung, got %+v", opp.Actions[0])
	}
	if opp.Actions[1].MarketID != "m60" || opp.Actions[1].Side != domain.SideSell {
		t.Fatalf("expected SELL on higher rung, got %+v", opp.Actions[1])
	}
}

func TestLadderEqualPricesAreNotViolations(t *testing.T) {
	d := NewLadder(DefaultConfig(), CostModel{})
	markets := []domain.Market{
		thresholdMarket(t, "m50", "btc", domain.ComparatorGT, 50_000, 0.60),
		thresholdMarket(t, "m60", "btc", domain.ComparatorGT, 60_000, 0.60),
	}
	if opps := d.Detect(markets); len(opps) != 0 {
		t.Fatalf("equal rung prices flagged: %+v", opps)
	}
}

func TestLadderRespectsComparatorDirection(t *testing.T) {
	d := NewLadder(DefaultConfig(), CostModel{})

	// Properly ordered ">" ladder: price falls with the threshold.
	ordered := []domain.Market{
		thresholdMarket(t, "m50", "btc", domain.ComparatorGT, 50_000, 0.70),
		thresholdMarket(t, "m60", "btc", domain.ComparatorGT, 60_000, 0.55),
	}
	if opps := d.Detect(ordered); len(opps) != 0 {
		t.Fatalf("monotone ladder flagged: %+v", opps)
	}

	// "<" ladder: P(x < 50k) must not exceed P(x < 60k).
	inverted := []domain.Market{
		thresholdMarket(t, "m50", "eth", domain.ComparatorLT, 50_000, 0.65),
		thresholdMarket(t, "m60", "eth", domain.ComparatorLT, 60_000, 0.50),
	}
	opps := d.Detect(inverted)
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	if opps[0].Actions[0].MarketID != "m60" || opps[0].Actions[0].Side != domain.SideBuy {
		t.Fatalf("expected BUY on the dominant rung, got %+v", opps[0].Actions[0])
	}
}

func TestLadderExtractsThresholdFromQuestion(t *testing.T) {
	d := NewLadder(DefaultConfig(), CostModel{})
	m1 := binaryMarket(t, "m1", "Will BTC close above $50,000 this year?", 0.60, 0.40, "polymarket")
	m2 := binaryMarket(t, "m2", "Will BTC close above $60,000 this year?", 0.70, 0.30, "polymarket")

	opps := d.Detect([]domain.Market{m1, m2})
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity from text extraction, got %d", len(opps))
	}
}

func TestExclusiveSumDirectionAndSizing(t *testing.T) {
	mk := func(id string, prices ...float64) domain.Market {
		outs := make([]domain.Outcome, len(prices))
		for i, p := range prices {
			o, err := domain.NewOutcome(id+":"+string(rune('a'+i)), "Candidate "+string(rune('A'+i)), p, 5000)
			if err != nil {
				t.Fatal(err)
			}
			outs[i] = o
		}
		m, err := domain.NewMarket(domain.MarketParams{ID: id, Question: "who wins?", Outcomes: outs, Liquidity: 20_000})
		if err != nil {
			t.Fatal(err)
		}
		return m
	}

	d := NewExclusiveSum(DefaultConfig(), CostModel{})

	tests := []struct {
		name     string
		market   domain.Market
		wantOpps int
		wantSide domain.Side
		wantEdge float64
	}{
		{"underpriced basket", mk("m1", 0.30, 0.30, 0.30), 1, domain.SideBuy, 0.10},
		{"overpriced basket", mk("m2", 0.40, 0.38, 0.30), 1, domain.SideSell, 0.08},
		{"within tolerance", mk("m3", 0.34, 0.33, 0.32), 0, "", 0},
		{"binary market ignored", mk("m4", 0.30, 0.30), 0, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opps := d.Detect([]domain.Market{tt.market})
			if len(opps) != tt.wantOpps {
				t.Fatalf("got %d opportunities, want %d", len(opps), tt.wantOpps)
			}
			if tt.wantOpps == 0 {
				return
			}
			opp := opps[0]
			approx(t, opp.NetEdge, tt.wantEdge, 1e-9)
			if len(opp.Actions) != len(tt.market.Outcomes) {
				t.Fatalf("want one leg per outcome, got %d", len(opp.Actions))
			}
			for _, a := range opp.Actions {
				if a.Side != tt.wantSide {
					t.Fatalf("side = %s, want %s", a.Side, tt.wantSide)
				}
				approx(t, a.Amount, 1/float64(len(tt.market.Outcomes)), 1e-12)
			}
		})
	}
}

func TestCrossVenueParityGap(t *testing.T) {
	d := NewCrossVenue(DefaultConfig(), CostModel{})
	poly := binaryMarket(t, "poly:rate-cut", "Will the Fed cut rates in June?", 0.40, 0.60, "polymarket")
	kalshi := binaryMarket(t, "kalshi:rate-cut", "Will the Fed cut rates in June?", 0.55, 0.45, "kalshi")

	opps := d.Detect([]domain.Market{poly, kalshi})
	var gap *domain.Opportunity
	for i := range opps {
		if opps[i].Type == domain.OppCrossVenueParity {
			gap = &opps[i]
		}
	}
	if gap == nil {
		t.Fatalf("no cross-venue parity opportunity in %+v", opps)
	}
	approx(t, gap.NetEdge, 0.15, 1e-9)
	if gap.Actions[0].MarketID != "poly:rate-cut" || gap.Actions[0].Side != domain.SideBuy {
		t.Fatalf("expected BUY on the cheap venue, got %+v", gap.Actions[0])
	}
	if gap.Actions[1].MarketID != "kalshi:rate-cut" || gap.Actions[1].Side != domain.SideSell {
		t.Fatalf("expected SELL on the rich venue, got %+v", gap.Actions[1])
	}
}

func TestCrossVenueComplementBasket(t *testing.T) {
	d := NewCrossVenue(DefaultConfig(), CostModel{})
	poly := binaryMarket(t, "poly:shutdown", "Will the government shut down in Q3?", 0.40, 0.62, "polymarket")
	kalshi := binaryMarket(t, "kalshi:shutdown", "Will the government shut down in Q3?", 0.52, 0.45, "kalshi")

	opps := d.Detect([]domain.Market{poly, kalshi})
	var comp *domain.Opportunity
	for i := range opps {
		if opps[i].Type == domain.OppCrossVenueComplement {
			comp = &opps[i]
		}
	}
	if comp == nil {
		t.Fatalf("no complement opportunity in %+v", opps)
	}
	// YES 0.40 on polymarket + NO 0.45 on kalshi = 0.85.
	approx(t, comp.NetEdge, 0.15, 1e-9)
	for _, a := range comp.Actions {
		if a.Side != domain.SideBuy {
			t.Fatalf("complement legs must be BUY, got %s", a.Side)
		}
	}
}

func TestCrossVenueIgnoresSameVenueAndUnrelatedQuestions(t *testing.T) {
	d := NewCrossVenue(DefaultConfig(), CostModel{})

	sameVenue := []domain.Market{
		binaryMarket(t, "m1", "Will the Fed cut rates in June?", 0.40, 0.60, "polymarket"),
		binaryMarket(t, "m2", "Will the Fed cut rates in June?", 0.55, 0.45, "polymarket"),
	}
	if opps := d.Detect(sameVenue); len(opps) != 0 {
		t.Fatalf("same-venue pair matched: %+v", opps)
	}

	unrelated := []domain.Market{
		binaryMarket(t, "m1", "Will the Fed cut rates in June?", 0.40, 0.60, "polymarket"),
		binaryMarket(t, "m2", "Will ETH flip BTC by 2030?", 0.55, 0.45, "kalshi"),
	}
	if opps := d.Detect(unrelated); len(opps) != 0 {
		t.Fatalf("unrelated pair matched: %+v", opps)
	}
}

func TestTimeLagRequiresPersistenceAndJump(t *testing.T) {
	cfg := DefaultConfig()
	d := NewTimeLag(cfg, CostModel{})
	clock := testNow
	d.now = func() time.Time { return clock }

	m := binaryMarket(t, "m1", "Will SOL hit $500?", 0.30, 0.70, "polymarket")

	// First sight only records history.
	if opps := d.Detect([]domain.Market{m}); len(opps) != 0 {
		t.Fatal("first observation should never trigger")
	}

	// A jump before the persistence window is noise.
	clock = clock.Add(time.Minute)
	moved := binaryMarket(t, "m1", "Will SOL hit $500?", 0.42, 0.58, "polymarket")
	if opps := d.Detect([]domain.Market{moved}); len(opps) != 0 {
		t.Fatal("jump inside persistence window should not trigger")
	}

	// The 0.42 quote has now stood for 6 minutes; a fresh jump triggers.
	clock = clock.Add(6 * time.Minute)
	jumped := binaryMarket(t, "m1", "Will SOL hit $500?", 0.55, 0.45, "polymarket")
	opps := d.Detect([]domain.Market{jumped})
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	opp := opps[0]
	if opp.Type != domain.OppTimeLag {
		t.Fatalf("type = %s", opp.Type)
	}
	approx(t, opp.NetEdge, 0.13, 1e-9)
	if opp.Actions[0].Side != domain.SideBuy {
		t.Fatalf("upward jump should BUY, got %s", opp.Actions[0].Side)
	}

	// Small drift after persistence still does not trigger.
	clock = clock.Add(6 * time.Minute)
	drift := binaryMarket(t, "m1", "Will SOL hit $500?", 0.56, 0.44, "polymarket")
	if opps := d.Detect([]domain.Market{drift}); len(opps) != 0 {
		t.Fatal("sub-threshold drift triggered")
	}

	d.Reset()
	clock = clock.Add(10 * time.Minute)
	if opps := d.Detect([]domain.Market{jumped}); len(opps) != 0 {
		t.Fatal("history should be empty after Reset")
	}
}

func TestConsistencyComplementaryPair(t *testing.T) {
	d := NewConsistency(DefaultConfig(), CostModel{})
	above := thresholdMarket(t, "m-above", "btc", domain.ComparatorGT, 50_000, 0.60)
	below := thresholdMarket(t, "m-below", "btc", domain.ComparatorLT, 50_000, 0.55)

	opps := d.Detect([]domain.Market{above, below})
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	opp := opps[0]
	if opp.Type != domain.OppConsistency {
		t.Fatalf("type = %s", opp.Type)
	}
	// Sum 1.15: both legs overpriced, sell the pair.
	approx(t, opp.NetEdge, 0.15, 1e-9)
	for _, a := range opp.Actions {
		if a.Side != domain.SideSell {
			t.Fatalf("overpriced pair should SELL, got %s", a.Side)
		}
	}
}

func TestConsistencyNestedEvents(t *testing.T) {
	d := NewConsistency(DefaultConfig(), CostModel{})
	strong := binaryMarket(t, "m-champ", "Will MIA win the championship?", 0.40, 0.60, "polymarket")
	weak := binaryMarket(t, "m-final", "Will MIA reach the final?", 0.30, 0.70, "polymarket")

	opps := d.Detect([]domain.Market{strong, weak})
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	opp := opps[0]
	approx(t, opp.NetEdge, 0.10, 1e-9)
	if opp.Actions[0].MarketID != "m-champ" || opp.Actions[0].Side != domain.SideSell {
		t.Fatalf("expected SELL on the implying market, got %+v", opp.Actions[0])
	}
	if opp.Actions[1].MarketID != "m-final" || opp.Actions[1].Side != domain.SideBuy {
		t.Fatalf("expected BUY on the implied market, got %+v", opp.Actions[1])
	}

	// Correctly ordered prices are consistent.
	ok := []domain.Market{
		binaryMarket(t, "m-champ", "Will MIA win the championship?", 0.25, 0.75, "polymarket"),
		binaryMarket(t, "m-final", "Will MIA reach the final?", 0.45, 0.55, "polymarket"),
	}
	if opps := d.Detect(ok); len(opps) != 0 {
		t.Fatalf("consistent prices flagged: %+v", opps)
	}
}

func TestCostModelRate(t *testing.T) {
	c := CostModel{FeeBps: 60, SlippageBps: 40}
	approx(t, c.Rate(), 0.01, 1e-12)
	approx(t, c.Cost(250), 2.5, 1e-9)
}
