package provider

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// Scenario generates deterministic synthetic market sets. Every generator is
// seeded, so the same name and seed always produce bit-identical snapshots.
type Scenario struct {
	name string
	seed int64
	gen  func(r *rand.Rand, now time.Time) []domain.Market
	now  func() time.Time
}

var scenarios = map[string]func(r *rand.Rand, now time.Time) []domain.Market{
	"happy_path":      genHappyPath,
	"high_volume":     genHighVolume,
	"risk_rejections": genRiskRejections,
	"partial_fill":    genPartialFill,
	"cross_venue":     genCrossVenue,
	"ladder":          genLadder,
	"mixed":           genMixed,
}

// ScenarioNames lists the available generators, sorted.
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func NewScenario(name string, seed int64) (*Scenario, error) {
	gen, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("provider: unknown scenario %q (available: %v)", name, ScenarioNames())
	}
	if seed == 0 {
		seed = 42
	}
	return &Scenario{name: name, seed: seed, gen: gen, now: time.Now}, nil
}

func (s *Scenario) Name() string { return "scenario:" + s.name }

func (s *Scenario) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	r := rand.New(rand.NewSource(s.seed))
	return s.gen(r, s.now().UTC()), nil
}

func binary(id, question string, yes, no, liquidity, volume float64, exchange string, end time.Time) domain.Market {
	m, err := domain.NewMarket(domain.MarketParams{
		ID:       id,
		Question: question,
		Outcomes: []domain.Outcome{
			{ID: id + ":yes", Label: "Yes", Price: yes, Liquidity: liquidity / 2},
			{ID: id + ":no", Label: "No", Price: no, Liquidity: liquidity / 2},
		},
		EndDate:          &end,
		Liquidity:        liquidity,
		Volume:           volume,
		Tags:             []string{"yes/no"},
		ResolutionSource: "official source",
		Description:      "resolves per the official source",
		Exchange:         exchange,
	})
	if err != nil {
		panic(fmt.Sprintf("provider: scenario market %s: %v", id, err))
	}
	return m
}

// genHappyPath plants a handful of clean single-venue parity mispricings in
// otherwise fair markets.
func genHappyPath(r *rand.Rand, now time.Time) []domain.Market {
	end := now.Add(30 * 24 * time.Hour)
	var out []domain.Market
	for i := 0; i < 5; i++ {
		gross := 0.90 + r.Float64()*0.04
		id := fmt.Sprintf("happy_%02d", i)
		out = append(out, binary(id, fmt.Sprintf("Will planted event %d occur?", i),
			gross/2, gross/2, 40_000, 60_000, "polymarket", end))
	}
	for i := 0; i < 20; i++ {
		yes := 0.48 + r.Float64()*0.04
		id := fmt.Sprintf("fair_%02d", i)
		out = append(out, binary(id, fmt.Sprintf("Will background event %d occur?", i),
			yes, 1-yes, 30_000, 40_000, "polymarket", end))
	}
	return out
}

// genHighVolume produces a large snapshot with a thin seam of real
// opportunities, stressing filter throughput.
func genHighVolume(r *rand.Rand, now time.Time) []domain.Market {
	end := now.Add(30 * 24 * time.Hour)
	out := make([]domain.Market, 0, 1000)
	for i := 0; i < 990; i++ {
		yes := 0.48 + r.Float64()*0.04
		out = append(out, binary(fmt.Sprintf("norm_%04d", i),
			fmt.Sprintf("Will normal event %d occur?", i),
			yes, 1-yes, 10_000, 5_000, "polymarket", end))
	}
	for i := 0; i < 10; i++ {
		gross := 0.92 + r.Float64()*0.04 - 0.03
		out = append(out, binary(fmt.Sprintf("arb_%02d", i),
			fmt.Sprintf("Will arbitrage event %d occur?", i),
			gross/2, gross/2, 20_000, 15_000, "polymarket", end))
	}
	return out
}

// genRiskRejections produces detectable edges that the risk manager should
// refuse: sub-threshold edges and famine-thin books.
func genRiskRejections(r *rand.Rand, now time.Time) []domain.Market {
	end := now.Add(30 * 24 * time.Hour)
	var out []domain.Market
	for i := 0; i < 10; i++ {
		gross := 0.985 + r.Float64()*0.004 // edge below any sane threshold
		out = append(out, binary(fmt.Sprintf("thin_edge_%02d", i),
			fmt.Sprintf("Will marginal event %d occur?", i),
			gross/2, gross/2, 50_000, 80_000, "polymarket", end))
	}
	for i := 0; i < 5; i++ {
		out = append(out, binary(fmt.Sprintf("thin_book_%02d", i),
			fmt.Sprintf("Will illiquid event %d occur?", i),
			0.45, 0.45, 300, 200, "polymarket", end))
	}
	return out
}

// genPartialFill plants wide parity edges behind shallow books so every
// execution under-fills and exercises the hedge path.
func genPartialFill(r *rand.Rand, now time.Time) []domain.Market {
	end := now.Add(30 * 24 * time.Hour)
	var out []domain.Market
	for i := 0; i < 5; i++ {
		gross := 0.88 + r.Float64()*0.02
		out = append(out, binary(fmt.Sprintf("shallow_%02d", i),
			fmt.Sprintf("Will shallow-book event %d occur?", i),
			gross/2, gross/2, 1_500, 30_000, "polymarket", end))
	}
	return out
}

// genCrossVenue lists the same events on both venues with price gaps and
// complement mispricings.
func genCrossVenue(r *rand.Rand, now time.Time) []domain.Market {
	end := now.Add(30 * 24 * time.Hour)
	var out []domain.Market
	for i := 0; i < 4; i++ {
		q := fmt.Sprintf("Will cross-venue event %d settle yes?", i)
		base := 0.35 + r.Float64()*0.10
		gap := 0.08 + r.Float64()*0.06
		out = append(out,
			binary(fmt.Sprintf("poly:xv_%02d", i), q, base, 1-base-0.02, 30_000, 50_000, "polymarket", end),
			binary(fmt.Sprintf("kalshi:xv_%02d", i), q, base+gap, 1-base-gap, 25_000, 45_000, "kalshi", end),
		)
	}
	return out
}

// genLadder builds threshold families with one deliberate inversion each.
func genLadder(r *rand.Rand, now time.Time) []domain.Market {
	end := now.Add(60 * 24 * time.Hour)
	assets := []string{"BTC", "ETH"}
	var out []domain.Market
	for _, asset := range assets {
		base := 0.70 + r.Float64()*0.05
		thresholds := []float64{50_000, 60_000, 70_000}
		prices := []float64{base, base - 0.15, base - 0.05} // middle rung undercuts the top
		for i, thr := range thresholds {
			id := fmt.Sprintf("%s_gt_%d", asset, i)
			m := binary(id, fmt.Sprintf("Will %s close above $%.0f this year?", asset, thr),
				prices[i], 1-prices[i], 40_000, 60_000, "polymarket", end)
			cmp := domain.ComparatorGT
			t := thr
			m.Comparator = cmp
			m.Threshold = &t
			m.Asset = asset
			out = append(out, m)
		}
	}
	return out
}

// genMixed plants one instance of every detector trigger in a single
// snapshot: parity, ladder inversion, exclusive-sum deviation, cross-venue
// gap and complement, and a complementary-pair inconsistency.
func genMixed(r *rand.Rand, now time.Time) []domain.Market {
	end := now.Add(30 * 24 * time.Hour)
	out := []domain.Market{
		binary("mx_parity", "Will the parity event settle yes?",
			0.45, 0.45, 40_000, 60_000, "polymarket", end),
	}

	// Ladder inversion on one asset.
	for i, rung := range []struct {
		thr, yes float64
	}{{50_000, 0.55}, {60_000, 0.65}} {
		m := binary(fmt.Sprintf("mx_ladder_%d", i),
			fmt.Sprintf("Will BTC close above $%.0f this year?", rung.thr),
			rung.yes, 1-rung.yes, 40_000, 60_000, "polymarket", end)
		cmp := domain.ComparatorGT
		t := rung.thr
		m.Comparator = cmp
		m.Threshold = &t
		m.Asset = "BTC"
		out = append(out, m)
	}

	// Exclusive three-way race priced under 1.
	race, err := domain.NewMarket(domain.MarketParams{
		ID:       "mx_race",
		Question: "Who will win the three-way race?",
		Outcomes: []domain.Outcome{
			{ID: "mx_race:a", Label: "Alice", Price: 0.30, Liquidity: 10_000},
			{ID: "mx_race:b", Label: "Bob", Price: 0.30, Liquidity: 10_000},
			{ID: "mx_race:c", Label: "Carol", Price: 0.30, Liquidity: 10_000},
		},
		EndDate:          &end,
		Liquidity:        30_000,
		Volume:           80_000,
		ResolutionSource: "official source",
		Description:      "resolves per the official source",
		Exchange:         "polymarket",
	})
	if err != nil {
		panic(err)
	}
	out = append(out, race)

	// Same event on both venues with a gap.
	q := "Will the cross-venue event settle yes?"
	out = append(out,
		binary("poly:mx_xv", q, 0.40, 0.58, 30_000, 50_000, "polymarket", end),
		binary("kalshi:mx_xv", q, 0.52, 0.45, 25_000, 45_000, "kalshi", end),
	)

	// Complementary threshold pair priced over 1.
	for _, side := range []struct {
		id  string
		cmp domain.Comparator
		yes float64
	}{{"mx_above", domain.ComparatorGT, 0.60}, {"mx_below", domain.ComparatorLT, 0.55}} {
		m := binary(side.id, "Will ETH settle past $3,000?",
			side.yes, 1-side.yes, 35_000, 55_000, "polymarket", end)
		t := 3_000.0
		m.Comparator = side.cmp
		m.Threshold = &t
		m.Asset = "ETH"
		out = append(out, m)
	}

	return out
}
