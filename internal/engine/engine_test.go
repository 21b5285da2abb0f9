package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oddslab/predarb/internal/broker"
	"github.com/oddslab/predarb/internal/detector"
	"github.com/oddslab/predarb/internal/domain"
	"github.com/oddslab/predarb/internal/filter"
	"github.com/oddslab/predarb/internal/report"
	"github.com/oddslab/predarb/internal/risk"
	"github.com/oddslab/predarb/internal/validator"
)

var testPolicies = domain.VenuePolicies{
	"kalshi":     {Name: "kalshi", SupportsShorting: true},
	"polymarket": {Name: "polymarket", SupportsShorting: false},
}

type stubProvider struct {
	markets []domain.Market
	err     error
}

func (s stubProvider) Name() string { return "stub" }
func (s stubProvider) FetchMarkets(context.Context) ([]domain.Market, error) {
	return s.markets, s.err
}

type panicDetector struct{}

func (panicDetector) Name() string                              { return "panics" }
func (panicDetector) Detect([]domain.Market) []domain.Opportunity { panic("boom") }

type countingNotifier struct {
	calls    int
	allCalls int
}

func (n *countingNotifier) Notify(context.Context, string, string, string) error {
	n.calls++
	return nil
}

func (n *countingNotifier) NotifyAll(context.Context, string, string) error {
	n.allCalls++
	return nil
}

// stubQuotes serves canned live quotes; IDs without one are omitted, like the
// redis cache after TTL expiry.
type stubQuotes struct{ prices map[string]float64 }

func (s stubQuotes) SetQuote(context.Context, string, float64, time.Time) error { return nil }
func (s stubQuotes) GetQuote(context.Context, string) (float64, time.Time, error) {
	return 0, time.Time{}, domain.ErrNotFound
}
func (s stubQuotes) GetQuotes(_ context.Context, ids []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, id := range ids {
		if p, ok := s.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type failingQuotes struct{ stubQuotes }

func (failingQuotes) GetQuotes(context.Context, []string) (map[string]float64, error) {
	return nil, errors.New("cache down")
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// parityMarket passes every default filter gate and triggers the parity
// detector: YES + NO = 0.90.
func parityMarket(t *testing.T) domain.Market {
	t.Helper()
	yes, err := domain.NewOutcome("pm1:yes", "Yes", 0.45, 1000)
	if err != nil {
		t.Fatal(err)
	}
	no, err := domain.NewOutcome("pm1:no", "No", 0.45, 1000)
	if err != nil {
		t.Fatal(err)
	}
	m, err := domain.NewMarket(domain.MarketParams{
		ID:          "pm1",
		Question:    "Will it happen?",
		Outcomes:    []domain.Outcome{yes, no},
		Liquidity:   50_000,
		Volume:      20_000,
		Description: "resolves via the official data source",
		Exchange:    "polymarket",
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

type engineOpts struct {
	provider  domain.MarketProvider
	detectors []detector.Detector
	notifier  Notifier
	quotes    domain.QuoteCache
	twoVenue  bool
	buffer    int
}

func testEngine(t *testing.T, o engineOpts) *Engine {
	t.Helper()
	f, err := filter.New(filter.DefaultSettings())
	if err != nil {
		t.Fatal(err)
	}
	rm, err := risk.NewManager(risk.DefaultLimits(), quiet())
	if err != nil {
		t.Fatal(err)
	}
	bk, err := broker.New(10_000, broker.DefaultParams(), testPolicies, quiet())
	if err != nil {
		t.Fatal(err)
	}
	rep, err := report.NewReporter(t.TempDir(), quiet())
	if err != nil {
		t.Fatal(err)
	}
	if o.detectors == nil {
		o.detectors = []detector.Detector{detector.NewParity(detector.DefaultConfig(), detector.CostModel{})}
	}
	eng, err := New(Options{
		Provider:      o.provider,
		Filter:        f,
		Detectors:     o.detectors,
		Validator:     validator.New(testPolicies, 1000, quiet()),
		Risk:          rm,
		Broker:        bk,
		Reporter:      rep,
		Notifier:      o.notifier,
		Quotes:        o.quotes,
		Logger:        quiet(),
		TwoVenue:      o.twoVenue,
		CommandBuffer: o.buffer,
	})
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestRunCycleExecutesParityOpportunity(t *testing.T) {
	notifier := &countingNotifier{}
	eng := testEngine(t, engineOpts{
		provider: stubProvider{markets: []domain.Market{parityMarket(t)}},
		notifier: notifier,
	})

	res, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Iteration != 1 || res.Markets != 1 || res.Eligible != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if res.Detected != 1 || res.Approved != 1 || res.Executed != 1 {
		t.Fatalf("pipeline counts: %+v", res)
	}
	if got := len(eng.broker.Ledger()); got != 2 {
		t.Fatalf("ledger trades = %d, want 2 (one per parity leg)", got)
	}
	if got := len(eng.reporter.Executions()); got != 1 {
		t.Fatalf("reported executions = %d, want 1", got)
	}
	if got := len(eng.broker.EquityCurve()); got != 1 {
		t.Fatalf("equity observations = %d, want 1", got)
	}
	if notifier.calls != 1 {
		t.Fatalf("notifier calls = %d, want 1", notifier.calls)
	}
}

func TestPauseAndResume(t *testing.T) {
	eng := testEngine(t, engineOpts{provider: stubProvider{markets: []domain.Market{parityMarket(t)}}})

	if err := eng.Enqueue(Command{Kind: CmdPause}); err != nil {
		t.Fatal(err)
	}
	res, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || res.Iteration != 0 {
		t.Fatalf("paused cycle should be skipped without consuming an iteration: %+v", res)
	}

	if err := eng.Enqueue(Command{Kind: CmdResume}); err != nil {
		t.Fatal(err)
	}
	res, err = eng.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped || res.Iteration != 1 || res.Executed != 1 {
		t.Fatalf("resumed cycle should run: %+v", res)
	}
}

func TestFreezeDetectsWithoutExecuting(t *testing.T) {
	eng := testEngine(t, engineOpts{provider: stubProvider{markets: []domain.Market{parityMarket(t)}}})

	if err := eng.Enqueue(Command{Kind: CmdFreeze}); err != nil {
		t.Fatal(err)
	}
	res, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Detected != 1 || res.Approved != 1 {
		t.Fatalf("frozen cycle should still detect and approve: %+v", res)
	}
	if res.Executed != 0 || len(eng.broker.Ledger()) != 0 {
		t.Fatalf("frozen cycle must not execute: %+v", res)
	}

	if err := eng.Enqueue(Command{Kind: CmdResume}); err != nil {
		t.Fatal(err)
	}
	res, err = eng.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Executed != 1 {
		t.Fatalf("resume should lift the freeze: %+v", res)
	}
}

func TestSetRiskLimitAppliesBetweenCycles(t *testing.T) {
	eng := testEngine(t, engineOpts{provider: stubProvider{markets: []domain.Market{parityMarket(t)}}})

	limits := risk.DefaultLimits()
	limits.MinNetEdge = 0.50 // parity edge here is ~0.10
	if err := eng.Enqueue(Command{Kind: CmdSetRiskLimit, Limits: limits}); err != nil {
		t.Fatal(err)
	}
	res, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Detected != 1 || res.Approved != 0 || res.Executed != 0 {
		t.Fatalf("raised edge floor should reject the opportunity: %+v", res)
	}
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	eng := testEngine(t, engineOpts{provider: stubProvider{}, buffer: 1})

	if err := eng.Enqueue(Command{Kind: CmdPause}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	err := eng.Enqueue(Command{Kind: CmdResume})
	if !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestDetectorPanicIsIsolated(t *testing.T) {
	eng := testEngine(t, engineOpts{
		provider: stubProvider{markets: []domain.Market{parityMarket(t)}},
		detectors: []detector.Detector{
			panicDetector{},
			detector.NewParity(detector.DefaultConfig(), detector.CostModel{}),
		},
	})

	res, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Detected != 1 || res.Executed != 1 {
		t.Fatalf("surviving detector should still run: %+v", res)
	}
}

func TestTwoVenueModeGatesSingleVenueOpportunities(t *testing.T) {
	eng := testEngine(t, engineOpts{
		provider: stubProvider{markets: []domain.Market{parityMarket(t)}},
		twoVenue: true,
	})

	res, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Detected != 1 {
		t.Fatalf("detection should be unaffected: %+v", res)
	}
	if res.Validated != 0 || res.Executed != 0 {
		t.Fatalf("single-venue parity must not pass the two-venue validator: %+v", res)
	}
}

func TestCachedQuotesOverrideSnapshotMarks(t *testing.T) {
	eng := testEngine(t, engineOpts{
		provider: stubProvider{markets: []domain.Market{parityMarket(t)}},
		quotes:   stubQuotes{prices: map[string]float64{"pm1:yes": 0.61}},
	})

	marks := eng.markPrices(context.Background(), []domain.Market{parityMarket(t)})
	if marks["pm1:yes"] != 0.61 {
		t.Fatalf("pm1:yes mark = %v, want cached 0.61", marks["pm1:yes"])
	}
	if marks["pm1:no"] != 0.45 {
		t.Fatalf("pm1:no mark = %v, want snapshot 0.45", marks["pm1:no"])
	}
}

func TestQuoteCacheFailureFallsBackToSnapshot(t *testing.T) {
	eng := testEngine(t, engineOpts{
		provider: stubProvider{markets: []domain.Market{parityMarket(t)}},
		quotes:   failingQuotes{},
	})

	marks := eng.markPrices(context.Background(), []domain.Market{parityMarket(t)})
	if marks["pm1:yes"] != 0.45 {
		t.Fatalf("pm1:yes mark = %v, want snapshot 0.45", marks["pm1:yes"])
	}

	// The cycle itself must survive the broken cache.
	if _, err := eng.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
}

func TestKillSwitchTripBroadcastsOnce(t *testing.T) {
	notifier := &countingNotifier{}
	m := parityMarket(t)
	eng := testEngine(t, engineOpts{
		provider: stubProvider{markets: []domain.Market{m}},
		notifier: notifier,
	})

	limits := risk.DefaultLimits()
	limits.KillSwitchDrawdown = 0.005
	if err := eng.risk.SetLimits(limits); err != nil {
		t.Fatal(err)
	}

	// Open a position directly and record a peak at a high mark; the cycle's
	// snapshot prices then put the book past the drawdown gate.
	index := map[string]domain.Market{m.ID: m}
	held := domain.Opportunity{
		Type:      domain.OppParity,
		MarketIDs: []string{m.ID},
		Actions: []domain.TradeAction{
			{MarketID: m.ID, OutcomeID: "pm1:yes", Side: domain.SideBuy, Amount: 200, LimitPrice: 0.45},
		},
	}
	if res := eng.broker.Execute(held, index); res.Status != domain.ExecSuccess {
		t.Fatalf("setup fill: %+v", res)
	}
	eng.broker.Observe(map[string]float64{"pm1:yes": 1.0})

	for i := 0; i < 2; i++ {
		res, err := eng.RunCycle(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if res.Approved != 0 || res.Executed != 0 {
			t.Fatalf("cycle %d approved past a tripped kill switch: %+v", i+1, res)
		}
	}
	if notifier.allCalls != 1 {
		t.Fatalf("broadcasts = %d, want exactly 1 while latched", notifier.allCalls)
	}

	// Resume acknowledges the trip; the still-breached gate alerts again.
	if err := eng.Enqueue(Command{Kind: CmdResume}); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if notifier.allCalls != 2 {
		t.Fatalf("broadcasts after resume = %d, want 2", notifier.allCalls)
	}
}

func TestProviderFailureYieldsEmptyCycle(t *testing.T) {
	eng := testEngine(t, engineOpts{provider: stubProvider{err: errors.New("venue down")}})

	res, err := eng.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("provider failure must not fail the cycle: %v", err)
	}
	if res.Markets != 0 || res.Detected != 0 || res.Executed != 0 {
		t.Fatalf("expected empty cycle: %+v", res)
	}
}
