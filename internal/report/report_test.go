package report

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

func testReporter(t *testing.T) *Reporter {
	t.Helper()
	r, err := NewReporter(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewReporter: %v", err)
	}
	return r
}

func sampleOpportunity() domain.Opportunity {
	return domain.Opportunity{
		Type:      domain.OppCrossVenueParity,
		MarketIDs: []string{"poly:m1", "kalshi:m1"},
		NetEdge:   0.08,
		Actions: []domain.TradeAction{
			{MarketID: "poly:m1", OutcomeID: "poly:m1:yes", Side: domain.SideBuy, Amount: 10, LimitPrice: 0.40},
			{MarketID: "kalshi:m1", OutcomeID: "kalshi:m1:yes", Side: domain.SideSell, Amount: 10, LimitPrice: 0.55},
		},
	}
}

func TestTraceIDIsDeterministicAndOrderIndependent(t *testing.T) {
	opp := sampleOpportunity()

	a := TraceID(opp, "cross_venue")
	b := TraceID(opp, "cross_venue")
	if a != b {
		t.Fatalf("same input hashed differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("trace id length = %d", len(a))
	}

	// Market-ID order must not matter.
	shuffled := opp
	shuffled.MarketIDs = []string{"kalshi:m1", "poly:m1"}
	if TraceID(shuffled, "cross_venue") != a {
		t.Fatal("market id order changed the trace id")
	}

	// A different detector or action set must.
	if TraceID(opp, "parity") == a {
		t.Fatal("detector not part of the hash")
	}
	altered := opp
	altered.Actions = opp.Actions[:1]
	if TraceID(altered, "cross_venue") == a {
		t.Fatal("actions not part of the hash")
	}
}

func TestHashIDsIgnoresOrderAndDuplicates(t *testing.T) {
	a := HashIDs([]string{"m1", "m2", "m3"})
	b := HashIDs([]string{"m3", "m1", "m2", "m1"})
	if a != b {
		t.Fatal("hash depends on order or duplicates")
	}
	if a == HashIDs([]string{"m1", "m2"}) {
		t.Fatal("different sets collided")
	}
}

func TestReportIterationSkipsUnchangedState(t *testing.T) {
	r := testReporter(t)
	markets := []domain.Market{{ID: "m1"}, {ID: "m2"}}
	detected := []domain.Opportunity{sampleOpportunity()}

	added, err := r.ReportIteration(1, markets, detected, detected)
	if err != nil || !added {
		t.Fatalf("first iteration: added=%v err=%v", added, err)
	}

	// Identical state: no new record.
	added, err = r.ReportIteration(2, markets, detected, detected)
	if err != nil || added {
		t.Fatalf("unchanged iteration recorded: added=%v err=%v", added, err)
	}

	// Market set changed: recorded with deltas.
	added, err = r.ReportIteration(3, markets[:1], detected, nil)
	if err != nil || !added {
		t.Fatalf("changed iteration skipped: added=%v err=%v", added, err)
	}

	recs := r.Iterations()
	if len(recs) != 2 {
		t.Fatalf("iterations = %d, want 2", len(recs))
	}
	if recs[1].Markets.Count != 1 || recs[1].Markets.Delta != -1 {
		t.Fatalf("markets counter = %+v", recs[1].Markets)
	}
	if recs[1].OpportunitiesApproved.Delta != -1 {
		t.Fatalf("approved delta = %d", recs[1].OpportunitiesApproved.Delta)
	}
	if recs[0].ApprovalRatePct == nil || *recs[0].ApprovalRatePct != 100 {
		t.Fatalf("approval rate = %v", recs[0].ApprovalRatePct)
	}
}

func TestLogExecutionPersistsAtomically(t *testing.T) {
	r := testReporter(t)
	opp := sampleOpportunity()
	rec := domain.ExecutionRecord{
		Opportunity:  opp,
		Detector:     "cross_venue",
		PricesBefore: map[string]float64{"poly:m1:yes": 0.40},
		Intended:     opp.Actions,
		Risk:         domain.RiskDecision{Approved: true},
		Executions: []domain.Trade{{
			ID: "t-1", Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			MarketID: "poly:m1", OutcomeID: "poly:m1:yes",
			Side: domain.SideBuy, Amount: 10, Price: 0.402, Fees: 0.02,
		}},
		Status:    domain.ExecSuccess,
		LatencyMS: 3,
	}

	traceID, err := r.LogExecution(rec)
	if err != nil {
		t.Fatalf("LogExecution: %v", err)
	}
	if traceID != TraceID(opp, "cross_venue") {
		t.Fatal("trace id not derived from the opportunity")
	}

	// The file on disk must be complete, parseable JSON.
	raw, err := os.ReadFile(r.Path())
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var onDisk map[string]json.RawMessage
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("report not valid JSON: %v", err)
	}
	for _, key := range []string{"metadata", "iterations", "opportunity_executions", "trades"} {
		if _, ok := onDisk[key]; !ok {
			t.Fatalf("missing top-level key %q", key)
		}
	}

	execs := r.Executions()
	if len(execs) != 1 || execs[0].Status != "success" {
		t.Fatalf("executions = %+v", execs)
	}
	if execs[0].Hedge["action"] != "none" {
		t.Fatalf("hedge placeholder = %v", execs[0].Hedge)
	}
}

func TestReporterIsRestartSafe(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r1, err := NewReporter(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r1.ReportIteration(1, []domain.Market{{ID: "m1"}}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := r1.LogTrades([]domain.Trade{{ID: "t-1", Side: domain.SideBuy}}); err != nil {
		t.Fatal(err)
	}

	// A new reporter over the same directory sees the prior records and the
	// iteration dedup state.
	r2, err := NewReporter(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if len(r2.Iterations()) != 1 {
		t.Fatalf("iterations after reload = %d", len(r2.Iterations()))
	}
	added, err := r2.ReportIteration(2, []domain.Market{{ID: "m1"}}, nil, nil)
	if err != nil || added {
		t.Fatalf("dedup state lost across restart: added=%v err=%v", added, err)
	}
}

func TestSummaryCSVAppendsWithHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSummaryCSV(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Append(1, 10, 2, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(2, 12, 3, 2); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "timestamp_utc,iteration") {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.Contains(lines[2], ",2,12,3,2") {
		t.Fatalf("row = %q", lines[2])
	}
}
