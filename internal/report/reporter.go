// Package report emits the unified JSON activity report: per-cycle iteration
// summaries, per-opportunity execution traces, and the flat trade log, all in
// one file written atomically so a crash never leaves a torn report.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

const unifiedReportFile = "unified_report.json"

// Counter is a count with its delta from the previous recorded iteration.
type Counter struct {
	Count int `json:"count"`
	Delta int `json:"delta"`
}

// IterationRecord summarizes one scan cycle.
type IterationRecord struct {
	Iteration             int      `json:"iteration"`
	Timestamp             string   `json:"timestamp"`
	Markets               Counter  `json:"markets"`
	OpportunitiesDetected Counter  `json:"opportunities_detected"`
	OpportunitiesApproved Counter  `json:"opportunities_approved"`
	ApprovalRatePct       *float64 `json:"approval_rate_pct"`
	Hashes                struct {
		Markets      string `json:"markets"`
		ApprovedOpps string `json:"approved_opps"`
	} `json:"hashes"`
}

// ExecutionJSON is the persisted form of a domain.ExecutionRecord.
type ExecutionJSON struct {
	TraceID      string                 `json:"trace_id"`
	Timestamp    string                 `json:"timestamp"`
	Opportunity  map[string]interface{} `json:"opportunity"`
	PricesBefore map[string]float64     `json:"prices_before"`
	Intended     []canonicalAction      `json:"intended_actions"`
	Risk         map[string]interface{} `json:"risk_approval"`
	Executions   []TradeJSON            `json:"executions"`
	Hedge        map[string]interface{} `json:"hedge"`
	Status       string                 `json:"status"`
	RealizedPnL  float64                `json:"realized_pnl"`
	LatencyMS    int64                  `json:"latency_ms"`
	FailureFlags []string               `json:"failure_flags"`
}

// TradeJSON is the persisted form of a domain.Trade.
type TradeJSON struct {
	TradeID     string  `json:"trade_id"`
	Timestamp   string  `json:"timestamp"`
	MarketID    string  `json:"market_id"`
	OutcomeID   string  `json:"outcome_id"`
	Side        string  `json:"side"`
	Amount      float64 `json:"amount"`
	Price       float64 `json:"price"`
	Fees        float64 `json:"fees"`
	Slippage    float64 `json:"slippage"`
	RealizedPnL float64 `json:"realized_pnl"`
}

type lastState struct {
	MarketIDsHash      string `json:"market_ids_hash"`
	ApprovedOppIDsHash string `json:"approved_opp_ids_hash"`
	LastMarketsCount   int    `json:"last_markets_count"`
	LastOppsDetected   int    `json:"last_opps_detected"`
	LastOppsApproved   int    `json:"last_opps_approved"`
}

type metadata struct {
	Version     string    `json:"version"`
	CreatedAt   string    `json:"created_at"`
	LastUpdated string    `json:"last_updated"`
	Description string    `json:"description"`
	LastState   lastState `json:"last_state"`
}

type reportData struct {
	Metadata   metadata          `json:"metadata"`
	Iterations []IterationRecord `json:"iterations"`
	Executions []ExecutionJSON   `json:"opportunity_executions"`
	Trades     []TradeJSON       `json:"trades"`
}

// Reporter accumulates records in memory and rewrites the unified report
// file atomically after every append. It is restart-safe: an existing report
// is loaded and extended.
type Reporter struct {
	dir    string
	path   string
	data   reportData
	logger *slog.Logger
	now    func() time.Time
}

// NewReporter opens (or creates) the unified report under dir.
func NewReporter(dir string, logger *slog.Logger) (*Reporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create dir %s: %w", dir, err)
	}
	r := &Reporter{
		dir:    dir,
		path:   filepath.Join(dir, unifiedReportFile),
		logger: logger.With(slog.String("component", "reporter")),
		now:    time.Now,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reporter) load() error {
	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		now := r.now().UTC().Format(time.RFC3339Nano)
		r.data = reportData{
			Metadata: metadata{
				Version:     "1.0",
				CreatedAt:   now,
				LastUpdated: now,
				Description: "unified activity report: iterations, opportunity executions, trades",
			},
			Iterations: []IterationRecord{},
			Executions: []ExecutionJSON{},
			Trades:     []TradeJSON{},
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("report: read %s: %w", r.path, err)
	}
	if err := json.Unmarshal(raw, &r.data); err != nil {
		return fmt.Errorf("report: parse %s: %w", r.path, err)
	}
	return nil
}

// save writes the whole report to a temp file and renames it over the target.
func (r *Reporter) save() error {
	r.data.Metadata.LastUpdated = r.now().UTC().Format(time.RFC3339Nano)
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	tmp, err := os.CreateTemp(r.dir, "unified_report-*.json")
	if err != nil {
		return fmt.Errorf("report: temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("report: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("report: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("report: rename: %w", err)
	}
	return nil
}

// ReportIteration appends a cycle summary when the market set or the approved
// opportunity set changed since the last recorded iteration. Unchanged cycles
// are skipped so long idle runs do not bloat the report.
func (r *Reporter) ReportIteration(iteration int, markets []domain.Market, detected, approved []domain.Opportunity) (bool, error) {
	marketIDs := make([]string, len(markets))
	for i, m := range markets {
		marketIDs[i] = m.ID
	}
	approvedIDs := make([]string, len(approved))
	for i, o := range approved {
		approvedIDs[i] = OpportunityID(o)
	}
	marketHash := HashIDs(marketIDs)
	approvedHash := HashIDs(approvedIDs)

	last := r.data.Metadata.LastState
	if marketHash == last.MarketIDsHash && approvedHash == last.ApprovedOppIDsHash {
		return false, nil
	}

	rec := IterationRecord{
		Iteration: iteration,
		Timestamp: r.now().UTC().Format(time.RFC3339Nano),
		Markets: Counter{
			Count: len(markets),
			Delta: len(markets) - last.LastMarketsCount,
		},
		OpportunitiesDetected: Counter{
			Count: len(detected),
			Delta: len(detected) - last.LastOppsDetected,
		},
		OpportunitiesApproved: Counter{
			Count: len(approved),
			Delta: len(approved) - last.LastOppsApproved,
		},
	}
	if len(detected) > 0 {
		rate := float64(len(approved)) / float64(len(detected)) * 100
		rec.ApprovalRatePct = &rate
	}
	rec.Hashes.Markets = marketHash[:16]
	rec.Hashes.ApprovedOpps = approvedHash[:16]

	r.data.Iterations = append(r.data.Iterations, rec)
	r.data.Metadata.LastState = lastState{
		MarketIDsHash:      marketHash,
		ApprovedOppIDsHash: approvedHash,
		LastMarketsCount:   len(markets),
		LastOppsDetected:   len(detected),
		LastOppsApproved:   len(approved),
	}
	if err := r.save(); err != nil {
		return false, err
	}
	r.logger.Info("iteration recorded",
		slog.Int("iteration", iteration),
		slog.Int("markets", len(markets)),
		slog.Int("detected", len(detected)),
		slog.Int("approved", len(approved)))
	return true, nil
}

// LogExecution appends one execution trace and returns its trace id.
func (r *Reporter) LogExecution(rec domain.ExecutionRecord) (string, error) {
	traceID := rec.TraceID
	if traceID == "" {
		traceID = TraceID(rec.Opportunity, rec.Detector)
	}

	intended := make([]canonicalAction, len(rec.Intended))
	for i, a := range rec.Intended {
		intended[i] = canonicalAction{
			Amount:     a.Amount,
			LimitPrice: a.LimitPrice,
			MarketID:   a.MarketID,
			OutcomeID:  a.OutcomeID,
			Side:       string(a.Side),
		}
	}
	executions := make([]TradeJSON, len(rec.Executions))
	for i, t := range rec.Executions {
		executions[i] = tradeJSON(t)
	}

	hedge := map[string]interface{}{"action": "none"}
	if rec.Hedge != nil {
		hedgeTrades := make([]TradeJSON, len(rec.Hedge.Trades))
		for i, t := range rec.Hedge.Trades {
			hedgeTrades[i] = tradeJSON(t)
		}
		hedge = map[string]interface{}{
			"attempted": rec.Hedge.Attempted,
			"trades":    hedgeTrades,
			"residual":  rec.Hedge.Residual,
		}
	}
	flags := rec.FailureFlags
	if flags == nil {
		flags = []string{}
	}

	r.data.Executions = append(r.data.Executions, ExecutionJSON{
		TraceID:   traceID,
		Timestamp: r.now().UTC().Format(time.RFC3339Nano),
		Opportunity: map[string]interface{}{
			"id":         OpportunityID(rec.Opportunity),
			"type":       string(rec.Opportunity.Type),
			"detector":   rec.Detector,
			"market_ids": rec.Opportunity.MarketIDs,
			"net_edge":   rec.Opportunity.NetEdge,
		},
		PricesBefore: rec.PricesBefore,
		Intended:     intended,
		Risk: map[string]interface{}{
			"approved": rec.Risk.Approved,
			"reason":   rec.Risk.Reason,
		},
		Executions:   executions,
		Hedge:        hedge,
		Status:       string(rec.Status),
		RealizedPnL:  rec.RealizedPnL,
		LatencyMS:    rec.LatencyMS,
		FailureFlags: flags,
	})
	if err := r.save(); err != nil {
		return "", err
	}
	return traceID, nil
}

// LogTrades appends trades to the flat trade log.
func (r *Reporter) LogTrades(trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	for _, t := range trades {
		r.data.Trades = append(r.data.Trades, tradeJSON(t))
	}
	if err := r.save(); err != nil {
		return err
	}
	r.logger.Info("trades recorded", slog.Int("count", len(trades)))
	return nil
}

// Iterations returns the recorded iteration summaries.
func (r *Reporter) Iterations() []IterationRecord {
	out := make([]IterationRecord, len(r.data.Iterations))
	copy(out, r.data.Iterations)
	return out
}

// Executions returns the recorded execution traces.
func (r *Reporter) Executions() []ExecutionJSON {
	out := make([]ExecutionJSON, len(r.data.Executions))
	copy(out, r.data.Executions)
	return out
}

// Path returns the unified report file location.
func (r *Reporter) Path() string { return r.path }

func tradeJSON(t domain.Trade) TradeJSON {
	return TradeJSON{
		TradeID:     t.ID,
		Timestamp:   t.Timestamp.UTC().Format(time.RFC3339Nano),
		MarketID:    t.MarketID,
		OutcomeID:   t.OutcomeID,
		Side:        string(t.Side),
		Amount:      t.Amount,
		Price:       t.Price,
		Fees:        t.Fees,
		Slippage:    t.Slippage,
		RealizedPnL: t.RealizedPnL,
	}
}
