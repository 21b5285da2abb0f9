// Package engine runs the scan cycle: fetch markets, filter, detect, validate,
// risk-approve, execute, hedge, report. Each cycle is single-threaded and runs
// to completion; the control queue is drained only between cycles.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddslab/predarb/internal/broker"
	"github.com/oddslab/predarb/internal/detector"
	"github.com/oddslab/predarb/internal/domain"
	"github.com/oddslab/predarb/internal/filter"
	"github.com/oddslab/predarb/internal/report"
	"github.com/oddslab/predarb/internal/risk"
	"github.com/oddslab/predarb/internal/validator"
)

// Notifier posts out-of-band alerts. Delivery is best effort and never fails
// the cycle. NotifyAll bypasses the notifier's event filtering, for alerts no
// operator should be able to mute.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
	NotifyAll(ctx context.Context, title, message string) error
}

// Sink receives executed trades and execution traces for persistence outside
// the report files. Failures are logged and swallowed.
type Sink interface {
	SaveTrades(ctx context.Context, trades []domain.Trade) error
	SaveExecution(ctx context.Context, rec domain.ExecutionRecord) error
}

// Options wires the pipeline stages together. Provider, Filter, Detectors,
// Risk, Broker and Reporter are required; the rest are optional.
type Options struct {
	Provider  domain.MarketProvider
	Filter    *filter.Filter
	Detectors []detector.Detector
	Validator *validator.Validator
	Risk      *risk.Manager
	Broker    *broker.Broker
	Reporter  *report.Reporter
	Summary   *report.SummaryCSV
	Notifier  Notifier
	Sink      Sink
	Logger    *slog.Logger

	// Quotes, when set, overrides snapshot prices with fresher cached quotes
	// from the live feed when marking positions. The cache TTL bounds how
	// stale an override can be.
	Quotes domain.QuoteCache

	// TwoVenue enables the strict two-venue structural validation. Off in
	// single-venue runs, where every opportunity necessarily lives on one
	// exchange and the validator would reject all of them.
	TwoVenue bool

	TargetOrderSizeUSD float64
	CommandBuffer      int
}

// CycleResult summarizes one completed scan cycle.
type CycleResult struct {
	Iteration int
	Skipped   bool // paused
	Markets   int
	Eligible  int
	Detected  int
	Validated int
	Approved  int
	Executed  int
	Equity    float64
}

// detection keeps the producing detector's name with its opportunity, for the
// execution trace id.
type detection struct {
	opp      domain.Opportunity
	detector string
}

// Engine owns the cycle loop. Not safe for concurrent RunCycle calls; Run
// serializes them, and Enqueue is the only concurrent entry point.
type Engine struct {
	provider  domain.MarketProvider
	filter    *filter.Filter
	detectors []detector.Detector
	validator *validator.Validator
	risk      *risk.Manager
	broker    *broker.Broker
	reporter  *report.Reporter
	summary   *report.SummaryCSV
	notifier  Notifier
	sink      Sink
	quotes    domain.QuoteCache
	logger    *slog.Logger

	twoVenue  bool
	orderSize float64

	commands    chan Command
	paused      bool
	frozen      bool
	killAlerted bool
	iteration   int

	now func() time.Time
}

func New(opts Options) (*Engine, error) {
	switch {
	case opts.Provider == nil:
		return nil, fmt.Errorf("engine: provider is required")
	case opts.Filter == nil:
		return nil, fmt.Errorf("engine: filter is required")
	case len(opts.Detectors) == 0:
		return nil, fmt.Errorf("engine: at least one detector is required")
	case opts.Risk == nil:
		return nil, fmt.Errorf("engine: risk manager is required")
	case opts.Broker == nil:
		return nil, fmt.Errorf("engine: broker is required")
	case opts.Reporter == nil:
		return nil, fmt.Errorf("engine: reporter is required")
	}
	if opts.TwoVenue && opts.Validator == nil {
		return nil, fmt.Errorf("engine: two-venue mode requires a validator")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	buf := opts.CommandBuffer
	if buf <= 0 {
		buf = 32
	}
	return &Engine{
		provider:  opts.Provider,
		filter:    opts.Filter,
		detectors: opts.Detectors,
		validator: opts.Validator,
		risk:      opts.Risk,
		broker:    opts.Broker,
		reporter:  opts.Reporter,
		summary:   opts.Summary,
		notifier:  opts.Notifier,
		sink:      opts.Sink,
		quotes:    opts.Quotes,
		logger:    opts.Logger.With(slog.String("component", "engine")),
		twoVenue:  opts.TwoVenue,
		orderSize: opts.TargetOrderSizeUSD,
		commands:  make(chan Command, buf),
		now:       time.Now,
	}, nil
}

// Run executes cycles on the given interval until the context is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("engine started", slog.Duration("interval", interval), slog.String("provider", e.provider.Name()))
	for {
		if _, err := e.RunCycle(ctx); err != nil {
			e.logger.Error("cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped", slog.Int("iterations", e.iteration))
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle performs one full scan cycle. Individual detector or opportunity
// failures never abort the cycle for the others; only reporter I/O errors are
// returned.
func (e *Engine) RunCycle(ctx context.Context) (CycleResult, error) {
	e.drainCommands()
	if e.paused {
		return CycleResult{Iteration: e.iteration, Skipped: true}, nil
	}
	e.iteration++
	res := CycleResult{Iteration: e.iteration}
	start := e.now()

	markets, err := e.provider.FetchMarkets(ctx)
	if err != nil {
		// Providers swallow their own failures; a hard error here still
		// degrades to an empty cycle rather than stopping the loop.
		e.logger.Warn("market fetch failed", "error", err)
		markets = nil
	}
	res.Markets = len(markets)

	eligible := e.filter.Eligible(markets, e.orderSize)
	res.Eligible = len(eligible)

	index := make(map[string]domain.Market, len(eligible))
	for _, m := range eligible {
		index[m.ID] = m
	}
	marks := e.markPrices(ctx, markets)

	detected := e.detect(eligible)
	res.Detected = len(detected)

	validated := detected
	if e.twoVenue {
		validated = nil
		for _, d := range detected {
			v := e.validator.Validate(d.opp, index, e.broker)
			if v.Valid {
				validated = append(validated, d)
			}
		}
	}
	res.Validated = len(validated)

	var approved []detection
	var records []domain.ExecutionRecord
	for _, d := range validated {
		snap := e.snapshot(marks)
		decision := e.risk.Approve(d.opp, index, snap)
		if !decision.Approved {
			if decision.Reason == risk.ReasonKillSwitch {
				e.alertKillSwitch(ctx, snap)
			}
			e.logger.Debug("opportunity rejected",
				slog.String("type", string(d.opp.Type)),
				slog.String("reason", decision.Reason))
			continue
		}
		approved = append(approved, d)
		if e.frozen {
			continue
		}
		rec := e.execute(d, index, decision)
		records = append(records, rec)
	}
	res.Approved = len(approved)
	res.Executed = len(records)

	if err := e.report(ctx, res, markets, detected, approved, records); err != nil {
		return res, err
	}

	pt := e.broker.Observe(marks)
	res.Equity = pt.Equity
	e.logger.Info("cycle complete",
		slog.Int("iteration", res.Iteration),
		slog.Int("markets", res.Markets),
		slog.Int("eligible", res.Eligible),
		slog.Int("detected", res.Detected),
		slog.Int("approved", res.Approved),
		slog.Int("executed", res.Executed),
		slog.Float64("equity", pt.Equity),
		slog.Duration("elapsed", e.now().Sub(start)))
	return res, nil
}

// detect runs every detector over the eligible set. A panicking detector is
// isolated: its opportunities for this cycle are dropped and the rest proceed.
func (e *Engine) detect(markets []domain.Market) []detection {
	var out []detection
	for _, det := range e.detectors {
		opps := e.detectOne(det, markets)
		for _, opp := range opps {
			out = append(out, detection{opp: opp, detector: det.Name()})
		}
	}
	return out
}

func (e *Engine) detectOne(det detector.Detector, markets []domain.Market) (opps []domain.Opportunity) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("detector panicked", slog.String("detector", det.Name()), slog.Any("panic", r))
			opps = nil
		}
	}()
	return det.Detect(markets)
}

// execute fills the opportunity and assembles its trace record.
func (e *Engine) execute(d detection, index map[string]domain.Market, decision domain.RiskDecision) domain.ExecutionRecord {
	begin := e.now()
	result := e.broker.Execute(d.opp, index)
	return domain.ExecutionRecord{
		TraceID:      report.TraceID(d.opp, d.detector),
		Timestamp:    begin,
		Opportunity:  d.opp,
		Detector:     d.detector,
		PricesBefore: pricesBefore(d.opp, index),
		Intended:     d.opp.Actions,
		Risk:         decision,
		Executions:   result.Trades,
		Hedge:        result.Hedge,
		Status:       result.Status,
		RealizedPnL:  result.RealizedPnL,
		LatencyMS:    e.now().Sub(begin).Milliseconds(),
		FailureFlags: result.Flags,
	}
}

// report writes the iteration record, execution traces, and trade log, and
// fans out notifications. Sink and notifier failures are logged only.
func (e *Engine) report(ctx context.Context, res CycleResult, markets []domain.Market, detected, approved []detection, records []domain.ExecutionRecord) error {
	detectedOpps := make([]domain.Opportunity, len(detected))
	for i, d := range detected {
		detectedOpps[i] = d.opp
	}
	approvedOpps := make([]domain.Opportunity, len(approved))
	for i, d := range approved {
		approvedOpps[i] = d.opp
	}

	if _, err := e.reporter.ReportIteration(res.Iteration, markets, detectedOpps, approvedOpps); err != nil {
		return fmt.Errorf("engine: iteration report: %w", err)
	}
	if e.summary != nil {
		if err := e.summary.Append(res.Iteration, res.Markets, res.Detected, res.Approved); err != nil {
			e.logger.Warn("summary append failed", "error", err)
		}
	}

	var trades []domain.Trade
	for _, rec := range records {
		if _, err := e.reporter.LogExecution(rec); err != nil {
			return fmt.Errorf("engine: execution report: %w", err)
		}
		trades = append(trades, rec.Executions...)
		if rec.Hedge != nil {
			trades = append(trades, rec.Hedge.Trades...)
		}
		if e.sink != nil {
			if err := e.sink.SaveExecution(ctx, rec); err != nil {
				e.logger.Warn("execution persist failed", slog.String("trace_id", rec.TraceID), "error", err)
			}
		}
		e.notify(ctx, rec)
	}
	if len(trades) > 0 {
		if err := e.reporter.LogTrades(trades); err != nil {
			return fmt.Errorf("engine: trade report: %w", err)
		}
		if e.sink != nil {
			if err := e.sink.SaveTrades(ctx, trades); err != nil {
				e.logger.Warn("trade persist failed", "error", err)
			}
		}
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, rec domain.ExecutionRecord) {
	if e.notifier == nil {
		return
	}
	title := fmt.Sprintf("%s via %s: %s", rec.Opportunity.Type, rec.Detector, rec.Status)
	msg := fmt.Sprintf("edge %.4f, realized %.2f, trades %d", rec.Opportunity.NetEdge, rec.RealizedPnL, len(rec.Executions))
	if err := e.notifier.Notify(ctx, "execution", title, msg); err != nil {
		e.logger.Warn("notify failed", "error", err)
	}
}

// alertKillSwitch broadcasts the drawdown gate tripping to every sender,
// bypassing event filtering. Latched so a tripped gate alerts once; resume
// clears the latch, so a later trip alerts again.
func (e *Engine) alertKillSwitch(ctx context.Context, snap risk.Snapshot) {
	if e.killAlerted {
		return
	}
	e.killAlerted = true

	drawdown := 0.0
	if snap.PeakEquity > 0 {
		drawdown = (snap.PeakEquity - snap.Equity) / snap.PeakEquity
	}
	e.logger.Warn("kill switch tripped",
		slog.Float64("drawdown", drawdown),
		slog.Float64("equity", snap.Equity),
		slog.Float64("peak_equity", snap.PeakEquity))
	if e.notifier == nil {
		return
	}
	msg := fmt.Sprintf("drawdown %.2f%% from peak %.2f, equity %.2f; new exposure blocked until recovery",
		drawdown*100, snap.PeakEquity, snap.Equity)
	if err := e.notifier.NotifyAll(ctx, "kill switch tripped", msg); err != nil {
		e.logger.Warn("kill switch alert failed", "error", err)
	}
}

// snapshot captures the broker state the risk manager judges against. Taken
// fresh before each approval so earlier executions in the same cycle count.
func (e *Engine) snapshot(marks map[string]float64) risk.Snapshot {
	return risk.Snapshot{
		Equity:        e.broker.Equity(marks),
		PeakEquity:    e.broker.PeakEquity(),
		OpenPositions: e.broker.OpenPositionCount(),
		Held:          e.broker.Positions(),
	}
}

// Iteration returns the last completed cycle number.
func (e *Engine) Iteration() int { return e.iteration }

// markPrices indexes every fetched outcome price by outcome id, for equity
// marks. Ineligible markets still mark held positions. When a quote cache is
// wired, a cached live quote overrides the snapshot price; a cache failure
// degrades to snapshot-only marks.
func (e *Engine) markPrices(ctx context.Context, markets []domain.Market) map[string]float64 {
	marks := make(map[string]float64)
	var ids []string
	for _, m := range markets {
		for _, o := range m.Outcomes {
			marks[o.ID] = o.Price
			ids = append(ids, o.ID)
		}
	}
	if e.quotes == nil || len(ids) == 0 {
		return marks
	}
	live, err := e.quotes.GetQuotes(ctx, ids)
	if err != nil {
		e.logger.Warn("quote cache read failed", "error", err)
		return marks
	}
	for id, price := range live {
		marks[id] = price
	}
	return marks
}

func pricesBefore(opp domain.Opportunity, index map[string]domain.Market) map[string]float64 {
	prices := make(map[string]float64, len(opp.Actions))
	for _, a := range opp.Actions {
		m, ok := index[a.MarketID]
		if !ok {
			continue
		}
		if o, ok := m.OutcomeByID(a.OutcomeID); ok {
			prices[a.OutcomeID] = o.Price
		}
	}
	return prices
}
