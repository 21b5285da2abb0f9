package domain

import "time"

// ExecStatus is the terminal state of an opportunity execution.
type ExecStatus string

const (
	ExecSuccess   ExecStatus = "success"   // all legs filled as intended
	ExecPartial   ExecStatus = "partial"   // at least one leg under-filled, hedged back
	ExecCancelled ExecStatus = "cancelled" // no leg filled
)

// Failure flags attached to execution records.
const (
	FlagResidualExposure = "residual_exposure" // flatten could not fully clear
	FlagForbiddenAction  = "forbidden_action"  // a leg violated venue policy and was skipped
	FlagLiquidityStarved = "liquidity_starved" // a leg was capped by available depth
)

// RiskDecision records the risk manager's verdict for an execution trace.
type RiskDecision struct {
	Approved bool
	Reason   string // empty when approved
}

// HedgeReport summarizes the flatten pass that follows a partial execution.
type HedgeReport struct {
	Attempted bool
	Trades    []Trade
	Residual  map[string]float64 // position key -> quantity left after flatten
}

// ExecutionRecord is the per-opportunity trace emitted to the reporter: what
// was intended, what the risk manager said, what actually filled, and how any
// partial fill was recovered.
type ExecutionRecord struct {
	TraceID      string // deterministic hash, see report.TraceID
	Timestamp    time.Time
	Opportunity  Opportunity
	Detector     string
	PricesBefore map[string]float64 // outcome id -> price at decision time
	Intended     []TradeAction
	Risk         RiskDecision
	Executions   []Trade
	Hedge        *HedgeReport
	Status       ExecStatus
	RealizedPnL  float64
	LatencyMS    int64
	FailureFlags []string
}

// HasFlag reports whether the record carries the given failure flag.
func (r ExecutionRecord) HasFlag(flag string) bool {
	for _, f := range r.FailureFlags {
		if f == flag {
			return true
		}
	}
	return false
}
