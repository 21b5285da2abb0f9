package report

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/oddslab/predarb/internal/domain"
)

// canonicalAction is the wire form of an intended action inside a trace
// payload. Field order is alphabetical so the marshaled bytes are canonical.
type canonicalAction struct {
	Amount     float64 `json:"amount"`
	LimitPrice float64 `json:"limit_price"`
	MarketID   string  `json:"market_id"`
	OutcomeID  string  `json:"outcome_id"`
	Side       string  `json:"side"`
}

type tracePayload struct {
	Actions         []canonicalAction `json:"actions"`
	Detector        string            `json:"detector"`
	MarketIDs       []string          `json:"market_ids"`
	OpportunityType string            `json:"opportunity_type"`
}

// TraceID derives the deterministic execution trace id: the SHA-256 of the
// canonical JSON of (type, detector, sorted market ids, intended actions).
// Identical triples always hash to the same id.
func TraceID(opp domain.Opportunity, detector string) string {
	ids := make([]string, len(opp.MarketIDs))
	copy(ids, opp.MarketIDs)
	sort.Strings(ids)

	actions := make([]canonicalAction, len(opp.Actions))
	for i, a := range opp.Actions {
		actions[i] = canonicalAction{
			Amount:     a.Amount,
			LimitPrice: a.LimitPrice,
			MarketID:   a.MarketID,
			OutcomeID:  a.OutcomeID,
			Side:       string(a.Side),
		}
	}
	payload, _ := json.Marshal(tracePayload{
		Actions:         actions,
		Detector:        detector,
		MarketIDs:       ids,
		OpportunityType: string(opp.Type),
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// HashIDs computes a stable, order-independent hash over a set of ids:
// duplicates collapse, order is irrelevant.
func HashIDs(ids []string) string {
	uniq := make(map[string]bool, len(ids))
	for _, id := range ids {
		uniq[id] = true
	}
	sorted := make([]string, 0, len(uniq))
	for id := range uniq {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])
}

// OpportunityID is the human-readable deterministic identifier used in
// iteration hashing: type plus sorted market ids.
func OpportunityID(opp domain.Opportunity) string {
	ids := make([]string, len(opp.MarketIDs))
	copy(ids, opp.MarketIDs)
	sort.Strings(ids)
	return string(opp.Type) + ":" + strings.Join(ids, "|")
}
