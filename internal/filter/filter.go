// Package filter implements the three-layer market eligibility gate and the
// liquidity-quality scoring used to rank eligible markets before detection.
package filter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// RejectionReason is a machine-readable eligibility rejection code.
type RejectionReason string

const (
	RejectInsufficientOutcomes RejectionReason = "insufficient_outcomes"
	RejectSpreadTooWide        RejectionReason = "spread_too_wide"
	RejectVolumeTooLow         RejectionReason = "volume_too_low"
	RejectLiquidityTooLow      RejectionReason = "liquidity_too_low"
	RejectExpiryTooSoon        RejectionReason = "expiry_too_soon"
	RejectResolutionEmpty      RejectionReason = "resolution_empty"
	RejectResolutionSubjective RejectionReason = "resolution_subjective"
	RejectSizeLiquidity        RejectionReason = "insufficient_liquidity_for_size"
)

// subjectiveMarkers flag resolution text that depends on judgement calls.
var subjectiveMarkers = []string{"subjective", "opinion", "consensus", "believe"}

// Settings holds the filter thresholds and scoring weights. Weights must sum
// to ~1.0; Validate enforces this at configuration-load time.
type Settings struct {
	MaxSpreadPct         float64
	MinVolume24h         float64
	MinLiquidity         float64
	MinDaysToExpiry      float64
	MinLiquidityMultiple float64
	AllowMissingEndDate  bool

	SpreadWeight    float64
	VolumeWeight    float64
	LiquidityWeight float64
	FrequencyWeight float64
}

// DefaultSettings mirrors the documented production defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxSpreadPct:         0.03,
		MinVolume24h:         10_000,
		MinLiquidity:         25_000,
		MinDaysToExpiry:      7,
		MinLiquidityMultiple: 20,
		AllowMissingEndDate:  true,
		SpreadWeight:         0.40,
		VolumeWeight:         0.20,
		LiquidityWeight:      0.30,
		FrequencyWeight:      0.10,
	}
}

// Validate rejects settings whose scoring weights do not sum to ~1.0. This is
// a fatal configuration error and must run before any scan cycle.
func (s Settings) Validate() error {
	total := s.SpreadWeight + s.VolumeWeight + s.LiquidityWeight + s.FrequencyWeight
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("filter: scoring weights sum to %.4f, want ~1.0", total)
	}
	if s.MaxSpreadPct <= 0 {
		return fmt.Errorf("filter: max_spread_pct must be > 0, got %v", s.MaxSpreadPct)
	}
	if s.MinLiquidityMultiple < 0 {
		return fmt.Errorf("filter: min_liquidity_multiple must be >= 0, got %v", s.MinLiquidityMultiple)
	}
	return nil
}

// Filter applies eligibility gating and scoring over market snapshots. It
// records per-market rejection reasons from the most recent Eligible call for
// diagnostics. Not safe for concurrent use; the scan cycle is single-threaded.
type Filter struct {
	settings   Settings
	now        func() time.Time
	rejections map[string][]RejectionReason
}

// New creates a Filter. It returns an error when the settings are invalid so
// that bad scoring weights never survive past startup.
func New(settings Settings) (*Filter, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Filter{
		settings:   settings,
		now:        time.Now,
		rejections: make(map[string][]RejectionReason),
	}, nil
}

// SetClock overrides the time source, for tests.
func (f *Filter) SetClock(now func() time.Time) { f.now = now }

// Eligible returns the markets passing all hard-eligibility checks, and the
// risk-based size check when targetOrderSizeUSD > 0. The result is sorted by
// market id for determinism. Growing targetOrderSizeUSD can only shrink the
// eligible set, never grow it.
func (f *Filter) Eligible(markets []domain.Market, targetOrderSizeUSD float64) []domain.Market {
	f.rejections = make(map[string][]RejectionReason, len(markets))
	eligible := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		reasons := f.hardRejections(m)
		if targetOrderSizeUSD > 0 {
			if m.Liquidity < f.settings.MinLiquidityMultiple*targetOrderSizeUSD {
				reasons = append(reasons, RejectSizeLiquidity)
			}
		}
		if len(reasons) > 0 {
			f.rejections[m.ID] = reasons
			continue
		}
		eligible = append(eligible, m)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	return eligible
}

// Rejections returns the reasons the given market was excluded by the most
// recent Eligible call, or nil when it passed (or was not seen).
func (f *Filter) Rejections(marketID string) []RejectionReason {
	return f.rejections[marketID]
}

// hardRejections accumulates every failing hard-eligibility check rather than
// stopping at the first, so diagnostics show the full picture.
func (f *Filter) hardRejections(m domain.Market) []RejectionReason {
	var reasons []RejectionReason

	if !hasPricedOutcomes(m, 2) {
		reasons = append(reasons, RejectInsufficientOutcomes)
	}
	if !f.passesSpread(m) {
		reasons = append(reasons, RejectSpreadTooWide)
	}
	if m.Volume < f.settings.MinVolume24h {
		reasons = append(reasons, RejectVolumeTooLow)
	}
	if m.Liquidity < f.settings.MinLiquidity {
		reasons = append(reasons, RejectLiquidityTooLow)
	}
	if !f.passesExpiry(m) {
		reasons = append(reasons, RejectExpiryTooSoon)
	}
	if r, ok := f.resolutionIssue(m); ok {
		reasons = append(reasons, r)
	}
	return reasons
}

func hasPricedOutcomes(m domain.Market, min int) bool {
	priced := 0
	for _, o := range m.Outcomes {
		if o.Price > 0 {
			priced++
		}
	}
	return priced >= min
}

// passesSpread checks the per-outcome bid/ask spread when quotes are present,
// falling back to the raw outcome-price range otherwise.
func (f *Filter) passesSpread(m domain.Market) bool {
	if len(m.Outcomes) < 2 {
		return false
	}
	if len(m.BestBid) > 0 && len(m.BestAsk) > 0 {
		for _, o := range m.Outcomes {
			bid, okBid := m.BestBid[o.Label]
			ask, okAsk := m.BestAsk[o.Label]
			if !okBid || !okAsk || ask < bid {
				return false
			}
			if ask-bid > f.settings.MaxSpreadPct {
				return false
			}
		}
		return true
	}
	lo, hi := priceRange(m)
	return hi-lo <= f.settings.MaxSpreadPct*2
}

func priceRange(m domain.Market) (lo, hi float64) {
	lo, hi = 1, 0
	for _, o := range m.Outcomes {
		if o.Price <= 0 {
			continue
		}
		if o.Price < lo {
			lo = o.Price
		}
		if o.Price > hi {
			hi = o.Price
		}
	}
	if hi < lo {
		return 0, 0
	}
	return lo, hi
}

func (f *Filter) passesExpiry(m domain.Market) bool {
	days, ok := m.DaysToExpiry(f.now())
	if !ok {
		return f.settings.AllowMissingEndDate
	}
	return days >= f.settings.MinDaysToExpiry
}

// resolutionIssue flags markets whose resolution text is empty or contains
// subjective language. An explicit resolution source overrides the subjective
// marker check only when the text itself is otherwise sound.
func (f *Filter) resolutionIssue(m domain.Market) (RejectionReason, bool) {
	text := strings.ToLower(m.Description)
	for _, marker := range subjectiveMarkers {
		if strings.Contains(text, marker) && strings.TrimSpace(m.ResolutionSource) == "" {
			return RejectResolutionSubjective, true
		}
	}
	if strings.TrimSpace(m.ResolutionSource) != "" {
		return "", false
	}
	if strings.TrimSpace(m.Description) == "" {
		return RejectResolutionEmpty, true
	}
	if strings.Contains(text, "resolve") {
		return "", false
	}
	return RejectResolutionEmpty, true
}
