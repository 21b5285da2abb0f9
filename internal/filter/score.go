package filter

import (
	"math"
	"sort"

	"github.com/oddslab/predarb/internal/domain"
)

// logScoreSlope maps ln(ratio) into the 0..100 band: ln(100) ~ 4.6, so a
// market at 100x the minimum saturates near 100.
const logScoreSlope = 100 / 4.6

// Scored pairs a market with its liquidity-quality score.
type Scored struct {
	Market domain.Market
	Score  float64
}

// Rank scores the given (already eligible) markets 0..100 and returns them
// sorted by score descending, ties broken by market id so the ordering is
// deterministic across runs.
func (f *Filter) Rank(markets []domain.Market) []Scored {
	out := make([]Scored, 0, len(markets))
	for _, m := range markets {
		out = append(out, Scored{Market: m, Score: f.Score(m)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Market.ID < out[j].Market.ID
	})
	return out
}

// Score computes the weighted liquidity-quality score for one market, then
// applies the near-expiry decay and the missing-expiry penalty.
func (f *Filter) Score(m domain.Market) float64 {
	total := f.scoreSpread(m)*f.settings.SpreadWeight +
		f.scoreVolume(m)*f.settings.VolumeWeight +
		f.scoreLiquidity(m)*f.settings.LiquidityWeight +
		scoreOutcomeCount(m)*f.settings.FrequencyWeight

	if days, ok := m.DaysToExpiry(f.now()); ok {
		if days < 30 {
			total *= math.Max(0, days/30)
		}
	} else if f.settings.AllowMissingEndDate {
		total *= 0.95
	}
	return clamp(total, 0, 100)
}

// scoreSpread: 100 at zero spread, linear decay to 0 at MaxSpreadPct.
func (f *Filter) scoreSpread(m domain.Market) float64 {
	if len(m.BestBid) > 0 && len(m.BestAsk) > 0 {
		var widest float64
		for _, o := range m.Outcomes {
			bid, okBid := m.BestBid[o.Label]
			ask, okAsk := m.BestAsk[o.Label]
			if !okBid || !okAsk || ask <= 0 {
				continue
			}
			if s := ask - bid; s > widest {
				widest = s
			}
		}
		return clamp(100*(1-widest/f.settings.MaxSpreadPct), 0, 100)
	}

	lo, hi := priceRange(m)
	if hi == 0 {
		return 0
	}
	avg := (lo + hi) / 2
	if avg == 0 {
		return 0
	}
	spreadPct := (hi - lo) / avg
	if spreadPct <= 0.01 {
		return 100
	}
	return clamp(100*(1-spreadPct/f.settings.MaxSpreadPct), 0, 100)
}

func (f *Filter) scoreVolume(m domain.Market) float64 {
	if m.Volume < f.settings.MinVolume24h || m.Volume <= 0 {
		return 0
	}
	return clamp(math.Log(m.Volume/f.settings.MinVolume24h+1)*logScoreSlope, 0, 100)
}

func (f *Filter) scoreLiquidity(m domain.Market) float64 {
	if m.Liquidity < f.settings.MinLiquidity || m.Liquidity <= 0 {
		return 0
	}
	return clamp(math.Log(m.Liquidity/f.settings.MinLiquidity+1)*logScoreSlope, 0, 100)
}

// scoreOutcomeCount favours multi-outcome markets slightly: binaries land at
// 70, each extra outcome adds 10 up to the cap.
func scoreOutcomeCount(m domain.Market) float64 {
	n := len(m.Outcomes)
	if n < 2 {
		return 0
	}
	return clamp(50+float64(n)*10, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
