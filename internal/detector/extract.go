package detector

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/oddslab/predarb/internal/domain"
)

// Threshold and entity extraction from free-text questions. Ladder and
// consistency detection need a (asset, comparator, threshold) triple; markets
// that already carry structured fields keep them, everything else is parsed
// from the question text.

var (
	thresholdRe = regexp.MustCompile(`(?i)(above|over|exceed[s]?|more than|at least|greater than|below|under|less than|at most)\s+\$?([\d,]+(?:\.\d+)?)\s*([kmb])?`)
	tickerRe    = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
	spaceRe     = regexp.MustCompile(`\s+`)
	punctRe     = regexp.MustCompile(`[^\w\s$.]`)
)

var comparatorWords = map[string]domain.Comparator{
	"above":        domain.ComparatorGT,
	"over":         domain.ComparatorGT,
	"exceed":       domain.ComparatorGT,
	"exceeds":      domain.ComparatorGT,
	"more than":    domain.ComparatorGT,
	"at least":     domain.ComparatorGT,
	"greater than": domain.ComparatorGT,
	"below":        domain.ComparatorLT,
	"under":        domain.ComparatorLT,
	"less than":    domain.ComparatorLT,
	"at most":      domain.ComparatorLT,
}

var suffixScale = map[string]float64{"k": 1e3, "m": 1e6, "b": 1e9}

// extractThreshold parses a comparator and numeric threshold from text.
func extractThreshold(text string) (domain.Comparator, float64, bool) {
	m := thresholdRe.FindStringSubmatch(text)
	if m == nil {
		return "", 0, false
	}
	cmp, ok := comparatorWords[strings.ToLower(m[1])]
	if !ok {
		return "", 0, false
	}
	raw := strings.ReplaceAll(m[2], ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", 0, false
	}
	if scale, ok := suffixScale[strings.ToLower(m[3])]; ok {
		v *= scale
	}
	return cmp, v, true
}

// extractEntity pulls the subject of a question: an uppercase ticker when one
// is present, else the leading words before the comparator clause.
func extractEntity(text string) string {
	if t := tickerRe.FindString(text); t != "" && t != "USD" {
		return strings.ToLower(t)
	}
	lower := strings.ToLower(text)
	cut := -1
	for word := range comparatorWords {
		if i := strings.Index(lower, word); i > 0 && (cut == -1 || i < cut) {
			cut = i
		}
	}
	if cut > 0 {
		return normalizeText(lower[:cut])
	}
	return normalizeText(lower)
}

// normalizeText lowercases, strips punctuation and collapses whitespace.
func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = punctRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

var stopWords = map[string]bool{
	"will": true, "the": true, "a": true, "an": true, "be": true,
	"by": true, "in": true, "on": true, "at": true, "of": true,
	"to": true, "is": true, "before": true, "after": true,
}

// stableKey tokenizes a question into a sorted, stop-word-free key so that
// trivially reworded duplicates collide.
func stableKey(m domain.Market) string {
	tokens := tokenize(m.Question)
	key := strings.Join(tokens, " ")
	if m.EndDate != nil {
		key += "|" + m.EndDate.UTC().Format("2006-01-02")
	}
	if m.Comparator != "" && m.Threshold != nil {
		key += "|" + string(m.Comparator) + fmt.Sprintf("%g", *m.Threshold)
	}
	return key
}

func tokenize(s string) []string {
	var out []string
	for _, t := range strings.Fields(normalizeText(s)) {
		if !stopWords[t] {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// tokenSimilarity is the Jaccard similarity of the stop-word-free token sets.
func tokenSimilarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	inter := 0
	seen := make(map[string]bool, len(tb))
	for _, t := range tb {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		}
	}
	union := len(set) + len(seen) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// ladderKey identifies a ladder family: same asset, same direction.
type ladderKey struct {
	asset string
	cmp   domain.Comparator
}

// ladderRung is a market annotated with its parsed threshold.
type ladderRung struct {
	market    domain.Market
	threshold float64
}

// groupLadders buckets markets into threshold ladders. Markets without a
// resolvable (asset, comparator, threshold) triple are skipped.
func groupLadders(markets []domain.Market) map[ladderKey][]ladderRung {
	groups := make(map[ladderKey][]ladderRung)
	for _, m := range markets {
		cmp, thr := m.Comparator, 0.0
		if m.Threshold != nil {
			thr = *m.Threshold
		}
		if cmp == "" || m.Threshold == nil {
			c, t, ok := extractThreshold(m.Question)
			if !ok {
				continue
			}
			cmp, thr = c, t
		}
		asset := m.Asset
		if asset == "" {
			asset = extractEntity(m.Question)
		}
		if asset == "" {
			continue
		}
		key := ladderKey{asset: asset, cmp: cmp}
		groups[key] = append(groups[key], ladderRung{market: m, threshold: thr})
	}
	for key := range groups {
		rungs := groups[key]
		sort.Slice(rungs, func(i, j int) bool {
			if rungs[i].threshold != rungs[j].threshold {
				return rungs[i].threshold < rungs[j].threshold
			}
			return rungs[i].market.ID < rungs[j].market.ID
		})
		groups[key] = rungs
	}
	return groups
}

// matchDuplicates pairs markets on distinct venues that describe the same
// event: identical stable key, or token similarity at or above minSim with
// matching expiry day. Pairs are returned in deterministic order.
func matchDuplicates(markets []domain.Market, minSim float64) [][2]domain.Market {
	sorted := make([]domain.Market, len(markets))
	copy(sorted, markets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var pairs [][2]domain.Market
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			a, b := sorted[i], sorted[j]
			if a.Exchange == b.Exchange {
				continue
			}
			if !sameExpiryDay(a, b) {
				continue
			}
			if stableKey(a) == stableKey(b) || tokenSimilarity(a.Question, b.Question) >= minSim {
				pairs = append(pairs, [2]domain.Market{a, b})
			}
		}
	}
	return pairs
}

func sameExpiryDay(a, b domain.Market) bool {
	if a.EndDate == nil || b.EndDate == nil {
		return a.EndDate == b.EndDate
	}
	return a.EndDate.UTC().Format("2006-01-02") == b.EndDate.UTC().Format("2006-01-02")
}
