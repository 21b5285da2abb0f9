package kalshi

import (
	"fmt"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// APIMarket is a market as returned by the Kalshi REST API. Prices arrive
// in cents (1-99).
type APIMarket struct {
	Ticker         string  `json:"ticker"`
	EventTicker    string  `json:"event_ticker"`
	Title          string  `json:"title"`
	Subtitle       string  `json:"subtitle"`
	Status         string  `json:"status"` // "active", "closed", "settled"
	YesBid         float64 `json:"yes_bid"`
	YesAsk         float64 `json:"yes_ask"`
	NoBid          float64 `json:"no_bid"`
	NoAsk          float64 `json:"no_ask"`
	LastPrice      float64 `json:"last_price"`
	Volume         int64   `json:"volume"`
	OpenInterest   int64   `json:"open_interest"`
	Liquidity      int64   `json:"liquidity"` // cents
	Category       string  `json:"category"`
	StrikeType     string  `json:"strike_type"` // "greater", "less", ...
	FloorStrike    float64 `json:"floor_strike"`
	CapStrike      float64 `json:"cap_strike"`
	RulesPrimary   string  `json:"rules_primary"`
	CloseTime      string  `json:"close_time"`
	ExpirationTime string  `json:"expiration_time"`
}

// APIError is a Kalshi API error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// tradable reports whether the market should enter the scan pipeline.
func (m *APIMarket) tradable() bool {
	return m.Status == "active" || m.Status == "open"
}

// ToDomainMarket converts a Kalshi market to the canonical snapshot. YES and
// NO prices come from the mid of bid/ask, falling back to last price. Strike
// fields map onto the threshold-market fields so ladder detection works on
// Kalshi range markets.
func (m *APIMarket) ToDomainMarket() (domain.Market, error) {
	yesPrice := midCents(m.YesBid, m.YesAsk, m.LastPrice)
	noPrice := midCents(m.NoBid, m.NoAsk, 100-m.LastPrice)

	liquidity := float64(m.Liquidity) / 100
	perOutcome := liquidity / 2

	yes, err := domain.NewOutcome("kalshi:"+m.Ticker+":yes", "Yes", yesPrice, perOutcome)
	if err != nil {
		return domain.Market{}, err
	}
	no, err := domain.NewOutcome("kalshi:"+m.Ticker+":no", "No", noPrice, perOutcome)
	if err != nil {
		return domain.Market{}, err
	}

	question := m.Title
	if m.Subtitle != "" {
		question = fmt.Sprintf("%s (%s)", m.Title, m.Subtitle)
	}

	params := domain.MarketParams{
		ID:          "kalshi:" + m.Ticker,
		Question:    question,
		Outcomes:    []domain.Outcome{yes, no},
		Liquidity:   liquidity,
		Volume:      float64(m.Volume),
		Description: m.RulesPrimary,
		Exchange:    "kalshi",
		BestBid: map[string]float64{
			"Yes": m.YesBid / 100,
			"No":  m.NoBid / 100,
		},
		BestAsk: map[string]float64{
			"Yes": m.YesAsk / 100,
			"No":  m.NoAsk / 100,
		},
	}
	if m.Category != "" {
		params.Tags = []string{m.Category}
	}
	if m.CloseTime != "" {
		if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
			params.EndDate = &t
		}
	}

	switch m.StrikeType {
	case "greater", "greater_or_equal":
		strike := m.FloorStrike
		params.Comparator = domain.ComparatorGT
		params.Threshold = &strike
		params.Asset = m.EventTicker
	case "less", "less_or_equal":
		strike := m.CapStrike
		params.Comparator = domain.ComparatorLT
		params.Threshold = &strike
		params.Asset = m.EventTicker
	}

	return domain.NewMarket(params)
}

// midCents converts a bid/ask pair in cents to a probability-price in [0,1],
// preferring the mid and falling back to the last trade price.
func midCents(bid, ask, last float64) float64 {
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2 / 100
	case ask > 0:
		return ask / 100
	case bid > 0:
		return bid / 100
	default:
		return last / 100
	}
}
