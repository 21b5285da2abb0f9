package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by the Polymarket Gamma API. Outcome
// labels, prices, and token IDs arrive as JSON-encoded string arrays.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Slug          string   `json:"slug"`
	Description   string   `json:"description"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // e.g. "[\"Yes\",\"No\"]"
	OutcomePrices string   `json:"outcomePrices"` // e.g. "[\"0.45\",\"0.55\"]"
	ClobTokenIDs  string   `json:"clobTokenIds"`  // e.g. "[\"123\",\"456\"]"
	Liquidity     string   `json:"liquidity"`
	Volume        string   `json:"volume"`
	EndDateISO    string   `json:"end_date_iso"`
	Category      string   `json:"category"`
	BestBid       float64  `json:"bestBid"`
	BestAsk       float64  `json:"bestAsk"`
}

// ToDomainMarket converts a Gamma market to the canonical snapshot. Markets
// whose outcome arrays cannot be decoded or whose prices fall outside [0,1]
// are rejected rather than clamped.
func (m *APIMarket) ToDomainMarket() (domain.Market, error) {
	var labels, prices, tokenIDs []string
	if err := json.Unmarshal([]byte(m.Outcomes), &labels); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: market %s: decode outcomes: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: market %s: decode outcome prices: %w", m.ID, err)
	}
	if m.ClobTokenIDs != "" {
		// Token IDs are optional; synthetic IDs are derived when absent.
		_ = json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs)
	}
	if len(labels) != len(prices) {
		return domain.Market{}, fmt.Errorf("polymarket: market %s: %d outcomes but %d prices", m.ID, len(labels), len(prices))
	}

	liquidity, _ := strconv.ParseFloat(m.Liquidity, 64)
	volume, _ := strconv.ParseFloat(m.Volume, 64)

	perOutcome := liquidity
	if len(labels) > 0 {
		perOutcome = liquidity / float64(len(labels))
	}

	outcomes := make([]domain.Outcome, 0, len(labels))
	for i, label := range labels {
		price, err := strconv.ParseFloat(prices[i], 64)
		if err != nil {
			return domain.Market{}, fmt.Errorf("polymarket: market %s: outcome %q price %q: %w", m.ID, label, prices[i], err)
		}
		id := fmt.Sprintf("polymarket:%s:%d", m.ID, i)
		if i < len(tokenIDs) && tokenIDs[i] != "" {
			id = tokenIDs[i]
		}
		o, err := domain.NewOutcome(id, label, price, perOutcome)
		if err != nil {
			return domain.Market{}, err
		}
		outcomes = append(outcomes, o)
	}

	params := domain.MarketParams{
		ID:          "polymarket:" + m.ID,
		Question:    m.Question,
		Outcomes:    outcomes,
		Liquidity:   liquidity,
		Volume:      volume,
		Description: m.Description,
		Exchange:    "polymarket",
	}
	if m.Category != "" {
		params.Tags = []string{m.Category}
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			params.EndDate = &t
		}
	}
	if m.BestBid > 0 || m.BestAsk > 0 {
		params.BestBid = make(map[string]float64, 1)
		params.BestAsk = make(map[string]float64, 1)
		if len(labels) > 0 {
			params.BestBid[labels[0]] = m.BestBid
			params.BestAsk[labels[0]] = m.BestAsk
		}
	}

	return domain.NewMarket(params)
}

// tradable reports whether the market is worth converting at all.
func (m *APIMarket) tradable() bool {
	return bool(m.Active) && !m.Closed
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to subscribe or unsubscribe.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// BookMessage is a full orderbook snapshot frame. Only the touch is used:
// the quote feed reduces it to a mid price.
type BookMessage struct {
	AssetID   string         `json:"asset_id"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
}

// WSPriceLevel is a single bid/ask level in the orderbook frame.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceMessage is a last-trade-price frame.
type PriceMessage struct {
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}

// Quote is one normalized price observation from the websocket feed, keyed
// by the venue's asset (outcome token) ID.
type Quote struct {
	OutcomeID string
	Price     float64
	Time      time.Time
}

// midQuote reduces a book snapshot to a mid-price quote. Returns false when
// either side of the book is empty.
func midQuote(b *BookMessage) (Quote, bool) {
	var bestBid, bestAsk float64
	for _, lvl := range b.Bids {
		if p, err := strconv.ParseFloat(lvl.Price, 64); err == nil && p > bestBid {
			bestBid = p
		}
	}
	for _, lvl := range b.Asks {
		if p, err := strconv.ParseFloat(lvl.Price, 64); err == nil && (bestAsk == 0 || p < bestAsk) {
			bestAsk = p
		}
	}
	if bestBid <= 0 || bestAsk <= 0 {
		return Quote{}, false
	}
	return Quote{
		OutcomeID: b.AssetID,
		Price:     (bestBid + bestAsk) / 2,
		Time:      parseWSTimestamp(b.Timestamp),
	}, true
}

// lastTradeQuote converts a last-trade-price frame to a quote. Returns false
// when the price does not parse or is outside [0,1].
func lastTradeQuote(p *PriceMessage) (Quote, bool) {
	price, err := strconv.ParseFloat(p.Price, 64)
	if err != nil || price < 0 || price > 1 {
		return Quote{}, false
	}
	return Quote{
		OutcomeID: p.AssetID,
		Price:     price,
		Time:      parseWSTimestamp(p.Timestamp),
	}, true
}

// parseWSTimestamp handles both Unix-milliseconds and RFC3339 timestamps,
// falling back to now.
func parseWSTimestamp(s string) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms > 1e12 {
			return time.UnixMilli(ms)
		}
		return time.Unix(ms, 0)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}
