// Package kalshi holds the venue A client: a REST fetcher for the Kalshi
// exchange API. Kalshi permits sell-to-open, so markets fetched here are the
// short side of cross-venue opportunities.
package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/oddslab/predarb/internal/domain"
)

const (
	defaultPageSize = 200
	maxPages        = 10
)

// Client fetches markets from the Kalshi REST API. It implements
// domain.MarketProvider: venue outages are logged and yield zero markets
// rather than an error. Public market data needs no signing; the API key
// header is attached when configured.
type Client struct {
	baseURL    string
	apiKeyID   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Kalshi REST client.
//
// baseURL is the API root, e.g. "https://api.elections.kalshi.com/trade-api/v2".
func NewClient(baseURL, apiKeyID string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKeyID: apiKeyID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "kalshi")),
	}
}

var _ domain.MarketProvider = (*Client)(nil)

// Name identifies the venue.
func (c *Client) Name() string { return "kalshi" }

// FetchMarkets returns a snapshot of the currently open markets, following
// the listing cursor. A failed page stops pagination but keeps what was
// fetched; markets that fail to convert are logged and skipped.
func (c *Client) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	var markets []domain.Market
	cursor := ""

	for page := 0; page < maxPages; page++ {
		apiMarkets, next, err := c.fetchPage(ctx, cursor)
		if err != nil {
			c.logger.WarnContext(ctx, "market page fetch failed",
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			break
		}

		for i := range apiMarkets {
			m := &apiMarkets[i]
			if !m.tradable() {
				continue
			}
			dm, err := m.ToDomainMarket()
			if err != nil {
				c.logger.DebugContext(ctx, "market conversion skipped",
					slog.String("ticker", m.Ticker),
					slog.String("error", err.Error()),
				)
				continue
			}
			markets = append(markets, dm)
		}

		if next == "" {
			break
		}
		cursor = next
	}

	return markets, nil
}

// GetMarket returns a single market by its ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (domain.Market, error) {
	body, err := c.doGet(ctx, "/markets/"+url.PathEscape(ticker))
	if err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: get market %s: %w", ticker, err)
	}

	var resp struct {
		Market APIMarket `json:"market"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: decode market: %w", err)
	}

	return resp.Market.ToDomainMarket()
}

func (c *Client) fetchPage(ctx context.Context, cursor string) ([]APIMarket, string, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(defaultPageSize))
	params.Set("status", "open")
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	body, err := c.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, "", err
	}

	var resp struct {
		Markets []APIMarket `json:"markets"`
		Cursor  string      `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("decode markets: %w", err)
	}

	return resp.Markets, resp.Cursor, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKeyID != "" {
		req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkStatus maps non-2xx HTTP status codes to errors carrying the API's
// own code and message.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIError
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("not found: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrRateLimited)
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
