// Package polymarket holds the venue B clients: the Gamma REST API for
// market discovery and the CLOB websocket for live price quotes.
package polymarket

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
	defaultPageSize = 100
	maxPages        = 10
)

// GammaClient fetches markets from the Polymarket Gamma API. It implements
// domain.MarketProvider: venue outages are logged and yield zero markets
// rather than an error, so a flaky venue never aborts a scan cycle.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGammaClient creates a Gamma API client.
//
// baseURL is the API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, logger *slog.Logger) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "polymarket")),
	}
}

var _ domain.MarketProvider = (*GammaClient)(nil)

// Name identifies the venue.
func (g *GammaClient) Name() string { return "polymarket" }

// FetchMarkets returns a snapshot of the currently active markets, paging
// through the Gamma listing. A failed page stops pagination but keeps what
// was fetched; markets that fail to convert are logged and skipped.
func (g *GammaClient) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	var markets []domain.Market

	for page := 0; page < maxPages; page++ {
		apiMarkets, err := g.fetchPage(ctx, defaultPageSize, page*defaultPageSize)
		if err != nil {
			g.logger.WarnContext(ctx, "market page fetch failed",
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
				g.logger.DebugContext(ctx, "market conversion skipped",
					slog.String("market_id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			markets = append(markets, dm)
		}

		if len(apiMarkets) < defaultPageSize {
			break
		}
	}

	return markets, nil
}

// GetMarket returns a single market by its Gamma ID.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: get market %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: decode market: %w", err)
	}

	return apiMarket.ToDomainMarket()
}

func (g *GammaClient) fetchPage(ctx context.Context, limit, offset int) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("active", "true")
	params.Set("closed", "false")

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("decode markets: %w", err)
	}
	return apiMarkets, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
