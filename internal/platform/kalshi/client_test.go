package kalshi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oddslab/predarb/internal/domain"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const marketsPage = `{
  "markets": [
    {
      "ticker": "BTCZ-26DEC31-T70000",
      "event_ticker": "BTCZ",
      "title": "Bitcoin above $70,000?",
      "status": "active",
      "yes_bid": 41, "yes_ask": 43,
      "no_bid": 57, "no_ask": 59,
      "last_price": 42,
      "volume": 15000,
      "liquidity": 2500000,
      "category": "crypto",
      "strike_type": "greater",
      "floor_strike": 70000,
      "close_time": "2026-12-31T23:59:00Z"
    },
    {
      "ticker": "SETTLED-1",
      "title": "Old market",
      "status": "settled",
      "last_price": 100
    }
  ],
  "cursor": ""
}`

func TestFetchMarketsConvertsOpenMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(marketsPage))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", quiet())
	markets, err := c.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("got %d markets, want 1 (settled market skipped)", len(markets))
	}

	m := markets[0]
	if m.ID != "kalshi:BTCZ-26DEC31-T70000" {
		t.Errorf("ID = %q", m.ID)
	}
	if m.Exchange != "kalshi" {
		t.Errorf("Exchange = %q", m.Exchange)
	}

	yes, no, ok := m.YesNo()
	if !ok {
		t.Fatal("market is not binary YES/NO")
	}
	if yes.Price != 0.42 {
		t.Errorf("yes price = %v, want mid 0.42", yes.Price)
	}
	if no.Price != 0.58 {
		t.Errorf("no price = %v, want mid 0.58", no.Price)
	}

	if m.Comparator != domain.ComparatorGT {
		t.Errorf("Comparator = %q, want >", m.Comparator)
	}
	if m.Threshold == nil || *m.Threshold != 70000 {
		t.Errorf("Threshold = %v, want 70000", m.Threshold)
	}
	if m.Liquidity != 25000 {
		t.Errorf("Liquidity = %v, want 25000 (cents converted)", m.Liquidity)
	}
}

func TestFetchMarketsSwallowsVenueOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":"internal","message":"down"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", quiet())
	markets, err := c.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets returned error on venue outage: %v", err)
	}
	if len(markets) != 0 {
		t.Fatalf("got %d markets, want 0", len(markets))
	}
}

func TestMidCentsFallbacks(t *testing.T) {
	tests := []struct {
		name           string
		bid, ask, last float64
		want           float64
	}{
		{"mid of bid/ask", 40, 44, 10, 0.42},
		{"ask only", 0, 44, 10, 0.44},
		{"bid only", 40, 0, 10, 0.40},
		{"last trade fallback", 0, 0, 37, 0.37},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := midCents(tt.bid, tt.ask, tt.last); got != tt.want {
				t.Errorf("midCents(%v,%v,%v) = %v, want %v", tt.bid, tt.ask, tt.last, got, tt.want)
			}
		})
	}
}
