package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddslab/predarb/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each outcome's
// latest price is stored at key "quote:{outcomeID}" with fields "price" and
// "ts" (Unix nanosecond timestamp), kept fresh by the live websocket feed.
type QuoteCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQuoteCache creates a QuoteCache backed by the given Client. Entries
// expire after ttl so stale quotes from a dead feed never mark positions;
// ttl <= 0 disables expiry.
func NewQuoteCache(c *Client, ttl time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), ttl: ttl}
}

func quoteKey(outcomeID string) string {
	return "quote:" + outcomeID
}

// SetQuote stores the latest price and timestamp for an outcome.
func (qc *QuoteCache) SetQuote(ctx context.Context, outcomeID string, price float64, ts time.Time) error {
	key := quoteKey(outcomeID)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := qc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", outcomeID, err)
	}
	if qc.ttl > 0 {
		if err := qc.rdb.Expire(ctx, key, qc.ttl).Err(); err != nil {
			return fmt.Errorf("redis: expire quote %s: %w", outcomeID, err)
		}
	}
	return nil
}

// GetQuote retrieves the latest price and timestamp for an outcome. It
// returns domain.ErrNotFound when no quote has been seen.
func (qc *QuoteCache) GetQuote(ctx context.Context, outcomeID string) (float64, time.Time, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(outcomeID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get quote %s: %w", outcomeID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse quote price %s: %w", outcomeID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse quote ts %s: %w", outcomeID, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// GetQuotes retrieves the latest prices for multiple outcomes using a
// pipeline. Outcomes without quotes are silently omitted from the result map.
func (qc *QuoteCache) GetQuotes(ctx context.Context, outcomeIDs []string) (map[string]float64, error) {
	if len(outcomeIDs) == 0 {
		return map[string]float64{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(outcomeIDs))
	for _, id := range outcomeIDs {
		cmds[id] = pipe.HGetAll(ctx, quoteKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]float64, len(outcomeIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		priceStr, ok := vals["price"]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		result[id] = price
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
