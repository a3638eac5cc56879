package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/quintic/buxbot/internal/domain"
)

// quoteTTL bounds how long a mirrored quote stays visible; a product whose
// feed went quiet should not look live forever.
const quoteTTL = 10 * time.Minute

// QuoteCache implements domain.QuoteCache using Redis hashes. Each
// product's latest price is stored at key "quote:{productID}" with fields
// "price" and "ts" (Unix nanosecond timestamp).
type QuoteCache struct {
	c *Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{c: c}
}

func quoteKey(productID string) string {
	return "quote:" + productID
}

// SetQuote stores the latest price and timestamp for a product.
func (qc *QuoteCache) SetQuote(ctx context.Context, productID string, price float64, ts time.Time) error {
	key := quoteKey(productID)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := qc.c.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", productID, err)
	}
	return nil
}

// GetQuote retrieves the latest mirrored price for a product. It returns
// domain.ErrNotFound when the product has no live quote.
func (qc *QuoteCache) GetQuote(ctx context.Context, productID string) (float64, time.Time, error) {
	vals, err := qc.c.rdb.HGetAll(ctx, quoteKey(productID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get quote %s: %w", productID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse quote price %s: %w", productID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse quote ts %s: %w", productID, err)
	}
	return price, time.Unix(0, tsNano), nil
}
