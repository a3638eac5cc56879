package domain

import (
	"context"
	"io"
	"time"
)

// OrderGateway submits orders to the brokerage. Both calls return
// immediately; the submission runs in the background and its outcome is
// delivered exactly once on the returned channel. Transport failures and
// non-success brokerage responses both surface as OrderOutcome.Err.
type OrderGateway interface {
	SubmitBuy(ctx context.Context, trade TradeConfig) <-chan OrderOutcome
	SubmitSell(ctx context.Context, trade TradeConfig, positionID string) <-chan OrderOutcome
}

// Unsubscriber stops quote delivery for a product. Best effort: a failure
// must never affect the caller's state.
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, productID string) error
}

// QuoteCache mirrors the latest observed price per product for operator
// tooling. Implementations must tolerate concurrent writers.
type QuoteCache interface {
	SetQuote(ctx context.Context, productID string, price float64, ts time.Time) error
	GetQuote(ctx context.Context, productID string) (float64, time.Time, error)
}

// SignalBus broadcasts lifecycle events (fills, failures) to external
// consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// BlobWriter stores captured market data objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
