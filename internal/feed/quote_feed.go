// Package feed runs the quote subscription: it owns the WebSocket
// connection lifecycle, delivers decoded quote events to the engine, and
// exposes the unsubscribe capability the engine uses for closed products.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quintic/buxbot/internal/domain"
	"github.com/quintic/buxbot/internal/platform/bux"
)

// reconnectDelay is the pause between connection attempts.
const reconnectDelay = 2 * time.Second

// Handler receives every decoded stream event.
type Handler func(ctx context.Context, ev domain.QuoteEvent)

// QuoteFeed connects to the subscription stream, subscribes to the active
// product set, and dispatches events until the context is cancelled. It
// reconnects on disconnect, resubscribing only products that are still
// active. Implements domain.Unsubscriber.
type QuoteFeed struct {
	wsURL   string
	token   string
	active  func() []string // products still eligible for quote delivery
	handler Handler
	rawTap  bux.RawFrameHandler // optional capture tap
	logger  *slog.Logger

	mu           sync.Mutex
	client       *bux.WSClient
	unsubscribed map[string]bool
}

// New creates a quote feed. active is consulted on every (re)connect to
// decide which products to subscribe; rawTap may be nil.
func New(wsURL, token string, active func() []string, handler Handler, rawTap bux.RawFrameHandler, logger *slog.Logger) *QuoteFeed {
	return &QuoteFeed{
		wsURL:        wsURL,
		token:        token,
		active:       active,
		handler:      handler,
		rawTap:       rawTap,
		logger:       logger.With(slog.String("component", "quote_feed")),
		unsubscribed: make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled or every product has been unsubscribed.
// Connection failures are retried with a fixed delay.
func (f *QuoteFeed) Run(ctx context.Context) error {
	for {
		products := f.subscribable()
		if len(products) == 0 {
			f.logger.Info("no active products left, feed exiting")
			return nil
		}

		err := f.runConnection(ctx, products)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			f.logger.Warn("subscription stream disconnected, reconnecting",
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// runConnection performs one connect/subscribe/dispatch cycle. It returns
// when the connection drops or ctx is cancelled.
func (f *QuoteFeed) runConnection(ctx context.Context, products []string) error {
	client := bux.NewWSClient(f.wsURL, f.token)
	defer client.Close()

	client.OnQuote(func(ev domain.QuoteEvent) {
		f.handler(ctx, ev)
	})
	if f.rawTap != nil {
		client.OnRawFrame(f.rawTap)
	}

	if err := client.Connect(ctx); err != nil {
		return err
	}
	if err := client.Subscribe(products); err != nil {
		return err
	}

	f.mu.Lock()
	f.client = client
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.client = nil
		f.mu.Unlock()
	}()

	f.logger.Info("subscribed to quote stream", slog.Int("products", len(products)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.Done():
		return domain.ErrWSDisconnect
	}
}

// Unsubscribe stops quote delivery for a product on the live connection and
// excludes it from any future resubscription.
func (f *QuoteFeed) Unsubscribe(ctx context.Context, productID string) error {
	f.mu.Lock()
	f.unsubscribed[productID] = true
	client := f.client
	f.mu.Unlock()

	if client == nil {
		return domain.ErrNotConnected
	}
	return client.Unsubscribe([]string{productID})
}

// subscribable is the active set minus products already unsubscribed.
func (f *QuoteFeed) subscribable() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []string
	for _, id := range f.active() {
		if !f.unsubscribed[id] {
			ids = append(ids, id)
		}
	}
	return ids
}
