package app

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/quintic/buxbot/internal/domain"
)

// runTelemetry fans lifecycle events out to metrics, the signal bus, and
// operator notifications, and mirrors quotes into the cache. Everything
// here is best effort; the trading path never waits on it.
func (a *App) runTelemetry(ctx context.Context, deps *Dependencies, events <-chan domain.LifecycleEvent, quotes <-chan domain.QuoteEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-events:
			a.recordEvent(deps, ev)

			if deps.SignalBus != nil {
				payload, err := json.Marshal(ev)
				if err == nil {
					err = deps.SignalBus.Publish(ctx, deps.BusChannel, payload)
				}
				if err != nil {
					a.logger.Warn("lifecycle event publish failed",
						slog.String("type", string(ev.Type)),
						slog.String("error", err.Error()),
					)
				}
			}

			deps.Notifier.HandleEvent(ctx, ev)

		case q := <-quotes:
			if deps.QuoteCache != nil {
				if err := deps.QuoteCache.SetQuote(ctx, q.ProductID, q.Price, q.Timestamp); err != nil {
					a.logger.Warn("quote mirror failed",
						slog.String("product", q.ProductID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// recordEvent updates the order counters and position gauges.
func (a *App) recordEvent(deps *Dependencies, ev domain.LifecycleEvent) {
	m := deps.Metrics
	switch ev.Type {
	case domain.EventBuySubmitted:
		m.OrdersSubmitted.WithLabelValues("buy").Inc()
	case domain.EventSellSubmitted:
		m.OrdersSubmitted.WithLabelValues("sell").Inc()
	case domain.EventBuyFilled:
		m.OrdersFilled.WithLabelValues("buy").Inc()
		m.OpenPositions.Inc()
	case domain.EventSellFilled:
		m.OrdersFilled.WithLabelValues("sell").Inc()
		m.OpenPositions.Dec()
		m.ClosedPositions.Inc()
	case domain.EventBuyFailed:
		m.OrdersFailed.WithLabelValues("buy").Inc()
	case domain.EventSellFailed:
		m.OrdersFailed.WithLabelValues("sell").Inc()
	}
}
