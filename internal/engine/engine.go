// Package engine implements the per-instrument trade lifecycle: it turns the
// stream of price quotes into at most one buy and one sell order per
// configured product, coordinates with asynchronous order completions, and
// stops quote delivery for products whose position has been closed.
//
// Mutual exclusion of order submission is enforced per product by atomic
// compare-and-set on the lifecycle phase, never by locking: a quote handler
// that observes an eligible phase submits only if it wins the CAS claim, and
// a result application rolls the phase forward or back with another CAS.
// Quote handling therefore never blocks on brokerage latency, and unrelated
// products never contend with each other.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/quintic/buxbot/internal/domain"
)

// position is the mutable per-product state. phase is the only field
// mutated concurrently; openOrder and closeOrder are each written exactly
// once, before the phase CAS that publishes them, so the CAS itself is the
// only synchronization they need.
type position struct {
	trade domain.TradeConfig

	phase      atomic.Int32
	openOrder  domain.OrderRecord
	closeOrder domain.OrderRecord
}

func (p *position) load() domain.Phase {
	return domain.Phase(p.phase.Load())
}

func (p *position) claim(from, to domain.Phase) bool {
	return p.phase.CompareAndSwap(int32(from), int32(to))
}

// Engine owns one position per configured product. Positions are created at
// construction and never removed; a product whose position closed stays
// closed for the process lifetime.
type Engine struct {
	gateway   domain.OrderGateway
	unsub     domain.Unsubscriber
	positions map[string]*position
	events    chan<- domain.LifecycleEvent
	logger    *slog.Logger
}

// New creates an engine for the given trades. events may be nil; when set,
// lifecycle events are delivered with a non-blocking send, so a slow
// consumer drops events rather than stalling quote processing.
func New(trades []domain.TradeConfig, gw domain.OrderGateway, events chan<- domain.LifecycleEvent, logger *slog.Logger) *Engine {
	positions := make(map[string]*position, len(trades))
	for _, t := range trades {
		if _, ok := positions[t.ProductID]; ok {
			continue
		}
		positions[t.ProductID] = &position{trade: t}
	}
	return &Engine{
		gateway:   gw,
		positions: positions,
		events:    events,
		logger:    logger.With(slog.String("component", "engine")),
	}
}

// SetUnsubscriber wires the feed's unsubscribe capability. Must be called
// before the first quote is delivered.
func (e *Engine) SetUnsubscriber(u domain.Unsubscriber) { e.unsub = u }

// HandleQuote evaluates one decoded stream event against the product's
// thresholds and, when a transition claim succeeds, submits the matching
// order. It never blocks on the order's outcome. Non-quote kinds, unknown
// products, lost claims, and quotes arriving in a pending or terminal phase
// are all dropped silently.
func (e *Engine) HandleQuote(ctx context.Context, ev domain.QuoteEvent) {
	if !ev.IsQuote() {
		return
	}

	pos, ok := e.positions[ev.ProductID]
	if !ok {
		return
	}

	// No actions while an order is in flight, and never again once closed.
	if phase := pos.load(); phase.Pending() || phase.Terminal() {
		return
	}

	// Buy check first, sell check second: the decision order is part of the
	// policy even though the phase guard makes them mutually exclusive today.
	if pos.trade.ShouldBuy(ev.Price) && pos.claim(domain.PhaseIdle, domain.PhaseBuyPending) {
		e.submitBuy(ctx, pos, ev.Price)
		return
	}

	if pos.trade.ShouldSell(ev.Price) && pos.claim(domain.PhaseOpen, domain.PhaseSellPending) {
		e.submitSell(ctx, pos, ev.Price)
		return
	}
}

// Phase returns the current lifecycle phase of a product.
func (e *Engine) Phase(productID string) (domain.Phase, bool) {
	pos, ok := e.positions[productID]
	if !ok {
		return 0, false
	}
	return pos.load(), true
}

// OpenOrder returns the order record of the product's successful buy, if
// one has ever succeeded.
func (e *Engine) OpenOrder(productID string) (domain.OrderRecord, bool) {
	pos, ok := e.positions[productID]
	if !ok {
		return domain.OrderRecord{}, false
	}
	switch pos.load() {
	case domain.PhaseOpen, domain.PhaseSellPending, domain.PhaseClosed:
		return pos.openOrder, true
	default:
		return domain.OrderRecord{}, false
	}
}

// ActiveProducts returns the products still eligible for quote delivery,
// i.e. everything not yet closed. Used to (re)subscribe the feed.
func (e *Engine) ActiveProducts() []string {
	ids := make([]string, 0, len(e.positions))
	for id, pos := range e.positions {
		if !pos.load().Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot returns the phase of every configured product.
func (e *Engine) Snapshot() map[string]domain.Phase {
	snap := make(map[string]domain.Phase, len(e.positions))
	for id, pos := range e.positions {
		snap[id] = pos.load()
	}
	return snap
}

func (e *Engine) submitBuy(ctx context.Context, pos *position, price float64) {
	outcomes := e.gateway.SubmitBuy(ctx, pos.trade)

	e.logger.Info("buy claimed",
		slog.String("product", pos.trade.ProductID),
		slog.Float64("price", price),
		slog.Float64("entry_price", pos.trade.EntryPrice),
	)
	e.emit(domain.LifecycleEvent{
		Type:      domain.EventBuySubmitted,
		ProductID: pos.trade.ProductID,
		Phase:     domain.PhaseBuyPending,
		Price:     price,
	})

	go e.applyBuyOutcome(ctx, pos, outcomes)
}

func (e *Engine) submitSell(ctx context.Context, pos *position, price float64) {
	// openOrder was published by the BUY_PENDING -> OPEN transition, which
	// happened before the OPEN -> SELL_PENDING claim we just won.
	outcomes := e.gateway.SubmitSell(ctx, pos.trade, pos.openOrder.PositionID)

	e.logger.Info("sell claimed",
		slog.String("product", pos.trade.ProductID),
		slog.Float64("price", price),
		slog.Float64("stop_loss", pos.trade.StopLossPrice),
		slog.Float64("take_profit", pos.trade.TakeProfitPrice),
	)
	e.emit(domain.LifecycleEvent{
		Type:      domain.EventSellSubmitted,
		ProductID: pos.trade.ProductID,
		Phase:     domain.PhaseSellPending,
		Price:     price,
	})

	go e.applySellOutcome(ctx, pos, outcomes)
}

// applyBuyOutcome waits for the gateway to resolve the buy and applies the
// result. Only one buy is ever in flight per product, so exactly this
// goroutine can observe BUY_PENDING.
func (e *Engine) applyBuyOutcome(ctx context.Context, pos *position, outcomes <-chan domain.OrderOutcome) {
	outcome := <-outcomes

	if outcome.Err != nil {
		// Full retry eligibility on the next actionable quote.
		pos.claim(domain.PhaseBuyPending, domain.PhaseIdle)
		e.logger.Error("buy failed",
			slog.String("product", pos.trade.ProductID),
			slog.String("request_id", outcome.RequestID),
			slog.String("error", outcome.Err.Error()),
		)
		e.emit(domain.LifecycleEvent{
			Type:      domain.EventBuyFailed,
			ProductID: pos.trade.ProductID,
			Phase:     domain.PhaseIdle,
			RequestID: outcome.RequestID,
			Error:     outcome.Err.Error(),
		})
		return
	}

	pos.openOrder = outcome.Record
	pos.claim(domain.PhaseBuyPending, domain.PhaseOpen)
	e.logger.Info("buy filled",
		slog.String("product", pos.trade.ProductID),
		slog.String("request_id", outcome.RequestID),
		slog.String("position_id", outcome.Record.PositionID),
	)
	e.emit(domain.LifecycleEvent{
		Type:      domain.EventBuyFilled,
		ProductID: pos.trade.ProductID,
		Phase:     domain.PhaseOpen,
		RequestID: outcome.RequestID,
		Record:    outcome.Record,
	})
}

// applySellOutcome waits for the gateway to resolve the sell and applies
// the result. On success the product is terminally closed and the feed is
// told to stop delivering its quotes; the unsubscribe is best effort.
func (e *Engine) applySellOutcome(ctx context.Context, pos *position, outcomes <-chan domain.OrderOutcome) {
	outcome := <-outcomes

	if outcome.Err != nil {
		// Back to OPEN: stop-loss / take-profit checks resume on the next quote.
		pos.claim(domain.PhaseSellPending, domain.PhaseOpen)
		e.logger.Error("sell failed",
			slog.String("product", pos.trade.ProductID),
			slog.String("request_id", outcome.RequestID),
			slog.String("error", outcome.Err.Error()),
		)
		e.emit(domain.LifecycleEvent{
			Type:      domain.EventSellFailed,
			ProductID: pos.trade.ProductID,
			Phase:     domain.PhaseOpen,
			RequestID: outcome.RequestID,
			Error:     outcome.Err.Error(),
		})
		return
	}

	pos.closeOrder = outcome.Record
	pos.claim(domain.PhaseSellPending, domain.PhaseClosed)
	e.logger.Info("sell filled",
		slog.String("product", pos.trade.ProductID),
		slog.String("request_id", outcome.RequestID),
		slog.String("position_id", outcome.Record.PositionID),
	)
	e.emit(domain.LifecycleEvent{
		Type:      domain.EventSellFilled,
		ProductID: pos.trade.ProductID,
		Phase:     domain.PhaseClosed,
		RequestID: outcome.RequestID,
		Record:    outcome.Record,
	})

	if e.unsub != nil {
		if err := e.unsub.Unsubscribe(ctx, pos.trade.ProductID); err != nil {
			// The position is closed either way.
			e.logger.Error("unsubscribe failed",
				slog.String("product", pos.trade.ProductID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (e *Engine) emit(ev domain.LifecycleEvent) {
	if e.events == nil {
		return
	}
	ev.At = time.Now().UTC()
	select {
	case e.events <- ev:
	default:
		e.logger.Debug("lifecycle event dropped",
			slog.String("type", string(ev.Type)),
			slog.String("product", ev.ProductID),
		)
	}
}
