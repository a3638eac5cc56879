package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quintic/buxbot/internal/domain"
)

const testProduct = "sb26493"

// pendingOrder is one recorded submission whose outcome the test resolves.
type pendingOrder struct {
	trade      domain.TradeConfig
	positionID string
	direction  domain.Direction
	out        chan domain.OrderOutcome
}

func (p *pendingOrder) resolve(rec domain.OrderRecord) {
	p.out <- domain.OrderOutcome{
		RequestID: "req-1",
		ProductID: p.trade.ProductID,
		Direction: p.direction,
		Record:    rec,
	}
}

func (p *pendingOrder) fail(err error) {
	p.out <- domain.OrderOutcome{
		RequestID: "req-1",
		ProductID: p.trade.ProductID,
		Direction: p.direction,
		Err:       err,
	}
}

// fakeGateway records submissions and leaves their resolution to the test.
type fakeGateway struct {
	mu    sync.Mutex
	buys  []*pendingOrder
	sells []*pendingOrder
}

func (g *fakeGateway) SubmitBuy(ctx context.Context, trade domain.TradeConfig) <-chan domain.OrderOutcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := &pendingOrder{trade: trade, direction: domain.DirectionBuy, out: make(chan domain.OrderOutcome, 1)}
	g.buys = append(g.buys, p)
	return p.out
}

func (g *fakeGateway) SubmitSell(ctx context.Context, trade domain.TradeConfig, positionID string) <-chan domain.OrderOutcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := &pendingOrder{trade: trade, positionID: positionID, direction: domain.DirectionSell, out: make(chan domain.OrderOutcome, 1)}
	g.sells = append(g.sells, p)
	return p.out
}

func (g *fakeGateway) buyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buys)
}

func (g *fakeGateway) sellCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sells)
}

func (g *fakeGateway) lastBuy() *pendingOrder {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buys[len(g.buys)-1]
}

func (g *fakeGateway) lastSell() *pendingOrder {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sells[len(g.sells)-1]
}

// fakeUnsubscriber counts unsubscribe calls per product.
type fakeUnsubscriber struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func newFakeUnsubscriber() *fakeUnsubscriber {
	return &fakeUnsubscriber{calls: make(map[string]int)}
}

func (u *fakeUnsubscriber) Unsubscribe(ctx context.Context, productID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls[productID]++
	return u.err
}

func (u *fakeUnsubscriber) count(productID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[productID]
}

func testTrade() domain.TradeConfig {
	return domain.TradeConfig{
		ProductID:       testProduct,
		Amount:          100,
		EntryPrice:      10,
		StopLossPrice:   5,
		TakeProfitPrice: 15,
		Leverage:        2,
	}
}

func newTestEngine(t *testing.T, trades ...domain.TradeConfig) (*Engine, *fakeGateway, *fakeUnsubscriber) {
	t.Helper()
	if len(trades) == 0 {
		trades = []domain.TradeConfig{testTrade()}
	}
	gw := &fakeGateway{}
	unsub := newFakeUnsubscriber()
	eng := New(trades, gw, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng.SetUnsubscriber(unsub)
	return eng, gw, unsub
}

func quote(productID string, price float64) domain.QuoteEvent {
	return domain.QuoteEvent{
		ProductID: productID,
		Kind:      domain.KindQuote,
		Price:     price,
		Timestamp: time.Now(),
	}
}

func record(positionID string) domain.OrderRecord {
	return domain.OrderRecord{ID: "order-" + positionID, PositionID: positionID}
}

func requirePhase(t *testing.T, eng *Engine, productID string, want domain.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		phase, ok := eng.Phase(productID)
		return ok && phase == want
	}, time.Second, time.Millisecond, "expected phase %s", want)
}

func TestQuoteBelowEntryTakesNoAction(t *testing.T) {
	eng, gw, _ := newTestEngine(t)

	eng.HandleQuote(context.Background(), quote(testProduct, 9))

	assert.Equal(t, 0, gw.buyCount())
	phase, ok := eng.Phase(testProduct)
	require.True(t, ok)
	assert.Equal(t, domain.PhaseIdle, phase)
}

func TestFullLifecycle(t *testing.T) {
	eng, gw, unsub := newTestEngine(t)
	ctx := context.Background()

	// Below entry: nothing happens.
	eng.HandleQuote(ctx, quote(testProduct, 9))
	require.Equal(t, 0, gw.buyCount())

	// At entry (inclusive): buy claimed.
	eng.HandleQuote(ctx, quote(testProduct, 10))
	require.Equal(t, 1, gw.buyCount())
	phase, _ := eng.Phase(testProduct)
	require.Equal(t, domain.PhaseBuyPending, phase)

	gw.lastBuy().resolve(record("P1"))
	requirePhase(t, eng, testProduct, domain.PhaseOpen)

	open, ok := eng.OpenOrder(testProduct)
	require.True(t, ok)
	assert.Equal(t, "P1", open.PositionID)

	// Above take-profit: sell claimed with the buy's position ID.
	eng.HandleQuote(ctx, quote(testProduct, 16))
	require.Equal(t, 1, gw.sellCount())
	assert.Equal(t, "P1", gw.lastSell().positionID)

	gw.lastSell().resolve(record("P1"))
	requirePhase(t, eng, testProduct, domain.PhaseClosed)

	require.Eventually(t, func() bool {
		return unsub.count(testProduct) == 1
	}, time.Second, time.Millisecond)

	// Terminal: further quotes never act again.
	eng.HandleQuote(ctx, quote(testProduct, 16))
	eng.HandleQuote(ctx, quote(testProduct, 3))
	assert.Equal(t, 1, gw.buyCount())
	assert.Equal(t, 1, gw.sellCount())
	assert.Equal(t, 1, unsub.count(testProduct))
}

func TestBuyFailureRestoresRetry(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	ctx := context.Background()

	eng.HandleQuote(ctx, quote(testProduct, 10))
	require.Equal(t, 1, gw.buyCount())

	gw.lastBuy().fail(errors.New("HTTP 500"))
	requirePhase(t, eng, testProduct, domain.PhaseIdle)

	// Next qualifying quote submits exactly one more buy.
	eng.HandleQuote(ctx, quote(testProduct, 11))
	require.Equal(t, 2, gw.buyCount())

	gw.lastBuy().resolve(record("P2"))
	requirePhase(t, eng, testProduct, domain.PhaseOpen)
}

func TestSellFailureRestoresRetry(t *testing.T) {
	eng, gw, unsub := newTestEngine(t)
	ctx := context.Background()

	eng.HandleQuote(ctx, quote(testProduct, 10))
	gw.lastBuy().resolve(record("P1"))
	requirePhase(t, eng, testProduct, domain.PhaseOpen)

	eng.HandleQuote(ctx, quote(testProduct, 16))
	require.Equal(t, 1, gw.sellCount())

	gw.lastSell().fail(errors.New("HTTP 400"))
	requirePhase(t, eng, testProduct, domain.PhaseOpen)
	assert.Equal(t, 0, unsub.count(testProduct))

	// Stop-loss boundary is inclusive and still armed after the failure.
	eng.HandleQuote(ctx, quote(testProduct, 5))
	require.Equal(t, 2, gw.sellCount())
	assert.Equal(t, "P1", gw.lastSell().positionID)

	gw.lastSell().resolve(record("P1"))
	requirePhase(t, eng, testProduct, domain.PhaseClosed)
	require.Eventually(t, func() bool {
		return unsub.count(testProduct) == 1
	}, time.Second, time.Millisecond)
}

func TestQuotesDroppedWhilePending(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	ctx := context.Background()

	eng.HandleQuote(ctx, quote(testProduct, 10))
	require.Equal(t, 1, gw.buyCount())

	// Anything that arrives while the buy is in flight is dropped.
	eng.HandleQuote(ctx, quote(testProduct, 20))
	eng.HandleQuote(ctx, quote(testProduct, 4))
	assert.Equal(t, 1, gw.buyCount())
	assert.Equal(t, 0, gw.sellCount())
	phase, _ := eng.Phase(testProduct)
	assert.Equal(t, domain.PhaseBuyPending, phase)

	gw.lastBuy().resolve(record("P1"))
	requirePhase(t, eng, testProduct, domain.PhaseOpen)

	eng.HandleQuote(ctx, quote(testProduct, 16))
	require.Equal(t, 1, gw.sellCount())

	eng.HandleQuote(ctx, quote(testProduct, 16))
	eng.HandleQuote(ctx, quote(testProduct, 2))
	assert.Equal(t, 1, gw.sellCount())
}

func TestUnknownProductDropped(t *testing.T) {
	eng, gw, _ := newTestEngine(t)

	eng.HandleQuote(context.Background(), quote("sb00000", 100))

	assert.Equal(t, 0, gw.buyCount())
	_, ok := eng.Phase("sb00000")
	assert.False(t, ok)
}

func TestNonQuoteKindsIgnored(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	ctx := context.Background()

	for _, kind := range []domain.QuoteKind{
		domain.KindConnected,
		domain.KindConnectFailed,
		domain.KindPerformance,
		domain.KindPromotion,
		domain.KindPositionClosed,
	} {
		eng.HandleQuote(ctx, domain.QuoteEvent{ProductID: testProduct, Kind: kind, Price: 100})
	}

	assert.Equal(t, 0, gw.buyCount())
	phase, _ := eng.Phase(testProduct)
	assert.Equal(t, domain.PhaseIdle, phase)
}

func TestThresholdBoundariesInclusive(t *testing.T) {
	tests := []struct {
		name      string
		phase     domain.Phase
		price     float64
		wantOrder bool
	}{
		{"just below entry", domain.PhaseIdle, 9.999, false},
		{"at entry", domain.PhaseIdle, 10, true},
		{"above entry", domain.PhaseIdle, 10.001, true},
		{"between thresholds", domain.PhaseOpen, 10, false},
		{"at stop loss", domain.PhaseOpen, 5, true},
		{"just above stop loss", domain.PhaseOpen, 5.001, false},
		{"at take profit", domain.PhaseOpen, 15, true},
		{"just below take profit", domain.PhaseOpen, 14.999, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, gw, _ := newTestEngine(t)
			ctx := context.Background()

			if tt.phase == domain.PhaseOpen {
				eng.HandleQuote(ctx, quote(testProduct, 100))
				gw.lastBuy().resolve(record("P1"))
				requirePhase(t, eng, testProduct, domain.PhaseOpen)
			}

			eng.HandleQuote(ctx, quote(testProduct, tt.price))

			var got int
			if tt.phase == domain.PhaseOpen {
				got = gw.sellCount()
			} else {
				got = gw.buyCount()
			}
			if tt.wantOrder {
				assert.Equal(t, 1, got)
			} else {
				assert.Equal(t, 0, got)
			}
		})
	}
}

func TestConcurrentQuotesSubmitSingleBuy(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	ctx := context.Background()

	const workers = 64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			eng.HandleQuote(ctx, quote(testProduct, 12))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, gw.buyCount(), "exactly one racing claim must win")
}

func TestConcurrentQuotesSubmitSingleSell(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	ctx := context.Background()

	eng.HandleQuote(ctx, quote(testProduct, 10))
	gw.lastBuy().resolve(record("P1"))
	requirePhase(t, eng, testProduct, domain.PhaseOpen)

	const workers = 64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			// Alternate between stop-loss and take-profit triggers.
			price := 16.0
			if n%2 == 0 {
				price = 4.0
			}
			eng.HandleQuote(ctx, quote(testProduct, price))
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, gw.sellCount())
	assert.Equal(t, 1, gw.buyCount())
}

func TestUnsubscribeFailureKeepsPositionClosed(t *testing.T) {
	eng, gw, unsub := newTestEngine(t)
	unsub.err = errors.New("stream gone")
	ctx := context.Background()

	eng.HandleQuote(ctx, quote(testProduct, 10))
	gw.lastBuy().resolve(record("P1"))
	requirePhase(t, eng, testProduct, domain.PhaseOpen)

	eng.HandleQuote(ctx, quote(testProduct, 16))
	gw.lastSell().resolve(record("P1"))

	requirePhase(t, eng, testProduct, domain.PhaseClosed)
	require.Eventually(t, func() bool {
		return unsub.count(testProduct) == 1
	}, time.Second, time.Millisecond)

	eng.HandleQuote(ctx, quote(testProduct, 16))
	assert.Equal(t, 1, gw.sellCount())
}

func TestProductsIndependent(t *testing.T) {
	other := testTrade()
	other.ProductID = "sb11111"
	other.EntryPrice = 100
	other.StopLossPrice = 90
	other.TakeProfitPrice = 110

	eng, gw, _ := newTestEngine(t, testTrade(), other)
	ctx := context.Background()

	eng.HandleQuote(ctx, quote(testProduct, 10))
	require.Equal(t, 1, gw.buyCount())

	// The second product trades regardless of the first being pending.
	eng.HandleQuote(ctx, quote("sb11111", 100))
	require.Equal(t, 2, gw.buyCount())

	assert.ElementsMatch(t, []string{testProduct, "sb11111"}, eng.ActiveProducts())
}

func TestActiveProductsExcludesClosed(t *testing.T) {
	eng, gw, _ := newTestEngine(t)
	ctx := context.Background()

	require.Equal(t, []string{testProduct}, eng.ActiveProducts())

	eng.HandleQuote(ctx, quote(testProduct, 10))
	gw.lastBuy().resolve(record("P1"))
	requirePhase(t, eng, testProduct, domain.PhaseOpen)

	eng.HandleQuote(ctx, quote(testProduct, 16))
	gw.lastSell().resolve(record("P1"))
	requirePhase(t, eng, testProduct, domain.PhaseClosed)

	assert.Empty(t, eng.ActiveProducts())
	assert.Equal(t, map[string]domain.Phase{testProduct: domain.PhaseClosed}, eng.Snapshot())
}

func TestLifecycleEventsEmitted(t *testing.T) {
	events := make(chan domain.LifecycleEvent, 16)
	gw := &fakeGateway{}
	eng := New([]domain.TradeConfig{testTrade()}, gw, events, slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng.SetUnsubscriber(newFakeUnsubscriber())
	ctx := context.Background()

	eng.HandleQuote(ctx, quote(testProduct, 10))
	gw.lastBuy().resolve(record("P1"))
	requirePhase(t, eng, testProduct, domain.PhaseOpen)

	eng.HandleQuote(ctx, quote(testProduct, 16))
	gw.lastSell().resolve(record("P1"))
	requirePhase(t, eng, testProduct, domain.PhaseClosed)

	var types []domain.LifecycleEventType
	for len(types) < 4 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", types)
		}
	}
	assert.Equal(t, []domain.LifecycleEventType{
		domain.EventBuySubmitted,
		domain.EventBuyFilled,
		domain.EventSellSubmitted,
		domain.EventSellFilled,
	}, types)
}
