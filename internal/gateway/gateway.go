// Package gateway adapts the BUX REST order client to the asynchronous
// OrderGateway contract consumed by the lifecycle engine.
package gateway

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quintic/buxbot/internal/domain"
	"github.com/quintic/buxbot/internal/platform/bux"
)

// Broker is the synchronous order surface of the BUX REST client.
type Broker interface {
	OpenPosition(ctx context.Context, trade domain.TradeConfig) (domain.OrderRecord, error)
	ClosePosition(ctx context.Context, positionID string) (domain.OrderRecord, error)
}

var _ Broker = (*bux.Client)(nil)

// BrokerGateway implements domain.OrderGateway. Each submission runs in its
// own goroutine; the outcome is delivered exactly once on a buffered
// channel, so the sender never blocks on a slow consumer.
type BrokerGateway struct {
	broker Broker
	logger *slog.Logger
}

// New creates a gateway that submits orders through the given broker client.
func New(broker Broker, logger *slog.Logger) *BrokerGateway {
	return &BrokerGateway{
		broker: broker,
		logger: logger.With(slog.String("component", "gateway")),
	}
}

// SubmitBuy submits a buy order for the trade and returns immediately.
func (g *BrokerGateway) SubmitBuy(ctx context.Context, trade domain.TradeConfig) <-chan domain.OrderOutcome {
	out := make(chan domain.OrderOutcome, 1)
	requestID := uuid.New().String()

	g.logger.Info("submitting buy order",
		slog.String("request_id", requestID),
		slog.String("product", trade.ProductID),
		slog.Float64("amount", trade.Amount),
		slog.Int("leverage", trade.Leverage),
	)

	go func() {
		rec, err := g.broker.OpenPosition(ctx, trade)
		out <- domain.OrderOutcome{
			RequestID: requestID,
			ProductID: trade.ProductID,
			Direction: domain.DirectionBuy,
			Record:    rec,
			Err:       err,
		}
	}()
	return out
}

// SubmitSell submits a sell for the position opened by an earlier buy and
// returns immediately.
func (g *BrokerGateway) SubmitSell(ctx context.Context, trade domain.TradeConfig, positionID string) <-chan domain.OrderOutcome {
	out := make(chan domain.OrderOutcome, 1)
	requestID := uuid.New().String()

	g.logger.Info("submitting sell order",
		slog.String("request_id", requestID),
		slog.String("product", trade.ProductID),
		slog.String("position_id", positionID),
	)

	go func() {
		rec, err := g.broker.ClosePosition(ctx, positionID)
		out <- domain.OrderOutcome{
			RequestID: requestID,
			ProductID: trade.ProductID,
			Direction: domain.DirectionSell,
			Record:    rec,
			Err:       err,
		}
	}()
	return out
}
