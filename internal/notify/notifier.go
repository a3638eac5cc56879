// Package notify delivers trade lifecycle notifications to operator
// channels (Telegram, Discord). Delivery is best effort: a failing channel
// is logged and never affects trading.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quintic/buxbot/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier formats lifecycle events and dispatches them to all senders.
// Only fill and failure events are forwarded; submissions are log noise.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders. With no senders
// it is inert.
func New(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// HandleEvent formats and dispatches one lifecycle event.
func (n *Notifier) HandleEvent(ctx context.Context, ev domain.LifecycleEvent) {
	if len(n.senders) == 0 {
		return
	}

	var title, message string
	switch ev.Type {
	case domain.EventBuyFilled:
		title = fmt.Sprintf("Position opened: %s", ev.ProductID)
		message = fmt.Sprintf("position %s at %s %s, leverage %dx",
			ev.Record.PositionID, ev.Record.Price.Amount, ev.Record.Price.Currency, ev.Record.Leverage)
	case domain.EventSellFilled:
		title = fmt.Sprintf("Position closed: %s", ev.ProductID)
		message = fmt.Sprintf("position %s, P&L %s %s",
			ev.Record.PositionID, ev.Record.ProfitAndLoss.Amount, ev.Record.ProfitAndLoss.Currency)
	case domain.EventBuyFailed, domain.EventSellFailed:
		title = fmt.Sprintf("Order failed: %s", ev.ProductID)
		message = ev.Error
	default:
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Warn("notification delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}
