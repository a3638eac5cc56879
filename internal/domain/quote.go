package domain

import "time"

// QuoteKind identifies the type of a message delivered on the subscription
// stream. Only KindQuote carries a tradable price; every other kind is
// informational and never reaches the lifecycle engine.
type QuoteKind string

const (
	KindConnected      QuoteKind = "connect.connected"
	KindConnectFailed  QuoteKind = "connect.failed"
	KindPerformance    QuoteKind = "portfolio.performance"
	KindPromotion      QuoteKind = "incentives.promotion.banner"
	KindPositionClosed QuoteKind = "portfolio.position.closed"
	KindQuote          QuoteKind = "trading.quote"
)

// QuoteEvent is a decoded message from the subscription stream.
type QuoteEvent struct {
	ProductID string
	Kind      QuoteKind
	Price     float64
	Timestamp time.Time
}

// IsQuote reports whether the event is a tradable price update.
func (q QuoteEvent) IsQuote() bool {
	return q.Kind == KindQuote
}
