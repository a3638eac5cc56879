package domain

// TradeConfig holds the immutable per-instrument trading parameters. One
// entry is loaded per configured product at startup; the engine never
// mutates it.
type TradeConfig struct {
	ProductID       string
	Amount          float64 // invested amount, in account currency
	EntryPrice      float64
	StopLossPrice   float64
	TakeProfitPrice float64
	Leverage        int
}

// ShouldBuy reports whether a quote at the given price qualifies to open a
// position. The entry threshold is inclusive.
func (t TradeConfig) ShouldBuy(price float64) bool {
	return price >= t.EntryPrice
}

// ShouldSell reports whether a quote at the given price qualifies to close
// an open position. Both the stop-loss and take-profit thresholds are
// inclusive.
func (t TradeConfig) ShouldSell(price float64) bool {
	return price <= t.StopLossPrice || price >= t.TakeProfitPrice
}
