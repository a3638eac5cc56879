package domain

import "time"

// Direction indicates which way an order trades.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// MonetaryAmount is a brokerage money value. The amount is transported as a
// string to preserve the broker's decimal representation.
type MonetaryAmount struct {
	Currency string
	Decimals int
	Amount   string
}

// ProductInfo describes the traded product as reported by the brokerage.
type ProductInfo struct {
	SecurityID  string
	Symbol      string
	DisplayName string
}

// OrderRecord is the brokerage's view of a completed order submission. The
// engine treats it as opaque except for PositionID, which a successful buy
// carries and a later sell requires.
type OrderRecord struct {
	ID              string
	PositionID      string
	ProfitAndLoss   MonetaryAmount
	Product         ProductInfo
	InvestingAmount MonetaryAmount
	Price           MonetaryAmount
	Leverage        int
	Direction       Direction
	Type            string
	DateCreated     time.Time
}

// OrderOutcome is the asynchronous result of one order submission. Exactly
// one of Record / Err is meaningful: Err == nil means the submission
// succeeded and Record is populated.
type OrderOutcome struct {
	RequestID string // client-generated id tying the outcome to its submission
	ProductID string
	Direction Direction
	Record    OrderRecord
	Err       error
}
