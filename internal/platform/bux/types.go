package bux

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/quintic/buxbot/internal/domain"
)

// productTopicPrefix namespaces product IDs on the subscription channel.
const productTopicPrefix = "trading.product."

// --------------------------------------------------------------------------
// Subscription stream DTOs
// --------------------------------------------------------------------------

// subscriptionCommand is the frame sent to manage stream subscriptions.
// Product IDs are wrapped in the trading.product.* topic namespace.
type subscriptionCommand struct {
	SubscribeTo     []string `json:"subscribeTo,omitempty"`
	UnsubscribeFrom []string `json:"unsubscribeFrom,omitempty"`
}

func toTopics(productIDs []string) []string {
	topics := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		topics = append(topics, productTopicPrefix+id)
	}
	return topics
}

// streamMessage is the envelope of every message on the subscription stream.
type streamMessage struct {
	Type    string        `json:"t"`
	ID      string        `json:"id,omitempty"`
	Version int           `json:"v,omitempty"`
	Body    streamMsgBody `json:"body,omitempty"`
}

type streamMsgBody struct {
	SecurityID       string     `json:"securityId,omitempty"`
	CurrentPrice     *flexFloat `json:"currentPrice,omitempty"`
	TimeStamp        int64      `json:"timeStamp,omitempty"`
	DeveloperMessage string     `json:"developerMessage,omitempty"`
	ErrorCode        string     `json:"errorCode,omitempty"`
}

// flexFloat unmarshals from a JSON number or a quoted decimal string; the
// feed has been observed sending currentPrice both ways.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// toEvent converts a decoded stream message into the domain event consumed
// by the engine. Messages without a price decode with Price zero; only
// trading.quote messages carry a meaningful one.
func (m streamMessage) toEvent() domain.QuoteEvent {
	ev := domain.QuoteEvent{
		ProductID: m.Body.SecurityID,
		Kind:      domain.QuoteKind(m.Type),
	}
	if m.Body.CurrentPrice != nil {
		ev.Price = float64(*m.Body.CurrentPrice)
	}
	if m.Body.TimeStamp > 0 {
		ev.Timestamp = time.UnixMilli(m.Body.TimeStamp)
	}
	return ev
}

// --------------------------------------------------------------------------
// Order REST DTOs
// --------------------------------------------------------------------------

type apiAmount struct {
	Currency string `json:"currency"`
	Decimals int    `json:"decimals"`
	Amount   string `json:"amount"`
}

func (a apiAmount) toDomain() domain.MonetaryAmount {
	return domain.MonetaryAmount{Currency: a.Currency, Decimals: a.Decimals, Amount: a.Amount}
}

type apiSource struct {
	SourceType string `json:"sourceType"`
}

// orderRequest is the payload for opening a position.
type orderRequest struct {
	ProductID       string    `json:"productId"`
	InvestingAmount apiAmount `json:"investingAmount"`
	Leverage        int       `json:"leverage"`
	Direction       string    `json:"direction"`
	Source          apiSource `json:"source"`
}

func newBuyOrderRequest(trade domain.TradeConfig) orderRequest {
	return orderRequest{
		ProductID: trade.ProductID,
		InvestingAmount: apiAmount{
			Currency: "BUX",
			Decimals: 1,
			Amount:   strconv.FormatFloat(trade.Amount, 'f', -1, 64),
		},
		Leverage:  trade.Leverage,
		Direction: string(domain.DirectionBuy),
		Source:    apiSource{SourceType: "OTHER"},
	}
}

type apiProduct struct {
	SecurityID  string `json:"securityId"`
	Symbol      string `json:"symbol"`
	DisplayName string `json:"displayName"`
}

// apiOrderResponse is the brokerage response to a buy or sell call.
type apiOrderResponse struct {
	ID              string     `json:"id"`
	PositionID      string     `json:"positionId"`
	ProfitAndLoss   apiAmount  `json:"profitAndLoss"`
	Product         apiProduct `json:"product"`
	InvestingAmount apiAmount  `json:"investingAmount"`
	Price           apiAmount  `json:"price"`
	Leverage        int        `json:"leverage"`
	Direction       string     `json:"direction"`
	Type            string     `json:"type"`
	DateCreated     int64      `json:"dateCreated"`
}

func (r apiOrderResponse) toDomain() domain.OrderRecord {
	return domain.OrderRecord{
		ID:            r.ID,
		PositionID:    r.PositionID,
		ProfitAndLoss: r.ProfitAndLoss.toDomain(),
		Product: domain.ProductInfo{
			SecurityID:  r.Product.SecurityID,
			Symbol:      r.Product.Symbol,
			DisplayName: r.Product.DisplayName,
		},
		InvestingAmount: r.InvestingAmount.toDomain(),
		Price:           r.Price.toDomain(),
		Leverage:        r.Leverage,
		Direction:       domain.Direction(r.Direction),
		Type:            r.Type,
		DateCreated:     time.UnixMilli(r.DateCreated),
	}
}
