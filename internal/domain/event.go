package domain

import "time"

// LifecycleEventType enumerates the engine's observable transitions.
type LifecycleEventType string

const (
	EventBuySubmitted  LifecycleEventType = "buy_submitted"
	EventBuyFilled     LifecycleEventType = "buy_filled"
	EventBuyFailed     LifecycleEventType = "buy_failed"
	EventSellSubmitted LifecycleEventType = "sell_submitted"
	EventSellFilled    LifecycleEventType = "sell_filled"
	EventSellFailed    LifecycleEventType = "sell_failed"
)

// LifecycleEvent is emitted by the engine on every order submission and
// result application. Consumed by the telemetry fan-out (metrics, signal
// bus, notifications); the engine itself never blocks on delivery.
type LifecycleEvent struct {
	Type      LifecycleEventType `json:"type"`
	ProductID string             `json:"product_id"`
	Phase     Phase              `json:"phase"`            // phase after the transition
	Price     float64            `json:"price,omitempty"`  // quote price that triggered a submission
	RequestID string             `json:"request_id,omitempty"`
	Record    OrderRecord        `json:"record,omitzero"` // populated on filled events
	Error     string             `json:"error,omitempty"` // populated on failed events
	At        time.Time          `json:"at"`
}
