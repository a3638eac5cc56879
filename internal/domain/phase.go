package domain

// Phase is the lifecycle state of one instrument's trade. Transitions are
// performed exclusively through atomic compare-and-set on the stored value,
// which is what guarantees at most one outstanding order per instrument.
type Phase int32

const (
	// PhaseIdle: no order ever submitted; eligible to buy.
	PhaseIdle Phase = iota
	// PhaseBuyPending: a buy was submitted and has not resolved yet.
	PhaseBuyPending
	// PhaseOpen: the buy succeeded; eligible to sell.
	PhaseOpen
	// PhaseSellPending: a sell was submitted and has not resolved yet.
	PhaseSellPending
	// PhaseClosed: the sell succeeded. Terminal.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBuyPending:
		return "buy_pending"
	case PhaseOpen:
		return "open"
	case PhaseSellPending:
		return "sell_pending"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can occur.
func (p Phase) Terminal() bool {
	return p == PhaseClosed
}

// Pending reports whether an order is in flight for this phase.
func (p Phase) Pending() bool {
	return p == PhaseBuyPending || p == PhaseSellPending
}
