package monitor

import (
	"fmt"
	"time"

	"auto_hedge_go/hedge"
	"auto_hedge_go/ledger"
)

// EventKind tags a position event.
type EventKind string

const (
	EventHedgeState EventKind = "hedge_state"
	EventCountdown  EventKind = "countdown"
	EventOrder      EventKind = "order"
)

// Event is a notification for UI and monitoring readers.
type Event struct {
	Kind        EventKind
	Position    string
	MainOrderID string
	At          time.Time

	From  hedge.HedgeState // EventHedgeState
	To    hedge.HedgeState
	Price float64

	Action    hedge.NextAction // EventCountdown
	Remaining int

	Order ledger.Order // EventOrder

	Message string
}

func (e Event) String() string {
	switch e.Kind {
	case EventHedgeState:
		return fmt.Sprintf("[%s] hedge state %s -> %s at %.4f %s", e.Position, e.From, e.To, e.Price, e.Message)
	case EventCountdown:
		if e.Message != "" {
			return fmt.Sprintf("[%s] %s %s", e.Position, e.Action.Kind, e.Message)
		}
		return fmt.Sprintf("[%s] %s in %ds", e.Position, e.Action.Kind, e.Remaining)
	case EventOrder:
		return fmt.Sprintf("[%s] order %s", e.Position, e.Order)
	}
	return fmt.Sprintf("[%s] %s", e.Position, e.Kind)
}
