package exchange

import (
	"context"

	"auto_hedge_go/ledger"
)

// OrderUpdateCallback receives submission-side reports for an order.
// Parameters: order ID, new status, fill price, cumulative filled quantity.
type OrderUpdateCallback func(orderID string, status ledger.Status, filledPrice, filledQuantity float64)

// Submitter is the order submission boundary: it turns ledger records into real submissions and
// cancellations and reports back through the callback registered at construction time.
type Submitter interface {
	// Submit places a just-created order.
	Submit(ctx context.Context, order ledger.Order) error

	// Cancel withdraws a just-cancelled order.
	Cancel(ctx context.Context, order ledger.Order) error

	// SetOrderUpdateCallback registers the single receiver of order updates.
	// Real clients would implement this via a user-data stream; the mock calls it directly.
	SetOrderUpdateCallback(callback OrderUpdateCallback)
}
