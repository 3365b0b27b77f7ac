package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"auto_hedge_go/feed"
	"auto_hedge_go/ledger"
	"auto_hedge_go/logs"
)

// Ensure MockSubmitter implements Submitter.
var _ Submitter = (*MockSubmitter)(nil)

// MockSubmitter accepts orders in memory and fills limit orders against the prices it is fed.
type MockSubmitter struct {
	mu            sync.RWMutex
	openOrders    map[string]*ledger.Order
	closedOrders  map[string]*ledger.Order
	currentPrice  map[string]float64
	onOrderUpdate OrderUpdateCallback
}

type update struct {
	id     string
	status ledger.Status
	price  float64
	qty    float64
}

func NewMockSubmitter() *MockSubmitter {
	return &MockSubmitter{
		openOrders:   make(map[string]*ledger.Order),
		closedOrders: make(map[string]*ledger.Order),
		currentPrice: make(map[string]float64),
	}
}

// SetOrderUpdateCallback sets the callback function for order updates.
func (m *MockSubmitter) SetOrderUpdateCallback(callback OrderUpdateCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOrderUpdate = callback
}

// Submit accepts a pending order. Market orders fill at once when a price for their market is known.
func (m *MockSubmitter) Submit(ctx context.Context, order ledger.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if order.Status != ledger.StatusPending {
		return fmt.Errorf("mock submit %s: order is %s, only pending orders can be submitted", order.ID, order.Status)
	}
	market := strings.ToUpper(order.MarketID)

	m.mu.Lock()
	if _, open := m.openOrders[order.ID]; open {
		m.mu.Unlock()
		return fmt.Errorf("mock submit %s: order already open", order.ID)
	}
	if _, closed := m.closedOrders[order.ID]; closed {
		m.mu.Unlock()
		return fmt.Errorf("mock submit %s: order already closed", order.ID)
	}
	stored := order
	m.openOrders[order.ID] = &stored
	logs.Debugf("[Mock Submitter] Pending order: %s", stored)

	var fills []update
	if stored.Kind == ledger.Market {
		if price, ok := m.currentPrice[market]; ok {
			fills = append(fills, m.fill_noLock(&stored, price))
		}
	}
	cb := m.onOrderUpdate
	m.mu.Unlock()

	notify(cb, fills)
	return nil
}

// Cancel withdraws an open order.
func (m *MockSubmitter) Cancel(ctx context.Context, order ledger.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	open, ok := m.openOrders[order.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mock order %s (market %s) not open", order.ID, order.MarketID)
	}
	open.Status = ledger.StatusCancelled
	delete(m.openOrders, order.ID)
	m.closedOrders[order.ID] = open
	cb := m.onOrderUpdate
	m.mu.Unlock()

	logs.Debugf("[Mock Submitter] Cancelled order %s", order.ID)
	notify(cb, []update{{id: order.ID, status: ledger.StatusCancelled}})
	return nil
}

// OnSample records the latest price and fills every limit order it crosses. It is a feed.Handler.
func (m *MockSubmitter) OnSample(s feed.Sample) {
	market := strings.ToUpper(s.Market)
	m.mu.Lock()
	m.currentPrice[market] = s.Price

	var fills []update
	for _, o := range m.openOrders {
		if strings.ToUpper(o.MarketID) != market {
			continue
		}
		crossed := o.Kind == ledger.Market ||
			(o.Side == ledger.Buy && s.Price <= o.Price) ||
			(o.Side == ledger.Sell && s.Price >= o.Price)
		if crossed {
			fills = append(fills, m.fill_noLock(o, s.Price))
		}
	}
	cb := m.onOrderUpdate
	m.mu.Unlock()

	notify(cb, fills)
}

// Expire drops an open order the way a venue does when its time in force runs out.
func (m *MockSubmitter) Expire(orderID string) error {
	m.mu.Lock()
	o, ok := m.openOrders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("mock order %s not open", orderID)
	}
	o.Status = ledger.StatusExpired
	delete(m.openOrders, orderID)
	m.closedOrders[orderID] = o
	cb := m.onOrderUpdate
	m.mu.Unlock()

	notify(cb, []update{{id: orderID, status: ledger.StatusExpired}})
	return nil
}

// OpenOrders returns copies of every order still working.
func (m *MockSubmitter) OpenOrders() []ledger.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Order, 0, len(m.openOrders))
	for _, o := range m.openOrders {
		out = append(out, *o)
	}
	return out
}

// Order looks an order up among open and closed orders.
func (m *MockSubmitter) Order(orderID string) (ledger.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.openOrders[orderID]; ok {
		return *o, true
	}
	if o, ok := m.closedOrders[orderID]; ok {
		return *o, true
	}
	return ledger.Order{}, false
}

// fill_noLock fills the whole remaining quantity. The caller must hold the lock.
func (m *MockSubmitter) fill_noLock(o *ledger.Order, price float64) update {
	o.FilledQuantity = o.Quantity
	o.RemainingQuantity = 0
	o.Status = ledger.StatusFilled
	delete(m.openOrders, o.ID)
	m.closedOrders[o.ID] = o
	logs.Infof("[Mock Submitter] Order filled: %s %s at %.4f, Qty: %.4f, OrderID: %s", o.Side, o.MarketID, price, o.Quantity, o.ID)
	return update{id: o.ID, status: ledger.StatusFilled, price: price, qty: o.Quantity}
}

// notify runs callbacks outside the lock so receivers may call back into the submitter.
func notify(cb OrderUpdateCallback, updates []update) {
	if cb == nil {
		return
	}
	for _, u := range updates {
		cb(u.id, u.status, u.price, u.qty)
	}
}
