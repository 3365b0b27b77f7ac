// Package ledger is the single source of truth for orders. It is the only place allowed to change an
// order's role or lifecycle status; every mutation is atomic per call.
package ledger

import (
	"fmt"
	"math"
	"sync"
	"time"

	"auto_hedge_go/logs"
	"auto_hedge_go/utils"

	"github.com/google/uuid"
)

// EventKind tags a ledger notification.
type EventKind string

const (
	EventAdded       EventKind = "added"
	EventRoleChanged EventKind = "role_changed"
	EventCancelled   EventKind = "cancelled"
	EventRetired     EventKind = "retired"
	EventFilled      EventKind = "filled"
	EventExpired     EventKind = "expired"
)

// Event is delivered to subscribers after a mutation commits.
type Event struct {
	Kind  EventKind
	Order Order
}

// Stats is a read-only projection for monitoring. It must not be used to infer hedge posture.
type Stats struct {
	Total     int
	Active    int
	Completed int
	ByRole    map[RoleState]int
	ByStatus  map[Status]int
}

// BatchResult partitions a BatchCancel call.
type BatchResult struct {
	Succeeded []Order
	Failed    map[string]error
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// Ledger holds all orders.
type Ledger struct {
	mu     sync.RWMutex
	orders map[string]*Order
	seq    []string // insertion order
	now    func() time.Time

	subMu sync.Mutex
	subs  map[int]*subscriber
	subID int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		orders: make(map[string]*Order),
		now:    time.Now,
		subs:   make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add inserts a new order. Only the shape is validated: quantities must reconcile and the role must be
// NORMAL_RUNNING or one of the PREPARING roles. An empty ID gets a fresh UUID.
func (l *Ledger) Add(order Order) (Order, error) {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = StatusPending
	}
	if order.Kind == "" {
		order.Kind = Limit
	}
	if order.FilledQuantity == 0 && order.RemainingQuantity == 0 {
		order.RemainingQuantity = order.Quantity
	}

	switch {
	case order.Quantity <= 0:
		return Order{}, shapeRejected(&order, "quantity must be positive")
	case order.FilledQuantity < 0 || order.RemainingQuantity < 0:
		return Order{}, shapeRejected(&order, "filled and remaining quantities cannot be negative")
	case !utils.FloatEquals(order.FilledQuantity+order.RemainingQuantity, order.Quantity):
		return Order{}, shapeRejected(&order, fmt.Sprintf("filled %.8f + remaining %.8f does not equal quantity %.8f",
			order.FilledQuantity, order.RemainingQuantity, order.Quantity))
	case order.Side != Buy && order.Side != Sell:
		return Order{}, shapeRejected(&order, fmt.Sprintf("unknown side %q", order.Side))
	case order.Status != StatusPending:
		return Order{}, shapeRejected(&order, "new orders must be pending")
	case order.Role != RoleNormalRunning && order.Role != RolePreparingRiskLock && order.Role != RolePreparingProfitLock:
		return Order{}, shapeRejected(&order, fmt.Sprintf("new orders cannot start in role %s", order.Role))
	}

	l.mu.Lock()
	if _, exists := l.orders[order.ID]; exists {
		l.mu.Unlock()
		return Order{}, fmt.Errorf("add %s: %w", order.ID, ErrDuplicateOrder)
	}
	ts := l.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = ts
	}
	order.UpdatedAt = maxTime(ts, order.CreatedAt)
	stored := order
	l.orders[order.ID] = &stored
	l.seq = append(l.seq, order.ID)
	l.mu.Unlock()

	logs.Debugf("[Ledger] Added order %s", stored)
	l.publish(EventAdded, stored)
	return stored, nil
}

// TransitionRole moves the order to target if the edge is legal.
func (l *Ledger) TransitionRole(orderID string, target RoleState) (Order, error) {
	l.mu.Lock()
	o, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return Order{}, fmt.Errorf("transition %s: %w", orderID, ErrOrderNotFound)
	}
	if !o.Role.CanTransitionTo(target) {
		err := transitionRejected(o, target)
		l.mu.Unlock()
		return Order{}, err
	}
	from := o.Role
	o.Role = target
	l.touch(o)
	snapshot := *o
	l.mu.Unlock()

	logs.Debugf("[Ledger] Order %s role %s -> %s", orderID, from, target)
	l.publish(EventRoleChanged, snapshot)
	return snapshot, nil
}

// Cancel marks a pending order cancelled. Orders holding a live hedge role are rejected: they must be
// retired through Retire by the hedge engine's scheduler.
func (l *Ledger) Cancel(orderID string) (Order, error) {
	l.mu.Lock()
	o, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return Order{}, fmt.Errorf("cancel %s: %w", orderID, ErrOrderNotFound)
	}
	if !o.Role.Cancellable() || o.Status != StatusPending {
		err := cancelRejected(o)
		l.mu.Unlock()
		return Order{}, err
	}
	o.Status = StatusCancelled
	l.touch(o)
	snapshot := *o
	l.mu.Unlock()

	logs.Debugf("[Ledger] Cancelled order %s", orderID)
	l.publish(EventCancelled, snapshot)
	return snapshot, nil
}

// BatchCancel applies Cancel to every ID. Each cancel is all-or-nothing.
func (l *Ledger) BatchCancel(orderIDs []string) BatchResult {
	res := BatchResult{Failed: make(map[string]error)}
	for _, id := range orderIDs {
		o, err := l.Cancel(id)
		if err != nil {
			res.Failed[id] = err
			continue
		}
		res.Succeeded = append(res.Succeeded, o)
	}
	return res
}

// Retire tears down a live hedge: its role goes back to NORMAL_RUNNING and, if it is still pending,
// it is cancelled. Both steps happen under one lock.
func (l *Ledger) Retire(orderID string) (Order, error) {
	l.mu.Lock()
	o, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return Order{}, fmt.Errorf("retire %s: %w", orderID, ErrOrderNotFound)
	}
	if !o.Role.IsLocking() {
		err := &ValidationError{
			OrderID: o.ID,
			Op:      "retire",
			Role:    o.Role,
			Status:  o.Status,
			Message: fmt.Sprintf("only a live hedge can be retired, order is %s", o.Role),
		}
		l.mu.Unlock()
		return Order{}, err
	}
	o.Role = RoleNormalRunning
	if o.Status == StatusPending {
		o.Status = StatusCancelled
	}
	l.touch(o)
	snapshot := *o
	l.mu.Unlock()

	logs.Debugf("[Ledger] Retired hedge order %s (%s)", orderID, snapshot.Status)
	l.publish(EventRetired, snapshot)
	return snapshot, nil
}

// RecordFill sets the cumulative filled quantity reported by the submission side.
func (l *Ledger) RecordFill(orderID string, filledQty float64) (Order, error) {
	l.mu.Lock()
	o, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return Order{}, fmt.Errorf("fill %s: %w", orderID, ErrOrderNotFound)
	}
	if o.Status != StatusPending {
		err := &ValidationError{OrderID: o.ID, Op: "fill", Role: o.Role, Status: o.Status,
			Message: fmt.Sprintf("cannot fill an order that is already %s", o.Status)}
		l.mu.Unlock()
		return Order{}, err
	}
	if filledQty < o.FilledQuantity {
		err := &ValidationError{OrderID: o.ID, Op: "fill", Role: o.Role, Status: o.Status,
			Message: fmt.Sprintf("filled quantity cannot shrink from %.8f to %.8f", o.FilledQuantity, filledQty)}
		l.mu.Unlock()
		return Order{}, err
	}
	filled := math.Min(filledQty, o.Quantity)
	o.FilledQuantity = filled
	o.RemainingQuantity = o.Quantity - filled
	if utils.FloatEquals(o.RemainingQuantity, 0) {
		o.RemainingQuantity = 0
		o.FilledQuantity = o.Quantity
		o.Status = StatusFilled
	}
	l.touch(o)
	snapshot := *o
	l.mu.Unlock()

	l.publish(EventFilled, snapshot)
	return snapshot, nil
}

// Expire marks a pending order expired. The role is left as is.
func (l *Ledger) Expire(orderID string) (Order, error) {
	l.mu.Lock()
	o, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return Order{}, fmt.Errorf("expire %s: %w", orderID, ErrOrderNotFound)
	}
	if o.Status != StatusPending {
		err := &ValidationError{OrderID: o.ID, Op: "expire", Role: o.Role, Status: o.Status,
			Message: fmt.Sprintf("cannot expire an order that is already %s", o.Status)}
		l.mu.Unlock()
		return Order{}, err
	}
	o.Status = StatusExpired
	l.touch(o)
	snapshot := *o
	l.mu.Unlock()

	if snapshot.Role.IsLocking() {
		logs.Warnf("[Ledger] Live hedge order %s expired while still %s", orderID, snapshot.Role)
	}
	l.publish(EventExpired, snapshot)
	return snapshot, nil
}

// Get returns a copy of one order.
func (l *Ledger) Get(orderID string) (Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// All returns copies of every order in insertion order.
func (l *Ledger) All() []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Order, 0, len(l.seq))
	for _, id := range l.seq {
		out = append(out, *l.orders[id])
	}
	return out
}

// ByRole returns copies of the orders currently in role.
func (l *Ledger) ByRole(role RoleState) []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Order
	for _, id := range l.seq {
		if o := l.orders[id]; o.Role == role {
			out = append(out, *o)
		}
	}
	return out
}

// Stats counts orders per role and per status.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := Stats{
		ByRole:   make(map[RoleState]int, len(AllRoles)),
		ByStatus: make(map[Status]int, 4),
	}
	for _, role := range AllRoles {
		st.ByRole[role] = 0
	}
	for _, o := range l.orders {
		st.Total++
		st.ByRole[o.Role]++
		st.ByStatus[o.Status]++
		if o.IsActive() {
			st.Active++
		} else {
			st.Completed++
		}
	}
	return st
}

// ActiveHedgeOrder returns the order protecting mainOrderID that currently holds a live hedge role.
func (l *Ledger) ActiveHedgeOrder(mainOrderID string) (Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range l.seq {
		o := l.orders[id]
		if o.ParentID == mainOrderID && o.Role.IsLocking() {
			return *o, true
		}
	}
	return Order{}, false
}

// Restore replaces the ledger content with a persisted snapshot. Used once at startup.
func (l *Ledger) Restore(orders []Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	restored := make(map[string]*Order, len(orders))
	seq := make([]string, 0, len(orders))
	for _, o := range orders {
		if _, dup := restored[o.ID]; dup {
			return fmt.Errorf("restore %s: %w", o.ID, ErrDuplicateOrder)
		}
		o := o
		restored[o.ID] = &o
		seq = append(seq, o.ID)
	}
	l.orders = restored
	l.seq = seq
	return nil
}

// Subscribe returns a buffered channel of events and a function that unsubscribes and closes it.
// Delivery never blocks a mutation: events for a full subscriber are dropped and counted.
func (l *Ledger) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	l.subMu.Lock()
	defer l.subMu.Unlock()
	l.subID++
	id := l.subID
	sub := &subscriber{ch: make(chan Event, buffer)}
	l.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
			close(sub.ch)
		})
	}
}

func (l *Ledger) publish(kind EventKind, o Order) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, sub := range l.subs {
		select {
		case sub.ch <- Event{Kind: kind, Order: o}:
		default:
			sub.dropped++
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				logs.Warnf("[Ledger] Subscriber is not keeping up, %d events dropped", sub.dropped)
			}
		}
	}
}

// touch must be called with l.mu held.
func (l *Ledger) touch(o *Order) {
	o.UpdatedAt = maxTime(l.now(), o.CreatedAt)
}

func maxTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
