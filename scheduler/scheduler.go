// Package scheduler turns hedge actions into ledger mutations, either at once or after a cancellable
// countdown, and applies each action at most once.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"auto_hedge_go/hedge"
	"auto_hedge_go/ledger"
	"auto_hedge_go/logs"

	"github.com/google/uuid"
)

const resolvedHistory = 128

// Reverter rolls back the posture an action advanced to when that action will never apply.
// *hedge.Engine satisfies it.
type Reverter interface {
	RevertAction(a hedge.NextAction) bool
}

// Pending is a read-only view of the action currently counting down.
type Pending struct {
	ID          string
	Action      hedge.NextAction
	Remaining   int
	ScheduledAt time.Time
}

// Outcome reports what a scheduler call did with an action.
type Outcome struct {
	ID        string
	Action    hedge.NextAction
	Applied   bool
	Remaining int            // seconds left when the action is still counting down
	Orders    []ledger.Order // ledger state of every order the apply touched
}

// Scheduler owns at most one pending action for one protected position.
type Scheduler struct {
	mu        sync.Mutex
	ledger    *ledger.Ledger
	reverter  Reverter
	countdown bool
	now       func() time.Time

	pending  *Pending
	resolved map[string]struct{}
	history  []string

	onStateUpdate func(ledger.Order)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCountdown switches countdowns on or off. When off every action applies as soon as it is scheduled.
func WithCountdown(enabled bool) Option {
	return func(s *Scheduler) { s.countdown = enabled }
}

// WithClock overrides the timestamp source used for ScheduledAt.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler that mutates l. reverter may be nil.
func New(l *ledger.Ledger, reverter Reverter, opts ...Option) *Scheduler {
	s := &Scheduler{
		ledger:    l,
		reverter:  reverter,
		countdown: true,
		now:       time.Now,
		resolved:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOnStateUpdate registers the callback that receives every order an apply created or retired.
// It is called without the scheduler lock held.
func (s *Scheduler) SetOnStateUpdate(fn func(ledger.Order)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateUpdate = fn
}

// Schedule applies a at once when it has no countdown or countdowns are disabled; otherwise a becomes
// the pending action. While another action is pending a is rejected with *SchedulingConflict.
func (s *Scheduler) Schedule(a hedge.NextAction) (Outcome, error) {
	if a.Kind == hedge.ActionWait {
		return Outcome{}, ErrWaitAction
	}
	s.mu.Lock()
	if s.pending != nil {
		conflict := &SchedulingConflict{Pending: *s.pending, Rejected: a}
		s.mu.Unlock()
		logs.Warnf("[Scheduler] %v", conflict)
		return Outcome{}, conflict
	}
	id := uuid.NewString()
	if !a.HasCountdown() || !s.countdown {
		s.markResolved(id)
		s.mu.Unlock()
		return s.apply(id, a)
	}
	p := &Pending{ID: id, Action: a, Remaining: a.CountdownSeconds, ScheduledAt: s.now()}
	s.pending = p
	s.mu.Unlock()

	logs.Infof("[Scheduler] %s scheduled in %ds (id %s): %s", a.Kind, a.CountdownSeconds, id, a.Description)
	return Outcome{ID: id, Action: a, Remaining: p.Remaining}, nil
}

// ScheduleAll schedules the actions of one decision in order. If an action is already pending the whole
// batch is rejected before anything takes effect. If an action fails to apply, the actions after it are
// abandoned and the posture they advanced to is rolled back.
func (s *Scheduler) ScheduleAll(actions []hedge.NextAction) ([]Outcome, error) {
	s.mu.Lock()
	if s.pending != nil && len(actions) > 0 {
		conflict := &SchedulingConflict{Pending: *s.pending, Rejected: actions[0]}
		s.mu.Unlock()
		logs.Warnf("[Scheduler] %v", conflict)
		return nil, conflict
	}
	s.mu.Unlock()

	outcomes := make([]Outcome, 0, len(actions))
	for i, a := range actions {
		out, err := s.Schedule(a)
		if err != nil {
			s.abandon(a, actions[i+1:])
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// Tick advances the pending countdown by one second and applies the action when it reaches zero.
// Without a pending action it does nothing.
func (s *Scheduler) Tick() (Outcome, error) {
	s.mu.Lock()
	p := s.pending
	if p == nil {
		s.mu.Unlock()
		return Outcome{}, nil
	}
	p.Remaining--
	if p.Remaining > 0 {
		out := Outcome{ID: p.ID, Action: p.Action, Remaining: p.Remaining}
		s.mu.Unlock()
		return out, nil
	}
	s.pending = nil
	s.markResolved(p.ID)
	s.mu.Unlock()

	logs.Infof("[Scheduler] Countdown for %s (id %s) expired, applying", p.Action.Kind, p.ID)
	return s.apply(p.ID, p.Action)
}

// ExecuteNow applies the pending action identified by id without waiting for its countdown.
func (s *Scheduler) ExecuteNow(id string) (Outcome, error) {
	p, err := s.take(id)
	if err != nil {
		return Outcome{}, err
	}
	logs.Infof("[Scheduler] %s (id %s) executed manually with %ds left", p.Action.Kind, p.ID, p.Remaining)
	return s.apply(p.ID, p.Action)
}

// Cancel drops the pending action identified by id. The ledger is left untouched and the posture the
// action advanced to is rolled back.
func (s *Scheduler) Cancel(id string) (hedge.NextAction, error) {
	p, err := s.take(id)
	if err != nil {
		return hedge.NextAction{}, err
	}
	logs.Infof("[Scheduler] %s (id %s) cancelled with %ds left", p.Action.Kind, p.ID, p.Remaining)
	s.revert(p.Action)
	return p.Action, nil
}

// Pending returns the action currently counting down, if any.
func (s *Scheduler) Pending() (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Pending{}, false
	}
	return *s.pending, true
}

func (s *Scheduler) take(id string) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil && s.pending.ID == id {
		p := s.pending
		s.pending = nil
		s.markResolved(id)
		return p, nil
	}
	if _, done := s.resolved[id]; done {
		return nil, fmt.Errorf("action %s: %w", id, ErrAlreadyResolved)
	}
	return nil, fmt.Errorf("action %s: %w", id, ErrNoPending)
}

// markResolved must be called with s.mu held.
func (s *Scheduler) markResolved(id string) {
	s.resolved[id] = struct{}{}
	s.history = append(s.history, id)
	if len(s.history) > resolvedHistory {
		delete(s.resolved, s.history[0])
		s.history = s.history[1:]
	}
}

// apply performs the ledger mutation for a. It runs exactly once per action id. The zone is not
// re-checked: a countdown that expires after the price moved on still applies the original decision.
func (s *Scheduler) apply(id string, a hedge.NextAction) (Outcome, error) {
	out := Outcome{ID: id, Action: a}
	var err error
	switch a.Kind {
	case hedge.ActionCreateRiskLock, hedge.ActionCreateProfitLock:
		out.Orders, err = s.applyCreate(a)
		if err != nil {
			s.revert(a)
		}
	case hedge.ActionCancelRiskLock, hedge.ActionCancelProfitLock:
		out.Orders, err = s.applyCancel(a)
	case hedge.ActionWait:
		err = ErrWaitAction
	default:
		panic(fmt.Sprintf("scheduler: unhandled action %v", a.Kind))
	}
	if err != nil {
		logs.Errorf("[Scheduler] Applying %s for %s failed: %v", a.Kind, a.MainOrderID, err)
		return out, err
	}
	out.Applied = true

	s.mu.Lock()
	cb := s.onStateUpdate
	s.mu.Unlock()
	if cb != nil {
		for _, o := range out.Orders {
			cb(o)
		}
	}
	return out, nil
}

func (s *Scheduler) applyCreate(a hedge.NextAction) ([]ledger.Order, error) {
	if active, ok := s.ledger.ActiveHedgeOrder(a.MainOrderID); ok {
		return nil, fmt.Errorf("%s for %s blocked by %s (%s): %w", a.Kind, a.MainOrderID, active.ID, active.Role, ErrHedgeActive)
	}
	o, err := s.ledger.Add(ledger.Order{
		ParentID:    a.MainOrderID,
		MarketID:    a.MarketID,
		Side:        a.HedgeSide,
		Kind:        ledger.Limit,
		Price:       a.Price,
		Quantity:    a.Quantity,
		Role:        a.Kind.PreparingRole(),
		TimeInForce: "GTC",
	})
	if err != nil {
		return nil, err
	}
	o, err = s.ledger.TransitionRole(o.ID, a.Kind.LockingRole())
	if err != nil {
		return nil, err
	}
	logs.Infof("[Scheduler] Hedge order %s placed for %s: %s %.4f @ %.4f (%s)",
		o.ID, a.MainOrderID, o.Side, o.Quantity, o.Price, o.Role)
	return []ledger.Order{o}, nil
}

func (s *Scheduler) applyCancel(a hedge.NextAction) ([]ledger.Order, error) {
	active, ok := s.ledger.ActiveHedgeOrder(a.MainOrderID)
	if !ok {
		// The hedge is already gone, which is what the cancel wanted.
		logs.Warnf("[Scheduler] %s for %s found no live hedge: %v", a.Kind, a.MainOrderID, ErrNoActiveHedge)
		return nil, nil
	}
	if active.Role != a.Kind.LockingRole() {
		return nil, fmt.Errorf("%s for %s found %s in role %s: %w",
			a.Kind, a.MainOrderID, active.ID, active.Role, ErrNoActiveHedge)
	}
	o, err := s.ledger.Retire(active.ID)
	if err != nil {
		return nil, err
	}
	logs.Infof("[Scheduler] Hedge order %s retired for %s (%s)", o.ID, a.MainOrderID, o.Status)
	return []ledger.Order{o}, nil
}

// abandon rolls the posture back when failed could not apply and rest will not be attempted.
// The posture that holds is the one in place before failed was scheduled.
func (s *Scheduler) abandon(failed hedge.NextAction, rest []hedge.NextAction) {
	if len(rest) == 0 {
		return
	}
	last := rest[len(rest)-1]
	s.revert(hedge.NextAction{Kind: last.Kind, MainOrderID: last.MainOrderID, Target: last.Target, RevertTo: failed.RevertTo})
}

func (s *Scheduler) revert(a hedge.NextAction) {
	if s.reverter == nil {
		return
	}
	if !s.reverter.RevertAction(a) {
		logs.Debugf("[Scheduler] Posture already moved past %s for %s, nothing to roll back", a.Target, a.MainOrderID)
	}
}
