// Package hedge decides the hedge posture of one protected position from a stream of price samples.
// The engine never touches orders: it updates its own HedgeState and hands NextAction values to a scheduler.
package hedge

import (
	"fmt"
	"sync"

	"auto_hedge_go/logs"
	"auto_hedge_go/utils"
)

// Engine is the hedge state machine for a single protected position.
type Engine struct {
	mu          sync.Mutex
	cfg         HedgeConfig
	state       HedgeState
	lastZone    PriceZone
	lastPrice   float64
	countdown   int
	initialized bool
	disposed    bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCountdown sets the countdown attached to create actions. Cancel actions never carry one.
func WithCountdown(seconds int) Option {
	return func(e *Engine) {
		if seconds > 0 {
			e.countdown = seconds
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{state: MainOnly, lastZone: ZoneNeutral}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize validates cfg and resets the posture to MAIN_ONLY.
func (e *Engine) Initialize(cfg HedgeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.state = MainOnly
	e.lastZone = ZoneNeutral
	e.lastPrice = 0
	e.initialized = true
	e.disposed = false
	logs.Infof("[Hedge] Position %s initialized: side=%s entry=%.4f risk-lock=%.4f profit-lock=%.4f qty=%.4f",
		cfg.MainOrderID, cfg.Side, cfg.EntryPrice, cfg.RiskLockPrice, cfg.ProfitLockPrice, cfg.Quantity)
	return nil
}

// Dispose stops the engine from reacting to further samples.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
}

// Restore sets the posture recovered from persisted state. Only valid after Initialize.
func (e *Engine) Restore(state HedgeState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return fmt.Errorf("restore %s: engine not initialized", state)
	}
	if _, err := state.MarshalText(); err != nil {
		return err
	}
	e.state = state
	return nil
}

// OnPriceSample runs the transition function for one price. The posture is updated before the decision is
// returned, so a sample arriving while its actions are still counting down sees the new posture and does not
// trigger the same transition again.
func (e *Engine) OnPriceSample(price float64) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := Decision{From: e.state, To: e.state, Zone: ZoneNeutral, Price: price}
	if !e.initialized || e.disposed || !e.cfg.Enabled {
		return d
	}
	if !utils.IsValidPrice(price) {
		logs.Debugf("[Hedge] Ignoring invalid price sample %v for %s", price, e.cfg.MainOrderID)
		return d
	}

	zone := e.cfg.Zone(price)
	d.Zone = zone
	e.lastZone = zone
	e.lastPrice = price

	switch e.state {
	case MainOnly:
		switch zone {
		case ZoneRiskLock:
			d.To = HedgeRiskLock
			d.Actions = []NextAction{e.createAction(ActionCreateRiskLock)}
		case ZoneProfitLock:
			d.To = HedgeProfitLock
			d.Actions = []NextAction{e.createAction(ActionCreateProfitLock)}
		case ZoneNeutral:
		default:
			panic(fmt.Sprintf("hedge: unhandled zone %v", zone))
		}
	case HedgeRiskLock:
		switch zone {
		case ZoneProfitLock:
			d.To = HedgeProfitLock
			d.Actions = []NextAction{
				e.cancelAction(ActionCancelRiskLock, HedgeRiskLock),
				e.createAction(ActionCreateProfitLock),
			}
		case ZoneRiskLock, ZoneNeutral:
		default:
			panic(fmt.Sprintf("hedge: unhandled zone %v", zone))
		}
	case HedgeProfitLock:
		switch zone {
		case ZoneRiskLock:
			d.To = HedgeRiskLock
			d.Actions = []NextAction{
				e.cancelAction(ActionCancelProfitLock, HedgeProfitLock),
				e.createAction(ActionCreateRiskLock),
			}
		case ZoneProfitLock, ZoneNeutral:
		default:
			panic(fmt.Sprintf("hedge: unhandled zone %v", zone))
		}
	default:
		panic(fmt.Sprintf("hedge: unhandled state %v", e.state))
	}

	if d.Changed() {
		logs.Infof("[Hedge] %s: price %.4f entered %s, posture %s -> %s", e.cfg.MainOrderID, price, zone, d.From, d.To)
		e.state = d.To
	}
	return d
}

// Revert undoes a whole decision that was rejected before any of its actions took effect.
// It only fires when the posture is still the one the decision produced.
func (e *Engine) Revert(d Decision) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !d.Changed() || e.state != d.To {
		return false
	}
	logs.Infof("[Hedge] %s: decision %s -> %s withdrawn, posture back to %s", e.cfg.MainOrderID, d.From, d.To, d.From)
	e.state = d.From
	return true
}

// RevertAction rolls back the speculative advance of a single action that will never apply,
// e.g. a create whose countdown the user cancelled.
func (e *Engine) RevertAction(a NextAction) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != a.Target {
		return false
	}
	logs.Infof("[Hedge] %s: %s withdrawn, posture %s -> %s", e.cfg.MainOrderID, a.Kind, a.Target, a.RevertTo)
	e.state = a.RevertTo
	return true
}

// State returns the current posture.
func (e *Engine) State() HedgeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Config returns the accepted configuration.
func (e *Engine) Config() HedgeConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// LastZone returns the zone and price of the most recent valid sample.
func (e *Engine) LastZone() (PriceZone, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastZone, e.lastPrice
}

// Describe renders the posture for display.
func (e *Engine) Describe() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return "not initialized"
	}
	c := e.cfg
	var desc string
	switch e.state {
	case MainOnly:
		desc = fmt.Sprintf("main position only, risk-lock at %.4f, profit-lock at %.4f", c.RiskLockPrice, c.ProfitLockPrice)
	case HedgeRiskLock:
		desc = fmt.Sprintf("risk locked by a %s hedge at %.4f, switches to profit-lock at %.4f", c.Side.Opposite(), c.RiskLockPrice, c.ProfitLockPrice)
	case HedgeProfitLock:
		desc = fmt.Sprintf("profit locked by a %s hedge at %.4f, switches to risk-lock at %.4f", c.Side.Opposite(), c.ProfitLockPrice, c.RiskLockPrice)
	default:
		panic(fmt.Sprintf("hedge: unhandled state %v", e.state))
	}
	if !c.Enabled {
		desc += " (disabled)"
	}
	return fmt.Sprintf("%s: %s", e.state, desc)
}

// DescribeAction renders what an action will do; WAIT exists only here.
func DescribeAction(kind ActionKind, cfg HedgeConfig) string {
	hedgeSide := cfg.Side.Opposite()
	switch kind {
	case ActionWait:
		return "waiting for price to reach a lock zone"
	case ActionCreateRiskLock:
		return fmt.Sprintf("place %s risk-lock hedge of %.4f at %.4f", hedgeSide, cfg.Quantity, cfg.RiskLockPrice)
	case ActionCreateProfitLock:
		return fmt.Sprintf("place %s profit-lock hedge of %.4f at %.4f", hedgeSide, cfg.Quantity, cfg.ProfitLockPrice)
	case ActionCancelRiskLock:
		return "retire the active risk-lock hedge"
	case ActionCancelProfitLock:
		return "retire the active profit-lock hedge"
	}
	panic(fmt.Sprintf("hedge: unhandled action %v", kind))
}

// createAction must be called with e.mu held. A create that never applies leaves the position with
// no live hedge, whatever came before it, so it always reverts to MAIN_ONLY.
func (e *Engine) createAction(kind ActionKind) NextAction {
	target, trigger := HedgeRiskLock, e.cfg.RiskLockPrice
	if kind == ActionCreateProfitLock {
		target, trigger = HedgeProfitLock, e.cfg.ProfitLockPrice
	}
	return NextAction{
		Kind:             kind,
		Description:      DescribeAction(kind, e.cfg),
		CountdownSeconds: e.countdown,
		MainOrderID:      e.cfg.MainOrderID,
		MarketID:         e.cfg.MarketID,
		HedgeSide:        e.cfg.Side.Opposite(),
		Price:            utils.RoundToPrecision(trigger, e.cfg.PricePrecision),
		Quantity:         e.cfg.Quantity,
		Target:           target,
		RevertTo:         MainOnly,
	}
}

// cancelAction must be called with e.mu held. Cancels apply at once so the old hedge is gone before
// the replacement is scheduled.
func (e *Engine) cancelAction(kind ActionKind, from HedgeState) NextAction {
	return NextAction{
		Kind:        kind,
		Description: DescribeAction(kind, e.cfg),
		MainOrderID: e.cfg.MainOrderID,
		MarketID:    e.cfg.MarketID,
		HedgeSide:   e.cfg.Side.Opposite(),
		Quantity:    e.cfg.Quantity,
		Target:      MainOnly,
		RevertTo:    from,
	}
}
