package monitor

import (
	"auto_hedge_go/hedge"
	"auto_hedge_go/ledger"
	"auto_hedge_go/logs"
	"auto_hedge_go/scheduler"
)

// Status is a read-only snapshot for display.
type Status struct {
	Name        string
	MainOrderID string
	HedgeState  hedge.HedgeState
	Description string
	LastZone    hedge.PriceZone
	LastPrice   float64

	Pending    *scheduler.Pending
	NextAction string // what happens next, WAIT text when nothing is pending

	Orders []ledger.Order // the main order and its hedges
	Ledger ledger.Stats   // whole ledger
}

// Status can be called from any goroutine.
func (p *Position) Status() Status {
	zone, price := p.engine.LastZone()
	st := Status{
		Name:        p.name,
		MainOrderID: p.mainID,
		HedgeState:  p.engine.State(),
		Description: p.engine.Describe(),
		LastZone:    zone,
		LastPrice:   price,
		NextAction:  hedge.DescribeAction(hedge.ActionWait, p.engine.Config()),
		Ledger:      p.ledger.Stats(),
	}
	if pending, ok := p.sched.Pending(); ok {
		st.Pending = &pending
		st.NextAction = pending.Action.Description
	}
	for _, o := range p.ledger.All() {
		if o.ID == p.mainID || o.ParentID == p.mainID {
			st.Orders = append(st.Orders, o)
		}
	}
	return st
}

// PostureFromLedger derives the hedge posture the ledger supports for mainOrderID.
func PostureFromLedger(l *ledger.Ledger, mainOrderID string) hedge.HedgeState {
	active, ok := l.ActiveHedgeOrder(mainOrderID)
	if !ok {
		return hedge.MainOnly
	}
	switch active.Role {
	case ledger.RoleRiskLocking:
		return hedge.HedgeRiskLock
	case ledger.RoleProfitLocking:
		return hedge.HedgeProfitLock
	}
	return hedge.MainOnly
}

// RestorePosture sets the engine posture after a restart. The ledger wins over the persisted posture
// when they disagree, since orders are the only record the outside world saw.
func RestorePosture(engine *hedge.Engine, l *ledger.Ledger, persisted hedge.HedgeState, found bool) (hedge.HedgeState, error) {
	mainID := engine.Config().MainOrderID
	derived := PostureFromLedger(l, mainID)
	if found && persisted != derived {
		logs.Warnf("[Monitor] %s: saved posture %s disagrees with ledger, using %s", mainID, persisted, derived)
	}
	if err := engine.Restore(derived); err != nil {
		return hedge.MainOnly, err
	}
	return derived, nil
}
