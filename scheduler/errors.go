package scheduler

import (
	"errors"
	"fmt"

	"auto_hedge_go/hedge"
)

var (
	// ErrNoPending is returned when ExecuteNow or Cancel names an action the scheduler never held.
	ErrNoPending = errors.New("no pending action")
	// ErrAlreadyResolved is returned when the named action was already applied or cancelled.
	ErrAlreadyResolved = errors.New("action already resolved")
	// ErrNoActiveHedge is returned when a cancel action finds no live hedge for the main order.
	ErrNoActiveHedge = errors.New("no active hedge order")
	// ErrHedgeActive is returned when a create action would put a second live hedge on the main order.
	ErrHedgeActive = errors.New("a hedge order is already active")
	// ErrWaitAction is returned for WAIT, which describes idleness and has nothing to apply.
	ErrWaitAction = errors.New("WAIT cannot be scheduled")
)

// SchedulingConflict is returned when an action is offered while another one is still counting down.
// The offered action is rejected, never queued.
type SchedulingConflict struct {
	Pending  Pending
	Rejected hedge.NextAction
}

func (e *SchedulingConflict) Error() string {
	return fmt.Sprintf("scheduling conflict: %s is pending with %ds left, rejected %s",
		e.Pending.Action.Kind, e.Pending.Remaining, e.Rejected.Kind)
}
