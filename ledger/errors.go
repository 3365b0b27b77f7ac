package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order already exists")
)

// ValidationError is returned when a requested mutation is not allowed for the order's current role or status.
// The order is left untouched.
type ValidationError struct {
	OrderID string
	Op      string
	Role    RoleState
	Status  Status
	Target  RoleState // only meaningful for Op == "transition"
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger %s rejected for order %s: %s", e.Op, e.OrderID, e.Message)
}

func transitionRejected(o *Order, target RoleState) *ValidationError {
	return &ValidationError{
		OrderID: o.ID,
		Op:      "transition",
		Role:    o.Role,
		Status:  o.Status,
		Target:  target,
		Message: fmt.Sprintf("cannot move role from %s to %s", o.Role, target),
	}
}

func cancelRejected(o *Order) *ValidationError {
	msg := fmt.Sprintf("cannot cancel an order that is already %s", o.Status)
	switch o.Role {
	case RoleRiskLocking:
		msg = "cannot cancel an order currently locking risk; retire the risk-lock hedge instead"
	case RoleProfitLocking:
		msg = "cannot cancel an order currently locking profit; retire the profit-lock hedge instead"
	}
	return &ValidationError{
		OrderID: o.ID,
		Op:      "cancel",
		Role:    o.Role,
		Status:  o.Status,
		Message: msg,
	}
}

func shapeRejected(o *Order, msg string) *ValidationError {
	return &ValidationError{
		OrderID: o.ID,
		Op:      "add",
		Role:    o.Role,
		Status:  o.Status,
		Message: msg,
	}
}
