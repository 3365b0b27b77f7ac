package ledger

import (
	"fmt"
	"time"
)

// Side is the order direction.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the counter side, i.e. the side a hedge for this side is placed on.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Kind is the order type.
type Kind string

const (
	Limit  Kind = "limit"
	Market Kind = "market"
)

// Status is the fill lifecycle of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsFinal reports whether no further fills or cancels can happen.
func (s Status) IsFinal() bool {
	return s != StatusPending
}

// RoleState says why an order currently exists, independent of its fill status.
type RoleState int

const (
	RoleNormalRunning RoleState = iota
	RolePreparingRiskLock
	RoleRiskLocking
	RolePreparingProfitLock
	RoleProfitLocking
)

// AllRoles lists every role in declaration order.
var AllRoles = []RoleState{
	RoleNormalRunning,
	RolePreparingRiskLock,
	RoleRiskLocking,
	RolePreparingProfitLock,
	RoleProfitLocking,
}

func (r RoleState) String() string {
	switch r {
	case RoleNormalRunning:
		return "NORMAL_RUNNING"
	case RolePreparingRiskLock:
		return "PREPARING_RISK_LOCK"
	case RoleRiskLocking:
		return "RISK_LOCKING"
	case RolePreparingProfitLock:
		return "PREPARING_PROFIT_LOCK"
	case RoleProfitLocking:
		return "PROFIT_LOCKING"
	}
	return fmt.Sprintf("RoleState(%d)", int(r))
}

// MarshalText keeps persisted snapshots readable.
func (r RoleState) MarshalText() ([]byte, error) {
	if !r.valid() {
		return nil, fmt.Errorf("unknown role state %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *RoleState) UnmarshalText(text []byte) error {
	for _, candidate := range AllRoles {
		if candidate.String() == string(text) {
			*r = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown role state %q", string(text))
}

func (r RoleState) valid() bool {
	return r >= RoleNormalRunning && r <= RoleProfitLocking
}

// IsLocking reports whether the role marks a live hedge order.
func (r RoleState) IsLocking() bool {
	return r == RoleRiskLocking || r == RoleProfitLocking
}

// Cancellable reports whether Cancel may tear the order down in this role.
func (r RoleState) Cancellable() bool {
	return r == RoleNormalRunning || r == RolePreparingRiskLock || r == RolePreparingProfitLock
}

// CanTransitionTo is the role edge table. No other edge is legal.
func (r RoleState) CanTransitionTo(target RoleState) bool {
	switch r {
	case RoleNormalRunning:
		return target == RolePreparingRiskLock || target == RolePreparingProfitLock
	case RolePreparingRiskLock:
		return target == RoleRiskLocking
	case RoleRiskLocking:
		return target == RoleNormalRunning
	case RolePreparingProfitLock:
		return target == RoleProfitLocking
	case RoleProfitLocking:
		return target == RoleNormalRunning
	}
	return false
}

// Order is a trading intent under management.
// Invariant: FilledQuantity + RemainingQuantity == Quantity.
type Order struct {
	ID                string    `json:"id"`
	ParentID          string    `json:"parent_id,omitempty"` // main order a hedge protects
	MarketID          string    `json:"market_id"`
	Side              Side      `json:"side"`
	Kind              Kind      `json:"kind"`
	Price             float64   `json:"price"`
	Quantity          float64   `json:"quantity"`
	FilledQuantity    float64   `json:"filled_quantity"`
	RemainingQuantity float64   `json:"remaining_quantity"`
	Status            Status    `json:"status"`
	Role              RoleState `json:"role"`
	TimeInForce       string    `json:"time_in_force"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsActive reports whether the order can still trade.
func (o Order) IsActive() bool {
	return o.Status == StatusPending
}

// IsHedge reports whether the order protects another order.
func (o Order) IsHedge() bool {
	return o.ParentID != ""
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %s %.4f@%.4f [%s/%s]", o.ID, o.MarketID, o.Side, o.Quantity, o.Price, o.Role, o.Status)
}
