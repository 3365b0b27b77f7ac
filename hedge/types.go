package hedge

import (
	"fmt"

	"auto_hedge_go/ledger"
	"auto_hedge_go/utils"
)

// HedgeState is the posture of one protected position. The engine is its only writer.
type HedgeState int

const (
	MainOnly HedgeState = iota
	HedgeRiskLock
	HedgeProfitLock
)

var allStates = []HedgeState{MainOnly, HedgeRiskLock, HedgeProfitLock}

func (s HedgeState) String() string {
	switch s {
	case MainOnly:
		return "MAIN_ONLY"
	case HedgeRiskLock:
		return "HEDGE_RISK_LOCK"
	case HedgeProfitLock:
		return "HEDGE_PROFIT_LOCK"
	}
	return fmt.Sprintf("HedgeState(%d)", int(s))
}

func (s HedgeState) MarshalText() ([]byte, error) {
	if s < MainOnly || s > HedgeProfitLock {
		return nil, fmt.Errorf("unknown hedge state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *HedgeState) UnmarshalText(text []byte) error {
	for _, candidate := range allStates {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown hedge state %q", string(text))
}

// PriceZone classifies a price against the two trigger prices. It is derived, never stored as truth.
type PriceZone int

const (
	ZoneNeutral PriceZone = iota
	ZoneRiskLock
	ZoneProfitLock
)

func (z PriceZone) String() string {
	switch z {
	case ZoneNeutral:
		return "NEUTRAL"
	case ZoneRiskLock:
		return "RISK_LOCK"
	case ZoneProfitLock:
		return "PROFIT_LOCK"
	}
	return fmt.Sprintf("PriceZone(%d)", int(z))
}

// Classify puts price into a zone. Boundary prices belong to the lock zone.
// For a buy (long) main position risk sits below and profit above; a sell mirrors that.
func Classify(price float64, side ledger.Side, riskLockPrice, profitLockPrice float64) PriceZone {
	if side == ledger.Sell {
		switch {
		case price >= riskLockPrice:
			return ZoneRiskLock
		case price <= profitLockPrice:
			return ZoneProfitLock
		}
		return ZoneNeutral
	}
	switch {
	case price <= riskLockPrice:
		return ZoneRiskLock
	case price >= profitLockPrice:
		return ZoneProfitLock
	}
	return ZoneNeutral
}

// ActionKind is the instruction carried by a NextAction.
type ActionKind int

const (
	ActionWait ActionKind = iota // description only, never emitted
	ActionCreateRiskLock
	ActionCreateProfitLock
	ActionCancelRiskLock
	ActionCancelProfitLock
)

func (k ActionKind) String() string {
	switch k {
	case ActionWait:
		return "WAIT"
	case ActionCreateRiskLock:
		return "CREATE_RISK_LOCK"
	case ActionCreateProfitLock:
		return "CREATE_PROFIT_LOCK"
	case ActionCancelRiskLock:
		return "CANCEL_RISK_LOCK"
	case ActionCancelProfitLock:
		return "CANCEL_PROFIT_LOCK"
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// IsCreate reports whether the action places a new hedge order.
func (k ActionKind) IsCreate() bool {
	return k == ActionCreateRiskLock || k == ActionCreateProfitLock
}

// IsCancel reports whether the action retires the live hedge order.
func (k ActionKind) IsCancel() bool {
	return k == ActionCancelRiskLock || k == ActionCancelProfitLock
}

// PreparingRole is the ledger role a created hedge order starts in.
func (k ActionKind) PreparingRole() ledger.RoleState {
	if k == ActionCreateProfitLock {
		return ledger.RolePreparingProfitLock
	}
	return ledger.RolePreparingRiskLock
}

// LockingRole is the ledger role of the hedge order this action creates or retires.
func (k ActionKind) LockingRole() ledger.RoleState {
	if k == ActionCreateProfitLock || k == ActionCancelProfitLock {
		return ledger.RoleProfitLocking
	}
	return ledger.RoleRiskLocking
}

// NextAction is a one-shot instruction produced by the engine and consumed once by the scheduler.
type NextAction struct {
	Kind             ActionKind
	Description      string
	CountdownSeconds int // 0 means apply without countdown

	MainOrderID string
	MarketID    string
	HedgeSide   ledger.Side
	Price       float64
	Quantity    float64

	// Target is the posture this action realizes; RevertTo is the posture that holds if it never applies.
	Target   HedgeState
	RevertTo HedgeState
}

// HasCountdown reports whether the action asks for a delay before it applies.
func (a NextAction) HasCountdown() bool {
	return a.CountdownSeconds > 0
}

// Decision is the engine's verdict for one price sample.
type Decision struct {
	From    HedgeState
	To      HedgeState
	Zone    PriceZone
	Price   float64
	Actions []NextAction
}

// Changed reports whether the sample moved the posture.
func (d Decision) Changed() bool {
	return d.From != d.To
}

// HedgeConfig holds the parameters for one protected position. It is fixed once Initialize accepts it.
type HedgeConfig struct {
	MainOrderID     string
	MarketID        string
	Side            ledger.Side // side of the main position
	EntryPrice      float64
	RiskLockPrice   float64
	ProfitLockPrice float64
	Quantity        float64 // hedge quantity
	Enabled         bool
	PricePrecision  int // negative leaves trigger prices unrounded
}

// ConfigurationError is the only fatal engine condition, raised by Initialize.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid hedge configuration: %s: %s", e.Field, e.Reason)
}

// Validate checks that the trigger prices straddle the entry price on the correct sides.
func (c HedgeConfig) Validate() error {
	if c.MainOrderID == "" {
		return &ConfigurationError{Field: "main_order_id", Reason: "must reference the protected main order"}
	}
	if c.Side != ledger.Buy && c.Side != ledger.Sell {
		return &ConfigurationError{Field: "side", Reason: fmt.Sprintf("must be buy or sell, got %q", c.Side)}
	}
	if !(c.Quantity > 0) {
		return &ConfigurationError{Field: "quantity", Reason: "must be positive"}
	}
	prices := []struct {
		field string
		value float64
	}{
		{"entry_price", c.EntryPrice},
		{"risk_lock_price", c.RiskLockPrice},
		{"profit_lock_price", c.ProfitLockPrice},
	}
	for _, p := range prices {
		if !utils.IsValidPrice(p.value) {
			return &ConfigurationError{Field: p.field, Reason: fmt.Sprintf("must be a positive finite price, got %v", p.value)}
		}
	}

	if c.Side == ledger.Buy {
		if !(c.RiskLockPrice < c.EntryPrice) {
			return &ConfigurationError{Field: "risk_lock_price",
				Reason: fmt.Sprintf("%.8f must be below entry %.8f for a buy position", c.RiskLockPrice, c.EntryPrice)}
		}
		if !(c.ProfitLockPrice > c.EntryPrice) {
			return &ConfigurationError{Field: "profit_lock_price",
				Reason: fmt.Sprintf("%.8f must be above entry %.8f for a buy position", c.ProfitLockPrice, c.EntryPrice)}
		}
		return nil
	}
	if !(c.RiskLockPrice > c.EntryPrice) {
		return &ConfigurationError{Field: "risk_lock_price",
			Reason: fmt.Sprintf("%.8f must be above entry %.8f for a sell position", c.RiskLockPrice, c.EntryPrice)}
	}
	if !(c.ProfitLockPrice < c.EntryPrice) {
		return &ConfigurationError{Field: "profit_lock_price",
			Reason: fmt.Sprintf("%.8f must be below entry %.8f for a sell position", c.ProfitLockPrice, c.EntryPrice)}
	}
	return nil
}

// Zone classifies price with this configuration's triggers.
func (c HedgeConfig) Zone(price float64) PriceZone {
	return Classify(price, c.Side, c.RiskLockPrice, c.ProfitLockPrice)
}
