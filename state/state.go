// state/state.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"auto_hedge_go/hedge"
	"auto_hedge_go/ledger"
	"auto_hedge_go/logs"
)

// Store is what the position loops and the orchestrator need from persistence. Keeping it an interface
// lets tests and future backends replace the file implementation.
type Store interface {
	// GetFullState returns a copy of everything persisted, for startup reconciliation.
	GetFullState() AppState
	// Checkpoint records the settled posture of one position together with the current ledger content.
	// orders is called while the store is locked, so concurrent checkpoints never write an older
	// ledger snapshot over a newer one.
	Checkpoint(mainOrderID string, position PositionState, orders func() []ledger.Order) error
}

// PositionState is the persisted view of one protected position.
type PositionState struct {
	HedgeState hedge.HedgeState `json:"hedge_state"`
	LastPrice  float64          `json:"last_price"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// AppState is the top-level structure persisted to state.json.
type AppState struct {
	Positions map[string]PositionState `json:"positions"` // key: main order ID
	Orders    []ledger.Order           `json:"orders"`
	SavedAt   time.Time                `json:"saved_at"`
}

// StateManager is the file implementation of Store.
type StateManager struct {
	mu       sync.RWMutex
	filePath string
	state    *AppState
	now      func() time.Time
}

// Ensure StateManager implements Store.
var _ Store = (*StateManager)(nil)

// NewStateManager loads the state file at filePath, or creates an empty one if it does not exist.
func NewStateManager(filePath string) (*StateManager, error) {
	sm := &StateManager{
		filePath: filePath,
		state:    &AppState{Positions: make(map[string]PositionState)},
		now:      time.Now,
	}
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}

	if err := sm.load(); err != nil {
		if os.IsNotExist(err) {
			logs.Infof("[State] State file not found at %s. Starting with a fresh state.", filePath)
			if err := sm.save(); err != nil {
				return nil, fmt.Errorf("failed to create initial empty state file: %w", err)
			}
			return sm, nil
		}
		return nil, fmt.Errorf("failed to load initial state: %w", err)
	}
	logs.Infof("[State] Loaded %d position(s) and %d order(s) from %s", len(sm.state.Positions), len(sm.state.Orders), filePath)
	return sm, nil
}

// save performs an atomic write. The caller must hold the lock.
func (sm *StateManager) save() error {
	sm.state.SavedAt = sm.now()
	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state for saving: %w", err)
	}

	tmpFilePath := sm.filePath + ".tmp"
	if err := os.WriteFile(tmpFilePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write to temporary state file: %w", err)
	}
	return os.Rename(tmpFilePath, sm.filePath)
}

// load reads the file. The caller must hold the lock or be the constructor.
func (sm *StateManager) load() error {
	data, err := os.ReadFile(sm.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil // empty file is a valid fresh state
	}
	if err := json.Unmarshal(data, sm.state); err != nil {
		return fmt.Errorf("state file %s is corrupt: %w", sm.filePath, err)
	}
	if sm.state.Positions == nil {
		sm.state.Positions = make(map[string]PositionState)
	}
	return nil
}

func (sm *StateManager) GetFullState() AppState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	copied := AppState{
		Positions: make(map[string]PositionState, len(sm.state.Positions)),
		Orders:    append([]ledger.Order(nil), sm.state.Orders...),
		SavedAt:   sm.state.SavedAt,
	}
	for id, p := range sm.state.Positions {
		copied.Positions[id] = p
	}
	return copied
}

func (sm *StateManager) Checkpoint(mainOrderID string, position PositionState, orders func() []ledger.Order) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if position.UpdatedAt.IsZero() {
		position.UpdatedAt = sm.now()
	}
	sm.state.Positions[mainOrderID] = position
	sm.state.Orders = append([]ledger.Order(nil), orders()...)
	return sm.save()
}
