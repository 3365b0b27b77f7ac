package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"auto_hedge_go/hedge"
	"auto_hedge_go/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(orders ...ledger.Order) func() []ledger.Order {
	return func() []ledger.Order { return orders }
}

func addLiveHedge(t *testing.T, l *ledger.Ledger, id, mainID string) {
	t.Helper()
	_, err := l.Add(ledger.Order{ID: id, ParentID: mainID, MarketID: "XRPUSDT", Side: ledger.Sell, Price: 25,
		Quantity: 10, Role: ledger.RolePreparingRiskLock})
	require.NoError(t, err)
	_, err = l.TransitionRole(id, ledger.RoleRiskLocking)
	require.NoError(t, err)
}

func TestFreshStateCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	sm, err := NewStateManager(path)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
	full := sm.GetFullState()
	assert.Empty(t, full.Positions)
	assert.Empty(t, full.Orders)
}

func TestCheckpointSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	sm, err := NewStateManager(path)
	require.NoError(t, err)

	orders := []ledger.Order{
		{ID: "main", MarketID: "XRPUSDT", Side: ledger.Buy, Quantity: 10, RemainingQuantity: 10, Status: ledger.StatusPending},
		{ID: "hedge", ParentID: "main", MarketID: "XRPUSDT", Side: ledger.Sell, Price: 25, Quantity: 10,
			RemainingQuantity: 10, Status: ledger.StatusPending, Role: ledger.RoleRiskLocking},
	}
	require.NoError(t, sm.Checkpoint("main", PositionState{HedgeState: hedge.HedgeRiskLock, LastPrice: 24.5}, snapshot(orders...)))

	reloaded, err := NewStateManager(path)
	require.NoError(t, err)
	full := reloaded.GetFullState()
	require.Contains(t, full.Positions, "main")
	assert.Equal(t, hedge.HedgeRiskLock, full.Positions["main"].HedgeState)
	assert.Equal(t, 24.5, full.Positions["main"].LastPrice)
	assert.False(t, full.Positions["main"].UpdatedAt.IsZero())
	require.Len(t, full.Orders, 2)
	assert.Equal(t, ledger.RoleRiskLocking, full.Orders[1].Role)
	assert.Equal(t, "main", full.Orders[1].ParentID)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"HEDGE_RISK_LOCK"`)
	assert.Contains(t, string(data), `"RISK_LOCKING"`)
}

func TestGetFullStateIsACopy(t *testing.T) {
	sm, err := NewStateManager(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	require.NoError(t, sm.Checkpoint("main", PositionState{HedgeState: hedge.MainOnly}, snapshot(ledger.Order{ID: "a"})))

	full := sm.GetFullState()
	full.Positions["other"] = PositionState{}
	full.Orders[0].ID = "changed"

	again := sm.GetFullState()
	assert.NotContains(t, again.Positions, "other")
	assert.Equal(t, "a", again.Orders[0].ID)
}

func TestCorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewStateManager(path)
	assert.ErrorContains(t, err, "corrupt")
}

func TestEmptyFileIsFreshState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	sm, err := NewStateManager(path)
	require.NoError(t, err)
	assert.Empty(t, sm.GetFullState().Positions)
}

func TestCheckpointsFromTwoPositionsKeepEachOthersOrders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	sm, err := NewStateManager(path)
	require.NoError(t, err)

	l := ledger.New()
	for _, id := range []string{"main-a", "main-b"} {
		_, err := l.Add(ledger.Order{ID: id, MarketID: "XRPUSDT", Side: ledger.Buy, Quantity: 10})
		require.NoError(t, err)
	}
	require.NoError(t, sm.Checkpoint("main-a", PositionState{HedgeState: hedge.MainOnly}, l.All))

	addLiveHedge(t, l, "hedge-b", "main-b")
	require.NoError(t, sm.Checkpoint("main-b", PositionState{HedgeState: hedge.HedgeRiskLock}, l.All))

	// Position A saves again after B's hedge exists; its write must carry B's hedge along.
	require.NoError(t, sm.Checkpoint("main-a", PositionState{HedgeState: hedge.MainOnly}, l.All))

	reloaded, err := NewStateManager(path)
	require.NoError(t, err)
	full := reloaded.GetFullState()
	assert.Equal(t, hedge.HedgeRiskLock, full.Positions["main-b"].HedgeState)
	assert.Equal(t, hedge.MainOnly, full.Positions["main-a"].HedgeState)

	restored := ledger.New()
	require.NoError(t, restored.Restore(full.Orders))
	active, ok := restored.ActiveHedgeOrder("main-b")
	require.True(t, ok)
	assert.Equal(t, "hedge-b", active.ID)
}

func TestConcurrentCheckpointsEndWithWholeLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	sm, err := NewStateManager(path)
	require.NoError(t, err)
	l := ledger.New()

	const positions = 16
	var wg sync.WaitGroup
	for i := 0; i < positions; i++ {
		mainID := fmt.Sprintf("main-%d", i)
		_, err := l.Add(ledger.Order{ID: mainID, MarketID: "XRPUSDT", Side: ledger.Buy, Quantity: 10})
		require.NoError(t, err)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("hedge-%d", i)
			_, err := l.Add(ledger.Order{ID: id, ParentID: mainID, MarketID: "XRPUSDT", Side: ledger.Sell, Price: 25,
				Quantity: 10, Role: ledger.RolePreparingRiskLock})
			assert.NoError(t, err)
			_, err = l.TransitionRole(id, ledger.RoleRiskLocking)
			assert.NoError(t, err)
			assert.NoError(t, sm.Checkpoint(mainID, PositionState{HedgeState: hedge.HedgeRiskLock}, l.All))
		}(i)
	}
	wg.Wait()

	reloaded, err := NewStateManager(path)
	require.NoError(t, err)
	full := reloaded.GetFullState()
	assert.Len(t, full.Orders, 2*positions)
	restored := ledger.New()
	require.NoError(t, restored.Restore(full.Orders))
	for i := 0; i < positions; i++ {
		_, ok := restored.ActiveHedgeOrder(fmt.Sprintf("main-%d", i))
		assert.True(t, ok, "position %d lost its hedge", i)
	}
}
