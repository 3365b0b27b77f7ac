package monitor

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"auto_hedge_go/exchange"
	"auto_hedge_go/feed"
	"auto_hedge_go/hedge"
	"auto_hedge_go/ledger"
	"auto_hedge_go/scheduler"
	"auto_hedge_go/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mainID  = "main-1"
	market  = "XRPUSDT"
	waitFor = 2 * time.Second
	pollGap = 5 * time.Millisecond
)

type harness struct {
	pos       *Position
	engine    *hedge.Engine
	ledger    *ledger.Ledger
	submitter *exchange.MockSubmitter
	store     *state.StateManager
	stop      func()
}

func startPosition(t *testing.T, countdown int) *harness {
	t.Helper()
	engine := hedge.NewEngine(hedge.WithCountdown(countdown))
	require.NoError(t, engine.Initialize(hedge.HedgeConfig{
		MainOrderID:     mainID,
		MarketID:        market,
		Side:            ledger.Buy,
		EntryPrice:      27.5,
		RiskLockPrice:   25,
		ProfitLockPrice: 30,
		Quantity:        10,
		Enabled:         true,
		PricePrecision:  4,
	}))
	l := ledger.New()
	_, err := l.Add(ledger.Order{ID: mainID, MarketID: market, Side: ledger.Buy, Price: 27.5, Quantity: 10})
	require.NoError(t, err)

	store, err := state.NewStateManager(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	submitter := exchange.NewMockSubmitter()

	pos := NewPosition("xrp-long", engine, scheduler.New(l, engine), l, Options{
		TickInterval: 10 * time.Millisecond,
		Store:        store,
		Submitter:    submitter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pos.Run(ctx)
	}()
	stop := func() {
		cancel()
		wg.Wait()
	}
	t.Cleanup(stop)
	return &harness{pos: pos, engine: engine, ledger: l, submitter: submitter, store: store, stop: stop}
}

func (h *harness) sample(price float64) {
	h.pos.OnPriceSample(feed.Sample{Market: market, Price: price, Timestamp: time.Now()})
}

func (h *harness) waitPending(t *testing.T) scheduler.Pending {
	t.Helper()
	var p *scheduler.Pending
	require.Eventually(t, func() bool {
		p = h.pos.Status().Pending
		return p != nil
	}, waitFor, pollGap)
	return *p
}

func (h *harness) waitEvent(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev := <-h.pos.Events():
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func TestSampleCreatesHedgeAndSubmitsIt(t *testing.T) {
	h := startPosition(t, 0)
	h.sample(24)

	require.Eventually(t, func() bool { return len(h.submitter.OpenOrders()) == 1 }, waitFor, pollGap)
	active, ok := h.ledger.ActiveHedgeOrder(mainID)
	require.True(t, ok)
	assert.Equal(t, ledger.RoleRiskLocking, active.Role)
	assert.Equal(t, active.ID, h.submitter.OpenOrders()[0].ID)

	require.Eventually(t, func() bool {
		saved := h.store.GetFullState()
		return saved.Positions[mainID].HedgeState == hedge.HedgeRiskLock && len(saved.Orders) == 2
	}, waitFor, pollGap)
}

func TestSideSwitchRetiresBeforePlacing(t *testing.T) {
	h := startPosition(t, 0)
	h.sample(24)
	h.sample(31)

	require.Eventually(t, func() bool { return h.engine.State() == hedge.HedgeProfitLock }, waitFor, pollGap)
	require.Eventually(t, func() bool {
		open := h.submitter.OpenOrders()
		return len(open) == 1 && open[0].Role == ledger.RoleProfitLocking
	}, waitFor, pollGap)

	assert.Empty(t, h.ledger.ByRole(ledger.RoleRiskLocking))
	assert.Len(t, h.ledger.ByRole(ledger.RoleProfitLocking), 1)

	var riskID string
	for _, o := range h.pos.Status().Orders {
		if o.IsHedge() && o.Status == ledger.StatusCancelled {
			riskID = o.ID
		}
	}
	require.NotEmpty(t, riskID)
	sent, ok := h.submitter.Order(riskID)
	require.True(t, ok)
	assert.Equal(t, ledger.StatusCancelled, sent.Status)
}

func TestCancelPendingRollsBackPosture(t *testing.T) {
	h := startPosition(t, 1000)
	h.sample(31)
	pending := h.waitPending(t)
	assert.Equal(t, hedge.ActionCreateProfitLock, pending.Action.Kind)

	require.NoError(t, h.pos.CancelPending(context.Background(), ""))

	st := h.pos.Status()
	assert.Equal(t, hedge.MainOnly, st.HedgeState)
	assert.Nil(t, st.Pending)
	assert.Len(t, st.Orders, 1, "only the main order")
	assert.Empty(t, h.submitter.OpenOrders())

	err := h.pos.CancelPending(context.Background(), "")
	assert.ErrorIs(t, err, scheduler.ErrNoPending)
	err = h.pos.CancelPending(context.Background(), pending.ID)
	assert.ErrorIs(t, err, scheduler.ErrAlreadyResolved)
}

func TestExecuteNowSkipsCountdown(t *testing.T) {
	h := startPosition(t, 1000)
	h.sample(24)
	pending := h.waitPending(t)

	out, err := h.pos.ExecuteNow(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Len(t, h.submitter.OpenOrders(), 1)
	assert.Equal(t, hedge.HedgeRiskLock, h.store.GetFullState().Positions[mainID].HedgeState)
}

func TestFailedExecuteNowReportsRollback(t *testing.T) {
	h := startPosition(t, 1000)
	h.sample(24)
	pending := h.waitPending(t)

	// A live hedge appears behind the engine's back, so the create cannot apply.
	_, err := h.ledger.Add(ledger.Order{ID: "stray", ParentID: mainID, MarketID: market, Side: ledger.Sell,
		Price: 25, Quantity: 10, Role: ledger.RolePreparingRiskLock})
	require.NoError(t, err)
	_, err = h.ledger.TransitionRole("stray", ledger.RoleRiskLocking)
	require.NoError(t, err)

	_, err = h.pos.ExecuteNow(context.Background(), pending.ID)
	require.ErrorIs(t, err, scheduler.ErrHedgeActive)
	assert.Equal(t, hedge.MainOnly, h.engine.State())

	ev := h.waitEvent(t, func(ev Event) bool {
		return ev.Kind == EventHedgeState && ev.To == hedge.MainOnly && ev.Message != ""
	})
	assert.Equal(t, hedge.HedgeRiskLock, ev.From)

	saved := h.store.GetFullState()
	require.Contains(t, saved.Positions, mainID)
	assert.Equal(t, hedge.MainOnly, saved.Positions[mainID].HedgeState)
	assert.Len(t, saved.Orders, 2)
}

func TestCountdownExpiresOnTicks(t *testing.T) {
	h := startPosition(t, 3)
	h.sample(24)

	ev := h.waitEvent(t, func(ev Event) bool { return ev.Kind == EventCountdown })
	assert.Equal(t, hedge.ActionCreateRiskLock, ev.Action.Kind)

	require.Eventually(t, func() bool {
		_, ok := h.ledger.ActiveHedgeOrder(mainID)
		return ok
	}, waitFor, pollGap)
	h.waitEvent(t, func(ev Event) bool { return ev.Kind == EventOrder && ev.Order.Role == ledger.RoleRiskLocking })
}

func TestSampleDuringCountdownIsDropped(t *testing.T) {
	h := startPosition(t, 1000)
	h.sample(24)
	h.waitPending(t)

	h.sample(31)
	ev := h.waitEvent(t, func(ev Event) bool {
		return ev.Kind == EventHedgeState && strings.Contains(ev.Message, "scheduling conflict")
	})
	assert.Equal(t, hedge.HedgeProfitLock, ev.From)
	assert.Equal(t, hedge.HedgeRiskLock, ev.To)

	assert.Equal(t, hedge.HedgeRiskLock, h.engine.State())
	assert.Len(t, h.ledger.All(), 1, "nothing applied while the countdown runs")
}

func TestStatusBeforeAnyDecision(t *testing.T) {
	h := startPosition(t, 0)
	st := h.pos.Status()
	assert.Equal(t, "xrp-long", st.Name)
	assert.Equal(t, hedge.MainOnly, st.HedgeState)
	assert.Equal(t, "waiting for price to reach a lock zone", st.NextAction)
	assert.Equal(t, 1, st.Ledger.Total)
	assert.Contains(t, st.Description, "MAIN_ONLY")
}

func TestStopSavesCheckpoint(t *testing.T) {
	h := startPosition(t, 1000)
	h.sample(24)
	h.waitPending(t)
	h.stop()

	saved := h.store.GetFullState()
	require.Contains(t, saved.Positions, mainID)
	assert.Equal(t, hedge.MainOnly, saved.Positions[mainID].HedgeState, "a pending create is not yet part of the settled posture")
}

func TestRestorePostureTrustsLedger(t *testing.T) {
	engine := hedge.NewEngine()
	require.NoError(t, engine.Initialize(hedge.HedgeConfig{
		MainOrderID: mainID, MarketID: market, Side: ledger.Buy,
		EntryPrice: 27.5, RiskLockPrice: 25, ProfitLockPrice: 30, Quantity: 10, Enabled: true, PricePrecision: -1,
	}))
	l := ledger.New()
	_, err := l.Add(ledger.Order{ID: "h", ParentID: mainID, Side: ledger.Sell, Quantity: 10, Role: ledger.RolePreparingProfitLock})
	require.NoError(t, err)
	_, err = l.TransitionRole("h", ledger.RoleProfitLocking)
	require.NoError(t, err)

	got, err := RestorePosture(engine, l, hedge.HedgeRiskLock, true)
	require.NoError(t, err)
	assert.Equal(t, hedge.HedgeProfitLock, got)
	assert.Equal(t, hedge.HedgeProfitLock, engine.State())

	_, err = l.Retire("h")
	require.NoError(t, err)
	assert.Equal(t, hedge.MainOnly, PostureFromLedger(l, mainID))
}
