// orchestrator.go
package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"auto_hedge_go/config"
	"auto_hedge_go/exchange"
	"auto_hedge_go/feed"
	"auto_hedge_go/hedge"
	"auto_hedge_go/ledger"
	"auto_hedge_go/logs"
	"auto_hedge_go/monitor"
	"auto_hedge_go/scheduler"
	"auto_hedge_go/state"

	"github.com/sourcegraph/conc"
)

const stateFileName = "hedge_state.json"

type Orchestrator struct {
	cfg          *config.Config
	ledger       *ledger.Ledger
	stateManager *state.StateManager
	submitter    *exchange.MockSubmitter
	simulator    *feed.Simulator // nil when no price source is configured
	positions    []*monitor.Position
	markets      []string // market of each position

	unsubscribe []func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          conc.WaitGroup
}

func NewOrchestrator(cfg *config.Config) (*Orchestrator, error) {
	stateFilePath := filepath.Join(cfg.Normal.StateDirectory, stateFileName)
	stateManager, err := state.NewStateManager(stateFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state manager: %w", err)
	}
	logs.Infof("State manager initialized successfully, state will be persisted to: %s", stateFilePath)

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:          cfg,
		ledger:       ledger.New(),
		stateManager: stateManager,
		submitter:    exchange.NewMockSubmitter(),
		ctx:          ctx,
		cancel:       cancel,
	}
	o.submitter.SetOrderUpdateCallback(o.onOrderUpdate)

	if err := o.reconcileStateOnStartup(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to reconcile state on startup: %w", err)
	}
	if err := o.connectFeed(); err != nil {
		cancel()
		return nil, err
	}
	return o, nil
}

// reconcileStateOnStartup restores the ledger from the last checkpoint and builds one position loop
// per enabled position, with its posture derived from the restored orders.
func (o *Orchestrator) reconcileStateOnStartup() error {
	logs.Info("[Orchestrator] Starting state reconciliation on startup...")
	appState := o.stateManager.GetFullState()
	if err := o.ledger.Restore(appState.Orders); err != nil {
		return fmt.Errorf("failed to restore orders: %w", err)
	}
	logs.Infof("[Orchestrator] Restored %d order(s) from state file.", len(appState.Orders))

	countdownSeconds := o.cfg.Scheduler.CountdownSeconds
	if !o.cfg.Scheduler.CountdownEnabled {
		countdownSeconds = 0
	}

	for _, pc := range o.cfg.Positions {
		if !pc.IsEnabled() {
			logs.Infof("[Orchestrator] Position %s is disabled, skipping.", pc.Name)
			continue
		}
		mainID := pc.MainID()
		if _, ok := o.ledger.Get(mainID); !ok {
			_, err := o.ledger.Add(ledger.Order{
				ID:       mainID,
				MarketID: pc.Market,
				Side:     ledger.Side(pc.Side),
				Kind:     ledger.Limit,
				Price:    pc.EntryPrice,
				Quantity: pc.Quantity,
				Role:     ledger.RoleNormalRunning,
			})
			if err != nil {
				return fmt.Errorf("failed to register main order for position %s: %w", pc.Name, err)
			}
		}

		engine := hedge.NewEngine(hedge.WithCountdown(countdownSeconds))
		err := engine.Initialize(hedge.HedgeConfig{
			MainOrderID:     mainID,
			MarketID:        pc.Market,
			Side:            ledger.Side(pc.Side),
			EntryPrice:      pc.EntryPrice,
			RiskLockPrice:   pc.RiskLockPrice,
			ProfitLockPrice: pc.ProfitLockPrice,
			Quantity:        pc.Quantity,
			Enabled:         true,
			PricePrecision:  pc.Precision(),
		})
		if err != nil {
			return fmt.Errorf("position %s: %w", pc.Name, err)
		}

		persisted, found := appState.Positions[mainID]
		posture, err := monitor.RestorePosture(engine, o.ledger, persisted.HedgeState, found)
		if err != nil {
			return fmt.Errorf("position %s: failed to restore posture: %w", pc.Name, err)
		}
		o.resubmitActiveHedge(mainID)

		sched := scheduler.New(o.ledger, engine, scheduler.WithCountdown(o.cfg.Scheduler.CountdownEnabled))
		pos := monitor.NewPosition(pc.Name, engine, sched, o.ledger, monitor.Options{
			TickInterval:      time.Duration(o.cfg.Normal.TickIntervalMillis) * time.Millisecond,
			HeartbeatInterval: time.Duration(o.cfg.Normal.HeartbeatIntervalMinutes) * time.Minute,
			SampleBuffer:      o.cfg.Normal.SampleBufferSize,
			EventBuffer:       o.cfg.Normal.EventBufferSize,
			Store:             o.stateManager,
			Submitter:         o.submitter,
		})
		o.positions = append(o.positions, pos)
		o.markets = append(o.markets, pc.Market)
		logs.Infof("[Orchestrator] Position %s ready on %s, posture %s.", pc.Name, pc.Market, posture)
	}

	if len(o.positions) == 0 {
		return fmt.Errorf("no enabled positions in configuration")
	}
	logs.Info("[Orchestrator] State reconciliation complete.")
	return nil
}

// resubmitActiveHedge hands a restored live hedge back to the submitter, which starts empty.
func (o *Orchestrator) resubmitActiveHedge(mainID string) {
	active, ok := o.ledger.ActiveHedgeOrder(mainID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.submitter.Submit(ctx, active); err != nil {
		logs.Errorf("[Orchestrator] Failed to re-submit restored hedge %s: %v", active.ID, err)
		return
	}
	logs.Infof("[Orchestrator] Re-submitted restored hedge %s.", active)
}

func (o *Orchestrator) connectFeed() error {
	if o.cfg.Simulation == nil || !o.cfg.Simulation.Enabled {
		logs.Warnf("[Orchestrator] No price source configured, positions will idle until samples arrive.")
		return nil
	}
	sim, err := feed.NewSimulator(o.cfg.Simulation, o.markets...)
	if err != nil {
		return fmt.Errorf("failed to create price simulator: %w", err)
	}
	logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")

	subscribed := make(map[string]bool)
	for i, pos := range o.positions {
		market := o.markets[i]
		o.unsubscribe = append(o.unsubscribe, sim.Subscribe(market, pos.OnPriceSample))
		if !subscribed[market] {
			subscribed[market] = true
			o.unsubscribe = append(o.unsubscribe, sim.Subscribe(market, o.submitter.OnSample))
		}
	}
	o.simulator = sim
	return nil
}

// onOrderUpdate feeds submitter reports back into the ledger.
func (o *Orchestrator) onOrderUpdate(orderID string, status ledger.Status, filledPrice, filledQuantity float64) {
	var err error
	switch status {
	case ledger.StatusFilled:
		_, err = o.ledger.RecordFill(orderID, filledQuantity)
		if err == nil {
			logs.Infof("[Orchestrator] Order %s filled: %.4f @ %.4f", orderID, filledQuantity, filledPrice)
		}
	case ledger.StatusExpired:
		_, err = o.ledger.Expire(orderID)
	case ledger.StatusCancelled:
		if current, ok := o.ledger.Get(orderID); ok && current.Status.IsFinal() {
			return
		}
		_, err = o.ledger.Cancel(orderID)
	default:
		return
	}
	if err != nil {
		logs.Errorf("[Orchestrator] Failed to apply %s update for order %s: %v", status, orderID, err)
	}
}

func (o *Orchestrator) Start() {
	for _, pos := range o.positions {
		pos := pos
		o.wg.Go(func() { pos.Run(o.ctx) })
		o.wg.Go(func() { o.logEvents(pos) })
	}
	if o.simulator != nil {
		o.simulator.Start()
	}
	logs.Infof("Hedge monitor started for %d position(s), press Ctrl+C to exit.", len(o.positions))
}

func (o *Orchestrator) logEvents(pos *monitor.Position) {
	for {
		select {
		case <-o.ctx.Done():
			return
		case ev := <-pos.Events():
			logs.Infof("[Event] %s", ev)
		}
	}
}

func (o *Orchestrator) Stop() {
	logs.Info("Received close signal, starting graceful shutdown...")
	if o.simulator != nil {
		o.simulator.Stop()
	}
	for _, unsubscribe := range o.unsubscribe {
		unsubscribe()
	}

	// Position loops save their final checkpoint on the way out.
	o.cancel()
	o.wg.Wait()

	o.printFinalSummary()
	logs.Info("All services stopped successfully.")
}

func (o *Orchestrator) printFinalSummary() {
	logs.Info("\n--- Final Hedge Summary ---")
	for _, pos := range o.positions {
		st := pos.Status()
		logs.Infof("%s (%s): %s, last price %.4f", st.Name, st.MainOrderID, st.HedgeState, st.LastPrice)
		for _, ord := range st.Orders {
			logs.Infof("  %s", ord)
		}
	}
	stats := o.ledger.Stats()
	logs.Infof("Ledger: %d order(s) total, %d active, %d completed.", stats.Total, stats.Active, stats.Completed)
}
