// monitor/position.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"auto_hedge_go/exchange"
	"auto_hedge_go/feed"
	"auto_hedge_go/hedge"
	"auto_hedge_go/ledger"
	"auto_hedge_go/logs"
	"auto_hedge_go/scheduler"
	"auto_hedge_go/state"

	"github.com/sirupsen/logrus"
)

const submitTimeout = 30 * time.Second

// Options carries the collaborators and timings of a Position. Zero values fall back to defaults.
type Options struct {
	TickInterval      time.Duration // one countdown second
	HeartbeatInterval time.Duration
	SampleBuffer      int
	EventBuffer       int
	Store             state.Store        // optional
	Submitter         exchange.Submitter // optional
}

type commandKind int

const (
	cmdExecuteNow commandKind = iota
	cmdCancel
)

type command struct {
	kind  commandKind
	id    string
	reply chan commandResult
}

type commandResult struct {
	outcome scheduler.Outcome
	err     error
}

// Position is the decision loop of one protected position. Price samples, countdown ticks and user
// commands all pass through Run, so they are handled one at a time in arrival order.
type Position struct {
	name      string
	mainID    string
	engine    *hedge.Engine
	sched     *scheduler.Scheduler
	ledger    *ledger.Ledger
	store     state.Store
	submitter exchange.Submitter

	tick      time.Duration
	heartbeat time.Duration

	samples  chan feed.Sample
	commands chan command
	events   chan Event
	log      *logrus.Entry

	droppedSamples atomic.Int64
	droppedEvents  int
}

// NewPosition wires an initialized engine and its scheduler into a loop. The scheduler's order
// callback is taken over by the position.
func NewPosition(name string, engine *hedge.Engine, sched *scheduler.Scheduler, l *ledger.Ledger, opts Options) *Position {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Minute
	}
	if opts.SampleBuffer <= 0 {
		opts.SampleBuffer = 64
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 128
	}
	mainID := engine.Config().MainOrderID
	p := &Position{
		name:      name,
		mainID:    mainID,
		engine:    engine,
		sched:     sched,
		ledger:    l,
		store:     opts.Store,
		submitter: opts.Submitter,
		tick:      opts.TickInterval,
		heartbeat: opts.HeartbeatInterval,
		samples:   make(chan feed.Sample, opts.SampleBuffer),
		commands:  make(chan command),
		events:    make(chan Event, opts.EventBuffer),
		log:       logs.WithFields(logrus.Fields{"position": name, "main_order": mainID}),
	}
	sched.SetOnStateUpdate(p.onOrderStateUpdate)
	return p
}

// Name returns the configured position name.
func (p *Position) Name() string { return p.name }

// Events delivers hedge-state changes, countdown updates and order updates. Delivery never blocks the
// loop: events for a slow reader are dropped.
func (p *Position) Events() <-chan Event { return p.events }

// OnPriceSample queues a sample for the loop. It is a feed.Handler.
func (p *Position) OnPriceSample(s feed.Sample) {
	select {
	case p.samples <- s:
	default:
		if n := p.droppedSamples.Add(1); n == 1 || n%100 == 0 {
			p.log.Warnf("[Monitor] Sample queue full, %d samples dropped", n)
		}
	}
}

// ExecuteNow applies the pending action without waiting for its countdown. An empty id targets
// whatever is pending.
func (p *Position) ExecuteNow(ctx context.Context, id string) (scheduler.Outcome, error) {
	return p.send(ctx, cmdExecuteNow, id)
}

// CancelPending drops the pending action and rolls back the posture it advanced to. An empty id
// targets whatever is pending.
func (p *Position) CancelPending(ctx context.Context, id string) error {
	_, err := p.send(ctx, cmdCancel, id)
	return err
}

func (p *Position) send(ctx context.Context, kind commandKind, id string) (scheduler.Outcome, error) {
	cmd := command{kind: kind, id: id, reply: make(chan commandResult, 1)}
	select {
	case p.commands <- cmd:
	case <-ctx.Done():
		return scheduler.Outcome{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.outcome, res.err
	case <-ctx.Done():
		return scheduler.Outcome{}, ctx.Err()
	}
}

// Run is the loop. It returns when ctx is cancelled, after disposing the engine and saving a checkpoint.
func (p *Position) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	heartbeat := time.NewTicker(p.heartbeat)
	defer heartbeat.Stop()

	p.log.Infof("[Monitor] Position loop started: %s", p.engine.Describe())
	for {
		select {
		case <-ctx.Done():
			p.engine.Dispose()
			p.checkpoint()
			p.log.Info("[Monitor] Position loop received stop signal, exiting.")
			return
		case s := <-p.samples:
			p.handleSample(s)
		case <-ticker.C:
			p.handleTick()
		case cmd := <-p.commands:
			p.handleCommand(cmd)
		case <-heartbeat.C:
			p.log.Infof("[Heartbeat] %s", p.engine.Describe())
		}
	}
}

func (p *Position) handleSample(s feed.Sample) {
	d := p.engine.OnPriceSample(s.Price)
	if !d.Changed() {
		return
	}
	p.emit(Event{Kind: EventHedgeState, From: d.From, To: d.To, Price: d.Price})

	outs, err := p.sched.ScheduleAll(d.Actions)
	var conflict *scheduler.SchedulingConflict
	if errors.As(err, &conflict) {
		// The pending action still owns the position; this sample's decision is dropped whole.
		p.engine.Revert(d)
		p.log.Warnf("[Monitor] Price %.4f wanted %s -> %s, ignored while %s counts down (%ds left)",
			d.Price, d.From, d.To, conflict.Pending.Action.Kind, conflict.Pending.Remaining)
		p.emit(Event{Kind: EventHedgeState, From: d.To, To: d.From, Price: d.Price, Message: conflict.Error()})
		return
	}
	p.afterOutcomes(outs...)
	if err != nil {
		p.log.Errorf("[Monitor] Decision %s -> %s at %.4f failed: %v", d.From, d.To, d.Price, err)
		p.checkpoint()
	}
}

func (p *Position) handleTick() {
	out, err := p.sched.Tick()
	if err != nil {
		p.reportFailedApply(out, err)
		return
	}
	if out.ID == "" {
		return
	}
	p.afterOutcomes(out)
}

func (p *Position) handleCommand(cmd command) {
	id := cmd.id
	if id == "" {
		pending, ok := p.sched.Pending()
		if !ok {
			cmd.reply <- commandResult{err: scheduler.ErrNoPending}
			return
		}
		id = pending.ID
	}

	var res commandResult
	switch cmd.kind {
	case cmdExecuteNow:
		res.outcome, res.err = p.sched.ExecuteNow(id)
		if res.err != nil && res.outcome.ID != "" {
			p.reportFailedApply(res.outcome, res.err)
			break
		}
		if res.outcome.ID != "" {
			p.afterOutcomes(res.outcome)
		}
	case cmdCancel:
		var action hedge.NextAction
		action, res.err = p.sched.Cancel(id)
		if res.err == nil {
			p.emit(Event{Kind: EventCountdown, Action: action, Message: "cancelled"})
			p.emit(Event{Kind: EventHedgeState, From: action.Target, To: p.engine.State()})
		}
	default:
		panic(fmt.Sprintf("monitor: unhandled command %d", cmd.kind))
	}
	cmd.reply <- res
}

func (p *Position) afterOutcomes(outs ...scheduler.Outcome) {
	applied := false
	for _, out := range outs {
		switch {
		case out.Applied:
			applied = true
		case out.Remaining > 0:
			p.emit(Event{Kind: EventCountdown, Action: out.Action, Remaining: out.Remaining})
		}
	}
	if applied {
		p.checkpoint()
	}
}

// reportFailedApply runs after a pending action failed to apply. The scheduler has already rolled the
// posture back, so readers and the checkpoint follow it.
func (p *Position) reportFailedApply(out scheduler.Outcome, err error) {
	a := out.Action
	p.log.Errorf("[Monitor] Applying %s failed: %v", a.Kind, err)
	if posture := p.engine.State(); out.ID != "" && posture != a.Target {
		p.emit(Event{Kind: EventHedgeState, From: a.Target, To: posture, Message: err.Error()})
	}
	p.checkpoint()
}

// onOrderStateUpdate receives every order the scheduler created or retired and hands it to the
// submission side.
func (p *Position) onOrderStateUpdate(o ledger.Order) {
	p.emit(Event{Kind: EventOrder, Order: o})
	if p.submitter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	var err error
	switch {
	case o.Status == ledger.StatusPending && o.Role.IsLocking():
		err = p.submitter.Submit(ctx, o)
	case o.Status == ledger.StatusCancelled:
		err = p.submitter.Cancel(ctx, o)
	default:
		return
	}
	if err != nil {
		p.log.Errorf("[Monitor] Order submission for %s failed: %v", o.ID, err)
	}
}

// checkpoint persists the settled posture: while an action counts down, the posture it will revert
// to is what the ledger reflects.
func (p *Position) checkpoint() {
	if p.store == nil {
		return
	}
	posture := p.engine.State()
	if pending, ok := p.sched.Pending(); ok {
		posture = pending.Action.RevertTo
	}
	_, price := p.engine.LastZone()
	err := p.store.Checkpoint(p.mainID, state.PositionState{HedgeState: posture, LastPrice: price}, p.ledger.All)
	if err != nil {
		p.log.Errorf("[Monitor] Failed to save state: %v", err)
	}
}

func (p *Position) emit(ev Event) {
	ev.Position = p.name
	ev.MainOrderID = p.mainID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case p.events <- ev:
	default:
		p.droppedEvents++
		if p.droppedEvents == 1 || p.droppedEvents%100 == 0 {
			p.log.Debugf("[Monitor] Event reader is not keeping up, %d events dropped", p.droppedEvents)
		}
	}
}
