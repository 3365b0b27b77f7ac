package feed

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"auto_hedge_go/config"
	"auto_hedge_go/logs"
)

// Simulation modes.
const (
	ModeSine = "sine" // initial + amplitude*sin(t)
	ModeRamp = "ramp" // walks between initial-amplitude and initial+amplitude in fixed steps
)

const (
	sineStep  = 0.1
	rampSteps = 10 // steps from the middle to either edge
)

// Ensure Simulator implements Feed.
var _ Feed = (*Simulator)(nil)

// Simulator is an in-memory price feed used to run the hedge loops without a market connection.
type Simulator struct {
	mu        sync.RWMutex
	mode      string
	initial   float64
	amplitude float64
	interval  time.Duration
	now       func() time.Time

	simTime   float64
	direction float64
	prices    map[string]float64
	subs      map[string]map[int]Handler
	nextSubID int

	stopChan chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewSimulator builds a simulator that drives every listed market from cfg.
func NewSimulator(cfg *config.SimulationConfig, markets ...string) (*Simulator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("simulation config is required")
	}
	if cfg.Mode != ModeSine && cfg.Mode != ModeRamp {
		return nil, fmt.Errorf("unknown simulation mode %q", cfg.Mode)
	}
	if cfg.InitialPrice <= 0 {
		return nil, fmt.Errorf("simulation initial price must be positive, got %.4f", cfg.InitialPrice)
	}
	interval := time.Duration(cfg.StepMillis) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	s := &Simulator{
		mode:      cfg.Mode,
		initial:   cfg.InitialPrice,
		amplitude: math.Abs(cfg.Amplitude),
		interval:  interval,
		now:       time.Now,
		direction: -1, // ramps start by pressing toward the risk side of a long
		prices:    make(map[string]float64),
		subs:      make(map[string]map[int]Handler),
		stopChan:  make(chan struct{}),
	}
	for _, m := range markets {
		s.prices[strings.ToUpper(m)] = cfg.InitialPrice
	}
	logs.Infof("[Simulator] Price simulator configured. Mode: %s, initial price: %.4f, amplitude: %.4f, step: %s",
		s.mode, s.initial, s.amplitude, s.interval)
	return s, nil
}

// Subscribe registers h for market. Markets the simulator did not know yet start at the initial price.
func (s *Simulator) Subscribe(market string, h Handler) func() {
	market = strings.ToUpper(market)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prices[market]; !ok {
		s.prices[market] = s.initial
	}
	if s.subs[market] == nil {
		s.subs[market] = make(map[int]Handler)
	}
	s.nextSubID++
	id := s.nextSubID
	s.subs[market][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[market], id)
		})
	}
}

// Start runs the price loop in its own goroutine until Stop is called.
func (s *Simulator) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	go s.Run()
}

// Run is the blocking price loop. Start wraps it in a goroutine.
func (s *Simulator) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopChan:
			logs.Info("[Simulator] Price loop stopped.")
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Stop ends the price loop. It is safe to call more than once.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// Step advances every market by one simulation step and delivers the new prices.
func (s *Simulator) Step() {
	s.mu.Lock()
	price := s.nextPrice_noLock()
	for m := range s.prices {
		s.prices[m] = price
	}
	batch := s.collect_noLock()
	s.mu.Unlock()

	deliver(batch)
}

// SetPrice forces the price of market and delivers it at once.
func (s *Simulator) SetPrice(market string, price float64) {
	market = strings.ToUpper(market)
	s.mu.Lock()
	s.prices[market] = price
	ts := s.now()
	var batch []delivery
	for _, h := range s.subs[market] {
		batch = append(batch, delivery{h: h, sample: Sample{Market: market, Price: price, Timestamp: ts}})
	}
	s.mu.Unlock()

	deliver(batch)
}

// Price returns the last simulated price for market.
func (s *Simulator) Price(market string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[strings.ToUpper(market)]
	if !ok {
		return 0, fmt.Errorf("simulated price not found for %s", market)
	}
	return price, nil
}

// nextPrice_noLock must be called while holding the lock.
func (s *Simulator) nextPrice_noLock() float64 {
	switch s.mode {
	case ModeSine:
		s.simTime += sineStep
		return s.initial + s.amplitude*math.Sin(s.simTime)
	case ModeRamp:
		increment := s.amplitude / rampSteps
		s.simTime += s.direction * increment
		if s.simTime <= -s.amplitude {
			s.simTime = -s.amplitude
			s.direction = 1
		} else if s.simTime >= s.amplitude {
			s.simTime = s.amplitude
			s.direction = -1
		}
		return s.initial + s.simTime
	}
	panic(fmt.Sprintf("feed: unhandled simulation mode %q", s.mode))
}

type delivery struct {
	h      Handler
	sample Sample
}

// collect_noLock must be called while holding the lock.
func (s *Simulator) collect_noLock() []delivery {
	ts := s.now()
	var batch []delivery
	for market, handlers := range s.subs {
		price := s.prices[market]
		for _, h := range handlers {
			batch = append(batch, delivery{h: h, sample: Sample{Market: market, Price: price, Timestamp: ts}})
		}
	}
	return batch
}

// Handlers run outside the lock so they may call back into the simulator.
func deliver(batch []delivery) {
	for _, d := range batch {
		d.h(d.sample)
	}
}
