// Package balancer runs the per-tick decision table that keeps the hourly
// import under its cap while steering chargers and heaters.
package balancer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/wattbudget/core/device"
	"github.com/kilianp07/wattbudget/core/logger"
	"github.com/kilianp07/wattbudget/core/model"
	"github.com/kilianp07/wattbudget/core/notify"
)

// Queue is the part of the charge scheduler the balancer drives.
type Queue interface {
	Admitted(vehicleID string) bool
	FindNextToStart(respectWindow bool) (string, bool)
	MarkCharging(vehicleID string)
	UnmarkCharging(vehicleID string)
	IsCharging(vehicleID string) bool
	Charging() []string
	Job(vehicleID string) (model.ChargingJob, bool)
}

// Links resolves car↔charger associations.
type Links interface {
	ChargerFor(carID string) (string, bool)
	CarFor(chargerID string) (string, bool)
}

// Learner forecasts baseline load and learns heater recovery.
type Learner interface {
	ForecastOrDefault(outsideTemp float64) (idleWatts, heaterWatts float64)
	RecordHeaterRecoverySample(offDuration time.Duration, outsideTemp, energyKWh float64) error
}

// Budget receives hours that needed emergency measures.
type Budget interface {
	MarkStressed(hour int)
}

// Timers schedules callbacks by key. Scheduling a key replaces any pending
// callback with that key and cancelling an unknown key does nothing.
type Timers interface {
	Schedule(key string, at time.Time, fn func())
	Cancel(key string)
}

// Devices are the controllable loads and the house meter.
type Devices struct {
	Meter    device.Meter
	Chargers map[string]device.ChargingPort
	Heaters  []device.Heater
	Vehicles map[string]device.Vehicle
}

// Deps are the collaborators of the balancer. Notifier, Timers and Budget
// are optional.
type Deps struct {
	Queue    Queue
	Links    Links
	Learner  Learner
	Budget   Budget
	Timers   Timers
	Notifier notify.Sink
	Log      logger.Logger
	Clock    func() time.Time
}

type heaterState struct {
	reduced     bool
	reducedAt   time.Time
	lastReduced time.Time
	boosted     bool
}

// Balancer owns the real-time control state. Tick must not be called
// concurrently with itself; callbacks scheduled on Timers take the same
// lock.
type Balancer struct {
	cfg   Config
	devs  Devices
	deps  Deps
	log   logger.Logger
	rules []rule

	mu            sync.Mutex
	amps          map[string]int
	heaters       map[string]*heaterState
	lastReduction time.Time
	surplus       bool
	solar         []string
	limits        map[string]float64
	notifiedHour  time.Time
	stressedHour  time.Time
	deficitSince  time.Time
	sensors       sensorState
	observers     []func(Decision)
}

// New validates the configuration and returns a balancer.
func New(cfg Config, devs Devices, deps Deps) (*Balancer, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if devs.Meter == nil {
		return nil, fmt.Errorf("balancer needs a meter")
	}
	if deps.Queue == nil || deps.Links == nil || deps.Learner == nil {
		return nil, fmt.Errorf("balancer needs a queue, links and a learner")
	}
	if deps.Log == nil {
		deps.Log = logger.NopLogger{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NopSink{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	b := &Balancer{
		cfg:     cfg,
		devs:    devs,
		deps:    deps,
		log:     deps.Log,
		amps:    make(map[string]int),
		heaters: make(map[string]*heaterState),
		limits:  make(map[string]float64),
	}
	for _, h := range devs.Heaters {
		b.heaters[h.ID()] = &heaterState{}
	}
	b.rules = b.decisionTable()
	return b, nil
}

// Observe registers a function called with every decision.
func (b *Balancer) Observe(fn func(Decision)) {
	b.mu.Lock()
	b.observers = append(b.observers, fn)
	b.mu.Unlock()
}

// Tick reads the sensors, recomputes the projections and applies the first
// matching rule.
func (b *Balancer) Tick(ctx context.Context) Decision {
	b.mu.Lock()
	now := b.deps.Clock()
	t := &tick{ctx: ctx, now: now}
	b.readSensors(t)
	b.project(t)

	for _, r := range b.rules {
		if r.when(t) {
			t.d.Rule = r.name
			r.do(t)
			break
		}
	}
	if t.d.Rule != RuleOverTarget {
		b.deficitSince = time.Time{}
	}
	d := *t.d
	observers := append([]func(Decision){}, b.observers...)
	b.mu.Unlock()

	recordDecision(d)
	b.log.Debugw("balancer decision", map[string]any{
		"rule":             d.Rule,
		"consumption_w":    d.ConsumptionW,
		"accumulated_wh":   d.AccumulatedWh,
		"projected_wh":     d.ProjectedWh,
		"target_buffer_wh": d.TargetBufferWh,
		"available_wh":     d.AvailableWh,
		"actions":          len(d.Actions),
	})
	for _, fn := range observers {
		fn(d)
	}
	return d
}

// tick carries one evaluation of the decision table.
type tick struct {
	ctx          context.Context
	now          time.Time
	elapsedMin   float64
	remainingMin float64
	overWh       float64
	d            *Decision
}

func (t *tick) add(kind ActionKind, target string, value float64, err error) {
	a := Action{Kind: kind, Target: target, Value: value}
	if err != nil {
		a.Err = err.Error()
	}
	t.d.Actions = append(t.d.Actions, a)
}

// project fills the hour projections of the decision.
func (b *Balancer) project(t *tick) {
	d := t.d
	hourStart := t.now.Truncate(time.Hour)
	t.elapsedMin = t.now.Sub(hourStart).Minutes()
	t.remainingMin = 60 - t.elapsedMin

	net := d.ConsumptionW - d.ProductionW
	if net < 0 {
		net = 0
	}
	usable := b.cfg.UsableWh()
	d.ProjectedWh = net / 60 * t.remainingMin
	d.TargetBufferWh = usable*t.elapsedMin/60 - d.AccumulatedWh
	d.AvailableWh = usable - (d.AccumulatedWh + d.ProjectedWh)
	d.AvailableW = d.AvailableWh * 60 / maxf(t.remainingMin, 1)
	t.overWh = -d.AvailableWh
}

// deficitW is the power reduction that brings the hour back under target.
func (b *Balancer) deficitW(t *tick) float64 {
	w := t.overWh * 60 / maxf(t.remainingMin, 1)
	if t.d.TargetBufferWh < 0 {
		w = maxf(w, -t.d.TargetBufferWh*60/maxf(t.elapsedMin, 1))
	}
	return w
}

// active is a charger currently drawing power for a vehicle.
type active struct {
	vehicle  string
	port     device.ChargingPort
	amps     int
	priority int
	order    int
}

// activeChargers lists charging vehicles with a known charger, highest
// priority first.
func (b *Balancer) activeChargers() []active {
	var out []active
	for i, v := range b.deps.Queue.Charging() {
		id, ok := b.deps.Links.ChargerFor(v)
		if !ok {
			continue
		}
		port, ok := b.devs.Chargers[id]
		if !ok {
			continue
		}
		prio := model.PriorityBackground + 1
		if j, ok := b.deps.Queue.Job(v); ok {
			prio = j.Priority
		}
		out = append(out, active{vehicle: v, port: port, amps: b.currentAmps(port), priority: prio, order: i})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].order < out[j].order
	})
	return out
}

func (b *Balancer) currentAmps(p device.ChargingPort) int {
	if a, err := p.Amps(); err == nil && a > 0 {
		b.amps[p.ID()] = a
		return a
	}
	if a, ok := b.amps[p.ID()]; ok {
		return a
	}
	return p.MaxAmps()
}

func (b *Balancer) setAmps(t *tick, p device.ChargingPort, amps int) {
	err := p.SetAmps(t.ctx, amps)
	if err != nil {
		b.log.Errorf("set %d A on %s: %v", amps, p.ID(), err)
	} else {
		b.amps[p.ID()] = amps
	}
	t.add(ActionSetAmps, p.ID(), float64(amps), err)
}

func (b *Balancer) stopCharging(t *tick, a active) float64 {
	err := a.port.Stop(t.ctx)
	if err != nil {
		b.log.Errorf("stop %s on %s: %v", a.vehicle, a.port.ID(), err)
	}
	b.deps.Queue.UnmarkCharging(a.vehicle)
	b.dropSolar(a.port.ID())
	t.add(ActionStop, a.port.ID(), 0, err)
	return float64(a.amps) * a.port.VoltsPerPhase()
}

func (b *Balancer) startCharging(t *tick, vehicle string, p device.ChargingPort) bool {
	err := p.Start(t.ctx)
	t.add(ActionStart, p.ID(), 0, err)
	if err != nil {
		b.log.Errorf("start %s on %s: %v", vehicle, p.ID(), err)
		return false
	}
	b.deps.Queue.MarkCharging(vehicle)
	b.setAmps(t, p, p.MinAmps())
	return true
}

func (b *Balancer) dropSolar(chargerID string) {
	for i, id := range b.solar {
		if id == chargerID {
			b.solar = append(b.solar[:i], b.solar[i+1:]...)
			return
		}
	}
}

func maxf(a, c float64) float64 {
	if a > c {
		return a
	}
	return c
}
