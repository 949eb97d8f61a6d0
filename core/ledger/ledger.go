// Package ledger keeps the per-slot energy budget of the site. Slots start at
// the hourly cap and are depleted by forecast baseline consumption, heater
// recovery bursts and energy reserved for charging.
package ledger

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/wattbudget/core/logger"
	"github.com/kilianp07/wattbudget/core/model"
)

// Config defines the budget applied to every slot.
type Config struct {
	HourlyCapWh float64 `json:"hourly_cap_wh"`
	// StressedHourFactor scales the cap of hours flagged as over budget.
	StressedHourFactor float64 `json:"stressed_hour_factor"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.StressedHourFactor <= 0 || c.StressedHourFactor > 1 {
		c.StressedHourFactor = 0.9
	}
}

// Forecaster provides the learned baseline consumption. It is implemented by
// learner.Learner.
type Forecaster interface {
	ForecastOrDefault(outsideTemp float64) (idleWatts, heaterWatts float64)
	HeaterRecovery(offDuration time.Duration, outsideTemp float64) (float64, bool)
}

// HeaterOutage describes a heater that is, or will be, switched off and will
// draw extra energy when it recovers.
type HeaterOutage struct {
	HeaterID   string
	OffSince   time.Time
	RecoveryAt time.Time
	RatedWatts float64
}

// Inputs holds everything a rebuild depends on.
type Inputs struct {
	Now time.Time
	// Horizon is the end of the last slot, usually the end of the last day
	// with known prices.
	Horizon time.Time
	// Temperature returns the forecast outside temperature. Nil means 0 °C.
	Temperature      func(time.Time) float64
	Outages          []HeaterOutage
	TotalHeaterWatts float64
}

// Reservation records the energy taken from each slot so it can be
// released again.
type Reservation []SlotAmount

// SlotAmount is the energy taken from the slot starting at Start.
type SlotAmount struct {
	Start time.Time
	Wh    float64
}

// Total returns the reserved energy in Wh.
func (r Reservation) Total() float64 {
	v := make([]float64, len(r))
	for i, a := range r {
		v[i] = a.Wh
	}
	return floats.Sum(v)
}

// Ledger owns the PowerSlot sequence.
type Ledger struct {
	cfg Config
	fc  Forecaster
	log logger.Logger

	mu       sync.Mutex
	slots    []model.PowerSlot
	base     []float64
	stressed map[int]bool
}

// New creates an empty ledger.
func New(cfg Config, fc Forecaster, log logger.Logger) *Ledger {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Ledger{cfg: cfg, fc: fc, log: log, stressed: make(map[int]bool)}
}

// Rebuild recreates all slots from the inputs. Reservations are dropped.
func (l *Ledger) Rebuild(in Inputs) {
	temp := in.Temperature
	if temp == nil {
		temp = func(time.Time) float64 { return 0 }
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var slots []model.PowerSlot
	for start := in.Now; start.Before(in.Horizon); {
		end := start.Truncate(time.Hour).Add(time.Hour)
		if end.After(in.Horizon) {
			end = in.Horizon
		}
		s := model.PowerSlot{Start: start, End: end}
		limit := l.cfg.HourlyCapWh
		if l.stressed[start.Hour()] {
			limit *= l.cfg.StressedHourFactor
		}
		s.AvailableWh = limit * s.Hours()
		if l.fc != nil {
			idle, heater := l.fc.ForecastOrDefault(temp(start))
			s.AvailableWh -= (idle + heater) * s.Hours()
		}
		slots = append(slots, s)
		start = end
	}
	for _, o := range in.Outages {
		l.applyOutage(slots, o, in.TotalHeaterWatts, temp)
	}
	l.slots = slots
	l.base = make([]float64, len(slots))
	for i, s := range slots {
		l.base[i] = s.AvailableWh
	}
	l.log.Debugf("ledger rebuilt with %d slots until %s", len(slots), in.Horizon.Format(time.RFC3339))
}

// applyOutage subtracts the recovery energy of a heater starting at the slot
// where recovery begins, bounded per slot by the heater's rated power.
func (l *Ledger) applyOutage(slots []model.PowerSlot, o HeaterOutage, totalWatts float64, temp func(time.Time) float64) {
	if l.fc == nil || o.RatedWatts <= 0 || !o.RecoveryAt.After(o.OffSince) {
		return
	}
	kwh, ok := l.fc.HeaterRecovery(o.RecoveryAt.Sub(o.OffSince), temp(o.RecoveryAt))
	if !ok {
		return
	}
	share := 1.0
	if totalWatts > 0 {
		share = o.RatedWatts / totalWatts
	}
	remaining := kwh * 1000 * share
	for i := range slots {
		if remaining <= 0 {
			return
		}
		part := slots[i].Overlap(o.RecoveryAt, slots[i].End).Hours()
		if part <= 0 {
			continue
		}
		take := math.Min(remaining, o.RatedWatts*part)
		slots[i].AvailableWh -= take
		remaining -= take
	}
}

// Restore replaces the slots with a persisted sequence. The restored values
// become the new baseline.
func (l *Ledger) Restore(slots []model.PowerSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slots = append([]model.PowerSlot(nil), slots...)
	l.base = make([]float64, len(slots))
	for i, s := range slots {
		l.base[i] = s.AvailableWh
	}
}

// Slots returns a copy of the current slots.
func (l *Ledger) Slots() []model.PowerSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.PowerSlot(nil), l.slots...)
}

// Horizon returns the end of the last slot.
func (l *Ledger) Horizon() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.slots) == 0 {
		return time.Time{}
	}
	return l.slots[len(l.slots)-1].End
}

// AvailableAt returns the remaining allowance of the slot containing t.
func (l *Ledger) AvailableAt(t time.Time) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.slots {
		if s.Contains(t) {
			return s.AvailableWh, true
		}
	}
	return 0, false
}

// ResetReservations restores every slot to its value after the last rebuild.
func (l *Ledger) ResetReservations() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.slots {
		l.slots[i].AvailableWh = l.base[i]
	}
}

// MarkStressed flags an hour of the day. The next rebuild applies the
// stressed factor to slots starting in that hour.
func (l *Ledger) MarkStressed(hour int) {
	l.mu.Lock()
	l.stressed[hour] = true
	l.mu.Unlock()
}

// StressedHours returns the flagged hours.
func (l *Ledger) StressedHours() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	hours := make([]int, 0, len(l.stressed))
	for h := 0; h < 24; h++ {
		if l.stressed[h] {
			hours = append(hours, h)
		}
	}
	return hours
}

// Reserve draws down up to energyWh from the slots overlapping [from, to),
// taking at most watts × overlap and never more than a slot still has.
func (l *Ledger) Reserve(from, to time.Time, watts, energyWh float64) Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()
	var res Reservation
	remaining := energyWh
	for i := range l.slots {
		if remaining <= 0 {
			break
		}
		s := &l.slots[i]
		part := s.Overlap(from, to).Hours()
		if part <= 0 {
			continue
		}
		take := math.Min(watts*part, math.Max(s.AvailableWh, 0))
		take = math.Min(take, remaining)
		if take <= 0 {
			continue
		}
		s.AvailableWh -= take
		remaining -= take
		res = append(res, SlotAmount{Start: s.Start, Wh: take})
	}
	return res
}

// Release gives a reservation back to its slots.
func (l *Ledger) Release(r Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range r {
		for i := range l.slots {
			if l.slots[i].Start.Equal(a.Start) {
				l.slots[i].AvailableWh += a.Wh
				break
			}
		}
	}
}

// Apply takes a previously released reservation again.
func (l *Ledger) Apply(r Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range r {
		for i := range l.slots {
			if l.slots[i].Start.Equal(a.Start) {
				l.slots[i].AvailableWh -= a.Wh
				break
			}
		}
	}
}

// EstimateHoursToCharge returns how long delivering kWh at up to totalWatts
// would take from the given time, given what the slots still allow. Beyond
// the horizon the rate of the last slot is extrapolated.
func (l *Ledger) EstimateHoursToCharge(kWh, totalWatts float64, from time.Time) float64 {
	if kWh <= 0 {
		return 0
	}
	if totalWatts <= 0 {
		return math.Inf(1)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	need := kWh * 1000
	hours := 0.0
	lastRate := -1.0
	for _, s := range l.slots {
		if !s.End.After(from) {
			continue
		}
		part := s.Overlap(from, s.End).Hours()
		if part <= 0 {
			continue
		}
		avail := math.Max(s.AvailableWh, 0) * part / s.Hours()
		usable := math.Min(avail, totalWatts*part)
		lastRate = usable / part
		if usable >= need {
			return hours + need/lastRate
		}
		need -= usable
		hours += part
	}
	if lastRate <= 0 {
		lastRate = totalWatts
	}
	return hours + need/lastRate
}
