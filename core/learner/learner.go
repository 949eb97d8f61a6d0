package learner

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/wattbudget/core/logger"
	"github.com/kilianp07/wattbudget/core/model"
)

var (
	// ErrInvalidSample is returned for missing or non-finite sensor values.
	ErrInvalidSample = errors.New("invalid sample")
	// ErrSampleRejected is returned when a sample deviates too far from history.
	ErrSampleRejected = errors.New("sample rejected")
)

// DefaultIdleWatts is used by callers when no idle data is known yet.
const DefaultIdleWatts = 2000.0

// Learner maintains the idle and heater recovery tables.
type Learner struct {
	cfg Config
	log logger.Logger

	mu       sync.RWMutex
	idle     map[int]model.ConsumptionSample
	recovery map[int]map[int]model.ConsumptionSample
}

// New returns an empty learner.
func New(cfg Config, log logger.Logger) *Learner {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Learner{
		cfg:      cfg,
		log:      log,
		idle:     make(map[int]model.ConsumptionSample),
		recovery: make(map[int]map[int]model.ConsumptionSample),
	}
}

// Config returns the effective configuration.
func (l *Learner) Config() Config { return l.cfg }

// TemperatureBucket rounds t to the nearest even integer.
func TemperatureBucket(t float64) int {
	return int(math.Round(t/2) * 2)
}

func (l *Learner) offBucket(d time.Duration) int {
	step := float64(l.cfg.OffMinutesStep)
	b := int(math.Round(d.Minutes()/step) * step)
	if b < l.cfg.OffMinutesStep {
		b = l.cfg.OffMinutesStep
	}
	return b
}

func valid(v ...float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return false
		}
	}
	return true
}

// RecordIdleSample merges an observation of idle house draw and heater draw
// at the given outside temperature.
func (l *Learner) RecordIdleSample(outsideTemp, idleWatts, heaterWatts float64) error {
	if math.IsNaN(outsideTemp) || math.IsInf(outsideTemp, 0) || !valid(idleWatts, heaterWatts) {
		return ErrInvalidSample
	}
	bucket := TemperatureBucket(outsideTemp)
	obs := model.ConsumptionSample{Consumption: idleWatts, HeaterConsumption: heaterWatts, HasHeater: true, Counter: 1}

	l.mu.Lock()
	defer l.mu.Unlock()
	next, err := l.merge(l.idle, bucket, obs)
	if err != nil {
		l.log.Debugw("idle sample rejected", map[string]any{"bucket": bucket, "watts": idleWatts})
		return err
	}
	l.idle[bucket] = next
	return nil
}

// RecordHeaterRecoverySample merges the energy needed to recover after
// heaters were off for offDuration. energyKWh is for all heaters of the
// house; callers measuring one heater scale it by total over rated watts.
func (l *Learner) RecordHeaterRecoverySample(offDuration time.Duration, outsideTemp, energyKWh float64) error {
	if offDuration <= 0 || math.IsNaN(outsideTemp) || math.IsInf(outsideTemp, 0) || !valid(energyKWh) {
		return ErrInvalidSample
	}
	off := l.offBucket(offDuration)
	bucket := TemperatureBucket(outsideTemp)
	obs := model.ConsumptionSample{Consumption: energyKWh, Counter: 1}

	l.mu.Lock()
	defer l.mu.Unlock()
	table, ok := l.recovery[off]
	if !ok {
		table = make(map[int]model.ConsumptionSample)
		// a new duration bucket borrows the closest duration's history
		if near, found := nearestKey(keysOf(l.recovery), off); found {
			if s, ok := l.recovery[near][bucket]; ok && s.Counter >= l.cfg.MinSamplesForReject {
				if l.deviates(s, energyKWh) {
					l.log.Debugw("recovery sample rejected", map[string]any{"off": off, "bucket": bucket, "kwh": energyKWh})
					return ErrSampleRejected
				}
				table[bucket] = blendSeed(s, obs)
				l.recovery[off] = table
				return nil
			}
		}
	}
	next, err := l.merge(table, bucket, obs)
	if err != nil {
		l.log.Debugw("recovery sample rejected", map[string]any{"off": off, "bucket": bucket, "kwh": energyKWh})
		return err
	}
	table[bucket] = next
	l.recovery[off] = table
	return nil
}

// merge returns the updated sample for bucket in table without mutating it.
func (l *Learner) merge(table map[int]model.ConsumptionSample, bucket int, obs model.ConsumptionSample) (model.ConsumptionSample, error) {
	if cur, ok := table[bucket]; ok {
		if l.deviates(cur, obs.Consumption) {
			return cur, ErrSampleRejected
		}
		return l.blend(cur, obs), nil
	}
	keys := keysOf(table)
	if near, ok := nearestKey(keys, bucket); ok && abs(near-bucket) <= l.cfg.NeighborTolerance {
		n := table[near]
		if n.Counter >= l.cfg.MinSamplesForReject && !l.deviates(n, obs.Consumption) {
			return blendSeed(n, obs), nil
		}
	}
	return obs, nil
}

// blendSeed starts a bucket from a neighbour's average and the observation,
// weighted equally.
func blendSeed(n, obs model.ConsumptionSample) model.ConsumptionSample {
	s := model.ConsumptionSample{
		Consumption: round2((n.Consumption + obs.Consumption) / 2),
		HasHeater:   obs.HasHeater,
		Counter:     2,
	}
	if obs.HasHeater {
		s.HeaterConsumption = obs.HeaterConsumption
		if n.HasHeater {
			s.HeaterConsumption = round2((n.HeaterConsumption + obs.HeaterConsumption) / 2)
		}
	}
	return s
}

func (l *Learner) deviates(cur model.ConsumptionSample, v float64) bool {
	if cur.Counter < l.cfg.MinSamplesForReject || cur.Consumption <= 0 {
		return false
	}
	if v <= 0 {
		return true
	}
	ratio := v / cur.Consumption
	if ratio < 1 {
		ratio = 1 / ratio
	}
	return ratio > l.cfg.RejectRatio
}

func (l *Learner) blend(cur, obs model.ConsumptionSample) model.ConsumptionSample {
	n := float64(cur.Counter)
	next := model.ConsumptionSample{
		Consumption: round2((cur.Consumption*n + obs.Consumption) / (n + 1)),
		HasHeater:   cur.HasHeater || obs.HasHeater,
		Counter:     cur.Counter + 1,
	}
	switch {
	case cur.HasHeater && obs.HasHeater:
		next.HeaterConsumption = round2((cur.HeaterConsumption*n + obs.HeaterConsumption) / (n + 1))
	case obs.HasHeater:
		next.HeaterConsumption = obs.HeaterConsumption
	default:
		next.HeaterConsumption = cur.HeaterConsumption
	}
	if next.Counter > l.cfg.MaxCounter {
		next.Counter = l.cfg.ResetCounter
	}
	return next
}

// Forecast returns the expected idle and heater draw in watts for the
// outside temperature. ok is false when nothing has been learned yet; callers
// should then fall back to DefaultIdleWatts.
func (l *Learner) Forecast(outsideTemp float64) (idleWatts, heaterWatts float64, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	near, found := nearestKey(keysOf(l.idle), TemperatureBucket(outsideTemp))
	if !found {
		return 0, 0, false
	}
	s := l.idle[near]
	return s.Consumption, s.HeaterConsumption, true
}

// ForecastOrDefault is Forecast with the documented idle default applied.
func (l *Learner) ForecastOrDefault(outsideTemp float64) (idleWatts, heaterWatts float64) {
	idle, heater, ok := l.Forecast(outsideTemp)
	if !ok {
		return DefaultIdleWatts, 0
	}
	return idle, heater
}

// HeaterRecovery returns the learned whole-house recovery energy in kWh after
// being off for offDuration, using the nearest known duration and
// temperature buckets.
func (l *Learner) HeaterRecovery(offDuration time.Duration, outsideTemp float64) (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	off, found := nearestKey(keysOf(l.recovery), l.offBucket(offDuration))
	if !found {
		return 0, false
	}
	table := l.recovery[off]
	near, found := nearestKey(keysOf(table), TemperatureBucket(outsideTemp))
	if !found {
		return 0, false
	}
	return table[near].Consumption, true
}

// Tables is a serialisable copy of the learned data.
type Tables struct {
	Idle     map[int]model.ConsumptionSample         `json:"idle"`
	Recovery map[int]map[int]model.ConsumptionSample `json:"recovery"`
}

// Export returns a deep copy of the tables.
func (l *Learner) Export() Tables {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t := Tables{
		Idle:     make(map[int]model.ConsumptionSample, len(l.idle)),
		Recovery: make(map[int]map[int]model.ConsumptionSample, len(l.recovery)),
	}
	for k, v := range l.idle {
		t.Idle[k] = v
	}
	for off, table := range l.recovery {
		cp := make(map[int]model.ConsumptionSample, len(table))
		for k, v := range table {
			cp[k] = v
		}
		t.Recovery[off] = cp
	}
	return t
}

// Import replaces the tables with t.
func (l *Learner) Import(t Tables) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.idle = make(map[int]model.ConsumptionSample, len(t.Idle))
	for k, v := range t.Idle {
		l.idle[k] = v
	}
	l.recovery = make(map[int]map[int]model.ConsumptionSample, len(t.Recovery))
	for off, table := range t.Recovery {
		cp := make(map[int]model.ConsumptionSample, len(table))
		for k, v := range table {
			cp[k] = v
		}
		l.recovery[off] = cp
	}
}

// Sample returns the idle sample stored for the bucket of outsideTemp.
func (l *Learner) Sample(outsideTemp float64) (model.ConsumptionSample, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.idle[TemperatureBucket(outsideTemp)]
	return s, ok
}

func keysOf[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// nearestKey returns the key closest to target. Ties resolve to the lower key.
func nearestKey(sorted []int, target int) (int, bool) {
	if len(sorted) == 0 {
		return 0, false
	}
	i := sort.SearchInts(sorted, target)
	if i < len(sorted) && sorted[i] == target {
		return target, true
	}
	switch {
	case i == 0:
		return sorted[0], true
	case i == len(sorted):
		return sorted[len(sorted)-1], true
	}
	lo, hi := sorted[i-1], sorted[i]
	if target-lo <= hi-target {
		return lo, true
	}
	return hi, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
