package balancer

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

type accSample struct {
	at time.Time
	wh float64
}

// sensorState remembers the last usable readings for fallbacks.
type sensorState struct {
	consumption   float64
	consumptionAt time.Time
	production    float64
	productionAt  time.Time
	temperature   float64
	haveTemp      bool

	hour       time.Time
	acc        float64
	accAt      time.Time
	history    []accSample
	recovering bool
}

func usable(v float64, err error) bool {
	return err == nil && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// readSensors fills the live values of a new decision, substituting
// estimates for unusable readings.
func (b *Balancer) readSensors(t *tick) {
	s := &b.sensors
	d := &Decision{Time: t.now}
	t.d = d

	if hour := t.now.Truncate(time.Hour); !s.hour.Equal(hour) {
		s.hour = hour
		s.acc = 0
		s.accAt = hour
		s.history = nil
	}

	if v, err := b.devs.Meter.OutsideTemperature(); usable(v, err) {
		s.temperature, s.haveTemp = v, true
	}

	if v, err := b.devs.Meter.Consumption(); usable(v, err) && v >= 0 {
		s.consumption, s.consumptionAt = v, t.now
		d.ConsumptionW = v
	} else {
		d.Estimated = true
		d.ConsumptionW = b.estimateConsumption(t.now)
		b.log.Debugf("consumption unavailable (%v), using %.0f W", err, d.ConsumptionW)
	}

	if v, err := b.devs.Meter.Production(); usable(v, err) && v >= 0 {
		s.production, s.productionAt = v, t.now
		d.ProductionW = v
	} else if t.now.Sub(s.productionAt) <= b.cfg.StaleAfter {
		d.ProductionW = s.production
	}

	v, err := b.devs.Meter.AccumulatedHour()
	ok := usable(v, err) && v >= 0
	switch {
	case ok && (v != s.acc || d.ConsumptionW <= 0 || len(s.history) == 0):
		s.acc, s.accAt = v, t.now
		s.history = append(s.history, accSample{at: t.now, wh: v})
		s.recovering = false
		d.AccumulatedWh = v
	case ok && t.now.Sub(s.accAt) <= b.cfg.StaleAfter:
		d.AccumulatedWh = v
	default:
		d.Estimated = true
		d.AccumulatedWh = b.estimateAccumulated(t.now, d.ConsumptionW)
		if ok && v > d.AccumulatedWh {
			d.AccumulatedWh = v
		}
		b.log.Debugf("accumulated energy unusable (%v), estimating %.0f Wh", err, d.AccumulatedWh)
		if t.now.Sub(s.accAt) > b.cfg.StaleAfter && !s.recovering {
			s.recovering = true
			rerr := b.devs.Meter.RecoverAccumulated(t.ctx)
			if rerr != nil {
				b.log.Errorf("accumulated energy sensor recovery: %v", rerr)
			} else {
				b.log.Warnf("accumulated energy stale since %s, recovery requested", s.accAt.Format(time.TimeOnly))
			}
			t.add(ActionSensorRecover, "accumulated", 0, rerr)
		}
	}
}

// estimateConsumption uses the previous reading while it is fresh, and
// the learned baseline plus charging draw otherwise.
func (b *Balancer) estimateConsumption(now time.Time) float64 {
	s := &b.sensors
	if !s.consumptionAt.IsZero() && now.Sub(s.consumptionAt) <= b.cfg.StaleAfter {
		return s.consumption
	}
	idle, heater := b.deps.Learner.ForecastOrDefault(s.temperature)
	total := idle + heater
	for _, a := range b.activeChargers() {
		total += float64(a.amps) * a.port.VoltsPerPhase()
	}
	return total
}

// estimateAccumulated is the larger of a linear continuation from the last
// good reading and a regression over this hour's readings.
func (b *Balancer) estimateAccumulated(now time.Time, consumptionW float64) float64 {
	s := &b.sensors
	est := s.acc + consumptionW*now.Sub(s.accAt).Hours()
	if len(s.history) >= 3 {
		xs := make([]float64, len(s.history))
		ys := make([]float64, len(s.history))
		for i, h := range s.history {
			xs[i] = h.at.Sub(s.hour).Seconds()
			ys[i] = h.wh
		}
		alpha, beta := stat.LinearRegression(xs, ys, nil, false)
		if reg := alpha + beta*now.Sub(s.hour).Seconds(); reg > est {
			est = reg
		}
	}
	return est
}
