package ledger

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wattbudget/core/learner"
)

type fakeForecaster struct {
	idle, heater float64
	recoveryKWh  float64
	hasRecovery  bool
}

func (f fakeForecaster) ForecastOrDefault(float64) (float64, float64) { return f.idle, f.heater }
func (f fakeForecaster) HeaterRecovery(time.Duration, float64) (float64, bool) {
	return f.recoveryKWh, f.hasRecovery
}

var t0 = time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)

func flatLedger(t *testing.T, capWh, idle float64, hours int) *Ledger {
	t.Helper()
	l := New(Config{HourlyCapWh: capWh}, fakeForecaster{idle: idle}, nil)
	l.Rebuild(Inputs{Now: t0, Horizon: t0.Add(time.Duration(hours) * time.Hour)})
	return l
}

func TestRebuildSlots(t *testing.T) {
	l := New(Config{HourlyCapWh: 10000}, fakeForecaster{idle: 1500, heater: 500}, nil)
	now := t0.Add(30 * time.Minute)
	l.Rebuild(Inputs{Now: now, Horizon: t0.Add(3 * time.Hour)})

	slots := l.Slots()
	require.Len(t, slots, 3)
	assert.Equal(t, now, slots[0].Start)
	assert.Equal(t, t0.Add(time.Hour), slots[0].End)
	assert.InDelta(t, 4000, slots[0].AvailableWh, 1e-9)
	assert.InDelta(t, 8000, slots[1].AvailableWh, 1e-9)
	assert.Equal(t, t0.Add(3*time.Hour), l.Horizon())
}

func TestRebuildHeaterOutage(t *testing.T) {
	fc := fakeForecaster{idle: 0, recoveryKWh: 3, hasRecovery: true}
	l := New(Config{HourlyCapWh: 10000}, fc, nil)
	l.Rebuild(Inputs{
		Now:     t0,
		Horizon: t0.Add(4 * time.Hour),
		Outages: []HeaterOutage{{
			HeaterID:   "floor",
			OffSince:   t0,
			RecoveryAt: t0.Add(90 * time.Minute),
			RatedWatts: 2000,
		}},
		TotalHeaterWatts: 4000,
	})
	// share 0.5 of 3 kWh = 1500 Wh, at most 2000 W: 1000 Wh in the half hour
	// left of slot 1, the remaining 500 Wh in slot 2
	slots := l.Slots()
	assert.InDelta(t, 10000, slots[0].AvailableWh, 1e-9)
	assert.InDelta(t, 9000, slots[1].AvailableWh, 1e-9)
	assert.InDelta(t, 9500, slots[2].AvailableWh, 1e-9)
	assert.InDelta(t, 10000, slots[3].AvailableWh, 1e-9)
}

func TestLearnedRecoveryIsScaledOnce(t *testing.T) {
	// a 2 kW heater out of 4 kW drew 3 kWh recovering from 90 minutes off,
	// which is learned as 6 kWh for the whole house
	lrn := learner.New(learner.Config{}, nil)
	require.NoError(t, lrn.RecordHeaterRecoverySample(90*time.Minute, 0, 3*4000/2000.0))

	in := Inputs{Now: t0, Horizon: t0.Add(4 * time.Hour), TotalHeaterWatts: 4000}
	base := New(Config{HourlyCapWh: 10000}, lrn, nil)
	base.Rebuild(in)

	in.Outages = []HeaterOutage{{
		HeaterID:   "floor",
		OffSince:   t0,
		RecoveryAt: t0.Add(90 * time.Minute),
		RatedWatts: 2000,
	}}
	l := New(Config{HourlyCapWh: 10000}, lrn, nil)
	l.Rebuild(in)

	want := []float64{0, 1000, 2000, 0}
	var total float64
	for i, s := range l.Slots() {
		took := base.Slots()[i].AvailableWh - s.AvailableWh
		assert.InDelta(t, want[i], took, 1e-9, "slot %d", i)
		total += took
	}
	assert.InDelta(t, 3000, total, 1e-9)
}

func TestStressedHour(t *testing.T) {
	l := New(Config{HourlyCapWh: 10000, StressedHourFactor: 0.5}, nil, nil)
	l.MarkStressed(11)
	l.Rebuild(Inputs{Now: t0, Horizon: t0.Add(2 * time.Hour)})
	slots := l.Slots()
	assert.InDelta(t, 10000, slots[0].AvailableWh, 1e-9)
	assert.InDelta(t, 5000, slots[1].AvailableWh, 1e-9)
	assert.Equal(t, []int{11}, l.StressedHours())
}

func TestReserveAndRelease(t *testing.T) {
	l := flatLedger(t, 10000, 2000, 3)
	res := l.Reserve(t0.Add(30*time.Minute), t0.Add(2*time.Hour), 11000, 20000)
	// half hour in slot 0 (5500), full slot 1 limited by 8000 available
	require.Len(t, res, 2)
	assert.InDelta(t, 13500, res.Total(), 1e-9)
	slots := l.Slots()
	assert.InDelta(t, 2500, slots[0].AvailableWh, 1e-9)
	assert.InDelta(t, 0, slots[1].AvailableWh, 1e-9)

	l.Release(res)
	for _, s := range l.Slots() {
		assert.InDelta(t, 8000, s.AvailableWh, 1e-9)
	}

	l.Reserve(t0, t0.Add(time.Hour), 4000, 4000)
	l.ResetReservations()
	v, ok := l.AvailableAt(t0.Add(10 * time.Minute))
	require.True(t, ok)
	assert.InDelta(t, 8000, v, 1e-9)
}

func TestEstimateHoursToCharge(t *testing.T) {
	l := flatLedger(t, 10000, 2000, 4)

	// limited by the charger: 11 kW for 22 kWh
	assert.InDelta(t, 22.0/8.0, l.EstimateHoursToCharge(22, 11000, t0), 1e-9)
	// limited by the charger power below slot allowance
	assert.InDelta(t, 2.0, l.EstimateHoursToCharge(8, 4000, t0), 1e-9)
	// starting mid-slot uses the pro-rated allowance
	assert.InDelta(t, 0.5+0.5, l.EstimateHoursToCharge(8, 8000, t0.Add(30*time.Minute)), 1e-9)
	// beyond the horizon the last rate is extrapolated
	assert.InDelta(t, 4+2, l.EstimateHoursToCharge(48, 11000, t0), 1e-9)
	assert.Zero(t, l.EstimateHoursToCharge(0, 11000, t0))
	assert.True(t, math.IsInf(l.EstimateHoursToCharge(5, 0, t0), 1))
}

func TestEstimateWithoutSlots(t *testing.T) {
	l := New(Config{HourlyCapWh: 10000}, nil, nil)
	assert.InDelta(t, 2.0, l.EstimateHoursToCharge(10, 5000, t0), 1e-9)
}

func TestEstimateMonotonic(t *testing.T) {
	l := flatLedger(t, 9000, 2500, 12)
	l.Reserve(t0.Add(2*time.Hour), t0.Add(5*time.Hour), 6000, 15000)

	prev := 0.0
	for kwh := 1.0; kwh <= 120; kwh += 3.5 {
		h := l.EstimateHoursToCharge(kwh, 7400, t0)
		assert.GreaterOrEqual(t, h, prev, "kWh %v", kwh)
		prev = h
	}
	prev = math.Inf(1)
	for w := 1000.0; w <= 22000; w += 1300 {
		h := l.EstimateHoursToCharge(30, w, t0)
		assert.LessOrEqual(t, h, prev, "watts %v", w)
		prev = h
	}
}
