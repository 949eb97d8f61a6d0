package balancer

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wattbudget/core/device"
)

func TestOverTargetReducesChargerBeforeHeater(t *testing.T) {
	r := newRig(t, Config{})
	r.at(50, 0)
	r.meter.acc = 13000
	r.meter.cons = 9000

	d := r.tick()
	require.Equal(t, RuleOverTarget, d.Rule)
	assert.InDelta(t, 1500, d.ProjectedWh, 1e-6)
	assert.Less(t, d.TargetBufferWh, 0.0)

	ampsAt := d.Index(ActionSetAmps)
	heaterAt := d.Index(ActionHeaterSave)
	require.GreaterOrEqual(t, ampsAt, 0)
	require.GreaterOrEqual(t, heaterAt, 0)
	assert.Less(t, ampsAt, heaterAt)

	// 1010 W short: 4 A off the charger, the rest from the largest heater.
	assert.Equal(t, 12, r.easee.amps)
	assert.Equal(t, device.ModeSave, r.h2.mode)
	assert.Empty(t, r.h1.mode)
}

func TestOverTargetWaitsBeforeReducingHeaters(t *testing.T) {
	r := newRig(t, Config{})
	r.at(5, 0)
	r.meter.acc = 2000
	r.meter.cons = 12000

	d := r.tick()
	require.Equal(t, RuleOverTarget, d.Rule)
	assert.True(t, d.Has(ActionSetAmps, "easee"))
	assert.False(t, d.Has(ActionHeaterSave, ""))
	assert.Equal(t, 6, r.easee.amps)
}

func TestOverTargetStopsUnadmittedCharging(t *testing.T) {
	r := newRig(t, Config{})
	r.queue.admitted["tesla"] = false
	r.at(50, 0)
	r.meter.acc = 13000
	r.meter.cons = 9000

	d := r.tick()
	require.Equal(t, RuleOverTarget, d.Rule)
	assert.True(t, d.Has(ActionStop, "easee"))
	assert.False(t, r.queue.IsCharging("tesla"))
	// 16 A at 230 V covers the deficit.
	assert.False(t, d.Has(ActionHeaterSave, ""))
}

func TestReduceAmpsCarriesRemainder(t *testing.T) {
	r := newRig(t, Config{})
	top := &fakePort{id: "top", min: 6, max: 16, vpp: 230, amps: 16}
	low := &fakePort{id: "low", min: 6, max: 16, vpp: 230, amps: 8}
	list := []active{
		{vehicle: "a", port: top, amps: 16, priority: 1},
		{vehicle: "b", port: low, amps: 8, priority: 5},
	}
	tk := &tick{d: &Decision{}}

	left := r.b.reduceAmps(tk, list, 2300)
	assert.Equal(t, 6, low.amps)
	assert.Equal(t, 8, top.amps)
	assert.InDelta(t, 0, left, 1e-9)
	assert.Equal(t, []Action{
		{Kind: ActionSetAmps, Target: "low", Value: 6},
		{Kind: ActionSetAmps, Target: "top", Value: 8},
	}, tk.d.Actions)
}

func TestDecisionTableIsExclusive(t *testing.T) {
	tests := []struct {
		name   string
		minute int
		acc    float64
		cons   float64
		prod   float64
		setup  func(*rig)
		want   RuleName
	}{
		{name: "over target", minute: 50, acc: 13000, cons: 9000, want: RuleOverTarget},
		{name: "heaters reduced", minute: 10, acc: 1000, cons: 3000, setup: func(r *rig) {
			r.b.heaters["h1"].reduced = true
		}, want: RuleHeaterRestore},
		{name: "surplus", minute: 10, acc: 100, cons: 2000, prod: 6000, want: RuleSurplus},
		{name: "after surplus", minute: 10, acc: 1000, cons: 3000, prod: 1000, setup: func(r *rig) {
			r.b.surplus = true
		}, want: RuleAfterSurplus},
		{name: "under target", minute: 10, acc: 1000, cons: 3000, want: RuleUnderTarget},
		{name: "settling", minute: 10, acc: 1000, cons: 3000, setup: func(r *rig) {
			r.b.lastReduction = r.now.Add(-time.Minute)
		}, want: RuleHold},
		{name: "tight", minute: 30, acc: 7200, cons: 14000, want: RuleHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, Config{})
			r.at(tt.minute, 0)
			r.meter.acc, r.meter.cons, r.meter.prod = tt.acc, tt.cons, tt.prod
			if tt.setup != nil {
				tt.setup(r)
			}
			d := r.tick()
			assert.Equal(t, tt.want, d.Rule)
		})
	}
}

func TestSurplusRestoresHeatersThenLimitThenBoost(t *testing.T) {
	r := newRig(t, Config{})
	r.b.heaters["h1"].reduced = true
	r.b.heaters["h1"].reducedAt = r.now.Add(-30 * time.Minute)
	r.h1.mode = device.ModeSave
	r.at(10, 0)
	r.meter.acc = 300
	r.meter.cons = 2000
	r.meter.prod = 6000

	d := r.tick()
	require.Equal(t, RuleSurplus, d.Rule)

	restore := d.Index(ActionHeaterNormal)
	limit := d.Index(ActionChargeLimit)
	boost := d.Index(ActionHeaterBoost)
	require.GreaterOrEqual(t, restore, 0)
	require.GreaterOrEqual(t, limit, 0)
	require.GreaterOrEqual(t, boost, 0)
	assert.Less(t, restore, limit)
	assert.Less(t, limit, boost)

	assert.Equal(t, []float64{90}, r.tesla.limits)
	assert.Equal(t, device.ModeBoost, r.h1.mode)
	assert.Equal(t, device.ModeBoost, r.h2.mode)

	// Production drops: boosts are undone and the old limit comes back.
	r.at(11, 0)
	r.meter.prod = 1000
	r.meter.cons = 5000
	d = r.tick()
	require.Equal(t, RuleAfterSurplus, d.Rule)
	assert.Equal(t, device.ModeNormal, r.h1.mode)
	assert.Equal(t, device.ModeNormal, r.h2.mode)
	assert.Equal(t, []float64{90, 80}, r.tesla.limits)
	assert.False(t, r.b.surplus)

	// The surplus state is gone, so the next tick is evaluated normally.
	r.at(12, 0)
	assert.NotEqual(t, RuleAfterSurplus, r.tick().Rule)
}

func TestSolarSessionLifecycle(t *testing.T) {
	r := newRig(t, Config{})
	require.NoError(t, r.links.Link("leaf", "zaptec"))
	r.zaptec.status = device.StatusConnected
	r.h1.rated, r.h2.rated = 9000, 9000
	r.at(10, 0)
	r.meter.acc = 300
	r.meter.cons = 1000
	r.meter.prod = 5000

	d := r.tick()
	require.Equal(t, RuleSurplus, d.Rule)
	assert.True(t, d.Has(ActionStart, "zaptec"))
	assert.True(t, r.queue.IsCharging("leaf"))
	// 4000 W surplus: 1380 W to start, the rest raises current to the max.
	assert.Equal(t, 16, r.zaptec.amps)
	assert.Equal(t, []string{"zaptec"}, r.b.solar)

	r.at(11, 0)
	r.meter.prod = 0
	r.meter.cons = 4000
	d = r.tick()
	require.Equal(t, RuleAfterSurplus, d.Rule)
	assert.True(t, d.Has(ActionSetAmps, "zaptec"))
	assert.True(t, d.Has(ActionStop, "zaptec"))
	assert.False(t, r.queue.IsCharging("leaf"))
	assert.True(t, r.queue.IsCharging("tesla"))
	assert.Empty(t, r.b.solar)
}

func TestUnderTargetStartsNextJob(t *testing.T) {
	r := newRig(t, Config{})
	r.queue.charging = nil
	r.queue.next = "tesla"
	r.easee.status = device.StatusConnected
	r.easee.amps = 0
	r.at(10, 0)
	r.meter.acc = 500
	r.meter.cons = 1000

	d := r.tick()
	require.Equal(t, RuleUnderTarget, d.Rule)
	require.True(t, d.Has(ActionStart, "easee"))
	assert.True(t, r.queue.IsCharging("tesla"))
	assert.Equal(t, 16, r.easee.amps)
	assert.Equal(t, ActionStart, d.Actions[0].Kind)
	assert.Equal(t, Action{Kind: ActionSetAmps, Target: "easee", Value: 6}, d.Actions[1])
}

func TestUnderTargetRaisesHighestPriorityFirst(t *testing.T) {
	r := newRig(t, Config{})
	require.NoError(t, r.links.Link("leaf", "zaptec"))
	r.queue.charging = []string{"tesla", "leaf"}
	r.queue.admitted["leaf"] = true
	r.easee.amps, r.zaptec.amps = 6, 6
	r.zaptec.status = device.StatusCharging
	r.at(55, 0)
	r.meter.acc = 12000
	r.meter.cons = 5000

	// 14590 - 12000 - 417 leaves ~2173 Wh, 26 kW for the last five minutes.
	d := r.tick()
	require.Equal(t, RuleUnderTarget, d.Rule)
	assert.Equal(t, "zaptec", d.Actions[0].Target)
	assert.Equal(t, 16, r.zaptec.amps)
	assert.Equal(t, 16, r.easee.amps)
}

func TestHeaterRestoreLearnsRecovery(t *testing.T) {
	r := newRig(t, Config{HeaterRecoveryWindow: time.Hour})
	r.at(50, 0)
	r.meter.acc = 13000
	r.meter.cons = 9000
	require.Equal(t, RuleOverTarget, r.tick().Rule)
	require.Equal(t, device.ModeSave, r.h2.mode)

	// Next hour there is room again.
	r.now = r.now.Add(20 * time.Minute)
	r.meter.acc = 1000
	r.meter.cons = 3000
	r.h2.energy = 10
	d := r.tick()
	require.Equal(t, RuleHeaterRestore, d.Rule)
	assert.Equal(t, device.ModeNormal, r.h2.mode)

	fn, ok := r.timers.pending[recoveryKey("h2")]
	require.True(t, ok)
	r.h2.energy = 11.5
	fn()
	require.Len(t, r.learner.samples, 1)
	// h2 is 2000 W of 3000 W rated heating, the sample is scaled to the house
	s := r.learner.samples[0]
	assert.Equal(t, 20*time.Minute, s.off)
	assert.Equal(t, 2.0, s.temp)
	assert.InDelta(t, 2.25, s.kWh, 1e-9)
}

func TestReducingAgainCancelsRecoveryMeasurement(t *testing.T) {
	r := newRig(t, Config{HeaterRecoveryWindow: time.Hour})
	r.b.heaters["h2"].reduced = true
	r.b.heaters["h2"].reducedAt = r.now
	r.at(20, 0)
	r.meter.acc = 1000
	r.meter.cons = 3000
	require.Equal(t, RuleHeaterRestore, r.tick().Rule)
	require.Contains(t, r.timers.pending, recoveryKey("h2"))

	r.at(50, 0)
	r.meter.acc = 13000
	r.meter.cons = 9000
	r.easee.amps = 6
	require.Equal(t, RuleOverTarget, r.tick().Rule)
	assert.NotContains(t, r.timers.pending, recoveryKey("h2"))
}

func TestSustainedDeficitEscalates(t *testing.T) {
	r := newRig(t, Config{ForceStop: true, Notify: true, NotifyRecipients: []string{"owner"}})
	r.h1.power, r.h2.power = 0, 0
	r.at(40, 0)
	r.meter.acc = 13000
	r.meter.cons = 9000

	d := r.tick()
	require.Equal(t, RuleOverTarget, d.Rule)
	assert.False(t, d.Has(ActionNotify, ""))

	r.at(44, 0)
	r.meter.acc = 13600
	d = r.tick()
	require.Equal(t, RuleOverTarget, d.Rule)
	assert.True(t, d.Has(ActionStop, "easee"))
	assert.True(t, d.Has(ActionNotify, ""))
	assert.True(t, d.Has(ActionStressHour, ""))
	require.Len(t, r.notifier.msgs, 1)
	assert.Equal(t, []string{"owner"}, r.notifier.msgs[0].Recipients)
	assert.Equal(t, []int{10}, r.budget.stressed)

	// Only one notification per hour.
	r.at(45, 0)
	r.tick()
	assert.Len(t, r.notifier.msgs, 1)
	assert.Len(t, r.budget.stressed, 1)
}

func TestSensorFallback(t *testing.T) {
	r := newRig(t, Config{})
	r.at(10, 0)
	r.meter.acc = 1000
	r.meter.cons = 3000
	r.tick()

	r.at(11, 0)
	r.meter.consErr = errSensor
	d := r.tick()
	assert.True(t, d.Estimated)
	assert.Equal(t, 3000.0, d.ConsumptionW)

	// Accumulated energy stops updating while power is drawn.
	r.meter.consErr = nil
	r.meter.accErr = errSensor
	r.at(13, 0)
	d = r.tick()
	assert.True(t, d.Estimated)
	assert.InDelta(t, 1000+3000*3.0/60, d.AccumulatedWh, 1e-6)
	assert.Zero(t, r.meter.recoveries)

	r.at(15, 0)
	d = r.tick()
	assert.Equal(t, 1, r.meter.recoveries)
	assert.True(t, d.Has(ActionSensorRecover, "accumulated"))

	r.at(16, 0)
	r.tick()
	assert.Equal(t, 1, r.meter.recoveries)
}

func TestConsumptionFallsBackToForecast(t *testing.T) {
	r := newRig(t, Config{})
	r.meter.consErr = errSensor
	r.at(10, 0)
	r.meter.acc = 1000

	d := r.tick()
	// Learned idle 2000 W plus the tesla at 16 A.
	assert.Equal(t, 2000.0+16*230, d.ConsumptionW)
}

func TestDecisionsAreObservedAndCounted(t *testing.T) {
	ResetMetrics(prometheus.NewRegistry())
	r := newRig(t, Config{})
	var seen []Decision
	r.b.Observe(func(d Decision) { seen = append(seen, d) })
	r.at(10, 0)
	r.meter.acc = 1000
	r.meter.cons = 3000

	r.tick()
	require.Len(t, seen, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(decisionsTotal.WithLabelValues(string(seen[0].Rule))))
	assert.Equal(t, 1000.0, testutil.ToFloat64(hourEnergy.WithLabelValues("accumulated")))
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{HourlyCapWh: 1000, BufferWh: 2000}, Devices{}, Deps{})
	assert.Error(t, err)
	_, err = New(Config{HourlyCapWh: 1000}, Devices{}, Deps{})
	assert.Error(t, err)
}
