package balancer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wattbudget/core/connection"
	"github.com/kilianp07/wattbudget/core/device"
	"github.com/kilianp07/wattbudget/core/model"
	"github.com/kilianp07/wattbudget/core/notify"
)

var errSensor = errors.New("sensor offline")

type fakeQueue struct {
	jobs     map[string]model.ChargingJob
	charging []string
	admitted map[string]bool
	next     string
}

func (q *fakeQueue) Admitted(id string) bool { return q.admitted[id] }

func (q *fakeQueue) FindNextToStart(bool) (string, bool) {
	if q.next == "" || q.IsCharging(q.next) {
		return "", false
	}
	return q.next, true
}

func (q *fakeQueue) MarkCharging(id string) {
	if !q.IsCharging(id) {
		q.charging = append(q.charging, id)
	}
}

func (q *fakeQueue) UnmarkCharging(id string) {
	for i, c := range q.charging {
		if c == id {
			q.charging = append(q.charging[:i], q.charging[i+1:]...)
			return
		}
	}
}

func (q *fakeQueue) IsCharging(id string) bool {
	for _, c := range q.charging {
		if c == id {
			return true
		}
	}
	return false
}

func (q *fakeQueue) Charging() []string { return append([]string(nil), q.charging...) }

func (q *fakeQueue) Job(id string) (model.ChargingJob, bool) {
	j, ok := q.jobs[id]
	return j, ok
}

type fakePort struct {
	id       string
	min, max int
	vpp      float64
	amps     int
	status   device.Status
}

func (p *fakePort) ID() string                     { return p.id }
func (p *fakePort) MinAmps() int                   { return p.min }
func (p *fakePort) MaxAmps() int                   { return p.max }
func (p *fakePort) VoltsPerPhase() float64         { return p.vpp }
func (p *fakePort) Amps() (int, error)             { return p.amps, nil }
func (p *fakePort) Status() (device.Status, error) { return p.status, nil }
func (p *fakePort) ConnectedCar() (string, error)  { return "", device.ErrUnavailable }

func (p *fakePort) SetAmps(_ context.Context, a int) error {
	p.amps = a
	return nil
}

func (p *fakePort) Start(context.Context) error {
	p.status = device.StatusCharging
	return nil
}

func (p *fakePort) Stop(context.Context) error {
	p.status = device.StatusConnected
	return nil
}

type fakeHeater struct {
	id     string
	rated  float64
	power  float64
	energy float64
	mode   device.Mode
}

func (h *fakeHeater) ID() string               { return h.id }
func (h *fakeHeater) RatedWatts() float64      { return h.rated }
func (h *fakeHeater) Power() (float64, error)  { return h.power, nil }
func (h *fakeHeater) Energy() (float64, error) { return h.energy, nil }

func (h *fakeHeater) SetMode(_ context.Context, m device.Mode) error {
	h.mode = m
	return nil
}

type fakeVehicle struct {
	id     string
	limit  float64
	pref   float64
	limits []float64
}

func (v *fakeVehicle) ID() string                     { return v.id }
func (v *fakeVehicle) Wake(context.Context) error     { return nil }
func (v *fakeVehicle) BatteryLevel() (float64, error) { return 50, nil }
func (v *fakeVehicle) ChargeLimit() (float64, error)  { return v.limit, nil }
func (v *fakeVehicle) KWhNeeded() (float64, error)    { return 10, nil }
func (v *fakeVehicle) PreferredChargeLimit() float64  { return v.pref }

func (v *fakeVehicle) SetChargeLimit(_ context.Context, pct float64) error {
	v.limit = pct
	v.limits = append(v.limits, pct)
	return nil
}

type fakeMeter struct {
	cons, prod, acc float64
	temp            float64
	consErr, accErr error
	recoveries      int
}

func (m *fakeMeter) Consumption() (float64, error)        { return m.cons, m.consErr }
func (m *fakeMeter) Production() (float64, error)         { return m.prod, nil }
func (m *fakeMeter) AccumulatedHour() (float64, error)    { return m.acc, m.accErr }
func (m *fakeMeter) OutsideTemperature() (float64, error) { return m.temp, nil }

func (m *fakeMeter) RecoverAccumulated(context.Context) error {
	m.recoveries++
	return nil
}

type recoverySample struct {
	off  time.Duration
	temp float64
	kWh  float64
}

type fakeLearner struct {
	idle, heater float64
	samples      []recoverySample
}

func (l *fakeLearner) ForecastOrDefault(float64) (float64, float64) { return l.idle, l.heater }

func (l *fakeLearner) RecordHeaterRecoverySample(off time.Duration, temp, kWh float64) error {
	l.samples = append(l.samples, recoverySample{off, temp, kWh})
	return nil
}

type fakeTimers struct{ pending map[string]func() }

func (f *fakeTimers) Schedule(key string, _ time.Time, fn func()) { f.pending[key] = fn }
func (f *fakeTimers) Cancel(key string)                           { delete(f.pending, key) }

type fakeNotifier struct{ msgs []notify.Message }

func (n *fakeNotifier) Notify(_ context.Context, m notify.Message) error {
	n.msgs = append(n.msgs, m)
	return nil
}

type fakeBudget struct{ stressed []int }

func (b *fakeBudget) MarkStressed(h int) { b.stressed = append(b.stressed, h) }

// rig is a house with two cars, two chargers and two heaters. The tesla is
// plugged into easee and charging at 16 A.
type rig struct {
	b        *Balancer
	now      time.Time
	queue    *fakeQueue
	links    *connection.Registry
	meter    *fakeMeter
	easee    *fakePort
	zaptec   *fakePort
	h1, h2   *fakeHeater
	tesla    *fakeVehicle
	learner  *fakeLearner
	timers   *fakeTimers
	notifier *fakeNotifier
	budget   *fakeBudget
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	r := &rig{
		now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		queue: &fakeQueue{
			jobs:     map[string]model.ChargingJob{"tesla": {VehicleID: "tesla", Priority: 3}, "leaf": {VehicleID: "leaf", Priority: 1}},
			charging: []string{"tesla"},
			admitted: map[string]bool{"tesla": true},
		},
		links:    connection.NewRegistry(nil),
		meter:    &fakeMeter{temp: 2},
		easee:    &fakePort{id: "easee", min: 6, max: 16, vpp: 230, amps: 16, status: device.StatusCharging},
		zaptec:   &fakePort{id: "zaptec", min: 6, max: 16, vpp: 230, amps: 0, status: device.StatusDisconnected},
		h1:       &fakeHeater{id: "h1", rated: 1000, power: 1000},
		h2:       &fakeHeater{id: "h2", rated: 2000, power: 2000},
		tesla:    &fakeVehicle{id: "tesla", limit: 80, pref: 90},
		learner:  &fakeLearner{idle: 2000},
		timers:   &fakeTimers{pending: map[string]func(){}},
		notifier: &fakeNotifier{},
		budget:   &fakeBudget{},
	}
	for _, id := range []string{"tesla", "leaf"} {
		r.links.RegisterCar(id)
	}
	r.links.RegisterCharger("easee")
	r.links.RegisterCharger("zaptec")
	require.NoError(t, r.links.Link("tesla", "easee"))

	if cfg.HourlyCapWh == 0 {
		cfg.HourlyCapWh = 15000
		cfg.BufferWh = 410
	}
	b, err := New(cfg, Devices{
		Meter:    r.meter,
		Chargers: map[string]device.ChargingPort{"easee": r.easee, "zaptec": r.zaptec},
		Heaters:  []device.Heater{r.h1, r.h2},
		Vehicles: map[string]device.Vehicle{"tesla": r.tesla},
	}, Deps{
		Queue:    r.queue,
		Links:    r.links,
		Learner:  r.learner,
		Budget:   r.budget,
		Timers:   r.timers,
		Notifier: r.notifier,
		Clock:    func() time.Time { return r.now },
	})
	require.NoError(t, err)
	r.b = b
	return r
}

// at moves the clock to minute:second of the current hour.
func (r *rig) at(minute, second int) {
	r.now = r.now.Truncate(time.Hour).Add(time.Duration(minute)*time.Minute + time.Duration(second)*time.Second)
}

func (r *rig) tick() Decision { return r.b.Tick(context.Background()) }
