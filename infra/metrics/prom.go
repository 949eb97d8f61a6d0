package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/wattbudget/core/metrics"
)

// PromSink exposes the latest ledger and schedule state as gauges. Per-tick
// decision counters live with the balancer itself.
type PromSink struct {
	availableW  prometheus.Gauge
	actions     prometheus.Histogram
	slotWh      *prometheus.GaugeVec
	windowStart *prometheus.GaugeVec
	windowEnd   *prometheus.GaugeVec
	now         func() time.Time
}

// NewPromSink registers the sink collectors on the default registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers the collectors on reg. Collectors already
// registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{now: time.Now}
	var err error
	if s.availableW, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wattbudget_available_watts",
		Help: "Power that can still be drawn for the rest of the hour",
	})); err != nil {
		return nil, err
	}
	if s.actions, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wattbudget_decision_actions",
		Help:    "Number of device actions per balancer tick",
		Buckets: []float64{0, 1, 2, 4, 8},
	})); err != nil {
		return nil, err
	}
	if s.slotWh, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wattbudget_slot_available_wh",
		Help: "Energy left in each ledger slot, by hours from now",
	}, []string{"offset_hours"})); err != nil {
		return nil, err
	}
	if s.windowStart, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wattbudget_job_window_start_seconds",
		Help: "Unix time of the scheduled charging start, 0 when unscheduled",
	}, []string{"vehicle_id"})); err != nil {
		return nil, err
	}
	if s.windowEnd, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wattbudget_job_window_end_seconds",
		Help: "Unix time the charging window ends, 0 when unscheduled",
	}, []string{"vehicle_id"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordDecision updates the available power gauge.
func (s *PromSink) RecordDecision(rec coremetrics.DecisionRecord) error {
	s.availableW.Set(rec.AvailableW)
	s.actions.Observe(float64(rec.Actions))
	return nil
}

// RecordSlots replaces the slot gauges.
func (s *PromSink) RecordSlots(slots []coremetrics.SlotBudget) error {
	s.slotWh.Reset()
	now := s.now()
	for _, sl := range slots {
		off := int(sl.Start.Sub(now.Truncate(time.Hour)).Hours())
		if off < 0 {
			continue
		}
		s.slotWh.WithLabelValues(strconv.Itoa(off)).Set(sl.AvailableWh)
	}
	return nil
}

// RecordSchedule sets the window gauges of a vehicle.
func (s *PromSink) RecordSchedule(rec coremetrics.ScheduleRecord) error {
	if !rec.Scheduled {
		s.windowStart.WithLabelValues(rec.VehicleID).Set(0)
		s.windowEnd.WithLabelValues(rec.VehicleID).Set(0)
		return nil
	}
	s.windowStart.WithLabelValues(rec.VehicleID).Set(float64(rec.Start.Unix()))
	s.windowEnd.WithLabelValues(rec.VehicleID).Set(float64(rec.End.Unix()))
	return nil
}
