package balancer

import "github.com/prometheus/client_golang/prometheus"

var (
	decisionsTotal *prometheus.CounterVec
	actionsTotal   *prometheus.CounterVec
	hourEnergy     *prometheus.GaugeVec
	estimatedTotal prometheus.Counter
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.GaugeVec, prometheus.Counter) {
	dec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wattbudget_balancer_decisions_total",
			Help: "Control ticks by matching rule",
		},
		[]string{"rule"},
	)
	act := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wattbudget_balancer_actions_total",
			Help: "Device actions issued by the balancer",
		},
		[]string{"kind", "result"},
	)
	energy := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wattbudget_hour_energy_wh",
			Help: "Energy figures of the current hour",
		},
		[]string{"figure"},
	)
	est := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wattbudget_balancer_estimated_readings_total",
			Help: "Ticks that used estimated sensor values",
		},
	)
	return dec, act, energy, est
}

func init() {
	decisionsTotal, actionsTotal, hourEnergy, estimatedTotal = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers balancer metrics on reg, or on the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(decisionsTotal, actionsTotal, hourEnergy, estimatedTotal)
}

// ResetMetrics recreates the collectors and registers them on reg if not
// nil. Used by tests.
func ResetMetrics(reg prometheus.Registerer) {
	decisionsTotal, actionsTotal, hourEnergy, estimatedTotal = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

func recordDecision(d Decision) {
	decisionsTotal.WithLabelValues(string(d.Rule)).Inc()
	for _, a := range d.Actions {
		result := "ok"
		if a.Err != "" {
			result = "error"
		}
		actionsTotal.WithLabelValues(string(a.Kind), result).Inc()
	}
	hourEnergy.WithLabelValues("accumulated").Set(d.AccumulatedWh)
	hourEnergy.WithLabelValues("projected").Set(d.ProjectedWh)
	hourEnergy.WithLabelValues("target_buffer").Set(d.TargetBufferWh)
	hourEnergy.WithLabelValues("available").Set(d.AvailableWh)
	if d.Estimated {
		estimatedTotal.Inc()
	}
}
