package balancer

import "time"

// RuleName identifies a decision table rule.
type RuleName string

const (
	RuleOverTarget    RuleName = "over_target"
	RuleHeaterRestore RuleName = "heaters_reduced"
	RuleSurplus       RuleName = "production_exceeds_consumption"
	RuleAfterSurplus  RuleName = "consumption_exceeds_production_after_surplus"
	RuleUnderTarget   RuleName = "under_target"
	RuleHold          RuleName = "hold"
)

// ActionKind is what an action did to a device.
type ActionKind string

const (
	ActionStop          ActionKind = "stop_charging"
	ActionStart         ActionKind = "start_charging"
	ActionSetAmps       ActionKind = "set_amps"
	ActionHeaterSave    ActionKind = "heater_save"
	ActionHeaterNormal  ActionKind = "heater_normal"
	ActionHeaterBoost   ActionKind = "heater_boost"
	ActionChargeLimit   ActionKind = "charge_limit"
	ActionNotify        ActionKind = "notify"
	ActionStressHour    ActionKind = "stress_hour"
	ActionSensorRecover ActionKind = "sensor_recovery"
)

// Action is one command issued during a tick.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Target string     `json:"target"`
	Value  float64    `json:"value,omitempty"`
	Err    string     `json:"error,omitempty"`
}

// Decision is the outcome of one control tick.
type Decision struct {
	Time           time.Time `json:"time"`
	Rule           RuleName  `json:"rule"`
	ConsumptionW   float64   `json:"consumption_w"`
	ProductionW    float64   `json:"production_w"`
	AccumulatedWh  float64   `json:"accumulated_wh"`
	ProjectedWh    float64   `json:"projected_wh"`
	TargetBufferWh float64   `json:"target_buffer_wh"`
	AvailableWh    float64   `json:"available_wh"`
	AvailableW     float64   `json:"available_w"`
	Estimated      bool      `json:"estimated,omitempty"`
	Actions        []Action  `json:"actions,omitempty"`
}

// Has reports whether the decision contains an action of kind on target.
// An empty target matches any.
func (d Decision) Has(kind ActionKind, target string) bool {
	for _, a := range d.Actions {
		if a.Kind == kind && (target == "" || a.Target == target) {
			return true
		}
	}
	return false
}

// Index returns the position of the first action of kind, or -1.
func (d Decision) Index(kind ActionKind) int {
	for i, a := range d.Actions {
		if a.Kind == kind {
			return i
		}
	}
	return -1
}
