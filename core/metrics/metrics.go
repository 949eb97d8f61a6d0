package metrics

import "time"

// DecisionRecord summarises one balancer tick.
type DecisionRecord struct {
	Time          time.Time
	Rule          string
	ConsumptionW  float64
	ProductionW   float64
	AccumulatedWh float64
	ProjectedWh   float64
	AvailableW    float64
	Actions       int
	Estimated     bool
}

// Sink records balancer decisions for observability purposes.
type Sink interface {
	RecordDecision(rec DecisionRecord) error
}

// SlotBudget is the remaining energy of one ledger slot.
type SlotBudget struct {
	Start       time.Time
	AvailableWh float64
}

// SlotRecorder records the ledger after a rebuild.
type SlotRecorder interface {
	RecordSlots(slots []SlotBudget) error
}

// ScheduleRecord describes the window currently assigned to a job.
type ScheduleRecord struct {
	VehicleID string
	Start     time.Time
	End       time.Time
	Scheduled bool
	Priority  int
	KWh       float64
	Time      time.Time
}

// ScheduleRecorder records scheduling changes.
type ScheduleRecorder interface {
	RecordSchedule(rec ScheduleRecord) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordDecision(DecisionRecord) error { return nil }
func (NopSink) RecordSlots([]SlotBudget) error      { return nil }
func (NopSink) RecordSchedule(ScheduleRecord) error { return nil }
