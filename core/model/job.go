package model

import (
	"fmt"
	"time"
)

// Priority levels for charging jobs. Lower values are more important.
const (
	PriorityHighest    = 1
	PriorityBackground = 5
)

// ChargingJob is a single vehicle's pending or active charging request.
type ChargingJob struct {
	VehicleID    string  `json:"vehicle_id"`
	ChargerID    string  `json:"charger_id,omitempty"`
	KWhRemaining float64 `json:"kwh_remaining"`
	MaxAmps      int     `json:"max_amps"`
	// VoltsPerPhase is the line voltage multiplied by the number of phases,
	// so that amps × VoltsPerPhase yields watts.
	VoltsPerPhase float64 `json:"volts_per_phase"`
	FinishByHour  int     `json:"finish_by_hour"`
	Priority      int     `json:"priority"`
	SolarOnly     bool    `json:"solar_only,omitempty"`

	EstimatedHours float64   `json:"estimated_hours"`
	ScheduledStart time.Time `json:"scheduled_start,omitempty"`
	EstimatedStop  time.Time `json:"estimated_stop,omitempty"`
	MustStopBy     time.Time `json:"must_stop_by,omitempty"`
	Price          float64   `json:"price"`

	LastInformedStart time.Time `json:"last_informed_start,omitempty"`
	LastInformedStop  time.Time `json:"last_informed_stop,omitempty"`
}

// Validate checks the job can be scheduled.
func (j ChargingJob) Validate() error {
	if j.VehicleID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	if j.MaxAmps <= 0 {
		return fmt.Errorf("max amps must be positive")
	}
	if j.VoltsPerPhase <= 0 {
		return fmt.Errorf("volts per phase must be positive")
	}
	if j.FinishByHour < 0 || j.FinishByHour > 23 {
		return fmt.Errorf("finish by hour %d out of range", j.FinishByHour)
	}
	if j.Priority < PriorityHighest || j.Priority > PriorityBackground {
		return fmt.Errorf("priority %d out of range", j.Priority)
	}
	return nil
}

// TotalWatts returns the maximum power the job can draw.
func (j ChargingJob) TotalWatts() float64 {
	return float64(j.MaxAmps) * j.VoltsPerPhase
}

// Scheduled reports whether a charging window has been assigned.
func (j ChargingJob) Scheduled() bool {
	return !j.ScheduledStart.IsZero()
}

// WindowEnd returns the latest time the job is expected to charge: MustStopBy
// when known, EstimatedStop otherwise.
func (j ChargingJob) WindowEnd() time.Time {
	if !j.MustStopBy.IsZero() {
		return j.MustStopBy
	}
	return j.EstimatedStop
}

// InWindow reports whether t falls inside [ScheduledStart, WindowEnd).
func (j ChargingJob) InWindow(t time.Time) bool {
	if !j.Scheduled() {
		return false
	}
	return !t.Before(j.ScheduledStart) && t.Before(j.WindowEnd())
}

// Deadline resolves FinishByHour to its next occurrence strictly after now.
func (j ChargingJob) Deadline(now time.Time) time.Time {
	d := time.Date(now.Year(), now.Month(), now.Day(), j.FinishByHour, 0, 0, 0, now.Location())
	if !d.After(now) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// ClearSchedule removes any assigned window.
func (j *ChargingJob) ClearSchedule() {
	j.ScheduledStart = time.Time{}
	j.EstimatedStop = time.Time{}
	j.MustStopBy = time.Time{}
	j.Price = 0
}

// SimultaneousGroup is a set of jobs whose windows overlap and which share a
// single recomputed window.
type SimultaneousGroup struct {
	VehicleIDs     []string  `json:"vehicle_ids"`
	KWh            float64   `json:"kwh"`
	Watts          float64   `json:"watts"`
	ScheduledStart time.Time `json:"scheduled_start"`
	EstimatedStop  time.Time `json:"estimated_stop"`
	MustStopBy     time.Time `json:"must_stop_by"`
	Price          float64   `json:"price"`
	// ReservedKWh is what the budget could set aside for the window. It is
	// below KWh when the slots are too full.
	ReservedKWh float64 `json:"reserved_kwh"`
}

// Has reports whether the group contains the vehicle.
func (g SimultaneousGroup) Has(id string) bool {
	for _, v := range g.VehicleIDs {
		if v == id {
			return true
		}
	}
	return false
}
