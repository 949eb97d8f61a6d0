// Package events defines what the engine publishes on its event bus.
//
// Available event types:
//   - DecisionEvent: outcome of one balancer tick
//   - ScheduleEvent: a queued job got a new window or lost one
//   - LinkEvent: a car and a charger were linked or unlinked
package events

import (
	"time"

	"github.com/kilianp07/wattbudget/core/balancer"
	"github.com/kilianp07/wattbudget/core/model"
)

// DecisionEvent wraps a balancer decision.
type DecisionEvent struct {
	Decision balancer.Decision
}

// ScheduleEvent is emitted when a job's window changes.
type ScheduleEvent struct {
	VehicleID string
	Start     time.Time
	End       time.Time
	Scheduled bool
	Job       model.ChargingJob
}

// LinkEvent is emitted when the connection registry changes.
type LinkEvent struct {
	CarID     string
	ChargerID string
	Linked    bool
	Reason    string
}

// Event is the union carried by the engine bus.
type Event struct {
	Time     time.Time
	Decision *DecisionEvent
	Schedule *ScheduleEvent
	Link     *LinkEvent
}

// Kind names the populated variant.
func (e Event) Kind() string {
	switch {
	case e.Decision != nil:
		return "decision"
	case e.Schedule != nil:
		return "schedule"
	case e.Link != nil:
		return "link"
	}
	return "unknown"
}
