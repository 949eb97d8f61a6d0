package model

import "time"

// PowerSlot is a half-open interval [Start, End) with the energy that can
// still be consumed inside it without exceeding the hourly cap. AvailableWh
// may be negative, meaning the slot is already over budget.
type PowerSlot struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AvailableWh float64   `json:"available_wh"`
}

// Hours returns the slot duration in hours.
func (s PowerSlot) Hours() float64 {
	return s.End.Sub(s.Start).Hours()
}

// Contains reports whether t lies inside the slot.
func (s PowerSlot) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

// Overlap returns the duration shared by the slot and [from, to).
func (s PowerSlot) Overlap(from, to time.Time) time.Duration {
	start := s.Start
	if from.After(start) {
		start = from
	}
	end := s.End
	if to.Before(end) {
		end = to
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}
