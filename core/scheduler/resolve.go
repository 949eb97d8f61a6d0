package scheduler

import (
	"sort"
	"time"

	"github.com/kilianp07/wattbudget/core/ledger"
	"github.com/kilianp07/wattbudget/core/model"
)

// placement is a set of jobs sharing one window and one reservation.
type placement struct {
	members  []*model.ChargingJob
	window   model.SimultaneousGroup
	reserved ledger.Reservation
}

func (p *placement) overlaps(o *placement) bool {
	return p.window.ScheduledStart.Before(o.window.EstimatedStop) &&
		o.window.ScheduledStart.Before(p.window.EstimatedStop)
}

// ResolveQueue recomputes every window. Jobs are placed in deadline order;
// a job whose window overlaps already placed jobs is merged with them into a
// simultaneous group that is scheduled as one combined load.
func (s *Scheduler) ResolveQueue() {
	now := s.now()

	s.mu.Lock()
	s.budget.ResetReservations()

	index := make(map[*model.ChargingJob]int, len(s.queue))
	order := make([]*model.ChargingJob, 0, len(s.queue))
	for i, j := range s.queue {
		index[j] = i
		order = append(order, j)
	}
	sort.SliceStable(order, func(a, b int) bool {
		da, db := order[a].Deadline(now), order[b].Deadline(now)
		if !da.Equal(db) {
			return da.Before(db)
		}
		if order[a].Priority != order[b].Priority {
			return order[a].Priority < order[b].Priority
		}
		return index[order[a]] < index[order[b]]
	})

	var placed []*placement
	for _, j := range order {
		j.ClearSchedule()
		if j.SolarOnly {
			continue
		}
		j.EstimatedHours = s.budget.EstimateHoursToCharge(j.KWhRemaining, j.TotalWatts(), now)
		placed = s.merge(placed, j, now)
	}

	s.groups = s.groups[:0]
	for _, p := range placed {
		if len(p.members) > 1 {
			s.groups = append(s.groups, p.window)
		}
	}
	changed := s.collectChanges()
	s.mu.Unlock()

	for _, j := range changed {
		if s.listener != nil {
			s.listener.ScheduleChanged(j)
		}
	}
}

// merge places j and absorbs overlapping placements until none overlap.
// When a merged group cannot be placed the previous placements are kept and
// j is left unscheduled.
func (s *Scheduler) merge(placed []*placement, j *model.ChargingJob, now time.Time) []*placement {
	p := &placement{members: []*model.ChargingJob{j}}
	if !s.place(p, now) {
		return placed
	}

	var absorbed []*placement
	saved := make(map[*model.ChargingJob]model.ChargingJob)
	for {
		var rest []*placement
		grew := false
		for _, o := range placed {
			if !p.overlaps(o) {
				rest = append(rest, o)
				continue
			}
			s.budget.Release(o.reserved)
			for _, m := range o.members {
				if _, ok := saved[m]; !ok {
					saved[m] = *m
				}
			}
			p.members = append(p.members, o.members...)
			absorbed = append(absorbed, o)
			grew = true
		}
		if !grew {
			return append(placed, p)
		}
		placed = rest
		s.budget.Release(p.reserved)
		if !s.place(p, now) {
			for m, prev := range saved {
				*m = prev
			}
			j.ClearSchedule()
			for _, o := range absorbed {
				s.budget.Apply(o.reserved)
			}
			s.log.Warnf("cannot schedule %s together with overlapping jobs, leaving it unscheduled", j.VehicleID)
			return append(placed, absorbed...)
		}
	}
}

// place finds one window for all members of p and reserves it.
func (s *Scheduler) place(p *placement, now time.Time) bool {
	var kWh, watts float64
	deadline := time.Time{}
	ids := make([]string, 0, len(p.members))
	for _, m := range p.members {
		kWh += m.KWhRemaining
		watts += m.TotalWatts()
		if d := m.Deadline(now); deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
		ids = append(ids, m.VehicleID)
	}
	hours := p.members[0].EstimatedHours
	if len(p.members) > 1 {
		hours = s.budget.EstimateHoursToCharge(kWh, watts, now)
	}

	w, err := s.prices.ContinuousCheapestWindow(now, hours, deadline, s.cfg.StartBeforePrice, s.cfg.StopAtPriceIncrease)
	if err != nil {
		for _, m := range p.members {
			m.ClearSchedule()
		}
		s.log.Warnf("no charging window for %v (%.2fh before %s): %v", ids, hours, deadline.Format(time.RFC3339), err)
		return false
	}
	for _, m := range p.members {
		m.ScheduledStart = w.Start
		m.EstimatedStop = w.EstimatedStop
		m.MustStopBy = w.MustStopBy
		m.Price = w.Price
	}
	p.window = model.SimultaneousGroup{
		VehicleIDs:     ids,
		KWh:            kWh,
		Watts:          watts,
		ScheduledStart: w.Start,
		EstimatedStop:  w.EstimatedStop,
		MustStopBy:     w.MustStopBy,
		Price:          w.Price,
	}
	p.reserved = s.budget.Reserve(w.Start, w.EstimatedStop, watts, kWh*1000)
	p.window.ReservedKWh = p.reserved.Total() / 1000
	if short := kWh - p.window.ReservedKWh; short > 0.01 {
		s.log.Warnf("budget holds only %.2f of %.2f kWh for %v", p.window.ReservedKWh, kWh, ids)
	}
	return true
}

// collectChanges returns jobs whose window differs from what was last
// communicated and records the new values as communicated.
func (s *Scheduler) collectChanges() []model.ChargingJob {
	var out []model.ChargingJob
	for _, j := range s.queue {
		stop := j.WindowEnd()
		if j.ScheduledStart.Equal(j.LastInformedStart) && stop.Equal(j.LastInformedStop) {
			continue
		}
		j.LastInformedStart = j.ScheduledStart
		j.LastInformedStop = stop
		out = append(out, *j)
	}
	return out
}

// IsChargingTime reports whether charging is allowed now for the vehicle,
// or for any queued job when vehicleID is empty. Solar-only jobs never get
// grid charging time.
func (s *Scheduler) IsChargingTime(vehicleID string) bool {
	now := s.now()
	s.mu.Lock()
	var jobs []model.ChargingJob
	var all []model.ChargingJob
	for _, j := range s.queue {
		all = append(all, *j)
		if j.SolarOnly {
			continue
		}
		if vehicleID == "" || j.VehicleID == vehicleID {
			jobs = append(jobs, *j)
		}
	}
	s.mu.Unlock()
	if len(jobs) == 0 {
		return false
	}

	for _, j := range jobs {
		if j.InWindow(now) {
			return true
		}
	}

	gate := !s.prices.TomorrowPricesValid(now) && s.cfg.InBlindWindow(now)
	hours := 0.0
	for _, j := range jobs {
		if !j.Scheduled() {
			gate = true
		}
		hours += j.EstimatedHours
	}
	if !gate {
		return false
	}

	ceiling, ok := s.priceCeiling(all, hours, now)
	if !ok {
		return false
	}
	current, err := s.prices.PriceNow(now)
	if err != nil {
		s.log.Warnf("charging time check without current price: %v", err)
		return false
	}
	return current <= ceiling
}

// priceCeiling is the highest price of any scheduled job, or the lowest
// price obtainable for the total charging time when nothing is scheduled.
func (s *Scheduler) priceCeiling(all []model.ChargingJob, hours float64, now time.Time) (float64, bool) {
	ceiling, found := 0.0, false
	for _, j := range all {
		if j.Scheduled() && (!found || j.Price > ceiling) {
			ceiling, found = j.Price, true
		}
	}
	if found {
		return ceiling, true
	}
	p, err := s.prices.LowestPriceFor(hours, now)
	if err != nil {
		s.log.Warnf("no price threshold for %.2fh: %v", hours, err)
		return 0, false
	}
	return p, true
}

// FindNextToStart returns the vehicle that should start charging next,
// scanning priority levels from highest to background and queue order within
// a level. With respectWindow it only considers vehicles for which
// IsChargingTime holds.
func (s *Scheduler) FindNextToStart(respectWindow bool) (string, bool) {
	jobs := s.Jobs()
	for prio := model.PriorityHighest; prio <= model.PriorityBackground; prio++ {
		for _, j := range jobs {
			if !atLevel(j.Priority, prio) || s.IsCharging(j.VehicleID) {
				continue
			}
			if respectWindow && !s.IsChargingTime(j.VehicleID) {
				continue
			}
			return j.VehicleID, true
		}
	}
	return "", false
}

// atLevel matches a job priority to a scan level. The background level also
// takes anything ranked below it.
func atLevel(priority, level int) bool {
	if level == model.PriorityBackground {
		return priority >= model.PriorityBackground
	}
	return priority == level
}
