package scheduler

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/wattbudget/core/ledger"
	"github.com/kilianp07/wattbudget/core/logger"
	"github.com/kilianp07/wattbudget/core/model"
	"github.com/kilianp07/wattbudget/core/price"
)

// ErrUnknownVehicle is returned for operations on vehicles without a job.
var ErrUnknownVehicle = errors.New("no charging job for vehicle")

// Budget is the part of the watt budget ledger used for placement. It is
// implemented by ledger.Ledger.
type Budget interface {
	EstimateHoursToCharge(kWh, totalWatts float64, from time.Time) float64
	Reserve(from, to time.Time, watts, energyWh float64) ledger.Reservation
	Release(r ledger.Reservation)
	Apply(r ledger.Reservation)
	ResetReservations()
}

// Listener is told when the window of a job differs from what was last
// communicated for it.
type Listener interface {
	ScheduleChanged(job model.ChargingJob)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(model.ChargingJob)

// ScheduleChanged calls f.
func (f ListenerFunc) ScheduleChanged(j model.ChargingJob) { f(j) }

// Scheduler is the single owner of the charging job queue.
type Scheduler struct {
	cfg      Config
	budget   Budget
	prices   price.Provider
	log      logger.Logger
	now      func() time.Time
	listener Listener

	mu       sync.Mutex
	queue    []*model.ChargingJob
	charging map[string]struct{}
	groups   []model.SimultaneousGroup
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithListener registers a schedule change listener.
func WithListener(l Listener) Option {
	return func(s *Scheduler) { s.listener = l }
}

// New creates a scheduler.
func New(cfg Config, budget Budget, prices price.Provider, log logger.Logger, opts ...Option) *Scheduler {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	s := &Scheduler{
		cfg:      cfg,
		budget:   budget,
		prices:   prices,
		log:      log,
		now:      time.Now,
		charging: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// EstimateHoursToCharge delegates to the budget ledger.
func (s *Scheduler) EstimateHoursToCharge(kWh, totalWatts float64, from time.Time) float64 {
	return s.budget.EstimateHoursToCharge(kWh, totalWatts, from)
}

// Enqueue adds or replaces the job of a vehicle and re-resolves the queue.
// It returns false when the job has no energy left to charge or is invalid.
func (s *Scheduler) Enqueue(job model.ChargingJob) bool {
	if job.KWhRemaining <= 0 {
		s.log.Debugf("ignoring charge request for %s: nothing to charge", job.VehicleID)
		return false
	}
	if err := job.Validate(); err != nil {
		s.log.Warnf("ignoring charge request for %s: %v", job.VehicleID, err)
		return false
	}
	job.ClearSchedule()
	job.EstimatedHours = s.budget.EstimateHoursToCharge(job.KWhRemaining, job.TotalWatts(), s.now())

	s.mu.Lock()
	replaced := false
	for i, j := range s.queue {
		if j.VehicleID == job.VehicleID {
			job.LastInformedStart, job.LastInformedStop = j.LastInformedStart, j.LastInformedStop
			s.queue[i] = &job
			replaced = true
			break
		}
	}
	if !replaced {
		s.queue = append(s.queue, &job)
	}
	s.mu.Unlock()
	s.log.Infof("queued %s: %.2f kWh, %.2fh, finish by %02d:00, priority %d",
		job.VehicleID, job.KWhRemaining, job.EstimatedHours, job.FinishByHour, job.Priority)

	s.ResolveQueue()
	return true
}

// Remove drops the job of a vehicle. The vehicle is also unmarked as
// charging.
func (s *Scheduler) Remove(vehicleID string) bool {
	s.mu.Lock()
	removed := false
	for i, j := range s.queue {
		if j.VehicleID == vehicleID {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			removed = true
			break
		}
	}
	delete(s.charging, vehicleID)
	s.mu.Unlock()
	if removed {
		s.log.Infof("removed charging job of %s", vehicleID)
		s.ResolveQueue()
	}
	return removed
}

// UpdateRemaining records charging progress without moving windows. A job
// reaching zero is removed.
func (s *Scheduler) UpdateRemaining(vehicleID string, kWh float64) error {
	if kWh <= 0 {
		if !s.Remove(vehicleID) {
			return ErrUnknownVehicle
		}
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.find(vehicleID)
	if j == nil {
		return ErrUnknownVehicle
	}
	j.KWhRemaining = kWh
	return nil
}

func (s *Scheduler) find(vehicleID string) *model.ChargingJob {
	for _, j := range s.queue {
		if j.VehicleID == vehicleID {
			return j
		}
	}
	return nil
}

// Job returns a copy of the vehicle's job.
func (s *Scheduler) Job(vehicleID string) (model.ChargingJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.find(vehicleID); j != nil {
		return *j, true
	}
	return model.ChargingJob{}, false
}

// Jobs returns copies of all jobs in queue order.
func (s *Scheduler) Jobs() []model.ChargingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChargingJob, len(s.queue))
	for i, j := range s.queue {
		out[i] = *j
	}
	return out
}

// Restore replaces the queue with persisted jobs and re-resolves it.
func (s *Scheduler) Restore(jobs []model.ChargingJob) {
	s.mu.Lock()
	s.queue = s.queue[:0]
	seen := make(map[string]bool, len(jobs))
	for i := range jobs {
		j := jobs[i]
		if seen[j.VehicleID] || j.KWhRemaining <= 0 {
			continue
		}
		seen[j.VehicleID] = true
		s.queue = append(s.queue, &j)
	}
	s.mu.Unlock()
	s.ResolveQueue()
}

// Groups returns the simultaneous groups of the last resolution.
func (s *Scheduler) Groups() []model.SimultaneousGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SimultaneousGroup(nil), s.groups...)
}

// MarkCharging records that the vehicle is drawing power. It is idempotent.
func (s *Scheduler) MarkCharging(vehicleID string) {
	s.mu.Lock()
	s.charging[vehicleID] = struct{}{}
	s.mu.Unlock()
}

// UnmarkCharging is the inverse of MarkCharging. It is idempotent.
func (s *Scheduler) UnmarkCharging(vehicleID string) {
	s.mu.Lock()
	delete(s.charging, vehicleID)
	s.mu.Unlock()
}

// IsCharging reports whether the vehicle is marked as charging.
func (s *Scheduler) IsCharging(vehicleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.charging[vehicleID]
	return ok
}

// ChargingCount returns how many queued jobs are marked as charging.
func (s *Scheduler) ChargingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.queue {
		if _, ok := s.charging[j.VehicleID]; ok {
			n++
		}
	}
	return n
}

// Charging returns the ids of vehicles marked as charging, in queue order
// followed by vehicles without a job.
func (s *Scheduler) Charging() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.charging))
	seen := make(map[string]bool, len(s.charging))
	for _, j := range s.queue {
		if _, ok := s.charging[j.VehicleID]; ok {
			out = append(out, j.VehicleID)
			seen[j.VehicleID] = true
		}
	}
	var rest []string
	for id := range s.charging {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Admitted reports whether the vehicle may draw power now: it is inside
// its charging time, or it started a window that has ended and its
// priority is allowed to finish.
func (s *Scheduler) Admitted(vehicleID string) bool {
	if s.IsChargingTime(vehicleID) {
		return true
	}
	j, ok := s.Job(vehicleID)
	if !ok || !j.Scheduled() {
		return false
	}
	return !s.now().Before(j.WindowEnd()) && s.cfg.MayFinish(j.Priority)
}
