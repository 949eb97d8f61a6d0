package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/wattbudget/core/connection"
	"github.com/kilianp07/wattbudget/core/device"
	"github.com/kilianp07/wattbudget/core/events"
	"github.com/kilianp07/wattbudget/core/model"
	"github.com/kilianp07/wattbudget/core/notify"
)

const jobRefreshKey = "job-refresh"

// watchChargers reacts to charger status changes on the loop.
func (s *Service) watchChargers() {
	for _, id := range s.fleet.portList {
		p := s.fleet.ports[id]
		if p.statusEntity == "" {
			continue
		}
		cancel, err := s.entities.Subscribe(p.statusEntity, func(string) {
			s.loop.Post(s.observeChargers)
		})
		if err != nil {
			s.log.Warnf("watch charger %s: %v", id, err)
			continue
		}
		s.cancels = append(s.cancels, cancel)
	}
}

// observeChargers reconciles the link table with what the chargers report,
// then creates or drops charging jobs accordingly.
func (s *Service) observeChargers() {
	statuses := make(map[string]device.Status, len(s.fleet.ports))
	var removable, onboard []connection.Observation
	for _, id := range s.fleet.portList {
		p := s.fleet.ports[id]
		st, err := p.Status()
		if err != nil {
			s.log.Debugf("charger %s status unavailable: %v", id, err)
			continue
		}
		statuses[id] = st
		o := connection.Observation{ChargerID: id, Connected: st != device.StatusDisconnected}
		if p.onboardOf != "" {
			o.CarID = p.onboardOf
			onboard = append(onboard, o)
			continue
		}
		if car, err := p.ConnectedCar(); err == nil {
			o.CarID = car
		}
		removable = append(removable, o)
	}
	repairs := s.registry.Reconcile(removable)
	// A car plugged into a removable charger also reports connected through
	// its own port; the removable link wins.
	for i, o := range onboard {
		if s.onRemovable(o.CarID) {
			onboard[i].Connected = false
		}
	}
	repairs = append(repairs, s.registry.Reconcile(onboard)...)
	for _, r := range repairs {
		s.publishLink(r)
	}

	for _, id := range s.fleet.portList {
		st, ok := statuses[id]
		if !ok {
			continue
		}
		car, linked := s.registry.CarFor(id)
		switch st {
		case device.StatusConnected, device.StatusCharging:
			if !linked {
				continue
			}
			if _, queued := s.scheduler.Job(car); !queued {
				s.requestCharge(car, id)
			}
			// sessions the car or the user started count against the
			// budget like the ones the balancer starts
			if st == device.StatusCharging {
				s.scheduler.MarkCharging(car)
			} else {
				s.scheduler.UnmarkCharging(car)
			}
		case device.StatusCompleted:
			if linked {
				s.finish(car)
			}
		}
	}
	s.dropOrphanJobs()
}

func (s *Service) onRemovable(carID string) bool {
	ch, ok := s.registry.ChargerFor(carID)
	if !ok {
		return false
	}
	p, known := s.fleet.ports[ch]
	return known && p.onboardOf == ""
}

func (s *Service) publishLink(r connection.Repair) {
	now := s.now()
	if r.OldCar != "" {
		s.bus.Publish(events.Event{Time: now, Link: &events.LinkEvent{CarID: r.OldCar, ChargerID: r.ChargerID, Linked: false, Reason: "reconcile"}})
	}
	if r.NewCar != "" {
		s.bus.Publish(events.Event{Time: now, Link: &events.LinkEvent{CarID: r.NewCar, ChargerID: r.ChargerID, Linked: true, Reason: "reconcile"}})
	}
}

// requestCharge queues a job for a car that needs energy.
func (s *Service) requestCharge(carID, chargerID string) {
	car, ok := s.fleet.cars[carID]
	if !ok {
		return
	}
	p, ok := s.fleet.ports[chargerID]
	if !ok {
		return
	}
	kwh, err := car.KWhNeeded()
	if err != nil {
		s.log.Debugf("energy needed by %s unknown: %v", carID, err)
		return
	}
	vc := car.Config()
	job := model.ChargingJob{
		VehicleID:     carID,
		ChargerID:     chargerID,
		KWhRemaining:  kwh,
		MaxAmps:       p.MaxAmps(),
		VoltsPerPhase: p.VoltsPerPhase(),
		FinishByHour:  vc.FinishByHour,
		Priority:      vc.Priority,
		SolarOnly:     vc.SolarOnly,
	}
	if s.scheduler.Enqueue(job) {
		s.log.Infof("queued %.1f kWh for %s on %s", kwh, carID, chargerID)
	}
}

// finish removes a completed job and forgets the charging session.
func (s *Service) finish(carID string) {
	s.scheduler.UnmarkCharging(carID)
	if s.scheduler.Remove(carID) {
		s.log.Infof("charging of %s completed", carID)
	}
}

// dropOrphanJobs removes jobs of cars that are no longer plugged in.
func (s *Service) dropOrphanJobs() {
	for _, j := range s.scheduler.Jobs() {
		if _, linked := s.registry.ChargerFor(j.VehicleID); !linked {
			s.scheduler.UnmarkCharging(j.VehicleID)
			if s.scheduler.Remove(j.VehicleID) {
				s.log.Infof("dropped job of disconnected %s", j.VehicleID)
			}
		}
	}
}

// refreshJobs updates the remaining energy of queued cars.
func (s *Service) refreshJobs() {
	for _, j := range s.scheduler.Jobs() {
		car, ok := s.fleet.cars[j.VehicleID]
		if !ok {
			continue
		}
		kwh, err := car.KWhNeeded()
		if err != nil {
			continue
		}
		if kwh <= 0 {
			s.scheduler.UnmarkCharging(j.VehicleID)
		}
		if err := s.scheduler.UpdateRemaining(j.VehicleID, kwh); err != nil {
			s.log.Debugf("update %s: %v", j.VehicleID, err)
		}
	}
}

func (s *Service) armJobRefresh() {
	s.tm.Schedule(jobRefreshKey, s.now().Add(15*time.Minute), func() {
		s.refreshJobs()
		s.armJobRefresh()
	})
}

// scheduleChanged publishes window changes and tells the user.
func (s *Service) scheduleChanged(j model.ChargingJob) {
	now := s.now()
	s.bus.Publish(events.Event{Time: now, Schedule: &events.ScheduleEvent{
		VehicleID: j.VehicleID,
		Start:     j.ScheduledStart,
		End:       j.WindowEnd(),
		Scheduled: j.Scheduled(),
		Job:       j,
	}})
	if !s.cfg.Notify.Schedule {
		return
	}
	msg := notify.Message{Title: "Charging plan", Recipients: s.cfg.Notify.Recipients}
	if j.Scheduled() {
		msg.Text = fmt.Sprintf("%s charges %s-%s (%.1f kWh)", j.VehicleID,
			j.ScheduledStart.Format("15:04"), j.WindowEnd().Format("15:04"), j.KWhRemaining)
	} else {
		msg.Text = fmt.Sprintf("%s has no charging window before %02d:00, charging when prices allow", j.VehicleID, j.FinishByHour)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.log.Errorf("notify %s: %v", j.VehicleID, err)
	}
}
