package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/wattbudget/core/ledger"
	coremetrics "github.com/kilianp07/wattbudget/core/metrics"
	"github.com/kilianp07/wattbudget/core/monitoring"
	"github.com/kilianp07/wattbudget/core/price"
	"github.com/kilianp07/wattbudget/core/store"
)

const (
	snapshotKey   = "snapshot"
	idleSampleKey = "idle-sample"
)

func rebuildKey(hour int) string { return fmt.Sprintf("rebuild:%02d", hour) }

// nextAt returns the next occurrence of hour:00 strictly after now.
func nextAt(now time.Time, hour int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// horizon is the end of the known price curve, or the next midnight when no
// prices are known.
func (s *Service) horizon(now time.Time) time.Time {
	if end := s.curve.End(); end.After(now) {
		return end
	}
	return nextAt(now, 0)
}

// rebuild recomputes the ledger and replans every queued job.
func (s *Service) rebuild() {
	now := s.now()
	temp := s.temperature()
	var outages []ledger.HeaterOutage
	recoveryAt := now.Truncate(time.Hour).Add(time.Hour)
	for id, since := range s.balancer.ReducedSince() {
		h, ok := s.fleet.heater(id)
		if !ok {
			continue
		}
		outages = append(outages, ledger.HeaterOutage{HeaterID: id, OffSince: since, RecoveryAt: recoveryAt, RatedWatts: h.RatedWatts()})
	}
	s.ledger.Rebuild(ledger.Inputs{
		Now:              now,
		Horizon:          s.horizon(now),
		Temperature:      func(time.Time) float64 { return temp },
		Outages:          outages,
		TotalHeaterWatts: s.fleet.totalHeaterWatts(),
	})
	s.scheduler.ResolveQueue()
	s.recordSlots()
}

func (s *Service) recordSlots() {
	rec, ok := s.sink.(coremetrics.SlotRecorder)
	if !ok {
		return
	}
	slots := s.ledger.Slots()
	out := make([]coremetrics.SlotBudget, 0, len(slots))
	for _, sl := range slots {
		out = append(out, coremetrics.SlotBudget{Start: sl.Start, AvailableWh: sl.AvailableWh})
	}
	if err := rec.RecordSlots(out); err != nil {
		s.log.Warnf("record slots: %v", err)
	}
}

// temperature reads the outside temperature, 0 °C when unknown.
func (s *Service) temperature() float64 {
	t, err := s.fleet.meter.OutsideTemperature()
	if err != nil {
		return 0
	}
	return t
}

// armRebuild schedules a rebuild at each configured hour.
func (s *Service) armRebuild() {
	for _, h := range s.cfg.Site.RebuildHours {
		s.armRebuildAt(h)
	}
	s.rebuild()
}

func (s *Service) armRebuildAt(hour int) {
	s.tm.Schedule(rebuildKey(hour), nextAt(s.now(), hour), func() {
		s.log.Infof("scheduled rebuild at %02d:00", hour)
		s.rebuild()
		s.armRebuildAt(hour)
	})
}

// applyPrices runs on the loop after a successful fetch.
func (s *Service) applyPrices(points []price.Point) {
	before := s.curve.End()
	s.curve.Update(points)
	if s.curve.End().Equal(before) {
		return
	}
	s.log.Infof("prices known until %s", s.curve.End().Format(time.RFC3339))
	s.rebuild()
}

// pollPrices fetches prices off the loop and hands them over.
func (s *Service) pollPrices(ctx context.Context) {
	refresh := s.cfg.Prices.Refresh
	if refresh <= 0 {
		refresh = time.Hour
	}
	t := time.NewTicker(refresh)
	defer t.Stop()
	for {
		points, err := s.prices.Fetch(ctx)
		switch {
		case err == nil:
			s.loop.Post(func() { s.applyPrices(points) })
		case errors.Is(err, price.ErrNoPrices), errors.Is(err, context.Canceled):
			s.log.Debugf("no prices: %v", err)
		default:
			s.log.Warnf("fetch prices: %v", err)
			monitoring.CaptureException(err, map[string]string{"module": "prices"})
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// sampleIdle feeds the learner with the house draw when no controlled load
// is active.
func (s *Service) sampleIdle() {
	if s.scheduler.ChargingCount() > 0 {
		return
	}
	reduced, boosted := s.balancer.HeaterStates()
	if len(reduced) > 0 || len(boosted) > 0 {
		return
	}
	cons, err := s.fleet.meter.Consumption()
	if err != nil {
		return
	}
	temp, err := s.fleet.meter.OutsideTemperature()
	if err != nil {
		return
	}
	var heaters float64
	for _, h := range s.fleet.heaters {
		if w, err := h.Power(); err == nil {
			heaters += w
		}
	}
	idle := cons - heaters
	if idle < 0 {
		idle = 0
	}
	if err := s.learner.RecordIdleSample(temp, idle, heaters); err != nil {
		s.log.Debugf("idle sample: %v", err)
	}
}

// nextIdleSample is the next multiple of the learner's idle interval.
func (s *Service) nextIdleSample(now time.Time) time.Time {
	every := s.cfg.Learner.IdleInterval()
	if every <= 0 {
		every = time.Hour
	}
	return now.Truncate(every).Add(every)
}

// armIdleSample records an idle sample every idle interval.
func (s *Service) armIdleSample() {
	s.tm.Schedule(idleSampleKey, s.nextIdleSample(s.now()), func() {
		s.sampleIdle()
		s.armIdleSample()
	})
}

// armSnapshot saves the state every midnight.
func (s *Service) armSnapshot(ctx context.Context) {
	s.tm.Schedule(snapshotKey, nextAt(s.now(), 0), func() {
		s.save(ctx)
		s.armSnapshot(ctx)
	})
}

func (s *Service) snapshot() store.Snapshot {
	return store.Snapshot{
		SavedAt:       s.now(),
		Slots:         s.ledger.Slots(),
		StressedHours: s.ledger.StressedHours(),
		Jobs:          s.scheduler.Jobs(),
		Learner:       s.learner.Export(),
		Links:         s.registry.Export(),
	}
}

// save persists the engine state. It may be called off the loop once the
// loop has stopped.
func (s *Service) save(ctx context.Context) {
	if err := s.store.Save(ctx, s.snapshot()); err != nil {
		s.log.Errorf("save snapshot: %v", err)
		monitoring.CaptureException(err, map[string]string{"module": "store"})
		return
	}
	s.log.Debugf("snapshot saved")
}

// restore loads the last snapshot before the loop starts.
func (s *Service) restore(ctx context.Context) {
	snap, err := s.store.Load(ctx)
	if errors.Is(err, store.ErrNoSnapshot) {
		s.log.Infof("no snapshot, starting fresh")
		return
	}
	if err != nil {
		s.log.Errorf("load snapshot: %v", err)
		return
	}
	s.ledger.Restore(snap.Slots)
	for _, h := range snap.StressedHours {
		s.ledger.MarkStressed(h)
	}
	s.learner.Import(snap.Learner)
	s.registry.Import(snap.Links)
	s.scheduler.Restore(snap.Jobs)
	s.log.Infof("restored snapshot from %s: %d jobs", snap.SavedAt.Format(time.RFC3339), len(snap.Jobs))
}
