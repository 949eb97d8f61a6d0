package metrics

import (
	"context"

	"github.com/kilianp07/wattbudget/core/balancer"
	"github.com/kilianp07/wattbudget/core/events"
	corelogger "github.com/kilianp07/wattbudget/core/logger"
	coremetrics "github.com/kilianp07/wattbudget/core/metrics"
	"github.com/kilianp07/wattbudget/internal/eventbus"
)

// DecisionRecord flattens a balancer decision.
func DecisionRecord(d balancer.Decision) coremetrics.DecisionRecord {
	return coremetrics.DecisionRecord{
		Time:          d.Time,
		Rule:          string(d.Rule),
		ConsumptionW:  d.ConsumptionW,
		ProductionW:   d.ProductionW,
		AccumulatedWh: d.AccumulatedWh,
		ProjectedWh:   d.ProjectedWh,
		AvailableW:    d.AvailableW,
		Actions:       len(d.Actions),
		Estimated:     d.Estimated,
	}
}

// ScheduleRecord flattens a schedule event.
func ScheduleRecord(ev events.Event) coremetrics.ScheduleRecord {
	s := ev.Schedule
	return coremetrics.ScheduleRecord{
		VehicleID: s.VehicleID,
		Start:     s.Start,
		End:       s.End,
		Scheduled: s.Scheduled,
		Priority:  s.Job.Priority,
		KWh:       s.Job.KWhRemaining,
		Time:      ev.Time,
	}
}

// StartEventCollector forwards bus events to sink until ctx is cancelled.
func StartEventCollector(ctx context.Context, bus *eventbus.Bus[events.Event], sink coremetrics.Sink, log corelogger.Logger) {
	if bus == nil || sink == nil {
		return
	}
	if log == nil {
		log = corelogger.NopLogger{}
	}
	sub := bus.Subscribe(32)
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := forward(ev, sink); err != nil {
					log.Warnf("metrics sink: %s event: %v", ev.Kind(), err)
				}
			}
		}
	}()
}

func forward(ev events.Event, sink coremetrics.Sink) error {
	switch {
	case ev.Decision != nil:
		return sink.RecordDecision(DecisionRecord(ev.Decision.Decision))
	case ev.Schedule != nil:
		if r, ok := sink.(coremetrics.ScheduleRecorder); ok {
			return r.RecordSchedule(ScheduleRecord(ev))
		}
	}
	return nil
}
