package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/wattbudget/config"
	"github.com/kilianp07/wattbudget/core/learner"
	"github.com/kilianp07/wattbudget/core/ledger"
	"github.com/kilianp07/wattbudget/core/logger"
	"github.com/kilianp07/wattbudget/core/model"
	"github.com/kilianp07/wattbudget/core/price"
	"github.com/kilianp07/wattbudget/core/scheduler"
	"github.com/kilianp07/wattbudget/core/store"
)

// Plan is an offline view of the budget and the charging windows.
type Plan struct {
	Now    time.Time
	Slots  []model.PowerSlot
	Jobs   []model.ChargingJob
	Groups []model.SimultaneousGroup
	Prices []price.Point
}

// PlanInput feeds BuildPlan.
type PlanInput struct {
	Now         time.Time
	Prices      []price.Point
	Temperature float64
	// Store provides the learned tables and the queued jobs. Optional.
	Store store.SnapshotStore
	// Jobs are queued on top of the snapshot's.
	Jobs []model.ChargingJob
}

// BuildPlan runs the ledger and the scheduler once without any device.
func BuildPlan(ctx context.Context, cfg *config.Config, in PlanInput) (Plan, error) {
	if len(in.Prices) == 0 {
		return Plan{}, price.ErrNoPrices
	}
	if in.Now.IsZero() {
		in.Now = time.Now().In(cfg.Site.Location())
	}
	log := logger.NopLogger{}
	l := learner.New(cfg.Learner, log)
	led := ledger.New(ledger.Config{
		HourlyCapWh:        cfg.Site.HourlyCapKWh * 1000,
		StressedHourFactor: cfg.Site.StressedHourFactor,
	}, l, log)

	var jobs []model.ChargingJob
	if in.Store != nil {
		snap, err := in.Store.Load(ctx)
		switch {
		case errors.Is(err, store.ErrNoSnapshot):
		case err != nil:
			return Plan{}, fmt.Errorf("load snapshot: %w", err)
		default:
			l.Import(snap.Learner)
			for _, h := range snap.StressedHours {
				led.MarkStressed(h)
			}
			jobs = snap.Jobs
		}
	}

	curve := price.NewCurve(time.Hour, in.Prices)
	led.Rebuild(ledger.Inputs{
		Now:         in.Now,
		Horizon:     curve.End(),
		Temperature: func(time.Time) float64 { return in.Temperature },
	})
	sched := scheduler.New(cfg.Scheduler, led, curve, log, scheduler.WithClock(func() time.Time { return in.Now }))
	sched.Restore(append(jobs, in.Jobs...))

	return Plan{
		Now:    in.Now,
		Slots:  led.Slots(),
		Jobs:   sched.Jobs(),
		Groups: sched.Groups(),
		Prices: curve.Points(),
	}, nil
}
