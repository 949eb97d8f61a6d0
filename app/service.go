// Package app wires configuration, devices and the engine components into
// a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kilianp07/wattbudget/config"
	"github.com/kilianp07/wattbudget/core/balancer"
	"github.com/kilianp07/wattbudget/core/connection"
	"github.com/kilianp07/wattbudget/core/device"
	"github.com/kilianp07/wattbudget/core/events"
	"github.com/kilianp07/wattbudget/core/learner"
	"github.com/kilianp07/wattbudget/core/ledger"
	"github.com/kilianp07/wattbudget/core/logger"
	coremetrics "github.com/kilianp07/wattbudget/core/metrics"
	"github.com/kilianp07/wattbudget/core/monitoring"
	"github.com/kilianp07/wattbudget/core/notify"
	"github.com/kilianp07/wattbudget/core/price"
	"github.com/kilianp07/wattbudget/core/scheduler"
	"github.com/kilianp07/wattbudget/core/store"
	infralogger "github.com/kilianp07/wattbudget/infra/logger"
	"github.com/kilianp07/wattbudget/infra/metrics"
	inframon "github.com/kilianp07/wattbudget/infra/monitoring"
	"github.com/kilianp07/wattbudget/infra/mqtt"
	"github.com/kilianp07/wattbudget/infra/prices"
	"github.com/kilianp07/wattbudget/internal/eventbus"
	"github.com/kilianp07/wattbudget/internal/loop"
)

// PriceSource fetches the price curve.
type PriceSource interface {
	Fetch(ctx context.Context) ([]price.Point, error)
}

// Deps are the external collaborators of the service. Nil fields are
// replaced by their configured implementation.
type Deps struct {
	Entities device.EntityLayer
	Notifier notify.Sink
	Prices   PriceSource
	Store    store.SnapshotStore
	Journal  store.Journal
	Sink     coremetrics.Sink
	Clock    func() time.Time
	Log      logger.Logger
}

// Service runs the engine.
type Service struct {
	cfg  *config.Config
	log  logger.Logger
	now  func() time.Time
	loop *loop.Loop
	tm   *loop.Timers
	bus  *eventbus.Bus[events.Event]

	entities device.EntityLayer
	mqtt     *mqtt.EntityClient
	notifier notify.Sink
	prices   PriceSource
	store    store.SnapshotStore
	journal  store.Journal
	sink     coremetrics.Sink

	learner   *learner.Learner
	ledger    *ledger.Ledger
	curve     *price.Curve
	scheduler *scheduler.Scheduler
	registry  *connection.Registry
	balancer  *balancer.Balancer
	fleet     *fleet

	cancels []func()
}

// New connects to the broker and builds the service from cfg.
func New(cfg *config.Config) (*Service, error) {
	mon, err := inframon.NewSentryMonitor(cfg.Sentry, cfg.Site.Name)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	client, err := mqtt.NewEntityClient(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt client: %w", err)
	}
	var notifier notify.Sink = mqtt.NewNotifier(client)
	if cfg.Notify.Transport == "log" {
		notifier = notify.LogSink{Log: infralogger.New("notify")}
	}
	st, err := store.NewSnapshotStore(cfg.Persistence)
	if err != nil {
		client.Disconnect()
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	journal, err := store.NewJournal(cfg.Journal)
	if err != nil {
		return nil, abandon(client, fmt.Errorf("journal: %w", err), st)
	}
	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, abandon(client, fmt.Errorf("metrics sink: %w", err), st, journal)
	}
	svc, err := Build(cfg, Deps{
		Entities: client,
		Notifier: notifier,
		Prices:   prices.NewFetcher(cfg.Prices),
		Store:    st,
		Journal:  journal,
		Sink:     sink,
		Log:      infralogger.New("service"),
	})
	if err != nil {
		return nil, abandon(client, err, st, journal)
	}
	svc.mqtt = client
	return svc, nil
}

// disconnecter is the part of the broker client New tears down on failure.
type disconnecter interface{ Disconnect() }

// abandon releases what New opened before failing with err. Close errors
// are joined to err.
func abandon(client disconnecter, err error, opened ...io.Closer) error {
	errs := []error{err}
	for i := len(opened) - 1; i >= 0; i-- {
		if cerr := opened[i].Close(); cerr != nil {
			errs = append(errs, cerr)
		}
	}
	client.Disconnect()
	return errors.Join(errs...)
}

// Build assembles the engine around deps.
func Build(cfg *config.Config, deps Deps) (*Service, error) {
	if deps.Entities == nil {
		return nil, errors.New("app: an entity layer is required")
	}
	loc := cfg.Site.Location()
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().In(loc) }
	}
	if deps.Log == nil {
		deps.Log = logger.NopLogger{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogSink{Log: deps.Log}
	}
	if deps.Store == nil {
		deps.Store = noStore{}
	}
	if deps.Journal == nil {
		deps.Journal = store.NopJournal{}
	}
	if deps.Sink == nil {
		deps.Sink = coremetrics.NopSink{}
	}

	s := &Service{
		cfg:      cfg,
		log:      deps.Log,
		now:      deps.Clock,
		bus:      eventbus.New[events.Event](),
		entities: deps.Entities,
		notifier: deps.Notifier,
		prices:   deps.Prices,
		store:    deps.Store,
		journal:  deps.Journal,
		sink:     deps.Sink,
	}
	s.loop = loop.New(256, deps.Log)
	s.tm = loop.NewTimers(s.loop)

	s.learner = learner.New(cfg.Learner, componentLog(deps.Log, "learner"))
	s.ledger = ledger.New(ledger.Config{
		HourlyCapWh:        cfg.Site.HourlyCapKWh * 1000,
		StressedHourFactor: cfg.Site.StressedHourFactor,
	}, s.learner, componentLog(deps.Log, "ledger"))
	s.curve = price.NewCurve(time.Hour, nil)
	s.scheduler = scheduler.New(cfg.Scheduler, s.ledger, s.curve, componentLog(deps.Log, "scheduler"),
		scheduler.WithClock(deps.Clock),
		scheduler.WithListener(scheduler.ListenerFunc(s.scheduleChanged)))
	s.registry = connection.NewRegistry(componentLog(deps.Log, "connection"))

	f, err := newFleet(cfg.Devices, deps.Entities, s.registry)
	if err != nil {
		return nil, err
	}
	s.fleet = f

	s.balancer, err = balancer.New(cfg.Balancer, f.balancerDevices(), balancer.Deps{
		Queue:    s.scheduler,
		Links:    s.registry,
		Learner:  s.learner,
		Budget:   s.ledger,
		Timers:   s.tm,
		Notifier: deps.Notifier,
		Log:      componentLog(deps.Log, "balancer"),
		Clock:    deps.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("balancer: %w", err)
	}
	s.balancer.Observe(s.decided)
	return s, nil
}

// componentLog tags zerolog loggers with the component name.
func componentLog(l logger.Logger, component string) logger.Logger {
	if z, ok := l.(*infralogger.ZerologLogger); ok {
		return z.With("subsystem", component)
	}
	return l
}

// Run restores the last snapshot, starts the periodic jobs and blocks until
// ctx is cancelled. The state is saved on the way out.
func (s *Service) Run(ctx context.Context) error {
	s.restore(ctx)

	if s.cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.Listen, nil); err != nil {
				s.log.Errorf("prom server: %v", err)
				monitoring.CaptureException(err, map[string]string{"module": "metrics"})
			}
		}()
	}
	metrics.StartEventCollector(ctx, s.bus, s.sink, s.log)
	if s.mqtt != nil {
		mqtt.StartEventPublisher(ctx, s.bus, s.mqtt)
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		s.loop.Run(ctx)
	}()

	s.loop.Post(func() {
		s.watchChargers()
		s.observeChargers()
		s.armRebuild()
		s.armSnapshot(ctx)
		s.armIdleSample()
		s.armJobRefresh()
	})
	s.loop.Every(ctx, s.cfg.Site.TickInterval, func() { s.balancer.Tick(ctx) })
	if s.prices != nil {
		go s.pollPrices(ctx)
	}

	<-ctx.Done()
	<-loopDone
	s.save(context.Background())
	return nil
}

// Close releases every resource.
func (s *Service) Close() error {
	for _, c := range s.cancels {
		c()
	}
	s.cancels = nil
	s.bus.Close()
	var errs []error
	if err := s.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("journal: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	monitoring.Flush(2 * time.Second)
	return errors.Join(errs...)
}

// decided runs on the loop after every balancer tick.
func (s *Service) decided(d balancer.Decision) {
	if err := s.journal.Append(context.Background(), d); err != nil {
		s.log.Warnf("journal append: %v", err)
	}
	s.bus.Publish(events.Event{Time: d.Time, Decision: &events.DecisionEvent{Decision: d}})
}

// Bus exposes engine events.
func (s *Service) Bus() *eventbus.Bus[events.Event] { return s.bus }

type noStore struct{}

func (noStore) Load(context.Context) (store.Snapshot, error) {
	return store.Snapshot{}, store.ErrNoSnapshot
}
func (noStore) Save(context.Context, store.Snapshot) error { return nil }
func (noStore) Close() error                               { return nil }
