package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	corelogger "github.com/kilianp07/wattbudget/core/logger"
	coremetrics "github.com/kilianp07/wattbudget/core/metrics"
	"github.com/kilianp07/wattbudget/infra/logger"
)

// InfluxConfig locates the bucket decisions and budgets are written to.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	Site   string `json:"site"`
}

// InfluxSink writes decisions, slot budgets and schedules to InfluxDB.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	site     string
	log      corelogger.Logger
}

// NewInfluxSink creates a sink for the given endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	site := cfg.Site
	if site == "" {
		site = "home"
	}
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		site:     site,
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the instance and returns a NopSink when
// the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordDecision writes one balancer_decision point.
func (s *InfluxSink) RecordDecision(rec coremetrics.DecisionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("balancer_decision").
		AddTag("site", s.site).
		AddTag("rule", rec.Rule).
		AddTag("estimated", strconv.FormatBool(rec.Estimated)).
		AddField("consumption_w", round1(rec.ConsumptionW)).
		AddField("production_w", round1(rec.ProductionW)).
		AddField("accumulated_wh", round1(rec.AccumulatedWh)).
		AddField("projected_wh", round1(rec.ProjectedWh)).
		AddField("available_w", round1(rec.AvailableW)).
		AddField("actions", rec.Actions).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordSlots writes one slot_budget point per slot.
func (s *InfluxSink) RecordSlots(slots []coremetrics.SlotBudget) error {
	if len(slots) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(slots))
	for _, sl := range slots {
		points = append(points, write.NewPointWithMeasurement("slot_budget").
			AddTag("site", s.site).
			AddField("available_wh", round1(sl.AvailableWh)).
			SetTime(sl.Start))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordSchedule writes a charge_schedule point.
func (s *InfluxSink) RecordSchedule(rec coremetrics.ScheduleRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("charge_schedule").
		AddTag("site", s.site).
		AddTag("vehicle_id", rec.VehicleID).
		AddField("scheduled", rec.Scheduled).
		AddField("priority", rec.Priority).
		AddField("kwh", round1(rec.KWh))
	if rec.Scheduled {
		p = p.AddField("start", rec.Start.Unix()).AddField("end", rec.End.Unix())
	}
	p = p.SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
