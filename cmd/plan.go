package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/spf13/cobra"

	"github.com/kilianp07/wattbudget/app"
	"github.com/kilianp07/wattbudget/config"
	"github.com/kilianp07/wattbudget/core/model"
	"github.com/kilianp07/wattbudget/core/price"
	"github.com/kilianp07/wattbudget/core/store"
	"github.com/kilianp07/wattbudget/infra/prices"
)

var (
	planPrices string
	planAt     string
	planTemp   float64
	planHTML   string
	planJobs   []string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the watt budget and charging windows for a price curve",
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planPrices, "prices", "", "price file (yaml or json), defaults to prices.file")
	planCmd.Flags().StringVar(&planAt, "at", "", "planning time, RFC3339")
	planCmd.Flags().Float64Var(&planTemp, "temp", 0, "outside temperature in °C")
	planCmd.Flags().StringVar(&planHTML, "html", "", "write a chart to this file")
	planCmd.Flags().StringArrayVar(&planJobs, "job", nil, "extra job vehicle:kwh, using the vehicle's configuration")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	path := planPrices
	if path == "" {
		path = cfg.Prices.File
	}
	if path == "" {
		return fmt.Errorf("no price file: use --prices or prices.file")
	}
	points, err := prices.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prices: %w", err)
	}
	in := app.PlanInput{Prices: points, Temperature: planTemp}
	if planAt != "" {
		in.Now, err = time.ParseInLocation(time.RFC3339, planAt, cfg.Site.Location())
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
	}
	for _, arg := range planJobs {
		j, err := parseJob(cfg, arg)
		if err != nil {
			return err
		}
		in.Jobs = append(in.Jobs, j)
	}
	st, err := store.NewSnapshotStore(cfg.Persistence)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	defer st.Close()
	in.Store = st

	plan, err := app.BuildPlan(context.Background(), cfg, in)
	if err != nil {
		return err
	}
	if err := printPlan(cmd.OutOrStdout(), plan); err != nil {
		return err
	}
	if planHTML == "" {
		return nil
	}
	html, err := planChartHTML(plan)
	if err != nil {
		return err
	}
	return os.WriteFile(planHTML, []byte(html), 0o644)
}

// parseJob turns vehicle:kwh into a job from the vehicle's configuration.
func parseJob(cfg *config.Config, arg string) (model.ChargingJob, error) {
	i := strings.LastIndex(arg, ":")
	if i < 0 {
		return model.ChargingJob{}, fmt.Errorf("--job %q: want vehicle:kwh", arg)
	}
	id := arg[:i]
	kwh, err := strconv.ParseFloat(arg[i+1:], 64)
	if err != nil {
		return model.ChargingJob{}, fmt.Errorf("--job %q: %w", arg, err)
	}
	for _, v := range cfg.Devices.Vehicles {
		if v.ID != id {
			continue
		}
		v.SetDefaults()
		j := model.ChargingJob{VehicleID: id, KWhRemaining: kwh, FinishByHour: v.FinishByHour, Priority: v.Priority, SolarOnly: v.SolarOnly}
		charger := v.Onboard
		for i := range cfg.Devices.Chargers {
			if cfg.Devices.Chargers[i].ID == v.Charger {
				charger = &cfg.Devices.Chargers[i]
			}
		}
		if charger == nil {
			return model.ChargingJob{}, fmt.Errorf("--job %q: vehicle has no charger", arg)
		}
		c := *charger
		c.SetDefaults()
		j.ChargerID = c.ID
		j.MaxAmps = c.MaxAmps
		j.VoltsPerPhase = c.Volts * float64(c.Phases)
		return j, nil
	}
	return model.ChargingJob{}, fmt.Errorf("--job %q: unknown vehicle", arg)
}

func printPlan(w io.Writer, p app.Plan) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tAVAILABLE Wh\tPRICE")
	curve := price.NewCurve(time.Hour, p.Prices)
	for _, s := range p.Slots {
		pr, err := curve.PriceNow(s.Start)
		cell := "-"
		if err == nil {
			cell = fmt.Sprintf("%.4f", pr)
		}
		fmt.Fprintf(tw, "%s\t%.0f\t%s\n", s.Start.Format("01-02 15:04"), s.AvailableWh, cell)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "VEHICLE\tKWH\tSTART\tSTOP\tMUST STOP\tPRICE")
	for _, j := range p.Jobs {
		if !j.Scheduled() {
			fmt.Fprintf(tw, "%s\t%.1f\tunscheduled\t\t\t\n", j.VehicleID, j.KWhRemaining)
			continue
		}
		fmt.Fprintf(tw, "%s\t%.1f\t%s\t%s\t%s\t%.4f\n", j.VehicleID, j.KWhRemaining,
			j.ScheduledStart.Format("01-02 15:04"), j.EstimatedStop.Format("15:04"),
			formatOptional(j.MustStopBy), j.Price)
	}
	return tw.Flush()
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("15:04")
}

// planChartHTML renders prices and the available budget on one chart.
func planChartHTML(p app.Plan) (string, error) {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Watt budget"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Hour"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Wh"}),
	)
	var xAxis []string
	var budget, prices []opts.LineData
	curve := price.NewCurve(time.Hour, p.Prices)
	for _, s := range p.Slots {
		xAxis = append(xAxis, s.Start.Format("2006-01-02 15:04"))
		budget = append(budget, opts.LineData{Value: s.AvailableWh})
		pr, err := curve.PriceNow(s.Start)
		if err != nil {
			prices = append(prices, opts.LineData{Value: nil})
			continue
		}
		prices = append(prices, opts.LineData{Value: pr})
	}
	line.SetXAxis(xAxis).
		AddSeries("Available Wh", budget).
		AddSeries("Price", prices)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return "", fmt.Errorf("render chart: %w", err)
	}
	return buf.String(), nil
}
