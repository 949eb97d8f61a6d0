package price

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Point is the price of one interval starting at Start.
type Point struct {
	Start time.Time `json:"start" yaml:"start"`
	Price float64   `json:"price" yaml:"price"`
}

// Curve is a Provider over fixed-length price intervals.
type Curve struct {
	mu         sync.RWMutex
	resolution time.Duration
	points     []Point
}

// NewCurve returns a curve with the given interval length. A zero
// resolution means one hour.
func NewCurve(resolution time.Duration, points []Point) *Curve {
	if resolution <= 0 {
		resolution = time.Hour
	}
	c := &Curve{resolution: resolution}
	c.Update(points)
	return c
}

// Update replaces the known prices.
func (c *Curve) Update(points []Point) {
	cp := append([]Point(nil), points...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Start.Before(cp[j].Start) })
	c.mu.Lock()
	c.points = cp
	c.mu.Unlock()
}

// Points returns a copy of the known prices.
func (c *Curve) Points() []Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Point(nil), c.points...)
}

// End returns the end of the last priced interval.
func (c *Curve) End() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.points) == 0 {
		return time.Time{}
	}
	return c.points[len(c.points)-1].Start.Add(c.resolution)
}

// PriceNow implements Provider.
func (c *Curve) PriceNow(now time.Time) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.priceAt(now)
}

func (c *Curve) priceAt(t time.Time) (float64, error) {
	for _, p := range c.points {
		if !t.Before(p.Start) && t.Before(p.Start.Add(c.resolution)) {
			return p.Price, nil
		}
	}
	return 0, ErrNoPrices
}

// TomorrowPricesValid implements Provider.
func (c *Curve) TomorrowPricesValid(now time.Time) bool {
	dayAfter := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 2)
	return !c.End().Before(dayAfter)
}

// average returns the duration-weighted price and the maximum price over
// [from, to). ok is false if any part of the interval is unpriced.
func (c *Curve) average(from, to time.Time) (avg, peak float64, ok bool) {
	var sum, covered float64
	peak = math.Inf(-1)
	for _, p := range c.points {
		end := p.Start.Add(c.resolution)
		start := p.Start
		if from.After(start) {
			start = from
		}
		stop := end
		if to.Before(stop) {
			stop = to
		}
		if !stop.After(start) {
			continue
		}
		h := stop.Sub(start).Hours()
		sum += p.Price * h
		covered += h
		peak = math.Max(peak, p.Price)
	}
	total := to.Sub(from).Hours()
	if total <= 0 || covered < total-1e-9 {
		return 0, 0, false
	}
	return sum / total, peak, true
}

func (c *Curve) candidates(now time.Time, d time.Duration, finishBy time.Time) []time.Time {
	starts := []time.Time{now}
	for _, p := range c.points {
		if p.Start.After(now) && !p.Start.Add(d).After(finishBy) {
			starts = append(starts, p.Start)
		}
	}
	if last := finishBy.Add(-d); last.After(now) {
		starts = append(starts, last)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	return starts
}

// ContinuousCheapestWindow implements Provider.
func (c *Curve) ContinuousCheapestWindow(now time.Time, hours float64, finishBy time.Time, startBeforePrice, stopAtPriceIncrease float64) (Window, error) {
	if hours <= 0 || math.IsInf(hours, 0) || math.IsNaN(hours) {
		return Window{}, fmt.Errorf("%w: invalid duration %v", ErrNoWindow, hours)
	}
	d := time.Duration(hours * float64(time.Hour))
	if now.Add(d).After(finishBy) {
		return Window{}, fmt.Errorf("%w: %.2fh does not fit before %s", ErrNoWindow, hours, finishBy.Format(time.RFC3339))
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		best     Window
		bestPeak float64
		found    bool
	)
	if cur, err := c.priceAt(now); err == nil && cur <= startBeforePrice {
		if avg, peak, ok := c.average(now, now.Add(d)); ok {
			best, bestPeak, found = Window{Start: now, EstimatedStop: now.Add(d), Price: avg}, peak, true
		}
	}
	if !found {
		for _, s := range c.candidates(now, d, finishBy) {
			avg, peak, ok := c.average(s, s.Add(d))
			if !ok {
				continue
			}
			if !found || avg < best.Price-1e-9 {
				best, bestPeak, found = Window{Start: s, EstimatedStop: s.Add(d), Price: avg}, peak, true
			}
		}
	}
	if !found {
		return Window{}, fmt.Errorf("%w: prices do not cover %.2fh before %s", ErrNoWindow, hours, finishBy.Format(time.RFC3339))
	}
	best.MustStopBy = c.extend(best.EstimatedStop, bestPeak+stopAtPriceIncrease, finishBy)
	return best, nil
}

// extend moves stop forward over following intervals priced at most limit,
// never past finishBy.
func (c *Curve) extend(stop time.Time, limit float64, finishBy time.Time) time.Time {
	out := stop
	for _, p := range c.points {
		end := p.Start.Add(c.resolution)
		if !end.After(out) {
			continue
		}
		if p.Start.After(out) || p.Price > limit {
			break
		}
		if end.After(finishBy) {
			end = finishBy
		}
		if !end.After(out) {
			break
		}
		out = end
	}
	return out
}

// LowestPriceFor implements Provider.
func (c *Curve) LowestPriceFor(hours float64, from time.Time) (float64, error) {
	end := c.End()
	if end.IsZero() {
		return 0, ErrNoPrices
	}
	w, err := c.ContinuousCheapestWindow(from, hours, end, math.Inf(-1), 0)
	if err != nil {
		return 0, err
	}
	return w.Price, nil
}

// DecodeCurve reads price points from r in the given format ("yaml" or "json").
func DecodeCurve(r io.Reader, format string) ([]Point, error) {
	var doc struct {
		Prices []Point `json:"prices" yaml:"prices"`
	}
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, err
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	return doc.Prices, nil
}
