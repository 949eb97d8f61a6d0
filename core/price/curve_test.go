package price

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

// hourly builds a curve starting at midnight with one price per hour.
func hourly(prices ...float64) *Curve {
	pts := make([]Point, len(prices))
	for i, p := range prices {
		pts[i] = Point{Start: day.Add(time.Duration(i) * time.Hour), Price: p}
	}
	return NewCurve(time.Hour, pts)
}

func TestCheapestWindow(t *testing.T) {
	c := hourly(5, 4, 3, 1, 1, 2, 6, 7)
	now := day
	w, err := c.ContinuousCheapestWindow(now, 2, day.Add(8*time.Hour), -100, 0)
	require.NoError(t, err)
	assert.Equal(t, day.Add(3*time.Hour), w.Start)
	assert.Equal(t, day.Add(5*time.Hour), w.EstimatedStop)
	assert.Equal(t, day.Add(5*time.Hour), w.MustStopBy)
	assert.InDelta(t, 1.0, w.Price, 1e-9)
}

func TestCheapestWindowExtendsMustStop(t *testing.T) {
	c := hourly(5, 4, 3, 1, 1, 2, 6, 7)
	w, err := c.ContinuousCheapestWindow(day, 2, day.Add(8*time.Hour), -100, 1)
	require.NoError(t, err)
	assert.Equal(t, day.Add(5*time.Hour), w.EstimatedStop)
	// 2 ≤ 1+1 so the next hour is included, 6 is not
	assert.Equal(t, day.Add(6*time.Hour), w.MustStopBy)

	w, err = c.ContinuousCheapestWindow(day, 2, day.Add(5*time.Hour+30*time.Minute), -100, 1)
	require.NoError(t, err)
	assert.Equal(t, day.Add(5*time.Hour+30*time.Minute), w.MustStopBy, "capped at deadline")
}

func TestCheapestWindowFractionalAndDeadline(t *testing.T) {
	c := hourly(5, 4, 3, 1, 1, 2, 6, 7)
	w, err := c.ContinuousCheapestWindow(day, 1.5, day.Add(4*time.Hour), -100, 0)
	require.NoError(t, err)
	// the window must end by 04:00, the aligned 02:30 candidate wins
	assert.Equal(t, day.Add(150*time.Minute), w.Start)
	assert.Equal(t, day.Add(4*time.Hour), w.EstimatedStop)
	assert.InDelta(t, (0.5*3+1*1)/1.5, w.Price, 1e-9)
	assert.False(t, w.Start.After(w.EstimatedStop))
	assert.False(t, w.EstimatedStop.After(w.MustStopBy))
}

func TestCheapestWindowStartBeforePrice(t *testing.T) {
	c := hourly(2, 4, 3, 1, 1)
	w, err := c.ContinuousCheapestWindow(day, 1, day.Add(5*time.Hour), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, day, w.Start)
}

func TestCheapestWindowInfeasible(t *testing.T) {
	c := hourly(1, 2, 3)
	_, err := c.ContinuousCheapestWindow(day, 5, day.Add(3*time.Hour), 0, 0)
	assert.True(t, errors.Is(err, ErrNoWindow))

	_, err = c.ContinuousCheapestWindow(day, 2, day.Add(6*time.Hour), -100, 0)
	require.NoError(t, err, "a window inside the priced range exists")

	_, err = c.ContinuousCheapestWindow(day.Add(2*time.Hour), 2, day.Add(6*time.Hour), -100, 0)
	assert.ErrorIs(t, err, ErrNoWindow, "unpriced hours cannot be used")
}

func TestPriceNowAndTomorrow(t *testing.T) {
	prices := make([]float64, 48)
	for i := range prices {
		prices[i] = float64(i)
	}
	c := hourly(prices...)
	p, err := c.PriceNow(day.Add(5*time.Hour + 10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 5.0, p)
	assert.True(t, c.TomorrowPricesValid(day.Add(10*time.Hour)))
	assert.False(t, c.TomorrowPricesValid(day.Add(25*time.Hour)))

	_, err = c.PriceNow(day.Add(72 * time.Hour))
	assert.ErrorIs(t, err, ErrNoPrices)
}

func TestLowestPriceFor(t *testing.T) {
	c := hourly(5, 4, 3, 1, 2, 6)
	p, err := c.LowestPriceFor(2, day)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, p, 1e-9)

	_, err = NewCurve(0, nil).LowestPriceFor(1, day)
	assert.ErrorIs(t, err, ErrNoPrices)
}

func TestDecodeCurve(t *testing.T) {
	y := "prices:\n  - start: 2025-01-10T00:00:00Z\n    price: 1.5\n  - start: 2025-01-10T01:00:00Z\n    price: 2\n"
	pts, err := DecodeCurve(bytes.NewBufferString(y), "yaml")
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, day, pts[0].Start.UTC())

	j := `{"prices":[{"start":"2025-01-10T00:00:00Z","price":3}]}`
	pts, err = DecodeCurve(bytes.NewBufferString(j), "json")
	require.NoError(t, err)
	assert.Equal(t, 3.0, pts[0].Price)

	_, err = DecodeCurve(bytes.NewBufferString(j), "toml")
	assert.Error(t, err)
}
