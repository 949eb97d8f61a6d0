// Package price defines the electricity price provider consumed by the
// scheduler and an in-memory implementation backed by an hourly price curve.
package price

import (
	"errors"
	"time"
)

var (
	// ErrNoWindow is returned when no continuous window of the requested
	// length fits before the deadline.
	ErrNoWindow = errors.New("no charging window available")
	// ErrNoPrices is returned when no price is known for the requested time.
	ErrNoPrices = errors.New("no price data")
)

// Window is a continuous charging window.
type Window struct {
	Start         time.Time `json:"start"`
	EstimatedStop time.Time `json:"estimated_stop"`
	// MustStopBy extends EstimatedStop while prices stay close to the
	// window's most expensive hour.
	MustStopBy time.Time `json:"must_stop_by"`
	// Price is the duration-weighted average price of [Start, EstimatedStop).
	Price float64 `json:"price"`
}

// Provider is the contract with the price curve.
type Provider interface {
	// ContinuousCheapestWindow returns the cheapest window of the given
	// length ending no later than finishBy. The window starts at now when the
	// current price is at or below startBeforePrice. MustStopBy is extended
	// while prices do not exceed the window maximum by more than
	// stopAtPriceIncrease.
	ContinuousCheapestWindow(now time.Time, hours float64, finishBy time.Time, startBeforePrice, stopAtPriceIncrease float64) (Window, error)
	// PriceNow returns the price in effect at now.
	PriceNow(now time.Time) (float64, error)
	// TomorrowPricesValid reports whether prices cover the whole next day.
	TomorrowPricesValid(now time.Time) bool
	// LowestPriceFor returns the average price of the cheapest continuous
	// window of the given length starting at or after from.
	LowestPriceFor(hours float64, from time.Time) (float64, error)
}
