package scheduler

import "time"

// Config defines scheduling parameters.
type Config struct {
	// StartBeforePrice starts a window immediately when the current price is
	// at or below this value.
	StartBeforePrice float64 `json:"start_before_price"`
	// StopAtPriceIncrease extends MustStopBy while prices stay within this
	// margin of the window's most expensive hour.
	StopAtPriceIncrease float64 `json:"stop_at_price_increase"`
	// BlindWindowStartHour and BlindWindowEndHour bound the part of the day
	// where tomorrow's prices are usually not published yet.
	BlindWindowStartHour int `json:"blind_window_start_hour"`
	BlindWindowEndHour   int `json:"blind_window_end_hour"`
	// FinishPriorities lists priorities allowed to keep charging after
	// MustStopBy has passed.
	FinishPriorities []int `json:"finish_priorities"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.BlindWindowStartHour == 0 && c.BlindWindowEndHour == 0 {
		c.BlindWindowStartHour = 9
		c.BlindWindowEndHour = 14
	}
	if c.FinishPriorities == nil {
		c.FinishPriorities = []int{1, 2}
	}
}

// InBlindWindow reports whether t falls in [start, end) hours.
func (c Config) InBlindWindow(t time.Time) bool {
	h := t.Hour()
	return h >= c.BlindWindowStartHour && h < c.BlindWindowEndHour
}

// MayFinish reports whether a job of this priority may overrun its window.
func (c Config) MayFinish(priority int) bool {
	for _, p := range c.FinishPriorities {
		if p == priority {
			return true
		}
	}
	return false
}
