package config

import (
	"fmt"
	"time"
)

// SiteConfig describes the grid connection of the home.
type SiteConfig struct {
	Name string `json:"name"`
	// HourlyCapKWh is the energy that may be imported per clock hour.
	HourlyCapKWh float64 `json:"hourly_cap_kwh"`
	// BufferKWh is kept unused under the cap.
	BufferKWh            float64 `json:"buffer_kwh"`
	BlindWindowStartHour int     `json:"blind_window_start_hour"`
	BlindWindowEndHour   int     `json:"blind_window_end_hour"`
	// StressedHourFactor scales the cap of hours that went over budget.
	StressedHourFactor float64 `json:"stressed_hour_factor"`
	// RebuildHours lists the hours at which the ledger is rebuilt.
	RebuildHours []int `json:"rebuild_hours"`
	// Timezone names the IANA zone used for hours of day.
	Timezone string `json:"timezone"`
	// TickInterval is the balancer control period.
	TickInterval time.Duration `json:"tick_interval"`
}

// SetDefaults applies sane defaults.
func (c *SiteConfig) SetDefaults() {
	if c.Name == "" {
		c.Name = "home"
	}
	if c.BufferKWh == 0 {
		c.BufferKWh = 0.41
	}
	if c.BlindWindowStartHour == 0 && c.BlindWindowEndHour == 0 {
		c.BlindWindowStartHour = 9
		c.BlindWindowEndHour = 14
	}
	if c.StressedHourFactor == 0 {
		c.StressedHourFactor = 0.9
	}
	if c.RebuildHours == nil {
		c.RebuildHours = []int{0, 14}
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Minute
	}
}

// Validate checks the configuration is usable.
func (c SiteConfig) Validate() error {
	if c.HourlyCapKWh <= 0 {
		return fmt.Errorf("site: hourly_cap_kwh must be positive")
	}
	if c.BufferKWh < 0 || c.BufferKWh >= c.HourlyCapKWh {
		return fmt.Errorf("site: buffer_kwh must be within [0, hourly_cap_kwh)")
	}
	for _, h := range c.RebuildHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("site: rebuild hour %d out of range", h)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("site: timezone: %w", err)
	}
	return nil
}

// Location resolves Timezone.
func (c SiteConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
