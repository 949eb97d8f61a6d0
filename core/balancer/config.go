package balancer

import (
	"fmt"
	"time"
)

// Config holds the control parameters of the balancer.
type Config struct {
	// HourlyCapWh is the energy that may be imported per clock hour.
	HourlyCapWh float64 `json:"hourly_cap_wh"`
	// BufferWh is kept unused under the cap as a safety margin.
	BufferWh float64 `json:"buffer_wh"`
	// HeaterReduceMinute is the first minute of the hour at which heaters
	// may be reduced.
	HeaterReduceMinute int `json:"heater_reduce_minute"`
	// DeepDeficitAfter is how long after the last heater reduction a
	// remaining deficit escalates.
	DeepDeficitAfter time.Duration `json:"deep_deficit_after"`
	// SettleTime must pass after a heater reduction before charging is
	// increased again.
	SettleTime time.Duration `json:"settle_time"`
	// ComfortSlackWh is the slack required before charging is increased.
	ComfortSlackWh float64 `json:"comfort_slack_wh"`
	// StaleAfter marks a sensor stale when it has not produced a usable
	// value for this long.
	StaleAfter time.Duration `json:"stale_after"`
	// ForceStop allows stopping chargers on a sustained deficit.
	ForceStop bool `json:"force_stop"`
	// Notify raises a user notification on a sustained deficit.
	Notify bool `json:"notify"`
	// NotifyRecipients receive deficit notifications.
	NotifyRecipients []string `json:"notify_recipients"`
	// HeaterRecoveryWindow is how long after restoring a heater its energy
	// use is measured for the recovery model. Zero disables measuring.
	HeaterRecoveryWindow time.Duration `json:"heater_recovery_window"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.HeaterReduceMinute == 0 {
		c.HeaterReduceMinute = 7
	}
	if c.DeepDeficitAfter == 0 {
		c.DeepDeficitAfter = 3 * time.Minute
	}
	if c.SettleTime == 0 {
		c.SettleTime = 5 * time.Minute
	}
	if c.ComfortSlackWh == 0 {
		c.ComfortSlackWh = 500
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 3 * time.Minute
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.HourlyCapWh <= 0 {
		return fmt.Errorf("hourly cap must be positive")
	}
	if c.BufferWh < 0 || c.BufferWh >= c.HourlyCapWh {
		return fmt.Errorf("buffer %.0f Wh must be within [0, cap)", c.BufferWh)
	}
	return nil
}

// UsableWh is the cap minus the buffer.
func (c Config) UsableWh() float64 { return c.HourlyCapWh - c.BufferWh }
