package learner

import "time"

// Config tunes the running averages.
type Config struct {
	// MaxCounter is the sample count at which a bucket is reset to ResetCounter
	// so recent observations keep influencing the average.
	MaxCounter   int `json:"max_counter"`
	ResetCounter int `json:"reset_counter"`
	// RejectRatio discards samples deviating from an established bucket by
	// more than this factor in either direction.
	RejectRatio float64 `json:"reject_ratio"`
	// MinSamplesForReject is the bucket size from which RejectRatio applies.
	MinSamplesForReject int `json:"min_samples_for_reject"`
	// NeighborTolerance is the temperature distance within which a new bucket
	// may be seeded from an existing neighbour.
	NeighborTolerance int `json:"neighbor_tolerance"`
	// OffMinutesStep rounds heater off durations to this granularity.
	OffMinutesStep int `json:"off_minutes_step"`
	// RecoveryWindowMinutes is how long after a heater is restored its energy
	// is measured.
	RecoveryWindowMinutes int `json:"recovery_window_minutes"`
	// IdleIntervalMinutes is the period between idle consumption samples.
	IdleIntervalMinutes int `json:"idle_interval_minutes"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.MaxCounter <= 0 {
		c.MaxCounter = 100
	}
	if c.ResetCounter <= 0 {
		c.ResetCounter = 10
	}
	if c.RejectRatio <= 1 {
		c.RejectRatio = 3
	}
	if c.MinSamplesForReject <= 0 {
		c.MinSamplesForReject = 2
	}
	if c.NeighborTolerance <= 0 {
		c.NeighborTolerance = 5
	}
	if c.OffMinutesStep <= 0 {
		c.OffMinutesStep = 15
	}
	if c.RecoveryWindowMinutes <= 0 {
		c.RecoveryWindowMinutes = 60
	}
	if c.IdleIntervalMinutes <= 0 {
		c.IdleIntervalMinutes = 15
	}
}

// RecoveryWindow returns RecoveryWindowMinutes as a duration.
func (c Config) RecoveryWindow() time.Duration {
	return time.Duration(c.RecoveryWindowMinutes) * time.Minute
}

// IdleInterval returns IdleIntervalMinutes as a duration.
func (c Config) IdleInterval() time.Duration {
	return time.Duration(c.IdleIntervalMinutes) * time.Minute
}
