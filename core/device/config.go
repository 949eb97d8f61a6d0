package device

import "fmt"

// ChargerConfig describes an entity-backed charger.
type ChargerConfig struct {
	ID            string  `json:"id"`
	MinAmps       int     `json:"min_amps"`
	MaxAmps       int     `json:"max_amps"`
	Volts         float64 `json:"volts"`
	Phases        int     `json:"phases"`
	AmpsEntity    string  `json:"amps_entity"`
	StatusEntity  string  `json:"status_entity"`
	CarEntity     string  `json:"car_entity"`
	CommandEntity string  `json:"command_entity"`
}

// SetDefaults applies sane defaults.
func (c *ChargerConfig) SetDefaults() {
	if c.MinAmps == 0 {
		c.MinAmps = 6
	}
	if c.MaxAmps == 0 {
		c.MaxAmps = 16
	}
	if c.Volts == 0 {
		c.Volts = 230
	}
	if c.Phases == 0 {
		c.Phases = 1
	}
	if c.CommandEntity == "" {
		c.CommandEntity = c.ID
	}
}

// Validate checks the configuration is usable.
func (c ChargerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("charger id is required")
	}
	if c.MinAmps > c.MaxAmps {
		return fmt.Errorf("charger %s: min_amps %d above max_amps %d", c.ID, c.MinAmps, c.MaxAmps)
	}
	if c.StatusEntity == "" {
		return fmt.Errorf("charger %s: status_entity is required", c.ID)
	}
	return nil
}

// HeaterConfig describes an entity-backed heater.
type HeaterConfig struct {
	ID            string  `json:"id"`
	RatedWatts    float64 `json:"rated_watts"`
	CommandEntity string  `json:"command_entity"`
	PowerEntity   string  `json:"power_entity"`
	EnergyEntity  string  `json:"energy_entity"`
}

// SetDefaults applies sane defaults.
func (c *HeaterConfig) SetDefaults() {
	if c.CommandEntity == "" {
		c.CommandEntity = c.ID
	}
}

// Validate checks the configuration is usable.
func (c HeaterConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("heater id is required")
	}
	if c.RatedWatts <= 0 {
		return fmt.Errorf("heater %s: rated_watts must be positive", c.ID)
	}
	return nil
}

// VehicleConfig describes an entity-backed car.
type VehicleConfig struct {
	ID             string  `json:"id"`
	BatteryKWh     float64 `json:"battery_kwh"`
	SocEntity      string  `json:"soc_entity"`
	LimitEntity    string  `json:"limit_entity"`
	CommandEntity  string  `json:"command_entity"`
	PreferredLimit float64 `json:"preferred_limit"`
	FinishByHour   int     `json:"finish_by_hour"`
	Priority       int     `json:"priority"`
	// SolarOnly cars charge from surplus only and are never price scheduled.
	SolarOnly bool `json:"solar_only"`
	// Charger is the removable charger the car is usually plugged into.
	Charger string `json:"charger"`
	// Onboard is set when the car controls its own charging current.
	Onboard *ChargerConfig `json:"onboard,omitempty"`
}

// SetDefaults applies sane defaults.
func (c *VehicleConfig) SetDefaults() {
	if c.CommandEntity == "" {
		c.CommandEntity = c.ID
	}
	if c.PreferredLimit == 0 {
		c.PreferredLimit = 90
	}
	if c.FinishByHour == 0 {
		c.FinishByHour = 7
	}
	if c.Priority == 0 {
		c.Priority = 3
	}
	if c.Onboard != nil {
		if c.Onboard.ID == "" {
			c.Onboard.ID = c.ID + "-onboard"
		}
		c.Onboard.SetDefaults()
	}
}

// Validate checks the configuration is usable.
func (c VehicleConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	if c.BatteryKWh <= 0 {
		return fmt.Errorf("vehicle %s: battery_kwh must be positive", c.ID)
	}
	if c.SocEntity == "" {
		return fmt.Errorf("vehicle %s: soc_entity is required", c.ID)
	}
	if c.Onboard != nil {
		return c.Onboard.Validate()
	}
	return nil
}

// MeterConfig names the house meter entities. Accumulated energy is read in
// kWh.
type MeterConfig struct {
	ConsumptionEntity string `json:"consumption_entity"`
	ProductionEntity  string `json:"production_entity"`
	AccumulatedEntity string `json:"accumulated_entity"`
	TemperatureEntity string `json:"temperature_entity"`
	RecoveryEntity    string `json:"recovery_entity"`
}

// Validate checks the configuration is usable.
func (c MeterConfig) Validate() error {
	if c.ConsumptionEntity == "" || c.AccumulatedEntity == "" {
		return fmt.Errorf("meter: consumption_entity and accumulated_entity are required")
	}
	return nil
}
