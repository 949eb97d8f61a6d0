package config

import (
	"errors"
	"fmt"

	"github.com/kilianp07/wattbudget/core/device"
)

// DevicesConfig lists the entities the engine controls.
type DevicesConfig struct {
	Meter    device.MeterConfig     `json:"meter"`
	Chargers []device.ChargerConfig `json:"chargers"`
	Heaters  []device.HeaterConfig  `json:"heaters"`
	Vehicles []device.VehicleConfig `json:"vehicles"`
}

// SetDefaults fills every device.
func (c *DevicesConfig) SetDefaults() {
	for i := range c.Chargers {
		c.Chargers[i].SetDefaults()
	}
	for i := range c.Heaters {
		c.Heaters[i].SetDefaults()
	}
	for i := range c.Vehicles {
		c.Vehicles[i].SetDefaults()
	}
}

// Validate checks every device and that ids are unique.
func (c DevicesConfig) Validate() error {
	errs := []error{c.Meter.Validate()}
	seen := make(map[string]string)
	claim := func(kind, id string) {
		if prev, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("devices: %s id %q already used by a %s", kind, id, prev))
			return
		}
		seen[id] = kind
	}
	for _, ch := range c.Chargers {
		errs = append(errs, ch.Validate())
		claim("charger", ch.ID)
	}
	for _, h := range c.Heaters {
		errs = append(errs, h.Validate())
		claim("heater", h.ID)
	}
	for _, v := range c.Vehicles {
		errs = append(errs, v.Validate())
		claim("vehicle", v.ID)
		if v.Onboard != nil {
			claim("charger", v.Onboard.ID)
		}
	}
	return errors.Join(errs...)
}
