// Package device defines the capabilities the engine needs from vehicles,
// chargers, heaters and the house meter, and adapters implementing them on
// top of a smart-home entity layer.
package device

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when an entity has no usable value.
var ErrUnavailable = errors.New("entity unavailable")

// EntityLayer reads entity states and invokes device commands. Commands
// block until acknowledged or ctx ends.
type EntityLayer interface {
	ReadSensor(entityID string) (float64, error)
	ReadState(entityID string) (string, error)
	InvokeCommand(ctx context.Context, entityID, command string, params map[string]any) error
	Subscribe(entityID string, fn func(state string)) (cancel func(), err error)
}

// Vehicle is a car that can report its battery and accept a charge limit.
type Vehicle interface {
	ID() string
	Wake(ctx context.Context) error
	BatteryLevel() (float64, error)
	ChargeLimit() (float64, error)
	SetChargeLimit(ctx context.Context, pct float64) error
	// KWhNeeded is the energy needed to reach the current charge limit.
	KWhNeeded() (float64, error)
	PreferredChargeLimit() float64
}

// Status is the state of a charging port.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusCharging     Status = "charging"
	StatusCompleted    Status = "completed"
)

// ChargingPort is an amp-controllable charger, removable or built into a car.
type ChargingPort interface {
	ID() string
	MinAmps() int
	MaxAmps() int
	VoltsPerPhase() float64
	Amps() (int, error)
	SetAmps(ctx context.Context, amps int) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() (Status, error)
	// ConnectedCar identifies the plugged in car when the charger can tell.
	ConnectedCar() (string, error)
}

// Mode is a heater operating mode.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeSave   Mode = "save"
	ModeBoost  Mode = "boost"
)

// Heater is a resistive or climate heater that can be put in save or boost
// mode.
type Heater interface {
	ID() string
	RatedWatts() float64
	SetMode(ctx context.Context, m Mode) error
	Power() (float64, error)
	// Energy is the heater's cumulative energy counter in kWh.
	Energy() (float64, error)
}

// Meter exposes the house level measurements.
type Meter interface {
	Consumption() (float64, error)
	Production() (float64, error)
	// AccumulatedHour is the energy used since the start of the hour in Wh.
	AccumulatedHour() (float64, error)
	OutsideTemperature() (float64, error)
	// RecoverAccumulated asks the entity layer to reset a stuck
	// accumulated energy sensor.
	RecoverAccumulated(ctx context.Context) error
}
