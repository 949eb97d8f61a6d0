package device

import (
	"context"
	"fmt"
	"strings"
)

func readOptional(e EntityLayer, id string) (float64, error) {
	if id == "" {
		return 0, ErrUnavailable
	}
	return e.ReadSensor(id)
}

// Charger implements ChargingPort over an EntityLayer.
type Charger struct {
	cfg ChargerConfig
	e   EntityLayer
}

// NewCharger returns an entity-backed charger.
func NewCharger(cfg ChargerConfig, e EntityLayer) *Charger {
	cfg.SetDefaults()
	return &Charger{cfg: cfg, e: e}
}

func (c *Charger) ID() string             { return c.cfg.ID }
func (c *Charger) MinAmps() int           { return c.cfg.MinAmps }
func (c *Charger) MaxAmps() int           { return c.cfg.MaxAmps }
func (c *Charger) VoltsPerPhase() float64 { return c.cfg.Volts * float64(c.cfg.Phases) }

// Amps returns the current setpoint.
func (c *Charger) Amps() (int, error) {
	v, err := readOptional(c.e, c.cfg.AmpsEntity)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// SetAmps clamps amps to the configured range and sends it.
func (c *Charger) SetAmps(ctx context.Context, amps int) error {
	if amps < c.cfg.MinAmps {
		amps = c.cfg.MinAmps
	}
	if amps > c.cfg.MaxAmps {
		amps = c.cfg.MaxAmps
	}
	return c.invoke(ctx, "set_amps", map[string]any{"amps": amps})
}

func (c *Charger) Start(ctx context.Context) error { return c.invoke(ctx, "start", nil) }
func (c *Charger) Stop(ctx context.Context) error  { return c.invoke(ctx, "stop", nil) }

func (c *Charger) invoke(ctx context.Context, cmd string, params map[string]any) error {
	if err := c.e.InvokeCommand(ctx, c.cfg.CommandEntity, cmd, params); err != nil {
		return fmt.Errorf("charger %s %s: %w", c.cfg.ID, cmd, err)
	}
	return nil
}

// Status maps the status entity to a Status.
func (c *Charger) Status() (Status, error) {
	s, err := c.e.ReadState(c.cfg.StatusEntity)
	if err != nil {
		return "", err
	}
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusDisconnected, StatusConnected, StatusCharging, StatusCompleted:
		return st, nil
	case "":
		return "", ErrUnavailable
	default:
		return "", fmt.Errorf("charger %s status %q: %w", c.cfg.ID, s, ErrUnavailable)
	}
}

// ConnectedCar reads the car entity if one is configured.
func (c *Charger) ConnectedCar() (string, error) {
	if c.cfg.CarEntity == "" {
		return "", ErrUnavailable
	}
	return c.e.ReadState(c.cfg.CarEntity)
}

// EntityHeater implements Heater over an EntityLayer.
type EntityHeater struct {
	cfg HeaterConfig
	e   EntityLayer
}

// NewHeater returns an entity-backed heater.
func NewHeater(cfg HeaterConfig, e EntityLayer) *EntityHeater {
	cfg.SetDefaults()
	return &EntityHeater{cfg: cfg, e: e}
}

func (h *EntityHeater) ID() string          { return h.cfg.ID }
func (h *EntityHeater) RatedWatts() float64 { return h.cfg.RatedWatts }

func (h *EntityHeater) SetMode(ctx context.Context, m Mode) error {
	if err := h.e.InvokeCommand(ctx, h.cfg.CommandEntity, "set_mode", map[string]any{"mode": string(m)}); err != nil {
		return fmt.Errorf("heater %s %s: %w", h.cfg.ID, m, err)
	}
	return nil
}

func (h *EntityHeater) Power() (float64, error)  { return readOptional(h.e, h.cfg.PowerEntity) }
func (h *EntityHeater) Energy() (float64, error) { return readOptional(h.e, h.cfg.EnergyEntity) }

// Car implements Vehicle over an EntityLayer.
type Car struct {
	cfg VehicleConfig
	e   EntityLayer
}

// NewCar returns an entity-backed vehicle.
func NewCar(cfg VehicleConfig, e EntityLayer) *Car {
	cfg.SetDefaults()
	return &Car{cfg: cfg, e: e}
}

func (c *Car) ID() string                    { return c.cfg.ID }
func (c *Car) Config() VehicleConfig         { return c.cfg }
func (c *Car) PreferredChargeLimit() float64 { return c.cfg.PreferredLimit }
func (c *Car) BatteryLevel() (float64, error) {
	return c.e.ReadSensor(c.cfg.SocEntity)
}

// ChargeLimit returns the configured limit, or 100 when the car has no
// limit entity.
func (c *Car) ChargeLimit() (float64, error) {
	if c.cfg.LimitEntity == "" {
		return 100, nil
	}
	return c.e.ReadSensor(c.cfg.LimitEntity)
}

func (c *Car) Wake(ctx context.Context) error {
	if err := c.e.InvokeCommand(ctx, c.cfg.CommandEntity, "wake", nil); err != nil {
		return fmt.Errorf("wake %s: %w", c.cfg.ID, err)
	}
	return nil
}

// SetChargeLimit wakes the car then sends the new limit.
func (c *Car) SetChargeLimit(ctx context.Context, pct float64) error {
	if c.cfg.LimitEntity == "" {
		return fmt.Errorf("vehicle %s has no charge limit: %w", c.cfg.ID, ErrUnavailable)
	}
	if err := c.Wake(ctx); err != nil {
		return err
	}
	if err := c.e.InvokeCommand(ctx, c.cfg.CommandEntity, "set_charge_limit", map[string]any{"limit": pct}); err != nil {
		return fmt.Errorf("charge limit %s: %w", c.cfg.ID, err)
	}
	return nil
}

// KWhNeeded returns the energy between the battery level and the limit.
func (c *Car) KWhNeeded() (float64, error) {
	soc, err := c.BatteryLevel()
	if err != nil {
		return 0, err
	}
	limit, err := c.ChargeLimit()
	if err != nil {
		return 0, err
	}
	if soc >= limit {
		return 0, nil
	}
	return (limit - soc) / 100 * c.cfg.BatteryKWh, nil
}

// HouseMeter implements Meter over an EntityLayer.
type HouseMeter struct {
	cfg MeterConfig
	e   EntityLayer
}

// NewMeter returns an entity-backed meter.
func NewMeter(cfg MeterConfig, e EntityLayer) *HouseMeter {
	return &HouseMeter{cfg: cfg, e: e}
}

func (m *HouseMeter) Consumption() (float64, error) { return m.e.ReadSensor(m.cfg.ConsumptionEntity) }

// Production returns zero when no production entity is configured.
func (m *HouseMeter) Production() (float64, error) {
	if m.cfg.ProductionEntity == "" {
		return 0, nil
	}
	return m.e.ReadSensor(m.cfg.ProductionEntity)
}

func (m *HouseMeter) AccumulatedHour() (float64, error) {
	v, err := m.e.ReadSensor(m.cfg.AccumulatedEntity)
	if err != nil {
		return 0, err
	}
	return v * 1000, nil
}

func (m *HouseMeter) OutsideTemperature() (float64, error) {
	return readOptional(m.e, m.cfg.TemperatureEntity)
}

func (m *HouseMeter) RecoverAccumulated(ctx context.Context) error {
	id := m.cfg.RecoveryEntity
	if id == "" {
		id = m.cfg.AccumulatedEntity
	}
	if err := m.e.InvokeCommand(ctx, id, "reset", nil); err != nil {
		return fmt.Errorf("recover %s: %w", m.cfg.AccumulatedEntity, err)
	}
	return nil
}

var (
	_ ChargingPort = (*Charger)(nil)
	_ Heater       = (*EntityHeater)(nil)
	_ Vehicle      = (*Car)(nil)
	_ Meter        = (*HouseMeter)(nil)
)
