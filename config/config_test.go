package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `site:
  hourly_cap_kwh: 10
  buffer_kwh: 0.5
  timezone: UTC
balancer:
  deep_deficit_after: 4m
  force_stop: true
scheduler:
  start_before_price: 0.2
learner:
  recovery_window_minutes: 45
mqtt:
  broker: tcp://localhost:1883
prices:
  url: https://prices.example/api
  auth:
    client_id: id
    client_secret: secret
    token_url: https://prices.example/token
persistence:
  type: sqlite
  conf:
    path: /var/lib/wattbudget/state.db
    keep: 3
metrics:
  sinks:
    - type: prometheus
  listen: ":9100"
devices:
  meter:
    consumption_entity: sensor.power
    accumulated_entity: sensor.energy_hour
  chargers:
    - id: easee
      status_entity: sensor.easee_status
  heaters:
    - id: bathroom
      rated_watts: 1200
  vehicles:
    - id: tesla
      battery_kwh: 75
      soc_entity: sensor.tesla_soc
      charger: easee
`

func write(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(write(t, "config.yaml", sample))
	require.NoError(t, err)

	assert.Equal(t, 10000.0, cfg.Balancer.HourlyCapWh)
	assert.Equal(t, 500.0, cfg.Balancer.BufferWh)
	assert.Equal(t, 4*time.Minute, cfg.Balancer.DeepDeficitAfter)
	assert.Equal(t, 45*time.Minute, cfg.Balancer.HeaterRecoveryWindow)
	assert.True(t, cfg.Balancer.ForceStop)
	assert.Equal(t, 9, cfg.Scheduler.BlindWindowStartHour)
	assert.Equal(t, []int{1, 2}, cfg.Scheduler.FinishPriorities)
	assert.Equal(t, "sqlite", cfg.Persistence.Type)
	assert.Equal(t, "/var/lib/wattbudget/state.db", cfg.Persistence.Conf["path"])
	assert.Equal(t, "prometheus", cfg.Metrics.Sinks[0].Type)
	assert.Equal(t, "id", cfg.Prices.Auth.ClientID)
	assert.Equal(t, "wattbudget/state", cfg.MQTT.StatePrefix)
	assert.Equal(t, 16, cfg.Devices.Chargers[0].MaxAmps)
	assert.Equal(t, 90.0, cfg.Devices.Vehicles[0].PreferredLimit)
	assert.Equal(t, time.Minute, cfg.Site.TickInterval)
	assert.Equal(t, time.UTC, cfg.Site.Location())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WB_SITE__HOURLY_CAP_KWH", "12.5")
	t.Setenv("WB_MQTT__BROKER", "tcp://broker:1883")
	cfg, err := Load(write(t, "config.yaml", sample))
	require.NoError(t, err)
	assert.Equal(t, 12500.0, cfg.Balancer.HourlyCapWh)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
}

func TestLoadJSON(t *testing.T) {
	cfg, err := Load(write(t, "config.json", `{
  "site": {"hourly_cap_kwh": 5, "timezone": "UTC"},
  "mqtt": {"broker": "tcp://localhost:1883"},
  "prices": {"file": "prices.yaml"},
  "devices": {"meter": {"consumption_entity": "a", "accumulated_entity": "b"}}
}`))
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Persistence.Type)
	assert.InDelta(t, 410.0, cfg.Balancer.BufferWh, 1e-9)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(write(t, "config.toml", "x = 1"))
	assert.ErrorContains(t, err, "unsupported")

	_, err = Load(write(t, "config.yaml", "site:\n  hourly_cap_kwh: 0\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "hourly_cap_kwh")
	assert.ErrorContains(t, err, "broker")

	dup := sample + `    - id: easee
      battery_kwh: 40
      soc_entity: sensor.x
`
	_, err = Load(write(t, "config.yaml", dup))
	assert.ErrorContains(t, err, `"easee" already used`)
}
