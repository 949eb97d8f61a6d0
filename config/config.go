package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/wattbudget/core/balancer"
	"github.com/kilianp07/wattbudget/core/factory"
	"github.com/kilianp07/wattbudget/core/learner"
	"github.com/kilianp07/wattbudget/core/metrics"
	"github.com/kilianp07/wattbudget/core/scheduler"
	"github.com/kilianp07/wattbudget/core/store"
	"github.com/kilianp07/wattbudget/infra/mqtt"
	"github.com/kilianp07/wattbudget/infra/prices"
)

// EnvPrefix marks environment overrides. WB_SITE__HOURLY_CAP_KWH sets
// site.hourly_cap_kwh.
const EnvPrefix = "WB_"

// Config is the complete service configuration.
type Config struct {
	Site        SiteConfig           `json:"site"`
	Balancer    balancer.Config      `json:"balancer"`
	Scheduler   scheduler.Config     `json:"scheduler"`
	Learner     learner.Config       `json:"learner"`
	MQTT        mqtt.Config          `json:"mqtt"`
	Prices      prices.Config        `json:"prices"`
	Persistence factory.ModuleConfig `json:"persistence"`
	Journal     store.JournalConfig  `json:"journal"`
	Metrics     metrics.Config       `json:"metrics"`
	Notify      NotifyConfig         `json:"notify"`
	Sentry      SentryConfig         `json:"sentry"`
	Devices     DevicesConfig        `json:"devices"`
}

// Load reads path (yaml or json by extension) and applies WB_ environment
// overrides, defaults and validation.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// SetDefaults fills every section and derives the balancer cap from the
// site.
func (c *Config) SetDefaults() {
	c.Site.SetDefaults()
	if c.Balancer.HourlyCapWh == 0 {
		c.Balancer.HourlyCapWh = c.Site.HourlyCapKWh * 1000
	}
	if c.Balancer.BufferWh == 0 {
		c.Balancer.BufferWh = c.Site.BufferKWh * 1000
	}
	c.Learner.SetDefaults()
	if c.Balancer.HeaterRecoveryWindow == 0 {
		c.Balancer.HeaterRecoveryWindow = c.Learner.RecoveryWindow()
	}
	c.Balancer.SetDefaults()
	if c.Scheduler.BlindWindowStartHour == 0 && c.Scheduler.BlindWindowEndHour == 0 {
		c.Scheduler.BlindWindowStartHour = c.Site.BlindWindowStartHour
		c.Scheduler.BlindWindowEndHour = c.Site.BlindWindowEndHour
	}
	c.Scheduler.SetDefaults()
	c.MQTT.SetDefaults()
	c.Prices.SetDefaults()
	if c.Persistence.Type == "" {
		c.Persistence.Type = "json"
	}
	c.Journal.SetDefaults()
	c.Notify.SetDefaults()
	c.Devices.SetDefaults()
}

// Validate checks every section with invariants.
func (c Config) Validate() error {
	return errors.Join(
		c.Site.Validate(),
		c.Balancer.Validate(),
		c.MQTT.Validate(),
		c.Prices.Validate(),
		c.Devices.Validate(),
	)
}
