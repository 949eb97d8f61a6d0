package metrics

import "github.com/kilianp07/wattbudget/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `json:"listen"`
}
