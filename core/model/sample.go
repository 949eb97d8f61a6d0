package model

// ConsumptionSample is a running average of observed power draw for one
// temperature bucket. For heater recovery tables Consumption holds the
// recovery energy in kWh instead of watts.
type ConsumptionSample struct {
	Consumption       float64 `json:"consumption"`
	HeaterConsumption float64 `json:"heater_consumption,omitempty"`
	HasHeater         bool    `json:"has_heater,omitempty"`
	Counter           int     `json:"counter"`
}
