package config

// NotifyConfig selects how notifications are delivered.
type NotifyConfig struct {
	// Transport is "mqtt" or "log".
	Transport string `json:"transport"`
	// Recipients receive schedule notifications.
	Recipients []string `json:"recipients"`
	// Schedule enables notifications when a charging window changes.
	Schedule bool `json:"schedule"`
}

// SetDefaults applies sane defaults.
func (c *NotifyConfig) SetDefaults() {
	if c.Transport == "" {
		c.Transport = "mqtt"
	}
}
