package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Config defines the broker connection and the topic layout of the entity
// bridge.
type Config struct {
	Broker     string          `json:"broker"`
	ClientID   string          `json:"client_id"`
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	UseTLS     bool            `json:"use_tls"`
	ClientCert string          `json:"client_cert"`
	ClientKey  string          `json:"client_key"`
	CABundle   string          `json:"ca_bundle"`
	QoS        map[string]byte `json:"qos"`

	// StatePrefix/<entity> carries the retained state of each entity.
	StatePrefix string `json:"state_prefix"`
	// CommandPrefix/<entity> receives commands for an entity.
	CommandPrefix string `json:"command_prefix"`
	AckTopic      string `json:"ack_topic"`
	NotifyTopic   string `json:"notify_topic"`
	EventPrefix   string `json:"event_prefix"`
	StatusTopic   string `json:"status_topic"`

	AckTimeout time.Duration `json:"ack_timeout"`
	MaxRetries int           `json:"max_retries"`
	Backoff    time.Duration `json:"backoff"`

	TLSConfig *tls.Config `json:"-"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "wattbudget"
	}
	if c.StatePrefix == "" {
		c.StatePrefix = "wattbudget/state"
	}
	if c.CommandPrefix == "" {
		c.CommandPrefix = "wattbudget/command"
	}
	if c.AckTopic == "" {
		c.AckTopic = "wattbudget/ack"
	}
	if c.NotifyTopic == "" {
		c.NotifyTopic = "wattbudget/notify"
	}
	if c.EventPrefix == "" {
		c.EventPrefix = "wattbudget/events"
	}
	if c.StatusTopic == "" {
		c.StatusTopic = "wattbudget/status"
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
}

// Validate checks the configuration can be used to connect.
func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.New("mqtt: broker is required")
	}
	return nil
}

func (c Config) qos(kind string) byte {
	if q, ok := c.QoS[kind]; ok {
		return q
	}
	return 1
}

// NewClientOptions builds paho client options from the config. The status
// topic doubles as last will, so subscribers see "offline" when the
// engine drops off.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.StatusTopic != "" {
		opts.SetWill(cfg.StatusTopic, "offline", 1, true)
	}
	return opts, nil
}

// LoadTLSConfig loads the certificates named in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
