// Package mqtt bridges the engine to a smart-home entity layer over MQTT.
// Entity states arrive as retained messages, commands are published with a
// correlation id and confirmed on an acknowledgment topic.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/wattbudget/core/device"
	corelogger "github.com/kilianp07/wattbudget/core/logger"
	"github.com/kilianp07/wattbudget/core/monitoring"
	"github.com/kilianp07/wattbudget/infra/logger"
)

var (
	// ErrAckTimeout is returned when a command is not acknowledged in time.
	ErrAckTimeout = errors.New("command acknowledgment timeout")
	// ErrCommandRejected is returned when the device reports a failure.
	ErrCommandRejected = errors.New("command rejected")
)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

type state struct {
	value string
	at    time.Time
}

type watcher struct {
	id uint64
	fn func(string)
}

type ack struct {
	CommandID string `json:"command_id"`
	Error     string `json:"error,omitempty"`
}

// EntityClient implements device.EntityLayer on top of Paho.
type EntityClient struct {
	cfg Config
	cli pahoClient
	log corelogger.Logger
	now func() time.Time

	mu       sync.Mutex
	states   map[string]state
	watchers map[string][]watcher
	nextID   uint64
	acks     map[string]chan ack
}

var _ device.EntityLayer = (*EntityClient)(nil)

// NewEntityClient connects to the broker and subscribes to the state and
// acknowledgment topics.
func NewEntityClient(cfg Config) (*EntityClient, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	c := &EntityClient{
		cfg:      cfg,
		log:      logger.New("mqtt"),
		now:      time.Now,
		states:   make(map[string]state),
		watchers: make(map[string][]watcher),
		acks:     make(map[string]chan ack),
	}
	opts.OnConnect = func(pc paho.Client) {
		c.log.Infof("MQTT connected to %s", cfg.Broker)
		c.subscribe(pc)
		pc.Publish(cfg.StatusTopic, 1, true, "online")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(paho.Client, *paho.ClientOptions) {
		c.log.Warnf("reconnecting to MQTT broker")
	}
	cli := newMQTTClient(opts)
	c.cli = cli
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return c, nil
}

func (c *EntityClient) subscribe(pc pahoClient) {
	subs := map[string]paho.MessageHandler{
		c.cfg.StatePrefix + "/#": c.onState,
		c.cfg.AckTopic:           c.onAck,
	}
	for topic, h := range subs {
		if token := pc.Subscribe(topic, c.cfg.qos("state"), h); token.Wait() && token.Error() != nil {
			c.log.Errorf("subscribe %s: %v", topic, token.Error())
		}
	}
}

func (c *EntityClient) onState(_ paho.Client, msg paho.Message) {
	entity := strings.TrimPrefix(msg.Topic(), c.cfg.StatePrefix+"/")
	if entity == "" || entity == msg.Topic() {
		return
	}
	value := parseState(msg.Payload())
	c.mu.Lock()
	c.states[entity] = state{value: value, at: c.now()}
	ws := append([]watcher(nil), c.watchers[entity]...)
	c.mu.Unlock()
	for _, w := range ws {
		w.fn(value)
	}
}

// parseState accepts a bare value or a JSON object with a "state" field.
func parseState(payload []byte) string {
	raw := strings.TrimSpace(string(payload))
	if strings.HasPrefix(raw, "{") {
		var obj struct {
			State json.RawMessage `json:"state"`
		}
		if err := json.Unmarshal(payload, &obj); err == nil && len(obj.State) > 0 {
			var s string
			if err := json.Unmarshal(obj.State, &s); err == nil {
				return s
			}
			return string(obj.State)
		}
	}
	return raw
}

func (c *EntityClient) onAck(_ paho.Client, msg paho.Message) {
	var a ack
	if err := json.Unmarshal(msg.Payload(), &a); err != nil {
		c.log.Errorf("failed to decode ack: %v", err)
		return
	}
	c.mu.Lock()
	ch, ok := c.acks[a.CommandID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- a:
	default:
	}
}

// ReadState returns the last state of entity.
func (c *EntityClient) ReadState(entity string) (string, error) {
	c.mu.Lock()
	s, ok := c.states[entity]
	c.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s has no state", device.ErrUnavailable, entity)
	}
	switch strings.ToLower(s.value) {
	case "", "unavailable", "unknown":
		return "", fmt.Errorf("%w: %s is %q", device.ErrUnavailable, entity, s.value)
	}
	return s.value, nil
}

// ReadSensor returns the last numeric state of entity.
func (c *EntityClient) ReadSensor(entity string) (float64, error) {
	v, err := c.ReadState(entity)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not numeric: %q", device.ErrUnavailable, entity, v)
	}
	return f, nil
}

// Updated returns when entity last changed.
func (c *EntityClient) Updated(entity string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[entity]
	return s.at, ok
}

// Subscribe calls fn on every state update of entity. fn runs on the MQTT
// client goroutine.
func (c *EntityClient) Subscribe(entity string, fn func(string)) (func(), error) {
	if fn == nil {
		return nil, errors.New("nil state handler")
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.watchers[entity] = append(c.watchers[entity], watcher{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		ws := c.watchers[entity]
		for i, w := range ws {
			if w.id == id {
				c.watchers[entity] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
	}, nil
}

type command struct {
	CommandID string         `json:"command_id"`
	Entity    string         `json:"entity"`
	Command   string         `json:"command"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// InvokeCommand publishes a command and waits for its acknowledgment.
func (c *EntityClient) InvokeCommand(ctx context.Context, entity, cmd string, params map[string]any) error {
	id := uuid.NewString()
	payload, err := json.Marshal(command{CommandID: id, Entity: entity, Command: cmd, Params: params, Timestamp: c.now().UnixMilli()})
	if err != nil {
		return err
	}
	ch := make(chan ack, 1)
	c.mu.Lock()
	c.acks[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, id)
		c.mu.Unlock()
	}()

	topic := c.cfg.CommandPrefix + "/" + entity
	if err := c.publish(ctx, topic, c.cfg.qos("command"), false, payload); err != nil {
		monitoring.CaptureException(err, map[string]string{"module": "mqtt", "entity": entity, "command": cmd})
		return fmt.Errorf("publish %s to %s: %w", cmd, entity, err)
	}
	c.log.Debugf("sent %s %s to %s", cmd, id, topic)

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case a := <-ch:
		if a.Error != "" {
			return fmt.Errorf("%w: %s %s: %s", ErrCommandRejected, entity, cmd, a.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s %s", ErrAckTimeout, entity, cmd)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish retries with exponential backoff.
func (c *EntityClient) publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	var err error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		token := c.cli.Publish(topic, qos, retained, payload)
		token.Wait()
		if err = token.Error(); err == nil {
			return nil
		}
		c.log.Warnf("publish attempt %d to %s failed: %v", attempt+1, topic, err)
		select {
		case <-time.After(c.cfg.Backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// PublishJSON marshals v and publishes it without waiting for a reply.
func (c *EntityClient) PublishJSON(ctx context.Context, topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.publish(ctx, topic, c.cfg.qos("event"), retained, payload)
}

// Config returns the effective configuration.
func (c *EntityClient) Config() Config { return c.cfg }

// Disconnect publishes the offline status and closes the connection.
func (c *EntityClient) Disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Publish(c.cfg.StatusTopic, 1, true, "offline").Wait()
		c.cli.Disconnect(250)
	}
}
