package mqtt

import (
	"context"
	"time"

	"github.com/kilianp07/wattbudget/core/notify"
)

// Notifier publishes notifications for a home automation to deliver.
type Notifier struct {
	client *EntityClient
	topic  string
}

var _ notify.Sink = (*Notifier)(nil)

// NewNotifier publishes to the client's notify topic.
func NewNotifier(c *EntityClient) *Notifier {
	return &Notifier{client: c, topic: c.Config().NotifyTopic}
}

type notification struct {
	notify.Message
	Time time.Time `json:"time"`
}

// Notify publishes m as JSON.
func (n *Notifier) Notify(ctx context.Context, m notify.Message) error {
	return n.client.PublishJSON(ctx, n.topic, false, notification{Message: m, Time: n.client.now()})
}
