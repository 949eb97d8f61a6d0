// Package notify defines the user notification sink.
package notify

import (
	"context"

	"github.com/kilianp07/wattbudget/core/logger"
)

// Message is a notification to one or more recipients. Options are
// actionable answers offered to the user.
type Message struct {
	Title      string   `json:"title"`
	Text       string   `json:"message"`
	Recipients []string `json:"recipients,omitempty"`
	Options    []string `json:"options,omitempty"`
}

// Sink delivers notifications.
type Sink interface {
	Notify(ctx context.Context, m Message) error
}

// NopSink drops every message.
type NopSink struct{}

func (NopSink) Notify(context.Context, Message) error { return nil }

// LogSink writes messages to a logger. It is used when no transport is
// configured.
type LogSink struct {
	Log logger.Logger
}

func (s LogSink) Notify(_ context.Context, m Message) error {
	s.Log.Infof("notification %q to %v: %s", m.Title, m.Recipients, m.Text)
	return nil
}
