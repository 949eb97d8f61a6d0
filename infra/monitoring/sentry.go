// Package monitoring implements the error tracker on top of Sentry.
package monitoring

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/wattbudget/config"
	coremon "github.com/kilianp07/wattbudget/core/monitoring"
)

const defaultRelease = "wattbudget"

// NewSentryMonitor returns a Sentry backed monitor, or a no-op one when no
// DSN is configured. Every event carries the site name as a tag.
func NewSentryMonitor(cfg config.SentryConfig, site string) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	release := cfg.Release
	if release == "" {
		release = defaultRelease
	}
	return newSentryMonitor(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          release,
		TracesSampleRate: cfg.TracesSampleRate,
		AttachStacktrace: true,
	}, site)
}

func newSentryMonitor(opts sentry.ClientOptions, site string) (*sentryMonitor, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	scope := sentry.NewScope()
	if site != "" {
		scope.SetTag("site", site)
	}
	return &sentryMonitor{hub: sentry.NewHub(client, scope)}, nil
}

// sentryMonitor owns its hub so the global sentry state is left alone.
type sentryMonitor struct {
	hub *sentry.Hub
}

func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		s.hub.CaptureException(err)
	})
}

func (s *sentryMonitor) CapturePanic(v any, tags map[string]string) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetLevel(sentry.LevelFatal)
		s.hub.Recover(v)
	})
}

func (s *sentryMonitor) Flush(timeout time.Duration) { s.hub.Flush(timeout) }
