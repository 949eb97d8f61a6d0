package mqtt

import (
	"context"

	"github.com/kilianp07/wattbudget/core/events"
	"github.com/kilianp07/wattbudget/internal/eventbus"
)

// StartEventPublisher mirrors bus events to EventPrefix/<kind> until ctx is
// cancelled. The latest decision is retained so dashboards see it on
// connect.
func StartEventPublisher(ctx context.Context, bus *eventbus.Bus[events.Event], c *EntityClient) {
	sub := bus.Subscribe(32)
	prefix := c.Config().EventPrefix
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				var body any
				switch {
				case ev.Decision != nil:
					body = ev.Decision.Decision
				case ev.Schedule != nil:
					body = ev.Schedule
				case ev.Link != nil:
					body = ev.Link
				default:
					continue
				}
				if err := c.PublishJSON(ctx, prefix+"/"+ev.Kind(), ev.Decision != nil, body); err != nil {
					c.log.Warnf("publish %s event: %v", ev.Kind(), err)
				}
			}
		}
	}()
}
