// Package eventbus provides typed publish/subscribe helpers over a NATS
// connection. The orchestrator uses it to announce pipeline lifecycle events
// (heartbeats, run start/stop, publication) without coupling the core stages
// to whatever is listening: a status reporter, a metrics scraper, or
// nothing at all.
package eventbus

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// Bus wraps a NATS connection for typed JSON publish/subscribe.
type Bus struct {
	nc *nats.Conn
}

// New wraps an already-connected NATS client.
func New(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

// Publish serializes v as JSON and publishes to subject. Fire-and-forget:
// callers never block on a subscriber being present.
func Publish[T any](b *Bus, subject string, v T) error {
	if b == nil || b.nc == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Malformed messages are dropped rather than crashing the subscriber.
func Subscribe[T any](b *Bus, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		handler(context.Background(), v)
	})
}

// Close drains and closes the underlying connection.
func (b *Bus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}
