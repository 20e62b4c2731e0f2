package realtime

import (
	"context"

	v1 "github.com/FrederickSamanga/sirkupPOS-sub001/shared/contracts/realtime/v1"
)

// Fanout delivers an envelope to the members of a room, skipping the connection id except.
//
// LocalFanout serves a single process. A shared backplane between server instances
// would implement the same interface; event handling code only talks to Fanout.
type Fanout interface {
	Publish(ctx context.Context, room string, env v1.Envelope, except string) error
}

// LocalFanout publishes into the rooms of an in-process Hub.
type LocalFanout struct {
	hub     *Hub
	metrics *Metrics
}

// NewLocalFanout constructs a Fanout over hub.
func NewLocalFanout(hub *Hub, metrics *Metrics) *LocalFanout {
	return &LocalFanout{hub: hub, metrics: metrics}
}

// Publish implements Fanout. Publishing to an empty room is not an error.
func (f *LocalFanout) Publish(ctx context.Context, room string, env v1.Envelope, except string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := f.hub.Room(room)
	if r == nil {
		return nil
	}
	delivered, dropped := r.Broadcast(env, except)
	f.metrics.fanout(env.Type, delivered, dropped)
	return nil
}
