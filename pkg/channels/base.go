package channels

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/tinyland-inc/carmine/pkg/bridge"
	"github.com/tinyland-inc/carmine/pkg/bus"
	"github.com/tinyland-inc/carmine/pkg/logger"
)

// Channel is one chat platform connection. Start returns once the
// platform is connected; ingestion then runs until Stop.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// BaseChannelOption is a functional option for configuring a BaseChannel.
type BaseChannelOption func(*BaseChannel)

// WithWorkspaceID sets the workspace stamped on events whose native
// payload carries none.
func WithWorkspaceID(id string) BaseChannelOption {
	return func(c *BaseChannel) { c.workspaceID = id }
}

// BaseChannel holds what both platforms share: the queue ingested events
// are published on and the running flag.
type BaseChannel struct {
	name        string
	out         *bus.Queue
	running     atomic.Bool
	workspaceID string
}

func NewBaseChannel(name string, out *bus.Queue, opts ...BaseChannelOption) *BaseChannel {
	bc := &BaseChannel{name: name, out: out}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

func (c *BaseChannel) Name() string {
	return c.name
}

// workspaceFor prefers the guild or team id of the native payload.
func (c *BaseChannel) workspaceFor(native string) string {
	if native != "" {
		return native
	}
	return c.workspaceID
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) SetRunning(running bool) {
	c.running.Store(running)
}

// Publish hands a translated event to the other platform's dispatcher.
// Errors are logged; ingestion never fails because the bus is full or
// closed.
func (c *BaseChannel) Publish(ctx context.Context, ev bridge.Event) {
	if err := c.out.Publish(ctx, ev); err != nil {
		level := logger.ErrorCF
		if errors.Is(err, bus.ErrBusClosed) {
			level = logger.WarnCF
		}
		level(c.name, "Failed to publish event", map[string]any{
			"event_id":   ev.ID,
			"event_type": ev.Type.Kind(),
			"channel_id": ev.ChannelID,
			"error":      err.Error(),
		})
		return
	}
	logger.DebugCF(c.name, "Event published", map[string]any{
		"event_id":   ev.ID,
		"event_type": ev.Type.Kind(),
		"channel_id": ev.ChannelID,
		"queue":      c.out.Name(),
	})
}

// reportTranslation logs an anomaly in a native event.
func (c *BaseChannel) reportTranslation(err error, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["error"] = err.Error()
	logger.WarnCF(c.name, "Dropping malformed event", fields)
}
