// Package dispatch delivers bridge events to their target platform.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinyland-inc/carmine/pkg/bridge"
	"github.com/tinyland-inc/carmine/pkg/bus"
	"github.com/tinyland-inc/carmine/pkg/logger"
	"github.com/tinyland-inc/carmine/pkg/store"
	"github.com/tinyland-inc/carmine/pkg/utils"
)

// Deliverer performs relay actions on the target platform.
type Deliverer interface {
	// Send posts content under author and returns the new message id.
	Send(ctx context.Context, channelID string, author bridge.Author, content string) (string, error)
	Edit(ctx context.Context, ref store.MessageRef, content string) error
	Delete(ctx context.Context, ref store.MessageRef) error
}

// Dispatcher consumes one queue strictly in order. A failed event is
// logged and dropped; it never stops the loop.
type Dispatcher struct {
	name        string
	queue       *bus.Queue
	dir         store.Direction
	deliverer   Deliverer
	workspaceID string
}

type Option func(*Dispatcher)

// WithWorkspace drops events whose source workspace is not id.
func WithWorkspace(id string) Option {
	return func(d *Dispatcher) { d.workspaceID = id }
}

func New(name string, queue *bus.Queue, dir store.Direction, deliverer Deliverer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		name:      name,
		queue:     queue,
		dir:       dir,
		deliverer: deliverer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Name() string { return d.name }

// Run processes events until ctx is cancelled or the queue is closed and
// drained. The queue is closed when Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.queue.Close()

	logger.InfoCF("dispatch", "Dispatcher started", map[string]any{
		"dispatcher": d.name,
		"queue":      d.queue.Name(),
	})
	for {
		ev, ok := d.queue.Consume(ctx)
		if !ok {
			logger.InfoCF("dispatch", "Dispatcher stopped", map[string]any{"dispatcher": d.name})
			return nil
		}
		if err := d.Process(ctx, ev); err != nil {
			fields := map[string]any{
				"dispatcher": d.name,
				"event_id":   ev.ID,
				"channel_id": ev.ChannelID,
				"error":      err.Error(),
			}
			if ev.Type != nil {
				fields["event_type"] = ev.Type.Kind()
			}
			logger.ErrorCF("dispatch", "Failed to relay event", fields)
		}
	}
}

// Process handles a single event.
func (d *Dispatcher) Process(ctx context.Context, ev bridge.Event) error {
	if d.workspaceID != "" && ev.WorkspaceID != d.workspaceID {
		logger.DebugCF("dispatch", "Dropping event from foreign workspace", map[string]any{
			"dispatcher": d.name,
			"event_id":   ev.ID,
			"workspace":  ev.WorkspaceID,
		})
		return nil
	}
	return ev.Dispatch(ctx, d)
}

func (d *Dispatcher) HandleMessageSent(ctx context.Context, ev bridge.Event, m bridge.MessageSent) error {
	target, ok, err := d.dir.TargetChannel(ctx, ev.ChannelID)
	if err != nil {
		return fmt.Errorf("resolve target channel: %w", err)
	}
	if !ok {
		logger.DebugCF("dispatch", "Channel is not linked, dropping message", map[string]any{
			"dispatcher": d.name,
			"channel_id": ev.ChannelID,
		})
		return nil
	}

	delivered, err := d.deliverer.Send(ctx, target, ev.Author, m.Content)
	if err != nil {
		return fmt.Errorf("send to %s: %w", target, err)
	}

	source := store.MessageRef{ChannelID: ev.ChannelID, MessageID: m.MessageID}
	dest := store.MessageRef{ChannelID: target, MessageID: delivered}
	if err := d.dir.Record(ctx, source, dest); err != nil {
		return fmt.Errorf("record mapping %s -> %s: %w", source, dest, err)
	}
	logger.DebugCF("dispatch", "Message relayed", map[string]any{
		"dispatcher": d.name,
		"source":     source.String(),
		"delivered":  dest.String(),
		"author":     ev.Author.Name,
		"preview":    utils.Truncate(m.Content, 80),
	})
	return nil
}

func (d *Dispatcher) HandleMessageEdited(ctx context.Context, ev bridge.Event, m bridge.MessageEdited) error {
	ref, ok, err := d.dir.TargetMessage(ctx, m.MessageID)
	if err != nil {
		return fmt.Errorf("resolve edited message: %w", err)
	}
	if !ok {
		logger.DebugCF("dispatch", "Edited message was never relayed", map[string]any{
			"dispatcher": d.name,
			"message_id": m.MessageID,
		})
		return nil
	}
	if err := d.deliverer.Edit(ctx, ref, m.NewContent); err != nil {
		return fmt.Errorf("edit %s: %w", ref, err)
	}
	return nil
}

// HandleMessageDeleted removes the relayed copy and forgets the mapping.
// The mapping is forgotten even when the platform delete fails.
func (d *Dispatcher) HandleMessageDeleted(ctx context.Context, ev bridge.Event, m bridge.MessageDeleted) error {
	ref, ok, err := d.dir.TargetMessage(ctx, m.MessageID)
	if err != nil {
		return fmt.Errorf("resolve deleted message: %w", err)
	}
	if !ok {
		return nil
	}

	var deleteErr error
	if err := d.deliverer.Delete(ctx, ref); err != nil {
		deleteErr = fmt.Errorf("delete %s: %w", ref, err)
	}
	var forgetErr error
	if err := d.dir.Forget(ctx, m.MessageID); err != nil {
		forgetErr = fmt.Errorf("forget mapping for %s: %w", m.MessageID, err)
	}
	return errors.Join(deleteErr, forgetErr)
}

func (d *Dispatcher) HandleMessagePinned(_ context.Context, ev bridge.Event, m bridge.MessagePinned) error {
	logger.InfoCF("dispatch", "Pin events are not relayed", map[string]any{
		"dispatcher": d.name,
		"message_id": m.MessageID,
	})
	return nil
}

func (d *Dispatcher) HandleMessageUnpinned(_ context.Context, ev bridge.Event, m bridge.MessageUnpinned) error {
	logger.InfoCF("dispatch", "Unpin events are not relayed", map[string]any{
		"dispatcher": d.name,
		"message_id": m.MessageID,
	})
	return nil
}

var _ bridge.Handler = (*Dispatcher)(nil)
