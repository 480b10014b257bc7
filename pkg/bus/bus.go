package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/tinyland-inc/carmine/pkg/bridge"
	"github.com/tinyland-inc/carmine/pkg/logger"
)

// ErrBusClosed is returned when publishing to a closed queue.
var ErrBusClosed = errors.New("event bus closed")

// EventBus connects ingest to dispatch with one queue per direction.
// There is no ordering between the two queues.
type EventBus struct {
	toDiscord *Queue
	toSlack   *Queue
}

func NewEventBus(opts ...Option) *EventBus {
	o := options{capacity: DefaultCapacity, overflow: OverflowBlock}
	for _, opt := range opts {
		opt(&o)
	}
	return &EventBus{
		toDiscord: NewQueue("to_discord", o.capacity, o.overflow),
		toSlack:   NewQueue("to_slack", o.capacity, o.overflow),
	}
}

// ToDiscord carries events ingested from Slack.
func (b *EventBus) ToDiscord() *Queue { return b.toDiscord }

// ToSlack carries events ingested from Discord.
func (b *EventBus) ToSlack() *Queue { return b.toSlack }

func (b *EventBus) Close() {
	b.toDiscord.Close()
	b.toSlack.Close()
}

// Queue is a bounded FIFO with many producers and a single consumer.
type Queue struct {
	name     string
	events   chan bridge.Event
	done     chan struct{}
	closed   atomic.Bool
	overflow OverflowPolicy
	dropped  atomic.Uint64
}

func NewQueue(name string, capacity int, overflow OverflowPolicy) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if overflow == "" {
		overflow = OverflowBlock
	}
	return &Queue{
		name:     name,
		events:   make(chan bridge.Event, capacity),
		done:     make(chan struct{}),
		overflow: overflow,
	}
}

func (q *Queue) Name() string { return q.name }

// Publish enqueues ev. It fails only when the queue is closed or, under
// OverflowBlock, when ctx ends before room frees up.
func (q *Queue) Publish(ctx context.Context, ev bridge.Event) error {
	if q.closed.Load() {
		return ErrBusClosed
	}
	if q.overflow == OverflowDropOldest {
		return q.publishDropOldest(ev)
	}
	select {
	case q.events <- ev:
		return nil
	case <-q.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) publishDropOldest(ev bridge.Event) error {
	for {
		select {
		case <-q.done:
			return ErrBusClosed
		default:
		}

		select {
		case q.events <- ev:
			return nil
		default:
		}

		select {
		case old := <-q.events:
			n := q.dropped.Add(1)
			fields := map[string]any{
				"queue":         q.name,
				"event_id":      old.ID,
				"dropped_total": n,
			}
			if old.Type != nil {
				fields["event_type"] = old.Type.Kind()
			}
			logger.WarnCF("bus", "Queue full, dropped oldest event", fields)
		default:
		}
	}
}

// Consume blocks for the next event. After Close it keeps returning queued
// events until the queue is empty, then reports false.
func (q *Queue) Consume(ctx context.Context) (bridge.Event, bool) {
	select {
	case ev := <-q.events:
		return ev, true
	case <-ctx.Done():
		return bridge.Event{}, false
	case <-q.done:
		select {
		case ev := <-q.events:
			return ev, true
		default:
			return bridge.Event{}, false
		}
	}
}

// Close marks the consumer as gone. Safe to call more than once.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
}

func (q *Queue) Len() int { return len(q.events) }

func (q *Queue) Cap() int { return cap(q.events) }

// Dropped counts events discarded under OverflowDropOldest.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
