package bus

import "fmt"

// DefaultCapacity bounds each direction's queue when no capacity is set.
const DefaultCapacity = 1024

// OverflowPolicy decides what Publish does when a queue is full.
type OverflowPolicy string

const (
	// OverflowBlock makes the producer wait for room.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDropOldest discards the oldest queued event to make room.
	OverflowDropOldest OverflowPolicy = "drop-oldest"
)

// ParseOverflowPolicy maps a config value to a policy. Empty means block.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case "", OverflowBlock:
		return OverflowBlock, nil
	case OverflowDropOldest:
		return OverflowDropOldest, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q (want %q or %q)", s, OverflowBlock, OverflowDropOldest)
}

// Option configures both queues of an EventBus.
type Option func(*options)

type options struct {
	capacity int
	overflow OverflowPolicy
}

// WithCapacity sets the per-direction queue size. Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

func WithOverflow(p OverflowPolicy) Option {
	return func(o *options) {
		if p != "" {
			o.overflow = p
		}
	}
}
