// Package relay manages the per-channel identity a platform relays
// messages under, such as a Discord webhook.
package relay

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tinyland-inc/carmine/pkg/logger"
)

// DefaultName is the display name of every relay identity.
const DefaultName = "carmine"

// Backend looks up and creates identities on a platform.
type Backend[T any] interface {
	// Find returns the existing identity named name in channelID, if any.
	Find(ctx context.Context, channelID, name string) (T, bool, error)
	Create(ctx context.Context, channelID, name string) (T, error)
}

// Manager caches one identity per channel. Concurrent first use of a
// channel results in at most one Create call.
type Manager[T any] struct {
	name    string
	backend Backend[T]

	mu    sync.RWMutex
	cache map[string]T
	group singleflight.Group
}

func NewManager[T any](name string, backend Backend[T]) *Manager[T] {
	if name == "" {
		name = DefaultName
	}
	return &Manager[T]{
		name:    name,
		backend: backend,
		cache:   make(map[string]T),
	}
}

// Get returns the identity for channelID, creating it on first use.
func (m *Manager[T]) Get(ctx context.Context, channelID string) (T, error) {
	m.mu.RLock()
	id, ok := m.cache[channelID]
	m.mu.RUnlock()
	if ok {
		return id, nil
	}

	v, err, _ := m.group.Do(channelID, func() (any, error) {
		m.mu.RLock()
		id, ok := m.cache[channelID]
		m.mu.RUnlock()
		if ok {
			return id, nil
		}

		id, found, err := m.backend.Find(ctx, channelID, m.name)
		if err != nil {
			return id, fmt.Errorf("find relay identity in %s: %w", channelID, err)
		}
		if !found {
			id, err = m.backend.Create(ctx, channelID, m.name)
			if err != nil {
				return id, fmt.Errorf("create relay identity in %s: %w", channelID, err)
			}
			logger.InfoCF("relay", "Created relay identity", map[string]any{
				"channel_id": channelID,
				"name":       m.name,
			})
		}

		m.mu.Lock()
		m.cache[channelID] = id
		m.mu.Unlock()
		return id, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Forget evicts the cached identity, e.g. after the platform reports it
// no longer exists. The next Get looks it up again.
func (m *Manager[T]) Forget(channelID string) {
	m.mu.Lock()
	delete(m.cache, channelID)
	m.mu.Unlock()
}

// Len reports how many channels have a cached identity.
func (m *Manager[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}
