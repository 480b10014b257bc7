package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tinyland-inc/carmine/pkg/logger"
)

// Manager starts and stops the platform channels together.
type Manager struct {
	mu       sync.Mutex
	channels []Channel
}

func NewManager(chs ...Channel) *Manager {
	return &Manager{channels: chs}
}

// StartAll starts every channel in registration order. If one fails, the
// ones already started are stopped again.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	chs := append([]Channel(nil), m.channels...)
	m.mu.Unlock()

	for i, ch := range chs {
		logger.InfoCF("channels", "Starting channel", map[string]any{"channel": ch.Name()})
		if err := ch.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = chs[j].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", ch.Name(), err)
		}
	}
	return nil
}

// StopAll stops every running channel in reverse order and joins errors.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	chs := append([]Channel(nil), m.channels...)
	m.mu.Unlock()

	var errs []error
	for i := len(chs) - 1; i >= 0; i-- {
		ch := chs[i]
		if !ch.IsRunning() {
			continue
		}
		if err := ch.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Status reports whether each channel is running, keyed by name.
func (m *Manager) Status() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.channels))
	for _, ch := range m.channels {
		out[ch.Name()] = ch.IsRunning()
	}
	return out
}
