// Package events fans execution progress out to subscribers. Each
// subscription is scoped to one execution and torn down when that
// execution finalizes; there is no process-wide connection registry.
package events

import (
	"log/slog"
	"sync"

	"github.com/fluxwire-io/fluxwire/internal/domain"
	"github.com/google/uuid"
)

type Manager struct {
	logger *slog.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[string]map[string]chan domain.Event // executionID -> subID -> channel
	closed bool
}

func NewManager(buffer int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Manager{
		logger: logger.With("component", "event-manager"),
		buffer: buffer,
		subs:   make(map[string]map[string]chan domain.Event),
	}
}

// Publish hands an event to every subscriber of the execution. Delivery
// is best effort: a subscriber whose buffer is full loses the event
// rather than stalling the engine.
func (m *Manager) Publish(executionID string, event domain.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}
	for subID, ch := range m.subs[executionID] {
		select {
		case ch <- event:
		default:
			m.logger.Debug("subscriber buffer full, event dropped",
				"execution_id", executionID,
				"subscriber_id", subID,
				"event", event.EventKind())
		}
	}
}

// Subscribe registers a new listener for one execution. The returned
// cancel function is idempotent and safe to call after CloseExecution.
func (m *Manager) Subscribe(executionID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, m.buffer)
	subID := uuid.NewString()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if m.subs[executionID] == nil {
		m.subs[executionID] = make(map[string]chan domain.Event)
	}
	m.subs[executionID][subID] = ch
	m.mu.Unlock()

	m.logger.Debug("subscriber added", "execution_id", executionID, "subscriber_id", subID)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if chans, ok := m.subs[executionID]; ok {
				if _, live := chans[subID]; live {
					delete(chans, subID)
					close(ch)
					if len(chans) == 0 {
						delete(m.subs, executionID)
					}
				}
			}
		})
	}
	return ch, cancel
}

// CloseExecution drops every subscriber of a finalized execution,
// closing their channels so range loops terminate.
func (m *Manager) CloseExecution(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subs[executionID] {
		close(ch)
	}
	delete(m.subs, executionID)
}

// Close tears down every subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for executionID, chans := range m.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(m.subs, executionID)
	}
}
