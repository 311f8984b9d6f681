// Package connectivity holds the process-wide online/offline state. Other
// components read it through a *Monitor and never write it; only signal
// adapters call Set.
package connectivity

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mr1hm/offline-alert-relay/internal/metrics"
	"github.com/mr1hm/offline-alert-relay/internal/models"
)

type Monitor struct {
	state       models.ConnectivityState
	subscribers map[uint64]chan models.ConnectivityState
	nextID      atomic.Uint64
	mu          sync.RWMutex
	metrics     *metrics.Metrics
}

func NewMonitor(initial models.ConnectivityState, m *metrics.Metrics) *Monitor {
	mon := &Monitor{
		state:       initial,
		subscribers: make(map[uint64]chan models.ConnectivityState),
		metrics:     m,
	}
	mon.setGauge(initial)
	return mon
}

func (m *Monitor) State() models.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) Online() bool {
	return m.State() == models.Online
}

// Set records an observed platform state. It reports whether this was a
// transition; repeating the current state notifies nobody.
func (m *Monitor) Set(state models.ConnectivityState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state == m.state {
		return false
	}
	m.state = state
	m.setGauge(state)
	if m.metrics != nil {
		m.metrics.ConnectivityChanges.WithLabelValues(state.String()).Inc()
	}
	slog.Info("connectivity changed", "state", state.String())

	for _, ch := range m.subscribers {
		// Buffer of one, latest state wins.
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
	return true
}

// Subscription delivers state transitions until Close is called.
type Subscription struct {
	C <-chan models.ConnectivityState

	id      uint64
	monitor *Monitor
	once    sync.Once
}

func (m *Monitor) Subscribe() *Subscription {
	id := m.nextID.Add(1)
	ch := make(chan models.ConnectivityState, 1)

	m.mu.Lock()
	m.subscribers[id] = ch
	m.mu.Unlock()

	return &Subscription{C: ch, id: id, monitor: m}
}

// Close unregisters the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.monitor.unsubscribe(s.id)
	})
}

func (m *Monitor) unsubscribe(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *Monitor) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// Close closes every subscription channel so their readers exit.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
}

func (m *Monitor) setGauge(state models.ConnectivityState) {
	if m.metrics == nil {
		return
	}
	if state == models.Online {
		m.metrics.Online.Set(1)
	} else {
		m.metrics.Online.Set(0)
	}
}
