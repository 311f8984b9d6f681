// Package pipeline wires connectivity transitions to their reactions: the
// offline banner, reconciliation passes and cache refreshes.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mr1hm/offline-alert-relay/internal/connectivity"
	"github.com/mr1hm/offline-alert-relay/internal/models"
	"github.com/mr1hm/offline-alert-relay/internal/notify"
	"github.com/mr1hm/offline-alert-relay/internal/riskcache"
)

type Reconciler interface {
	Run(ctx context.Context)
	Trigger()
}

type Refresher interface {
	Refresh(ctx context.Context) (riskcache.RefreshResult, error)
}

type Notifier interface {
	Publish(n notify.Notification)
}

// Watcher feeds platform connectivity signals into the monitor.
type Watcher interface {
	Run(ctx context.Context)
}

type Manager struct {
	monitor    *connectivity.Monitor
	reconciler Reconciler
	cache      Refresher
	notifier   Notifier
	watcher    Watcher
	refreshing atomic.Bool
	wg         sync.WaitGroup
}

// NewManager builds the manager. watcher may be nil when connectivity is pushed
// through the API instead.
func NewManager(monitor *connectivity.Monitor, reconciler Reconciler, cache Refresher, notifier Notifier, watcher Watcher) *Manager {
	return &Manager{
		monitor:    monitor,
		reconciler: reconciler,
		cache:      cache,
		notifier:   notifier,
		watcher:    watcher,
	}
}

func (m *Manager) Start(ctx context.Context) {
	sub := m.monitor.Subscribe()

	m.wg.Add(1)
	go m.watchConnectivity(ctx, sub)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reconciler.Run(ctx)
	}()

	if m.watcher != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.watcher.Run(ctx)
		}()
	}

	// Records may be left over from before a restart.
	if m.monitor.Online() {
		m.reconciler.Trigger()
		m.refresh(ctx)
	} else {
		m.notifier.Publish(notify.DegradedMode(true))
	}
}

func (m *Manager) watchConnectivity(ctx context.Context, sub *connectivity.Subscription) {
	defer m.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-sub.C:
			if !ok {
				return
			}
			m.handleTransition(ctx, state)
		}
	}
}

func (m *Manager) handleTransition(ctx context.Context, state models.ConnectivityState) {
	if state == models.Offline {
		m.notifier.Publish(notify.DegradedMode(true))
		return
	}

	m.notifier.Publish(notify.DegradedMode(false))
	m.reconciler.Trigger()
	m.refresh(ctx)
}

// refresh runs in the background so the next transition is not held up. A
// refresh already running absorbs the request.
func (m *Manager) refresh(ctx context.Context) {
	if !m.refreshing.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.refreshing.Store(false)
		if _, err := m.cache.Refresh(ctx); err != nil {
			slog.Error("cache refresh failed", "error", err)
		}
	}()
}

func (m *Manager) Stop() {
	m.wg.Wait()
	slog.Info("pipeline manager stopped")
}
