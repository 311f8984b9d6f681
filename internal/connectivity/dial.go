package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/offline-alert-relay/internal/models"
)

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// DialWatcher turns TCP reachability of one address into connectivity signals.
// It is the stand-in for an OS network-change event on hosts that have none.
type DialWatcher struct {
	monitor  *Monitor
	address  string
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	dial     DialFunc
}

func NewDialWatcher(monitor *Monitor, address string, interval, timeout time.Duration, clock clockwork.Clock) *DialWatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	d := &net.Dialer{}
	return &DialWatcher{
		monitor:  monitor,
		address:  address,
		interval: interval,
		timeout:  timeout,
		clock:    clock,
		dial:     d.DialContext,
	}
}

// Run probes immediately and then on every interval until ctx is done.
func (w *DialWatcher) Run(ctx context.Context) {
	slog.Info("starting connectivity watcher", "address", w.address, "interval", w.interval)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("connectivity watcher shutting down")
			return
		case <-ticker.Chan():
			w.probe(ctx)
		}
	}
}

func (w *DialWatcher) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	conn, err := w.dial(ctx, "tcp", w.address)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return
		}
		slog.Debug("connectivity probe failed", "address", w.address, "error", err)
		w.monitor.Set(models.Offline)
		return
	}
	conn.Close()
	w.monitor.Set(models.Online)
}
