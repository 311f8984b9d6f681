// Package reconcile drains the emergency queue once the relay is online again.
//
// A pass snapshots the pending records at its start and walks them in FIFO
// order. Passes never overlap. A trigger that arrives while one is draining is
// held and starts exactly one follow-up pass.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/offline-alert-relay/internal/metrics"
	"github.com/mr1hm/offline-alert-relay/internal/models"
	"github.com/mr1hm/offline-alert-relay/internal/notify"
)

const DefaultInterval = 60 * time.Second

type Queue interface {
	ListPending(ctx context.Context) ([]models.EmergencyRecord, error)
	MarkInFlight(ctx context.Context, id string) error
	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) (models.RecordStatus, error)
}

type Sender interface {
	Send(ctx context.Context, rec models.EmergencyRecord) models.DispatchResult
}

type ConnectivityReader interface {
	Online() bool
}

type Notifier interface {
	Publish(n notify.Notification)
}

const (
	SkipOffline = "offline"
	SkipBusy    = "pass already running"
)

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Attempted int    `json:"attempted"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Permanent int    `json:"failed_permanent"`
	Skipped   string `json:"skipped,omitempty"`
}

type Reconciler struct {
	queue    Queue
	sender   Sender
	conn     ConnectivityReader
	notifier Notifier
	interval time.Duration
	clock    clockwork.Clock
	metrics  *metrics.Metrics

	draining sync.Mutex
	trigger  chan struct{}
}

func New(q Queue, s Sender, conn ConnectivityReader, n Notifier, interval time.Duration, clock clockwork.Clock, m *metrics.Metrics) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reconciler{
		queue:    q,
		sender:   s,
		conn:     conn,
		notifier: n,
		interval: interval,
		clock:    clock,
		metrics:  m,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger asks Run for a pass. Triggers that pile up while a pass is draining
// collapse into one.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run serves triggers and the safety-net ticker until ctx is done. A pass that
// has started finishes even if ctx is cancelled; Run returns after it.
func (r *Reconciler) Run(ctx context.Context) {
	slog.Info("starting reconciler", "interval", r.interval)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler shutting down")
			return
		case <-ticker.Chan():
			r.RunPass(ctx)
		case <-r.trigger:
			r.RunPass(ctx)
		}
	}
}

// RunPass drains the current pending snapshot. If another pass is draining it
// does nothing except schedule a follow-up. Once started, a pass ignores
// cancellation of ctx.
func (r *Reconciler) RunPass(ctx context.Context) (PassResult, error) {
	ctx = context.WithoutCancel(ctx)
	if !r.draining.TryLock() {
		r.Trigger()
		return PassResult{Skipped: SkipBusy}, nil
	}
	defer r.draining.Unlock()

	// Re-checked here so a pass never races a flip back to offline.
	if !r.conn.Online() {
		return PassResult{Skipped: SkipOffline}, nil
	}

	start := r.clock.Now()
	res, err := r.drain(ctx)
	if r.metrics != nil {
		r.metrics.ReconcilePasses.Inc()
		r.metrics.ReconcileDelivered.Add(float64(res.Delivered))
		r.metrics.ReconcileFailed.Add(float64(res.Failed))
		r.metrics.ReconcileDuration.Observe(r.clock.Since(start).Seconds())
	}
	if err != nil {
		slog.Error("reconciliation pass failed", "error", err)
		return res, err
	}

	if res.Attempted > 0 {
		slog.Info("reconciliation pass complete",
			"attempted", res.Attempted, "delivered", res.Delivered, "failed", res.Failed, "failed_permanent", res.Permanent)
	}
	if res.Delivered > 0 && r.notifier != nil {
		r.notifier.Publish(notify.SyncConfirmation(res.Delivered))
	}
	return res, nil
}

func (r *Reconciler) drain(ctx context.Context) (PassResult, error) {
	var res PassResult

	pending, err := r.queue.ListPending(ctx)
	if err != nil {
		return res, err
	}

	for _, rec := range pending {
		if err := r.queue.MarkInFlight(ctx, rec.ID); err != nil {
			// Gone or already permanent; nothing to retry.
			if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrPermanentDelivery) {
				continue
			}
			return res, err
		}
		rec.Status = models.StatusInFlight
		res.Attempted++

		result := r.sender.Send(ctx, rec)
		if result.AnySuccess() {
			if err := r.queue.MarkDelivered(ctx, rec.ID); err != nil {
				return res, err
			}
			res.Delivered++
			slog.Info("queued alert delivered", "record_id", rec.ID, "district", rec.District)
			continue
		}

		status, err := r.queue.MarkFailed(ctx, rec.ID, result.Cause())
		if err != nil {
			return res, err
		}
		res.Failed++
		if status == models.StatusFailedPermanent {
			res.Permanent++
			slog.Error("queued alert failed permanently", "record_id", rec.ID, "district", rec.District, "attempts", rec.Attempts+1)
		}
	}
	return res, nil
}
