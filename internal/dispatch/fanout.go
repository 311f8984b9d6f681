// Package dispatch delivers one emergency record over every configured channel
// at once and reports the outcome per channel.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/offline-alert-relay/internal/metrics"
	"github.com/mr1hm/offline-alert-relay/internal/models"
)

const DefaultTimeout = 10 * time.Second

type Enqueuer interface {
	Enqueue(ctx context.Context, rec models.EmergencyRecord) (models.EmergencyRecord, error)
}

type ConnectivityReader interface {
	Online() bool
}

type Fanout struct {
	senders []Sender
	timeout time.Duration
	queue   Enqueuer
	conn    ConnectivityReader
	metrics *metrics.Metrics
}

func NewFanout(senders []Sender, timeout time.Duration, queue Enqueuer, conn ConnectivityReader, m *metrics.Metrics) *Fanout {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fanout{
		senders: senders,
		timeout: timeout,
		queue:   queue,
		conn:    conn,
		metrics: m,
	}
}

// Send issues every channel concurrently, each under its own timeout, and waits
// for all of them. A failing channel never affects the others.
func (f *Fanout) Send(ctx context.Context, rec models.EmergencyRecord) models.DispatchResult {
	result := models.DispatchResult{
		Outcomes: make(map[models.Channel]models.Outcome, len(f.senders)),
	}
	var mu sync.Mutex

	var g errgroup.Group
	for _, s := range f.senders {
		g.Go(func() error {
			start := time.Now()
			sctx, cancel := context.WithTimeout(ctx, f.timeout)
			err := s.Send(sctx, rec)
			cancel()

			ch := s.Channel()
			outcome := models.OutcomeSuccess
			if err != nil {
				outcome = models.OutcomeTransportError
				slog.Warn("channel send failed", "channel", ch, "record_id", rec.ID, "district", rec.District, "error", err)
			}
			if f.metrics != nil {
				f.metrics.DispatchOutcomes.WithLabelValues(string(ch), string(outcome)).Inc()
				f.metrics.DispatchDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())
			}

			mu.Lock()
			defer mu.Unlock()
			result.Outcomes[ch] = outcome
			if err != nil {
				if result.Errors == nil {
					result.Errors = make(map[models.Channel]string)
				}
				result.Errors[ch] = err.Error()
			}
			return nil
		})
	}
	g.Wait()

	return result
}

// Dispatch is Send for a live emergency. When every channel failed although the
// monitor still reports online, the record is queued for the reconciler.
func (f *Fanout) Dispatch(ctx context.Context, rec models.EmergencyRecord) (models.DispatchResult, error) {
	result := f.Send(ctx, rec)
	if !result.AllFailed() || !f.conn.Online() {
		return result, nil
	}

	if _, err := f.queue.Enqueue(context.WithoutCancel(ctx), rec); err != nil {
		return result, err
	}
	result.Queued = true
	if f.metrics != nil {
		f.metrics.QueueEnqueued.WithLabelValues("fallback").Inc()
	}
	slog.Warn("all channels failed while online, queued for retry", "record_id", rec.ID, "district", rec.District)
	return result, nil
}

func (f *Fanout) Channels() []models.Channel {
	channels := make([]models.Channel, 0, len(f.senders))
	for _, s := range f.senders {
		channels = append(channels, s.Channel())
	}
	return channels
}
