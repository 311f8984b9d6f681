// Package emergency is the user-facing trigger: it turns a coordinate into an
// emergency record and either sends it now or queues it for the reconciler.
// Transport failures never reach the caller; they end up as a queued record.
package emergency

import (
	"context"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/offline-alert-relay/internal/metrics"
	"github.com/mr1hm/offline-alert-relay/internal/models"
	"github.com/mr1hm/offline-alert-relay/internal/notify"
)

type Resolver interface {
	Resolve(lat, lon float64) models.District
}

type SnapshotReader interface {
	Get(ctx context.Context, district string) (models.RiskSnapshot, bool, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, rec models.EmergencyRecord) (models.EmergencyRecord, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, rec models.EmergencyRecord) (models.DispatchResult, error)
}

type ConnectivityReader interface {
	Online() bool
}

type Notifier interface {
	Publish(n notify.Notification)
}

const (
	StatusSent   = "sent"
	StatusQueued = "queued"
)

type Outcome struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Record  models.EmergencyRecord `json:"record"`
	Result  *models.DispatchResult `json:"result,omitempty"`
}

type Service struct {
	resolver Resolver
	cache    SnapshotReader
	queue    Enqueuer
	fanout   Dispatcher
	conn     ConnectivityReader
	notifier Notifier
	clock    clockwork.Clock
	metrics  *metrics.Metrics
}

func NewService(resolver Resolver, cache SnapshotReader, queue Enqueuer, fanout Dispatcher, conn ConnectivityReader, notifier Notifier, clock clockwork.Clock, m *metrics.Metrics) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		resolver: resolver,
		cache:    cache,
		queue:    queue,
		fanout:   fanout,
		conn:     conn,
		notifier: notifier,
		clock:    clock,
		metrics:  m,
	}
}

// Trigger records and dispatches one emergency. The caller's cancellation is
// dropped so an alert is sent or queued even if the requester goes away.
func (s *Service) Trigger(ctx context.Context, lat, lon float64) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	if err := validate(lat, lon); err != nil {
		return Outcome{}, err
	}

	d := s.resolver.Resolve(lat, lon)
	rec := models.EmergencyRecord{
		ID:        uuid.NewString(),
		Latitude:  lat,
		Longitude: lon,
		District:  d.Name,
		RiskLevel: s.riskLevel(ctx, d.Name),
		CreatedAt: s.clock.Now().UTC(),
	}

	if !s.conn.Online() {
		return s.enqueue(ctx, rec, nil)
	}

	result, err := s.fanout.Dispatch(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}
	if result.Queued {
		stored := rec
		stored.Status = models.StatusPending
		s.publishQueued(stored)
		return queuedOutcome(stored, &result), nil
	}
	// Every channel failed but the monitor flipped offline meanwhile, so the
	// fallback did not queue it.
	if result.AllFailed() {
		return s.enqueue(ctx, rec, &result)
	}

	slog.Info("emergency alert sent", "record_id", rec.ID, "district", rec.District)
	return Outcome{
		Status:  StatusSent,
		Message: "Emergency alert sent. Authorities have been notified.",
		Record:  rec,
		Result:  &result,
	}, nil
}

func (s *Service) enqueue(ctx context.Context, rec models.EmergencyRecord, result *models.DispatchResult) (Outcome, error) {
	stored, err := s.queue.Enqueue(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}
	if s.metrics != nil {
		s.metrics.QueueEnqueued.WithLabelValues("offline").Inc()
	}
	slog.Info("emergency alert queued", "record_id", stored.ID, "district", stored.District)
	s.publishQueued(stored)
	return queuedOutcome(stored, result), nil
}

func (s *Service) publishQueued(rec models.EmergencyRecord) {
	if s.notifier != nil {
		s.notifier.Publish(notify.QueuedForRetry(rec.ID, rec.District))
	}
}

func queuedOutcome(rec models.EmergencyRecord, result *models.DispatchResult) Outcome {
	return Outcome{
		Status:  StatusQueued,
		Message: "Emergency alert queued for retry. It will be sent when the connection returns.",
		Record:  rec,
		Result:  result,
	}
}

func (s *Service) riskLevel(ctx context.Context, district string) string {
	snap, ok, err := s.cache.Get(ctx, district)
	if err != nil {
		slog.Warn("risk snapshot lookup failed", "district", district, "error", err)
		return models.RiskLevelUnknown
	}
	if !ok || snap.Level == "" {
		return models.RiskLevelUnknown
	}
	return snap.Level
}

func validate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return models.Validationf("coordinates are required")
	}
	if lat < -90 || lat > 90 {
		return models.Validationf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return models.Validationf("longitude %v out of range", lon)
	}
	return nil
}
