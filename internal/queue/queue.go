// Package queue is the durable emergency queue. The whole collection lives as one
// JSON list under a single key of the KV store, so every mutation is a single
// atomic read-modify-write of that key.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/offline-alert-relay/internal/metrics"
	"github.com/mr1hm/offline-alert-relay/internal/models"
	"github.com/mr1hm/offline-alert-relay/internal/repository"
)

const DefaultRetryCeiling = 5

type Stats struct {
	Pending         int `json:"pending"`
	InFlight        int `json:"in_flight"`
	FailedPermanent int `json:"failed_permanent"`
}

type Store struct {
	kv      repository.KVStore
	ceiling int
	clock   clockwork.Clock
	metrics *metrics.Metrics

	// Single writer. The KV update is already atomic; the mutex keeps Redis
	// WATCH retries from piling up between our own callers.
	mu sync.Mutex
}

func NewStore(kv repository.KVStore, ceiling int, clock clockwork.Clock, m *metrics.Metrics) *Store {
	if ceiling <= 0 {
		ceiling = DefaultRetryCeiling
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		kv:      kv,
		ceiling: ceiling,
		clock:   clock,
		metrics: m,
	}
}

func (s *Store) RetryCeiling() int {
	return s.ceiling
}

// Enqueue persists rec as pending before returning. A missing ID or CreatedAt is
// filled in. Enqueueing an ID that is already present returns the stored record.
func (s *Store) Enqueue(ctx context.Context, rec models.EmergencyRecord) (models.EmergencyRecord, error) {
	if rec.District == "" {
		return models.EmergencyRecord{}, models.Validationf("district is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now().UTC()
	}
	if rec.RiskLevel == "" {
		rec.RiskLevel = models.RiskLevelUnknown
	}
	rec.Status = models.StatusPending
	rec.Attempts = 0
	rec.LastError = ""
	rec.LastAttemptAt = nil

	stored := rec
	err := s.mutate(ctx, func(records []models.EmergencyRecord) ([]models.EmergencyRecord, error) {
		if i := indexOf(records, rec.ID); i >= 0 {
			stored = records[i]
			return records, nil
		}
		return append(records, rec), nil
	})
	if err != nil {
		return models.EmergencyRecord{}, fmt.Errorf("enqueue %s: %w", rec.ID, err)
	}
	return stored, nil
}

// ListPending returns retry-eligible records, earliest CreatedAt first. Records
// with equal timestamps keep insertion order.
func (s *Store) ListPending(ctx context.Context) ([]models.EmergencyRecord, error) {
	records, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]models.EmergencyRecord, 0, len(records))
	for _, r := range records {
		if r.Status.Retryable() {
			pending = append(pending, r)
		}
	}
	slices.SortStableFunc(pending, func(a, b models.EmergencyRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return pending, nil
}

// ListFailed is the audit view of records that reached the retry ceiling.
func (s *Store) ListFailed(ctx context.Context) ([]models.EmergencyRecord, error) {
	records, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var failed []models.EmergencyRecord
	for _, r := range records {
		if r.Status == models.StatusFailedPermanent {
			failed = append(failed, r)
		}
	}
	return failed, nil
}

func (s *Store) Get(ctx context.Context, id string) (models.EmergencyRecord, error) {
	records, err := s.load(ctx)
	if err != nil {
		return models.EmergencyRecord{}, err
	}
	if i := indexOf(records, id); i >= 0 {
		return records[i], nil
	}
	return models.EmergencyRecord{}, models.NotFoundf("record %s", id)
}

func (s *Store) MarkInFlight(ctx context.Context, id string) error {
	return s.mutate(ctx, func(records []models.EmergencyRecord) ([]models.EmergencyRecord, error) {
		i := indexOf(records, id)
		if i < 0 {
			return nil, models.NotFoundf("record %s", id)
		}
		if records[i].Status == models.StatusFailedPermanent {
			return nil, fmt.Errorf("record %s: %w", id, models.ErrPermanentDelivery)
		}
		now := s.clock.Now().UTC()
		records[i].Status = models.StatusInFlight
		records[i].LastAttemptAt = &now
		return records, nil
	})
}

// MarkDelivered removes the record. Calling it for an absent record is a no-op.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	return s.mutate(ctx, func(records []models.EmergencyRecord) ([]models.EmergencyRecord, error) {
		i := indexOf(records, id)
		if i < 0 {
			return records, nil
		}
		return slices.Delete(records, i, i+1), nil
	})
}

// MarkFailed records a failed attempt and returns the record's new status. The
// attempt that reaches the retry ceiling moves the record to failed-permanent.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) (models.RecordStatus, error) {
	var status models.RecordStatus
	err := s.mutate(ctx, func(records []models.EmergencyRecord) ([]models.EmergencyRecord, error) {
		i := indexOf(records, id)
		if i < 0 {
			return nil, models.NotFoundf("record %s", id)
		}
		now := s.clock.Now().UTC()
		r := &records[i]
		r.Attempts++
		r.LastAttemptAt = &now
		if cause != nil {
			r.LastError = cause.Error()
		}
		if r.Attempts >= s.ceiling {
			r.Status = models.StatusFailedPermanent
		} else {
			r.Status = models.StatusPending
		}
		status = r.Status
		return records, nil
	})
	if err != nil {
		return "", err
	}
	if status == models.StatusFailedPermanent && s.metrics != nil {
		s.metrics.QueueFailed.Inc()
	}
	return status, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	records, err := s.load(ctx)
	if err != nil {
		return Stats{}, err
	}
	return countStats(records), nil
}

func (s *Store) load(ctx context.Context) ([]models.EmergencyRecord, error) {
	raw, err := s.kv.Get(ctx, repository.KeyEmergencyQueue)
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func (s *Store) mutate(ctx context.Context, fn func([]models.EmergencyRecord) ([]models.EmergencyRecord, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var depth int
	err := s.kv.Update(ctx, repository.KeyEmergencyQueue, func(current []byte) ([]byte, error) {
		records, err := decode(current)
		if err != nil {
			return nil, err
		}
		records, err = fn(records)
		if err != nil {
			return nil, err
		}
		st := countStats(records)
		depth = st.Pending + st.InFlight
		return json.Marshal(records)
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(depth))
	}
	return nil
}

func decode(raw []byte) ([]models.EmergencyRecord, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var records []models.EmergencyRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", repository.KeyEmergencyQueue, err)
	}
	return records, nil
}

func indexOf(records []models.EmergencyRecord, id string) int {
	return slices.IndexFunc(records, func(r models.EmergencyRecord) bool {
		return r.ID == id
	})
}

func countStats(records []models.EmergencyRecord) Stats {
	var st Stats
	for _, r := range records {
		switch r.Status {
		case models.StatusPending:
			st.Pending++
		case models.StatusInFlight:
			st.InFlight++
		case models.StatusFailedPermanent:
			st.FailedPermanent++
		}
	}
	return st
}
