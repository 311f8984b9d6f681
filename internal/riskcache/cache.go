// Package riskcache serves risk data for the dashboard. Live fetches go through
// while online; otherwise, or when a fetch fails, the last good snapshot for the
// district is returned and marked stale.
package riskcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/offline-alert-relay/internal/metrics"
	"github.com/mr1hm/offline-alert-relay/internal/models"
	"github.com/mr1hm/offline-alert-relay/internal/repository"
	"github.com/mr1hm/offline-alert-relay/internal/worker"
)

type Fetcher interface {
	FetchRisk(ctx context.Context, lat, lon float64) (models.RiskSnapshot, error)
	FetchDistricts(ctx context.Context) ([]models.DistrictRisk, error)
}

type Resolver interface {
	Resolve(lat, lon float64) models.District
	Lookup(name string) (models.District, error)
}

type ConnectivityReader interface {
	Online() bool
}

type ViewStatus string

const (
	StatusLive        ViewStatus = "live"
	StatusStale       ViewStatus = "stale"
	StatusOverlay     ViewStatus = "overlay"
	StatusUnavailable ViewStatus = "unavailable"
)

// View is what the dashboard gets back for one coordinate. Snapshot is nil only
// when Status is unavailable.
type View struct {
	District   string               `json:"district"`
	Status     ViewStatus           `json:"status"`
	Stale      bool                 `json:"stale"`
	AgeSeconds float64              `json:"age_seconds,omitempty"`
	Snapshot   *models.RiskSnapshot `json:"snapshot,omitempty"`
}

func (v View) Unavailable() bool {
	return v.Status == StatusUnavailable
}

// DashboardSnapshot is the last live view served, kept for a cold start offline.
type DashboardSnapshot struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	View      View      `json:"view"`
	SavedAt   time.Time `json:"saved_at"`
}

type Cache struct {
	kv       repository.KVStore
	resolver Resolver
	fetcher  Fetcher
	conn     ConnectivityReader
	clock    clockwork.Clock
	workers  int
	metrics  *metrics.Metrics
}

func New(kv repository.KVStore, resolver Resolver, fetcher Fetcher, conn ConnectivityReader, workers int, clock clockwork.Clock, m *metrics.Metrics) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if workers < 1 {
		workers = 1
	}
	return &Cache{
		kv:       kv,
		resolver: resolver,
		fetcher:  fetcher,
		conn:     conn,
		clock:    clock,
		workers:  workers,
		metrics:  m,
	}
}

func (c *Cache) Get(ctx context.Context, district string) (models.RiskSnapshot, bool, error) {
	all, err := c.snapshots(ctx)
	if err != nil {
		return models.RiskSnapshot{}, false, err
	}
	snap, ok := all[district]
	return snap, ok, nil
}

// Put replaces the district's snapshot as a whole.
func (c *Cache) Put(ctx context.Context, district string, snap models.RiskSnapshot) error {
	snap.District = district
	snap.FetchedAt = snap.FetchedAt.UTC()

	return c.kv.Update(ctx, repository.KeyRiskSnapshots, func(current []byte) ([]byte, error) {
		all, err := decodeSnapshots(current)
		if err != nil {
			return nil, err
		}
		all[district] = snap
		return json.Marshal(all)
	})
}

// Load is the dashboard read path: live, then cached, then the district
// overlay, then unavailable.
func (c *Cache) Load(ctx context.Context, lat, lon float64) (View, error) {
	d := c.resolver.Resolve(lat, lon)

	if c.conn.Online() {
		snap, err := c.fetchAndStore(ctx, d.Name, lat, lon)
		if err == nil {
			view := View{District: d.Name, Status: StatusLive, Snapshot: &snap}
			c.saveDashboard(ctx, lat, lon, view)
			c.count(StatusLive)
			return view, nil
		}
		slog.Warn("live risk fetch failed, falling back to cache", "district", d.Name, "error", err)
	}

	snap, ok, err := c.Get(ctx, d.Name)
	if err != nil {
		return View{}, err
	}
	if ok {
		c.count(StatusStale)
		return View{
			District:   d.Name,
			Status:     StatusStale,
			Stale:      true,
			AgeSeconds: c.clock.Since(snap.FetchedAt).Seconds(),
			Snapshot:   &snap,
		}, nil
	}

	overlay, err := c.Overlay(ctx)
	if err != nil {
		return View{}, err
	}
	for _, row := range overlay {
		if row.District != d.Name {
			continue
		}
		snap := overlaySnapshot(row)
		c.count(StatusOverlay)
		return View{
			District:   d.Name,
			Status:     StatusOverlay,
			Stale:      true,
			AgeSeconds: c.clock.Since(snap.FetchedAt).Seconds(),
			Snapshot:   &snap,
		}, nil
	}

	c.count(StatusUnavailable)
	return View{District: d.Name, Status: StatusUnavailable, Stale: true}, nil
}

func (c *Cache) fetchAndStore(ctx context.Context, district string, lat, lon float64) (models.RiskSnapshot, error) {
	snap, err := c.fetcher.FetchRisk(ctx, lat, lon)
	if err != nil {
		return models.RiskSnapshot{}, err
	}
	snap.District = district
	snap.FetchedAt = c.clock.Now().UTC()
	if err := c.Put(ctx, district, snap); err != nil {
		return models.RiskSnapshot{}, fmt.Errorf("store snapshot: %w", err)
	}
	return snap, nil
}

func (c *Cache) Overlay(ctx context.Context) ([]OverlayEntry, error) {
	raw, err := c.kv.Get(ctx, repository.KeyDistrictOverlay)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []OverlayEntry
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", repository.KeyDistrictOverlay, err)
	}
	return rows, nil
}

// OverlayEntry is one row of the district list plus when it was fetched.
type OverlayEntry struct {
	models.DistrictRisk
	FetchedAt time.Time `json:"fetched_at"`
}

func overlaySnapshot(row OverlayEntry) models.RiskSnapshot {
	level := row.Level
	if level == "" {
		level = models.LevelForScore(row.Score)
	}
	return models.RiskSnapshot{
		District:  row.District,
		Score:     row.Score,
		Level:     level,
		Source:    models.SourceOverlay,
		FetchedAt: row.FetchedAt,
	}
}

func (c *Cache) Dashboard(ctx context.Context) (DashboardSnapshot, bool, error) {
	raw, err := c.kv.Get(ctx, repository.KeyDashboardSnapshot)
	if err != nil || len(raw) == 0 {
		return DashboardSnapshot{}, false, err
	}
	var d DashboardSnapshot
	if err := json.Unmarshal(raw, &d); err != nil {
		return DashboardSnapshot{}, false, fmt.Errorf("decode %s: %w", repository.KeyDashboardSnapshot, err)
	}
	return d, true, nil
}

func (c *Cache) saveDashboard(ctx context.Context, lat, lon float64, view View) {
	data, err := json.Marshal(DashboardSnapshot{
		Latitude:  lat,
		Longitude: lon,
		View:      view,
		SavedAt:   c.clock.Now().UTC(),
	})
	if err == nil {
		err = c.kv.Put(ctx, repository.KeyDashboardSnapshot, data)
	}
	if err != nil {
		slog.Warn("failed to save dashboard snapshot", "error", err)
	}
}

// RefreshResult reports what an online refresh did.
type RefreshResult struct {
	OverlayDistricts int `json:"overlay_districts"`
	Refreshed        int `json:"refreshed"`
	Failed           int `json:"failed"`
}

// Refresh reloads the district overlay and re-fetches every district that
// already has a snapshot. Failures leave the existing data in place.
func (c *Cache) Refresh(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	if !c.conn.Online() {
		return res, nil
	}

	districts, err := c.fetcher.FetchDistricts(ctx)
	if err != nil {
		slog.Warn("district list fetch failed, keeping overlay", "error", err)
	} else {
		now := c.clock.Now().UTC()
		rows := make([]OverlayEntry, len(districts))
		for i, d := range districts {
			rows[i] = OverlayEntry{DistrictRisk: d, FetchedAt: now}
		}
		data, err := json.Marshal(rows)
		if err != nil {
			return res, err
		}
		if err := c.kv.Put(ctx, repository.KeyDistrictOverlay, data); err != nil {
			return res, err
		}
		res.OverlayDistricts = len(rows)
	}

	cached, err := c.snapshots(ctx)
	if err != nil {
		return res, err
	}

	var refreshed, failed atomic.Int64
	pool := worker.NewPool("risk-refresh", c.workers, len(cached), func(ctx context.Context, name string) error {
		d, err := c.resolver.Lookup(name)
		if err != nil {
			failed.Add(1)
			return err
		}
		if _, err := c.fetchAndStore(ctx, d.Name, d.Latitude, d.Longitude); err != nil {
			failed.Add(1)
			return err
		}
		refreshed.Add(1)
		return nil
	})
	pool.Start(ctx)
	for name := range cached {
		pool.Submit(name)
	}
	pool.Stop()

	res.Refreshed = int(refreshed.Load())
	res.Failed = int(failed.Load())
	slog.Info("risk cache refreshed", "overlay_districts", res.OverlayDistricts, "refreshed", res.Refreshed, "failed", res.Failed)
	return res, nil
}

func (c *Cache) snapshots(ctx context.Context) (map[string]models.RiskSnapshot, error) {
	raw, err := c.kv.Get(ctx, repository.KeyRiskSnapshots)
	if err != nil {
		return nil, err
	}
	return decodeSnapshots(raw)
}

func decodeSnapshots(raw []byte) (map[string]models.RiskSnapshot, error) {
	all := make(map[string]models.RiskSnapshot)
	if len(raw) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode %s: %w", repository.KeyRiskSnapshots, err)
	}
	return all, nil
}

func (c *Cache) count(status ViewStatus) {
	if c.metrics != nil {
		c.metrics.RiskLookups.WithLabelValues(string(status)).Inc()
	}
}
