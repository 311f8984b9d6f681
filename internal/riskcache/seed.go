package riskcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mr1hm/offline-alert-relay/internal/models"
	"github.com/mr1hm/offline-alert-relay/internal/repository"
)

// seedRow accepts either "district" or "name" for the district label.
type seedRow struct {
	District  string  `json:"district"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Level     string  `json:"level"`
	Score     float64 `json:"score"`
}

// LoadSeedFile reads a district risk list shaped like the districts-risk
// endpoint response.
func LoadSeedFile(path string) ([]models.DistrictRisk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var rows []seedRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	out := make([]models.DistrictRisk, 0, len(rows))
	for i, r := range rows {
		name := r.District
		if name == "" {
			name = r.Name
		}
		if name == "" {
			return nil, fmt.Errorf("seed file %s: row %d has no district", path, i)
		}
		out = append(out, models.DistrictRisk{
			District:  name,
			Latitude:  r.Latitude,
			Longitude: r.Longitude,
			Level:     r.Level,
			Score:     r.Score,
		})
	}
	return out, nil
}

// SeedOverlay stores rows as the district overlay only when no overlay is
// stored yet. It reports whether it wrote.
func (c *Cache) SeedOverlay(ctx context.Context, rows []models.DistrictRisk) (bool, error) {
	now := c.clock.Now().UTC()
	entries := make([]OverlayEntry, len(rows))
	for i, d := range rows {
		entries[i] = OverlayEntry{DistrictRisk: d, FetchedAt: now}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return false, err
	}

	var wrote bool
	err = c.kv.Update(ctx, repository.KeyDistrictOverlay, func(current []byte) ([]byte, error) {
		wrote = len(bytes.TrimSpace(current)) == 0
		if !wrote {
			return current, nil
		}
		return data, nil
	})
	if err != nil {
		return false, err
	}
	if wrote {
		slog.Info("district overlay seeded", "districts", len(entries))
	}
	return wrote, nil
}
