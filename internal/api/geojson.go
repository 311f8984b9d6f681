package api

import (
	"strings"

	"github.com/mr1hm/offline-alert-relay/internal/models"
	"github.com/mr1hm/offline-alert-relay/internal/riskcache"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// toGeoJSON renders district centroids, joined with the overlay risk level
// where the overlay has a row for the district.
func toGeoJSON(districts []models.District, overlay []riskcache.OverlayEntry) FeatureCollection {
	byName := make(map[string]riskcache.OverlayEntry, len(overlay))
	for _, row := range overlay {
		byName[strings.ToLower(row.District)] = row
	}

	features := make([]Feature, 0, len(districts))
	for _, d := range districts {
		props := map[string]any{
			"name":  d.Name,
			"hilly": d.Hilly,
			"level": models.RiskLevelUnknown,
		}
		if row, ok := byName[strings.ToLower(d.Name)]; ok {
			level := row.Level
			if level == "" {
				level = models.LevelForScore(row.Score)
			}
			props["level"] = level
			props["score"] = row.Score
			props["fetched_at"] = row.FetchedAt
		}

		features = append(features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{d.Longitude, d.Latitude},
			},
			Properties: props,
		})
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
