package models

import "time"

const (
	RiskLevelLow      = "Low"
	RiskLevelModerate = "Moderate"
	RiskLevelHigh     = "High"
	RiskLevelCritical = "Critical"
	RiskLevelUnknown  = "Unknown"
)

type SnapshotSource string

const (
	SourceAggregated SnapshotSource = "aggregated"
	SourceLegacy     SnapshotSource = "legacy"
	SourceOverlay    SnapshotSource = "overlay"
)

// RiskSnapshot is the last known risk data for a district. It is always replaced
// as a whole so metrics from different fetches never mix.
type RiskSnapshot struct {
	District  string             `json:"district"`
	Score     float64            `json:"score"`
	Level     string             `json:"level"`
	Factors   []string           `json:"factors,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Source    SnapshotSource     `json:"source"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// LevelForScore maps a 0-10 risk score onto the dashboard severity labels.
func LevelForScore(score float64) string {
	switch {
	case score >= 8:
		return RiskLevelCritical
	case score >= 6:
		return RiskLevelHigh
	case score >= 4:
		return RiskLevelModerate
	default:
		return RiskLevelLow
	}
}
