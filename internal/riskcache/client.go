package riskcache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mr1hm/offline-alert-relay/internal/models"
)

// Client talks to the risk-scoring backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchRisk fetches live risk data for a coordinate and normalizes whichever
// response shape the backend returns. District and FetchedAt are left for the
// caller to stamp.
func (c *Client) FetchRisk(ctx context.Context, lat, lon float64) (models.RiskSnapshot, error) {
	params := url.Values{
		"lat": {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon": {strconv.FormatFloat(lon, 'f', -1, 64)},
	}

	var raw riskResponse
	if err := c.get(ctx, c.baseURL+"/api/risk-data?"+params.Encode(), "risk fetch", &raw); err != nil {
		return models.RiskSnapshot{}, err
	}
	return normalize(raw)
}

func (c *Client) FetchDistricts(ctx context.Context) ([]models.DistrictRisk, error) {
	var districts []models.DistrictRisk
	if err := c.get(ctx, c.baseURL+"/api/kerala/districts-risk", "district list fetch", &districts); err != nil {
		return nil, err
	}
	return districts, nil
}

func (c *Client) get(ctx context.Context, fullURL, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.NotFoundf("%s: no data", op)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.NewTransportError(op, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.NewTransportError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// riskResponse covers both backend shapes: the aggregated /api/risk-data body
// and the legacy flat {risk_score, level, temp} body.
type riskResponse struct {
	RiskAssessment    *riskAssessment `json:"risk_assessment"`
	AggregatedMetrics map[string]any  `json:"aggregated_metrics"`

	RiskScore *float64 `json:"risk_score"`
	Level     string   `json:"level"`
	Temp      *float64 `json:"temp"`
}

type riskAssessment struct {
	Score   float64  `json:"score"`
	Level   string   `json:"level"`
	Factors []string `json:"factors"`
}

func normalize(raw riskResponse) (models.RiskSnapshot, error) {
	switch {
	case raw.RiskAssessment != nil:
		snap := models.RiskSnapshot{
			Score:   raw.RiskAssessment.Score,
			Level:   raw.RiskAssessment.Level,
			Factors: raw.RiskAssessment.Factors,
			Metrics: numericMetrics(raw.AggregatedMetrics),
			Source:  models.SourceAggregated,
		}
		if snap.Level == "" {
			snap.Level = models.LevelForScore(snap.Score)
		}
		return snap, nil

	case raw.RiskScore != nil:
		snap := models.RiskSnapshot{
			Score:  *raw.RiskScore,
			Level:  raw.Level,
			Source: models.SourceLegacy,
		}
		if raw.Temp != nil {
			snap.Metrics = map[string]float64{"temperature": *raw.Temp}
		}
		if snap.Level == "" {
			snap.Level = models.LevelForScore(snap.Score)
		}
		return snap, nil

	default:
		return models.RiskSnapshot{}, models.NewTransportError("risk fetch", fmt.Errorf("unrecognized response shape"))
	}
}

// Non-numeric metrics are dropped.
func numericMetrics(in map[string]any) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}
