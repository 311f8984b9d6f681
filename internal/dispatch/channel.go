package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/mr1hm/offline-alert-relay/internal/models"
)

// Sender delivers one record over one channel. Any returned error counts as a
// transport error for that channel.
type Sender interface {
	Channel() models.Channel
	Send(ctx context.Context, rec models.EmergencyRecord) error
}

const (
	AlertStatusLive  = "live"
	AlertStatusRetry = "retry"
)

type notifyRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	District  string  `json:"district"`
	Message   string  `json:"message"`
}

type notifyResponse struct {
	Status string `json:"status"`
}

type incidentRequest struct {
	ID          string  `json:"id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	District    string  `json:"district"`
	RiskLevel   string  `json:"riskLevel"`
	AlertStatus string  `json:"alertStatus"`
	CreatedAt   string  `json:"createdAt"`
}

func newNotifyRequest(rec models.EmergencyRecord) notifyRequest {
	return notifyRequest{
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
		District:  rec.District,
		Message:   alertMessage(rec),
	}
}

func newIncidentRequest(rec models.EmergencyRecord) incidentRequest {
	status := AlertStatusLive
	if rec.Status == models.StatusInFlight || rec.Attempts > 0 {
		status = AlertStatusRetry
	}
	return incidentRequest{
		ID:          rec.ID,
		Latitude:    rec.Latitude,
		Longitude:   rec.Longitude,
		District:    rec.District,
		RiskLevel:   rec.RiskLevel,
		AlertStatus: status,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
	}
}

func alertMessage(rec models.EmergencyRecord) string {
	return fmt.Sprintf("EMERGENCY ALERT\nPerson in danger in %s.\nLocation: %.4f, %.4f\nRisk level: %s",
		rec.District, rec.Latitude, rec.Longitude, rec.RiskLevel)
}
