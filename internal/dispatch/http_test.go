package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/offline-alert-relay/internal/models"
)

func TestHTTPChannel_SMSSuccess(t *testing.T) {
	var got notifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	c := NewSMSChannel(srv.URL, srv.Client())
	require.NoError(t, c.Send(context.Background(), rec))

	assert.Equal(t, models.ChannelSMS, c.Channel())
	assert.Equal(t, "Thiruvananthapuram", got.District)
	assert.Equal(t, 8.5, got.Latitude)
	assert.Contains(t, got.Message, "EMERGENCY ALERT")
}

func TestHTTPChannel_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error"}`))
	}))
	defer srv.Close()

	err := NewEmailChannel(srv.URL, srv.Client()).Send(context.Background(), rec)
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestHTTPChannel_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewSMSChannel(srv.URL, srv.Client()).Send(context.Background(), rec)
	require.ErrorIs(t, err, models.ErrTransport)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPChannel_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewSMSChannel(url, nil).Send(context.Background(), rec)
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestHTTPChannel_IncidentLogPayload(t *testing.T) {
	var got incidentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	queued := rec
	queued.RiskLevel = models.RiskLevelHigh
	queued.Status = models.StatusInFlight

	c := NewIncidentLogChannel(srv.URL, srv.Client())
	require.NoError(t, c.Send(context.Background(), queued))

	assert.Equal(t, "rec-1", got.ID)
	assert.Equal(t, models.RiskLevelHigh, got.RiskLevel)
	assert.Equal(t, AlertStatusRetry, got.AlertStatus)
}
