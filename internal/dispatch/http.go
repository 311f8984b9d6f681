package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mr1hm/offline-alert-relay/internal/models"
)

// HTTPChannel posts records as JSON to a notification endpoint.
type HTTPChannel struct {
	channel    models.Channel
	url        string
	httpClient *http.Client
}

func NewSMSChannel(url string, client *http.Client) *HTTPChannel {
	return newHTTPChannel(models.ChannelSMS, url, client)
}

func NewEmailChannel(url string, client *http.Client) *HTTPChannel {
	return newHTTPChannel(models.ChannelEmail, url, client)
}

// NewIncidentLogChannel writes to the incident database. Any 2xx counts as the
// acknowledgment; the body is ignored.
func NewIncidentLogChannel(url string, client *http.Client) *HTTPChannel {
	return newHTTPChannel(models.ChannelIncidentLog, url, client)
}

func newHTTPChannel(ch models.Channel, url string, client *http.Client) *HTTPChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPChannel{channel: ch, url: url, httpClient: client}
}

func (c *HTTPChannel) Channel() models.Channel {
	return c.channel
}

func (c *HTTPChannel) Send(ctx context.Context, rec models.EmergencyRecord) error {
	var payload any
	if c.channel == models.ChannelIncidentLog {
		payload = newIncidentRequest(rec)
	} else {
		payload = newNotifyRequest(rec)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", c.channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewTransportError(string(c.channel), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.NewTransportError(string(c.channel), fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	if c.channel == models.ChannelIncidentLog {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var out notifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.NewTransportError(string(c.channel), fmt.Errorf("decode response: %w", err))
	}
	if out.Status != "success" {
		return models.NewTransportError(string(c.channel), fmt.Errorf("gateway reported %q", out.Status))
	}
	return nil
}
