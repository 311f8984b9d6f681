package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/offline-alert-relay/internal/connectivity"
	"github.com/mr1hm/offline-alert-relay/internal/district"
	"github.com/mr1hm/offline-alert-relay/internal/emergency"
	"github.com/mr1hm/offline-alert-relay/internal/metrics"
	"github.com/mr1hm/offline-alert-relay/internal/models"
	"github.com/mr1hm/offline-alert-relay/internal/notify"
	"github.com/mr1hm/offline-alert-relay/internal/queue"
	"github.com/mr1hm/offline-alert-relay/internal/reconcile"
	"github.com/mr1hm/offline-alert-relay/internal/repository"
	"github.com/mr1hm/offline-alert-relay/internal/riskcache"
	"github.com/mr1hm/offline-alert-relay/internal/safety"
)

type mockEmergency struct {
	outcome emergency.Outcome
	err     error
	lat     float64
	lon     float64
}

func (m *mockEmergency) Trigger(ctx context.Context, lat, lon float64) (emergency.Outcome, error) {
	m.lat, m.lon = lat, lon
	return m.outcome, m.err
}

type mockRisk struct {
	view      riskcache.View
	overlay   []riskcache.OverlayEntry
	dashboard *riskcache.DashboardSnapshot
	err       error
}

func (m *mockRisk) Load(ctx context.Context, lat, lon float64) (riskcache.View, error) {
	return m.view, m.err
}

func (m *mockRisk) Overlay(ctx context.Context) ([]riskcache.OverlayEntry, error) {
	return m.overlay, m.err
}

func (m *mockRisk) Dashboard(ctx context.Context) (riskcache.DashboardSnapshot, bool, error) {
	if m.dashboard == nil {
		return riskcache.DashboardSnapshot{}, false, m.err
	}
	return *m.dashboard, true, m.err
}

type mockQueue struct {
	pending []models.EmergencyRecord
	failed  []models.EmergencyRecord
	err     error
}

func (m *mockQueue) ListPending(ctx context.Context) ([]models.EmergencyRecord, error) {
	return m.pending, m.err
}

func (m *mockQueue) ListFailed(ctx context.Context) ([]models.EmergencyRecord, error) {
	return m.failed, m.err
}

func (m *mockQueue) Get(ctx context.Context, id string) (models.EmergencyRecord, error) {
	for _, r := range append(m.pending, m.failed...) {
		if r.ID == id {
			return r, nil
		}
	}
	return models.EmergencyRecord{}, models.NotFoundf("record %s", id)
}

func (m *mockQueue) RetryCeiling() int { return queue.DefaultRetryCeiling }

func (m *mockQueue) Stats(ctx context.Context) (queue.Stats, error) {
	return queue.Stats{Pending: len(m.pending), FailedPermanent: len(m.failed)}, m.err
}

type mockSync struct {
	result reconcile.PassResult
	calls  int
}

func (m *mockSync) RunPass(ctx context.Context) (reconcile.PassResult, error) {
	m.calls++
	return m.result, nil
}

type testEnv struct {
	router      *gin.Engine
	emergency   *mockEmergency
	risk        *mockRisk
	queue       *mockQueue
	sync        *mockSync
	monitor     *connectivity.Monitor
	broadcaster *notify.Broadcaster
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		emergency:   &mockEmergency{},
		risk:        &mockRisk{},
		queue:       &mockQueue{},
		sync:        &mockSync{},
		monitor:     connectivity.NewMonitor(models.Online, metrics.NewMetricsForTesting()),
		broadcaster: notify.NewBroadcaster(),
	}
	t.Cleanup(env.monitor.Close)
	t.Cleanup(env.broadcaster.Close)

	router := gin.New()
	handler := NewHandler(Deps{
		Emergency:    env.emergency,
		Risk:         env.risk,
		Districts:    district.Default(),
		Queue:        env.queue,
		Safety:       seededSafety(t),
		Sync:         env.sync,
		Connectivity: env.monitor,
		Events:       env.broadcaster,
	})
	handler.RegisterRoutes(router)
	env.router = router
	return env
}

func seededSafety(t *testing.T) *safety.Store {
	t.Helper()
	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := safety.NewStore(db)
	_, err = s.Seed(context.Background(), safety.Defaults())
	require.NoError(t, err)
	return s
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[map[string]string](t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "online", resp["connectivity"])
}

func TestTriggerEmergency_Sent(t *testing.T) {
	env := setupTestRouter(t)
	env.emergency.outcome = emergency.Outcome{
		Status: emergency.StatusSent,
		Record: models.EmergencyRecord{ID: "rec-1", District: "Thiruvananthapuram"},
	}

	w := env.do("POST", "/api/emergency", `{"latitude": 8.5, "longitude": 76.9}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 8.5, env.emergency.lat)
	assert.Equal(t, 76.9, env.emergency.lon)
	resp := decode[emergency.Outcome](t, w)
	assert.Equal(t, "rec-1", resp.Record.ID)
}

func TestTriggerEmergency_QueuedIsAccepted(t *testing.T) {
	env := setupTestRouter(t)
	env.emergency.outcome = emergency.Outcome{Status: emergency.StatusQueued}

	w := env.do("POST", "/api/emergency", `{"latitude": 0, "longitude": 0}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestTriggerEmergency_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing longitude", `{"latitude": 8.5}`},
		{"latitude out of range", `{"latitude": 91, "longitude": 76.9}`},
		{"longitude out of range", `{"latitude": 8.5, "longitude": -181}`},
		{"malformed json", `{"latitude":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestRouter(t)
			w := env.do("POST", "/api/emergency", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestTriggerEmergency_StoreFailure(t *testing.T) {
	env := setupTestRouter(t)
	env.emergency.err = errors.New("disk full")

	w := env.do("POST", "/api/emergency", `{"latitude": 8.5, "longitude": 76.9}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk full")
}

func TestGetRisk(t *testing.T) {
	env := setupTestRouter(t)
	env.risk.view = riskcache.View{
		District:   "Ernakulam",
		Status:     riskcache.StatusStale,
		Stale:      true,
		AgeSeconds: 600,
		Snapshot:   &models.RiskSnapshot{District: "Ernakulam", Level: models.RiskLevelHigh},
	}

	w := env.do("GET", "/api/risk?lat=9.98&lon=76.3", "")

	assert.Equal(t, http.StatusOK, w.Code)
	view := decode[riskcache.View](t, w)
	assert.True(t, view.Stale)
	assert.Equal(t, 600.0, view.AgeSeconds)
}

func TestGetRisk_Unavailable(t *testing.T) {
	env := setupTestRouter(t)
	env.risk.view = riskcache.View{District: "Kollam", Status: riskcache.StatusUnavailable}

	w := env.do("GET", "/api/risk?lat=8.9&lon=76.6", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetRisk_MissingCoordinates(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/risk?lat=9.98", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := decode[map[string]any](t, w)
	assert.Contains(t, resp["fields"], "Longitude")
}

func TestGetDashboard(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/dashboard", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	env.risk.dashboard = &riskcache.DashboardSnapshot{Latitude: 8.5, Longitude: 76.9}
	w = env.do("GET", "/api/dashboard", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetDistricts_ReturnsGeoJSON(t *testing.T) {
	env := setupTestRouter(t)
	env.risk.overlay = []riskcache.OverlayEntry{
		{DistrictRisk: models.DistrictRisk{District: "Wayanad", Score: 8.2}},
	}

	w := env.do("GET", "/api/districts", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))

	fc := decode[FeatureCollection](t, w)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, len(district.Kerala))

	for _, f := range fc.Features {
		switch f.Properties["name"] {
		case "Wayanad":
			assert.Equal(t, models.RiskLevelCritical, f.Properties["level"])
			assert.Equal(t, true, f.Properties["hilly"])
		case "Kollam":
			assert.Equal(t, models.RiskLevelUnknown, f.Properties["level"])
		}
	}
}

func TestGetDistricts_OverlayErrorStillServesBoundaries(t *testing.T) {
	env := setupTestRouter(t)
	env.risk.err = errors.New("store unavailable")

	w := env.do("GET", "/api/districts", "")

	assert.Equal(t, http.StatusOK, w.Code)
	fc := decode[FeatureCollection](t, w)
	assert.Len(t, fc.Features, len(district.Kerala))
}

func TestResolveDistrict(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/districts/resolve?lat=9.98&lon=76.30", "")

	assert.Equal(t, http.StatusOK, w.Code)
	d := decode[models.District](t, w)
	assert.Equal(t, "Ernakulam", d.Name)
}

func TestGetDistrict(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/districts/kozhikode", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Kozhikode", decode[models.District](t, w).Name)

	w = env.do("GET", "/api/districts/Atlantis", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "location not found", decode[map[string]string](t, w)["error"])

	w = env.do("GET", "/api/districts/%20", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetQueue(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/queue", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"records":[]`)

	env.queue.pending = []models.EmergencyRecord{{ID: "a"}, {ID: "b"}}
	env.queue.failed = []models.EmergencyRecord{{ID: "c", Status: models.StatusFailedPermanent}}

	w = env.do("GET", "/api/queue", "")
	resp := decode[struct {
		Records      []models.EmergencyRecord `json:"records"`
		Stats        queue.Stats              `json:"stats"`
		RetryCeiling int                      `json:"retry_ceiling"`
	}](t, w)
	assert.Len(t, resp.Records, 2)
	assert.Equal(t, queue.DefaultRetryCeiling, resp.RetryCeiling)
	assert.Equal(t, 2, resp.Stats.Pending)
	assert.Equal(t, 1, resp.Stats.FailedPermanent)

	w = env.do("GET", "/api/queue/failed", "")
	assert.Contains(t, w.Body.String(), `"id":"c"`)

	w = env.do("GET", "/api/queue/b", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "b", decode[models.EmergencyRecord](t, w).ID)

	w = env.do("GET", "/api/queue/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetQueue_StoreError(t *testing.T) {
	env := setupTestRouter(t)
	env.queue.err = errors.New("database is locked")

	w := env.do("GET", "/api/queue", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSync(t *testing.T) {
	env := setupTestRouter(t)
	env.sync.result = reconcile.PassResult{Attempted: 3, Delivered: 2, Failed: 1}

	w := env.do("POST", "/api/sync", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.sync.calls)
	assert.Equal(t, env.sync.result, decode[reconcile.PassResult](t, w))
}

func TestConnectivity(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("PUT", "/api/connectivity", `{"state": "offline"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["changed"])
	assert.False(t, env.monitor.Online())

	w = env.do("PUT", "/api/connectivity", `{"state": "offline"}`)
	assert.Equal(t, false, decode[map[string]any](t, w)["changed"])

	w = env.do("GET", "/api/connectivity", "")
	assert.Equal(t, "offline", decode[map[string]any](t, w)["state"])

	w = env.do("PUT", "/api/connectivity", `{"state": "flaky"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvents_StreamsNotifications(t *testing.T) {
	env := setupTestRouter(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return env.broadcaster.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	env.broadcaster.Publish(notify.SyncConfirmation(2))

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			events = append(events, strings.TrimSpace(name))
		}
		if len(events) == 2 {
			break
		}
	}

	assert.Equal(t, []string{
		string(notify.KindDegradedMode),
		string(notify.KindSyncConfirmation),
	}, events)

	cancel()
	assert.Eventually(t, func() bool {
		return env.broadcaster.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(2))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for range 3 {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRateLimitMiddleware_PerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func(addr string) int {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		req.RemoteAddr = addr
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5001"))
	assert.Equal(t, http.StatusNoContent, send("10.0.0.2:5000"))
}

func TestIPLimiter_EvictsIdleClients(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newIPLimiter(1, time.Minute, clock)

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.Equal(t, 2, l.size())

	clock.Advance(30 * time.Second)
	assert.True(t, l.allow("10.0.0.2"))

	clock.Advance(40 * time.Second)
	assert.True(t, l.allow("10.0.0.3"))
	assert.Equal(t, 2, l.size(), "10.0.0.1 idle past the TTL is dropped")

	assert.True(t, l.allow("10.0.0.1"), "an evicted client starts with a full bucket")
}

func TestGetSafety(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do("GET", "/api/safety?severity=Critical&type=landslide", "")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decode[struct {
		Instructions []safety.Instruction `json:"instructions"`
	}](t, w)
	require.Len(t, resp.Instructions, 1)
	assert.Equal(t, "landslide-evacuate", resp.Instructions[0].ID)

	w = env.do("GET", "/api/safety?severity=Critical&type=tsunami", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"instructions":[]`)
}
