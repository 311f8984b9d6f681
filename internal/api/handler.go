package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/offline-alert-relay/internal/emergency"
	"github.com/mr1hm/offline-alert-relay/internal/models"
	"github.com/mr1hm/offline-alert-relay/internal/notify"
	"github.com/mr1hm/offline-alert-relay/internal/queue"
	"github.com/mr1hm/offline-alert-relay/internal/reconcile"
	"github.com/mr1hm/offline-alert-relay/internal/riskcache"
	"github.com/mr1hm/offline-alert-relay/internal/safety"
)

type EmergencyTrigger interface {
	Trigger(ctx context.Context, lat, lon float64) (emergency.Outcome, error)
}

type RiskReader interface {
	Load(ctx context.Context, lat, lon float64) (riskcache.View, error)
	Overlay(ctx context.Context) ([]riskcache.OverlayEntry, error)
	Dashboard(ctx context.Context) (riskcache.DashboardSnapshot, bool, error)
}

type DistrictResolver interface {
	Resolve(lat, lon float64) models.District
	Lookup(name string) (models.District, error)
	Districts() []models.District
}

type QueueReader interface {
	ListPending(ctx context.Context) ([]models.EmergencyRecord, error)
	ListFailed(ctx context.Context) ([]models.EmergencyRecord, error)
	Get(ctx context.Context, id string) (models.EmergencyRecord, error)
	Stats(ctx context.Context) (queue.Stats, error)
	RetryCeiling() int
}

type SafetyReader interface {
	List(ctx context.Context, severity, kind string) ([]safety.Instruction, error)
}

type Syncer interface {
	RunPass(ctx context.Context) (reconcile.PassResult, error)
}

type Connectivity interface {
	State() models.ConnectivityState
	Set(state models.ConnectivityState) bool
}

type Events interface {
	Subscribe() (uint64, chan notify.Notification)
	Unsubscribe(id uint64)
	Degraded() bool
}

// Deps groups the services the HTTP surface sits on.
type Deps struct {
	Emergency    EmergencyTrigger
	Risk         RiskReader
	Districts    DistrictResolver
	Queue        QueueReader
	Safety       SafetyReader
	Sync         Syncer
	Connectivity Connectivity
	Events       Events
}

type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/emergency", h.triggerEmergency)
	api.GET("/risk", h.getRisk)
	api.GET("/dashboard", h.getDashboard)
	api.GET("/districts", h.getDistricts)
	api.GET("/districts/resolve", h.resolveDistrict)
	api.GET("/districts/:name", h.getDistrict)
	api.GET("/safety", h.getSafety)
	api.GET("/queue", h.getQueue)
	api.GET("/queue/failed", h.getFailed)
	api.GET("/queue/:id", h.getRecord)
	api.POST("/sync", h.sync)
	api.GET("/connectivity", h.getConnectivity)
	api.PUT("/connectivity", h.setConnectivity)
	api.GET("/events", h.events)
}

type coordinates struct {
	Latitude  *float64 `json:"latitude" form:"lat" binding:"required,latitude"`
	Longitude *float64 `json:"longitude" form:"lon" binding:"required,longitude"`
}

type connectivityRequest struct {
	State string `json:"state" binding:"required,oneof=online offline"`
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"connectivity": h.deps.Connectivity.State().String(),
	})
}

func (h *Handler) triggerEmergency(c *gin.Context) {
	var req coordinates
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	outcome, err := h.deps.Emergency.Trigger(c.Request.Context(), *req.Latitude, *req.Longitude)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if outcome.Status == emergency.StatusQueued {
		status = http.StatusAccepted
	}
	c.JSON(status, outcome)
}

func (h *Handler) getRisk(c *gin.Context) {
	var q coordinates
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	view, err := h.deps.Risk.Load(c.Request.Context(), *q.Latitude, *q.Longitude)
	if err != nil {
		writeError(c, err)
		return
	}
	if view.Unavailable() {
		c.JSON(http.StatusServiceUnavailable, view)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) getDashboard(c *gin.Context) {
	snap, ok, err := h.deps.Risk.Dashboard(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no dashboard snapshot saved yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) getDistricts(c *gin.Context) {
	overlay, err := h.deps.Risk.Overlay(c.Request.Context())
	if err != nil {
		// Boundaries are still useful without levels.
		slog.Warn("failed to read district overlay", "error", err)
	}

	fc := toGeoJSON(h.deps.Districts.Districts(), overlay)
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) resolveDistrict(c *gin.Context) {
	var q coordinates
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Districts.Resolve(*q.Latitude, *q.Longitude))
}

func (h *Handler) getDistrict(c *gin.Context) {
	d, err := h.deps.Districts.Lookup(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) getSafety(c *gin.Context) {
	list, err := h.deps.Safety.List(c.Request.Context(), c.Query("severity"), c.Query("type"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instructions": list})
}

func (h *Handler) getQueue(c *gin.Context) {
	ctx := c.Request.Context()
	records, err := h.deps.Queue.ListPending(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	stats, err := h.deps.Queue.Stats(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records":       nonNil(records),
		"stats":         stats,
		"retry_ceiling": h.deps.Queue.RetryCeiling(),
	})
}

func (h *Handler) getRecord(c *gin.Context) {
	rec, err := h.deps.Queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) getFailed(c *gin.Context) {
	records, err := h.deps.Queue.ListFailed(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": nonNil(records)})
}

func (h *Handler) sync(c *gin.Context) {
	res, err := h.deps.Sync.RunPass(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getConnectivity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":    h.deps.Connectivity.State().String(),
		"degraded": h.deps.Events.Degraded(),
	})
}

func (h *Handler) setConnectivity(c *gin.Context) {
	var req connectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	state, _ := models.ParseConnectivityState(req.State)
	changed := h.deps.Connectivity.Set(state)
	c.JSON(http.StatusOK, gin.H{
		"state":   state.String(),
		"changed": changed,
	})
}

// events streams notifications as server-sent events until the client goes
// away or the broadcaster closes.
func (h *Handler) events(c *gin.Context) {
	id, ch := h.deps.Events.Subscribe()
	defer h.deps.Events.Unsubscribe(id)

	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-cache")
	c.SSEvent(string(notify.KindDegradedMode), notify.DegradedMode(h.deps.Events.Degraded()))
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case n, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(n.Kind), n)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func badRequest(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid request",
			"fields": fields,
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": models.ErrNotFound.Error()})
	case errors.Is(err, models.ErrTransport):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func nonNil(records []models.EmergencyRecord) []models.EmergencyRecord {
	if records == nil {
		return []models.EmergencyRecord{}
	}
	return records
}
