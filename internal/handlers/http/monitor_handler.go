package http

import (
	"net/http"
	"strconv"
	"time"

	"streampulse/internal/core/domain"
	"streampulse/internal/core/ports"
	apperrors "streampulse/pkg/errors"
	"streampulse/pkg/validation"

	"github.com/gin-gonic/gin"
)

var validStates = map[domain.StreamState]bool{
	domain.StateInitializing: true,
	domain.StateConnected:    true,
	domain.StateBuffering:    true,
	domain.StatePlaying:      true,
	domain.StatePaused:       true,
	domain.StateError:        true,
	domain.StateDisconnected: true,
}

type MonitorHandler struct {
	engine    ports.Engine
	startTime time.Time
}

func NewMonitorHandler(engine ports.Engine) *MonitorHandler {
	return &MonitorHandler{
		engine:    engine,
		startTime: time.Now(),
	}
}

func (h *MonitorHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/monitoring")
	{
		api.GET("/dashboard", h.GetDashboard)
		api.GET("/metrics", h.GetSummary)
		api.GET("/metrics/history", h.GetMetricsHistory)
		api.GET("/metrics/statistics", h.GetStatistics)

		api.GET("/streams", h.ListStreams)
		api.GET("/streams/:id", h.GetStream)
		api.GET("/streams/:id/history", h.GetStreamHistory)

		api.GET("/alerts", h.GetActiveAlerts)
		api.GET("/alerts/history", h.GetAlertHistory)
		api.GET("/alerts/stats", h.GetAlertStats)
		api.POST("/alerts/:id/resolve", h.ResolveAlert)

		// Ingress endpoints for probes and collectors
		api.POST("/streams", h.RegisterStream)
		api.DELETE("/streams/:id", h.UnregisterStream)
		api.POST("/streams/:id/metrics", h.UpdateStreamMetrics)
		api.POST("/streams/:id/state", h.SetStreamState)
		api.POST("/streams/:id/errors", h.RecordStreamError)
		api.POST("/compositor/metrics", h.UpdateCompositorMetrics)
		api.POST("/webrtc/metrics", h.UpdateWebRTCMetrics)
		api.POST("/system/metrics", h.UpdateSystemMetrics)
	}
}

// GetDashboard serves everything a dashboard needs for its first paint.
func (h *MonitorHandler) GetDashboard(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"snapshot":   h.engine.FleetSnapshot(),
		"alerts":     h.engine.ActiveAlerts(domain.AlertFilter{}),
		"alertStats": h.engine.AlertStats(),
		"uptime":     time.Since(h.startTime).Milliseconds(),
	})
}

func (h *MonitorHandler) GetSummary(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"summary": h.engine.Summary(),
	})
}

func (h *MonitorHandler) GetMetricsHistory(c *gin.Context) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "1"))
	if err != nil || hours <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": h.engine.HistoricalMetrics(hours),
	})
}

func (h *MonitorHandler) GetStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"statistics": h.engine.Statistics(),
	})
}

func (h *MonitorHandler) ListStreams(c *gin.Context) {
	snapshot := h.engine.FleetSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"streams": snapshot.Streams,
	})
}

func (h *MonitorHandler) GetStream(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))

	status, err := h.engine.StreamStatus(streamID)
	if err != nil {
		c.Error(apperrors.NewNotFoundError("stream"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stream": status,
	})
}

func (h *MonitorHandler) GetStreamHistory(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))

	metric := c.DefaultQuery("metric", domain.MetricBitrate)
	if err := validation.ValidateMetricName(metric); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}

	history, err := h.engine.StreamHistory(streamID, metric, limit)
	if err != nil {
		c.Error(apperrors.NewNotFoundError("stream"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"streamId": streamID,
		"metric":   metric,
		"history":  history,
	})
}

func alertFilterFromQuery(c *gin.Context) domain.AlertFilter {
	filter := domain.AlertFilter{
		Severity: domain.Severity(c.Query("severity")),
		Type:     domain.AlertType(c.Query("type")),
		StreamID: domain.StreamID(c.Query("streamId")),
	}
	if start, err := strconv.ParseInt(c.Query("startTime"), 10, 64); err == nil {
		filter.StartTime = start
	}
	if end, err := strconv.ParseInt(c.Query("endTime"), 10, 64); err == nil {
		filter.EndTime = end
	}
	return filter
}

func (h *MonitorHandler) GetActiveAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"alerts": h.engine.ActiveAlerts(alertFilterFromQuery(c)),
	})
}

func (h *MonitorHandler) GetAlertHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": h.engine.AlertHistory(limit, alertFilterFromQuery(c)),
	})
}

func (h *MonitorHandler) GetAlertStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats": h.engine.AlertStats(),
	})
}

func (h *MonitorHandler) ResolveAlert(c *gin.Context) {
	alertID := c.Param("id")

	alert, err := h.engine.ResolveAlert(alertID)
	if err != nil {
		c.Error(apperrors.NewNotFoundError("alert"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alert": alert,
	})
}

func (h *MonitorHandler) RegisterStream(c *gin.Context) {
	var req struct {
		StreamID  domain.StreamID `json:"streamId" binding:"required"`
		StreamURL string          `json:"streamUrl"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validation.ValidateStreamID(string(req.StreamID)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateStreamURL(req.StreamURL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.RegisterStream(req.StreamID, req.StreamURL); err != nil {
		if err == domain.ErrStreamAlreadyRegistered {
			c.Error(apperrors.NewConflictError("stream already registered"))
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"streamId": req.StreamID,
		"status":   "registered",
	})
}

func (h *MonitorHandler) UnregisterStream(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))
	h.engine.UnregisterStream(streamID)

	c.JSON(http.StatusOK, gin.H{
		"streamId": streamID,
		"status":   "unregistered",
	})
}

func (h *MonitorHandler) UpdateStreamMetrics(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))

	var patch domain.MetricsPatch
	if err := c.BindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.UpdateMetrics(streamID, &patch); err != nil {
		c.Error(apperrors.NewNotFoundError("stream"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "accepted",
	})
}

func (h *MonitorHandler) SetStreamState(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))

	var req struct {
		State domain.StreamState `json:"state" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !validStates[req.State] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown stream state"})
		return
	}

	if err := h.engine.SetState(streamID, req.State); err != nil {
		c.Error(apperrors.NewNotFoundError("stream"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "accepted",
	})
}

func (h *MonitorHandler) RecordStreamError(c *gin.Context) {
	streamID := domain.StreamID(c.Param("id"))

	var req struct {
		Message string `json:"message" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.RecordError(streamID, req.Message); err != nil {
		c.Error(apperrors.NewNotFoundError("stream"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "accepted",
	})
}

func (h *MonitorHandler) UpdateCompositorMetrics(c *gin.Context) {
	var patch domain.CompositorPatch
	if err := c.BindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.engine.UpdateCompositorMetrics(&patch)
	c.JSON(http.StatusOK, gin.H{
		"status": "accepted",
	})
}

func (h *MonitorHandler) UpdateWebRTCMetrics(c *gin.Context) {
	var patch domain.WebRTCPatch
	if err := c.BindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.engine.UpdateWebRTCMetrics(&patch)
	c.JSON(http.StatusOK, gin.H{
		"status": "accepted",
	})
}

func (h *MonitorHandler) UpdateSystemMetrics(c *gin.Context) {
	var patch domain.SystemPatch
	if err := c.BindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.engine.UpdateSystemMetrics(&patch)
	c.JSON(http.StatusOK, gin.H{
		"status": "accepted",
	})
}
