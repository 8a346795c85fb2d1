package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wellsgz/netpulse/internal/config"
	"github.com/wellsgz/netpulse/internal/monitor"
	"github.com/wellsgz/netpulse/internal/storage"
)

// Version is reported by the status endpoint
const Version = "0.1.0"

// DefaultEventLimit matches the number of events a dashboard shows
const DefaultEventLimit = 10

// Engine is the monitoring surface the API exposes
type Engine interface {
	AddTarget(t string) error
	RemoveTarget(t string)
	ListTargets() []string
	State(t string) (monitor.LoopState, bool)
	Snapshot(t string) (storage.TargetStats, error)
	SnapshotAll() map[string]storage.TargetStats
	FetchHistory(t string, from, to time.Time) ([]storage.DataPoint, error)
	Journal() storage.Journal
	Subscribe() <-chan monitor.Update
	Unsubscribe(ch <-chan monitor.Update)
}

// Handler holds dependencies for API handlers
type Handler struct {
	config    *config.Config
	engine    Engine
	hub       *Hub
	startTime time.Time
}

// NewHandler creates a new Handler
func NewHandler(cfg *config.Config, engine Engine, hub *Hub) *Handler {
	return &Handler{
		config:    cfg,
		engine:    engine,
		hub:       hub,
		startTime: time.Now(),
	}
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":   http.StatusText(status),
		"message": message,
	})
}

// StatusResponse represents the response for the status endpoint
type StatusResponse struct {
	Status      string  `json:"status"`
	Uptime      string  `json:"uptime"`
	UptimeSecs  float64 `json:"uptime_secs"`
	TargetCount int     `json:"target_count"`
	WSClients   int     `json:"ws_clients"`
	Version     string  `json:"version"`
}

// GetStatus returns the current system status
func (h *Handler) GetStatus(c *gin.Context) {
	uptime := time.Since(h.startTime)

	response := StatusResponse{
		Status:      "ok",
		Uptime:      uptime.Round(time.Second).String(),
		UptimeSecs:  uptime.Seconds(),
		TargetCount: len(h.engine.ListTargets()),
		Version:     Version,
	}
	if h.hub != nil {
		response.WSClients = h.hub.ClientCount()
	}

	c.JSON(http.StatusOK, response)
}

// GetConfig returns the effective configuration (read-only)
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.config)
}

// TargetSummary is the list view of a target: counters without sample history
type TargetSummary struct {
	Target         string    `json:"target"`
	State          string    `json:"state"`
	TotalProbes    uint64    `json:"total_probes"`
	TotalAnomalies uint64    `json:"total_anomalies"`
	AnomalyRate    float64   `json:"anomaly_rate"`
	AvgLatency     float64   `json:"avg_latency_ms"`
	LastMs         float64   `json:"last_ms"`
	P95Ms          float64   `json:"p95_ms"`
	JitterMs       float64   `json:"jitter_ms"`
	Streak         int       `json:"streak"`
	LastUpdate     time.Time `json:"last_update"`
}

func (h *Handler) summarize(stats storage.TargetStats) TargetSummary {
	state, _ := h.engine.State(stats.Target)
	return TargetSummary{
		Target:         stats.Target,
		State:          state.String(),
		TotalProbes:    stats.TotalProbes,
		TotalAnomalies: stats.TotalAnomalies,
		AnomalyRate:    stats.AnomalyRate,
		AvgLatency:     stats.AvgLatency,
		LastMs:         stats.LastMs,
		P95Ms:          stats.P95Ms,
		JitterMs:       stats.JitterMs,
		Streak:         stats.Streak,
		LastUpdate:     stats.LastUpdate,
	}
}

// GetTargets returns every monitored target with its counters, sorted by name
func (h *Handler) GetTargets(c *gin.Context) {
	all := h.engine.SnapshotAll()
	targets := h.engine.ListTargets()

	response := make([]TargetSummary, 0, len(targets))
	for _, t := range targets {
		stats, ok := all[t]
		if !ok {
			// Added after SnapshotAll
			continue
		}
		response = append(response, h.summarize(stats))
	}

	c.JSON(http.StatusOK, response)
}

// AddTargetRequest is the body of POST /targets
type AddTargetRequest struct {
	Target string `json:"target" binding:"required"`
}

// AddTarget starts monitoring a target
func (h *Handler) AddTarget(c *gin.Context) {
	var req AddTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.engine.AddTarget(req.Target); err != nil {
		switch {
		case errors.Is(err, monitor.ErrInvalidTarget):
			respondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, monitor.ErrStopped):
			respondError(c, http.StatusServiceUnavailable, err.Error())
		default:
			respondError(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"target": req.Target})
}

// GetTarget returns the full snapshot of a target
func (h *Handler) GetTarget(c *gin.Context) {
	name := c.Param("name")

	stats, err := h.engine.Snapshot(name)
	if err != nil {
		respondError(c, http.StatusNotFound, "Target not found: "+name)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// DeleteTarget stops monitoring a target; unknown targets are not an error
func (h *Handler) DeleteTarget(c *gin.Context) {
	h.engine.RemoveTarget(c.Param("name"))
	c.Status(http.StatusNoContent)
}

// EventsResponse contains a target's events, oldest first
type EventsResponse struct {
	Target  string                `json:"target"`
	Source  string                `json:"source"`
	Events  []string              `json:"events"`
	Records []storage.EventRecord `json:"records,omitempty"`
}

// GetTargetEvents returns the most recent events of a target.
// source=memory (default) reads the in-memory ring, source=journal the persisted log.
func (h *Handler) GetTargetEvents(c *gin.Context) {
	name := c.Param("name")

	limit := DefaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	switch source := c.DefaultQuery("source", "memory"); source {
	case "memory":
		stats, err := h.engine.Snapshot(name)
		if err != nil {
			respondError(c, http.StatusNotFound, "Target not found: "+name)
			return
		}
		events := stats.RecentEvents(limit)
		if events == nil {
			events = []string{}
		}
		c.JSON(http.StatusOK, EventsResponse{Target: name, Source: source, Events: events})

	case "journal":
		journal := h.engine.Journal()
		if journal == nil {
			respondError(c, http.StatusNotFound, "Event journal is disabled")
			return
		}
		records, err := journal.Recent(name, limit)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "Failed to read journal: "+err.Error())
			return
		}
		events := make([]string, len(records))
		for i, rec := range records {
			events[i] = rec.Message
		}
		c.JSON(http.StatusOK, EventsResponse{Target: name, Source: source, Events: events, Records: records})

	default:
		respondError(c, http.StatusBadRequest, "source must be 'memory' or 'journal'")
	}
}

// HistoryQuery represents query parameters for historical data
type HistoryQuery struct {
	From string `form:"from"`
	To   string `form:"to"`
}

// DataPoint represents a single data point in history
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"` // nil for NaN values
	Loss      *float64  `json:"loss"`  // nil for no data, 0=success, 1=failure (or 0.0-1.0 for aggregated)
}

// HistoryResponse contains historical data points
type HistoryResponse struct {
	Target     string      `json:"target"`
	From       time.Time   `json:"from"`
	To         time.Time   `json:"to"`
	DataPoints []DataPoint `json:"data_points"`
}

// GetTargetHistory returns persisted series for a target; empty when series storage is disabled
func (h *Handler) GetTargetHistory(c *gin.Context) {
	name := c.Param("name")

	if _, ok := h.engine.State(name); !ok {
		respondError(c, http.StatusNotFound, "Target not found: "+name)
		return
	}

	var query HistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid query parameters: "+err.Error())
		return
	}

	to := time.Now()
	from := to.Add(-1 * time.Hour)
	if query.From != "" {
		parsed, err := time.Parse(time.RFC3339, query.From)
		if err != nil {
			respondError(c, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		from = parsed
	}
	if query.To != "" {
		parsed, err := time.Parse(time.RFC3339, query.To)
		if err != nil {
			respondError(c, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		to = parsed
	}
	if !from.Before(to) {
		respondError(c, http.StatusBadRequest, "from must be before to")
		return
	}

	points, err := h.engine.FetchHistory(name, from, to)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to fetch history: "+err.Error())
		return
	}

	dataPoints := make([]DataPoint, len(points))
	for i, p := range points {
		dp := DataPoint{Timestamp: p.Timestamp}
		if !math.IsNaN(p.Value) {
			val := p.Value
			dp.Value = &val
		}
		if !math.IsNaN(p.Loss) {
			loss := p.Loss
			dp.Loss = &loss
		}
		dataPoints[i] = dp
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Target:     name,
		From:       from,
		To:         to,
		DataPoints: dataPoints,
	})
}
