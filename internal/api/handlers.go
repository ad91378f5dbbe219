package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sleuthstack/sleuth-engine/internal/chat"
	"github.com/sleuthstack/sleuth-engine/internal/engine"
	"github.com/sleuthstack/sleuth-engine/internal/incident"
	"github.com/sleuthstack/sleuth-engine/internal/metrics"
	"github.com/sleuthstack/sleuth-engine/internal/models"
	"github.com/sleuthstack/sleuth-engine/internal/utils"
)

// Handler exposes the investigation engine over HTTP.
type Handler struct {
	logger       *slog.Logger
	investigator *engine.Investigator
	advisor      *chat.Advisor
	latency      *utils.LatencyTracker
}

// NewHandler wires the HTTP surface to the engine and chat advisor.
func NewHandler(logger *slog.Logger, investigator *engine.Investigator, advisor *chat.Advisor) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:       logger,
		investigator: investigator,
		advisor:      advisor,
		latency:      utils.NewLatencyTracker(512),
	}
}

// RegisterRoutes attaches all endpoints to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/investigate/monitor", h.investigateMonitor)
		v1.POST("/investigate/logs", h.investigateLogs)
		v1.POST("/investigate/service", h.investigateService)

		v1.GET("/incidents/:id", h.getIncident)
		v1.GET("/incidents/:id/report", h.getIncidentReport)
		v1.POST("/incidents/:id/close", h.closeIncident)
		v1.GET("/incidents/:id/recommendations", h.getRecommendations)
		v1.POST("/incidents/:id/chat/session", h.startChatSession)
		v1.POST("/incidents/:id/chat", h.chatMessage)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"active_incidents": h.investigator.Registry().ActiveCount(),
	})
}

type monitorSeedRequest struct {
	MonitorID       int64  `json:"monitor_id" binding:"required"`
	TriggerTime     string `json:"trigger_time"`
	WindowMinutes   int    `json:"window_minutes"`
	BaselineMinutes int    `json:"baseline_minutes"`
}

func (h *Handler) investigateMonitor(c *gin.Context) {
	var req monitorSeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	seed := models.MonitorSeed{
		MonitorID:       req.MonitorID,
		WindowMinutes:   req.WindowMinutes,
		BaselineMinutes: req.BaselineMinutes,
	}
	if req.TriggerTime != "" {
		t, err := utils.ParseFlexibleTime(req.TriggerTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trigger_time: " + err.Error()})
			return
		}
		seed.TriggerTime = t
	}

	h.runInvestigation(c, func() (*incident.Context, error) {
		return h.investigator.AnalyzeFromMonitor(c.Request.Context(), seed)
	})
}

type logSeedRequest struct {
	Query           string `json:"query" binding:"required"`
	AnchorTime      string `json:"anchor_time"`
	WindowMinutes   int    `json:"window_minutes"`
	BaselineMinutes int    `json:"baseline_minutes"`
}

func (h *Handler) investigateLogs(c *gin.Context) {
	var req logSeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	seed := models.LogSeed{
		Query:           req.Query,
		WindowMinutes:   req.WindowMinutes,
		BaselineMinutes: req.BaselineMinutes,
	}
	if req.AnchorTime != "" {
		t, err := utils.ParseFlexibleTime(req.AnchorTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid anchor_time: " + err.Error()})
			return
		}
		seed.AnchorTime = t
	}

	h.runInvestigation(c, func() (*incident.Context, error) {
		return h.investigator.AnalyzeFromLogs(c.Request.Context(), seed)
	})
}

type serviceSeedRequest struct {
	Service string `json:"service" binding:"required"`
	Env     string `json:"env"`
	Start   string `json:"start" binding:"required"`
	End     string `json:"end" binding:"required"`
	Mode    string `json:"mode"`
}

func (h *Handler) investigateService(c *gin.Context) {
	var req serviceSeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start, err := utils.ParseFlexibleTime(req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start: " + err.Error()})
		return
	}
	end, err := utils.ParseFlexibleTime(req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end: " + err.Error()})
		return
	}

	mode := models.ServiceMode(req.Mode)
	switch mode {
	case "", models.ModeLatency, models.ModeErrors:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be latency or errors"})
		return
	}

	seed := models.ServiceSeed{
		Service: req.Service,
		Env:     req.Env,
		Start:   start,
		End:     end,
		Mode:    mode,
	}

	h.runInvestigation(c, func() (*incident.Context, error) {
		return h.investigator.AnalyzeFromService(c.Request.Context(), seed)
	})
}

func (h *Handler) runInvestigation(c *gin.Context, run func() (*incident.Context, error)) {
	started := time.Now()
	inv, err := run()
	h.latency.Observe(time.Since(started))

	if err != nil {
		metrics.ObserveInvestigation(time.Since(started), metrics.OutcomeError)
		h.logger.Error("investigation failed", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": userMessage(err)})
		return
	}

	metrics.SetActiveIncidents(h.investigator.Registry().ActiveCount())
	h.logger.Info("investigation complete",
		slog.String("incident_id", inv.ID()),
		slog.Duration("elapsed", time.Since(started)),
		slog.Duration("p95", h.latency.Percentile(95)),
	)
	c.JSON(http.StatusOK, toIncidentResponse(inv))
}

// userMessage keeps internal operation prefixes out of response bodies.
func userMessage(err error) string {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return appErr.Msg
	}
	return err.Error()
}

func (h *Handler) getIncident(c *gin.Context) {
	inv, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toIncidentResponse(inv))
}

func (h *Handler) getIncidentReport(c *gin.Context) {
	inv, ok := h.lookup(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(renderReport(inv)))
}

func (h *Handler) closeIncident(c *gin.Context) {
	id := c.Param("id")
	if err := h.investigator.Registry().Close(id); err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	metrics.SetActiveIncidents(h.investigator.Registry().ActiveCount())
	c.JSON(http.StatusOK, gin.H{"id": id, "status": string(models.StatusClosed)})
}

func (h *Handler) getRecommendations(c *gin.Context) {
	inv, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"incident_id":     inv.ID(),
		"recommendations": h.advisor.Recommendations(inv),
	})
}

func (h *Handler) startChatSession(c *gin.Context) {
	inv, ok := h.lookup(c)
	if !ok {
		return
	}
	session := h.advisor.StartSession(inv)
	c.JSON(http.StatusOK, gin.H{
		"session_id":  session.ID,
		"incident_id": session.IncidentID,
		"started_at":  session.StartedAt.Format(time.RFC3339),
	})
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *Handler) chatMessage(c *gin.Context) {
	inv, ok := h.lookup(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response := h.advisor.ProcessMessage(c.Request.Context(), inv, req.Message)
	c.JSON(http.StatusOK, gin.H{
		"incident_id": inv.ID(),
		"intent":      string(response.Intent),
		"message":     response.Message,
		"suggestions": response.Suggestions,
	})
}

func (h *Handler) lookup(c *gin.Context) (*incident.Context, bool) {
	inv, err := h.investigator.Registry().Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return inv, true
}

type symptomDTO struct {
	Kind          string   `json:"kind"`
	Description   string   `json:"description"`
	EvidenceRef   string   `json:"evidence_ref,omitempty"`
	BaselineValue *float64 `json:"baseline_value,omitempty"`
	IncidentValue *float64 `json:"incident_value,omitempty"`
	PercentChange *float64 `json:"percent_change,omitempty"`
	PeakValue     *float64 `json:"peak_value,omitempty"`
	PeakTime      *string  `json:"peak_time,omitempty"`
	ObservedAt    string   `json:"observed_at"`
}

type candidateDTO struct {
	Kind     string         `json:"kind"`
	Title    string         `json:"title"`
	Score    float64        `json:"score"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

type incidentResponse struct {
	ID              string         `json:"id"`
	Service         string         `json:"service,omitempty"`
	Env             string         `json:"env,omitempty"`
	Status          string         `json:"status"`
	CreatedAt       string         `json:"created_at"`
	IncidentStart   string         `json:"incident_start"`
	IncidentEnd     string         `json:"incident_end"`
	BaselineStart   string         `json:"baseline_start"`
	BaselineEnd     string         `json:"baseline_end"`
	Symptoms        []symptomDTO   `json:"symptoms"`
	Candidates      []candidateDTO `json:"candidates"`
	Recommendations []string       `json:"recommendations"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func toIncidentResponse(inv *incident.Context) incidentResponse {
	scope := inv.Scope()
	windows := inv.Windows()

	symptoms := inv.Symptoms()
	symptomDTOs := make([]symptomDTO, 0, len(symptoms))
	for _, s := range symptoms {
		dto := symptomDTO{
			Kind:          string(s.Kind),
			Description:   s.Description,
			EvidenceRef:   s.EvidenceRef,
			BaselineValue: s.BaselineValue,
			IncidentValue: s.IncidentValue,
			PercentChange: s.PercentChange,
			PeakValue:     s.PeakValue,
			ObservedAt:    s.ObservedAt.Format(time.RFC3339),
		}
		if !s.PeakTime.IsZero() {
			formatted := s.PeakTime.Format(time.RFC3339)
			dto.PeakTime = &formatted
		}
		symptomDTOs = append(symptomDTOs, dto)
	}

	ranked := engine.RankedCandidates(inv)
	candidateDTOs := make([]candidateDTO, 0, len(ranked))
	for _, c := range ranked {
		candidateDTOs = append(candidateDTOs, candidateDTO{
			Kind:     string(c.Kind),
			Title:    c.Title,
			Score:    c.Score,
			Evidence: c.Evidence,
		})
	}

	return incidentResponse{
		ID:              inv.ID(),
		Service:         scope.Service,
		Env:             scope.Env,
		Status:          string(inv.Status()),
		CreatedAt:       inv.CreatedAt().Format(time.RFC3339),
		IncidentStart:   windows.IncidentStart.Format(time.RFC3339),
		IncidentEnd:     windows.IncidentEnd.Format(time.RFC3339),
		BaselineStart:   windows.BaselineStart.Format(time.RFC3339),
		BaselineEnd:     windows.BaselineEnd.Format(time.RFC3339),
		Symptoms:        symptomDTOs,
		Candidates:      candidateDTOs,
		Recommendations: inv.Recommendations(),
		Metadata:        inv.Metadata(),
	}
}
