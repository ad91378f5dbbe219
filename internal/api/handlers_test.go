package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sleuthstack/sleuth-engine/internal/chat"
	"github.com/sleuthstack/sleuth-engine/internal/engine"
	"github.com/sleuthstack/sleuth-engine/internal/incident"
	"github.com/sleuthstack/sleuth-engine/internal/telemetry"
)

type stubTelemetry struct{}

func (stubTelemetry) QueryMetrics(_ context.Context, _ string, start, end time.Time) ([]telemetry.MetricSeries, error) {
	value := 100.0
	if start.After(time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC).Add(-time.Second)) {
		value = 500.0
	}
	return []telemetry.MetricSeries{{
		Name:   "trace.checkout.request.duration",
		Points: []telemetry.MetricPoint{{Timestamp: start, Value: value}},
	}}, nil
}

func (stubTelemetry) SearchLogs(_ context.Context, _ string, start, _ time.Time, _ int) ([]telemetry.LogEntry, error) {
	return []telemetry.LogEntry{
		{Timestamp: start, Message: "connection refused to 10.0.0.1", Service: "checkout", Env: "prod"},
	}, nil
}

func (stubTelemetry) SearchSpans(context.Context, string, time.Time, time.Time, int) ([]telemetry.SpanEntry, error) {
	return nil, nil
}

func (stubTelemetry) SearchEvents(context.Context, time.Time, time.Time, string) ([]telemetry.Event, error) {
	return nil, nil
}

func (stubTelemetry) GetMonitor(_ context.Context, id int64) (telemetry.MonitorInfo, error) {
	return telemetry.MonitorInfo{
		ID:    id,
		Name:  "checkout p95",
		Query: "p95:trace.checkout.request.duration{*}",
		Tags:  []string{"service:checkout", "env:prod"},
	}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *engine.Investigator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	investigator := engine.NewInvestigator(nil, stubTelemetry{}, nil, incident.NewRegistry(), nil, nil, nil, engine.Limits{})
	advisor := chat.NewAdvisor(nil, nil)
	handler := NewHandler(nil, investigator, advisor)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, investigator
}

func doJSON(router *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestInvestigateServiceReturnsIncident(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/v1/investigate/service", map[string]any{
		"service": "checkout",
		"env":     "prod",
		"start":   "2026-03-10T11:00:00Z",
		"end":     "2026-03-10T12:00:00Z",
		"mode":    "latency",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body incidentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, "checkout", body.Service)
	assert.Equal(t, "prod", body.Env)
	assert.Equal(t, "open", body.Status)
	assert.NotEmpty(t, body.Symptoms)
	assert.NotEmpty(t, body.Recommendations)
}

func TestInvestigateServiceValidatesInput(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/v1/investigate/service", map[string]any{
		"env": "prod", "start": "2026-03-10T11:00:00Z", "end": "2026-03-10T12:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/v1/investigate/service", map[string]any{
		"service": "checkout", "start": "not-a-time", "end": "2026-03-10T12:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/v1/investigate/service", map[string]any{
		"service": "checkout", "start": "2026-03-10T11:00:00Z", "end": "2026-03-10T12:00:00Z", "mode": "sideways",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvestigateLogsRejectsBlankQueryWithCleanMessage(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/v1/investigate/logs", map[string]any{
		"query": "   ",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "log query is required", body["error"])
}

func TestIncidentReportOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/v1/investigate/service", map[string]any{
		"service": "checkout", "env": "prod",
		"start": "2026-03-10T11:00:00Z", "end": "2026-03-10T12:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var created incidentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(router, http.MethodGet, "/api/v1/incidents/"+created.ID+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")

	report := rec.Body.String()
	assert.Contains(t, report, "## Incident report")
	assert.Contains(t, report, created.ID)
	assert.Contains(t, report, "### Time windows")
	assert.Contains(t, report, "2026-03-10T11:00:00Z")
	assert.Contains(t, report, "### Symptoms")
	assert.Contains(t, report, "### Top candidates")
	assert.Contains(t, report, "### Recommendations")

	rec = doJSON(router, http.MethodGet, "/api/v1/incidents/inc-missing/report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvestigateMonitorAndLogs(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/v1/investigate/monitor", map[string]any{
		"monitor_id":   101,
		"trigger_time": "2026-03-10T12:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(router, http.MethodPost, "/api/v1/investigate/logs", map[string]any{
		"query":       "connection refused",
		"anchor_time": "1773144000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestIncidentLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/v1/investigate/service", map[string]any{
		"service": "checkout", "env": "prod",
		"start": "2026-03-10T11:00:00Z", "end": "2026-03-10T12:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created incidentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(router, http.MethodGet, "/api/v1/incidents/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/v1/incidents/"+created.ID+"/recommendations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recs struct {
		Recommendations []string `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	assert.NotEmpty(t, recs.Recommendations)

	rec = doJSON(router, http.MethodPost, "/api/v1/incidents/"+created.ID+"/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/v1/incidents/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/v1/incidents/"+created.ID+"/close", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(router, http.MethodPost, "/api/v1/investigate/service", map[string]any{
		"service": "checkout", "env": "prod",
		"start": "2026-03-10T11:00:00Z", "end": "2026-03-10T12:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var created incidentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(router, http.MethodPost, "/api/v1/incidents/"+created.ID+"/chat/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var session map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Contains(t, session["session_id"], "chat-")
	assert.Equal(t, created.ID, session["incident_id"])

	rec = doJSON(router, http.MethodPost, "/api/v1/incidents/"+created.ID+"/chat", map[string]any{
		"message": "What caused this?",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var reply map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "root_cause", reply["intent"])
	assert.NotEmpty(t, reply["message"])

	rec = doJSON(router, http.MethodPost, "/api/v1/incidents/"+created.ID+"/chat", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/v1/incidents/inc-missing/chat", map[string]any{
		"message": "hello",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
