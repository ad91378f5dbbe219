package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sleuthstack/sleuth-engine/internal/cache"
)

// Client is the telemetry backend surface the engine depends on. All ranges
// are closed-open. Failures are per-call; callers degrade to empty signals.
type Client interface {
	QueryMetrics(ctx context.Context, query string, start, end time.Time) ([]MetricSeries, error)
	SearchLogs(ctx context.Context, query string, start, end time.Time, limit int) ([]LogEntry, error)
	SearchSpans(ctx context.Context, query string, start, end time.Time, limit int) ([]SpanEntry, error)
	SearchEvents(ctx context.Context, start, end time.Time, tags string) ([]Event, error)
	GetMonitor(ctx context.Context, id int64) (MonitorInfo, error)
}

// HTTPClient talks to the telemetry aggregation service over JSON/HTTP.
type HTTPClient struct {
	baseURL     string
	metricsPath string
	logsPath    string
	spansPath   string
	eventsPath  string
	monitorPath string
	httpClient  *http.Client
	cache       cache.Provider
	monitorTTL  time.Duration
	eventsTTL   time.Duration
	logMaxPages int
}

// HTTPClientConfig carries construction parameters for HTTPClient.
type HTTPClientConfig struct {
	BaseURL     string
	MetricsPath string
	LogsPath    string
	SpansPath   string
	EventsPath  string
	MonitorPath string
	Timeout     time.Duration
	Cache       cache.Provider
	MonitorTTL  time.Duration
	EventsTTL   time.Duration
	LogMaxPages int
}

// NewHTTPClient constructs a client targeting the configured backend.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.LogMaxPages <= 0 {
		cfg.LogMaxPages = 2
	}
	provider := cfg.Cache
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		metricsPath: cfg.MetricsPath,
		logsPath:    cfg.LogsPath,
		spansPath:   cfg.SpansPath,
		eventsPath:  cfg.EventsPath,
		monitorPath: cfg.MonitorPath,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		cache:       provider,
		monitorTTL:  cfg.MonitorTTL,
		eventsTTL:   cfg.EventsTTL,
		logMaxPages: cfg.LogMaxPages,
	}
}

// QueryMetrics fetches metric series matching the query over the range.
func (c *HTTPClient) QueryMetrics(ctx context.Context, query string, start, end time.Time) ([]MetricSeries, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("telemetry base URL not configured")
	}

	payload := map[string]any{
		"query": query,
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	}

	var response struct {
		Series []struct {
			Name   string `json:"name"`
			Points []struct {
				Timestamp time.Time `json:"timestamp"`
				Value     float64   `json:"value"`
			} `json:"points"`
		} `json:"series"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.metricsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("telemetry metrics request failed: %w", err)
	}

	series := make([]MetricSeries, 0, len(response.Series))
	for _, s := range response.Series {
		points := make([]MetricPoint, 0, len(s.Points))
		for _, p := range s.Points {
			points = append(points, MetricPoint{Timestamp: p.Timestamp, Value: p.Value})
		}
		series = append(series, MetricSeries{Name: s.Name, Points: points})
	}
	return series, nil
}

// SearchLogs returns raw log entries matching the query over the range. Busy
// windows can exceed the per-request limit, so the backend's cursor is
// followed for up to logMaxPages pages.
func (c *HTTPClient) SearchLogs(ctx context.Context, query string, start, end time.Time, limit int) ([]LogEntry, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("telemetry base URL not configured")
	}
	if limit <= 0 {
		limit = 1000
	}

	entries := make([]LogEntry, 0, limit)
	cursor := ""
	for page := 0; page < c.logMaxPages; page++ {
		payload := map[string]any{
			"query": query,
			"start": start.Format(time.RFC3339),
			"end":   end.Format(time.RFC3339),
			"limit": limit,
		}
		if cursor != "" {
			payload["cursor"] = cursor
		}

		var response struct {
			Entries []struct {
				Timestamp time.Time `json:"timestamp"`
				Message   string    `json:"message"`
				Service   string    `json:"service"`
				Env       string    `json:"env"`
				Host      string    `json:"host"`
				Severity  string    `json:"severity"`
				ErrorType string    `json:"error_type"`
				StackHash string    `json:"stack_hash"`
			} `json:"entries"`
			Cursor string `json:"cursor"`
		}

		if err := c.postJSON(ctx, c.resolvePath(c.logsPath), payload, &response); err != nil {
			return nil, fmt.Errorf("telemetry logs request failed: %w", err)
		}

		for _, e := range response.Entries {
			entries = append(entries, LogEntry{
				Timestamp: e.Timestamp,
				Message:   e.Message,
				Service:   e.Service,
				Env:       e.Env,
				Host:      e.Host,
				Severity:  e.Severity,
				ErrorType: e.ErrorType,
				StackHash: e.StackHash,
			})
		}

		if response.Cursor == "" {
			break
		}
		cursor = response.Cursor
	}
	return entries, nil
}

// SearchSpans returns spans matching the query over the range.
func (c *HTTPClient) SearchSpans(ctx context.Context, query string, start, end time.Time, limit int) ([]SpanEntry, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("telemetry base URL not configured")
	}
	if limit <= 0 {
		limit = 1000
	}

	payload := map[string]any{
		"query": query,
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
		"limit": limit,
	}

	var response struct {
		Spans []struct {
			TraceID     string    `json:"trace_id"`
			SpanID      string    `json:"span_id"`
			Service     string    `json:"service"`
			Resource    string    `json:"resource"`
			Name        string    `json:"name"`
			Kind        string    `json:"kind"`
			Type        string    `json:"type"`
			PeerService string    `json:"peer_service"`
			DurationMs  float64   `json:"duration_ms"`
			Error       bool      `json:"error"`
			HTTPStatus  int       `json:"http_status"`
			Timestamp   time.Time `json:"timestamp"`
		} `json:"spans"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.spansPath), payload, &response); err != nil {
		return nil, fmt.Errorf("telemetry spans request failed: %w", err)
	}

	spans := make([]SpanEntry, 0, len(response.Spans))
	for _, s := range response.Spans {
		spans = append(spans, SpanEntry{
			TraceID:     s.TraceID,
			SpanID:      s.SpanID,
			Service:     s.Service,
			Resource:    s.Resource,
			Name:        s.Name,
			Kind:        s.Kind,
			Type:        s.Type,
			PeerService: s.PeerService,
			DurationMs:  s.DurationMs,
			Error:       s.Error,
			HTTPStatus:  s.HTTPStatus,
			Timestamp:   s.Timestamp,
		})
	}
	return spans, nil
}

// SearchEvents returns deploy/config events over the range, optionally
// filtered by a tag expression. Results are cached briefly since correlated
// ingestions re-read the same window.
func (c *HTTPClient) SearchEvents(ctx context.Context, start, end time.Time, tags string) ([]Event, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("telemetry base URL not configured")
	}

	cacheKey := fmt.Sprintf("events:%s:%d:%d", tags, start.Unix(), end.Unix())
	if c.eventsTTL > 0 {
		if data, err := c.cache.Get(ctx, cacheKey); err == nil {
			var cached []Event
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	payload := map[string]any{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
		"tags":  tags,
	}

	var response struct {
		Events []struct {
			Timestamp time.Time `json:"timestamp"`
			Title     string    `json:"title"`
			Text      string    `json:"text"`
			Tags      []string  `json:"tags"`
			URL       string    `json:"url"`
		} `json:"events"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.eventsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("telemetry events request failed: %w", err)
	}

	events := make([]Event, 0, len(response.Events))
	for _, e := range response.Events {
		events = append(events, Event{
			Timestamp: e.Timestamp,
			Title:     e.Title,
			Text:      e.Text,
			Tags:      e.Tags,
			URL:       e.URL,
		})
	}

	if c.eventsTTL > 0 {
		if data, err := json.Marshal(events); err == nil {
			_ = c.cache.Set(ctx, cacheKey, data, c.eventsTTL)
		}
	}
	return events, nil
}

// GetMonitor fetches monitor metadata by id. Monitor definitions change
// rarely, so lookups are cached.
func (c *HTTPClient) GetMonitor(ctx context.Context, id int64) (MonitorInfo, error) {
	if c == nil || c.baseURL == "" {
		return MonitorInfo{}, fmt.Errorf("telemetry base URL not configured")
	}

	cacheKey := fmt.Sprintf("monitor:%d", id)
	if c.monitorTTL > 0 {
		if data, err := c.cache.Get(ctx, cacheKey); err == nil {
			var cached MonitorInfo
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	payload := map[string]any{"id": id}

	var response struct {
		ID    int64    `json:"id"`
		Name  string   `json:"name"`
		Type  string   `json:"type"`
		Query string   `json:"query"`
		Tags  []string `json:"tags"`
	}

	if err := c.postJSON(ctx, c.resolvePath(c.monitorPath), payload, &response); err != nil {
		return MonitorInfo{}, fmt.Errorf("telemetry monitor request failed: %w", err)
	}

	info := MonitorInfo{
		ID:    response.ID,
		Name:  response.Name,
		Type:  response.Type,
		Query: response.Query,
		Tags:  response.Tags,
	}

	if c.monitorTTL > 0 {
		if data, err := json.Marshal(info); err == nil {
			_ = c.cache.Set(ctx, cacheKey, data, c.monitorTTL)
		}
	}
	return info, nil
}

func (c *HTTPClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *HTTPClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telemetry backend returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
