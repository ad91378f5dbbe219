package reasoning

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
)

// HTTPClient pushes investigation findings to an external reasoning service
// and relays questions to it. Both operations are best-effort from the
// engine's point of view.
type HTTPClient struct {
	baseURL    string
	ingestPath string
	queryPath  string
	httpClient *http.Client
}

// Config carries construction parameters for HTTPClient.
type Config struct {
	BaseURL    string
	IngestPath string
	QueryPath  string
	Timeout    time.Duration
}

// NewHTTPClient constructs a reasoning client. An empty base URL yields a
// client whose calls fail fast; callers treat that as the service being
// absent.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.IngestPath == "" {
		cfg.IngestPath = "/api/v1/ingest"
	}
	if cfg.QueryPath == "" {
		cfg.QueryPath = "/api/v1/query"
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		ingestPath: cfg.IngestPath,
		queryPath:  cfg.QueryPath,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Ingest stores a findings document under the given reasoning context.
func (c *HTTPClient) Ingest(ctx context.Context, contextID, docID, text string, metadata map[string]any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("reasoning base URL not configured")
	}
	payload := map[string]any{
		"context_id": contextID,
		"doc_id":     docID,
		"text":       text,
		"metadata":   metadata,
	}
	var response struct {
		Status string `json:"status"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.ingestPath), payload, &response); err != nil {
		return fmt.Errorf("reasoning ingest failed: %w", err)
	}
	if response.Status != "" && response.Status != "ok" && response.Status != "accepted" {
		return fmt.Errorf("reasoning ingest rejected: status %q", response.Status)
	}
	return nil
}

// Query asks a free-form question against a reasoning context and returns
// the answer text.
func (c *HTTPClient) Query(ctx context.Context, contextID, question string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("reasoning base URL not configured")
	}
	payload := map[string]any{
		"context_id": contextID,
		"question":   question,
	}
	var response struct {
		Answer string `json:"answer"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.queryPath), payload, &response); err != nil {
		return "", fmt.Errorf("reasoning query failed: %w", err)
	}
	return response.Answer, nil
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
		return fmt.Errorf("reasoning backend returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
