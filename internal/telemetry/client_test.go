package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sleuthstack/sleuth-engine/internal/cache"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripFunc) *http.Client {
	return &http.Client{Transport: rt}
}

type stubCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newStubCache() *stubCache {
	return &stubCache{store: make(map[string][]byte)}
}

func (s *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.store[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return append([]byte(nil), value...), nil
}

func (s *stubCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[key] = append([]byte(nil), value...)
	return nil
}

func (s *stubCache) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.store[key]; exists {
		return false, nil
	}
	s.store[key] = append([]byte(nil), value...)
	return true, nil
}

func (s *stubCache) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, key)
	return nil
}

func (s *stubCache) Close() error { return nil }

func jsonResponse(t *testing.T, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func TestSearchLogsSendsRangeAndDecodesEntries(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{
		BaseURL:  "https://example.com",
		LogsPath: "/api/v1/search/logs",
	})

	start := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v1/search/logs" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload["query"] != "service:checkout" {
			t.Fatalf("query = %v", payload["query"])
		}
		if payload["start"] != start.Format(time.RFC3339) {
			t.Fatalf("start = %v", payload["start"])
		}
		if payload["limit"].(float64) != 1000 {
			t.Fatalf("default limit = %v", payload["limit"])
		}
		return jsonResponse(t, map[string]any{
			"entries": []map[string]any{
				{"timestamp": start.Format(time.RFC3339), "message": "kaboom", "service": "checkout", "env": "prod", "severity": "error"},
			},
		}), nil
	})

	entries, err := client.SearchLogs(context.Background(), "service:checkout", start, end, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "kaboom" || entries[0].Service != "checkout" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestSearchLogsFollowsCursorUpToMaxPages(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{
		BaseURL:     "https://example.com",
		LogsPath:    "/api/v1/search/logs",
		LogMaxPages: 2,
	})

	start := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	calls := 0
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		calls++
		var payload map[string]any
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		switch calls {
		case 1:
			if _, ok := payload["cursor"]; ok {
				t.Fatalf("first page must not carry a cursor, got %v", payload["cursor"])
			}
			return jsonResponse(t, map[string]any{
				"entries": []map[string]any{
					{"timestamp": start.Format(time.RFC3339), "message": "page one", "service": "checkout"},
				},
				"cursor": "after-1",
			}), nil
		case 2:
			if payload["cursor"] != "after-1" {
				t.Fatalf("second page cursor = %v", payload["cursor"])
			}
			// Still more data upstream; the page cap must stop here.
			return jsonResponse(t, map[string]any{
				"entries": []map[string]any{
					{"timestamp": start.Format(time.RFC3339), "message": "page two", "service": "checkout"},
				},
				"cursor": "after-2",
			}), nil
		default:
			t.Fatalf("request %d exceeds the page cap", calls)
			return nil, nil
		}
	})

	entries, err := client.SearchLogs(context.Background(), "service:checkout", start, start.Add(time.Hour), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("upstream requests = %d, want 2", calls)
	}
	if len(entries) != 2 || entries[0].Message != "page one" || entries[1].Message != "page two" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestQueryMetricsErrorsOnNon200(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{
		BaseURL:     "https://example.com",
		MetricsPath: "/metrics",
	})
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Status:     "502 Bad Gateway",
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Header:     make(http.Header),
		}, nil
	})

	if _, err := client.QueryMetrics(context.Background(), "q", time.Now(), time.Now()); err == nil {
		t.Fatal("expected error for upstream 502")
	}
}

func TestGetMonitorCachesLookups(t *testing.T) {
	hits := 0
	client := NewHTTPClient(HTTPClientConfig{
		BaseURL:     "https://example.com",
		MonitorPath: "/monitors/get",
		Cache:       newStubCache(),
		MonitorTTL:  time.Minute,
	})
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		hits++
		return jsonResponse(t, map[string]any{
			"id":    int64(101),
			"name":  "checkout p95",
			"query": "p95:trace.checkout.request.duration{*}",
			"tags":  []string{"service:checkout"},
		}), nil
	})

	ctx := context.Background()
	first, err := client.GetMonitor(ctx, 101)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one upstream request, got %d", hits)
	}
	if first.Name != "checkout p95" {
		t.Fatalf("monitor = %+v", first)
	}

	cached, err := client.GetMonitor(ctx, 101)
	if err != nil {
		t.Fatalf("unexpected cached error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if cached.Query != first.Query {
		t.Fatalf("cached payload = %+v", cached)
	}
}

func TestSearchEventsCachesPerWindow(t *testing.T) {
	hits := 0
	client := NewHTTPClient(HTTPClientConfig{
		BaseURL:    "https://example.com",
		EventsPath: "/events",
		Cache:      newStubCache(),
		EventsTTL:  time.Minute,
	})
	start := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		hits++
		return jsonResponse(t, map[string]any{
			"events": []map[string]any{
				{"timestamp": start.Format(time.RFC3339), "title": "deploy"},
			},
		}), nil
	})

	ctx := context.Background()
	if _, err := client.SearchEvents(ctx, start, end, "service:checkout"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.SearchEvents(ctx, start, end, "service:checkout"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("same window should hit the cache; hits=%d", hits)
	}

	if _, err := client.SearchEvents(ctx, start.Add(time.Hour), end.Add(time.Hour), "service:checkout"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 2 {
		t.Fatalf("different window must bypass the cache; hits=%d", hits)
	}
}

func TestClientRequiresBaseURL(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{})
	if _, err := client.SearchLogs(context.Background(), "q", time.Now(), time.Now(), 10); err == nil {
		t.Fatal("expected error without a base URL")
	}
}
