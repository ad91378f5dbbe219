package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type seriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type metricSeries struct {
	Name   string        `json:"name"`
	Points []seriesPoint `json:"points"`
}

type logEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Service   string    `json:"service"`
	Env       string    `json:"env"`
	Severity  string    `json:"severity"`
	ErrorType string    `json:"error_type"`
}

type spanEntry struct {
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
}

type changeEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Tags      []string  `json:"tags"`
	URL       string    `json:"url"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/query/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"series": []metricSeries{
				{
					Name: "trace.checkout.request.duration",
					Points: []seriesPoint{
						{Timestamp: time.Now().Add(-4 * time.Minute), Value: 120},
						{Timestamp: time.Now().Add(-3 * time.Minute), Value: 480},
						{Timestamp: time.Now().Add(-2 * time.Minute), Value: 910},
					},
				},
			},
		})
	})

	mux.HandleFunc("/api/v1/search/logs", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"entries": []logEntry{
				{Timestamp: time.Now().Add(-3 * time.Minute), Message: "checkout failed to reach payments: connection refused to 10.2.3.4", Service: "checkout", Env: "prod", Severity: "error", ErrorType: "ConnectionError"},
				{Timestamp: time.Now().Add(-2 * time.Minute), Message: "retry 3 exhausted for order 8842", Service: "checkout", Env: "prod", Severity: "warn"},
			},
		})
	})

	mux.HandleFunc("/api/v1/search/spans", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"spans": []spanEntry{
				{
					TraceID:    "trace-abc",
					SpanID:     "span-1",
					Service:    "checkout",
					Resource:   "POST /payments",
					Name:       "http.request",
					Kind:       "server",
					Type:       "web",
					DurationMs: 950,
					Error:      true,
					HTTPStatus: 502,
					Timestamp:  time.Now().Add(-90 * time.Second),
				},
				{
					TraceID:     "trace-abc",
					SpanID:      "span-2",
					Service:     "checkout",
					Resource:    "UPDATE orders",
					Name:        "postgres.query",
					Kind:        "client",
					Type:        "db",
					PeerService: "orders-db",
					DurationMs:  740,
					Timestamp:   time.Now().Add(-80 * time.Second),
				},
			},
		})
	})

	mux.HandleFunc("/api/v1/search/events", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"events": []changeEvent{
				{
					Timestamp: time.Now().Add(-5 * time.Minute),
					Title:     "Deployed checkout v2.14.0",
					Text:      "rollout via spinnaker",
					Tags:      []string{"service:checkout", "env:prod"},
					URL:       "http://localhost/deploys/2140",
				},
			},
		})
	})

	mux.HandleFunc("/api/v1/monitors/get", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"id":    101,
			"name":  "checkout p95 latency",
			"type":  "metric alert",
			"query": "p95:trace.checkout.request.duration{service:checkout,env:prod} > 800",
			"tags":  []string{"service:checkout", "env:prod"},
		})
	})

	logger := log.New(log.Writer(), "telemetry-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":9090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :9090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
