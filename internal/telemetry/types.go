package telemetry

import "time"

// MetricPoint is a single metric sample.
type MetricPoint struct {
	Timestamp time.Time
	Value     float64
}

// MetricSeries groups samples under one metric name.
type MetricSeries struct {
	Name   string
	Points []MetricPoint
}

// LogEntry is one raw log record returned by the telemetry backend.
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Service   string
	Env       string
	Host      string
	Severity  string
	ErrorType string
	StackHash string
}

// SpanEntry captures the span fields used by APM analysis. Durations arrive
// normalised to milliseconds.
type SpanEntry struct {
	TraceID     string
	SpanID      string
	Service     string
	Resource    string
	Name        string
	Kind        string
	Type        string
	PeerService string
	DurationMs  float64
	Error       bool
	HTTPStatus  int
	Timestamp   time.Time
}

// Event is a deployment/config/autoscaling event.
type Event struct {
	Timestamp time.Time
	Title     string
	Text      string
	Tags      []string
	URL       string
}

// MonitorInfo describes the monitor that triggered an investigation.
type MonitorInfo struct {
	ID    int64
	Name  string
	Type  string
	Query string
	Tags  []string
}
