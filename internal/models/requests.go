package models

import "time"

// MonitorSeed starts an investigation from a triggered monitor.
type MonitorSeed struct {
	MonitorID       int64
	TriggerTime     time.Time
	WindowMinutes   int
	BaselineMinutes int
}

// LogSeed starts an investigation from a log search anchored at a timestamp.
type LogSeed struct {
	Query           string
	AnchorTime      time.Time
	WindowMinutes   int
	BaselineMinutes int
}

// ServiceMode selects the primary symptom when investigating a service.
type ServiceMode string

const (
	ModeLatency ServiceMode = "latency"
	ModeErrors  ServiceMode = "errors"
)

// ServiceSeed starts an investigation from an explicit service/env/time range.
type ServiceSeed struct {
	Service string
	Env     string
	Start   time.Time
	End     time.Time
	Mode    ServiceMode
}
