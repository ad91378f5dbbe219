package models

import "time"

// Scope pins evidence to a service/environment pair. Both fields are optional
// but correlation only groups events whose scopes match exactly.
type Scope struct {
	Service string
	Env     string
}

// IsZero reports whether no scope information is present.
func (s Scope) IsZero() bool {
	return s.Service == "" && s.Env == ""
}

// Key returns the correlation key for the scope. Matching is case-sensitive.
func (s Scope) Key() string {
	return s.Service + "\x00" + s.Env
}

// SymptomKind enumerates observed symptom categories.
type SymptomKind string

const (
	SymptomLatency      SymptomKind = "latency"
	SymptomErrorRate    SymptomKind = "error_rate"
	SymptomLogSignature SymptomKind = "log_signature"
	SymptomMetric       SymptomKind = "metric"
	SymptomEvent        SymptomKind = "event"
)

// Symptom records one observation made while gathering evidence. Symptoms are
// append-only on a context; they form the audit trail of an investigation.
type Symptom struct {
	Kind          SymptomKind
	Description   string
	EvidenceRef   string
	BaselineValue *float64
	IncidentValue *float64
	PercentChange *float64
	PeakTime      time.Time
	PeakValue     *float64
	ObservedAt    time.Time
}

// CandidateKind enumerates the closed set of candidate sources.
type CandidateKind string

const (
	CandidateDependency CandidateKind = "dependency"
	CandidateMetric     CandidateKind = "metric"
	CandidateLogs       CandidateKind = "logs"
	CandidateEndpoint   CandidateKind = "endpoint"
	CandidateEvent      CandidateKind = "event"
)

// kindPriority is the total tie-break order used when candidate scores are
// equal. Lower ranks first. Unknown kinds sort after every known kind.
var kindPriority = map[CandidateKind]int{
	CandidateDependency: 0,
	CandidateMetric:     1,
	CandidateLogs:       2,
	CandidateEndpoint:   3,
	CandidateEvent:      4,
}

// KindRank returns the tie-break rank for a candidate kind.
func KindRank(kind CandidateKind) int {
	if rank, ok := kindPriority[kind]; ok {
		return rank
	}
	return len(kindPriority)
}

// Candidate is one scored, evidence-backed explanation for an incident.
type Candidate struct {
	Kind     CandidateKind
	Title    string
	Score    float64
	Evidence map[string]any
}

// ChatRole enumerates conversation participants.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one entry in a context's append-only conversation log.
type ChatMessage struct {
	Role      ChatRole
	Text      string
	Timestamp time.Time
}

// ChatSession is a handle onto a conversation; the incident context remains
// the single source of truth for history.
type ChatSession struct {
	ID         string
	IncidentID string
	StartedAt  time.Time
}

// Intent is the fixed category a free-text question is classified into.
type Intent string

const (
	IntentSummary     Intent = "summary"
	IntentRootCause   Intent = "root_cause"
	IntentLogs        Intent = "logs"
	IntentRemediation Intent = "remediation"
	IntentTimeline    Intent = "timeline"
	IntentSeverity    Intent = "severity"
	IntentDependency  Intent = "dependency"
	IntentGeneral     Intent = "general"
)

// ChatResponse is the advisor's answer to one message.
type ChatResponse struct {
	Intent      Intent
	Message     string
	Suggestions []string
}

// IncidentStatus enumerates context lifecycle states.
type IncidentStatus string

const (
	StatusOpen   IncidentStatus = "open"
	StatusClosed IncidentStatus = "closed"
)
