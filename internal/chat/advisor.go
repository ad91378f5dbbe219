package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sleuthstack/sleuth-engine/internal/engine"
	"github.com/sleuthstack/sleuth-engine/internal/incident"
	"github.com/sleuthstack/sleuth-engine/internal/metrics"
	"github.com/sleuthstack/sleuth-engine/internal/models"
)

// intentRule maps trigger keywords to an intent. Rules are evaluated in
// order; the first keyword hit wins.
type intentRule struct {
	intent   models.Intent
	keywords []string
}

var intentRules = []intentRule{
	{models.IntentRootCause, []string{"cause", "why", "root", "culprit", "reason"}},
	{models.IntentRemediation, []string{"fix", "remediat", "resolve", "mitigat", "recover", "rollback"}},
	{models.IntentDependency, []string{"dependency", "dependencies", "downstream", "upstream", "database", "redis"}},
	{models.IntentTimeline, []string{"when", "timeline", "start", "began", "first"}},
	{models.IntentSeverity, []string{"how bad", "severity", "severe", "impact", "bad", "critical"}},
	{models.IntentLogs, []string{"log", "stack trace", "exception", "signature"}},
	{models.IntentSummary, []string{"happened", "summary", "summarize", "overview", "status", "going on"}},
}

// ClassifyIntent maps a free-form message to an intent. Unmatched messages
// fall through to GENERAL.
func ClassifyIntent(text string) models.Intent {
	normalized := strings.ToLower(text)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				return rule.intent
			}
		}
	}
	return models.IntentGeneral
}

// Advisor answers questions about an incident from its recorded state. An
// optional reasoning client enriches root-cause answers; its failures never
// surface to the user.
type Advisor struct {
	logger    *slog.Logger
	reasoning engine.ReasoningClient
}

// NewAdvisor constructs an Advisor. The reasoning client may be nil.
func NewAdvisor(logger *slog.Logger, reasoning engine.ReasoningClient) *Advisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{logger: logger, reasoning: reasoning}
}

// StartSession opens a chat session against an incident and appends the
// single system message that anchors the transcript.
func (a *Advisor) StartSession(inv *incident.Context) models.ChatSession {
	session := models.ChatSession{
		ID:         "chat-" + uuid.NewString(),
		IncidentID: inv.ID(),
		StartedAt:  time.Now().UTC(),
	}
	scope := inv.Scope()
	content := fmt.Sprintf("Investigation assistant for incident %s", inv.ID())
	if !scope.IsZero() {
		content = fmt.Sprintf("%s (%s/%s)", content, scope.Service, scope.Env)
	}
	inv.AppendChat(models.ChatMessage{Role: models.RoleSystem, Text: content})
	return session
}

// ProcessMessage classifies the user message, builds the reply from the
// incident's recorded evidence, and appends exactly one user and one
// assistant message to the transcript.
func (a *Advisor) ProcessMessage(ctx context.Context, inv *incident.Context, text string) models.ChatResponse {
	intent := ClassifyIntent(text)
	metrics.ObserveChatMessage(string(intent))

	response := a.answer(ctx, inv, intent)
	inv.AppendChat(
		models.ChatMessage{Role: models.RoleUser, Text: text},
		models.ChatMessage{Role: models.RoleAssistant, Text: response.Message},
	)
	return response
}

// Recommendations returns the incident's remediation guidance, deriving it
// on the fly when the pipeline has not stored any. Never empty.
func (a *Advisor) Recommendations(inv *incident.Context) []string {
	recs := inv.Recommendations()
	filtered := make([]string, 0, len(recs))
	for _, r := range recs {
		if strings.TrimSpace(r) != "" {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		filtered = engine.BuildRecommendations(nil, inv.Scope(), inv.Symptoms(), engine.RankedCandidates(inv))
	}
	if len(filtered) > engine.MaxRecommendations {
		filtered = filtered[:engine.MaxRecommendations]
	}
	return filtered
}

func (a *Advisor) answer(ctx context.Context, inv *incident.Context, intent models.Intent) models.ChatResponse {
	switch intent {
	case models.IntentSummary:
		return a.summaryAnswer(inv)
	case models.IntentRootCause:
		return a.rootCauseAnswer(ctx, inv)
	case models.IntentLogs:
		return a.logsAnswer(inv)
	case models.IntentRemediation:
		return a.remediationAnswer(inv)
	case models.IntentTimeline:
		return a.timelineAnswer(inv)
	case models.IntentSeverity:
		return a.severityAnswer(inv)
	case models.IntentDependency:
		return a.dependencyAnswer(inv)
	default:
		return a.generalAnswer(inv)
	}
}

func (a *Advisor) summaryAnswer(inv *incident.Context) models.ChatResponse {
	var b strings.Builder
	scope := inv.Scope()
	if scope.IsZero() {
		fmt.Fprintf(&b, "Incident %s is %s.", inv.ID(), inv.Status())
	} else {
		fmt.Fprintf(&b, "Incident %s on %s/%s is %s.", inv.ID(), scope.Service, scope.Env, inv.Status())
	}

	symptoms := inv.Symptoms()
	if len(symptoms) > 0 {
		fmt.Fprintf(&b, " Observed symptoms: ")
		for i, s := range symptoms {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(s.Description)
			if i == 2 {
				break
			}
		}
		b.WriteString(".")
	}
	if top := topCandidate(inv); top != nil {
		fmt.Fprintf(&b, " Leading candidate: %s (score %.2f).", top.Title, top.Score)
	}
	if len(symptoms) == 0 && topCandidate(inv) == nil {
		b.WriteString(" No symptoms or candidates recorded yet.")
	}
	return models.ChatResponse{
		Intent:  models.IntentSummary,
		Message: b.String(),
		Suggestions: []string{
			"What caused this?",
			"How do I fix this?",
			"When did this start?",
		},
	}
}

func (a *Advisor) rootCauseAnswer(ctx context.Context, inv *incident.Context) models.ChatResponse {
	ranked := engine.RankedCandidates(inv)
	var b strings.Builder
	if len(ranked) == 0 {
		b.WriteString("No root-cause candidates have been identified yet. Re-run the investigation once more telemetry is available.")
	} else {
		b.WriteString("Most likely causes, in order:")
		limit := 3
		if len(ranked) < limit {
			limit = len(ranked)
		}
		for i, c := range ranked[:limit] {
			fmt.Fprintf(&b, "\n%d. [%s, score %.2f] %s", i+1, c.Kind, c.Score, c.Title)
		}
	}

	if a.reasoning != nil {
		if answer, err := a.reasoning.Query(ctx, inv.ID(), "What is the most likely root cause?"); err != nil {
			a.logger.Warn("reasoning query failed", slog.String("incident_id", inv.ID()), slog.Any("error", err))
		} else if strings.TrimSpace(answer) != "" {
			fmt.Fprintf(&b, "\nReasoning service adds: %s", answer)
		}
	}

	return models.ChatResponse{
		Intent:      models.IntentRootCause,
		Message:     b.String(),
		Suggestions: []string{"Show me the logs", "Are there dependency issues?"},
	}
}

func (a *Advisor) logsAnswer(inv *incident.Context) models.ChatResponse {
	var lines []string
	for _, c := range engine.RankedCandidates(inv) {
		if c.Kind != models.CandidateLogs {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (score %.2f)", c.Title, c.Score))
		if len(lines) == 5 {
			break
		}
	}
	message := "No anomalous log signatures were found in the incident window."
	if len(lines) > 0 {
		message = "Anomalous log signatures:\n" + strings.Join(lines, "\n")
	}
	return models.ChatResponse{
		Intent:      models.IntentLogs,
		Message:     message,
		Suggestions: []string{"What caused this?", "How do I fix this?"},
	}
}

func (a *Advisor) remediationAnswer(inv *incident.Context) models.ChatResponse {
	recs := a.Recommendations(inv)
	var b strings.Builder
	b.WriteString("Suggested next steps:")
	for i, r := range recs {
		fmt.Fprintf(&b, "\n%d. %s", i+1, r)
	}
	return models.ChatResponse{
		Intent:      models.IntentRemediation,
		Message:     b.String(),
		Suggestions: []string{"What caused this?", "How bad is this?"},
	}
}

func (a *Advisor) timelineAnswer(inv *incident.Context) models.ChatResponse {
	windows := inv.Windows()
	var b strings.Builder
	fmt.Fprintf(&b, "The incident window runs %s to %s (baseline %s to %s).",
		windows.IncidentStart.Format(time.RFC3339),
		windows.IncidentEnd.Format(time.RFC3339),
		windows.BaselineStart.Format(time.RFC3339),
		windows.BaselineEnd.Format(time.RFC3339),
	)
	for _, s := range inv.Symptoms() {
		if !s.PeakTime.IsZero() {
			fmt.Fprintf(&b, " %s peaked at %s.", s.Kind, s.PeakTime.Format(time.RFC3339))
			break
		}
	}
	if first := firstEventCandidate(inv); first != nil {
		fmt.Fprintf(&b, " First change event in the window: %s.", first.Title)
	}
	return models.ChatResponse{
		Intent:      models.IntentTimeline,
		Message:     b.String(),
		Suggestions: []string{"What happened?", "What caused this?"},
	}
}

func (a *Advisor) severityAnswer(inv *incident.Context) models.ChatResponse {
	worst := 0.0
	var worstSym *models.Symptom
	symptoms := inv.Symptoms()
	for i := range symptoms {
		if pc := symptoms[i].PercentChange; pc != nil && abs(*pc) > worst {
			worst = abs(*pc)
			worstSym = &symptoms[i]
		}
	}

	var b strings.Builder
	switch {
	case worstSym == nil:
		b.WriteString("No quantified symptom deltas are recorded, so severity cannot be estimated from baselines.")
	case worst >= 100:
		fmt.Fprintf(&b, "High severity: %s changed %.0f%% against baseline.", worstSym.Kind, worst)
	case worst >= 30:
		fmt.Fprintf(&b, "Moderate severity: %s changed %.0f%% against baseline.", worstSym.Kind, worst)
	default:
		fmt.Fprintf(&b, "Low severity so far: %s changed %.0f%% against baseline.", worstSym.Kind, worst)
	}
	fmt.Fprintf(&b, " %d candidate causes and %d symptoms are on record.", len(inv.Candidates()), len(symptoms))
	return models.ChatResponse{
		Intent:      models.IntentSeverity,
		Message:     b.String(),
		Suggestions: []string{"How do I fix this?", "When did this start?"},
	}
}

func (a *Advisor) dependencyAnswer(inv *incident.Context) models.ChatResponse {
	var lines []string
	for _, c := range engine.RankedCandidates(inv) {
		if c.Kind != models.CandidateDependency {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (score %.2f)", c.Title, c.Score))
		if len(lines) == 5 {
			break
		}
	}
	message := "No downstream dependency anomalies were detected."
	if len(lines) > 0 {
		message = "Dependency anomalies:\n" + strings.Join(lines, "\n")
	}
	return models.ChatResponse{
		Intent:      models.IntentDependency,
		Message:     message,
		Suggestions: []string{"What caused this?", "Show me the logs"},
	}
}

func (a *Advisor) generalAnswer(inv *incident.Context) models.ChatResponse {
	message := fmt.Sprintf(
		"I can help investigate incident %s. Ask about the summary, root cause, logs, timeline, severity, dependencies, or remediation.",
		inv.ID(),
	)
	return models.ChatResponse{
		Intent:  models.IntentGeneral,
		Message: message,
		Suggestions: []string{
			"What happened?",
			"What caused this?",
			"How do I fix this?",
		},
	}
}

func topCandidate(inv *incident.Context) *models.Candidate {
	ranked := engine.RankedCandidates(inv)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}

func firstEventCandidate(inv *incident.Context) *models.Candidate {
	for _, c := range engine.RankedCandidates(inv) {
		if c.Kind == models.CandidateEvent {
			return &c
		}
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
