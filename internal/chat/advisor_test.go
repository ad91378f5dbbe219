package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sleuthstack/sleuth-engine/internal/incident"
	"github.com/sleuthstack/sleuth-engine/internal/models"
)

func testIncident(t *testing.T) *incident.Context {
	t.Helper()
	registry := incident.NewRegistry()
	windows := models.WindowsEndingAt(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), 60, 60)
	ctx, _ := registry.Resolve(models.Scope{Service: "checkout", Env: "prod"}, windows)
	return ctx
}

func TestClassifyIntentCanonicalPhrases(t *testing.T) {
	cases := map[string]models.Intent{
		"What happened?":               models.IntentSummary,
		"What caused this?":            models.IntentRootCause,
		"Show me the logs":             models.IntentLogs,
		"How do I fix this?":           models.IntentRemediation,
		"When did this start?":         models.IntentTimeline,
		"How bad is this?":             models.IntentSeverity,
		"Are there dependency issues?": models.IntentDependency,
		"hello there":                  models.IntentGeneral,
	}
	for text, want := range cases {
		if got := ClassifyIntent(text); got != want {
			t.Errorf("ClassifyIntent(%q) = %s, want %s", text, got, want)
		}
	}
}

func TestClassifyIntentIsCaseInsensitive(t *testing.T) {
	if got := ClassifyIntent("WHY did the checkout break"); got != models.IntentRootCause {
		t.Fatalf("got %s", got)
	}
}

func TestStartSessionAppendsSingleSystemMessage(t *testing.T) {
	advisor := NewAdvisor(nil, nil)
	inv := testIncident(t)

	session := advisor.StartSession(inv)
	if !strings.HasPrefix(session.ID, "chat-") {
		t.Fatalf("session id = %q", session.ID)
	}
	if session.IncidentID != inv.ID() {
		t.Fatalf("session incident = %q, want %q", session.IncidentID, inv.ID())
	}

	history := inv.ChatHistory()
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Role != models.RoleSystem {
		t.Fatalf("first message role = %s", history[0].Role)
	}
}

func TestProcessMessageAppendsUserThenAssistant(t *testing.T) {
	advisor := NewAdvisor(nil, nil)
	inv := testIncident(t)
	advisor.StartSession(inv)

	questions := []string{"What happened?", "What caused this?", "How do I fix this?"}
	for _, q := range questions {
		resp := advisor.ProcessMessage(context.Background(), inv, q)
		if resp.Message == "" {
			t.Fatalf("empty answer for %q", q)
		}
	}

	history := inv.ChatHistory()
	if len(history) != 1+2*len(questions) {
		t.Fatalf("history length = %d, want %d", len(history), 1+2*len(questions))
	}
	for i := 1; i < len(history); i += 2 {
		if history[i].Role != models.RoleUser {
			t.Fatalf("message %d role = %s, want user", i, history[i].Role)
		}
		if history[i+1].Role != models.RoleAssistant {
			t.Fatalf("message %d role = %s, want assistant", i+1, history[i+1].Role)
		}
	}
}

func TestSummaryAndGeneralIncludeSuggestions(t *testing.T) {
	advisor := NewAdvisor(nil, nil)
	inv := testIncident(t)

	summary := advisor.ProcessMessage(context.Background(), inv, "What happened?")
	if summary.Intent != models.IntentSummary {
		t.Fatalf("intent = %s", summary.Intent)
	}
	if len(summary.Suggestions) == 0 {
		t.Fatal("summary must carry follow-up suggestions")
	}

	general := advisor.ProcessMessage(context.Background(), inv, "zzz")
	if general.Intent != models.IntentGeneral {
		t.Fatalf("intent = %s", general.Intent)
	}
	if len(general.Suggestions) == 0 {
		t.Fatal("general must carry follow-up suggestions")
	}
}

func TestRootCauseAnswerListsRankedCandidates(t *testing.T) {
	advisor := NewAdvisor(nil, nil)
	inv := testIncident(t)
	inv.AppendCandidates([]models.Candidate{
		{Kind: models.CandidateLogs, Title: "weaker signal", Score: 0.4},
		{Kind: models.CandidateDependency, Title: "orders-db regression", Score: 0.9},
	})

	resp := advisor.ProcessMessage(context.Background(), inv, "What caused this?")
	if resp.Intent != models.IntentRootCause {
		t.Fatalf("intent = %s", resp.Intent)
	}
	dbIdx := strings.Index(resp.Message, "orders-db regression")
	logIdx := strings.Index(resp.Message, "weaker signal")
	if dbIdx == -1 || logIdx == -1 {
		t.Fatalf("candidates missing from answer: %q", resp.Message)
	}
	if dbIdx > logIdx {
		t.Fatal("higher-scored candidate must be listed first")
	}
}

func TestDependencyAnswerFiltersKind(t *testing.T) {
	advisor := NewAdvisor(nil, nil)
	inv := testIncident(t)
	inv.AppendCandidates([]models.Candidate{
		{Kind: models.CandidateLogs, Title: "log noise", Score: 0.8},
		{Kind: models.CandidateDependency, Title: "redis saturation", Score: 0.6},
	})

	resp := advisor.ProcessMessage(context.Background(), inv, "Are there dependency issues?")
	if !strings.Contains(resp.Message, "redis saturation") {
		t.Fatalf("dependency candidate missing: %q", resp.Message)
	}
	if strings.Contains(resp.Message, "log noise") {
		t.Fatalf("non-dependency candidate leaked: %q", resp.Message)
	}
}

func TestTimelineAnswerUsesWindows(t *testing.T) {
	advisor := NewAdvisor(nil, nil)
	inv := testIncident(t)

	resp := advisor.ProcessMessage(context.Background(), inv, "When did this start?")
	windows := inv.Windows()
	if !strings.Contains(resp.Message, windows.IncidentStart.Format(time.RFC3339)) {
		t.Fatalf("incident start missing from %q", resp.Message)
	}
}

func TestSeverityAnswerUsesWorstPercentChange(t *testing.T) {
	advisor := NewAdvisor(nil, nil)
	inv := testIncident(t)
	change := 250.0
	inv.AppendSymptom(models.Symptom{Kind: models.SymptomLatency, PercentChange: &change})

	resp := advisor.ProcessMessage(context.Background(), inv, "How bad is this?")
	if !strings.Contains(resp.Message, "High severity") {
		t.Fatalf("expected high severity wording, got %q", resp.Message)
	}
}

func TestRecommendationsNeverEmptyAndBounded(t *testing.T) {
	advisor := NewAdvisor(nil, nil)
	inv := testIncident(t)

	recs := advisor.Recommendations(inv)
	if len(recs) == 0 {
		t.Fatal("recommendations must never be empty")
	}
	if len(recs) > 5 {
		t.Fatalf("recommendations = %d, cap is 5", len(recs))
	}
	for _, r := range recs {
		if strings.TrimSpace(r) == "" {
			t.Fatal("blank recommendation")
		}
	}

	inv.SetRecommendations([]string{"a", "", "b", "c", "d", "e", "f"})
	recs = advisor.Recommendations(inv)
	if len(recs) != 5 {
		t.Fatalf("stored recommendations should be filtered and capped to 5, got %d", len(recs))
	}
}
