package analyzers

import (
	"fmt"
	"sort"
	"time"

	"github.com/sleuthstack/sleuth-engine/internal/models"
	"github.com/sleuthstack/sleuth-engine/internal/telemetry"
)

const maxEventCandidates = 20

// EventAnalyzer surfaces deploy/config/autoscaling events inside the
// incident window. Events are weak signals on their own; a change close to
// the window start scores higher than one late in the window.
type EventAnalyzer struct{}

// NewEventAnalyzer constructs an EventAnalyzer.
func NewEventAnalyzer() *EventAnalyzer {
	return &EventAnalyzer{}
}

// Analyze converts events within the incident window into candidates sorted
// by time, capped at 20. Empty input yields an empty list.
func (a *EventAnalyzer) Analyze(events []telemetry.Event, windows models.Windows) []models.Candidate {
	inWindow := make([]telemetry.Event, 0, len(events))
	for _, e := range events {
		if e.Timestamp.IsZero() {
			continue
		}
		if e.Timestamp.Before(windows.IncidentStart) || !e.Timestamp.Before(windows.IncidentEnd) {
			continue
		}
		inWindow = append(inWindow, e)
	}
	sort.SliceStable(inWindow, func(i, j int) bool {
		return inWindow[i].Timestamp.Before(inWindow[j].Timestamp)
	})
	if len(inWindow) > maxEventCandidates {
		inWindow = inWindow[:maxEventCandidates]
	}

	span := windows.IncidentEnd.Sub(windows.IncidentStart)
	candidates := make([]models.Candidate, 0, len(inWindow))
	for _, e := range inWindow {
		candidates = append(candidates, models.Candidate{
			Kind:  models.CandidateEvent,
			Title: fmt.Sprintf("Change event: %s", e.Title),
			Score: eventScore(e.Timestamp, windows.IncidentStart, span),
			Evidence: map[string]any{
				"title":     e.Title,
				"text":      truncate(e.Text, 1500),
				"tags":      e.Tags,
				"url":       e.URL,
				"timestamp": e.Timestamp,
			},
		})
	}
	return candidates
}

func eventScore(ts, start time.Time, span time.Duration) float64 {
	if span <= 0 {
		return 0.3
	}
	// 0.5 at window start, fading to 0.2 at window end.
	position := float64(ts.Sub(start)) / float64(span)
	return clamp01(0.5 - 0.3*position)
}

func truncate(s string, limit int) string {
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
