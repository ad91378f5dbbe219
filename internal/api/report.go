package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/sleuthstack/sleuth-engine/internal/engine"
	"github.com/sleuthstack/sleuth-engine/internal/incident"
	"github.com/sleuthstack/sleuth-engine/internal/models"
)

const reportCandidateLimit = 10

// renderReport produces a human-readable markdown summary of the incident:
// meta, windows, scope, symptoms, ranked candidates, and recommendations.
func renderReport(inv *incident.Context) string {
	var b strings.Builder
	windows := inv.Windows()
	scope := inv.Scope()

	b.WriteString("## Incident report\n\n")

	b.WriteString("### Meta\n")
	writeKV(&b, "id", inv.ID())
	writeKV(&b, "status", string(inv.Status()))
	if seedType, ok := inv.Metadata()["seed_type"].(string); ok {
		writeKV(&b, "seed_type", seedType)
	}
	writeKV(&b, "generated_at", time.Now().UTC().Format(time.RFC3339))
	b.WriteString("\n")

	b.WriteString("### Time windows\n")
	writeKV(&b, "incident_start", windows.IncidentStart.Format(time.RFC3339))
	writeKV(&b, "incident_end", windows.IncidentEnd.Format(time.RFC3339))
	writeKV(&b, "baseline_start", windows.BaselineStart.Format(time.RFC3339))
	writeKV(&b, "baseline_end", windows.BaselineEnd.Format(time.RFC3339))
	b.WriteString("\n")

	if !scope.IsZero() {
		b.WriteString("### Scope\n")
		writeKV(&b, "service", scope.Service)
		writeKV(&b, "env", scope.Env)
		b.WriteString("\n")
	}

	b.WriteString("### Symptoms\n")
	for _, s := range inv.Symptoms() {
		writeSymptom(&b, s)
	}
	b.WriteString("\n")

	b.WriteString("### Top candidates\n")
	ranked := engine.RankedCandidates(inv)
	if len(ranked) > reportCandidateLimit {
		ranked = ranked[:reportCandidateLimit]
	}
	for _, c := range ranked {
		fmt.Fprintf(&b, "- **%s** (score %.2f): %s\n", c.Kind, c.Score, c.Title)
	}
	b.WriteString("\n")

	if recs := inv.Recommendations(); len(recs) > 0 {
		b.WriteString("### Recommendations\n")
		for _, r := range recs {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	return b.String()
}

func writeKV(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- **%s**: %s\n", key, value)
}

func writeSymptom(b *strings.Builder, s models.Symptom) {
	fmt.Fprintf(b, "- **%s**: %s\n", s.Kind, s.Description)
	if s.BaselineValue != nil {
		fmt.Fprintf(b, "  - baseline: %.2f\n", *s.BaselineValue)
	}
	if s.IncidentValue != nil {
		fmt.Fprintf(b, "  - incident: %.2f\n", *s.IncidentValue)
	}
	if s.PercentChange != nil {
		fmt.Fprintf(b, "  - change: %.2f%%\n", *s.PercentChange)
	}
	if s.PeakValue != nil && !s.PeakTime.IsZero() {
		fmt.Fprintf(b, "  - peak: %.2f @ %s\n", *s.PeakValue, s.PeakTime.Format(time.RFC3339))
	}
}
