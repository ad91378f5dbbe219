package analyzers

import (
	"fmt"
	"sort"
	"time"

	"github.com/sleuthstack/sleuth-engine/internal/models"
	"github.com/sleuthstack/sleuth-engine/internal/telemetry"
)

// MetricSummary aggregates one window of samples for a metric.
type MetricSummary struct {
	Mean       float64
	Max        float64
	PeakTime   time.Time
	PointCount int
}

// Summarize flattens all series points into one summary. Zero points yields
// a zero summary with PointCount 0.
func Summarize(series []telemetry.MetricSeries) MetricSummary {
	var summary MetricSummary
	total := 0.0
	for _, s := range series {
		for _, p := range s.Points {
			if summary.PointCount == 0 || p.Value > summary.Max {
				summary.Max = p.Value
				summary.PeakTime = p.Timestamp
			}
			total += p.Value
			summary.PointCount++
		}
	}
	if summary.PointCount > 0 {
		summary.Mean = total / float64(summary.PointCount)
	}
	return summary
}

// PercentChange returns the relative change from baseline to incident, or
// nil when no comparison is possible.
func PercentChange(baseline, incident *float64) *float64 {
	if baseline == nil || incident == nil || *baseline == 0 {
		return nil
	}
	change := ((*incident - *baseline) / *baseline) * 100.0
	return &change
}

// MetricAnalyzer flags metrics whose incident-window statistics deviate from
// their baseline beyond a relative threshold.
type MetricAnalyzer struct {
	// DeviationPct is the minimum relative deviation (percent) of the
	// incident mean from the baseline mean to flag a metric.
	DeviationPct float64
	// StaticThreshold scores metrics with no usable baseline against an
	// absolute level. Zero disables the fallback.
	StaticThreshold float64
}

// NewMetricAnalyzer constructs an analyzer with the given thresholds;
// non-positive deviation falls back to 20%.
func NewMetricAnalyzer(deviationPct, staticThreshold float64) *MetricAnalyzer {
	if deviationPct <= 0 {
		deviationPct = 20
	}
	return &MetricAnalyzer{DeviationPct: deviationPct, StaticThreshold: staticThreshold}
}

// Analyze compares incident-window series against baseline series per metric
// name. Empty or missing baselines never error; they either use the static
// threshold or skip the metric.
func (a *MetricAnalyzer) Analyze(incident, baseline []telemetry.MetricSeries) []models.Candidate {
	if len(incident) == 0 {
		return nil
	}

	baselineByName := make(map[string][]telemetry.MetricSeries)
	for _, s := range baseline {
		baselineByName[s.Name] = append(baselineByName[s.Name], s)
	}
	incidentByName := make(map[string][]telemetry.MetricSeries)
	for _, s := range incident {
		incidentByName[s.Name] = append(incidentByName[s.Name], s)
	}

	names := make([]string, 0, len(incidentByName))
	for name := range incidentByName {
		names = append(names, name)
	}
	sort.Strings(names)

	candidates := make([]models.Candidate, 0)
	for _, name := range names {
		incSum := Summarize(incidentByName[name])
		if incSum.PointCount == 0 {
			continue
		}
		baseSum := Summarize(baselineByName[name])

		if baseSum.PointCount == 0 || baseSum.Mean == 0 {
			if cand, ok := a.staticCandidate(name, incSum); ok {
				candidates = append(candidates, cand)
			}
			continue
		}

		deviation := (incSum.Mean - baseSum.Mean) / baseSum.Mean * 100.0
		if abs(deviation) < a.DeviationPct {
			continue
		}

		candidates = append(candidates, models.Candidate{
			Kind:  models.CandidateMetric,
			Title: fmt.Sprintf("Metric deviation: %s", name),
			Score: clamp01(abs(deviation) / (a.DeviationPct * 5)),
			Evidence: map[string]any{
				"metric":         name,
				"baseline_mean":  baseSum.Mean,
				"incident_mean":  incSum.Mean,
				"baseline_max":   baseSum.Max,
				"incident_max":   incSum.Max,
				"percent_change": deviation,
				"peak_ts":        incSum.PeakTime,
			},
		})
	}
	return candidates
}

func (a *MetricAnalyzer) staticCandidate(name string, incSum MetricSummary) (models.Candidate, bool) {
	if a.StaticThreshold <= 0 || incSum.Mean <= a.StaticThreshold {
		return models.Candidate{}, false
	}
	excess := (incSum.Mean - a.StaticThreshold) / a.StaticThreshold
	return models.Candidate{
		Kind:  models.CandidateMetric,
		Title: fmt.Sprintf("Metric above static threshold: %s", name),
		Score: clamp01(0.2 + excess/5),
		Evidence: map[string]any{
			"metric":           name,
			"incident_mean":    incSum.Mean,
			"incident_max":     incSum.Max,
			"static_threshold": a.StaticThreshold,
			"peak_ts":          incSum.PeakTime,
		},
	}, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
