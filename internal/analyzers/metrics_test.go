package analyzers

import (
	"testing"
	"time"

	"github.com/sleuthstack/sleuth-engine/internal/telemetry"
)

func series(name string, start time.Time, values ...float64) telemetry.MetricSeries {
	points := make([]telemetry.MetricPoint, 0, len(values))
	for i, v := range values {
		points = append(points, telemetry.MetricPoint{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Value:     v,
		})
	}
	return telemetry.MetricSeries{Name: name, Points: points}
}

func TestSummarize(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sum := Summarize([]telemetry.MetricSeries{series("m", start, 10, 30, 20)})

	if sum.PointCount != 3 {
		t.Fatalf("point count = %d", sum.PointCount)
	}
	if sum.Mean != 20 {
		t.Fatalf("mean = %.1f, want 20", sum.Mean)
	}
	if sum.Max != 30 {
		t.Fatalf("max = %.1f, want 30", sum.Max)
	}
	if !sum.PeakTime.Equal(start.Add(time.Minute)) {
		t.Fatalf("peak time = %s", sum.PeakTime)
	}

	empty := Summarize(nil)
	if empty.PointCount != 0 || empty.Mean != 0 {
		t.Fatalf("empty summary = %+v", empty)
	}
}

func TestPercentChange(t *testing.T) {
	base, inc := 100.0, 150.0
	change := PercentChange(&base, &inc)
	if change == nil || *change != 50 {
		t.Fatalf("change = %v, want 50", change)
	}

	zero := 0.0
	if PercentChange(&zero, &inc) != nil {
		t.Fatal("zero baseline must yield nil")
	}
	if PercentChange(nil, &inc) != nil {
		t.Fatal("nil baseline must yield nil")
	}
}

func TestMetricAnalyzerFlagsDeviations(t *testing.T) {
	analyzer := NewMetricAnalyzer(20, 0)
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	incident := []telemetry.MetricSeries{
		series("latency", start, 300, 300, 300),
		series("steady", start, 101, 99, 100),
	}
	baseline := []telemetry.MetricSeries{
		series("latency", start.Add(-time.Hour), 100, 100, 100),
		series("steady", start.Add(-time.Hour), 100, 100, 100),
	}

	candidates := analyzer.Analyze(incident, baseline)
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	c := candidates[0]
	if c.Title != "Metric deviation: latency" {
		t.Fatalf("title = %q", c.Title)
	}
	// 200% deviation against a 20% threshold should score well above half.
	if c.Score < 0.5 || c.Score > 1 {
		t.Fatalf("score = %.2f", c.Score)
	}
	if c.Evidence["percent_change"].(float64) != 200 {
		t.Fatalf("percent_change = %v", c.Evidence["percent_change"])
	}
}

func TestMetricAnalyzerStaticThresholdWithoutBaseline(t *testing.T) {
	analyzer := NewMetricAnalyzer(20, 50)
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	incident := []telemetry.MetricSeries{series("errors", start, 120, 120)}
	candidates := analyzer.Analyze(incident, nil)
	if len(candidates) != 1 {
		t.Fatalf("expected static candidate, got %d", len(candidates))
	}
	if candidates[0].Title != "Metric above static threshold: errors" {
		t.Fatalf("title = %q", candidates[0].Title)
	}

	// No baseline and no static threshold means the metric is skipped.
	strict := NewMetricAnalyzer(20, 0)
	if got := strict.Analyze(incident, nil); len(got) != 0 {
		t.Fatalf("expected no candidates, got %d", len(got))
	}
}

func TestMetricAnalyzerDeterministicOrder(t *testing.T) {
	analyzer := NewMetricAnalyzer(20, 0)
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	incident := []telemetry.MetricSeries{
		series("zeta", start, 300),
		series("alpha", start, 300),
	}
	baseline := []telemetry.MetricSeries{
		series("zeta", start.Add(-time.Hour), 100),
		series("alpha", start.Add(-time.Hour), 100),
	}

	first := analyzer.Analyze(incident, baseline)
	second := analyzer.Analyze(incident, baseline)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("candidate counts: %d, %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Title != second[i].Title {
			t.Fatalf("order differs at %d: %q vs %q", i, first[i].Title, second[i].Title)
		}
	}
	if first[0].Title != "Metric deviation: alpha" {
		t.Fatalf("expected alphabetical order, got %q first", first[0].Title)
	}
}
