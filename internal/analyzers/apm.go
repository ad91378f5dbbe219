package analyzers

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sleuthstack/sleuth-engine/internal/models"
	"github.com/sleuthstack/sleuth-engine/internal/telemetry"
)

const (
	maxEndpointCandidates   = 5
	maxDependencyCandidates = 7
	sampleTraceLimit        = 5
)

// ApmAnalyzer summarizes spans per endpoint and downstream dependency and
// flags groups that regressed against their baseline.
type ApmAnalyzer struct {
	// LatencyDeltaMs is the p95 regression that maps to a full-score
	// endpoint candidate.
	LatencyDeltaMs float64
	// ErrorRateDelta is the error-rate increase that maps to a full score.
	ErrorRateDelta float64
	// DependencyDurationMs scales total-duration growth for dependencies.
	DependencyDurationMs float64
}

// NewApmAnalyzer constructs an analyzer with defaults matching typical
// request-path latencies.
func NewApmAnalyzer() *ApmAnalyzer {
	return &ApmAnalyzer{
		LatencyDeltaMs:       500,
		ErrorRateDelta:       0.5,
		DependencyDurationMs: 2000,
	}
}

type spanGroup struct {
	count      int
	errorCount int
	durations  []float64
	traceIDs   []string
}

func (g *spanGroup) errorRate() float64 {
	if g.count == 0 {
		return 0
	}
	return float64(g.errorCount) / float64(g.count)
}

func (g *spanGroup) avgMs() float64 {
	if len(g.durations) == 0 {
		return 0
	}
	total := 0.0
	for _, d := range g.durations {
		total += d
	}
	return total / float64(len(g.durations))
}

func (g *spanGroup) totalMs() float64 {
	total := 0.0
	for _, d := range g.durations {
		total += d
	}
	return total
}

func (g *spanGroup) p95Ms() float64 {
	return percentileOf(g.durations, 95)
}

// Analyze compares incident spans against baseline spans. Server-kind spans
// group by resource into endpoint candidates; client-kind spans group by
// dependency into dependency candidates. Empty input yields no candidates.
func (a *ApmAnalyzer) Analyze(incident, baseline []telemetry.SpanEntry, mode models.ServiceMode) []models.Candidate {
	if len(incident) == 0 {
		return nil
	}
	if mode == "" {
		mode = models.ModeLatency
	}

	incServer, incClient := splitByKind(incident)
	baseServer, baseClient := splitByKind(baseline)

	endpointsInc := groupByResource(fallback(incServer, incident))
	endpointsBase := groupByResource(fallback(baseServer, baseline))
	depsInc := groupByDependency(incClient)
	depsBase := groupByDependency(baseClient)

	candidates := a.endpointCandidates(endpointsInc, endpointsBase, mode)
	candidates = append(candidates, a.dependencyCandidates(depsInc, depsBase)...)
	return candidates
}

func (a *ApmAnalyzer) endpointCandidates(incident, baseline map[string]*spanGroup, mode models.ServiceMode) []models.Candidate {
	type row struct {
		delta    float64
		resource string
		inc      *spanGroup
		base     *spanGroup
	}

	rows := make([]row, 0, len(incident))
	for resource, inc := range incident {
		base := baseline[resource]
		var delta float64
		if mode == models.ModeErrors {
			baseRate := 0.0
			if base != nil {
				baseRate = base.errorRate()
			}
			delta = inc.errorRate() - baseRate
		} else {
			baseP95 := 0.0
			if base != nil {
				baseP95 = base.p95Ms()
			}
			delta = inc.p95Ms() - baseP95
		}
		rows = append(rows, row{delta: delta, resource: resource, inc: inc, base: base})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].delta != rows[j].delta {
			return rows[i].delta > rows[j].delta
		}
		return rows[i].resource < rows[j].resource
	})

	divisor := a.LatencyDeltaMs
	if mode == models.ModeErrors {
		divisor = a.ErrorRateDelta
	}

	candidates := make([]models.Candidate, 0, maxEndpointCandidates)
	for _, r := range rows {
		if len(candidates) >= maxEndpointCandidates {
			break
		}
		if r.delta <= 0 {
			continue
		}
		score := math.Min(0.95, r.delta/divisor)
		evidence := map[string]any{
			"resource":          r.resource,
			"count":             r.inc.count,
			"error_rate":        r.inc.errorRate(),
			"avg_duration_ms":   r.inc.avgMs(),
			"p95_ms":            r.inc.p95Ms(),
			"delta":             r.delta,
			"sample_trace_ids":  r.inc.traceIDs,
			"baseline_p95_ms":   0.0,
			"baseline_err_rate": 0.0,
		}
		if r.base != nil {
			evidence["baseline_p95_ms"] = r.base.p95Ms()
			evidence["baseline_err_rate"] = r.base.errorRate()
		}
		candidates = append(candidates, models.Candidate{
			Kind:     models.CandidateEndpoint,
			Title:    fmt.Sprintf("Endpoint regression: %s", r.resource),
			Score:    clamp01(score),
			Evidence: evidence,
		})
	}
	return candidates
}

func (a *ApmAnalyzer) dependencyCandidates(incident, baseline map[string]*spanGroup) []models.Candidate {
	type row struct {
		durDelta float64
		errDelta float64
		dep      string
		inc      *spanGroup
		base     *spanGroup
	}

	rows := make([]row, 0, len(incident))
	for dep, inc := range incident {
		base := baseline[dep]
		baseDur, baseErr := 0.0, 0.0
		if base != nil {
			baseDur = base.totalMs()
			baseErr = base.errorRate()
		}
		rows = append(rows, row{
			durDelta: inc.totalMs() - baseDur,
			errDelta: inc.errorRate() - baseErr,
			dep:      dep,
			inc:      inc,
			base:     base,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].durDelta != rows[j].durDelta {
			return rows[i].durDelta > rows[j].durDelta
		}
		if rows[i].errDelta != rows[j].errDelta {
			return rows[i].errDelta > rows[j].errDelta
		}
		return rows[i].dep < rows[j].dep
	})

	candidates := make([]models.Candidate, 0, maxDependencyCandidates)
	for _, r := range rows {
		if len(candidates) >= maxDependencyCandidates {
			break
		}
		if r.durDelta <= 0 && r.errDelta <= 0 {
			continue
		}
		score := r.durDelta/a.DependencyDurationMs + r.errDelta/a.ErrorRateDelta
		candidates = append(candidates, models.Candidate{
			Kind:  models.CandidateDependency,
			Title: fmt.Sprintf("Downstream suspect: %s", r.dep),
			Score: clamp01(math.Min(0.99, score)),
			Evidence: map[string]any{
				"dependency":        r.dep,
				"count":             r.inc.count,
				"error_rate":        r.inc.errorRate(),
				"avg_duration_ms":   r.inc.avgMs(),
				"duration_delta_ms": r.durDelta,
				"error_rate_delta":  r.errDelta,
				"sample_trace_ids":  r.inc.traceIDs,
			},
		})
	}
	return candidates
}

func splitByKind(spans []telemetry.SpanEntry) (server, client []telemetry.SpanEntry) {
	for _, s := range spans {
		switch strings.ToLower(s.Kind) {
		case "server":
			server = append(server, s)
		case "client":
			client = append(client, s)
		}
	}
	return server, client
}

func fallback(primary, all []telemetry.SpanEntry) []telemetry.SpanEntry {
	if len(primary) > 0 {
		return primary
	}
	return all
}

func groupByResource(spans []telemetry.SpanEntry) map[string]*spanGroup {
	groups := make(map[string]*spanGroup)
	for _, s := range spans {
		if s.Resource == "" {
			continue
		}
		addToGroup(groups, s.Resource, s)
	}
	return groups
}

func groupByDependency(spans []telemetry.SpanEntry) map[string]*spanGroup {
	groups := make(map[string]*spanGroup)
	for _, s := range spans {
		key := dependencyKey(s)
		if key == "" {
			continue
		}
		addToGroup(groups, key, s)
	}
	return groups
}

// dependencyKey is coarse on purpose: peer service when present, otherwise
// the span type ("db", "redis", "http"), otherwise the operation name.
func dependencyKey(s telemetry.SpanEntry) string {
	if s.PeerService != "" {
		return "peer_service:" + s.PeerService
	}
	if s.Type != "" {
		return "type:" + s.Type
	}
	if s.Name != "" {
		return "name:" + s.Name
	}
	return ""
}

func addToGroup(groups map[string]*spanGroup, key string, s telemetry.SpanEntry) {
	g, ok := groups[key]
	if !ok {
		g = &spanGroup{}
		groups[key] = g
	}
	g.count++
	if s.Error {
		g.errorCount++
	}
	if s.DurationMs > 0 {
		g.durations = append(g.durations, s.DurationMs)
	}
	if s.TraceID != "" && len(g.traceIDs) < sampleTraceLimit {
		g.traceIDs = append(g.traceIDs, s.TraceID)
	}
}

func percentileOf(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	xs := append([]float64(nil), values...)
	sort.Float64s(xs)
	if p <= 0 {
		return xs[0]
	}
	if p >= 100 {
		return xs[len(xs)-1]
	}
	k := float64(len(xs)-1) * (p / 100.0)
	f := math.Floor(k)
	c := math.Ceil(k)
	if f == c {
		return xs[int(k)]
	}
	return xs[int(f)]*(c-k) + xs[int(c)]*(k-f)
}
