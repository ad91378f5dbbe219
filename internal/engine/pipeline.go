package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sleuthstack/sleuth-engine/internal/analyzers"
	"github.com/sleuthstack/sleuth-engine/internal/incident"
	"github.com/sleuthstack/sleuth-engine/internal/metrics"
	"github.com/sleuthstack/sleuth-engine/internal/models"
	"github.com/sleuthstack/sleuth-engine/internal/telemetry"
	"github.com/sleuthstack/sleuth-engine/internal/utils"
)

// ReasoningClient is the external reasoning/ingestion collaborator surface
// the pipeline pushes findings to. The investigation result never depends on
// its answers.
type ReasoningClient interface {
	Ingest(ctx context.Context, contextID, docID, text string, metadata map[string]any) error
	Query(ctx context.Context, contextID, question string) (string, error)
}

// Limits bounds telemetry fetches per investigation and supplies the window
// sizes used when a seed omits them.
type Limits struct {
	LogLimit        int
	SpanLimit       int
	MaxLogClusters  int
	WindowMinutes   int
	BaselineMinutes int
}

func (l Limits) withDefaults() Limits {
	if l.LogLimit <= 0 {
		l.LogLimit = 1000
	}
	if l.SpanLimit <= 0 {
		l.SpanLimit = 1000
	}
	if l.MaxLogClusters <= 0 {
		l.MaxLogClusters = 10
	}
	if l.WindowMinutes <= 0 {
		l.WindowMinutes = 60
	}
	if l.BaselineMinutes <= 0 {
		l.BaselineMinutes = l.WindowMinutes
	}
	return l
}

// seedWindows builds anchored windows, filling unset sizes from the
// configured defaults.
func (p *Investigator) seedWindows(anchor time.Time, windowMinutes, baselineMinutes int) models.Windows {
	if windowMinutes <= 0 {
		windowMinutes = p.limits.WindowMinutes
	}
	if baselineMinutes <= 0 {
		baselineMinutes = p.limits.BaselineMinutes
	}
	return models.WindowsEndingAt(anchor, windowMinutes, baselineMinutes)
}

// Investigator runs the evidence-gathering pipeline behind the three seed
// entry points. Every upstream failure degrades to an absent signal; the
// pipeline itself never fails an investigation.
type Investigator struct {
	logger         *slog.Logger
	telemetry      telemetry.Client
	reasoning      ReasoningClient
	registry       *incident.Registry
	rules          *RuleEngine
	logAnalyzer    *analyzers.LogAnalyzer
	metricAnalyzer *analyzers.MetricAnalyzer
	apmAnalyzer    *analyzers.ApmAnalyzer
	eventAnalyzer  *analyzers.EventAnalyzer
	limits         Limits
}

// NewInvestigator constructs the investigation pipeline. The registry and
// telemetry client are required; reasoning and rules may be nil.
func NewInvestigator(
	logger *slog.Logger,
	telemetryClient telemetry.Client,
	reasoningClient ReasoningClient,
	registry *incident.Registry,
	rules *RuleEngine,
	metricAnalyzer *analyzers.MetricAnalyzer,
	apmAnalyzer *analyzers.ApmAnalyzer,
	limits Limits,
) *Investigator {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = incident.NewRegistry()
	}
	if metricAnalyzer == nil {
		metricAnalyzer = analyzers.NewMetricAnalyzer(0, 0)
	}
	if apmAnalyzer == nil {
		apmAnalyzer = analyzers.NewApmAnalyzer()
	}
	return &Investigator{
		logger:         logger,
		telemetry:      telemetryClient,
		reasoning:      reasoningClient,
		registry:       registry,
		rules:          rules,
		logAnalyzer:    analyzers.NewLogAnalyzer(),
		metricAnalyzer: metricAnalyzer,
		apmAnalyzer:    apmAnalyzer,
		eventAnalyzer:  analyzers.NewEventAnalyzer(),
		limits:         limits.withDefaults(),
	}
}

// Registry exposes the active-incident index for lookup, chat, and close.
func (p *Investigator) Registry() *incident.Registry {
	return p.registry
}

// RankedCandidates returns the context's candidates merged and ranked. The
// stored list is append-only; ordering happens on read.
func RankedCandidates(ctx *incident.Context) []models.Candidate {
	return MergeAndRank(ctx.Candidates())
}

// AnalyzeFromMonitor investigates a triggered monitor: windows anchor at the
// trigger time, scope derives from the monitor's tags, and the monitor query
// becomes the primary metric symptom.
func (p *Investigator) AnalyzeFromMonitor(ctx context.Context, seed models.MonitorSeed) (*incident.Context, error) {
	if p.telemetry == nil {
		return nil, utils.NewAppError("investigate.monitor", "telemetry client not configured", nil)
	}
	start := time.Now()

	windows := p.seedWindows(seed.TriggerTime, seed.WindowMinutes, seed.BaselineMinutes)

	var scope models.Scope
	var metricQuery string
	monitor, err := p.telemetry.GetMonitor(ctx, seed.MonitorID)
	if err != nil {
		p.logger.Warn("monitor lookup failed", slog.Int64("monitor_id", seed.MonitorID), slog.Any("error", err))
	} else {
		scope = scopeFromTags(monitor.Tags)
		metricQuery = strings.TrimSpace(monitor.Query)
	}

	inv, created := p.registry.Resolve(scope, windows)
	metrics.ObserveCorrelation(created)
	// When correlation attached to an existing context, evidence is gathered
	// for that context's windows, not the seed's.
	windows = inv.Windows()

	if metricQuery != "" {
		if sym, ok := p.metricSymptom(ctx, metricQuery, symptomKindFromQuery(metricQuery), windows); ok {
			inv.AppendSymptom(sym)
		}
	}

	inv.SetMetadata("seed_type", "monitor")
	inv.SetMetadata("monitor_id", seed.MonitorID)
	if monitor.Name != "" {
		inv.SetMetadata("monitor_name", monitor.Name)
	}

	p.gatherEvidence(ctx, inv, defaultLogQuery(scope), metricQuery, models.ModeLatency)
	p.finish(ctx, inv)
	metrics.ObserveInvestigation(time.Since(start), metrics.OutcomeSuccess)
	return inv, nil
}

// AnalyzeFromLogs investigates from a log query anchored at a timestamp; the
// scope is inferred from the matching entries and the primary symptom is the
// log volume delta between windows.
func (p *Investigator) AnalyzeFromLogs(ctx context.Context, seed models.LogSeed) (*incident.Context, error) {
	if p.telemetry == nil {
		return nil, utils.NewAppError("investigate.logs", "telemetry client not configured", nil)
	}
	if strings.TrimSpace(seed.Query) == "" {
		return nil, utils.NewAppError("investigate.logs", "log query is required", nil)
	}
	start := time.Now()

	windows := p.seedWindows(seed.AnchorTime, seed.WindowMinutes, seed.BaselineMinutes)

	incidentLogs := p.fetchLogs(ctx, seed.Query, windows.IncidentStart, windows.IncidentEnd)
	baselineLogs := p.fetchLogs(ctx, seed.Query, windows.BaselineStart, windows.BaselineEnd)

	scope := scopeFromLogs(incidentLogs)
	inv, created := p.registry.Resolve(scope, windows)
	metrics.ObserveCorrelation(created)
	// The scope fetch above used the seed's windows; when correlation attached
	// to an existing context, refetch so the evidence stays inside the
	// context's fixed windows.
	if inv.Windows() != windows {
		windows = inv.Windows()
		incidentLogs = p.fetchLogs(ctx, seed.Query, windows.IncidentStart, windows.IncidentEnd)
		baselineLogs = p.fetchLogs(ctx, seed.Query, windows.BaselineStart, windows.BaselineEnd)
	}

	baseCount := float64(len(baselineLogs))
	incCount := float64(len(incidentLogs))
	sym := models.Symptom{
		Kind:          models.SymptomLogSignature,
		Description:   fmt.Sprintf("Log volume for %q: %d incident vs %d baseline", seed.Query, len(incidentLogs), len(baselineLogs)),
		EvidenceRef:   seed.Query,
		BaselineValue: &baseCount,
		IncidentValue: &incCount,
		PercentChange: analyzers.PercentChange(nonZero(baseCount), &incCount),
	}
	inv.AppendSymptom(sym)

	inv.SetMetadata("seed_type", "logs")
	inv.SetMetadata("log_query", seed.Query)

	p.analyzeLogEntries(inv, incidentLogs, baselineLogs)
	p.gatherSpansAndEvents(ctx, inv, models.ModeLatency)
	p.finish(ctx, inv)
	metrics.ObserveInvestigation(time.Since(start), metrics.OutcomeSuccess)
	return inv, nil
}

// AnalyzeFromService investigates an explicit service/env/time range; Mode
// selects whether latency or error-rate metrics seed the primary symptom.
func (p *Investigator) AnalyzeFromService(ctx context.Context, seed models.ServiceSeed) (*incident.Context, error) {
	if p.telemetry == nil {
		return nil, utils.NewAppError("investigate.service", "telemetry client not configured", nil)
	}
	if seed.Service == "" {
		return nil, utils.NewAppError("investigate.service", "service is required", nil)
	}
	windows, err := models.WindowsBetween(seed.Start, seed.End)
	if err != nil {
		return nil, utils.NewAppError("investigate.service", err.Error(), err)
	}
	if seed.Mode == "" {
		seed.Mode = models.ModeLatency
	}
	start := time.Now()

	scope := models.Scope{Service: seed.Service, Env: seed.Env}
	inv, created := p.registry.Resolve(scope, windows)
	metrics.ObserveCorrelation(created)
	windows = inv.Windows()

	metricQuery, kind := serviceMetricQuery(scope, seed.Mode)
	if sym, ok := p.metricSymptom(ctx, metricQuery, kind, windows); ok {
		inv.AppendSymptom(sym)
	}

	inv.SetMetadata("seed_type", "service")
	inv.SetMetadata("mode", string(seed.Mode))

	logQuery := defaultLogQuery(scope)
	if seed.Mode == models.ModeErrors {
		logQuery = errorLogQuery(scope)
	}

	p.gatherEvidence(ctx, inv, logQuery, metricQuery, seed.Mode)
	p.finish(ctx, inv)
	metrics.ObserveInvestigation(time.Since(start), metrics.OutcomeSuccess)
	return inv, nil
}

// gatherEvidence fetches and analyzes logs, metrics, spans, and events for
// the context's own windows.
func (p *Investigator) gatherEvidence(ctx context.Context, inv *incident.Context, logQuery, metricQuery string, mode models.ServiceMode) {
	windows := inv.Windows()

	incidentLogs := p.fetchLogs(ctx, logQuery, windows.IncidentStart, windows.IncidentEnd)
	baselineLogs := p.fetchLogs(ctx, logQuery, windows.BaselineStart, windows.BaselineEnd)
	inv.SetMetadata("log_query_used", logQuery)
	p.analyzeLogEntries(inv, incidentLogs, baselineLogs)

	if metricQuery != "" {
		incidentSeries := p.fetchMetrics(ctx, metricQuery, windows.IncidentStart, windows.IncidentEnd)
		baselineSeries := p.fetchMetrics(ctx, metricQuery, windows.BaselineStart, windows.BaselineEnd)
		if cands := p.metricAnalyzer.Analyze(incidentSeries, baselineSeries); len(cands) > 0 {
			inv.AppendCandidates(cands)
		}
	}

	p.gatherSpansAndEvents(ctx, inv, mode)
}

func (p *Investigator) analyzeLogEntries(inv *incident.Context, incidentLogs, baselineLogs []telemetry.LogEntry) {
	clusters := p.logAnalyzer.ClusterLogs(incidentLogs)
	clusters = p.logAnalyzer.MergeBaselineCounts(clusters, baselineLogs)
	top := p.logAnalyzer.RankClusters(clusters, p.limits.MaxLogClusters)
	if len(top) == 0 {
		return
	}

	inv.AppendSymptom(models.Symptom{
		Kind:        models.SymptomLogSignature,
		Description: fmt.Sprintf("Top log signature: %s", top[0].Template),
		EvidenceRef: top[0].Fingerprint,
	})
	inv.AppendCandidates(p.logAnalyzer.ScoreClusters(top, p.limits.MaxLogClusters))
}

// gatherSpansAndEvents runs APM attribution and change-event analysis. APM
// requires a full service/env scope; its absence or failure degrades to no
// candidates.
func (p *Investigator) gatherSpansAndEvents(ctx context.Context, inv *incident.Context, mode models.ServiceMode) {
	windows := inv.Windows()
	scope := inv.Scope()

	if scope.Service != "" && scope.Env != "" {
		query := fmt.Sprintf("service:%s env:%s", scope.Service, scope.Env)
		incidentSpans, incErr := p.telemetry.SearchSpans(ctx, query, windows.IncidentStart, windows.IncidentEnd, p.limits.SpanLimit)
		baselineSpans, baseErr := p.telemetry.SearchSpans(ctx, query, windows.BaselineStart, windows.BaselineEnd, p.limits.SpanLimit)
		if incErr != nil || baseErr != nil {
			p.logger.Warn("span search degraded", slog.Any("incident_error", incErr), slog.Any("baseline_error", baseErr))
		}
		if cands := p.apmAnalyzer.Analyze(incidentSpans, baselineSpans, mode); len(cands) > 0 {
			inv.AppendCandidates(cands)
		}
	}

	events, err := p.telemetry.SearchEvents(ctx, windows.IncidentStart, windows.IncidentEnd, eventTagQuery(scope))
	if err != nil {
		p.logger.Warn("event search degraded", slog.Any("error", err))
		return
	}
	if cands := p.eventAnalyzer.Analyze(events, windows); len(cands) > 0 {
		inv.AppendCandidates(cands)
		inv.AppendSymptom(models.Symptom{
			Kind:        models.SymptomEvent,
			Description: fmt.Sprintf("%d change events inside the incident window", len(cands)),
		})
	}
}

// finish derives recommendations and hands a findings digest to the
// reasoning collaborator. Both steps tolerate partial state.
func (p *Investigator) finish(ctx context.Context, inv *incident.Context) {
	symptoms := inv.Symptoms()
	ranked := RankedCandidates(inv)
	inv.SetRecommendations(BuildRecommendations(p.rules, inv.Scope(), symptoms, ranked))

	if p.reasoning == nil {
		return
	}
	docID := "digest-" + uuid.NewString()
	digest := findingsDigest(inv, symptoms, ranked)
	meta := map[string]any{
		"incident_id": inv.ID(),
		"service":     inv.Scope().Service,
		"env":         inv.Scope().Env,
	}
	if err := p.reasoning.Ingest(ctx, inv.ID(), docID, digest, meta); err != nil {
		p.logger.Warn("reasoning ingest failed", slog.String("incident_id", inv.ID()), slog.Any("error", err))
	}
}

func (p *Investigator) fetchLogs(ctx context.Context, query string, start, end time.Time) []telemetry.LogEntry {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	entries, err := p.telemetry.SearchLogs(ctx, query, start, end, p.limits.LogLimit)
	if err != nil {
		p.logger.Warn("log search degraded", slog.String("query", query), slog.Any("error", err))
		return nil
	}
	return entries
}

func (p *Investigator) fetchMetrics(ctx context.Context, query string, start, end time.Time) []telemetry.MetricSeries {
	series, err := p.telemetry.QueryMetrics(ctx, query, start, end)
	if err != nil {
		p.logger.Warn("metric query degraded", slog.String("query", query), slog.Any("error", err))
		return nil
	}
	return series
}

func (p *Investigator) metricSymptom(ctx context.Context, query string, kind models.SymptomKind, windows models.Windows) (models.Symptom, bool) {
	baseSeries := p.fetchMetrics(ctx, query, windows.BaselineStart, windows.BaselineEnd)
	incSeries := p.fetchMetrics(ctx, query, windows.IncidentStart, windows.IncidentEnd)

	baseSum := analyzers.Summarize(baseSeries)
	incSum := analyzers.Summarize(incSeries)
	if baseSum.PointCount == 0 && incSum.PointCount == 0 {
		return models.Symptom{}, false
	}

	sym := models.Symptom{
		Kind:        kind,
		Description: fmt.Sprintf("Metric signal for %q", query),
		EvidenceRef: query,
		PeakTime:    incSum.PeakTime,
	}
	if baseSum.PointCount > 0 {
		mean := baseSum.Mean
		sym.BaselineValue = &mean
	}
	if incSum.PointCount > 0 {
		mean := incSum.Mean
		peak := incSum.Max
		sym.IncidentValue = &mean
		sym.PeakValue = &peak
	}
	sym.PercentChange = analyzers.PercentChange(sym.BaselineValue, sym.IncidentValue)
	return sym, true
}

func findingsDigest(inv *incident.Context, symptoms []models.Symptom, ranked []models.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident %s", inv.ID())
	if scope := inv.Scope(); !scope.IsZero() {
		fmt.Fprintf(&b, " (%s/%s)", scope.Service, scope.Env)
	}
	b.WriteString("\n")
	for _, s := range symptoms {
		fmt.Fprintf(&b, "symptom[%s]: %s\n", s.Kind, s.Description)
	}
	limit := 10
	if len(ranked) < limit {
		limit = len(ranked)
	}
	for _, c := range ranked[:limit] {
		fmt.Fprintf(&b, "candidate[%s %.2f]: %s\n", c.Kind, c.Score, c.Title)
	}
	return b.String()
}

func scopeFromTags(tags []string) models.Scope {
	var scope models.Scope
	for _, tag := range tags {
		if v, ok := strings.CutPrefix(tag, "service:"); ok && scope.Service == "" {
			scope.Service = v
		}
		if v, ok := strings.CutPrefix(tag, "env:"); ok && scope.Env == "" {
			scope.Env = v
		}
	}
	return scope
}

func scopeFromLogs(entries []telemetry.LogEntry) models.Scope {
	var scope models.Scope
	for _, e := range entries {
		if scope.Service == "" && e.Service != "" {
			scope.Service = e.Service
		}
		if scope.Env == "" && e.Env != "" {
			scope.Env = e.Env
		}
		if scope.Service != "" && scope.Env != "" {
			break
		}
	}
	return scope
}

func symptomKindFromQuery(query string) models.SymptomKind {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "p95"), strings.Contains(q, "p99"),
		strings.Contains(q, "latency"), strings.Contains(q, "duration"):
		return models.SymptomLatency
	case strings.Contains(q, "error"), strings.Contains(q, "5xx"),
		strings.Contains(q, "exceptions"):
		return models.SymptomErrorRate
	default:
		return models.SymptomMetric
	}
}

func serviceMetricQuery(scope models.Scope, mode models.ServiceMode) (string, models.SymptomKind) {
	tags := make([]string, 0, 2)
	if scope.Service != "" {
		tags = append(tags, "service:"+scope.Service)
	}
	if scope.Env != "" {
		tags = append(tags, "env:"+scope.Env)
	}
	tagExpr := "{" + strings.Join(tags, ",") + "}"

	if mode == models.ModeErrors {
		return fmt.Sprintf("sum:trace.%s.request.errors%s.as_count()", scope.Service, tagExpr), models.SymptomErrorRate
	}
	return fmt.Sprintf("p95:trace.%s.request.duration%s", scope.Service, tagExpr), models.SymptomLatency
}

func defaultLogQuery(scope models.Scope) string {
	parts := make([]string, 0, 3)
	if scope.Service != "" {
		parts = append(parts, "service:"+scope.Service)
	}
	if scope.Env != "" {
		parts = append(parts, "env:"+scope.Env)
	}
	parts = append(parts, "(status:error OR level:error OR http.status_code:[500 TO 599])")
	return strings.Join(parts, " ")
}

func errorLogQuery(scope models.Scope) string {
	parts := make([]string, 0, 3)
	if scope.Service != "" {
		parts = append(parts, "service:"+scope.Service)
	}
	if scope.Env != "" {
		parts = append(parts, "env:"+scope.Env)
	}
	parts = append(parts, "(error OR exception OR level:error OR status:error)")
	return strings.Join(parts, " ")
}

func eventTagQuery(scope models.Scope) string {
	tags := make([]string, 0, 2)
	if scope.Service != "" {
		tags = append(tags, "service:"+scope.Service)
	}
	if scope.Env != "" {
		tags = append(tags, "env:"+scope.Env)
	}
	return strings.Join(tags, ",")
}

func nonZero(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
