package analyzers

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sleuthstack/sleuth-engine/internal/models"
	"github.com/sleuthstack/sleuth-engine/internal/telemetry"
)

// Masking patterns, applied specific before generic so that e.g. a UUID is
// not half-eaten by the number mask first.
var (
	uuidPattern      = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	timestampPattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?\b`)
	hexPattern       = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`)
	longHexPattern   = regexp.MustCompile(`\b[0-9a-fA-F]{16,}\b`)
	ipPattern        = regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`)
	numPattern       = regexp.MustCompile(`\b\d+\b`)
	wsPattern        = regexp.MustCompile(`\s+`)
)

const (
	maxTemplateLen = 500
	maxExampleLen  = 1000
)

// NormalizeMessage masks variable tokens so that structurally identical
// messages collapse to one template.
func NormalizeMessage(msg string) string {
	s := strings.TrimSpace(msg)
	s = uuidPattern.ReplaceAllString(s, "<uuid>")
	s = timestampPattern.ReplaceAllString(s, "<ts>")
	s = hexPattern.ReplaceAllString(s, "<hex>")
	s = longHexPattern.ReplaceAllString(s, "<hex>")
	s = ipPattern.ReplaceAllString(s, "<ip>")
	s = numPattern.ReplaceAllString(s, "<num>")
	s = wsPattern.ReplaceAllString(s, " ")
	if len(s) > maxTemplateLen {
		s = s[:maxTemplateLen]
	}
	return s
}

// Fingerprint derives the stable cluster key for a template.
func Fingerprint(template string) string {
	sum := sha1.Sum([]byte(template))
	return hex.EncodeToString(sum[:])[:12]
}

// LogAnalyzer clusters raw log lines into templates and scores each
// cluster's anomalousness against a baseline window.
type LogAnalyzer struct{}

// NewLogAnalyzer constructs a LogAnalyzer.
func NewLogAnalyzer() *LogAnalyzer {
	return &LogAnalyzer{}
}

// ClusterLogs groups entries by masked template. Input order is irrelevant;
// output is sorted by template so repeated calls are deterministic. Empty
// input yields an empty list.
func (a *LogAnalyzer) ClusterLogs(entries []telemetry.LogEntry) []models.LogCluster {
	byFingerprint := make(map[string]*models.LogCluster)

	for _, entry := range entries {
		template := buildTemplate(entry)
		fp := Fingerprint(template)

		cluster, ok := byFingerprint[fp]
		if !ok {
			example := entry.Message
			if len(example) > maxExampleLen {
				example = example[:maxExampleLen]
			}
			cluster = &models.LogCluster{
				Fingerprint: fp,
				Template:    template,
				FirstSeen:   entry.Timestamp,
				Example:     example,
			}
			byFingerprint[fp] = cluster
		}
		cluster.CountIncident++
		if !entry.Timestamp.IsZero() && (cluster.FirstSeen.IsZero() || entry.Timestamp.Before(cluster.FirstSeen)) {
			cluster.FirstSeen = entry.Timestamp
		}
	}

	clusters := make([]models.LogCluster, 0, len(byFingerprint))
	for _, c := range byFingerprint {
		clusters = append(clusters, *c)
	}
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Template < clusters[j].Template
	})
	return clusters
}

// MergeBaselineCounts clusters the baseline entries with the same template
// logic and fills CountBaseline on matching incident clusters. Baseline-only
// templates are dropped.
func (a *LogAnalyzer) MergeBaselineCounts(clusters []models.LogCluster, baseline []telemetry.LogEntry) []models.LogCluster {
	if len(clusters) == 0 || len(baseline) == 0 {
		return clusters
	}

	baselineCounts := make(map[string]int)
	for _, c := range a.ClusterLogs(baseline) {
		baselineCounts[c.Fingerprint] = c.CountIncident
	}

	merged := make([]models.LogCluster, len(clusters))
	for i, c := range clusters {
		c.CountBaseline = baselineCounts[c.Fingerprint]
		merged[i] = c
	}
	return merged
}

// RankClusters orders clusters by novelty ratio then incident volume,
// descending, and truncates to limit.
func (a *LogAnalyzer) RankClusters(clusters []models.LogCluster, limit int) []models.LogCluster {
	ranked := append([]models.LogCluster(nil), clusters...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := noveltyRatio(ranked[i]), noveltyRatio(ranked[j])
		if ri != rj {
			return ri > rj
		}
		if ranked[i].CountIncident != ranked[j].CountIncident {
			return ranked[i].CountIncident > ranked[j].CountIncident
		}
		return ranked[i].Template < ranked[j].Template
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// ScoreClusters converts ranked clusters into log candidates.
func (a *LogAnalyzer) ScoreClusters(clusters []models.LogCluster, limit int) []models.Candidate {
	if limit > 0 && len(clusters) > limit {
		clusters = clusters[:limit]
	}

	candidates := make([]models.Candidate, 0, len(clusters))
	for _, c := range clusters {
		title := c.Template
		if len(title) > 120 {
			title = title[:120]
		}
		candidates = append(candidates, models.Candidate{
			Kind:  models.CandidateLogs,
			Title: fmt.Sprintf("Log signature spike: %s", title),
			Score: c.AnomalyScore(),
			Evidence: map[string]any{
				"fingerprint":    c.Fingerprint,
				"template":       c.Template,
				"count_incident": c.CountIncident,
				"count_baseline": c.CountBaseline,
				"first_seen":     c.FirstSeen,
				"example":        c.Example,
			},
		})
	}
	return candidates
}

// buildTemplate prefers structured error fields over the raw message; a
// stack hash keeps distinct failure paths apart without bloating templates.
func buildTemplate(entry telemetry.LogEntry) string {
	parts := make([]string, 0, 3)
	if entry.ErrorType != "" {
		parts = append(parts, "type="+NormalizeMessage(entry.ErrorType))
	}
	parts = append(parts, "msg="+NormalizeMessage(entry.Message))
	if entry.StackHash != "" {
		parts = append(parts, "stack="+entry.StackHash)
	}
	template := strings.Join(parts, " | ")
	if len(template) > maxTemplateLen {
		template = template[:maxTemplateLen]
	}
	return template
}

func noveltyRatio(c models.LogCluster) float64 {
	if c.CountBaseline == 0 {
		if c.CountIncident > 0 {
			return 9999.0
		}
		return 0
	}
	return float64(c.CountIncident) / float64(c.CountBaseline)
}
