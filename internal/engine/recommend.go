package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sleuthstack/sleuth-engine/internal/models"
)

// MaxRecommendations caps the derived recommendation list.
const MaxRecommendations = 5

// RuleEngine applies operator-authored recommendation rules before the
// built-in heuristics.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single recommendation rule.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields
// always match.
type RuleMatch struct {
	Service       string   `yaml:"service"`
	SymptomKind   string   `yaml:"symptom_kind"`
	TitleContains []string `yaml:"title_contains"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. A missing file or empty
// path returns a nil engine, which matches nothing.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

// Recommend returns rule-based recommendations for the investigation state.
func (e *RuleEngine) Recommend(scope models.Scope, symptoms []models.Symptom, candidates []models.Candidate) []string {
	if e == nil {
		return nil
	}

	matched := make([]string, 0)
	for _, rule := range e.rules {
		if rule.Match.Service != "" && rule.Match.Service != scope.Service {
			continue
		}
		if rule.Match.SymptomKind != "" && !hasSymptomKind(rule.Match.SymptomKind, symptoms) {
			continue
		}
		if len(rule.Match.TitleContains) > 0 && !candidatesContain(rule.Match.TitleContains, candidates) {
			continue
		}
		matched = appendUnique(matched, rule.Recommendations...)
	}
	return matched
}

// BuildRecommendations combines rule hits with built-in heuristics and caps
// the result. It never returns an empty list and never a blank item: even
// with no findings the caller gets a suggestion for the obvious next signal.
func BuildRecommendations(rules *RuleEngine, scope models.Scope, symptoms []models.Symptom, candidates []models.Candidate) []string {
	recs := rules.Recommend(scope, symptoms, candidates)
	recs = appendUnique(recs, heuristicRecommendations(symptoms, candidates)...)
	if len(recs) == 0 {
		recs = appendUnique(recs,
			"Verify the investigation scope (service/env) and widen the time window",
			"Check the most recent deployments for regressions",
		)
	}
	if len(recs) > MaxRecommendations {
		recs = recs[:MaxRecommendations]
	}
	return recs
}

func heuristicRecommendations(symptoms []models.Symptom, candidates []models.Candidate) []string {
	recs := make([]string, 0, 4)
	for _, s := range symptoms {
		if s.PercentChange != nil && *s.PercentChange > 20 {
			recs = append(recs, "Confirm the regression start time using the incident window and the symptom peak timestamp")
			break
		}
	}

	var hasLogs, hasEvents, hasApm bool
	for _, c := range candidates {
		switch c.Kind {
		case models.CandidateLogs:
			hasLogs = true
		case models.CandidateEvent:
			hasEvents = true
		case models.CandidateEndpoint, models.CandidateDependency:
			hasApm = true
		}
	}

	if hasLogs {
		recs = append(recs, "Inspect the top log signatures and their trace correlation to identify the failing component")
	}
	if hasEvents {
		recs = append(recs, "Review deploy/config/autoscaling events near the incident start for temporal alignment")
	}
	if hasApm {
		recs = append(recs, "Pivot to the slowest endpoints and downstream services during the incident window")
	}
	return recs
}

func hasSymptomKind(kind string, symptoms []models.Symptom) bool {
	for _, s := range symptoms {
		if strings.EqualFold(kind, string(s.Kind)) {
			return true
		}
	}
	return false
}

func candidatesContain(keywords []string, candidates []models.Candidate) bool {
	for _, c := range candidates {
		title := strings.ToLower(c.Title)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(title, strings.ToLower(kw)) {
				return true
			}
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if strings.TrimSpace(item) == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
