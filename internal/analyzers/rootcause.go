package analyzers

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

//go:embed data/rootcause_rules.yaml
var defaultRules []byte

// DefaultRootCauseConfidence is reported when no rule explains an incident.
const DefaultRootCauseConfidence = 0.5

// Rule maps incident traits onto a root cause hypothesis.
type Rule struct {
	ID         string    `yaml:"id"`
	Match      RuleMatch `yaml:"match"`
	Cause      string    `yaml:"cause"`
	Confidence float64   `yaml:"confidence"`
	Factors    []string  `yaml:"factors"`
	Remedy     string    `yaml:"remedy"`
	Urgency    string    `yaml:"urgency"`
	Resolution string    `yaml:"resolution"`
}

// RuleMatch holds optional matching attributes; empty attributes match
// anything.
type RuleMatch struct {
	Service  string   `yaml:"service"`
	Keywords []string `yaml:"keywords"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// RuleRootCauseAnalyzer picks the first rule matching an incident.
type RuleRootCauseAnalyzer struct {
	rules  []Rule
	logger *slog.Logger
}

// NewRuleRootCauseAnalyzer loads rules from path, or the built-in pack when
// path is empty.
func NewRuleRootCauseAnalyzer(path string, logger *slog.Logger) (*RuleRootCauseAnalyzer, error) {
	data := defaultRules
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, utils.NewAppError("analyzers.NewRuleRootCauseAnalyzer", "read rules", err)
		}
		data = raw
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, utils.NewAppError("analyzers.NewRuleRootCauseAnalyzer", "decode rules", err)
	}
	for _, rule := range cfg.Rules {
		if rule.Confidence < 0 || rule.Confidence > 1 {
			return nil, utils.NewAppError("analyzers.NewRuleRootCauseAnalyzer",
				fmt.Sprintf("rule %q confidence %.2f outside [0,1]", rule.ID, rule.Confidence), nil)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleRootCauseAnalyzer{rules: cfg.Rules, logger: logger}, nil
}

// Rules returns the number of loaded rules.
func (a *RuleRootCauseAnalyzer) Rules() int {
	return len(a.rules)
}

// Analyze proposes a root cause. Log and knowledge results are optional;
// when present they are listed as contributing factors.
func (a *RuleRootCauseAnalyzer) Analyze(ctx context.Context, service, description string, logs *models.LogAnalysis, knowledge *models.KnowledgeResult) (models.RootCause, error) {
	if err := ctx.Err(); err != nil {
		return models.RootCause{}, err
	}
	lower := strings.ToLower(description)

	for _, rule := range a.rules {
		if rule.Match.Service != "" && !strings.EqualFold(rule.Match.Service, service) {
			continue
		}
		if len(rule.Match.Keywords) > 0 && !containsAny(lower, rule.Match.Keywords) {
			continue
		}
		a.logger.Debug("root cause rule matched", "rule", rule.ID, "service", service)

		result := models.RootCause{
			Cause:               rule.Cause,
			Confidence:          rule.Confidence,
			ContributingFactors: appendUnique(nil, rule.Factors...),
			Remedy:              rule.Remedy,
			Urgency:             models.ParseSeverity(rule.Urgency),
			EstimatedResolution: rule.Resolution,
			RuleID:              rule.ID,
		}
		if logs.AnomaliesFound() {
			for _, anomaly := range logs.Anomalies {
				result.ContributingFactors = appendUnique(result.ContributingFactors, "Log anomaly: "+anomaly.Type)
			}
		}
		if n := knowledge.MatchCount(); n > 0 {
			result.ContributingFactors = appendUnique(result.ContributingFactors,
				fmt.Sprintf("%d similar historical incidents", n))
		}
		return result, nil
	}
	return DefaultRootCause(service), nil
}

// DefaultRootCause is the hypothesis used when nothing better is known.
func DefaultRootCause(service string) models.RootCause {
	return models.RootCause{
		Cause:               "Unknown root cause for " + service,
		Confidence:          DefaultRootCauseConfidence,
		ContributingFactors: []string{"No matching root cause rule"},
		Remedy:              "Manual investigation required",
		Urgency:             models.SeverityMedium,
		EstimatedResolution: "30 minutes",
	}
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
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
