package analyzers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
)

const maxLogPatterns = 5

type anomalySignature struct {
	keywords  []string
	anomaly   models.Anomaly
	templates []string
}

var defaultSignatures = []anomalySignature{
	{
		keywords: []string{"timeout", "database"},
		anomaly: models.Anomaly{
			Type: "database_timeout", Severity: models.SeverityHigh,
			Pattern: "Connection timeout after 30s", Frequency: 15, TimeRange: "10:25-10:30",
		},
		templates: []string{"ERROR: %s - Connection timeout after 30s", "WARN: %s - Connection pool exhausted"},
	},
	{
		keywords: []string{"memory", "leak"},
		anomaly: models.Anomaly{
			Type: "memory_leak", Severity: models.SeverityHigh,
			Pattern: "Memory usage increasing continuously", Frequency: 8, TimeRange: "10:20-10:30",
		},
		templates: []string{"WARN: %s - Memory usage at 95%%", "ERROR: %s - OutOfMemoryError"},
	},
	{
		keywords: []string{"error", "failure"},
		anomaly: models.Anomaly{
			Type: "error_spike", Severity: models.SeverityMedium,
			Pattern: "Error rate above threshold", Frequency: 25, TimeRange: "10:25-10:30",
		},
		templates: []string{"ERROR: %s - Request failed with 500", "ERROR: %s - Internal server error"},
	},
	{
		keywords: []string{"network", "connection"},
		anomaly: models.Anomaly{
			Type: "network_issue", Severity: models.SeverityMedium,
			Pattern: "Connection failures detected", Frequency: 12, TimeRange: "10:28-10:30",
		},
		templates: []string{"ERROR: %s - Connection refused", "WARN: %s - Network timeout"},
	},
}

// PatternLogAnalyzer flags anomalies from keywords in the incident
// description. It stands in for a real log backend.
type PatternLogAnalyzer struct {
	signatures []anomalySignature
	now        func() time.Time
}

// NewPatternLogAnalyzer returns an analyzer with the built-in signatures.
func NewPatternLogAnalyzer() *PatternLogAnalyzer {
	return &PatternLogAnalyzer{signatures: defaultSignatures, now: time.Now}
}

// Analyze reports anomalies and representative log lines for service.
func (a *PatternLogAnalyzer) Analyze(ctx context.Context, service, description string) (models.LogAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return models.LogAnalysis{}, err
	}
	lower := strings.ToLower(description)

	var anomalies []models.Anomaly
	var patterns []string
	for _, sig := range a.signatures {
		if !containsAny(lower, sig.keywords) {
			continue
		}
		anomalies = append(anomalies, sig.anomaly)
		for _, tmpl := range sig.templates {
			patterns = append(patterns, fmt.Sprintf(tmpl, service))
		}
	}
	if len(patterns) > maxLogPatterns {
		patterns = patterns[:maxLogPatterns]
	}

	confidence := 0.3
	if len(anomalies) > 0 {
		confidence = 0.85
	}
	return models.LogAnalysis{
		Service:     service,
		Anomalies:   anomalies,
		LogPatterns: patterns,
		Confidence:  confidence,
		AnalyzedAt:  a.now().UTC(),
	}, nil
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
