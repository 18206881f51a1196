package engine

import (
	"fmt"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// DecisionConfig holds the thresholds of the decision stage.
type DecisionConfig struct {
	ConfidenceThreshold float64
	MaxRetries          int
}

// DefaultDecisionConfig returns the production thresholds.
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{ConfidenceThreshold: 0.8, MaxRetries: 3}
}

// Decide picks auto-mitigation or escalation from the analysis results on
// rec. Rules are evaluated in order and the first match wins. Missing
// results count as zero confidence, no anomalies and no similar incidents.
func Decide(rec models.Record, cfg DecisionConfig) (models.Decision, models.DecisionMetrics) {
	metrics := models.DecisionMetrics{
		Confidence:       rec.RootCause.ConfidenceOrZero(),
		AnomaliesFound:   rec.LogAnalysis.AnomaliesFound(),
		SimilarIncidents: rec.Knowledge.MatchCount(),
		RetryCount:       rec.RetryCount,
	}

	switch {
	case rec.RetryCount >= cfg.MaxRetries:
		metrics.EscalationReason = fmt.Sprintf("Max retries (%d) reached without finding anomalies", cfg.MaxRetries)
	case !metrics.AnomaliesFound:
		metrics.EscalationReason = "No anomalies detected in log analysis"
	case metrics.Confidence < cfg.ConfidenceThreshold:
		metrics.EscalationReason = fmt.Sprintf("Low confidence (%.2f) in root cause analysis", metrics.Confidence)
	case metrics.SimilarIncidents == 0:
		metrics.EscalationReason = "No similar historical incidents found for guidance"
	default:
		return models.DecisionAutoMitigation, metrics
	}
	return models.DecisionEscalation, metrics
}
