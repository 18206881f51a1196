package models

import "time"

// ParsedAlert is the structured view of a raw alert.
type ParsedAlert struct {
	Service     string   `json:"service"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Anomaly is a single suspicious log signature.
type Anomaly struct {
	Type      string   `json:"type"`
	Severity  Severity `json:"severity"`
	Pattern   string   `json:"pattern"`
	Frequency int      `json:"frequency"`
	TimeRange string   `json:"time_range,omitempty"`
}

// LogAnalysis is produced by the log_analysis stage.
type LogAnalysis struct {
	Service     string    `json:"service"`
	Anomalies   []Anomaly `json:"anomalies"`
	LogPatterns []string  `json:"log_patterns,omitempty"`
	Confidence  float64   `json:"analysis_confidence"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

// AnomaliesFound reports whether at least one anomaly was detected.
func (l *LogAnalysis) AnomaliesFound() bool {
	return l != nil && len(l.Anomalies) > 0
}

func (l *LogAnalysis) clone() *LogAnalysis {
	if l == nil {
		return nil
	}
	out := *l
	if l.Anomalies != nil {
		out.Anomalies = append([]Anomaly(nil), l.Anomalies...)
	}
	out.LogPatterns = cloneStrings(l.LogPatterns)
	return &out
}

// SimilarIncident is a ranked historical match.
type SimilarIncident struct {
	IncidentID      string   `json:"incident_id"`
	Service         string   `json:"service"`
	SimilarityScore float64  `json:"similarity_score"`
	RootCause       string   `json:"root_cause"`
	Solution        string   `json:"solution"`
	KeywordsMatched []string `json:"keywords_matched"`
}

// KnowledgeResult is produced by the knowledge_lookup stage.
type KnowledgeResult struct {
	Matches              []SimilarIncident `json:"similar_incidents"`
	TotalMatches         int               `json:"total_matches"`
	Confidence           float64           `json:"confidence"`
	RecommendedSolutions []string          `json:"recommended_solutions,omitempty"`
}

// MatchCount returns the number of similar incidents, treating nil as zero.
func (k *KnowledgeResult) MatchCount() int {
	if k == nil {
		return 0
	}
	return k.TotalMatches
}

func (k *KnowledgeResult) clone() *KnowledgeResult {
	if k == nil {
		return nil
	}
	out := *k
	if k.Matches != nil {
		out.Matches = make([]SimilarIncident, len(k.Matches))
		for i, m := range k.Matches {
			m.KeywordsMatched = cloneStrings(m.KeywordsMatched)
			out.Matches[i] = m
		}
	}
	out.RecommendedSolutions = cloneStrings(k.RecommendedSolutions)
	return &out
}

// RootCause is produced by the root_cause stage.
type RootCause struct {
	Cause               string   `json:"root_cause"`
	Confidence          float64  `json:"confidence"`
	ContributingFactors []string `json:"contributing_factors,omitempty"`
	Remedy              string   `json:"recommended_solution"`
	Urgency             Severity `json:"urgency,omitempty"`
	EstimatedResolution string   `json:"estimated_resolution_time,omitempty"`
	RuleID              string   `json:"rule_id,omitempty"`
}

// ConfidenceOrZero returns the confidence, treating nil as no opinion (0).
func (r *RootCause) ConfidenceOrZero() float64 {
	if r == nil {
		return 0
	}
	return r.Confidence
}

func (r *RootCause) clone() *RootCause {
	if r == nil {
		return nil
	}
	out := *r
	out.ContributingFactors = cloneStrings(r.ContributingFactors)
	return &out
}

// CoordinationSummary aggregates whichever analyses were present at the join.
type CoordinationSummary struct {
	TotalAnomalies      int      `json:"total_anomalies"`
	SimilarIncidents    int      `json:"similar_incidents_count"`
	RootCauseConfidence float64  `json:"ai_confidence"`
	AnalysesCompleted   []string `json:"analyses_completed"`
	AnalysesMissing     []string `json:"analyses_missing,omitempty"`
	FailedStages        []string `json:"failed_stages,omitempty"`
}

func (c *CoordinationSummary) clone() *CoordinationSummary {
	if c == nil {
		return nil
	}
	out := *c
	out.AnalysesCompleted = cloneStrings(c.AnalysesCompleted)
	out.AnalysesMissing = cloneStrings(c.AnalysesMissing)
	out.FailedStages = cloneStrings(c.FailedStages)
	return &out
}

// DecisionMetrics explains the decision stage outcome.
type DecisionMetrics struct {
	Confidence       float64 `json:"confidence"`
	AnomaliesFound   bool    `json:"anomalies_found"`
	SimilarIncidents int     `json:"similar_incidents_count"`
	RetryCount       int     `json:"retry_count"`
	EscalationReason string  `json:"escalation_reason"`
}

func (d *DecisionMetrics) clone() *DecisionMetrics {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}

// Mitigation execution statuses.
const (
	MitigationSuccess = "SUCCESS"
	MitigationFailed  = "FAILED"
)

// MitigationResult is produced by the mitigation stage.
type MitigationResult struct {
	Actions            []string          `json:"actions_taken"`
	Status             string            `json:"execution_status"`
	VerificationChecks map[string]string `json:"verification_checks,omitempty"`
	CompletedAt        time.Time         `json:"completed_at"`
}

func (m *MitigationResult) clone() *MitigationResult {
	if m == nil {
		return nil
	}
	out := *m
	out.Actions = cloneStrings(m.Actions)
	if m.VerificationChecks != nil {
		out.VerificationChecks = make(map[string]string, len(m.VerificationChecks))
		for k, v := range m.VerificationChecks {
			out.VerificationChecks[k] = v
		}
	}
	return &out
}

// EscalationContext is the digest handed to human operators.
type EscalationContext struct {
	Service           string   `json:"service"`
	Severity          Severity `json:"severity"`
	Description       string   `json:"description"`
	Confidence        float64  `json:"confidence"`
	AnomaliesDetected int      `json:"anomalies_detected"`
	SimilarIncidents  int      `json:"similar_incidents"`
	SuspectedCause    string   `json:"ai_root_cause,omitempty"`
	SuggestedRemedy   string   `json:"suggested_solution,omitempty"`
}

// EscalationResult is produced by the escalation stage.
type EscalationResult struct {
	Reason      string            `json:"escalation_reason"`
	AssignedTo  string            `json:"assigned_to"`
	Priority    Severity          `json:"priority"`
	Context     EscalationContext `json:"context_provided"`
	EscalatedAt time.Time         `json:"escalation_time"`
}

func (e *EscalationResult) clone() *EscalationResult {
	if e == nil {
		return nil
	}
	out := *e
	return &out
}

// ReportStatus is the final disposition of an incident.
type ReportStatus string

const (
	StatusResolved  ReportStatus = "RESOLVED"
	StatusEscalated ReportStatus = "ESCALATED"
)

// FinalReport is produced by the communicator stage.
type FinalReport struct {
	IncidentID       string           `json:"incident_id"`
	Service          string           `json:"service"`
	Severity         Severity         `json:"severity"`
	Decision         Decision         `json:"decision"`
	Status           ReportStatus     `json:"status"`
	Resolution       string           `json:"resolution"`
	ActionsTaken     []string         `json:"actions_taken,omitempty"`
	EscalationReason string           `json:"escalation_reason,omitempty"`
	AssignedTo       string           `json:"assigned_to,omitempty"`
	Metrics          *DecisionMetrics `json:"metrics,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

func (f *FinalReport) clone() *FinalReport {
	if f == nil {
		return nil
	}
	out := *f
	out.ActionsTaken = cloneStrings(f.ActionsTaken)
	out.Metrics = f.Metrics.clone()
	return &out
}
