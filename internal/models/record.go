package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome of the decision stage.
type Decision string

const (
	DecisionAutoMitigation Decision = "auto_mitigation"
	DecisionEscalation     Decision = "escalation"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	return d == DecisionAutoMitigation || d == DecisionEscalation
}

// Severity captures incident impact levels.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity maps free-form text onto a Severity, defaulting to MEDIUM.
func ParseSeverity(value string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(value))) {
	case SeverityLow:
		return SeverityLow
	case SeverityHigh:
		return SeverityHigh
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// UnknownService is the sentinel service name for alerts that could not be attributed.
const UnknownService = "unknown"

// Record is the incident record threaded through one workflow run.
//
// Identity fields are set by NewRecord and never change. Every other field is
// written by exactly one stage through an Update; the workflow executor is the
// only code that mutates a Record once a run has started.
type Record struct {
	IncidentID string    `json:"incident_id"`
	RawAlert   string    `json:"raw_alert"`
	CreatedAt  time.Time `json:"created_at"`

	Service     string   `json:"service,omitempty"`
	Severity    Severity `json:"severity,omitempty"`
	Description string   `json:"description,omitempty"`

	LogAnalysis *LogAnalysis     `json:"log_analysis_result,omitempty"`
	Knowledge   *KnowledgeResult `json:"knowledge_result,omitempty"`
	RootCause   *RootCause       `json:"root_cause_result,omitempty"`

	Coordination *CoordinationSummary `json:"coordination_summary,omitempty"`

	Decision         Decision         `json:"decision,omitempty"`
	DecisionMetrics  *DecisionMetrics `json:"decision_metrics,omitempty"`
	EscalationReason string           `json:"escalation_reason,omitempty"`

	Mitigation  *MitigationResult `json:"mitigation_result,omitempty"`
	Escalation  *EscalationResult `json:"escalation_result,omitempty"`
	FinalReport *FinalReport      `json:"final_report,omitempty"`

	UpdatedAt  time.Time `json:"updated_at"`
	RetryCount int       `json:"retry_count"`

	StagesCompleted []string     `json:"stages_completed,omitempty"`
	StageErrors     []StageError `json:"stage_errors,omitempty"`
	Events          []Event      `json:"events,omitempty"`
}

// NewRecord creates the record for a freshly received alert.
func NewRecord(rawAlert string, now time.Time) Record {
	now = now.UTC()
	return Record{
		IncidentID: NewIncidentID(now),
		RawAlert:   rawAlert,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewIncidentID returns an identifier of the form INC-YYYYMMDD-XXXXXXXX.
func NewIncidentID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("INC-%s-%s", now.UTC().Format("20060102"), suffix)
}

// HasError reports whether the named stage recorded a failure.
func (r Record) HasError(stage string) bool {
	for _, se := range r.StageErrors {
		if se.Stage == stage {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record. Stages receive clones so that no
// stage can observe or mutate state shared with a sibling.
func (r Record) Clone() Record {
	out := r
	out.LogAnalysis = r.LogAnalysis.clone()
	out.Knowledge = r.Knowledge.clone()
	out.RootCause = r.RootCause.clone()
	out.Coordination = r.Coordination.clone()
	out.DecisionMetrics = r.DecisionMetrics.clone()
	out.Mitigation = r.Mitigation.clone()
	out.Escalation = r.Escalation.clone()
	out.FinalReport = r.FinalReport.clone()
	out.StagesCompleted = cloneStrings(r.StagesCompleted)
	if r.StageErrors != nil {
		out.StageErrors = append([]StageError(nil), r.StageErrors...)
	}
	if r.Events != nil {
		out.Events = make([]Event, len(r.Events))
		for i, ev := range r.Events {
			out.Events[i] = ev.Clone()
		}
	}
	return out
}

// StageError records a non-fatal stage failure.
type StageError struct {
	Stage string    `json:"stage"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Ptr returns a pointer to v. Convenient when building Updates.
func Ptr[T any](v T) *T {
	return &v
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}
