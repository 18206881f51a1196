package models

import "time"

// Field names a writable Record field.
type Field string

const (
	FieldService          Field = "service"
	FieldSeverity         Field = "severity"
	FieldDescription      Field = "description"
	FieldLogAnalysis      Field = "log_analysis_result"
	FieldKnowledge        Field = "knowledge_result"
	FieldRootCause        Field = "root_cause_result"
	FieldCoordination     Field = "coordination_summary"
	FieldDecision         Field = "decision"
	FieldDecisionMetrics  Field = "decision_metrics"
	FieldEscalationReason Field = "escalation_reason"
	FieldMitigation       Field = "mitigation_result"
	FieldEscalation       Field = "escalation_result"
	FieldFinalReport      Field = "final_report"
	FieldRetryCount       Field = "retry_count"
	FieldEvents           Field = "events"

	// Executor bookkeeping. Stages may not declare these.
	FieldStagesCompleted Field = "stages_completed"
	FieldStageErrors     Field = "stage_errors"
	FieldUpdatedAt       Field = "updated_at"
)

// AllFields lists every Field in canonical order.
var AllFields = []Field{
	FieldService,
	FieldSeverity,
	FieldDescription,
	FieldLogAnalysis,
	FieldKnowledge,
	FieldRootCause,
	FieldCoordination,
	FieldDecision,
	FieldDecisionMetrics,
	FieldEscalationReason,
	FieldMitigation,
	FieldEscalation,
	FieldFinalReport,
	FieldRetryCount,
	FieldEvents,
	FieldStagesCompleted,
	FieldStageErrors,
	FieldUpdatedAt,
}

// Known reports whether f names a Record field.
func (f Field) Known() bool {
	for _, candidate := range AllFields {
		if candidate == f {
			return true
		}
	}
	return false
}

// Accumulator reports whether f is a list that supports appending.
func (f Field) Accumulator() bool {
	switch f {
	case FieldEvents, FieldStagesCompleted, FieldStageErrors:
		return true
	}
	return false
}

// Reserved reports whether f is maintained by the executor itself.
func (f Field) Reserved() bool {
	switch f {
	case FieldStagesCompleted, FieldStageErrors, FieldUpdatedAt:
		return true
	}
	return false
}

// Update is the partial record a stage returns. Nil pointers and nil slices
// are unset.
type Update struct {
	Service          *string
	Severity         *Severity
	Description      *string
	LogAnalysis      *LogAnalysis
	Knowledge        *KnowledgeResult
	RootCause        *RootCause
	Coordination     *CoordinationSummary
	Decision         *Decision
	DecisionMetrics  *DecisionMetrics
	EscalationReason *string
	Mitigation       *MitigationResult
	Escalation       *EscalationResult
	FinalReport      *FinalReport
	RetryCount       *int
	Events           []Event

	StagesCompleted []string
	StageErrors     []StageError
	UpdatedAt       *time.Time
}

// Fields reports exactly the fields this update sets, in canonical order.
func (u Update) Fields() []Field {
	var out []Field
	add := func(set bool, f Field) {
		if set {
			out = append(out, f)
		}
	}
	add(u.Service != nil, FieldService)
	add(u.Severity != nil, FieldSeverity)
	add(u.Description != nil, FieldDescription)
	add(u.LogAnalysis != nil, FieldLogAnalysis)
	add(u.Knowledge != nil, FieldKnowledge)
	add(u.RootCause != nil, FieldRootCause)
	add(u.Coordination != nil, FieldCoordination)
	add(u.Decision != nil, FieldDecision)
	add(u.DecisionMetrics != nil, FieldDecisionMetrics)
	add(u.EscalationReason != nil, FieldEscalationReason)
	add(u.Mitigation != nil, FieldMitigation)
	add(u.Escalation != nil, FieldEscalation)
	add(u.FinalReport != nil, FieldFinalReport)
	add(u.RetryCount != nil, FieldRetryCount)
	add(len(u.Events) > 0, FieldEvents)
	add(len(u.StagesCompleted) > 0, FieldStagesCompleted)
	add(len(u.StageErrors) > 0, FieldStageErrors)
	add(u.UpdatedAt != nil, FieldUpdatedAt)
	return out
}

// Empty reports whether the update sets nothing.
func (u Update) Empty() bool {
	return len(u.Fields()) == 0
}

// Only returns a copy of u restricted to the given fields.
func (u Update) Only(fields ...Field) Update {
	keep := make(map[Field]bool, len(fields))
	for _, f := range fields {
		keep[f] = true
	}
	var out Update
	for _, f := range u.Fields() {
		if keep[f] {
			copyField(&out, u, f)
		}
	}
	return out
}

func copyField(dst *Update, src Update, f Field) {
	switch f {
	case FieldService:
		dst.Service = src.Service
	case FieldSeverity:
		dst.Severity = src.Severity
	case FieldDescription:
		dst.Description = src.Description
	case FieldLogAnalysis:
		dst.LogAnalysis = src.LogAnalysis
	case FieldKnowledge:
		dst.Knowledge = src.Knowledge
	case FieldRootCause:
		dst.RootCause = src.RootCause
	case FieldCoordination:
		dst.Coordination = src.Coordination
	case FieldDecision:
		dst.Decision = src.Decision
	case FieldDecisionMetrics:
		dst.DecisionMetrics = src.DecisionMetrics
	case FieldEscalationReason:
		dst.EscalationReason = src.EscalationReason
	case FieldMitigation:
		dst.Mitigation = src.Mitigation
	case FieldEscalation:
		dst.Escalation = src.Escalation
	case FieldFinalReport:
		dst.FinalReport = src.FinalReport
	case FieldRetryCount:
		dst.RetryCount = src.RetryCount
	case FieldEvents:
		dst.Events = src.Events
	case FieldStagesCompleted:
		dst.StagesCompleted = src.StagesCompleted
	case FieldStageErrors:
		dst.StageErrors = src.StageErrors
	case FieldUpdatedAt:
		dst.UpdatedAt = src.UpdatedAt
	}
}

// Apply writes field f of u into r. When appendValues is true list fields are
// extended instead of replaced; scalar fields are always overwritten.
func (r *Record) Apply(u Update, f Field, appendValues bool) {
	switch f {
	case FieldService:
		r.Service = *u.Service
	case FieldSeverity:
		r.Severity = *u.Severity
	case FieldDescription:
		r.Description = *u.Description
	case FieldLogAnalysis:
		r.LogAnalysis = u.LogAnalysis.clone()
	case FieldKnowledge:
		r.Knowledge = u.Knowledge.clone()
	case FieldRootCause:
		r.RootCause = u.RootCause.clone()
	case FieldCoordination:
		r.Coordination = u.Coordination.clone()
	case FieldDecision:
		r.Decision = *u.Decision
	case FieldDecisionMetrics:
		r.DecisionMetrics = u.DecisionMetrics.clone()
	case FieldEscalationReason:
		r.EscalationReason = *u.EscalationReason
	case FieldMitigation:
		r.Mitigation = u.Mitigation.clone()
	case FieldEscalation:
		r.Escalation = u.Escalation.clone()
	case FieldFinalReport:
		r.FinalReport = u.FinalReport.clone()
	case FieldRetryCount:
		r.RetryCount = *u.RetryCount
	case FieldUpdatedAt:
		r.UpdatedAt = *u.UpdatedAt
	case FieldEvents:
		events := make([]Event, 0, len(u.Events))
		for _, ev := range u.Events {
			events = append(events, ev.Clone())
		}
		if appendValues {
			r.Events = append(r.Events, events...)
		} else {
			r.Events = events
		}
	case FieldStagesCompleted:
		if appendValues {
			r.StagesCompleted = append(r.StagesCompleted, u.StagesCompleted...)
		} else {
			r.StagesCompleted = cloneStrings(u.StagesCompleted)
		}
	case FieldStageErrors:
		if appendValues {
			r.StageErrors = append(r.StageErrors, u.StageErrors...)
		} else {
			r.StageErrors = append([]StageError(nil), u.StageErrors...)
		}
	}
}
