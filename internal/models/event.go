package models

import "time"

// EventKind identifies an outbound notification.
type EventKind string

const (
	EventIncidentDetected EventKind = "incident_detected"
	EventAnalysisUpdate   EventKind = "analysis_update"
	EventRootCauseUpdate  EventKind = "root_cause_update"
	EventMitigationReport EventKind = "mitigation_report"
	EventEscalationAlert  EventKind = "escalation_alert"
)

// Event is a notification emitted by a stage as part of its update. Stages
// never send notifications themselves; the executor hands merged events to a
// dispatcher.
type Event struct {
	Kind       EventKind         `json:"kind"`
	IncidentID string            `json:"incident_id"`
	Stage      string            `json:"stage"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	Lines      []string          `json:"lines,omitempty"`
	EmittedAt  time.Time         `json:"emitted_at"`
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	if e.Attrs != nil {
		out.Attrs = make(map[string]string, len(e.Attrs))
		for k, v := range e.Attrs {
			out.Attrs[k] = v
		}
	}
	out.Lines = cloneStrings(e.Lines)
	return out
}
