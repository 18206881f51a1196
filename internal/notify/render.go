package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

const footer = "\nThis is an automated notification.\n"

var templates = map[models.EventKind]messageTemplate{
	models.EventIncidentDetected: mustTemplate(
		`INCIDENT ALERT: {{.IncidentID}} - {{index .Attrs "service"}}`,
		`INCIDENT DETECTED
=================
Incident ID: {{.IncidentID}}
Service: {{index .Attrs "service"}}
Severity: {{index .Attrs "severity"}}

Description:
{{index .Attrs "description"}}

The incident response workflow is analysing this incident.
You will receive updates as the analysis progresses.
`),
	models.EventAnalysisUpdate: mustTemplate(
		`LOG ANALYSIS: {{.IncidentID}}`,
		`LOG ANALYSIS COMPLETE
=====================
Incident ID: {{.IncidentID}}

Anomalies Detected:
{{range .Lines}}  - {{.}}
{{end}}
Root cause analysis is in progress.
`),
	models.EventRootCauseUpdate: mustTemplate(
		`ROOT CAUSE ANALYSIS: {{.IncidentID}}`,
		`ROOT CAUSE ANALYSIS COMPLETE
============================
Incident ID: {{.IncidentID}}

Root Cause:
{{index .Attrs "root_cause"}}

Confidence: {{index .Attrs "confidence"}}

Recommended Solution:
{{index .Attrs "remedy"}}

Decision making in progress.
`),
	models.EventMitigationReport: mustTemplate(
		`MITIGATION COMPLETE: {{.IncidentID}}`,
		`AUTOMATED MITIGATION EXECUTED
=============================
Incident ID: {{.IncidentID}}
Status: {{index .Attrs "status"}}

Actions Taken:
{{range .Lines}}  - {{.}}
{{end}}
Incident has been automatically resolved.
`),
	models.EventEscalationAlert: mustTemplate(
		`ESCALATION REQUIRED: {{.IncidentID}}`,
		`HUMAN INTERVENTION REQUIRED
===========================
Incident ID: {{.IncidentID}}

Escalation Reason:
{{index .Attrs "reason"}}

Context:
  Service: {{index .Attrs "service"}}
  Severity: {{index .Attrs "severity"}}
  Confidence: {{index .Attrs "confidence"}}
  Assigned To: {{index .Attrs "assigned_to"}}

Please review and take appropriate action.
`),
}

func mustTemplate(subject, body string) messageTemplate {
	return messageTemplate{
		subject: template.Must(template.New("subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New("body").Option("missingkey=zero").Parse(body)),
	}
}

// Render builds the plain-text message for ev.
func Render(ev models.Event) (Message, error) {
	tmpl, ok := templates[ev.Kind]
	if !ok {
		return Message{}, fmt.Errorf("notify: no template for event kind %q", ev.Kind)
	}
	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, ev); err != nil {
		return Message{}, fmt.Errorf("notify: render subject: %w", err)
	}
	if err := tmpl.body.Execute(&body, ev); err != nil {
		return Message{}, fmt.Errorf("notify: render body: %w", err)
	}
	return Message{
		Subject: strings.TrimSpace(subject.String()),
		Body:    body.String() + footer,
	}, nil
}
