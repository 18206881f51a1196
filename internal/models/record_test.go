package models

import (
	"regexp"
	"testing"
	"time"
)

var incidentIDPattern = regexp.MustCompile(`^INC-20240314-[0-9A-F]{8}$`)

func TestNewRecordAssignsIdentity(t *testing.T) {
	now := time.Date(2024, 3, 14, 23, 0, 0, 0, time.UTC)
	rec := NewRecord("Payment API down", now)

	if !incidentIDPattern.MatchString(rec.IncidentID) {
		t.Fatalf("unexpected incident id %q", rec.IncidentID)
	}
	if rec.RawAlert != "Payment API down" {
		t.Fatalf("raw alert not preserved: %q", rec.RawAlert)
	}
	if !rec.CreatedAt.Equal(now) || !rec.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps not initialised: %+v", rec)
	}

	other := NewRecord("Payment API down", now)
	if other.IncidentID == rec.IncidentID {
		t.Fatalf("expected distinct ids, got %q twice", rec.IncidentID)
	}
}

func TestCloneIsDeep(t *testing.T) {
	rec := NewRecord("alert", time.Now())
	rec.LogAnalysis = &LogAnalysis{Anomalies: []Anomaly{{Type: "error_spike"}}}
	rec.Mitigation = &MitigationResult{VerificationChecks: map[string]string{"health_check": "PASSED"}}
	rec.Events = []Event{{Kind: EventIncidentDetected, Attrs: map[string]string{"service": "Payment API"}}}
	rec.StagesCompleted = []string{"trigger"}

	clone := rec.Clone()
	clone.LogAnalysis.Anomalies[0].Type = "mutated"
	clone.Mitigation.VerificationChecks["health_check"] = "FAILED"
	clone.Events[0].Attrs["service"] = "mutated"
	clone.StagesCompleted[0] = "mutated"

	if rec.LogAnalysis.Anomalies[0].Type != "error_spike" {
		t.Fatalf("anomalies aliased")
	}
	if rec.Mitigation.VerificationChecks["health_check"] != "PASSED" {
		t.Fatalf("verification checks aliased")
	}
	if rec.Events[0].Attrs["service"] != "Payment API" {
		t.Fatalf("event attrs aliased")
	}
	if rec.StagesCompleted[0] != "trigger" {
		t.Fatalf("stages aliased")
	}
}

func TestUpdateFieldsReportsExactlyWhatIsSet(t *testing.T) {
	u := Update{
		Service:  Ptr("Auth Service"),
		Decision: Ptr(DecisionEscalation),
		Events:   []Event{{Kind: EventEscalationAlert}},
	}
	got := u.Fields()
	want := []Field{FieldService, FieldDecision, FieldEvents}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if !(Update{}).Empty() {
		t.Fatalf("zero update should be empty")
	}

	only := u.Only(FieldDecision)
	if only.Service != nil || only.Decision == nil || len(only.Events) != 0 {
		t.Fatalf("Only kept wrong fields: %+v", only)
	}
}

func TestFieldClassification(t *testing.T) {
	if !FieldEvents.Accumulator() || FieldService.Accumulator() {
		t.Fatalf("accumulator classification wrong")
	}
	if !FieldStageErrors.Reserved() || FieldEvents.Reserved() {
		t.Fatalf("reserved classification wrong")
	}
	if Field("bogus").Known() {
		t.Fatalf("unexpected known field")
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"high":     SeverityHigh,
		" LOW ":    SeverityLow,
		"critical": SeverityCritical,
		"":         SeverityMedium,
		"whatever": SeverityMedium,
	}
	for input, want := range cases {
		if got := ParseSeverity(input); got != want {
			t.Fatalf("ParseSeverity(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestRecordSummary(t *testing.T) {
	rec := NewRecord("alert", time.Now())
	rec.Service = "Database"
	rec.Decision = DecisionEscalation
	rec.FinalReport = &FinalReport{Status: StatusEscalated}

	s := rec.Summary()
	if s.IncidentID != rec.IncidentID || s.Status != StatusEscalated || s.Service != "Database" {
		t.Fatalf("unexpected summary %+v", s)
	}
}
