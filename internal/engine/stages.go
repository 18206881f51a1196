package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/miradorstack/mirador-incident/internal/analyzers"
	"github.com/miradorstack/mirador-incident/internal/models"
)

// Stage names of the incident graph.
const (
	StageTrigger         = "trigger"
	StageLogAnalysis     = "log_analysis"
	StageKnowledgeLookup = "knowledge_lookup"
	StageRootCause       = "root_cause"
	StageCoordinator     = "coordinator"
	StageDecision        = "decision"
	StageMitigation      = "mitigation"
	StageEscalation      = "escalation"
	StageCommunicator    = "communicator"
)

// EscalationAssignee receives every escalated incident.
const EscalationAssignee = "Senior Operations Team"

const (
	fallbackLogConfidence = 0.3
	fallbackRemedy        = "Restart service"
)

// stages binds collaborators to stage functions. Every stage catches
// collaborator failures and substitutes a conservative result so the run
// keeps going with degraded confidence.
type stages struct {
	collab   Collaborators
	decision DecisionConfig
	logger   *slog.Logger
	now      func() time.Time
}

func (s *stages) log(rec models.Record, stage string) *slog.Logger {
	return s.logger.With("incident_id", rec.IncidentID, "stage", stage)
}

func (s *stages) event(rec models.Record, kind models.EventKind, stage string, attrs map[string]string, lines []string) models.Event {
	return models.Event{
		Kind:       kind,
		IncidentID: rec.IncidentID,
		Stage:      stage,
		Attrs:      attrs,
		Lines:      lines,
		EmittedAt:  s.now().UTC(),
	}
}

// abandoned reports collaborator errors that should surface as a stage
// error instead of a substituted default: deadlines and cancellations leave
// the analysis missing rather than fabricated.
func abandoned(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func validConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}

func percent(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}

func (s *stages) trigger(ctx context.Context, rec models.Record) (models.Update, error) {
	logger := s.log(rec, StageTrigger)
	parsed, err := s.collab.Parser.Parse(ctx, rec.RawAlert)
	if err != nil {
		if abandoned(err) {
			return models.Update{}, err
		}
		logger.Warn("alert parsing failed; treating service as unknown", "error", err)
		parsed = models.ParsedAlert{Service: models.UnknownService, Severity: models.SeverityMedium, Description: rec.RawAlert}
	}
	logger.Info("incident detected", "service", parsed.Service, "severity", parsed.Severity)

	u := models.Update{
		Service:     models.Ptr(parsed.Service),
		Severity:    models.Ptr(parsed.Severity),
		Description: models.Ptr(parsed.Description),
	}
	if !unidentified(parsed.Service) {
		u.Events = []models.Event{s.event(rec, models.EventIncidentDetected, StageTrigger, map[string]string{
			"service":     parsed.Service,
			"severity":    string(parsed.Severity),
			"description": parsed.Description,
		}, nil)}
	}
	return u, nil
}

func (s *stages) logAnalysis(ctx context.Context, rec models.Record) (models.Update, error) {
	logger := s.log(rec, StageLogAnalysis)
	result, err := s.collab.Logs.Analyze(ctx, rec.Service, rec.Description)
	if err == nil && !validConfidence(result.Confidence) {
		err = fmt.Errorf("confidence %v out of range", result.Confidence)
	}
	if err != nil {
		if abandoned(err) {
			return models.Update{}, err
		}
		logger.Warn("log analysis failed; assuming no anomalies", "error", err)
		result = models.LogAnalysis{Service: rec.Service, Confidence: fallbackLogConfidence, AnalyzedAt: s.now().UTC()}
	}
	logger.Info("log analysis complete", "anomalies", len(result.Anomalies))

	u := models.Update{LogAnalysis: &result}
	if result.AnomaliesFound() {
		lines := make([]string, 0, len(result.Anomalies))
		for _, a := range result.Anomalies {
			lines = append(lines, fmt.Sprintf("%s: %s", a.Type, a.Pattern))
		}
		u.Events = []models.Event{s.event(rec, models.EventAnalysisUpdate, StageLogAnalysis, map[string]string{
			"service": rec.Service,
		}, lines)}
	}
	return u, nil
}

// knowledgeLookup runs concurrently with log analysis, so it cannot see
// anomalies found in this run and searches on the alert text alone.
func (s *stages) knowledgeLookup(ctx context.Context, rec models.Record) (models.Update, error) {
	logger := s.log(rec, StageKnowledgeLookup)
	var anomalies []models.Anomaly
	if rec.LogAnalysis != nil {
		anomalies = rec.LogAnalysis.Anomalies
	}
	result, err := s.collab.Knowledge.Search(ctx, rec.Service, rec.Description, anomalies)
	if err == nil && !validConfidence(result.Confidence) {
		err = fmt.Errorf("confidence %v out of range", result.Confidence)
	}
	if err != nil {
		if abandoned(err) {
			return models.Update{}, err
		}
		logger.Warn("knowledge search failed; assuming no similar incidents", "error", err)
		result = models.KnowledgeResult{}
	}
	logger.Info("knowledge lookup complete", "matches", result.TotalMatches)
	return models.Update{Knowledge: &result}, nil
}

func (s *stages) rootCause(ctx context.Context, rec models.Record) (models.Update, error) {
	logger := s.log(rec, StageRootCause)
	result, err := s.collab.RootCause.Analyze(ctx, rec.Service, rec.Description, rec.LogAnalysis, rec.Knowledge)
	if err == nil && !validConfidence(result.Confidence) {
		err = fmt.Errorf("confidence %v out of range", result.Confidence)
	}
	if err != nil {
		if abandoned(err) {
			return models.Update{}, err
		}
		logger.Warn("root cause analysis failed; using default", "error", err)
		result = analyzers.DefaultRootCause(rec.Service)
	}
	logger.Info("root cause identified", "confidence", result.Confidence, "rule", result.RuleID)

	return models.Update{
		RootCause: &result,
		Events: []models.Event{s.event(rec, models.EventRootCauseUpdate, StageRootCause, map[string]string{
			"service":    rec.Service,
			"root_cause": result.Cause,
			"confidence": percent(result.Confidence),
			"remedy":     result.Remedy,
		}, slices.Clone(result.ContributingFactors))},
	}, nil
}

func (s *stages) coordinator(_ context.Context, rec models.Record) (models.Update, error) {
	summary := models.CoordinationSummary{
		SimilarIncidents:    rec.Knowledge.MatchCount(),
		RootCauseConfidence: rec.RootCause.ConfidenceOrZero(),
		AnalysesCompleted:   []string{},
	}
	if rec.LogAnalysis != nil {
		summary.TotalAnomalies = len(rec.LogAnalysis.Anomalies)
	}
	present := map[string]bool{
		StageLogAnalysis:     rec.LogAnalysis != nil,
		StageKnowledgeLookup: rec.Knowledge != nil,
		StageRootCause:       rec.RootCause != nil,
	}
	for _, name := range analysisStages {
		if present[name] {
			summary.AnalysesCompleted = append(summary.AnalysesCompleted, name)
		} else {
			summary.AnalysesMissing = append(summary.AnalysesMissing, name)
		}
		if rec.HasError(name) {
			summary.FailedStages = append(summary.FailedStages, name)
		}
	}
	s.log(rec, StageCoordinator).Info("analysis results collected",
		"anomalies", summary.TotalAnomalies,
		"similar_incidents", summary.SimilarIncidents,
		"confidence", summary.RootCauseConfidence,
		"completed", summary.AnalysesCompleted,
	)
	return models.Update{Coordination: &summary}, nil
}

func (s *stages) decide(_ context.Context, rec models.Record) (models.Update, error) {
	decision, metrics := Decide(rec, s.decision)
	u := models.Update{
		Decision:        models.Ptr(decision),
		DecisionMetrics: &metrics,
	}
	logger := s.log(rec, StageDecision)
	if decision == models.DecisionEscalation {
		u.EscalationReason = models.Ptr(metrics.EscalationReason)
		logger.Warn("escalating", "reason", metrics.EscalationReason)
	} else {
		logger.Info("auto-mitigating", "confidence", metrics.Confidence)
	}
	return u, nil
}

func (s *stages) mitigate(ctx context.Context, rec models.Record) (models.Update, error) {
	logger := s.log(rec, StageMitigation)
	remedy := fallbackRemedy
	if rec.RootCause != nil && rec.RootCause.Remedy != "" {
		remedy = rec.RootCause.Remedy
	}
	result, err := s.collab.Mitigation.Execute(ctx, rec.Service, remedy)
	if err != nil {
		if abandoned(err) {
			return models.Update{}, err
		}
		logger.Warn("mitigation failed", "error", err)
		result = models.MitigationResult{Status: models.MitigationFailed, CompletedAt: s.now().UTC()}
	}
	logger.Info("mitigation executed", "status", result.Status, "actions", len(result.Actions))

	return models.Update{
		Mitigation: &result,
		Events: []models.Event{s.event(rec, models.EventMitigationReport, StageMitigation, map[string]string{
			"service": rec.Service,
			"status":  result.Status,
		}, slices.Clone(result.Actions))},
	}, nil
}

func (s *stages) escalate(_ context.Context, rec models.Record) (models.Update, error) {
	reason := rec.EscalationReason
	if reason == "" {
		reason = "Unknown reason"
	}
	priority := models.SeverityMedium
	if rec.Severity == models.SeverityHigh || rec.Severity == models.SeverityCritical {
		priority = models.SeverityHigh
	}
	snapshot := models.EscalationContext{
		Service:     rec.Service,
		Severity:    rec.Severity,
		Description: rec.Description,
		Confidence:  rec.RootCause.ConfidenceOrZero(),
	}
	if rec.LogAnalysis != nil {
		snapshot.AnomaliesDetected = len(rec.LogAnalysis.Anomalies)
	}
	snapshot.SimilarIncidents = rec.Knowledge.MatchCount()
	if rec.RootCause != nil {
		snapshot.SuspectedCause = rec.RootCause.Cause
		snapshot.SuggestedRemedy = rec.RootCause.Remedy
	}
	result := models.EscalationResult{
		Reason:      reason,
		AssignedTo:  EscalationAssignee,
		Priority:    priority,
		Context:     snapshot,
		EscalatedAt: s.now().UTC(),
	}
	s.log(rec, StageEscalation).Info("incident escalated", "priority", priority, "reason", reason)

	return models.Update{
		Escalation: &result,
		Events: []models.Event{s.event(rec, models.EventEscalationAlert, StageEscalation, map[string]string{
			"service":     rec.Service,
			"severity":    string(rec.Severity),
			"reason":      reason,
			"confidence":  percent(snapshot.Confidence),
			"assigned_to": EscalationAssignee,
		}, nil)},
	}, nil
}

func (s *stages) communicate(_ context.Context, rec models.Record) (models.Update, error) {
	report := models.FinalReport{
		IncidentID:  rec.IncidentID,
		Service:     rec.Service,
		Severity:    rec.Severity,
		Decision:    rec.Decision,
		GeneratedAt: s.now().UTC(),
	}
	if rec.DecisionMetrics != nil {
		m := *rec.DecisionMetrics
		report.Metrics = &m
	}
	if rec.Decision == models.DecisionAutoMitigation {
		report.Status = models.StatusResolved
		report.Resolution = "Automated mitigation executed successfully"
		if rec.Mitigation == nil || rec.Mitigation.Status != models.MitigationSuccess {
			report.Resolution = "Automated mitigation attempted; verify service health"
		}
		if rec.Mitigation != nil {
			report.ActionsTaken = slices.Clone(rec.Mitigation.Actions)
		}
	} else {
		report.Status = models.StatusEscalated
		report.Resolution = "Escalated to human operators"
		report.EscalationReason = rec.EscalationReason
		report.AssignedTo = EscalationAssignee
		if rec.Escalation != nil {
			report.AssignedTo = rec.Escalation.AssignedTo
		}
	}
	s.log(rec, StageCommunicator).Info("final report generated", "status", report.Status)
	return models.Update{FinalReport: &report}, nil
}
