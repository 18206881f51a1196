package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/workflow"
)

const databaseAlert = "Payment API experiencing database connection timeouts and high error rates"

var fixedNow = func() time.Time { return time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingSink) Dispatch(_ context.Context, events []models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingSink) kinds() []models.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func defaultPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	collab, err := DefaultCollaborators("", "", quietLogger())
	require.NoError(t, err)
	opts = append([]Option{WithClock(fixedNow)}, opts...)
	p, err := NewPipeline(quietLogger(), collab, opts...)
	require.NoError(t, err)
	return p
}

func TestPipelineAutoMitigatesDatabaseTimeouts(t *testing.T) {
	sink := &recordingSink{}
	p := defaultPipeline(t, WithEventSink(sink))

	rec, err := p.Run(context.Background(), databaseAlert)
	require.NoError(t, err)

	require.Equal(t, "Payment API", rec.Service)
	require.Equal(t, models.SeverityHigh, rec.Severity)
	require.NotNil(t, rec.LogAnalysis)
	require.Equal(t, "database_timeout", rec.LogAnalysis.Anomalies[0].Type)
	require.GreaterOrEqual(t, rec.RootCause.Confidence, 0.8)
	require.Equal(t, 2, rec.Knowledge.TotalMatches)

	require.Equal(t, models.DecisionAutoMitigation, rec.Decision)
	require.Empty(t, rec.EscalationReason)
	require.NotNil(t, rec.Mitigation)
	require.Nil(t, rec.Escalation)
	require.Equal(t, models.StatusResolved, rec.FinalReport.Status)
	require.Equal(t, rec.Mitigation.Actions, rec.FinalReport.ActionsTaken)
	require.Equal(t, rec.IncidentID, rec.FinalReport.IncidentID)

	require.Equal(t, []string{
		StageTrigger, StageLogAnalysis, StageKnowledgeLookup, StageRootCause,
		StageCoordinator, StageDecision, StageMitigation, StageCommunicator,
	}, rec.StagesCompleted)
	require.Empty(t, rec.StageErrors)
	require.Equal(t, []string{StageLogAnalysis, StageKnowledgeLookup, StageRootCause}, rec.Coordination.AnalysesCompleted)

	require.Equal(t, []models.EventKind{
		models.EventIncidentDetected,
		models.EventAnalysisUpdate,
		models.EventRootCauseUpdate,
		models.EventMitigationReport,
	}, sink.kinds())
	for _, ev := range rec.Events {
		require.Equal(t, rec.IncidentID, ev.IncidentID)
	}
}

func TestPipelineEscalatesLowConfidence(t *testing.T) {
	p := defaultPipeline(t)

	rec, err := p.Run(context.Background(), "Auth Service showing memory leak patterns")
	require.NoError(t, err)

	require.Equal(t, models.DecisionEscalation, rec.Decision)
	require.Contains(t, rec.EscalationReason, "confidence")
	require.Nil(t, rec.Mitigation)
	require.NotNil(t, rec.Escalation)
	require.Equal(t, EscalationAssignee, rec.Escalation.AssignedTo)
	require.Equal(t, models.SeverityMedium, rec.Escalation.Priority)
	require.Equal(t, "memory_leak", rec.LogAnalysis.Anomalies[0].Type)

	report := rec.FinalReport
	require.Equal(t, models.StatusEscalated, report.Status)
	require.Equal(t, rec.EscalationReason, report.EscalationReason)
	require.Equal(t, EscalationAssignee, report.AssignedTo)
	require.Equal(t, rec.DecisionMetrics.Confidence, report.Metrics.Confidence)
}

func TestPipelineEndsForUnknownService(t *testing.T) {
	sink := &recordingSink{}
	p := defaultPipeline(t, WithEventSink(sink))

	rec, err := p.Run(context.Background(), "Critical system failure in unknown microservice")
	require.NoError(t, err)

	require.Equal(t, models.UnknownService, rec.Service)
	require.Empty(t, rec.Decision)
	require.Nil(t, rec.FinalReport)
	require.Equal(t, []string{StageTrigger}, rec.StagesCompleted)
	require.Empty(t, sink.kinds())
}

func TestPipelineEveryRecognisedAlertReachesOneTerminal(t *testing.T) {
	p := defaultPipeline(t)
	alerts := []string{
		databaseAlert,
		"Auth Service showing memory leak patterns",
		"Payment API returning 500 errors with elevated failure rate",
		"Load balancer reporting uneven traffic distribution",
		"Database replication lag increasing on primary",
		"Gateway rejecting requests, rate limit exceeded",
	}
	for _, alert := range alerts {
		rec, err := p.Run(context.Background(), alert)
		require.NoError(t, err, alert)
		require.True(t, rec.Decision.Valid(), alert)
		require.True(t, (rec.Mitigation == nil) != (rec.Escalation == nil), alert)
		if rec.Decision == models.DecisionAutoMitigation {
			require.NotNil(t, rec.Mitigation, alert)
			require.Equal(t, models.StatusResolved, rec.FinalReport.Status, alert)
		} else {
			require.NotNil(t, rec.Escalation, alert)
			require.NotEmpty(t, rec.EscalationReason, alert)
			require.Equal(t, models.StatusEscalated, rec.FinalReport.Status, alert)
		}
	}
}

// stub collaborators for failure injection

type stubParser struct{ err error }

func (s stubParser) Parse(_ context.Context, raw string) (models.ParsedAlert, error) {
	if s.err != nil {
		return models.ParsedAlert{}, s.err
	}
	return models.ParsedAlert{Service: "Database", Severity: models.SeverityCritical, Description: raw}, nil
}

type stubLogs struct {
	result models.LogAnalysis
	err    error
}

func (s stubLogs) Analyze(context.Context, string, string) (models.LogAnalysis, error) {
	return s.result, s.err
}

type stubKnowledge struct {
	result models.KnowledgeResult
	err    error
}

func (s stubKnowledge) Search(context.Context, string, string, []models.Anomaly) (models.KnowledgeResult, error) {
	return s.result, s.err
}

type stubRootCause struct {
	result models.RootCause
	err    error
}

func (s stubRootCause) Analyze(context.Context, string, string, *models.LogAnalysis, *models.KnowledgeResult) (models.RootCause, error) {
	return s.result, s.err
}

type stubMitigation struct {
	result models.MitigationResult
	err    error
}

func (s stubMitigation) Execute(context.Context, string, string) (models.MitigationResult, error) {
	return s.result, s.err
}

func healthyCollaborators() Collaborators {
	return Collaborators{
		Parser: stubParser{},
		Logs: stubLogs{result: models.LogAnalysis{
			Anomalies:  []models.Anomaly{{Type: "database_timeout", Pattern: "Connection timeout after 30s"}},
			Confidence: 0.85,
		}},
		Knowledge: stubKnowledge{result: models.KnowledgeResult{TotalMatches: 2, Confidence: 0.6}},
		RootCause: stubRootCause{result: models.RootCause{Cause: "replication lag", Confidence: 0.9, Remedy: "restart replica"}},
		Mitigation: stubMitigation{result: models.MitigationResult{
			Actions: []string{"Restarted Database service instances"},
			Status:  models.MitigationSuccess,
		}},
	}
}

func newStubPipeline(t *testing.T, collab Collaborators, opts ...Option) *Pipeline {
	t.Helper()
	p, err := NewPipeline(quietLogger(), collab, append([]Option{WithClock(fixedNow)}, opts...)...)
	require.NoError(t, err)
	return p
}

func TestPipelineJoinBarrierWithTimedOutAnalysis(t *testing.T) {
	collab := healthyCollaborators()
	collab.Knowledge = stubKnowledge{err: fmt.Errorf("vector search: %w", context.DeadlineExceeded)}
	p := newStubPipeline(t, collab)

	rec, err := p.Run(context.Background(), "db is slow")
	require.NoError(t, err)

	require.NotNil(t, rec.LogAnalysis)
	require.NotNil(t, rec.RootCause)
	require.Nil(t, rec.Knowledge)
	require.Len(t, rec.StageErrors, 1)
	require.Equal(t, StageKnowledgeLookup, rec.StageErrors[0].Stage)

	require.Equal(t, []string{StageLogAnalysis, StageRootCause}, rec.Coordination.AnalysesCompleted)
	require.Equal(t, []string{StageKnowledgeLookup}, rec.Coordination.AnalysesMissing)
	require.Equal(t, []string{StageKnowledgeLookup}, rec.Coordination.FailedStages)

	require.Equal(t, models.DecisionEscalation, rec.Decision)
	require.Contains(t, rec.EscalationReason, "similar historical incidents")
	require.Equal(t, models.SeverityHigh, rec.Escalation.Priority)
}

func TestPipelineSubstitutesDefaultsForFailedCollaborators(t *testing.T) {
	collab := healthyCollaborators()
	collab.Logs = stubLogs{err: errors.New("log store unavailable")}
	collab.RootCause = stubRootCause{result: models.RootCause{Cause: "bogus", Confidence: 1.7}}
	p := newStubPipeline(t, collab)

	rec, err := p.Run(context.Background(), "db is slow")
	require.NoError(t, err)
	require.Empty(t, rec.StageErrors)

	require.False(t, rec.LogAnalysis.AnomaliesFound())
	require.Equal(t, 0.3, rec.LogAnalysis.Confidence)
	require.Equal(t, "Unknown root cause for Database", rec.RootCause.Cause)
	require.Equal(t, 0.5, rec.RootCause.Confidence)

	require.Equal(t, models.DecisionEscalation, rec.Decision)
	require.Contains(t, rec.EscalationReason, "anomalies")
}

func TestPipelineParserFailureEndsRun(t *testing.T) {
	collab := healthyCollaborators()
	collab.Parser = stubParser{err: errors.New("unparseable")}
	p := newStubPipeline(t, collab)

	rec, err := p.Run(context.Background(), "???")
	require.NoError(t, err)
	require.Equal(t, models.UnknownService, rec.Service)
	require.Empty(t, rec.Decision)
	require.Equal(t, []string{StageTrigger}, rec.StagesCompleted)
}

func TestPipelineMitigationFailureStillCompletes(t *testing.T) {
	collab := healthyCollaborators()
	collab.Mitigation = stubMitigation{err: errors.New("orchestrator down")}
	p := newStubPipeline(t, collab)

	rec, err := p.Run(context.Background(), "db is slow")
	require.NoError(t, err)
	require.Equal(t, models.DecisionAutoMitigation, rec.Decision)
	require.Equal(t, models.MitigationFailed, rec.Mitigation.Status)
	require.Empty(t, rec.Mitigation.Actions)
	require.Equal(t, models.StatusResolved, rec.FinalReport.Status)
	require.Contains(t, rec.FinalReport.Resolution, "verify")
}

func TestPipelineCancelledContext(t *testing.T) {
	p := newStubPipeline(t, healthyCollaborators())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := p.Run(ctx, "db is slow")
	require.ErrorIs(t, err, context.Canceled)
	require.NotEmpty(t, rec.IncidentID)
	require.Empty(t, rec.Decision)
}

func TestPipelineConcurrentRunsAreIndependent(t *testing.T) {
	p := defaultPipeline(t, WithMaxParallel(2))
	alerts := []string{databaseAlert, "Auth Service showing memory leak patterns", "unknown thing broke"}

	var wg sync.WaitGroup
	results := make([]models.Record, 12)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Run(context.Background(), alerts[i%len(alerts)])
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	ids := make(map[string]bool)
	for i, rec := range results {
		require.False(t, ids[rec.IncidentID], "incident ids must be unique")
		ids[rec.IncidentID] = true
		require.Equal(t, alerts[i%len(alerts)], rec.RawAlert)
	}
	require.Equal(t, models.DecisionAutoMitigation, results[0].Decision)
	require.Equal(t, models.DecisionEscalation, results[1].Decision)
	require.Empty(t, results[2].Decision)
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	_, err := NewPipeline(nil, Collaborators{Parser: stubParser{}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "mitigation executor")
}

func TestPipelinePlanShape(t *testing.T) {
	p := newStubPipeline(t, healthyCollaborators(), WithMaxSteps(10))
	plan := p.Plan()
	require.Equal(t, GraphName, plan.Name())
	require.Equal(t, StageTrigger, plan.Entry())
	require.Equal(t, 10, plan.MaxSteps())
	require.Len(t, plan.Stages(), 9)
	require.ElementsMatch(t,
		[]models.Field{models.FieldLogAnalysis, models.FieldEvents},
		plan.Outputs(StageLogAnalysis))
}

func TestPipelineConflictPolicyOption(t *testing.T) {
	p := newStubPipeline(t, healthyCollaborators(), WithConflictPolicy(workflow.ConflictLog))
	rec, err := p.Run(context.Background(), "db is slow")
	require.NoError(t, err)
	require.Equal(t, models.DecisionAutoMitigation, rec.Decision)
}
