package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/mirador-incident/internal/analyzers"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/workflow"
)

// GraphName identifies the incident graph in logs and spans.
const GraphName = "incident-response"

// AlertParser extracts service, severity and description from raw alert text.
type AlertParser interface {
	Parse(ctx context.Context, rawAlert string) (models.ParsedAlert, error)
}

// LogAnalyzer reports anomalies for a service.
type LogAnalyzer interface {
	Analyze(ctx context.Context, service, description string) (models.LogAnalysis, error)
}

// KnowledgeSearcher finds similar historical incidents.
type KnowledgeSearcher interface {
	Search(ctx context.Context, service, description string, anomalies []models.Anomaly) (models.KnowledgeResult, error)
}

// RootCauseAnalyzer proposes a root cause and remedy.
type RootCauseAnalyzer interface {
	Analyze(ctx context.Context, service, description string, logs *models.LogAnalysis, knowledge *models.KnowledgeResult) (models.RootCause, error)
}

// MitigationExecutor applies a remedy.
type MitigationExecutor interface {
	Execute(ctx context.Context, service, remedy string) (models.MitigationResult, error)
}

// Collaborators are the external services the stages call.
type Collaborators struct {
	Parser     AlertParser
	Logs       LogAnalyzer
	Knowledge  KnowledgeSearcher
	RootCause  RootCauseAnalyzer
	Mitigation MitigationExecutor
}

func (c Collaborators) validate() error {
	var errs []error
	if c.Parser == nil {
		errs = append(errs, errors.New("engine: alert parser is required"))
	}
	if c.Logs == nil {
		errs = append(errs, errors.New("engine: log analyzer is required"))
	}
	if c.Knowledge == nil {
		errs = append(errs, errors.New("engine: knowledge searcher is required"))
	}
	if c.RootCause == nil {
		errs = append(errs, errors.New("engine: root cause analyzer is required"))
	}
	if c.Mitigation == nil {
		errs = append(errs, errors.New("engine: mitigation executor is required"))
	}
	return errors.Join(errs...)
}

// DefaultCollaborators wires the keyword and rule based analyzers. Empty
// paths select the embedded rule pack and knowledge base.
func DefaultCollaborators(rulesPath, knowledgePath string, logger *slog.Logger) (Collaborators, error) {
	rootCause, err := analyzers.NewRuleRootCauseAnalyzer(rulesPath, logger)
	if err != nil {
		return Collaborators{}, err
	}
	kb, err := analyzers.LoadKnowledgeBase(knowledgePath)
	if err != nil {
		return Collaborators{}, err
	}
	return Collaborators{
		Parser:     analyzers.NewKeywordAlertParser(),
		Logs:       analyzers.NewPatternLogAnalyzer(),
		Knowledge:  kb,
		RootCause:  rootCause,
		Mitigation: analyzers.NewPlaybookMitigator(),
	}, nil
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	decision     DecisionConfig
	compile      []workflow.CompileOption
	executorOpts []workflow.Option
	now          func() time.Time
}

// WithDecisionConfig overrides the decision thresholds.
func WithDecisionConfig(cfg DecisionConfig) Option {
	return func(o *options) { o.decision = cfg }
}

// WithMaxParallel bounds concurrent analysis stages.
func WithMaxParallel(n int) Option {
	return func(o *options) { o.compile = append(o.compile, workflow.WithMaxParallel(n)) }
}

// WithMaxSteps bounds the rounds of one run.
func WithMaxSteps(n int) Option {
	return func(o *options) { o.compile = append(o.compile, workflow.WithMaxSteps(n)) }
}

// WithConflictPolicy selects same-round write conflict handling.
func WithConflictPolicy(p workflow.ConflictPolicy) Option {
	return func(o *options) { o.compile = append(o.compile, workflow.WithConflictPolicy(p)) }
}

// WithEventSink routes stage events to sink, typically a notify.Dispatcher.
func WithEventSink(sink workflow.EventSink) Option {
	return func(o *options) { o.executorOpts = append(o.executorOpts, workflow.WithEventSink(sink)) }
}

// WithStageObserver reports stage timings, typically to metrics.Recorder.
func WithStageObserver(obs workflow.StageObserver) Option {
	return func(o *options) { o.executorOpts = append(o.executorOpts, workflow.WithStageObserver(obs)) }
}

// WithTracer sets the tracer used for run and stage spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.executorOpts = append(o.executorOpts, workflow.WithTracer(tracer)) }
}

// WithClock overrides the time source for records, events and reports.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Pipeline runs the incident-response graph. It is safe for concurrent use;
// the compiled plan is shared and every run gets its own record.
type Pipeline struct {
	logger   *slog.Logger
	plan     *workflow.Plan
	executor *workflow.Executor
	now      func() time.Time
}

// NewPipeline builds and compiles the incident graph.
func NewPipeline(logger *slog.Logger, collab Collaborators, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := collab.validate(); err != nil {
		return nil, err
	}
	o := options{decision: DefaultDecisionConfig(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &stages{collab: collab, decision: o.decision, logger: logger, now: o.now}
	graph, err := buildGraph(s, logger)
	if err != nil {
		return nil, err
	}
	plan, err := graph.Compile(o.compile...)
	if err != nil {
		return nil, err
	}

	execOpts := append([]workflow.Option{workflow.WithLogger(logger), workflow.WithClock(o.now)}, o.executorOpts...)
	return &Pipeline{
		logger:   logger,
		plan:     plan,
		executor: workflow.NewExecutor(plan, execOpts...),
		now:      o.now,
	}, nil
}

func buildGraph(s *stages, logger *slog.Logger) (*workflow.Graph, error) {
	g := workflow.NewGraph(GraphName)

	for field, mode := range map[models.Field]workflow.Mode{
		models.FieldService:          workflow.Overwrite,
		models.FieldSeverity:         workflow.Overwrite,
		models.FieldDescription:      workflow.Overwrite,
		models.FieldLogAnalysis:      workflow.Overwrite,
		models.FieldKnowledge:        workflow.Overwrite,
		models.FieldRootCause:        workflow.Overwrite,
		models.FieldCoordination:     workflow.Overwrite,
		models.FieldDecision:         workflow.Overwrite,
		models.FieldDecisionMetrics:  workflow.Overwrite,
		models.FieldEscalationReason: workflow.Overwrite,
		models.FieldMitigation:       workflow.Overwrite,
		models.FieldEscalation:       workflow.Overwrite,
		models.FieldFinalReport:      workflow.Overwrite,
		models.FieldRetryCount:       workflow.Overwrite,
		models.FieldEvents:           workflow.Append,
	} {
		g.SetMergePolicy(field, mode)
	}

	type stageDef struct {
		name    string
		fn      workflow.StageFunc
		outputs []models.Field
	}
	defs := []stageDef{
		{StageTrigger, s.trigger, []models.Field{models.FieldService, models.FieldSeverity, models.FieldDescription, models.FieldEvents}},
		{StageLogAnalysis, s.logAnalysis, []models.Field{models.FieldLogAnalysis, models.FieldEvents}},
		{StageKnowledgeLookup, s.knowledgeLookup, []models.Field{models.FieldKnowledge}},
		{StageRootCause, s.rootCause, []models.Field{models.FieldRootCause, models.FieldEvents}},
		{StageCoordinator, s.coordinator, []models.Field{models.FieldCoordination}},
		{StageDecision, s.decide, []models.Field{models.FieldDecision, models.FieldDecisionMetrics, models.FieldEscalationReason}},
		{StageMitigation, s.mitigate, []models.Field{models.FieldMitigation, models.FieldEvents}},
		{StageEscalation, s.escalate, []models.Field{models.FieldEscalation, models.FieldEvents}},
		{StageCommunicator, s.communicate, []models.Field{models.FieldFinalReport}},
	}
	for _, st := range defs {
		if err := g.AddStage(st.name, st.fn, st.outputs...); err != nil {
			return nil, err
		}
	}

	g.SetEntryPoint(StageTrigger)
	g.AddConditionalEdges(StageTrigger, routeAfterTrigger, analysisStages...)
	for _, name := range analysisStages {
		g.AddEdge(name, StageCoordinator)
	}
	g.AddExclusiveEdges(StageCoordinator, routeAfterCoordination(logger), StageDecision)
	g.AddExclusiveEdges(StageDecision, routeAfterDecision, StageMitigation, StageEscalation)
	g.AddEdge(StageMitigation, StageCommunicator)
	g.AddEdge(StageEscalation, StageCommunicator)
	g.AddEdge(StageCommunicator, workflow.EndStage)
	return g, nil
}

// Plan exposes the compiled graph.
func (p *Pipeline) Plan() *workflow.Plan {
	return p.plan
}

// Run processes one alert from a fresh record. Stage failures are recorded
// on the returned record; the error is non-nil only for cancellation, step
// limits, routing faults and stage panics, in which case the partial record
// is still returned.
func (p *Pipeline) Run(ctx context.Context, rawAlert string) (models.Record, error) {
	rec := models.NewRecord(rawAlert, p.now())
	return p.executor.Invoke(ctx, rec)
}
