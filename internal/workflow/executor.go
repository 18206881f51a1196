package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// EventSink receives events merged into the record during a round.
type EventSink interface {
	Dispatch(ctx context.Context, events []models.Event)
}

// StageObserver is notified after each stage finishes.
type StageObserver interface {
	ObserveStage(stage string, elapsed time.Duration, err error)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for run and stage spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithEventSink routes merged events to sink.
func WithEventSink(sink EventSink) Option {
	return func(e *Executor) {
		e.sink = sink
	}
}

// WithStageObserver reports stage timings to obs.
func WithStageObserver(obs StageObserver) Option {
	return func(e *Executor) {
		e.observer = obs
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// Executor runs a Plan. It holds no per-run state and is safe for concurrent
// use.
type Executor struct {
	plan     *Plan
	logger   *slog.Logger
	tracer   trace.Tracer
	sink     EventSink
	observer StageObserver
	now      func() time.Time
}

// NewExecutor constructs an executor for plan.
func NewExecutor(plan *Plan, opts ...Option) *Executor {
	e := &Executor{
		plan:   plan,
		logger: slog.Default(),
		tracer: otel.Tracer("mirador-incident/workflow"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type outcome struct {
	stage    string
	update   models.Update
	err      error
	panicked any
	stack    []byte
	elapsed  time.Duration
	finished time.Time
}

// Invoke drives rec through the plan until no stage is scheduled. It always
// returns the record as far as it got, together with any run-level error.
func (e *Executor) Invoke(ctx context.Context, rec models.Record) (models.Record, error) {
	p := e.plan
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.graph", p.name),
		attribute.String("incident.id", rec.IncidentID),
	))
	defer span.End()

	logger := e.logger.With("incident_id", rec.IncidentID, "graph", p.name)
	started := e.now()

	rec, rounds, err := e.loop(ctx, logger, rec)
	span.SetAttributes(attribute.Int("workflow.rounds", rounds))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("workflow run aborted", "error", err, "rounds", rounds)
		return rec, err
	}
	span.SetStatus(codes.Ok, "")
	logger.Debug("workflow run finished",
		"rounds", rounds,
		"stages", len(rec.StagesCompleted),
		"stage_errors", len(rec.StageErrors),
		"elapsed", e.now().Sub(started),
	)
	return rec, nil
}

func (e *Executor) loop(ctx context.Context, logger *slog.Logger, rec models.Record) (models.Record, int, error) {
	p := e.plan
	frontier := []string{p.entry}
	rounds := 0

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return rec, rounds, err
		}
		if rounds >= p.maxSteps {
			return rec, rounds, fmt.Errorf("%w: %d rounds, next frontier %v", ErrStepLimit, p.maxSteps, frontier)
		}
		rounds++

		outcomes := e.dispatch(ctx, logger, frontier, rec.Clone())

		updates := make([]Contribution, 0, len(outcomes))
		bookkeeping := make([]models.Update, 0, len(outcomes))
		var panicErr error
		for _, o := range outcomes {
			switch {
			case o.panicked != nil:
				logger.Error("stage panicked", "stage", o.stage, "panic", o.panicked, "stack", string(o.stack))
				if panicErr == nil {
					panicErr = fmt.Errorf("%w: stage %q: %v", ErrStagePanic, o.stage, o.panicked)
				}
				bookkeeping = append(bookkeeping, stageFailure(o.stage, fmt.Errorf("panic: %v", o.panicked), o.finished))
			case o.err != nil:
				logger.Warn("stage failed", "stage", o.stage, "error", o.err)
				bookkeeping = append(bookkeeping, stageFailure(o.stage, o.err, o.finished))
			default:
				updates = append(updates, Contribution{Stage: o.stage, Update: o.update})
				bookkeeping = append(bookkeeping, models.Update{
					StagesCompleted: []string{o.stage},
					UpdatedAt:       models.Ptr(o.finished),
				})
			}
		}

		conflicts, err := p.policy.MergeRound(&rec, updates, p.onConflict)
		for _, c := range conflicts {
			logger.Warn("conflicting writes in one round", "field", c.Field, "kept", c.Kept, "dropped", c.Dropped)
		}
		if err != nil {
			return rec, rounds, err
		}
		for _, u := range bookkeeping {
			if err := p.policy.Merge(&rec, u); err != nil {
				return rec, rounds, err
			}
		}
		e.drain(ctx, updates)

		if panicErr != nil {
			return rec, rounds, panicErr
		}

		next, err := e.route(logger, frontier, rec)
		if err != nil {
			return rec, rounds, err
		}
		frontier = next
	}
	return rec, rounds, nil
}

// dispatch runs every stage of the frontier and waits for all of them. Each
// stage receives its own copy of the snapshot. Outcomes are returned in
// frontier order regardless of completion order.
func (e *Executor) dispatch(ctx context.Context, logger *slog.Logger, frontier []string, snapshot models.Record) []outcome {
	outcomes := make([]outcome, len(frontier))
	if len(frontier) == 1 {
		outcomes[0] = e.runStage(ctx, logger, frontier[0], snapshot)
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(e.plan.maxParallel)
	for i, name := range frontier {
		i, name := i, name
		input := snapshot.Clone()
		g.Go(func() error {
			outcomes[i] = e.runStage(ctx, logger, name, input)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (e *Executor) runStage(ctx context.Context, logger *slog.Logger, name string, input models.Record) (out outcome) {
	stage := e.plan.stages[name]
	ctx, span := e.tracer.Start(ctx, "workflow.stage", trace.WithAttributes(
		attribute.String("workflow.stage", name),
		attribute.String("incident.id", input.IncidentID),
	))
	started := e.now()
	out.stage = name

	defer func() {
		if r := recover(); r != nil {
			out.panicked = r
			out.stack = debug.Stack()
			out.err = fmt.Errorf("%w: %v", ErrStagePanic, r)
		}
		out.finished = e.now()
		out.elapsed = out.finished.Sub(started)
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		if e.observer != nil {
			e.observer.ObserveStage(name, out.elapsed, out.err)
		}
		logger.Debug("stage finished", "stage", name, "elapsed", out.elapsed, "failed", out.err != nil)
	}()

	update, err := stage.fn(ctx, input)
	if err != nil {
		out.err = err
		return out
	}
	for _, f := range update.Fields() {
		if !stage.outputs[f] {
			out.err = fmt.Errorf("%w: stage %q set %s", ErrUndeclaredOutput, name, f)
			return out
		}
	}
	out.update = update
	return out
}

// route evaluates the transitions of every stage in the frontier against the
// merged record. The result keeps first-seen order and drops END.
func (e *Executor) route(logger *slog.Logger, frontier []string, rec models.Record) ([]string, error) {
	var next []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == EndStage || seen[name] {
			return
		}
		seen[name] = true
		next = append(next, name)
	}

	for _, from := range frontier {
		t := e.plan.transitions[from]
		if t.router == nil {
			for _, to := range t.edges {
				add(to)
			}
			continue
		}

		choice, err := e.callRouter(from, t.router, rec)
		if err != nil {
			return nil, err
		}
		targets := choice.Targets()
		if t.exclusive && len(targets) > 1 {
			return nil, fmt.Errorf("%w: exclusive router of %q chose %v", ErrUndeclaredRoute, from, targets)
		}
		for _, to := range targets {
			if !t.declared[to] {
				return nil, fmt.Errorf("%w: %q routed to %q", ErrUndeclaredRoute, from, to)
			}
		}
		logger.Debug("routed", "from", from, "to", targets)
		for _, to := range targets {
			add(to)
		}
	}
	return next, nil
}

func (e *Executor) callRouter(from string, router Router, rec models.Record) (next Next, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: router of %q: %v", ErrStagePanic, from, r)
		}
	}()
	return router(rec.Clone()), nil
}

// drain hands the events merged this round to the sink in dispatch order.
func (e *Executor) drain(ctx context.Context, merged []Contribution) {
	if e.sink == nil {
		return
	}
	var batch []models.Event
	for _, c := range merged {
		for _, ev := range c.Update.Events {
			batch = append(batch, ev.Clone())
		}
	}
	if len(batch) > 0 {
		e.sink.Dispatch(ctx, batch)
	}
}

func stageFailure(stage string, err error, at time.Time) models.Update {
	return models.Update{
		StageErrors: []models.StageError{{Stage: stage, Error: err.Error(), At: at}},
		UpdatedAt:   models.Ptr(at),
	}
}
