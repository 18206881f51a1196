package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/miradorstack/mirador-incident/internal/models"
)

func fixedNow() time.Time {
	return time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]models.Event
}

func (s *recordingSink) Dispatch(_ context.Context, events []models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, events)
}

type recordingObserver struct {
	mu     sync.Mutex
	stages []string
	failed []string
}

func (o *recordingObserver) ObserveStage(stage string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
	if err != nil {
		o.failed = append(o.failed, stage)
	}
}

func event(stage string, kind models.EventKind) models.Event {
	return models.Event{Kind: kind, Stage: stage}
}

// fanOutGraph builds start -> {left, middle, right} -> join -> END.
func fanOutGraph(t *testing.T, left, middle, right, join StageFunc) *Graph {
	t.Helper()
	g := NewGraph("fan-out")
	basePolicy(g)
	g.SetMergePolicy(models.FieldCoordination, Overwrite)
	require.NoError(t, g.AddStage("start", setService("checkout"), models.FieldService))
	require.NoError(t, g.AddStage("left", left, models.FieldLogAnalysis, models.FieldEvents))
	require.NoError(t, g.AddStage("middle", middle, models.FieldKnowledge, models.FieldEvents))
	require.NoError(t, g.AddStage("right", right, models.FieldRootCause, models.FieldEvents))
	require.NoError(t, g.AddStage("join", join, models.FieldCoordination))
	g.AddConditionalEdges("start", func(rec models.Record) Next {
		if rec.Service == "" {
			return End()
		}
		return Parallel("left", "middle", "right")
	}, "left", "middle", "right", EndStage)
	g.AddEdge("left", "join")
	g.AddEdge("middle", "join")
	g.AddEdge("right", "join")
	g.AddEdge("join", EndStage)
	g.SetEntryPoint("start")
	return g
}

func TestInvokeJoinWaitsForEveryBranch(t *testing.T) {
	var joinRuns atomic.Int32
	var sawLog, sawRoot atomic.Bool

	left := func(context.Context, models.Record) (models.Update, error) {
		time.Sleep(20 * time.Millisecond)
		return models.Update{LogAnalysis: &models.LogAnalysis{Anomalies: []models.Anomaly{{Type: "error_spike"}}}}, nil
	}
	middle := func(context.Context, models.Record) (models.Update, error) {
		return models.Update{}, errors.New("knowledge base offline")
	}
	right := func(context.Context, models.Record) (models.Update, error) {
		return models.Update{RootCause: &models.RootCause{Cause: "pool", Confidence: 0.9}}, nil
	}
	join := func(_ context.Context, rec models.Record) (models.Update, error) {
		joinRuns.Add(1)
		sawLog.Store(rec.LogAnalysis != nil)
		sawRoot.Store(rec.RootCause != nil)
		return models.Update{Coordination: &models.CoordinationSummary{TotalAnomalies: len(rec.LogAnalysis.Anomalies)}}, nil
	}

	plan, err := fanOutGraph(t, left, middle, right, join).Compile()
	require.NoError(t, err)

	rec, err := NewExecutor(plan, WithLogger(quietLogger())).Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
	require.NoError(t, err)

	require.EqualValues(t, 1, joinRuns.Load())
	require.True(t, sawLog.Load())
	require.True(t, sawRoot.Load())
	require.Nil(t, rec.Knowledge)
	require.Len(t, rec.StageErrors, 1)
	require.Equal(t, "middle", rec.StageErrors[0].Stage)
	require.Contains(t, rec.StageErrors[0].Error, "knowledge base offline")
	require.Equal(t, []string{"start", "left", "right", "join"}, rec.StagesCompleted)
	require.Equal(t, 1, rec.Coordination.TotalAnomalies)
}

func TestInvokeSiblingsSeeOnlyTheSnapshot(t *testing.T) {
	var leakedKnowledge, leakedRoot atomic.Bool
	left := func(_ context.Context, rec models.Record) (models.Update, error) {
		time.Sleep(10 * time.Millisecond)
		leakedKnowledge.Store(rec.Knowledge != nil)
		leakedRoot.Store(rec.RootCause != nil)
		return models.Update{LogAnalysis: &models.LogAnalysis{}}, nil
	}
	middle := func(context.Context, models.Record) (models.Update, error) {
		return models.Update{Knowledge: &models.KnowledgeResult{TotalMatches: 2}}, nil
	}
	right := func(_ context.Context, rec models.Record) (models.Update, error) {
		rec.Service = "mutated"
		return models.Update{RootCause: &models.RootCause{}}, nil
	}

	plan, err := fanOutGraph(t, left, middle, right, noop).Compile()
	require.NoError(t, err)
	rec, err := plan.Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
	require.NoError(t, err)

	require.False(t, leakedKnowledge.Load())
	require.False(t, leakedRoot.Load())
	require.Equal(t, "checkout", rec.Service)
	require.Equal(t, 2, rec.Knowledge.TotalMatches)
}

func TestInvokeMergesEventsInFrontierOrder(t *testing.T) {
	slow := func(context.Context, models.Record) (models.Update, error) {
		time.Sleep(30 * time.Millisecond)
		return models.Update{Events: []models.Event{event("left", models.EventAnalysisUpdate)}}, nil
	}
	fast := func(stage string) StageFunc {
		return func(context.Context, models.Record) (models.Update, error) {
			return models.Update{Events: []models.Event{event(stage, models.EventRootCauseUpdate)}}, nil
		}
	}
	sink := &recordingSink{}

	plan, err := fanOutGraph(t, slow, fast("middle"), fast("right"), noop).Compile()
	require.NoError(t, err)
	rec, err := NewExecutor(plan, WithEventSink(sink), WithLogger(quietLogger())).
		Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
	require.NoError(t, err)

	var stages []string
	for _, ev := range rec.Events {
		stages = append(stages, ev.Stage)
	}
	require.Equal(t, []string{"left", "middle", "right"}, stages)

	require.Len(t, sink.batches, 1)
	require.Len(t, sink.batches[0], 3)
	require.Equal(t, "left", sink.batches[0][0].Stage)
}

func TestInvokeRouterEndSkipsBranches(t *testing.T) {
	g := fanOutGraph(t, noop, noop, noop, noop)
	g.stages["start"].fn = setService("")

	plan, err := g.Compile()
	require.NoError(t, err)
	rec, err := plan.Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
	require.NoError(t, err)
	require.Equal(t, []string{"start"}, rec.StagesCompleted)
	require.Nil(t, rec.Coordination)
}

func TestInvokeDiscardsUndeclaredOutputs(t *testing.T) {
	g := NewGraph("sneaky")
	basePolicy(g)
	require.NoError(t, g.AddStage("a", func(context.Context, models.Record) (models.Update, error) {
		return models.Update{Service: models.Ptr("svc"), Description: models.Ptr("not mine")}, nil
	}, models.FieldService))
	g.AddEdge("a", EndStage)
	g.SetEntryPoint("a")

	plan, err := g.Compile()
	require.NoError(t, err)
	rec, err := plan.Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
	require.NoError(t, err)

	require.Empty(t, rec.Service)
	require.Empty(t, rec.Description)
	require.True(t, rec.HasError("a"))
	require.Contains(t, rec.StageErrors[0].Error, "description")
}

func TestInvokeRejectsUndeclaredRoute(t *testing.T) {
	g := NewGraph("rogue-router")
	require.NoError(t, g.AddStage("a", noop))
	require.NoError(t, g.AddStage("b", noop))
	require.NoError(t, g.AddStage("c", noop))
	g.AddConditionalEdges("a", func(models.Record) Next { return Single("c") }, "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", EndStage)
	g.SetEntryPoint("a")

	plan, err := g.Compile()
	require.NoError(t, err)
	rec, err := plan.Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
	require.ErrorIs(t, err, ErrUndeclaredRoute)
	require.Equal(t, []string{"a"}, rec.StagesCompleted)
}

func TestInvokeExclusiveRouterMayPickOneTarget(t *testing.T) {
	g := NewGraph("exclusive")
	require.NoError(t, g.AddStage("a", noop))
	require.NoError(t, g.AddStage("b", noop))
	require.NoError(t, g.AddStage("c", noop))
	g.AddExclusiveEdges("a", func(models.Record) Next { return Parallel("b", "c") }, "b", "c")
	g.AddEdge("b", EndStage)
	g.AddEdge("c", EndStage)
	g.SetEntryPoint("a")

	plan, err := g.Compile()
	require.NoError(t, err)
	_, err = plan.Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
	require.ErrorIs(t, err, ErrUndeclaredRoute)
}

func TestInvokeStopsAtStepLimit(t *testing.T) {
	g := NewGraph("loop")
	require.NoError(t, g.AddStage("a", noop))
	require.NoError(t, g.AddStage("b", noop))
	g.AddEdge("a", "b")
	g.AddConditionalEdges("b", func(models.Record) Next { return Single("a") }, "a", EndStage)
	g.SetEntryPoint("a")

	plan, err := g.Compile(WithMaxSteps(5))
	require.NoError(t, err)
	rec, err := plan.Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
	require.ErrorIs(t, err, ErrStepLimit)
	require.Len(t, rec.StagesCompleted, 5)
}

func TestInvokeRecoversStagePanic(t *testing.T) {
	boom := func(context.Context, models.Record) (models.Update, error) {
		panic("nil map write")
	}
	right := func(context.Context, models.Record) (models.Update, error) {
		return models.Update{RootCause: &models.RootCause{Cause: "ok"}}, nil
	}

	plan, err := fanOutGraph(t, noop, boom, right, noop).Compile()
	require.NoError(t, err)
	rec, err := NewExecutor(plan, WithLogger(quietLogger())).Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
	require.ErrorIs(t, err, ErrStagePanic)
	require.Contains(t, err.Error(), "middle")

	require.NotNil(t, rec.RootCause)
	require.True(t, rec.HasError("middle"))
	require.NotContains(t, rec.StagesCompleted, "join")
}

func TestInvokeHonoursCancelledContext(t *testing.T) {
	plan, err := fanOutGraph(t, noop, noop, noop, noop).Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := plan.Invoke(ctx, models.NewRecord("alert", fixedNow()))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, rec.StagesCompleted)
}

func TestInvokeBoundsParallelism(t *testing.T) {
	var running, peak atomic.Int32
	track := func(context.Context, models.Record) (models.Update, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		running.Add(-1)
		return models.Update{}, nil
	}

	plan, err := fanOutGraph(t, track, track, track, noop).Compile(WithMaxParallel(1))
	require.NoError(t, err)
	_, err = plan.Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
	require.NoError(t, err)
	require.EqualValues(t, 1, peak.Load())
}

func TestInvokeRefreshesUpdatedAt(t *testing.T) {
	tick := fixedNow()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}

	plan, err := fanOutGraph(t, noop, noop, noop, noop).Compile()
	require.NoError(t, err)
	start := models.NewRecord("alert", fixedNow())
	rec, err := NewExecutor(plan, WithClock(clock)).Invoke(context.Background(), start)
	require.NoError(t, err)
	require.True(t, rec.UpdatedAt.After(start.UpdatedAt))
	require.Equal(t, start.CreatedAt, rec.CreatedAt)
	require.Equal(t, start.IncidentID, rec.IncidentID)
}

func TestInvokeEmitsSpansAndObservations(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()
	observer := &recordingObserver{}

	failing := func(context.Context, models.Record) (models.Update, error) {
		return models.Update{}, errors.New("down")
	}
	plan, err := fanOutGraph(t, noop, failing, noop, noop).Compile()
	require.NoError(t, err)

	exec := NewExecutor(plan,
		WithTracer(provider.Tracer("test")),
		WithStageObserver(observer),
		WithLogger(quietLogger()),
	)
	_, err = exec.Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
	require.NoError(t, err)

	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	require.Equal(t, 1, names["workflow.run"])
	require.Equal(t, 5, names["workflow.stage"])
	require.Len(t, observer.stages, 5)
	require.Equal(t, []string{"middle"}, observer.failed)
}

func TestPlanIsSafeForConcurrentRuns(t *testing.T) {
	plan, err := fanOutGraph(t, noop, noop, noop, noop).Compile()
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]models.Record, 8)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := plan.Invoke(context.Background(), models.NewRecord("alert", fixedNow()))
			if err == nil {
				results[i] = rec
			}
		}()
	}
	wg.Wait()

	for _, rec := range results {
		require.Len(t, rec.StagesCompleted, 5)
	}
}
