package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// StageFunc is a unit of work. It receives a private snapshot of the record
// and returns the fields it wants to change.
type StageFunc func(ctx context.Context, rec models.Record) (models.Update, error)

type stageDef struct {
	name    string
	fn      StageFunc
	outputs []models.Field
}

type transition struct {
	edges     []string
	routers   int
	router    Router
	targets   []string
	exclusive bool
}

// Graph is a mutable workflow definition. Build it once, then Compile it into
// an immutable Plan. Graph is not safe for concurrent use.
type Graph struct {
	name        string
	stages      map[string]*stageDef
	order       []string
	transitions map[string]*transition
	entry       string
	policy      MergePolicy
}

// NewGraph creates an empty graph definition.
func NewGraph(name string) *Graph {
	return &Graph{
		name:        name,
		stages:      make(map[string]*stageDef),
		transitions: make(map[string]*transition),
		policy:      make(MergePolicy),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// AddStage registers a stage and the record fields it may write.
func (g *Graph) AddStage(name string, fn StageFunc, outputs ...models.Field) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidStage)
	case name == EndStage:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidStage, EndStage)
	case fn == nil:
		return fmt.Errorf("%w: stage %q has nil func", ErrInvalidStage, name)
	}
	if _, exists := g.stages[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateStage, name)
	}
	g.stages[name] = &stageDef{
		name:    name,
		fn:      fn,
		outputs: append([]models.Field(nil), outputs...),
	}
	g.order = append(g.order, name)
	return nil
}

// AddEdge adds an unconditional transition. Several edges from the same stage
// fan out to all of their targets.
func (g *Graph) AddEdge(from, to string) {
	t := g.transition(from)
	t.edges = append(t.edges, to)
}

// AddConditionalEdges attaches a router that may choose any subset of targets.
func (g *Graph) AddConditionalEdges(from string, router Router, targets ...string) {
	g.addRouter(from, router, false, targets)
}

// AddExclusiveEdges attaches a router that chooses at most one of targets.
func (g *Graph) AddExclusiveEdges(from string, router Router, targets ...string) {
	g.addRouter(from, router, true, targets)
}

func (g *Graph) addRouter(from string, router Router, exclusive bool, targets []string) {
	t := g.transition(from)
	t.routers++
	t.router = router
	t.exclusive = exclusive
	t.targets = append([]string(nil), targets...)
}

func (g *Graph) transition(from string) *transition {
	t, ok := g.transitions[from]
	if !ok {
		t = &transition{}
		g.transitions[from] = t
	}
	return t
}

// SetEntryPoint names the first stage of every run.
func (g *Graph) SetEntryPoint(name string) {
	g.entry = name
}

// SetMergePolicy declares how field is merged into the record.
func (g *Graph) SetMergePolicy(field models.Field, mode Mode) {
	g.policy[field] = mode
}

// CompileOption tunes a Plan.
type CompileOption func(*compileConfig)

type compileConfig struct {
	maxSteps    int
	maxParallel int
	onConflict  ConflictPolicy
}

const (
	DefaultMaxSteps    = 25
	DefaultMaxParallel = 3
)

// WithMaxSteps bounds the number of rounds a single run may take.
func WithMaxSteps(n int) CompileOption {
	return func(c *compileConfig) {
		if n > 0 {
			c.maxSteps = n
		}
	}
}

// WithMaxParallel bounds how many stages of one frontier run at once.
func WithMaxParallel(n int) CompileOption {
	return func(c *compileConfig) {
		if n > 0 {
			c.maxParallel = n
		}
	}
}

// WithConflictPolicy selects what happens when two stages of one round set
// the same overwrite field.
func WithConflictPolicy(p ConflictPolicy) CompileOption {
	return func(c *compileConfig) {
		c.onConflict = p
	}
}

// Compile validates the definition and freezes it into a Plan. Every defect
// found is reported in the returned *GraphError.
func (g *Graph) Compile(opts ...CompileOption) (*Plan, error) {
	cfg := compileConfig{
		maxSteps:    DefaultMaxSteps,
		maxParallel: DefaultMaxParallel,
		onConflict:  ConflictFail,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := g.validate(); err != nil {
		return nil, &GraphError{Graph: g.name, Err: err}
	}

	plan := &Plan{
		name:        g.name,
		entry:       g.entry,
		order:       append([]string(nil), g.order...),
		stages:      make(map[string]compiledStage, len(g.stages)),
		transitions: make(map[string]compiledTransition, len(g.transitions)),
		policy:      g.policy.withBookkeeping(),
		maxSteps:    cfg.maxSteps,
		maxParallel: cfg.maxParallel,
		onConflict:  cfg.onConflict,
	}
	for name, def := range g.stages {
		outputs := make(map[models.Field]bool, len(def.outputs))
		for _, f := range def.outputs {
			outputs[f] = true
		}
		plan.stages[name] = compiledStage{name: name, fn: def.fn, outputs: outputs}
	}
	for from, t := range g.transitions {
		declared := make(map[string]bool, len(t.targets))
		for _, target := range t.targets {
			declared[target] = true
		}
		plan.transitions[from] = compiledTransition{
			edges:     append([]string(nil), t.edges...),
			router:    t.router,
			declared:  declared,
			exclusive: t.exclusive,
		}
	}
	return plan, nil
}

type compiledStage struct {
	name    string
	fn      StageFunc
	outputs map[models.Field]bool
}

type compiledTransition struct {
	edges     []string
	router    Router
	declared  map[string]bool
	exclusive bool
}

// Plan is a compiled, immutable graph. A Plan may be shared by any number of
// concurrent runs.
type Plan struct {
	name        string
	entry       string
	order       []string
	stages      map[string]compiledStage
	transitions map[string]compiledTransition
	policy      MergePolicy
	maxSteps    int
	maxParallel int
	onConflict  ConflictPolicy
}

// Name returns the graph name the plan was compiled from.
func (p *Plan) Name() string {
	return p.name
}

// Entry returns the entry stage.
func (p *Plan) Entry() string {
	return p.entry
}

// Stages lists stage names in registration order.
func (p *Plan) Stages() []string {
	return append([]string(nil), p.order...)
}

// Outputs lists the fields a stage declared, in canonical field order.
func (p *Plan) Outputs(stage string) []models.Field {
	def, ok := p.stages[stage]
	if !ok {
		return nil
	}
	var out []models.Field
	for _, f := range models.AllFields {
		if def.outputs[f] {
			out = append(out, f)
		}
	}
	return out
}

// MaxSteps returns the configured round limit.
func (p *Plan) MaxSteps() int {
	return p.maxSteps
}

// Invoke runs the plan with a default executor.
func (p *Plan) Invoke(ctx context.Context, rec models.Record) (models.Record, error) {
	return NewExecutor(p).Invoke(ctx, rec)
}
