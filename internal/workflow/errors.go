package workflow

import (
	"errors"
	"fmt"
)

// Compile-time sentinels. Compile joins every defect it finds into a single
// *GraphError so callers can test for each one with errors.Is.
var (
	ErrNoEntryPoint        = errors.New("workflow: no entry point")
	ErrUnknownStage        = errors.New("workflow: unknown stage")
	ErrDuplicateStage      = errors.New("workflow: duplicate stage")
	ErrInvalidStage        = errors.New("workflow: invalid stage")
	ErrUnreachableStage    = errors.New("workflow: unreachable stage")
	ErrNoTerminalPath      = errors.New("workflow: no path reaches END")
	ErrAmbiguousTransition = errors.New("workflow: ambiguous transition")
	ErrMissingTransition   = errors.New("workflow: stage has no outgoing transition")
	ErrMissingMergePolicy  = errors.New("workflow: missing merge policy")
	ErrInvalidMergePolicy  = errors.New("workflow: invalid merge policy")
	ErrReservedField       = errors.New("workflow: reserved field")
	ErrOverlappingOutputs  = errors.New("workflow: overlapping outputs")
)

// Run-time sentinels.
var (
	ErrStepLimit        = errors.New("workflow: step limit exceeded")
	ErrUndeclaredRoute  = errors.New("workflow: router chose undeclared target")
	ErrUndeclaredOutput = errors.New("workflow: stage wrote undeclared field")
	ErrStagePanic       = errors.New("workflow: stage panicked")
	ErrFieldConflict    = errors.New("workflow: conflicting writes in one round")
)

// GraphError reports why a graph failed to compile.
type GraphError struct {
	Graph string
	Err   error
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("workflow: graph %q is invalid: %v", e.Graph, e.Err)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}
