package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// maxFrontiers caps the abstract frontier exploration used by the overlap
// check.
const maxFrontiers = 4096

func (g *Graph) validate() error {
	var errs []error

	switch {
	case g.entry == "":
		errs = append(errs, ErrNoEntryPoint)
	case g.stages[g.entry] == nil:
		errs = append(errs, fmt.Errorf("%w: entry point %q", ErrUnknownStage, g.entry))
	}

	errs = append(errs, g.validateTransitions()...)
	errs = append(errs, g.validateOutputs()...)

	// Reachability and overlap analysis need a sound topology.
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	errs = append(errs, g.validateReachability()...)
	errs = append(errs, g.validateOverlaps()...)
	return errors.Join(errs...)
}

func (g *Graph) validateTransitions() []error {
	var errs []error
	for _, from := range sortedKeys(g.transitions) {
		if g.stages[from] == nil {
			errs = append(errs, fmt.Errorf("%w: transition from %q", ErrUnknownStage, from))
		}
		t := g.transitions[from]
		if t.routers > 1 || (t.routers == 1 && len(t.edges) > 0) {
			errs = append(errs, fmt.Errorf("%w: stage %q mixes edges and routers", ErrAmbiguousTransition, from))
		}
		if t.routers > 0 && t.router == nil {
			errs = append(errs, fmt.Errorf("%w: stage %q has a nil router", ErrInvalidStage, from))
		}
		for _, to := range append(append([]string(nil), t.edges...), t.targets...) {
			if to == EndStage {
				continue
			}
			if g.stages[to] == nil {
				errs = append(errs, fmt.Errorf("%w: %q referenced from %q", ErrUnknownStage, to, from))
			}
		}
	}
	for _, name := range g.order {
		t, ok := g.transitions[name]
		if !ok || (len(t.edges) == 0 && t.routers == 0) {
			errs = append(errs, fmt.Errorf("%w: %q", ErrMissingTransition, name))
		}
	}
	return errs
}

func (g *Graph) validateOutputs() []error {
	var errs []error
	for field, mode := range g.policy {
		if mode == Append && !field.Accumulator() {
			errs = append(errs, fmt.Errorf("%w: %s cannot be appended", ErrInvalidMergePolicy, field))
		}
	}
	for _, name := range g.order {
		for _, field := range g.stages[name].outputs {
			switch {
			case !field.Known():
				errs = append(errs, fmt.Errorf("%w: stage %q declares unknown field %q", ErrInvalidStage, name, field))
			case field.Reserved():
				errs = append(errs, fmt.Errorf("%w: stage %q declares %s", ErrReservedField, name, field))
			default:
				if _, ok := g.policy[field]; !ok {
					errs = append(errs, fmt.Errorf("%w: %s (stage %q)", ErrMissingMergePolicy, field, name))
				}
			}
		}
	}
	return errs
}

func (g *Graph) successors(name string) []string {
	t := g.transitions[name]
	if t == nil {
		return nil
	}
	if t.routers > 0 {
		return t.targets
	}
	return t.edges
}

// terminates reports whether name can end its branch directly. Routers may
// always return End().
func (g *Graph) terminates(name string) bool {
	t := g.transitions[name]
	if t == nil {
		return false
	}
	if t.routers > 0 {
		return true
	}
	for _, to := range t.edges {
		if to == EndStage {
			return true
		}
	}
	return false
}

func (g *Graph) validateReachability() []error {
	seen := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	endReachable := false
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if g.terminates(name) {
			endReachable = true
		}
		for _, to := range g.successors(name) {
			if to == EndStage || seen[to] {
				continue
			}
			seen[to] = true
			queue = append(queue, to)
		}
	}

	var errs []error
	for _, name := range g.order {
		if !seen[name] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnreachableStage, name))
		}
	}
	if !endReachable {
		errs = append(errs, fmt.Errorf("%w from %q", ErrNoTerminalPath, g.entry))
	}
	return errs
}

// validateOverlaps walks every frontier a run could produce and checks that
// stages sharing a frontier declare disjoint overwrite outputs. Exclusive
// routers branch the walk; other routers contribute all declared targets.
func (g *Graph) validateOverlaps() []error {
	var errs []error
	reported := make(map[string]bool)
	visited := make(map[string]bool)
	queue := [][]string{{g.entry}}

	for len(queue) > 0 && len(visited) < maxFrontiers {
		frontier := queue[0]
		queue = queue[1:]
		key := strings.Join(frontier, ",")
		if visited[key] {
			continue
		}
		visited[key] = true

		for _, err := range g.frontierOverlaps(frontier) {
			if !reported[err.Error()] {
				reported[err.Error()] = true
				errs = append(errs, err)
			}
		}
		for _, next := range g.nextFrontiers(frontier) {
			if len(next) > 0 {
				queue = append(queue, next)
			}
		}
	}
	return errs
}

func (g *Graph) frontierOverlaps(frontier []string) []error {
	var errs []error
	for i := 0; i < len(frontier); i++ {
		for j := i + 1; j < len(frontier); j++ {
			a, b := g.stages[frontier[i]], g.stages[frontier[j]]
			for _, fa := range a.outputs {
				if g.policy[fa] != Overwrite {
					continue
				}
				for _, fb := range b.outputs {
					if fa == fb {
						errs = append(errs, fmt.Errorf("%w: %q and %q both write %s", ErrOverlappingOutputs, a.name, b.name, fa))
					}
				}
			}
		}
	}
	return errs
}

// nextFrontiers returns every frontier that may follow the given one, each
// sorted and deduplicated.
func (g *Graph) nextFrontiers(frontier []string) [][]string {
	combos := [][]string{nil}
	for _, name := range frontier {
		var choices [][]string
		t := g.transitions[name]
		switch {
		case t.routers > 0 && t.exclusive:
			choices = append(choices, nil)
			for _, target := range t.targets {
				choices = append(choices, []string{target})
			}
		default:
			choices = append(choices, g.successors(name))
		}
		var expanded [][]string
		for _, combo := range combos {
			for _, choice := range choices {
				merged := append(append([]string(nil), combo...), choice...)
				expanded = append(expanded, merged)
			}
		}
		combos = expanded
		if len(combos) > maxFrontiers {
			combos = combos[:maxFrontiers]
		}
	}

	out := make([][]string, 0, len(combos))
	for _, combo := range combos {
		out = append(out, normalizeFrontier(combo))
	}
	return out
}

func normalizeFrontier(names []string) []string {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n != EndStage {
			set[n] = true
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

