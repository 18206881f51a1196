package workflow

import "github.com/miradorstack/mirador-incident/internal/models"

// EndStage is the terminal marker. It may be used as an edge target but
// never as a stage name.
const EndStage = "END"

// Router inspects the merged record after its stage completes and picks the
// next stage(s). Routers must be pure.
type Router func(rec models.Record) Next

// Next is the routing decision returned by a Router.
type Next struct {
	targets []string
}

// Parallel schedules every named stage in the next frontier.
func Parallel(names ...string) Next {
	return Next{targets: append([]string(nil), names...)}
}

// Single schedules exactly one stage.
func Single(name string) Next {
	return Next{targets: []string{name}}
}

// End terminates this branch.
func End() Next {
	return Next{}
}

// Targets returns the stages chosen, excluding END.
func (n Next) Targets() []string {
	out := make([]string, 0, len(n.targets))
	for _, t := range n.targets {
		if t != EndStage {
			out = append(out, t)
		}
	}
	return out
}

// IsEnd reports whether the branch terminates.
func (n Next) IsEnd() bool {
	return len(n.Targets()) == 0
}
