package workflow

import (
	"fmt"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// Mode selects how a field is folded into the record.
type Mode int

const (
	// Overwrite replaces the field (last write wins across rounds).
	Overwrite Mode = iota
	// Append extends a list field in dispatch order.
	Append
)

func (m Mode) String() string {
	switch m {
	case Overwrite:
		return "overwrite"
	case Append:
		return "append"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ConflictPolicy decides what happens when two updates of the same round set
// the same overwrite field.
type ConflictPolicy int

const (
	// ConflictFail aborts the run with ErrFieldConflict.
	ConflictFail ConflictPolicy = iota
	// ConflictLog keeps the first write and reports the conflict.
	ConflictLog
)

// ParseConflictPolicy maps "fail" and "log" onto a ConflictPolicy.
func ParseConflictPolicy(value string) (ConflictPolicy, error) {
	switch value {
	case "", "fail":
		return ConflictFail, nil
	case "log":
		return ConflictLog, nil
	default:
		return ConflictFail, fmt.Errorf("workflow: unknown conflict policy %q", value)
	}
}

// MergePolicy maps each field to its merge mode.
type MergePolicy map[models.Field]Mode

// Conflict describes two writers of one overwrite field in a single round.
type Conflict struct {
	Field   models.Field
	Kept    string
	Dropped string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s written by %q and %q", c.Field, c.Kept, c.Dropped)
}

// Contribution is one stage's update within a round.
type Contribution struct {
	Stage  string
	Update models.Update
}

// Merge folds a single update into rec.
func (p MergePolicy) Merge(rec *models.Record, u models.Update) error {
	for _, f := range u.Fields() {
		mode, ok := p[f]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingMergePolicy, f)
		}
		rec.Apply(u, f, mode == Append)
	}
	return nil
}

// MergeRound folds every contribution of one round into rec in the given
// order. Conflicting overwrite fields are resolved by onConflict; with
// ConflictFail nothing is written when a conflict exists.
func (p MergePolicy) MergeRound(rec *models.Record, round []Contribution, onConflict ConflictPolicy) ([]Conflict, error) {
	owner := make(map[models.Field]string)
	var conflicts []Conflict
	skip := make([]map[models.Field]bool, len(round))

	for i, c := range round {
		for _, f := range c.Update.Fields() {
			mode, ok := p[f]
			if !ok {
				return nil, fmt.Errorf("%w: %s (stage %q)", ErrMissingMergePolicy, f, c.Stage)
			}
			if mode == Append {
				continue
			}
			if first, taken := owner[f]; taken {
				conflicts = append(conflicts, Conflict{Field: f, Kept: first, Dropped: c.Stage})
				if skip[i] == nil {
					skip[i] = make(map[models.Field]bool)
				}
				skip[i][f] = true
				continue
			}
			owner[f] = c.Stage
		}
	}

	if len(conflicts) > 0 && onConflict == ConflictFail {
		return conflicts, fmt.Errorf("%w: %s", ErrFieldConflict, conflicts[0])
	}

	for i, c := range round {
		for _, f := range c.Update.Fields() {
			if skip[i][f] {
				continue
			}
			rec.Apply(c.Update, f, p[f] == Append)
		}
	}
	return conflicts, nil
}

func (p MergePolicy) clone() MergePolicy {
	out := make(MergePolicy, len(p))
	for f, m := range p {
		out[f] = m
	}
	return out
}

// withBookkeeping returns a copy of p with the executor-owned fields added.
func (p MergePolicy) withBookkeeping() MergePolicy {
	out := p.clone()
	out[models.FieldStagesCompleted] = Append
	out[models.FieldStageErrors] = Append
	out[models.FieldUpdatedAt] = Overwrite
	return out
}
