// Package lifecycle holds the report stage machine: the set of stages a
// report artifact moves through and the exhaustive table of legal moves
// between them. It is pure; persistence and gating live in the engine.
package lifecycle

import "fmt"

type Stage string

const (
	StageDraft      Stage = "draft"
	StageReview     Stage = "review"
	StageApproved   Stage = "approved"
	StagePublished  Stage = "published"
	StageDeprecated Stage = "deprecated"
	StageArchived   Stage = "archived"
	StageRetired    Stage = "retired"
)

// StageNone is the pre-draft state of a report that has been registered but
// never transitioned. The only legal move out of it is into draft.
const StageNone Stage = ""

// transitions is the exhaustive table of allowed moves. Any pair not listed
// is illegal. retired has no outgoing edges.
var transitions = map[Stage][]Stage{
	StageNone:       {StageDraft},
	StageDraft:      {StageReview},
	StageReview:     {StageApproved, StageDraft},
	StageApproved:   {StagePublished, StageReview},
	StagePublished:  {StageDeprecated, StageArchived},
	StageDeprecated: {StageArchived, StageRetired},
	StageArchived:   {StageRetired, StagePublished},
	StageRetired:    {},
}

// Stages lists every named stage in lifecycle order.
func Stages() []Stage {
	return []Stage{StageDraft, StageReview, StageApproved, StagePublished, StageDeprecated, StageArchived, StageRetired}
}

// Valid reports whether s names a known stage.
func Valid(s Stage) bool {
	for _, st := range Stages() {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func Terminal(s Stage) bool {
	return len(transitions[s]) == 0 && s != StageNone
}

// CanTransition reports whether moving from -> to is allowed by the table.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the stages reachable from the given stage.
func AllowedFrom(from Stage) []Stage {
	out := make([]Stage, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// EnsureTransition validates a move and returns InvalidTransitionError when
// the table forbids it.
func EnsureTransition(from, to Stage) error {
	if !Valid(to) {
		return InvalidTransitionError{From: from, To: to}
	}
	if !CanTransition(from, to) {
		return InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// InvalidTransitionError signals a stage move the table forbids. The
// aggregate is left unchanged.
type InvalidTransitionError struct {
	From Stage
	To   Stage
}

func (e InvalidTransitionError) Error() string {
	from := string(e.From)
	if e.From == StageNone {
		from = "(none)"
	}
	return fmt.Sprintf("invalid stage transition %s -> %s", from, e.To)
}
