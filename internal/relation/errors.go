package relation

import (
	"fmt"
	"strings"
)

// NoRelationError indicates no foreign-key path connects the parent and
// child tables under the declared constraints.
type NoRelationError struct {
	Parent string
	Child  string
	Via    string
}

func (e *NoRelationError) Error() string {
	if e.Via != "" {
		return fmt.Sprintf("no relation between %q and %q via constraint %q", e.Parent, e.Child, e.Via)
	}
	return fmt.Sprintf("no relation between %q and %q", e.Parent, e.Child)
}

// AmbiguousRelationError indicates more than one foreign-key path connects
// the parent and child tables. Candidates carries the constraint names so
// the caller can disambiguate with an explicit via.
type AmbiguousRelationError struct {
	Parent     string
	Child      string
	Candidates []string
}

func (e *AmbiguousRelationError) Error() string {
	return fmt.Sprintf(
		"ambiguous relation between %q and %q: candidates %s; disambiguate with via",
		e.Parent, e.Child, strings.Join(e.Candidates, ", "),
	)
}

// CardinalityMismatchError indicates the declared cardinality disagrees with
// the discovered constraint's uniqueness.
type CardinalityMismatchError struct {
	Parent     string
	Child      string
	Constraint string
	Declared   Cardinality
	Actual     Cardinality
}

func (e *CardinalityMismatchError) Error() string {
	if e.Declared == One && e.Actual == Many {
		return fmt.Sprintf(
			"relation between %q and %q over %q is one-to-many; state a first limit",
			e.Parent, e.Child, e.Constraint,
		)
	}
	return fmt.Sprintf(
		"relation between %q and %q over %q is %s, spec declares %s",
		e.Parent, e.Child, e.Constraint, e.Actual, e.Declared,
	)
}
