package compiler

import "fmt"

// UnknownFieldError indicates a select referenced a column that does not
// exist on the entity's table.
type UnknownFieldError struct {
	Entity string
	Field  string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q on entity %q", e.Field, e.Entity)
}

// MissingPrimaryKeyError indicates a table used as an entity has no primary
// key, so $id cannot be synthesized for its rows.
type MissingPrimaryKeyError struct {
	Entity string
}

func (e *MissingPrimaryKeyError) Error() string {
	return fmt.Sprintf("entity %q has no primary key; cannot synthesize $id", e.Entity)
}

// MaxDepthError indicates the spec tree nests deeper than the configured
// guard allows. Recursive specs are legal by construction, so the guard is
// what turns a cyclic spec into an error instead of non-termination.
type MaxDepthError struct {
	Entity string
	Depth  int
}

func (e *MaxDepthError) Error() string {
	return fmt.Sprintf("spec exceeds maximum nesting depth %d at entity %q", e.Depth, e.Entity)
}
