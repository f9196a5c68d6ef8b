// Package spec models the declarative entity-selection tree consumed by the
// compiler. A spec names a root entity and an ordered selection of columns
// and nested relations; relationships themselves are never declared here,
// they are inferred from the catalog's foreign keys at compile time.
package spec

// Spec selects an entity together with an ordered set of fields.
// A nil Select means every column of the entity's table.
type Spec struct {
	Entity string
	Select []Field
}

// FieldKind discriminates the closed set of select values.
type FieldKind int

const (
	// PlainField selects a column under its catalog name.
	PlainField FieldKind = iota + 1
	// RenamedField selects a column under a caller-chosen output key.
	RenamedField
	// RelationField selects a nested entity through an inferred join.
	RelationField
)

// Field is one entry of a spec's select. Name is the select key: the column
// name for plain and renamed fields, the output key for relations. Alias is
// the key the field appears under in result rows.
type Field struct {
	Name     string
	Alias    string
	Kind     FieldKind
	Relation *Relation
}

// Relation is a nested entity selection. First > 0 declares a one-to-many
// relation truncated to the first N child rows per parent; HasFirst false
// declares a one-to-one facet. Via optionally names the foreign-key
// constraint to join through when several connect the pair.
type Relation struct {
	Spec     *Spec
	First    int
	HasFirst bool
	Via      string
}

// Column returns the catalog column name a plain or renamed field selects.
func (f Field) Column() string {
	return f.Name
}
