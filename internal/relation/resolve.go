// Package relation resolves a parent/child entity pair to the unique
// foreign-key path connecting their tables. Resolution is deterministic for
// a given catalog and never guesses between ambiguous candidates.
package relation

import (
	"github.com/andreypopp/relational/internal/catalog"
)

// Cardinality declares how many child rows a relation may attach per parent.
type Cardinality int

const (
	// One is a facet relation: at most one child row per parent row.
	One Cardinality = iota + 1
	// Many is a plain one-to-many relation.
	Many
)

func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	default:
		return "unknown"
	}
}

// Path is the resolved join path between a parent and child table: exactly
// one foreign-key constraint on the child referencing the parent.
type Path struct {
	Constraint catalog.ForeignKey
}

// ChildColumns returns the FK columns on the child table, in constraint order.
func (p Path) ChildColumns() []string {
	return p.Constraint.Columns
}

// ParentColumns returns the referenced columns on the parent table,
// positionally aligned with ChildColumns.
func (p Path) ParentColumns() []string {
	return p.Constraint.ReferencedColumns
}

// Resolve returns the unique foreign-key path from parentTable to childTable
// under the declared cardinality. via, when non-empty, restricts candidates
// to the named constraint before the cardinality check.
//
// Candidates are foreign keys on the child table referencing the parent.
// A candidate whose FK columns are covered by a unique index on the child is
// a facet (one-to-one); otherwise it is one-to-many.
func Resolve(cat *catalog.Catalog, parentTable, childTable string, card Cardinality, via string) (Path, error) {
	var candidates []catalog.ForeignKey
	for _, fk := range cat.ForeignKeysBetween(parentTable, childTable) {
		if fk.Table == childTable && fk.ReferencedTable == parentTable {
			candidates = append(candidates, fk)
		}
	}

	if via != "" {
		filtered := candidates[:0:0]
		for _, fk := range candidates {
			if fk.ConstraintName == via {
				filtered = append(filtered, fk)
			}
		}
		candidates = filtered
	}

	if len(candidates) == 0 {
		return Path{}, &NoRelationError{Parent: parentTable, Child: childTable, Via: via}
	}

	eligible := candidates[:0:0]
	for _, fk := range candidates {
		if pathCardinality(fk) == card {
			eligible = append(eligible, fk)
		}
	}

	switch len(eligible) {
	case 0:
		// Every candidate exists but none matches the declared cardinality.
		return Path{}, &CardinalityMismatchError{
			Parent:     parentTable,
			Child:      childTable,
			Constraint: candidates[0].ConstraintName,
			Declared:   card,
			Actual:     pathCardinality(candidates[0]),
		}
	case 1:
		return Path{Constraint: eligible[0]}, nil
	default:
		names := make([]string, len(eligible))
		for i, fk := range eligible {
			names[i] = fk.ConstraintName
		}
		return Path{}, &AmbiguousRelationError{Parent: parentTable, Child: childTable, Candidates: names}
	}
}

func pathCardinality(fk catalog.ForeignKey) Cardinality {
	if fk.IsUnique {
		return One
	}
	return Many
}
