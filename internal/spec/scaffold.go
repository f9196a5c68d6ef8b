package spec

import (
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/andreypopp/relational/internal/catalog"
)

// DefaultScaffoldLimit is the first value given to scaffolded one-to-many
// relations; callers are expected to tune it per relation.
const DefaultScaffoldLimit = 10

// Scaffold derives a starter spec for a table: every column selected under
// its own name, plus one level of inferred relations. One-to-many relation
// aliases are pluralized from the child table name; facets stay singular.
// Relations whose alias would collide with a column or a previously derived
// relation are skipped rather than renamed.
func Scaffold(cat *catalog.Catalog, entity string) (*Spec, error) {
	table, err := cat.LookupTable(entity)
	if err != nil {
		return nil, err
	}

	sp := &Spec{Entity: entity}
	used := make(map[string]struct{}, len(table.Columns))
	for _, col := range table.Columns {
		sp.Select = append(sp.Select, Field{Name: col.Name, Alias: col.Name, Kind: PlainField})
		used[col.Name] = struct{}{}
	}

	for _, child := range cat.Tables() {
		if child == entity {
			continue
		}
		var inbound []catalog.ForeignKey
		for _, fk := range cat.ForeignKeysBetween(entity, child) {
			if fk.Table == child && fk.ReferencedTable == entity {
				inbound = append(inbound, fk)
			}
		}

		for _, fk := range inbound {
			alias := inflection.Plural(child)
			rel := &Relation{
				Spec:     &Spec{Entity: child},
				First:    DefaultScaffoldLimit,
				HasFirst: true,
			}
			if fk.IsUnique {
				alias = child
				rel.First = 0
				rel.HasFirst = false
			}
			if len(inbound) > 1 {
				// Several constraints connect the pair; pin each relation to
				// its constraint and qualify the alias by the FK column.
				rel.Via = fk.ConstraintName
				alias = strings.TrimSuffix(fk.Columns[0], "_id") + "_" + alias
			}

			if _, taken := used[alias]; taken {
				continue
			}
			used[alias] = struct{}{}
			sp.Select = append(sp.Select, Field{Name: alias, Alias: alias, Kind: RelationField, Relation: rel})
		}
	}

	return sp, nil
}
