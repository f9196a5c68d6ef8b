// Package catalog models database schema metadata as an immutable in-memory
// catalog of tables, columns, primary keys, and foreign-key constraints.
// A Catalog is built once from a metadata feed and is safe to share across
// concurrent compilations.
package catalog

import (
	"fmt"
	"sort"
)

// Column represents a database column.
type Column struct {
	Name         string
	IsPrimaryKey bool
}

// Table represents a database table with its ordered columns.
type Table struct {
	Name    string
	Schema  string
	Columns []Column
}

// ForeignKey represents a complete foreign-key constraint. Columns and
// ReferencedColumns are positionally aligned and always the same length.
type ForeignKey struct {
	ConstraintName    string
	Table             string   // referencing (child) table
	Columns           []string // FK columns on Table, in constraint order
	ReferencedTable   string
	ReferencedColumns []string
	// IsUnique reports whether Columns are covered by a unique or primary
	// key index on Table. A unique foreign key makes the relationship
	// one-to-one rather than one-to-many.
	IsUnique bool
}

// Metadata is the raw feed consumed to build a Catalog. The reflect package
// produces it from INFORMATION_SCHEMA; tests construct it directly.
type Metadata struct {
	Tables      []TableMeta
	Columns     []ColumnMeta
	ForeignKeys []ForeignKey
}

// TableMeta describes one table in the metadata feed.
type TableMeta struct {
	Name   string
	Schema string
}

// ColumnMeta describes one column in the metadata feed. Rows must arrive in
// ordinal position order per table.
type ColumnMeta struct {
	Table        string
	Name         string
	IsPrimaryKey bool
}

// Catalog is the immutable schema model. Never mutated after Build.
type Catalog struct {
	tables      map[string]Table
	foreignKeys []ForeignKey
}

// UnknownEntityError indicates a spec named a table absent from the catalog.
type UnknownEntityError struct {
	Entity string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown entity %q: no such table in catalog", e.Entity)
}

// Build assembles a Catalog from the metadata feed.
func Build(md Metadata) (*Catalog, error) {
	tables := make(map[string]Table, len(md.Tables))
	for _, tm := range md.Tables {
		if tm.Name == "" {
			return nil, fmt.Errorf("table with empty name in metadata feed")
		}
		if _, exists := tables[tm.Name]; exists {
			return nil, fmt.Errorf("duplicate table %q in metadata feed", tm.Name)
		}
		tables[tm.Name] = Table{Name: tm.Name, Schema: tm.Schema}
	}

	for _, cm := range md.Columns {
		table, ok := tables[cm.Table]
		if !ok {
			return nil, fmt.Errorf("column %q references unknown table %q", cm.Name, cm.Table)
		}
		for _, existing := range table.Columns {
			if existing.Name == cm.Name {
				return nil, fmt.Errorf("duplicate column %q on table %q", cm.Name, cm.Table)
			}
		}
		table.Columns = append(table.Columns, Column{Name: cm.Name, IsPrimaryKey: cm.IsPrimaryKey})
		tables[cm.Table] = table
	}

	fks := make([]ForeignKey, 0, len(md.ForeignKeys))
	for _, fk := range md.ForeignKeys {
		if len(fk.Columns) == 0 {
			return nil, fmt.Errorf("foreign key %q on %q has no columns", fk.ConstraintName, fk.Table)
		}
		if len(fk.Columns) != len(fk.ReferencedColumns) {
			return nil, fmt.Errorf("foreign key %q on %q has mismatched column arity", fk.ConstraintName, fk.Table)
		}
		if _, ok := tables[fk.Table]; !ok {
			return nil, fmt.Errorf("foreign key %q references unknown table %q", fk.ConstraintName, fk.Table)
		}
		if _, ok := tables[fk.ReferencedTable]; !ok {
			return nil, fmt.Errorf("foreign key %q references unknown table %q", fk.ConstraintName, fk.ReferencedTable)
		}
		fks = append(fks, fk)
	}

	// Constraint order must not depend on metadata scan order.
	sort.SliceStable(fks, func(i, j int) bool {
		if fks[i].Table != fks[j].Table {
			return fks[i].Table < fks[j].Table
		}
		return fks[i].ConstraintName < fks[j].ConstraintName
	})

	return &Catalog{tables: tables, foreignKeys: fks}, nil
}

// LookupTable returns the table with the given name.
func (c *Catalog) LookupTable(name string) (Table, error) {
	table, ok := c.tables[name]
	if !ok {
		return Table{}, &UnknownEntityError{Entity: name}
	}
	return table, nil
}

// ForeignKeysBetween returns all foreign-key constraints connecting the two
// tables, in either direction, in deterministic order.
func (c *Catalog) ForeignKeysBetween(tableA, tableB string) []ForeignKey {
	var result []ForeignKey
	for _, fk := range c.foreignKeys {
		if (fk.Table == tableA && fk.ReferencedTable == tableB) ||
			(fk.Table == tableB && fk.ReferencedTable == tableA) {
			result = append(result, fk)
		}
	}
	return result
}

// Tables returns the catalog's table names in sorted order.
func (c *Catalog) Tables() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrimaryKeyColumns returns all primary key columns for a table in column
// declaration order. Returns an empty slice if the table has no primary key;
// callers that need $id synthesis check for that lazily.
func PrimaryKeyColumns(table Table) []Column {
	var cols []Column
	for _, col := range table.Columns {
		if col.IsPrimaryKey {
			cols = append(cols, col)
		}
	}
	return cols
}

// FindColumn returns the column with the given name, if present.
func FindColumn(table Table, name string) (Column, bool) {
	for _, col := range table.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}
