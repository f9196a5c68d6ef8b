package catalog

import (
	"errors"
	"testing"
)

func testMetadata() Metadata {
	return Metadata{
		Tables: []TableMeta{
			{Name: "study", Schema: "lab"},
			{Name: "experiment", Schema: "lab"},
			{Name: "report", Schema: "lab"},
		},
		Columns: []ColumnMeta{
			{Table: "study", Name: "id", IsPrimaryKey: true},
			{Table: "study", Name: "name"},
			{Table: "experiment", Name: "id", IsPrimaryKey: true},
			{Table: "experiment", Name: "study_id"},
			{Table: "experiment", Name: "name"},
			{Table: "report", Name: "id", IsPrimaryKey: true},
			{Table: "report", Name: "study_id"},
		},
		ForeignKeys: []ForeignKey{
			{
				ConstraintName:    "experiment_ibfk_1",
				Table:             "experiment",
				Columns:           []string{"study_id"},
				ReferencedTable:   "study",
				ReferencedColumns: []string{"id"},
			},
			{
				ConstraintName:    "report_ibfk_1",
				Table:             "report",
				Columns:           []string{"study_id"},
				ReferencedTable:   "study",
				ReferencedColumns: []string{"id"},
				IsUnique:          true,
			},
		},
	}
}

func TestBuild_LookupTable(t *testing.T) {
	cat, err := Build(testMetadata())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	table, err := cat.LookupTable("experiment")
	if err != nil {
		t.Fatalf("LookupTable failed: %v", err)
	}
	if table.Schema != "lab" {
		t.Errorf("expected schema lab, got %s", table.Schema)
	}
	if len(table.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(table.Columns))
	}
	// Column order must follow feed order.
	if table.Columns[0].Name != "id" || table.Columns[1].Name != "study_id" || table.Columns[2].Name != "name" {
		t.Errorf("unexpected column order: %#v", table.Columns)
	}
}

func TestLookupTable_UnknownEntity(t *testing.T) {
	cat, err := Build(testMetadata())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	_, err = cat.LookupTable("missing")
	var unknownErr *UnknownEntityError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownEntityError, got %v", err)
	}
	if unknownErr.Entity != "missing" {
		t.Errorf("expected entity missing, got %s", unknownErr.Entity)
	}
}

func TestPrimaryKeyColumns(t *testing.T) {
	cat, err := Build(testMetadata())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	study, _ := cat.LookupTable("study")
	pk := PrimaryKeyColumns(study)
	if len(pk) != 1 || pk[0].Name != "id" {
		t.Errorf("unexpected primary key columns: %#v", pk)
	}
}

func TestPrimaryKeyColumns_CompositeOrder(t *testing.T) {
	md := Metadata{
		Tables: []TableMeta{{Name: "membership"}},
		Columns: []ColumnMeta{
			{Table: "membership", Name: "tenant_id", IsPrimaryKey: true},
			{Table: "membership", Name: "user_id", IsPrimaryKey: true},
			{Table: "membership", Name: "role"},
		},
	}
	cat, err := Build(md)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	table, _ := cat.LookupTable("membership")
	pk := PrimaryKeyColumns(table)
	if len(pk) != 2 || pk[0].Name != "tenant_id" || pk[1].Name != "user_id" {
		t.Errorf("composite primary key must keep declaration order: %#v", pk)
	}
}

func TestForeignKeysBetween_EitherDirection(t *testing.T) {
	cat, err := Build(testMetadata())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	forward := cat.ForeignKeysBetween("study", "experiment")
	reverse := cat.ForeignKeysBetween("experiment", "study")
	if len(forward) != 1 || len(reverse) != 1 {
		t.Fatalf("expected 1 FK in each direction, got %d and %d", len(forward), len(reverse))
	}
	if forward[0].ConstraintName != reverse[0].ConstraintName {
		t.Errorf("direction must not change the constraint set")
	}
}

func TestForeignKeysBetween_DeterministicOrder(t *testing.T) {
	md := Metadata{
		Tables: []TableMeta{{Name: "posts"}, {Name: "users"}},
		Columns: []ColumnMeta{
			{Table: "posts", Name: "id", IsPrimaryKey: true},
			{Table: "posts", Name: "author_id"},
			{Table: "posts", Name: "editor_id"},
			{Table: "users", Name: "id", IsPrimaryKey: true},
		},
		ForeignKeys: []ForeignKey{
			// Feed order deliberately reversed relative to constraint names.
			{ConstraintName: "posts_ibfk_2", Table: "posts", Columns: []string{"editor_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}},
			{ConstraintName: "posts_ibfk_1", Table: "posts", Columns: []string{"author_id"}, ReferencedTable: "users", ReferencedColumns: []string{"id"}},
		},
	}
	cat, err := Build(md)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	fks := cat.ForeignKeysBetween("users", "posts")
	if len(fks) != 2 {
		t.Fatalf("expected 2 FKs, got %d", len(fks))
	}
	if fks[0].ConstraintName != "posts_ibfk_1" || fks[1].ConstraintName != "posts_ibfk_2" {
		t.Errorf("constraints must be ordered by name, got %s then %s", fks[0].ConstraintName, fks[1].ConstraintName)
	}
}

func TestBuild_RejectsBadMetadata(t *testing.T) {
	tests := []struct {
		name string
		md   Metadata
	}{
		{
			"duplicate table",
			Metadata{Tables: []TableMeta{{Name: "a"}, {Name: "a"}}},
		},
		{
			"column on unknown table",
			Metadata{Columns: []ColumnMeta{{Table: "ghost", Name: "id"}}},
		},
		{
			"duplicate column",
			Metadata{
				Tables:  []TableMeta{{Name: "a"}},
				Columns: []ColumnMeta{{Table: "a", Name: "id"}, {Table: "a", Name: "id"}},
			},
		},
		{
			"foreign key arity mismatch",
			Metadata{
				Tables:  []TableMeta{{Name: "a"}, {Name: "b"}},
				Columns: []ColumnMeta{{Table: "a", Name: "b_id"}, {Table: "b", Name: "id"}},
				ForeignKeys: []ForeignKey{{
					ConstraintName: "fk", Table: "a", Columns: []string{"b_id"},
					ReferencedTable: "b", ReferencedColumns: []string{"id", "extra"},
				}},
			},
		},
		{
			"foreign key to unknown table",
			Metadata{
				Tables:  []TableMeta{{Name: "a"}},
				Columns: []ColumnMeta{{Table: "a", Name: "b_id"}},
				ForeignKeys: []ForeignKey{{
					ConstraintName: "fk", Table: "a", Columns: []string{"b_id"},
					ReferencedTable: "ghost", ReferencedColumns: []string{"id"},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(tt.md); err == nil {
				t.Fatal("expected Build to fail")
			}
		})
	}
}

func TestFindColumn(t *testing.T) {
	cat, err := Build(testMetadata())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	study, _ := cat.LookupTable("study")
	if _, ok := FindColumn(study, "name"); !ok {
		t.Error("expected to find column name")
	}
	if _, ok := FindColumn(study, "ghost"); ok {
		t.Error("did not expect to find column ghost")
	}
}
