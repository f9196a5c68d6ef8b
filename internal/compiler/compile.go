// Package compiler lowers an entity-selection spec into a CTE plan: an
// ordered chain of aggregating sub-queries, children before parents, that
// the emitter renders into a single SQL statement.
//
// Compilation is a pure function over (catalog, spec) and performs no I/O;
// any number of compilations may run concurrently against a shared catalog.
package compiler

import (
	"fmt"
	"strings"

	"github.com/andreypopp/relational/internal/catalog"
	"github.com/andreypopp/relational/internal/relation"
	"github.com/andreypopp/relational/internal/spec"
)

// DefaultMaxDepth bounds spec nesting. The data model permits recursive
// specs; without a guard a cyclic spec compiles forever.
const DefaultMaxDepth = 25

// FieldSel is a plain column selection: Column from the source table exposed
// under Alias in the output.
type FieldSel struct {
	Alias  string
	Column string
}

// RelationSel attaches a compiled child node to its parent under Alias.
type RelationSel struct {
	Alias       string
	Node        *Node
	Cardinality relation.Cardinality
	Limit       int
}

// Node is one named sub-query of the plan. Non-root nodes aggregate child
// rows per join key; the root selects its table directly.
type Node struct {
	// Name is the CTE name; unused on the root node.
	Name   string
	Entity string
	Table  catalog.Table
	// Fields are the plain output columns in spec order.
	Fields []FieldSel
	// Relations are the nested aggregated columns in spec order. Each
	// referenced Node appears earlier in the plan's node chain.
	Relations []RelationSel
	// PrimaryKey holds the table's PK column names in declaration order;
	// $id is their pipe-concatenation and Many aggregation orders by them.
	PrimaryKey []string
	// JoinColumns/ParentColumns align the child-side FK columns with the
	// parent-side referenced columns. Empty on the root.
	JoinColumns   []string
	ParentColumns []string
	// Cardinality and Limit describe this node relative to its parent.
	// Zero cardinality on the root.
	Cardinality relation.Cardinality
	Limit       int
}

// Plan is the compiled query: Nodes in strict bottom-up order, Root last.
type Plan struct {
	Nodes []*Node
	Root  *Node
}

type options struct {
	maxDepth int
}

// Option customizes compilation.
type Option func(*options)

// WithMaxDepth overrides the recursion-depth guard.
func WithMaxDepth(depth int) Option {
	return func(o *options) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}

type compilation struct {
	cat      *catalog.Catalog
	maxDepth int
	nodes    []*Node
	counter  int
}

// Compile lowers a spec tree into a Plan. It fails on the first violated
// invariant; there is no partial output.
func Compile(cat *catalog.Catalog, rootSpec *spec.Spec, opts ...Option) (*Plan, error) {
	if cat == nil || rootSpec == nil {
		return nil, fmt.Errorf("catalog and spec are required")
	}

	o := options{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(&o)
	}

	c := &compilation{cat: cat, maxDepth: o.maxDepth}
	root, err := c.compileSpec(rootSpec, 1)
	if err != nil {
		return nil, err
	}
	c.nodes = append(c.nodes, root)

	return &Plan{Nodes: c.nodes, Root: root}, nil
}

func (c *compilation) compileSpec(sp *spec.Spec, depth int) (*Node, error) {
	if depth > c.maxDepth {
		return nil, &MaxDepthError{Entity: sp.Entity, Depth: c.maxDepth}
	}

	table, err := c.cat.LookupTable(sp.Entity)
	if err != nil {
		return nil, err
	}

	pkCols := catalog.PrimaryKeyColumns(table)
	if len(pkCols) == 0 {
		return nil, &MissingPrimaryKeyError{Entity: sp.Entity}
	}
	pk := make([]string, len(pkCols))
	for i, col := range pkCols {
		pk[i] = col.Name
	}

	node := &Node{Entity: sp.Entity, Table: table, PrimaryKey: pk}

	fields := sp.Select
	if fields == nil {
		// Absent select means every column of the table.
		fields = make([]spec.Field, 0, len(table.Columns))
		for _, col := range table.Columns {
			fields = append(fields, spec.Field{Name: col.Name, Alias: col.Name, Kind: spec.PlainField})
		}
	}

	aliases := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if strings.HasPrefix(field.Alias, "$") {
			return nil, fmt.Errorf("entity %q: output field %q collides with synthesized columns", sp.Entity, field.Alias)
		}
		if _, dup := aliases[field.Alias]; dup {
			return nil, fmt.Errorf("entity %q: duplicate output field %q", sp.Entity, field.Alias)
		}
		aliases[field.Alias] = struct{}{}

		switch field.Kind {
		case spec.PlainField, spec.RenamedField:
			if _, ok := catalog.FindColumn(table, field.Column()); !ok {
				return nil, &UnknownFieldError{Entity: sp.Entity, Field: field.Column()}
			}
			node.Fields = append(node.Fields, FieldSel{Alias: field.Alias, Column: field.Column()})
		case spec.RelationField:
			rel, err := c.compileRelation(sp.Entity, field, depth)
			if err != nil {
				return nil, err
			}
			node.Relations = append(node.Relations, rel)
		default:
			return nil, fmt.Errorf("entity %q: field %q has unknown kind", sp.Entity, field.Alias)
		}
	}

	return node, nil
}

func (c *compilation) compileRelation(parentEntity string, field spec.Field, depth int) (RelationSel, error) {
	rel := field.Relation

	card := relation.One
	if rel.HasFirst {
		card = relation.Many
	}

	path, err := relation.Resolve(c.cat, parentEntity, rel.Spec.Entity, card, rel.Via)
	if err != nil {
		return RelationSel{}, fmt.Errorf("field %q of entity %q: %w", field.Alias, parentEntity, err)
	}

	child, err := c.compileSpec(rel.Spec, depth+1)
	if err != nil {
		return RelationSel{}, err
	}

	child.Name = c.cteName(field.Alias)
	child.JoinColumns = path.ChildColumns()
	child.ParentColumns = path.ParentColumns()
	child.Cardinality = card
	child.Limit = rel.First

	// Post-order: the child's own children were appended during recursion,
	// so every node a later node references is already in the chain.
	c.nodes = append(c.nodes, child)

	return RelationSel{Alias: field.Alias, Node: child, Cardinality: card, Limit: rel.First}, nil
}

// cteName derives a unique, deterministic CTE name from the relation alias.
func (c *compilation) cteName(alias string) string {
	c.counter++
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, alias)
	return fmt.Sprintf("%s_%d", sanitized, c.counter)
}
