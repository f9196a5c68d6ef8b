// Package emitter renders a compiled CTE plan into a single executable SQL
// statement in the MySQL dialect. Emission is pure and deterministic: the
// same plan always yields byte-identical text, and nothing here touches a
// database.
package emitter

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/andreypopp/relational/internal/compiler"
	"github.com/andreypopp/relational/internal/relation"
	"github.com/andreypopp/relational/internal/sqlutil"
)

// Synthesized column names. The compiler rejects user aliases starting with
// '$', so these never collide with spec output fields.
const (
	entityColumn   = "$entity"
	idColumn       = "$id"
	docColumn      = "$doc"
	rowNumColumn   = "$rn"
	rowCountColumn = "$n"
	baseAlias      = "base"
)

// Emit renders the plan as one statement: every non-root node as a named
// sub-query in declaration order (children before any referent), followed
// by the final select from the root node.
func Emit(plan *compiler.Plan) (string, error) {
	if plan == nil || plan.Root == nil {
		return "", fmt.Errorf("plan is empty")
	}

	var ctes []string
	for _, node := range plan.Nodes {
		if node == plan.Root {
			continue
		}
		body, err := nodeSQL(node)
		if err != nil {
			return "", fmt.Errorf("render %s: %w", node.Name, err)
		}
		ctes = append(ctes, sqlutil.QuoteIdentifier(node.Name)+" AS (\n  "+body+"\n)")
	}

	root, err := rootSQL(plan.Root)
	if err != nil {
		return "", fmt.Errorf("render root: %w", err)
	}

	if len(ctes) == 0 {
		return root, nil
	}
	return "WITH " + strings.Join(ctes, ",\n") + "\n" + root, nil
}

// nodeSQL renders a non-root node: an inner row-numbered select over the
// source table, wrapped in an aggregation keyed by the join columns.
//
// The inner ROW_NUMBER is partitioned per join key, which is what makes the
// limit apply per parent group; a plain LIMIT would truncate the union of
// all children across all parents.
func nodeSQL(node *compiler.Node) (string, error) {
	table := node.Table.Name

	var innerCols []string
	for i, col := range node.JoinColumns {
		innerCols = append(innerCols, fmt.Sprintf("%s AS %s",
			sqlutil.QualifiedColumn(table, col),
			sqlutil.QuoteIdentifier(keyAlias(i)),
		))
	}
	innerCols = append(innerCols, idExpr(table, node.PrimaryKey)+" AS "+sqlutil.QuoteIdentifier(idColumn))
	for _, field := range node.Fields {
		innerCols = append(innerCols, fmt.Sprintf("%s AS %s",
			sqlutil.QualifiedColumn(table, field.Column),
			sqlutil.QuoteIdentifier(field.Alias),
		))
	}
	for _, rel := range node.Relations {
		innerCols = append(innerCols, relationExpr(rel)+" AS "+sqlutil.QuoteIdentifier(rel.Alias))
	}
	if node.Cardinality == relation.One {
		innerCols = append(innerCols, rowCountExpr(table, node)+" AS "+sqlutil.QuoteIdentifier(rowCountColumn))
	}
	innerCols = append(innerCols, rowNumberExpr(table, node)+" AS "+sqlutil.QuoteIdentifier(rowNumColumn))

	inner := sq.Select(innerCols...).From(sqlutil.QuoteIdentifier(table))
	for _, rel := range node.Relations {
		inner = inner.LeftJoin(joinClause(rel.Node, table))
	}
	inner = inner.OrderBy(innerOrder(table, node)...)

	doc := jsonObjectExpr(node)

	var outerCols []string
	for i := range node.JoinColumns {
		outerCols = append(outerCols, sqlutil.QualifiedColumn(baseAlias, keyAlias(i)))
	}

	var outer sq.SelectBuilder
	switch node.Cardinality {
	case relation.Many:
		// Array order comes from the derived table's ORDER BY. MySQL does not
		// formally guarantee aggregation order from a derived table, and
		// ORDER BY inside JSON_ARRAYAGG is not available in all supported
		// versions.
		outerCols = append(outerCols, fmt.Sprintf("JSON_ARRAYAGG(%s) AS %s", doc, sqlutil.QuoteIdentifier(docColumn)))
		outer = sq.Select(outerCols...).
			FromSelect(inner, baseAlias).
			Where(fmt.Sprintf("%s <= %d", sqlutil.QualifiedColumn(baseAlias, rowNumColumn), node.Limit)).
			GroupBy(sqlutil.QualifiedColumns(baseAlias, keyAliases(len(node.JoinColumns)))...)
	case relation.One:
		// A facet expects at most one child per key; the row-number filter
		// enforces it deterministically when the data disagrees.
		outerCols = append(outerCols, doc+" AS "+sqlutil.QuoteIdentifier(docColumn))
		outer = sq.Select(outerCols...).
			FromSelect(inner, baseAlias).
			Where(sqlutil.QualifiedColumn(baseAlias, rowNumColumn) + " = 1")
	default:
		return "", fmt.Errorf("node %s has no cardinality", node.Name)
	}

	sql, args, err := outer.ToSql()
	if err != nil {
		return "", err
	}
	if len(args) != 0 {
		return "", fmt.Errorf("unexpected bound args in emitted text")
	}
	return sql, nil
}

func rootSQL(node *compiler.Node) (string, error) {
	table := node.Table.Name

	cols := []string{
		sqlutil.QuoteString(node.Entity) + " AS " + sqlutil.QuoteIdentifier(entityColumn),
		idExpr(table, node.PrimaryKey) + " AS " + sqlutil.QuoteIdentifier(idColumn),
	}
	for _, field := range node.Fields {
		cols = append(cols, fmt.Sprintf("%s AS %s",
			sqlutil.QualifiedColumn(table, field.Column),
			sqlutil.QuoteIdentifier(field.Alias),
		))
	}
	for _, rel := range node.Relations {
		cols = append(cols, relationExpr(rel)+" AS "+sqlutil.QuoteIdentifier(rel.Alias))
	}

	builder := sq.Select(cols...).From(sqlutil.QuoteIdentifier(table))
	for _, rel := range node.Relations {
		builder = builder.LeftJoin(joinClause(rel.Node, table))
	}
	builder = builder.OrderBy(pkOrder(table, node.PrimaryKey)...)

	sql, args, err := builder.ToSql()
	if err != nil {
		return "", err
	}
	if len(args) != 0 {
		return "", fmt.Errorf("unexpected bound args in emitted text")
	}
	return sql, nil
}

// idExpr synthesizes $id: the pipe-concatenation of the primary-key columns
// in declaration order.
func idExpr(table string, primaryKey []string) string {
	return "CONCAT_WS('|', " + strings.Join(sqlutil.QualifiedColumns(table, primaryKey), ", ") + ")"
}

// relationExpr references a joined child node's aggregated document. Many
// relations coalesce to an empty array so parents without children carry []
// rather than null.
func relationExpr(rel compiler.RelationSel) string {
	docRef := sqlutil.QualifiedColumn(rel.Node.Name, docColumn)
	if rel.Cardinality == relation.Many {
		return "COALESCE(" + docRef + ", JSON_ARRAY())"
	}
	return docRef
}

// joinClause joins a child CTE onto its parent on every key column pair.
func joinClause(child *compiler.Node, parentTable string) string {
	conds := make([]string, len(child.JoinColumns))
	for i := range child.JoinColumns {
		conds[i] = fmt.Sprintf("%s = %s",
			sqlutil.QualifiedColumn(child.Name, keyAlias(i)),
			sqlutil.QualifiedColumn(parentTable, child.ParentColumns[i]),
		)
	}
	return sqlutil.QuoteIdentifier(child.Name) + " ON " + strings.Join(conds, " AND ")
}

// rowCountExpr counts child rows per join-key group. A facet expects the
// count to be 1; anything higher is a data-integrity condition the executor
// reports.
func rowCountExpr(table string, node *compiler.Node) string {
	partition := strings.Join(sqlutil.QualifiedColumns(table, node.JoinColumns), ", ")
	return fmt.Sprintf("COUNT(*) OVER (PARTITION BY %s)", partition)
}

// rowNumberExpr numbers child rows per join-key group, ordered by the
// child's own primary key ascending.
func rowNumberExpr(table string, node *compiler.Node) string {
	partition := strings.Join(sqlutil.QualifiedColumns(table, node.JoinColumns), ", ")
	order := strings.Join(pkOrder(table, node.PrimaryKey), ", ")
	return fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s)", partition, order)
}

// jsonObjectExpr renders one child row as a JSON document: the synthesized
// $entity/$id pair followed by the selected fields and nested aggregations.
func jsonObjectExpr(node *compiler.Node) string {
	pairs := []string{
		sqlutil.QuoteString(entityColumn) + ", " + sqlutil.QuoteString(node.Entity),
		sqlutil.QuoteString(idColumn) + ", " + sqlutil.QualifiedColumn(baseAlias, idColumn),
	}
	if node.Cardinality == relation.One {
		// The per-key row count rides inside the document so the executor can
		// report duplicate facet rows after any level of nesting, then strip
		// the key before results reach the caller.
		pairs = append(pairs, sqlutil.QuoteString(rowCountColumn)+", "+sqlutil.QualifiedColumn(baseAlias, rowCountColumn))
	}
	for _, field := range node.Fields {
		pairs = append(pairs, sqlutil.QuoteString(field.Alias)+", "+sqlutil.QualifiedColumn(baseAlias, field.Alias))
	}
	for _, rel := range node.Relations {
		pairs = append(pairs, sqlutil.QuoteString(rel.Alias)+", "+sqlutil.QualifiedColumn(baseAlias, rel.Alias))
	}
	return "JSON_OBJECT(" + strings.Join(pairs, ", ") + ")"
}

// innerOrder keeps derived-table rows grouped per key and ordered by primary
// key, which is what JSON_ARRAYAGG consumes.
func innerOrder(table string, node *compiler.Node) []string {
	order := make([]string, 0, len(node.JoinColumns)+len(node.PrimaryKey))
	for _, col := range node.JoinColumns {
		order = append(order, sqlutil.QualifiedColumn(table, col)+" ASC")
	}
	return append(order, pkOrder(table, node.PrimaryKey)...)
}

func pkOrder(table string, primaryKey []string) []string {
	order := make([]string, len(primaryKey))
	for i, col := range primaryKey {
		order[i] = sqlutil.QualifiedColumn(table, col) + " ASC"
	}
	return order
}

func keyAlias(i int) string {
	return fmt.Sprintf("$k%d", i)
}

func keyAliases(n int) []string {
	aliases := make([]string, n)
	for i := range aliases {
		aliases[i] = keyAlias(i)
	}
	return aliases
}
