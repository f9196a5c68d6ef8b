// Package sqlutil provides SQL rendering utilities for the MySQL dialect.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}

// QualifiedColumn renders a qualified column reference such as `t`.`col`.
func QualifiedColumn(qualifier, column string) string {
	return QuoteIdentifier(qualifier) + "." + QuoteIdentifier(column)
}

// QualifiedColumns renders qualified references for each column in order.
func QualifiedColumns(qualifier string, columns []string) []string {
	refs := make([]string, len(columns))
	for i, col := range columns {
		refs[i] = QualifiedColumn(qualifier, col)
	}
	return refs
}
