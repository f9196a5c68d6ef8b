package reflect

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/andreypopp/relational/internal/catalog"
)

// getForeignKeys groups per-column KEY_COLUMN_USAGE rows into ordered FK
// constraints. The query orders by constraint then ordinal position, so rows
// belonging to a composite constraint arrive contiguously and in key order.
func getForeignKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]catalog.ForeignKey, error) {
	ctx, span := startSpan(ctx, "reflect.get_foreign_keys",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT
			CONSTRAINT_NAME,
			COLUMN_NAME,
			REFERENCED_TABLE_NAME,
			REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
			AND TABLE_NAME = ?
			AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION
	`

	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var foreignKeys []catalog.ForeignKey
	for rows.Next() {
		var constraintName, columnName, referencedTable, referencedColumn string
		if err := rows.Scan(&constraintName, &columnName, &referencedTable, &referencedColumn); err != nil {
			recordSpanError(span, err)
			return nil, err
		}

		n := len(foreignKeys)
		if n == 0 || foreignKeys[n-1].ConstraintName != constraintName {
			foreignKeys = append(foreignKeys, catalog.ForeignKey{
				ConstraintName:  constraintName,
				Table:           tableName,
				ReferencedTable: referencedTable,
			})
			n++
		}
		foreignKeys[n-1].Columns = append(foreignKeys[n-1].Columns, columnName)
		foreignKeys[n-1].ReferencedColumns = append(foreignKeys[n-1].ReferencedColumns, referencedColumn)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return foreignKeys, nil
}

// getUniqueIndexes returns the column sets of the table's unique indexes,
// the primary key included (STATISTICS reports it as a unique index named
// PRIMARY).
func getUniqueIndexes(ctx context.Context, db Queryer, databaseName, tableName string) ([][]string, error) {
	ctx, span := startSpan(ctx, "reflect.get_unique_indexes",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT INDEX_NAME, COLUMN_NAME
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ?
			AND TABLE_NAME = ?
			AND NON_UNIQUE = 0
		ORDER BY INDEX_NAME, SEQ_IN_INDEX
	`

	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var indexes [][]string
	var lastName string
	for rows.Next() {
		var indexName, columnName string
		if err := rows.Scan(&indexName, &columnName); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		if len(indexes) == 0 || indexName != lastName {
			indexes = append(indexes, nil)
			lastName = indexName
		}
		indexes[len(indexes)-1] = append(indexes[len(indexes)-1], columnName)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return indexes, nil
}

// coveredByUniqueIndex reports whether some unique index constrains the FK
// columns: every index column must be one of the FK's columns, so a child
// table can hold at most one row per referenced parent key. Such a
// constraint makes the relation one-to-one.
func coveredByUniqueIndex(fkColumns []string, uniqueIndexes [][]string) bool {
	fkSet := make(map[string]struct{}, len(fkColumns))
	for _, col := range fkColumns {
		fkSet[col] = struct{}{}
	}
	for _, index := range uniqueIndexes {
		if len(index) == 0 {
			continue
		}
		covered := true
		for _, col := range index {
			if _, ok := fkSet[col]; !ok {
				covered = false
				break
			}
		}
		if covered {
			return true
		}
	}
	return false
}
