// Package reflect discovers entity metadata from a MySQL-family database's
// INFORMATION_SCHEMA: tables, columns, primary keys and foreign keys. The
// result feeds catalog.Build; nothing here is cached, callers decide when a
// catalog is stale.
package reflect

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/andreypopp/relational/internal/catalog"
)

// Queryer provides query access for schema reflection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Reflect reads the named database's schema and builds a catalog from it.
func Reflect(ctx context.Context, db Queryer, databaseName string) (*catalog.Catalog, error) {
	meta, err := Metadata(ctx, db, databaseName)
	if err != nil {
		return nil, err
	}
	return catalog.Build(meta)
}

// Metadata reads raw schema metadata without validating it. Exposed so
// callers can inspect or amend the metadata before building a catalog.
func Metadata(ctx context.Context, db Queryer, databaseName string) (catalog.Metadata, error) {
	ctx, span := startSpan(ctx, "reflect.metadata",
		attribute.String("db.name", databaseName),
	)
	defer span.End()

	var meta catalog.Metadata

	tables, err := getTables(ctx, db, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return catalog.Metadata{}, fmt.Errorf("failed to get tables: %w", err)
	}

	for _, tableName := range tables {
		meta.Tables = append(meta.Tables, catalog.TableMeta{Name: tableName, Schema: databaseName})

		columns, err := getColumns(ctx, db, databaseName, tableName)
		if err != nil {
			recordSpanError(span, err)
			return catalog.Metadata{}, fmt.Errorf("failed to get columns for %s: %w", tableName, err)
		}

		primaryKeys, err := getPrimaryKeys(ctx, db, databaseName, tableName)
		if err != nil {
			recordSpanError(span, err)
			return catalog.Metadata{}, fmt.Errorf("failed to get primary keys for %s: %w", tableName, err)
		}
		pkSet := make(map[string]struct{}, len(primaryKeys))
		for _, pk := range primaryKeys {
			pkSet[pk] = struct{}{}
		}

		for _, column := range columns {
			_, isPK := pkSet[column]
			meta.Columns = append(meta.Columns, catalog.ColumnMeta{
				Table:        tableName,
				Name:         column,
				IsPrimaryKey: isPK,
			})
		}

		foreignKeys, err := getForeignKeys(ctx, db, databaseName, tableName)
		if err != nil {
			recordSpanError(span, err)
			return catalog.Metadata{}, fmt.Errorf("failed to get foreign keys for %s: %w", tableName, err)
		}
		if len(foreignKeys) > 0 {
			uniqueIndexes, err := getUniqueIndexes(ctx, db, databaseName, tableName)
			if err != nil {
				recordSpanError(span, err)
				return catalog.Metadata{}, fmt.Errorf("failed to get indexes for %s: %w", tableName, err)
			}
			for i := range foreignKeys {
				foreignKeys[i].IsUnique = coveredByUniqueIndex(foreignKeys[i].Columns, uniqueIndexes)
			}
			meta.ForeignKeys = append(meta.ForeignKeys, foreignKeys...)
		}
	}

	return meta, nil
}

func getTables(ctx context.Context, db Queryer, databaseName string) ([]string, error) {
	ctx, span := startSpan(ctx, "reflect.get_tables",
		attribute.String("db.name", databaseName),
	)
	defer span.End()

	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`

	rows, err := db.QueryContext(ctx, query, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		tables = append(tables, tableName)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return tables, nil
}

func getColumns(ctx context.Context, db Queryer, databaseName, tableName string) ([]string, error) {
	ctx, span := startSpan(ctx, "reflect.get_columns",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []string
	for rows.Next() {
		var columnName string
		if err := rows.Scan(&columnName); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		columns = append(columns, columnName)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return columns, nil
}

func getPrimaryKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]string, error) {
	ctx, span := startSpan(ctx, "reflect.get_primary_keys",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`

	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var primaryKeys []string
	for rows.Next() {
		var columnName string
		if err := rows.Scan(&columnName); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		primaryKeys = append(primaryKeys, columnName)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return primaryKeys, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relational/reflect")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
