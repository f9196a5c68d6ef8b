// Package executor runs emitted statements and materializes the result set.
// Relation columns arrive from the database as JSON text; the executor
// decodes them so callers receive nested documents, not raw bytes.
package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/andreypopp/relational/internal/compiler"
	"github.com/andreypopp/relational/internal/logging"
)

// facetCountKey is the synthesized per-key row count the emitter plants in
// facet documents. The executor strips it before rows reach the caller.
const facetCountKey = "$n"

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor abstracts SQL execution so tests can swap in fakes.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

// Run executes the emitted statement for plan and materializes every row.
// Each row maps output field names to values; relation columns are decoded
// from their JSON wire form into nested documents.
func Run(ctx context.Context, exec QueryExecutor, plan *compiler.Plan, query string) ([]map[string]any, error) {
	queryID := uuid.New().String()

	ctx, span := startSpan(ctx, "executor.run",
		attribute.String("query.id", queryID),
		attribute.String("query.entity", plan.Root.Entity),
	)
	defer span.End()

	logger := logging.FromContext(ctx).WithFields(
		"query_id", queryID,
		"entity", plan.Root.Entity,
	)
	logger.Debug("executing query", "sql", query)

	rows, err := exec.QueryContext(ctx, query)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	results, err := materialize(rows, plan.Root, logger)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	logger.Info("query complete", "rows", len(results))
	return results, nil
}

func materialize(rows Rows, root *compiler.Node, logger *logging.Logger) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading result columns: %w", err)
	}

	jsonColumns := make(map[string]bool, len(root.Relations))
	for _, rel := range root.Relations {
		jsonColumns[rel.Alias] = true
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		dests := make([]any, len(columns))
		for i := range values {
			dests[i] = &values[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, name := range columns {
			value, err := convertValue(name, values[i], jsonColumns[name], logger)
			if err != nil {
				return nil, err
			}
			row[name] = value
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return results, nil
}

func convertValue(column string, value any, isJSON bool, logger *logging.Logger) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, isBytes := value.([]byte)
	if !isBytes {
		return value, nil
	}
	if isJSON {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("decoding relation column %q: %w", column, err)
		}
		return scrubFacetCounts(decoded, logger), nil
	}
	return string(raw), nil
}

// scrubFacetCounts removes the synthesized row count from facet documents at
// every nesting level. A count above one means the facet's foreign key
// matched several child rows; the emitted statement already kept only the
// first by primary key, so the condition is reported as a warning rather
// than an error.
func scrubFacetCounts(value any, logger *logging.Logger) any {
	switch v := value.(type) {
	case map[string]any:
		if raw, ok := v[facetCountKey]; ok {
			delete(v, facetCountKey)
			if count, ok := raw.(float64); ok && count > 1 {
				logger.Warn("facet matched multiple child rows; keeping the first by primary key",
					"entity", v["$entity"],
					"id", v["$id"],
					"matched_rows", int(count),
				)
			}
		}
		for key, child := range v {
			v[key] = scrubFacetCounts(child, logger)
		}
	case []any:
		for i, child := range v {
			v[i] = scrubFacetCounts(child, logger)
		}
	}
	return value
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relational/executor")
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
