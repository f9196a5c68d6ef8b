package executor

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/andreypopp/relational/internal/compiler"
	"github.com/andreypopp/relational/internal/logging"
	"github.com/andreypopp/relational/internal/relation"
)

// capturedLogger returns a context carrying a logger that writes to buf.
func capturedLogger(buf *bytes.Buffer) context.Context {
	logger := &logging.Logger{Logger: slog.New(slog.NewTextHandler(buf, nil))}
	return logging.WithLogger(context.Background(), logger)
}

func studyPlan() *compiler.Plan {
	child := &compiler.Node{
		Name:        "experiments_1",
		Entity:      "experiment",
		Cardinality: relation.Many,
		Limit:       10,
	}
	root := &compiler.Node{
		Entity:     "study",
		PrimaryKey: []string{"id"},
		Fields:     []compiler.FieldSel{{Alias: "name", Column: "name"}},
		Relations: []compiler.RelationSel{
			{Alias: "experiments", Node: child, Cardinality: relation.Many, Limit: 10},
		},
	}
	return &compiler.Plan{Nodes: []*compiler.Node{child, root}, Root: root}
}

func TestRun_DecodesRelationColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT 'study'").WillReturnRows(
		sqlmock.NewRows([]string{"$entity", "$id", "name", "experiments"}).
			AddRow("study", "1", "Sleep study", []byte(`[{"$entity": "experiment", "$id": "7", "name": "Control"}]`)).
			AddRow("study", "2", "Diet study", []byte(`[]`)))

	results, err := Run(context.Background(), NewStandardExecutor(db), studyPlan(), "SELECT 'study' ...")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, results, 2)

	require.Equal(t, "study", results[0]["$entity"])
	require.Equal(t, "1", results[0]["$id"])
	require.Equal(t, "Sleep study", results[0]["name"])
	require.Equal(t, []any{
		map[string]any{"$entity": "experiment", "$id": "7", "name": "Control"},
	}, results[0]["experiments"])

	// Childless parents carry an empty array, not null.
	require.Equal(t, []any{}, results[1]["experiments"])
}

func TestRun_NullFacetStaysNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	child := &compiler.Node{Name: "summary_1", Entity: "study_summary", Cardinality: relation.One}
	root := &compiler.Node{
		Entity:     "study",
		PrimaryKey: []string{"id"},
		Relations: []compiler.RelationSel{
			{Alias: "summary", Node: child, Cardinality: relation.One},
		},
	}
	plan := &compiler.Plan{Nodes: []*compiler.Node{child, root}, Root: root}

	mock.ExpectQuery("SELECT 'study'").WillReturnRows(
		sqlmock.NewRows([]string{"$entity", "$id", "summary"}).
			AddRow("study", "1", nil))

	results, err := Run(context.Background(), NewStandardExecutor(db), plan, "SELECT 'study' ...")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Nil(t, results[0]["summary"])
}

func TestRun_DuplicateFacetRowsWarn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	child := &compiler.Node{Name: "summary_1", Entity: "study_summary", Cardinality: relation.One}
	root := &compiler.Node{
		Entity:     "study",
		PrimaryKey: []string{"id"},
		Relations: []compiler.RelationSel{
			{Alias: "summary", Node: child, Cardinality: relation.One},
		},
	}
	plan := &compiler.Plan{Nodes: []*compiler.Node{child, root}, Root: root}

	// Two study_summary rows share study_id 1; the statement keeps the first
	// and reports the count in the document.
	mock.ExpectQuery("SELECT 'study'").WillReturnRows(
		sqlmock.NewRows([]string{"$entity", "$id", "summary"}).
			AddRow("study", "1", []byte(`{"$entity": "study_summary", "$id": "1", "$n": 2, "abstract": "First"}`)).
			AddRow("study", "2", []byte(`{"$entity": "study_summary", "$id": "2", "$n": 1, "abstract": "Only"}`)))

	var buf bytes.Buffer
	results, err := Run(capturedLogger(&buf), NewStandardExecutor(db), plan, "SELECT 'study' ...")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The bookkeeping count never reaches the caller.
	require.Equal(t, map[string]any{"$entity": "study_summary", "$id": "1", "abstract": "First"}, results[0]["summary"])
	require.Equal(t, map[string]any{"$entity": "study_summary", "$id": "2", "abstract": "Only"}, results[1]["summary"])

	logged := buf.String()
	require.Contains(t, logged, "facet matched multiple child rows")
	require.Contains(t, logged, "matched_rows=2")
	require.Equal(t, 1, strings.Count(logged, "matched_rows"), "only the duplicated key warns")
}

func TestRun_NestedFacetRowsWarn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT 'study'").WillReturnRows(
		sqlmock.NewRows([]string{"$entity", "$id", "name", "experiments"}).
			AddRow("study", "1", "Sleep study", []byte(`[{"$entity": "experiment", "$id": "7", "name": "Control", "report": {"$entity": "report", "$id": "7", "$n": 3, "status": "final"}}]`)))

	var buf bytes.Buffer
	results, err := Run(capturedLogger(&buf), NewStandardExecutor(db), studyPlan(), "SELECT 'study' ...")
	require.NoError(t, err)
	require.Len(t, results, 1)

	experiments := results[0]["experiments"].([]any)
	report := experiments[0].(map[string]any)["report"].(map[string]any)
	require.NotContains(t, report, "$n")
	require.Equal(t, "final", report["status"])
	require.Contains(t, buf.String(), "matched_rows=3")
}

func TestRun_QueryErrorPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT 'study'").WillReturnError(sql.ErrConnDone)

	_, err = Run(context.Background(), NewStandardExecutor(db), studyPlan(), "SELECT 'study' ...")
	require.ErrorIs(t, err, sql.ErrConnDone)
}

func TestRun_MalformedRelationJSON(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT 'study'").WillReturnRows(
		sqlmock.NewRows([]string{"$entity", "$id", "name", "experiments"}).
			AddRow("study", "1", "Sleep study", []byte(`{truncated`)))

	_, err = Run(context.Background(), NewStandardExecutor(db), studyPlan(), "SELECT 'study' ...")
	require.Error(t, err)
	require.Contains(t, err.Error(), "experiments")
}

func TestStandardExecutor_NilDatabase(t *testing.T) {
	exec := NewStandardExecutor(nil)
	_, err := exec.QueryContext(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, sql.ErrConnDone)
}
