package executor

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/embedding"
	"github.com/DanielHyeon/pms-ic-sub000/internal/fewshot"
	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
)

const countQuery = `SELECT COUNT(t.id) AS count FROM task.tasks t WHERE t.project_id = :project_id LIMIT 1`

func expectReadTx(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestExecuteRelationalSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectReadTx(mock)
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectRollback()

	e := NewExecutor(db, nil, nil, Options{RowCap: 100})
	res := e.Execute(context.Background(), Request{
		Query:  countQuery,
		Kind:   query.KindRelational,
		Params: map[string]any{"project_id": "P1"},
	})

	require.True(t, res.Success, "error: %s", res.Error)
	require.Equal(t, 1, res.RowCount)
	assert.EqualValues(t, 7, res.Rows[0]["count"])
	assert.GreaterOrEqual(t, res.DurationMS, int64(0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRowCapTruncatesWithWarning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id"})
	for i := 0; i < 5; i++ {
		rows.AddRow(i)
	}

	expectReadTx(mock)
	mock.ExpectQuery("SELECT t.id").WillReturnRows(rows)
	mock.ExpectRollback()

	e := NewExecutor(db, nil, nil, Options{RowCap: 3})
	res := e.Execute(context.Background(), Request{
		Query: `SELECT t.id FROM task.tasks t LIMIT 100`,
		Kind:  query.KindRelational,
	})

	require.True(t, res.Success)
	assert.Equal(t, 3, res.RowCount, "rows beyond the cap are dropped")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "truncated")
}

func TestExecuteTimeoutClassified(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectReadTx(mock)
	mock.ExpectQuery("SELECT").WillReturnError(
		assertError("pq: canceling statement due to statement timeout"))
	mock.ExpectRollback()

	e := NewExecutor(db, nil, nil, Options{})
	res := e.Execute(context.Background(), Request{
		Query: `SELECT t.id FROM task.tasks t LIMIT 1`,
		Kind:  query.KindRelational,
	})

	require.False(t, res.Success)
	assert.Equal(t, query.ExecTimeout, res.ErrorKind)
}

func TestExecuteBackendErrorClassified(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(assertError("connection refused"))

	e := NewExecutor(db, nil, nil, Options{})
	res := e.Execute(context.Background(), Request{
		Query: `SELECT 1 LIMIT 1`,
		Kind:  query.KindRelational,
	})

	require.False(t, res.Success)
	assert.Equal(t, query.ExecBackendError, res.ErrorKind)
}

func TestExecuteNoBackend(t *testing.T) {
	e := NewExecutor(nil, nil, nil, Options{})
	res := e.Execute(context.Background(), Request{Query: "SELECT 1", Kind: query.KindRelational})
	require.False(t, res.Success)
	assert.Equal(t, query.ExecBackendError, res.ErrorKind)

	res = e.Execute(context.Background(), Request{Query: "SELECT 1", Kind: query.KindGraph})
	require.False(t, res.Success)
	assert.Equal(t, query.ExecBackendError, res.ErrorKind)
}

func TestExecuteNotifiesFewShot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectReadTx(mock)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	store := fewshot.NewStore(embedding.NewHashEngine(64))
	before := store.Statistics().Total

	e := NewExecutor(db, nil, store, Options{})
	question := "how many requirements are still open?"
	res := e.Execute(context.Background(), Request{
		Query:    `SELECT COUNT(r.id) AS count FROM requirement.requirements r WHERE r.project_id = :project_id LIMIT 1`,
		Kind:     query.KindRelational,
		Params:   map[string]any{"project_id": "P1"},
		Question: question,
		Tables:   []string{"requirement.requirements"},
	})
	require.True(t, res.Success)

	require.Eventually(t, func() bool {
		return store.Statistics().Total == before+1
	}, 2*time.Second, 10*time.Millisecond, "learn notification must land in the background")

	ex, ok := store.Get(fewshot.ExampleID(question))
	require.True(t, ok)
	assert.False(t, ex.Verified, "fresh learns start unverified")
}

func TestBindNamed(t *testing.T) {
	q, args := BindNamed(
		`SELECT a FROM t WHERE p = :project_id AND s = :status AND p2 = :project_id`,
		map[string]any{"project_id": "P1", "status": "OPEN"})
	assert.Equal(t, `SELECT a FROM t WHERE p = $1 AND s = $2 AND p2 = $1`, q)
	assert.Equal(t, []any{"P1", "OPEN"}, args)

	// placeholders inside string literals are untouched
	q, args = BindNamed(`SELECT ':status' FROM t WHERE p = :project_id`, map[string]any{"project_id": "P1"})
	assert.Equal(t, `SELECT ':status' FROM t WHERE p = $1`, q)
	assert.Equal(t, []any{"P1"}, args)
}

// assertError is a plain error with a fixed message.
type assertError string

func (e assertError) Error() string { return string(e) }
