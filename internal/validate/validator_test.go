package validate

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/embedding"
	"github.com/DanielHyeon/pms-ic-sub000/internal/fewshot"
	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
	"github.com/DanielHyeon/pms-ic-sub000/internal/schema"
)

func fixtureCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectQuery("information_schema.columns").WillReturnRows(
		sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("task", "tasks", "id", "uuid", "NO").
			AddRow("task", "tasks", "project_id", "uuid", "NO").
			AddRow("task", "tasks", "status", "text", "NO").
			AddRow("task", "tasks", "title", "text", "NO").
			AddRow("sprint", "sprints", "id", "uuid", "NO").
			AddRow("sprint", "sprints", "project_id", "uuid", "NO").
			AddRow("sprint", "sprints", "name", "text", "NO").
			AddRow("project", "projects", "id", "uuid", "NO").
			AddRow("project", "projects", "name", "text", "NO"))
	mock.ExpectQuery("PRIMARY KEY").WillReturnRows(
		sqlmock.NewRows([]string{"table_schema", "table_name", "column_name"}))
	mock.ExpectQuery("FOREIGN KEY").WillReturnRows(
		sqlmock.NewRows([]string{"s", "t", "c", "rs", "rt", "rc"}))

	opts := schema.DefaultOptions()
	opts.ProjectScoped = map[string]bool{"task.tasks": true, "sprint.sprints": true}
	cat := schema.NewCatalog(db, nil, opts)

	// prime the cache so later validations never touch the mock again
	_, err = cat.RelationalSchema(context.Background())
	require.NoError(t, err)
	return cat
}

func newValidator(t *testing.T) *Validator {
	return NewValidator(fixtureCatalog(t), nil, nil, Options{RowCap: 100, MaxJoins: 2})
}

const goodQuery = `SELECT COUNT(t.id) AS count FROM task.tasks t WHERE t.project_id = :project_id AND t.status = 'IN_PROGRESS' LIMIT 1`

func TestValidateAccepts(t *testing.T) {
	v := newValidator(t)
	res := v.Validate(context.Background(), goodQuery, query.KindRelational, "P1", true)
	assert.True(t, res.IsValid, "errors: %+v", res.Errors)
	assert.True(t, res.HasProjectScope)
	assert.True(t, res.Layers.Schema)
	assert.True(t, res.Layers.Security)
	assert.True(t, res.Layers.Resource)
}

func TestAllLayersRunEvenAfterFailure(t *testing.T) {
	v := newValidator(t)
	// wrong table, mutation verb, no limit, no scope: every layer must report
	res := v.Validate(context.Background(),
		`DELETE FROM task.taks`, query.KindRelational, "P1", true)

	require.False(t, res.IsValid)
	assert.False(t, res.Layers.Schema)
	assert.False(t, res.Layers.Security)
	assert.False(t, res.Layers.Resource)

	kinds := map[query.ErrorKind]bool{}
	for _, e := range res.Errors {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[query.ErrorSchema])
	assert.True(t, kinds[query.ErrorSecurity])
	assert.True(t, kinds[query.ErrorPerformance])
}

func TestSchemaSuggestions(t *testing.T) {
	v := newValidator(t)
	res := v.Validate(context.Background(),
		`SELECT t.satus FROM task.tasks t WHERE t.project_id = :project_id LIMIT 10`,
		query.KindRelational, "P1", true)

	require.False(t, res.IsValid)
	var found bool
	for _, e := range res.Errors {
		if e.Kind == query.ErrorSchema {
			found = true
			assert.Equal(t, "status", e.Suggestion)
		}
	}
	assert.True(t, found)
}

func TestMissingProjectScope(t *testing.T) {
	v := newValidator(t)
	res := v.Validate(context.Background(),
		`SELECT t.id FROM task.tasks t WHERE t.status = 'DONE' LIMIT 10`,
		query.KindRelational, "P1", true)

	require.False(t, res.IsValid)
	assert.False(t, res.HasProjectScope)
	assert.Contains(t, res.FirstError(), "project_id")
}

func TestInnerScopeNeedsOwnPredicate(t *testing.T) {
	v := newValidator(t)
	// outer filter does not cover the unfiltered subquery
	res := v.Validate(context.Background(),
		`SELECT s.name FROM sprint.sprints s
WHERE s.project_id = :project_id
AND s.id IN (SELECT t.id FROM task.tasks t) LIMIT 10`,
		query.KindRelational, "P1", true)

	require.False(t, res.IsValid)
	var hit bool
	for _, e := range res.Errors {
		if e.Kind == query.ErrorScope && e.Location == "task.tasks" {
			hit = true
		}
	}
	assert.True(t, hit, "inner unfiltered scope must be reported: %+v", res.Errors)
}

func TestAliasResolvedPredicate(t *testing.T) {
	v := newValidator(t)
	res := v.Validate(context.Background(),
		`SELECT x.title FROM task.tasks x WHERE x.project_id = :project_id LIMIT 10`,
		query.KindRelational, "P1", true)
	assert.True(t, res.IsValid, "errors: %+v", res.Errors)
}

func TestWrongAliasPredicateRejected(t *testing.T) {
	v := newValidator(t)
	res := v.Validate(context.Background(),
		`SELECT t.title FROM task.tasks t JOIN sprint.sprints s ON s.id = t.id
WHERE s.project_id = :project_id AND s.name = 'S1' LIMIT 10`,
		query.KindRelational, "P1", true)

	require.False(t, res.IsValid, "predicate on s does not scope task.tasks")
}

func TestBypassPatterns(t *testing.T) {
	v := newValidator(t)
	for _, q := range []string{
		`SELECT t.id FROM task.tasks t WHERE t.project_id = :project_id OR 1=1 LIMIT 10`,
		`SELECT t.id FROM task.tasks t WHERE t.project_id = :project_id OR TRUE LIMIT 10`,
		`SELECT t.id FROM task.tasks t WHERE t.project_id = :project_id OR 'a'='a' LIMIT 10`,
	} {
		res := v.Validate(context.Background(), q, query.KindRelational, "P1", true)
		assert.False(t, res.Layers.Security, "query %q must fail the security layer", q)
	}
}

func TestStackedStatementsRejected(t *testing.T) {
	v := newValidator(t)
	res := v.Validate(context.Background(),
		`SELECT t.id FROM task.tasks t WHERE t.project_id = :project_id LIMIT 1; DROP TABLE task.tasks -- x`,
		query.KindRelational, "P1", true)
	assert.False(t, res.Layers.Security)
}

func TestUnionArmEscapeRejected(t *testing.T) {
	v := newValidator(t)
	res := v.Validate(context.Background(),
		`SELECT t.id FROM task.tasks t WHERE t.project_id = :project_id
UNION ALL
SELECT s.id FROM sprint.sprints s LIMIT 10`,
		query.KindRelational, "P1", true)

	require.False(t, res.IsValid)
	var hit bool
	for _, e := range res.Errors {
		if e.Kind == query.ErrorScope && e.Location == "sprint.sprints" {
			hit = true
		}
	}
	assert.True(t, hit, "unfiltered union arm must be reported: %+v", res.Errors)
}

func TestForbiddenTableAndColumn(t *testing.T) {
	v := newValidator(t)

	res := v.Validate(context.Background(),
		`SELECT c.login FROM auth.credentials c LIMIT 10`, query.KindRelational, "P1", false)
	assert.False(t, res.Layers.Security)

	res = v.Validate(context.Background(),
		`SELECT u.password_hash FROM auth.users u LIMIT 10`, query.KindRelational, "P1", false)
	assert.False(t, res.Layers.Security)
}

func TestResourceLayer(t *testing.T) {
	v := newValidator(t)

	res := v.Validate(context.Background(),
		`SELECT * FROM task.tasks t WHERE t.project_id = :project_id LIMIT 10`,
		query.KindRelational, "P1", true)
	assert.False(t, res.Layers.Resource, "wildcard must fail")

	res = v.Validate(context.Background(),
		`SELECT t.id FROM task.tasks t WHERE t.project_id = :project_id`,
		query.KindRelational, "P1", true)
	assert.False(t, res.Layers.Resource, "missing limit must fail")

	res = v.Validate(context.Background(),
		`SELECT t.id FROM task.tasks t
JOIN sprint.sprints a ON a.id = t.id
JOIN sprint.sprints b ON b.id = t.id
JOIN sprint.sprints c ON c.id = t.id
WHERE t.project_id = :project_id AND a.project_id = :project_id
AND b.project_id = :project_id AND c.project_id = :project_id LIMIT 10`,
		query.KindRelational, "P1", true)
	assert.False(t, res.Layers.Resource, "join depth beyond the limit must fail")
}

func TestSyntaxLayerPrepares(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	v := NewValidator(nil, db, nil, Options{})

	mock.ExpectPrepare(`SELECT t.id FROM task.tasks t`)
	res := v.Validate(context.Background(),
		`SELECT t.id FROM task.tasks t WHERE t.project_id = :project_id LIMIT 10`,
		query.KindRelational, "P1", false)
	assert.True(t, res.Layers.Syntax)

	mock.ExpectPrepare(`SELEC bogus`).WillReturnError(assert.AnError)
	res = v.Validate(context.Background(), `SELEC bogus`, query.KindRelational, "P1", false)
	assert.False(t, res.Layers.Syntax)
}

func TestConvertNamedParams(t *testing.T) {
	got := ConvertNamedParams(`SELECT a FROM t WHERE p = :project_id AND q = :status AND r = :project_id`)
	assert.Equal(t, `SELECT a FROM t WHERE p = $1 AND q = $2 AND r = $1`, got)

	// placeholders inside strings are untouched
	got = ConvertNamedParams(`SELECT ':project_id' FROM t WHERE p = :project_id`)
	assert.Equal(t, `SELECT ':project_id' FROM t WHERE p = $1`, got)
}

func TestEnsureResultLimit(t *testing.T) {
	assert.Equal(t, `SELECT t.id FROM task.tasks t LIMIT 100`,
		EnsureResultLimit(`SELECT t.id FROM task.tasks t;`, 100))
	assert.Equal(t, `SELECT t.id FROM task.tasks t LIMIT 100`,
		EnsureResultLimit(`SELECT t.id FROM task.tasks t LIMIT 5000`, 100))
	assert.Equal(t, `SELECT t.id FROM task.tasks t LIMIT 10`,
		EnsureResultLimit(`SELECT t.id FROM task.tasks t LIMIT 10`, 100))
}

func newGraphValidator(t *testing.T) *Validator {
	t.Helper()
	gs, err := graph.NewSQLiteStore(":memory:", 8)
	require.NoError(t, err)
	t.Cleanup(func() { gs.Close() })
	return NewValidator(nil, nil, gs, Options{RowCap: 100, MaxJoins: 2})
}

func TestGraphQueriesValidateAgainstPhysicalTables(t *testing.T) {
	v := newGraphValidator(t)

	// the table names the store actually executes against
	res := v.Validate(context.Background(),
		`SELECT doc_id, title FROM documents WHERE project_id = :project_id LIMIT 20`,
		query.KindGraph, "P1", true)
	assert.True(t, res.IsValid, "errors: %+v", res.Errors)
	assert.True(t, res.HasProjectScope)

	// label names are not queryable
	res = v.Validate(context.Background(),
		`SELECT doc_id FROM document WHERE project_id = :project_id LIMIT 20`,
		query.KindGraph, "P1", true)
	require.False(t, res.IsValid)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, query.ErrorSchema, res.Errors[0].Kind)
	assert.Equal(t, "documents", res.Errors[0].Suggestion)
}

func TestGraphValidatedQueryExecutes(t *testing.T) {
	gs, err := graph.NewSQLiteStore(":memory:", 8)
	require.NoError(t, err)
	t.Cleanup(func() { gs.Close() })
	v := NewValidator(nil, nil, gs, Options{RowCap: 100, MaxJoins: 2})

	q := `SELECT doc_id, title FROM documents WHERE project_id = :project_id LIMIT 20`
	res := v.Validate(context.Background(), q, query.KindGraph, "P1", true)
	require.True(t, res.IsValid, "errors: %+v", res.Errors)

	_, err = gs.ExecuteRead(context.Background(), q,
		map[string]any{"project_id": "P1"}, 0, 100)
	require.NoError(t, err)
}

func TestShippedGraphSeedsValidate(t *testing.T) {
	v := newGraphValidator(t)
	fs := fewshot.NewStore(embedding.NewHashEngine(64))

	questions := []string{
		"Find design documents for this project",
		"Show the chunks of the architecture decision record",
	}
	for _, q := range questions {
		got := fs.FindSimilar(context.Background(), q, query.KindGraph, 1, true, 0)
		require.NotEmpty(t, got, "no seed found for %q", q)
		res := v.Validate(context.Background(), got[0].Query, query.KindGraph, "P1", true)
		assert.True(t, res.IsValid, "seed %q rejected: %+v", q, res.Errors)
	}
}

func TestGraphChunkJoinNeedsOwnPredicate(t *testing.T) {
	v := newGraphValidator(t)

	scoped := `SELECT c.chunk_id, c.content FROM chunks c ` +
		`JOIN documents d ON c.doc_id = d.doc_id ` +
		`WHERE c.project_id = :project_id AND d.project_id = :project_id ` +
		`ORDER BY c.chunk_index LIMIT 100`
	res := v.Validate(context.Background(), scoped, query.KindGraph, "P1", true)
	assert.True(t, res.IsValid, "errors: %+v", res.Errors)

	unscoped := `SELECT c.chunk_id FROM chunks c ` +
		`JOIN documents d ON c.doc_id = d.doc_id ` +
		`WHERE d.project_id = :project_id LIMIT 100`
	res = v.Validate(context.Background(), unscoped, query.KindGraph, "P1", true)
	require.False(t, res.IsValid)
	kinds := map[query.ErrorKind]bool{}
	for _, e := range res.Errors {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[query.ErrorScope])
}
