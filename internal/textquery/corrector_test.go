package textquery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
)

// scriptedValidator replays validation results in order, repeating the last.
type scriptedValidator struct {
	results []*query.ValidationResult
	calls   int
}

func (v *scriptedValidator) Validate(ctx context.Context, q string, kind query.Kind, projectID string, requireProjectScope bool) *query.ValidationResult {
	i := v.calls
	v.calls++
	if i >= len(v.results) {
		i = len(v.results) - 1
	}
	return v.results[i]
}

func passResult() *query.ValidationResult {
	return &query.ValidationResult{
		IsValid:         true,
		HasProjectScope: true,
		Layers:          query.LayerFlags{Syntax: true, Schema: true, Security: true, Resource: true},
	}
}

func scopeFailure() *query.ValidationResult {
	return &query.ValidationResult{
		Errors: []query.ValidationError{{
			Kind:    query.ErrorScope,
			Message: `table "task.tasks" requires a project_id = :project_id predicate in its own scope`,
		}},
	}
}

func TestCategorize(t *testing.T) {
	cases := map[string]string{
		`table "task.tasks" requires a project_id = :project_id predicate in its own scope`: CategoryMissingProjectFilter,
		`unknown table "task.taks"`:                          CategoryTableNotFound,
		`unknown column "satus" on table "task.tasks"`:       CategoryColumnNotFound,
		`column "password_hash" is not accessible`:           CategoryPermissionDenied,
		`column reference "id" is ambiguous`:                 CategoryAmbiguousColumn,
		`query failed to parse: unexpected token near SELEC`: CategorySyntax,
		`result set must be bounded with LIMIT 100 or lower`: CategoryMissingLimit,
		`wildcard column selection is not allowed`:           CategoryWildcardSelect,
		`canceling statement due to statement timeout`:       CategoryTimeout,
		`something nobody has seen before`:                   CategoryUnknown,
	}
	for msg, want := range cases {
		assert.Equal(t, want, Categorize(msg), "message %q", msg)
	}
}

func TestCorrectRecoversMissingScope(t *testing.T) {
	fixedQuery := `SELECT COUNT(t.id) AS count FROM task.tasks t WHERE t.project_id = :project_id AND t.status = 'IN_PROGRESS' LIMIT 1`
	stub := llm.NewStubClient(
		`{"corrected_query": "` + fixedQuery + `", "error_analysis": "missing scope", "fix_applied": "added project_id predicate", "confidence": 0.9}`)
	v := &scriptedValidator{results: []*query.ValidationResult{passResult()}}
	c := NewCorrector(stub, v)

	res := c.Correct(context.Background(),
		"How many tasks are in progress?",
		`SELECT COUNT(t.id) AS count FROM task.tasks t WHERE t.status = 'IN_PROGRESS' LIMIT 1`,
		scopeFailure().FirstError(), "P1", "", query.KindRelational, 3)

	require.True(t, res.Corrected)
	assert.Equal(t, 1, res.Attempts, "one loop iteration, one recorded attempt")
	assert.Equal(t, fixedQuery, res.Query)
	assert.Equal(t, CategoryMissingProjectFilter, res.Category)
	assert.Equal(t, "added project_id predicate", res.FixApplied)
}

func TestCorrectHistoryCarriedForward(t *testing.T) {
	stub := llm.NewStubClient(
		`{"corrected_query": "SELECT t.id FROM task.tasks t LIMIT 1", "error_analysis": "", "fix_applied": "", "confidence": 0.4}`,
		`{"corrected_query": "SELECT t.id FROM task.tasks t WHERE t.project_id = :project_id LIMIT 1", "error_analysis": "", "fix_applied": "", "confidence": 0.8}`)
	v := &scriptedValidator{results: []*query.ValidationResult{scopeFailure(), passResult()}}
	c := NewCorrector(stub, v)

	res := c.Correct(context.Background(), "list tasks",
		`SELECT t.id FROM task.tasks t`, scopeFailure().FirstError(),
		"P1", "", query.KindRelational, 3)

	require.True(t, res.Corrected)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, stub.Prompts, 2)
	assert.Contains(t, stub.Prompts[1], "do not repeat",
		"second prompt must carry the failed-attempt history")
	assert.Contains(t, stub.Prompts[1], "SELECT t.id FROM task.tasks t LIMIT 1")
}

func TestCorrectExhaustsAttempts(t *testing.T) {
	stub := llm.NewStubClient(
		`{"corrected_query": "SELECT t.id FROM task.tasks t LIMIT 1", "error_analysis": "", "fix_applied": "", "confidence": 0.3}`)
	v := &scriptedValidator{results: []*query.ValidationResult{scopeFailure()}}
	c := NewCorrector(stub, v)

	res := c.Correct(context.Background(), "list tasks",
		`SELECT t.id FROM task.tasks t`, scopeFailure().FirstError(),
		"P1", "", query.KindRelational, 2)

	assert.False(t, res.Corrected)
	assert.Equal(t, 2, res.Attempts, "attempts equals loop iterations at exhaustion")
}

func TestCorrectWithoutValidatorReturnsFirstFix(t *testing.T) {
	stub := llm.NewStubClient(
		`{"corrected_query": "SELECT 1 LIMIT 1", "error_analysis": "", "fix_applied": "", "confidence": 0.6}`)
	c := NewCorrector(stub, nil)

	res := c.Correct(context.Background(), "q", "SELECT 1", "syntax error", "P1", "", query.KindRelational, 3)
	assert.True(t, res.Corrected)
	assert.Equal(t, 1, res.Attempts)
}

func TestCorrectSkipsEmptyCorrections(t *testing.T) {
	stub := llm.NewStubClient(
		`{"corrected_query": "", "error_analysis": "", "fix_applied": "", "confidence": 0.1}`,
		`{"corrected_query": "SELECT 1 LIMIT 1", "error_analysis": "", "fix_applied": "", "confidence": 0.7}`)
	c := NewCorrector(stub, &scriptedValidator{results: []*query.ValidationResult{passResult()}})

	res := c.Correct(context.Background(), "q", "SELECT 1", "syntax error", "P1", "", query.KindRelational, 3)
	require.True(t, res.Corrected)
	assert.Equal(t, 2, res.Attempts)
}
