package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeTraceabilityFindings(t *testing.T) {
	freeze := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	reqs := []Requirement{
		{ID: "REQ-1", Title: "User login"},
		{ID: "REQ-2", Title: "Audit trail"},
	}
	items := []TraceItem{
		{ID: "T1", Title: "Implement user login", RequirementID: "REQ-1",
			CreatedAt: freeze.AddDate(0, 0, -10)},
		{ID: "T2", Title: "Dark mode toggle",
			CreatedAt: freeze.AddDate(0, 0, -5)},
		{ID: "T3", Title: "Animated dashboard widget",
			CreatedAt: freeze.AddDate(0, 0, 3)},
	}

	report := AnalyzeTraceability(reqs, items, freeze)

	assert.Equal(t, []string{"REQ-2"}, report.Gaps, "audit trail has no backlog coverage")
	assert.Equal(t, []string{"T2", "T3"}, report.Orphans)
	assert.Equal(t, []string{"T3"}, report.ScopeCreep,
		"only unlinked items created after the freeze count as creep")
	assert.Empty(t, report.Duplicates)
	assert.NotEmpty(t, report.Recommendations)
}

func TestAnalyzeTraceabilityDuplicates(t *testing.T) {
	items := []TraceItem{
		{ID: "T1", Title: "Implement password reset flow", RequirementID: "R1"},
		{ID: "T2", Title: "Implement password reset flow v2", RequirementID: "R1"},
		{ID: "T3", Title: "Export metrics dashboard", RequirementID: "R2"},
	}

	report := AnalyzeTraceability(nil, items, time.Time{})

	require.Len(t, report.Duplicates, 1)
	assert.Equal(t, []string{"T1", "T2"}, report.Duplicates[0])
}

func TestAnalyzeTraceabilityCleanBoard(t *testing.T) {
	reqs := []Requirement{{ID: "R1", Title: "Search"}}
	items := []TraceItem{{ID: "T1", Title: "Build search index", RequirementID: "R1"}}

	report := AnalyzeTraceability(reqs, items, time.Time{})

	assert.Empty(t, report.Gaps)
	assert.Empty(t, report.Orphans)
	assert.Empty(t, report.ScopeCreep)
	assert.Empty(t, report.Recommendations)
}

func TestTitleSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, titleSimilarity("fix login bug", "fix login bug"))
	assert.Equal(t, 0.0, titleSimilarity("alpha beta", "gamma delta"))
	assert.Less(t, titleSimilarity("fix login bug", "add export feature"), duplicateTitleThreshold)
}

func TestTraceabilityTemplate(t *testing.T) {
	tmpl := builtinTemplates(t)
	e := NewEngine(nil)

	final := e.Run(context.Background(), tmpl.Traceability(), State{
		ProjectID: "P1",
		Data: map[string]any{
			"requirements": []Requirement{{ID: "R1", Title: "Login"}},
			"items":        []TraceItem{{ID: "T1", Title: "Something else"}},
		},
	})

	require.Equal(t, StatusCompleted, final.Status)
	report, ok := final.Result["trace_report"].(*TraceReport)
	require.True(t, ok)
	assert.Equal(t, []string{"R1"}, report.Gaps)
	assert.Equal(t, []string{"T1"}, report.Orphans)
	assert.Equal(t, ModeSuggest, final.Mode)
}
