package skills

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/embedding"
	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/retrieval"
)

func newRetrievalFixture(t *testing.T) (*retrieval.Service, graph.Store) {
	t.Helper()
	engine := embedding.NewHashEngine(64)
	store, err := graph.NewSQLiteStore(filepath.Join(t.TempDir(), "skills.db"), engine.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return retrieval.NewService(store, engine, retrieval.Options{ScoreThreshold: 0.0001}), store
}

func TestRetrieveDocsSkill(t *testing.T) {
	svc, _ := newRetrievalFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.AddDocument(ctx,
		graph.Document{DocID: "d1", Title: "Sprint guide", ProjectID: "alpha", AccessLevel: 1},
		[]string{"sprint planning happens every two weeks"}))
	require.NoError(t, svc.AddDocument(ctx,
		graph.Document{DocID: "d2", Title: "Beta notes", ProjectID: "beta", AccessLevel: 1},
		[]string{"sprint planning for the beta team"}))

	out, err := RetrieveDocs(svc).Execute(ctx, map[string]any{
		"query":             "sprint planning",
		"project_id":        "alpha",
		"user_access_level": 3,
		"top_k":             5,
	})
	require.NoError(t, err)
	require.False(t, out.Failed())

	chunks := out.Result.([]map[string]any)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.NotEqual(t, "d2", chunk["doc_id"], "other tenant content must stay hidden")
	}
	require.NotEmpty(t, out.Evidence)
	assert.Equal(t, "document", out.Evidence[0].SourceType)
	assert.Greater(t, out.Confidence, 0.0)
	assert.Equal(t, false, out.Metadata["graph_expansion"])
}

func TestRetrieveGraphSkillExpands(t *testing.T) {
	svc, _ := newRetrievalFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.AddDocument(ctx,
		graph.Document{DocID: "d1", Title: "Runbook", ProjectID: "alpha", AccessLevel: 1},
		[]string{
			"step one prepare the environment",
			"step two deploy the reporting service",
			"step three verify the dashboards",
		}))

	out, err := RetrieveGraph(svc).Execute(ctx, map[string]any{
		"query":             "deploy the reporting service",
		"project_id":        "alpha",
		"user_access_level": 1,
		"top_k":             1,
	})
	require.NoError(t, err)
	require.False(t, out.Failed())

	chunks := out.Result.([]map[string]any)
	require.Len(t, chunks, 1)
	assert.Equal(t, true, out.Metadata["graph_expansion"])
	// The middle chunk carries both neighbours.
	if chunks[0]["content"] == "step two deploy the reporting service" {
		assert.NotEmpty(t, chunks[0]["prev_content"])
		assert.NotEmpty(t, chunks[0]["next_content"])
	}
}

func TestRetrieveSkillInputErrors(t *testing.T) {
	svc, _ := newRetrievalFixture(t)

	out, err := RetrieveDocs(svc).Execute(context.Background(), map[string]any{"query": "x"})
	require.NoError(t, err)
	assert.True(t, out.Failed())

	out, err = RetrieveMetrics(nil).Execute(context.Background(), map[string]any{"query": "SELECT 1"})
	require.NoError(t, err)
	assert.True(t, out.Failed())
}

func TestRetrieveMetricsSkill(t *testing.T) {
	_, store := newRetrievalFixture(t)

	out, err := RetrieveMetrics(store).Execute(context.Background(), map[string]any{
		"query": "SELECT COUNT(*) AS docs FROM documents",
	})
	require.NoError(t, err)
	require.False(t, out.Failed())
	assert.Equal(t, 1.0, out.Confidence)
	assert.Equal(t, []string{"docs"}, out.Metadata["columns"])
}
