package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/embedding"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", 64)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	e := embedding.NewHashEngine(64)
	v, err := e.Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

func TestUpsertAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{DocID: "d1", Title: "Kickoff notes", ProjectID: "P1", AccessLevel: 3, Category: "meeting"}
	chunks := []Chunk{
		{ChunkIndex: 0, Content: "first part", Embedding: embed(t, "first part")},
		{ChunkIndex: 1, Content: "second part", Embedding: embed(t, "second part")},
	}
	require.NoError(t, s.UpsertDocument(ctx, doc, chunks))

	got, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Kickoff notes", got.Title)
	assert.Equal(t, 3, got.AccessLevel)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats[LabelDocument])
	assert.EqualValues(t, 2, stats[LabelChunk])
}

func TestChunksInheritDocumentACL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := Document{DocID: "d1", ProjectID: "P9", AccessLevel: 5}
	// chunk claims a lower level; the parent's must win
	chunks := []Chunk{{ChunkIndex: 0, Content: "secret", AccessLevel: 0, ProjectID: "other",
		Embedding: embed(t, "secret")}}
	require.NoError(t, s.UpsertDocument(ctx, doc, chunks))

	results, err := s.SearchChunks(ctx, embed(t, "secret"), 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "P9", results[0].ProjectID)
	assert.Equal(t, 5, results[0].AccessLevel)
}

func TestSearchChunksRanksBySimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDocument(ctx, Document{DocID: "d1", ProjectID: "P1"}, []Chunk{
		{ChunkIndex: 0, Content: "sprint retrospective action items",
			Embedding: embed(t, "sprint retrospective action items")},
	}))
	require.NoError(t, s.UpsertDocument(ctx, Document{DocID: "d2", ProjectID: "P1"}, []Chunk{
		{ChunkIndex: 0, Content: "office lunch menu",
			Embedding: embed(t, "office lunch menu")},
	}))

	results, err := s.SearchChunks(ctx, embed(t, "sprint retrospective"), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "d1", results[0].DocID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestNeighborChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDocument(ctx, Document{DocID: "d1", ProjectID: "P1"}, []Chunk{
		{ChunkID: "c0", ChunkIndex: 0, Content: "alpha", Embedding: embed(t, "alpha")},
		{ChunkID: "c1", ChunkIndex: 1, Content: "beta", Embedding: embed(t, "beta")},
		{ChunkID: "c2", ChunkIndex: 2, Content: "gamma", Embedding: embed(t, "gamma")},
	}))

	prev, next, err := s.NeighborChunks(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, prev)
	require.NotNil(t, next)
	assert.Equal(t, "alpha", prev.Content)
	assert.Equal(t, "gamma", next.Content)

	prev, next, err = s.NeighborChunks(ctx, "c0")
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.Equal(t, "beta", next.Content)

	_, _, err = s.NeighborChunks(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDocument(ctx, Document{DocID: "d1", ProjectID: "P1"}, []Chunk{
		{ChunkIndex: 0, Content: "x", Embedding: embed(t, "x")},
	}))
	require.NoError(t, s.DeleteDocument(ctx, "d1"))
	assert.ErrorIs(t, s.DeleteDocument(ctx, "d1"), ErrNotFound)

	_, err := s.GetDocument(ctx, "d1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateDocumentMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDocument(ctx, Document{DocID: "d1", ProjectID: "P1"}, nil))
	updated, err := s.UpdateDocumentMetadata(ctx, "d1", map[string]any{"owner": "pm", "status": "final"})
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "status"}, updated)

	doc, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "pm", doc.Metadata["owner"])
}

func TestRecentCategoryDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.UpsertDocument(ctx,
			Document{DocID: id, ProjectID: "P1", Category: "design"}, nil))
	}
	docs, err := s.RecentCategoryDocuments(ctx, "design", "a", 3)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	for _, d := range docs {
		assert.NotEqual(t, "a", d.DocID)
	}
}

func TestCheckQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, s.CheckQuery(ctx, "SELECT doc_id FROM documents WHERE project_id = :project_id"))
	assert.Error(t, s.CheckQuery(ctx, "SELEKT nonsense FROM"))
}

func TestExecuteReadRowCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.UpsertDocument(ctx,
			Document{DocID: string(rune('a' + i)), ProjectID: "P1"}, nil))
	}

	res, err := s.ExecuteRead(ctx,
		"SELECT doc_id FROM documents WHERE project_id = :project_id",
		map[string]any{"project_id": "P1"}, 0, 3)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 3)
	assert.True(t, res.Truncated)
}

func TestSchemaIntrospection(t *testing.T) {
	s := newTestStore(t)
	info, err := s.Schema(context.Background())
	require.NoError(t, err)
	assert.Contains(t, info.Labels, LabelChunk)
	assert.Contains(t, info.Labels[LabelChunk], "project_id")
	assert.Len(t, info.Relationships, 4)

	// queryable names are the physical tables ExecuteRead runs against
	assert.Contains(t, info.Tables, "documents")
	assert.Contains(t, info.Tables, "chunks")
	assert.Contains(t, info.Tables["chunks"], "project_id")
}
