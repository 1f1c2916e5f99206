package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ingestFixture(t *testing.T, h http.Handler) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/documents", map[string]any{
		"documents": []map[string]any{
			{
				"id":      "doc-1",
				"content": "Sprint planning happens every two weeks.\n\nThe backlog is groomed the day before.",
				"metadata": map[string]any{
					"title":        "Planning guide",
					"project_id":   "P1",
					"access_level": 1,
					"category":     "process",
				},
			},
			{
				"id":      "doc-2",
				"content": "Steering committee budget figures for the quarter.",
				"metadata": map[string]any{
					"title":        "Budget",
					"project_id":   "P1",
					"access_level": 5,
				},
			},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.EqualValues(t, 2, body["success_count"])
	require.EqualValues(t, 2, body["total"])
}

func TestDocumentLifecycle(t *testing.T) {
	h := newTestServer(t, nil)
	ingestFixture(t, h)

	rec := doJSON(t, h, http.MethodGet, "/api/documents/doc-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decodeBody(t, rec)
	assert.Equal(t, "Planning guide", doc["title"])
	assert.Equal(t, "P1", doc["project_id"])

	rec = doJSON(t, h, http.MethodPatch, "/api/documents/doc-1", map[string]any{
		"owner": "pmo",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody(t, rec)["updated_fields"].([]any)
	assert.Contains(t, updated, "owner")

	rec = doJSON(t, h, http.MethodDelete, "/api/documents/doc-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["deleted"])

	rec = doJSON(t, h, http.MethodGet, "/api/documents/doc-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, rec)["error"])
}

func TestIngestRequiresDocuments(t *testing.T) {
	h := newTestServer(t, nil)
	rec := doJSON(t, h, http.MethodPost, "/api/documents", map[string]any{"documents": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchRespectsAccessLevel(t *testing.T) {
	h := newTestServer(t, nil)
	ingestFixture(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/documents/search", map[string]any{
		"query":      "budget figures for the quarter",
		"top_k":      10,
		"project_id": "P1",
		"user_role":  "DEVELOPER",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	for _, raw := range body["results"].([]any) {
		r := raw.(map[string]any)
		assert.NotEqual(t, "doc-2", r["doc_id"], "restricted document leaked to a level-1 caller")
	}
	ac := body["access_control"].(map[string]any)
	assert.EqualValues(t, 1, ac["user_access_level"])

	rec = doJSON(t, h, http.MethodPost, "/api/documents/search", map[string]any{
		"query":      "budget figures for the quarter",
		"top_k":      10,
		"project_id": "P1",
		"user_role":  "SPONSOR",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	found := false
	for _, raw := range decodeBody(t, rec)["results"].([]any) {
		if raw.(map[string]any)["doc_id"] == "doc-2" {
			found = true
		}
	}
	assert.True(t, found, "sponsor-level caller should see the budget document")
}

func TestSearchRequiresQuery(t *testing.T) {
	h := newTestServer(t, nil)
	rec := doJSON(t, h, http.MethodPost, "/api/documents/search", map[string]any{"project_id": "P1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRAGAdminEndpoints(t *testing.T) {
	h := newTestServer(t, nil)
	ingestFixture(t, h)

	rec := doJSON(t, h, http.MethodGet, "/api/admin/rag/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody(t, rec)
	assert.EqualValues(t, 2, stats["Document"])

	rec = doJSON(t, h, http.MethodGet, "/api/admin/rag/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestSplitContent(t *testing.T) {
	chunks := splitContent("first paragraph\n\nsecond paragraph")
	require.Len(t, chunks, 1, "short paragraphs pack into one chunk")
	assert.Contains(t, chunks[0], "first paragraph")
	assert.Contains(t, chunks[0], "second paragraph")

	long := strings.Repeat("a", maxChunkChars+100)
	chunks = splitContent(long)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], maxChunkChars)

	assert.Empty(t, splitContent("   \n\n  "))
}
