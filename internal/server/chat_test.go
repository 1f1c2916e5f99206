package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
)

func TestChatV2AnswersDataQuestion(t *testing.T) {
	db, mock := newMockDB(t)

	genStub := llm.NewStubClient(`{"query": "SELECT t.id, t.status FROM task.tasks t WHERE t.project_id = :project_id LIMIT 10", "confidence": 0.9, "tables_used": ["task.tasks"]}`)
	mock.ExpectPrepare("SELECT t.id, t.status")
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT t.id, t.status").
		WithArgs("P1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).
			AddRow("T1", "DONE").
			AddRow("T2", "IN_PROGRESS"))
	mock.ExpectRollback()

	h := newTestServer(t, func(d *Deps) {
		d.Pipeline = newChatPipeline(db, genStub)
	})

	rec := doJSON(t, h, http.MethodPost, "/api/chat/v2", map[string]any{
		"message":    "how many tasks are in progress?",
		"project_id": "P1",
		"user_role":  "PM",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, TrackTextToQuery, body["track"])
	assert.True(t, strings.HasPrefix(body["reply"].(string), "2 row(s):"), "reply: %v", body["reply"])
	assert.InDelta(t, 0.9, body["confidence"].(float64), 0.001)

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "QUERY_RELATIONAL", meta["intent"])
	assert.Equal(t, "completed", meta["status"])
	assert.Contains(t, meta["query"], "task.tasks")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChatV2RequiresMessage(t *testing.T) {
	h := newTestServer(t, func(d *Deps) {
		db, _ := newMockDB(t)
		d.Pipeline = newChatPipeline(db, llm.NewStubClient())
	})

	rec := doJSON(t, h, http.MethodPost, "/api/chat/v2", map[string]any{"project_id": "P1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody(t, rec)["error"])
}

func TestChatV2RejectsInvalidJSON(t *testing.T) {
	h := newTestServer(t, nil)
	req, rec := rawRequest(http.MethodPost, "/api/chat/v2", "{not json")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatV2GuardsHarmfulInput(t *testing.T) {
	db, _ := newMockDB(t)
	h := newTestServer(t, func(d *Deps) {
		d.Pipeline = newChatPipeline(db, llm.NewStubClient())
	})

	rec := doJSON(t, h, http.MethodPost, "/api/chat/v2", map[string]any{
		"message":    "drop table task.tasks",
		"project_id": "P1",
		"user_role":  "PM",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, TrackGuard, body["track"])
	assert.Contains(t, body["reply"], "outside")
	assert.Equal(t, "OUT_OF_SCOPE", body["metadata"].(map[string]any)["intent"])
}

func TestChatV2AnswersFromSuppliedDocs(t *testing.T) {
	db, _ := newMockDB(t)
	h := newTestServer(t, func(d *Deps) {
		d.Pipeline = newChatPipeline(db, llm.NewStubClient())
	})

	rec := doJSON(t, h, http.MethodPost, "/api/chat/v2", map[string]any{
		"message":    "what is the retry policy for failed payments?",
		"project_id": "P1",
		"user_role":  "DEVELOPER",
		"retrieved_docs": []string{
			"The retry policy for failed payments retries three times with exponential backoff.",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, TrackKnowledge, body["track"])
	assert.Contains(t, body["reply"], "retry policy")
	assert.Greater(t, body["confidence"].(float64), 0.0)
}

func TestChatV2KnowledgeRefusesWithoutEvidence(t *testing.T) {
	// empty store: retrieval finds nothing, so the knowledge path answers
	// with the honest refusal instead of inventing content
	db, _ := newMockDB(t)
	h := newTestServer(t, func(d *Deps) {
		d.Pipeline = newChatPipeline(db, llm.NewStubClient())
	})

	rec := doJSON(t, h, http.MethodPost, "/api/chat/v2", map[string]any{
		"message":    "what is the escalation procedure for outages?",
		"project_id": "P1",
		"user_role":  "PM",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, TrackKnowledge, body["track"])
	assert.True(t, strings.HasPrefix(body["reply"].(string), "insufficient evidence"), "reply: %v", body["reply"])
	meta := body["metadata"].(map[string]any)
	assert.Equal(t, true, meta["insufficient_evidence"])
}

func TestNormalizeRetrievedDocs(t *testing.T) {
	docs := normalizeRetrievedDocs([]any{
		"plain text doc",
		map[string]any{"content": "mapped doc", "doc_title": "T"},
		map[string]any{"text": "legacy field doc"},
		map[string]any{"irrelevant": true},
		"",
	})
	require.Len(t, docs, 3)
	assert.Equal(t, "plain text doc", docs[0]["content"])
	assert.Equal(t, "mapped doc", docs[1]["content"])
	assert.Equal(t, "legacy field doc", docs[2]["content"])

	assert.Nil(t, normalizeRetrievedDocs(nil))
	single := normalizeRetrievedDocs("one doc as a bare string")
	require.Len(t, single, 1)
}

func TestAccessLevelNarrowsButNeverWidens(t *testing.T) {
	lower := 1
	higher := 6
	assert.Equal(t, 1, accessLevel("PM", &lower), "explicit level may narrow")
	assert.Equal(t, 3, accessLevel("PM", &higher), "explicit level must not widen")
	assert.Equal(t, 3, accessLevel("PM", nil))
	assert.Equal(t, 0, accessLevel("UNKNOWN_ROLE", nil))
}
