package server

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/observability"
	"github.com/DanielHyeon/pms-ic-sub000/internal/tools"
)

func TestRFPExtractEndpoint(t *testing.T) {
	h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/rfp/extract", map[string]any{
		"project_id": "P1",
		"rfp_id":     "RFP-9",
		"text":       "The vendor shall provide a reporting dashboard. The system should support CSV export. Response time must stay under 2 seconds.",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	reqs := data["requirements"].([]any)
	require.NotEmpty(t, reqs)
	first := reqs[0].(map[string]any)
	assert.Equal(t, "RFP-9-R001", first["id"])
	stats := data["stats"].(map[string]any)
	assert.EqualValues(t, len(reqs), stats["total"])

	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "heuristic", meta["method"])
}

func TestRFPExtractRequiresText(t *testing.T) {
	h := newTestServer(t, nil)
	rec := doJSON(t, h, http.MethodPost, "/api/rfp/extract", map[string]any{"project_id": "P1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBriefingEndpoint(t *testing.T) {
	h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/ai/briefing/generate", map[string]any{
		"projectId":    "P1",
		"role":         "PM",
		"scope":        "weekly",
		"rawMetrics":   map[string]any{"open_tasks": 14, "velocity": 21},
		"ruleFindings": []string{"velocity down 25% against the last sprint"},
		"completeness": 1.0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Contains(t, data["headline"], "P1")
	assert.Contains(t, data["body"], "open_tasks 14")
	assert.Equal(t, "template", data["generationMethod"])
}

func TestBriefingRequiresProject(t *testing.T) {
	h := newTestServer(t, nil)
	rec := doJSON(t, h, http.MethodPost, "/api/ai/briefing/generate", map[string]any{"role": "PM"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportSectionEndpoint(t *testing.T) {
	h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/report/generate-section", map[string]any{
		"prompt":       "Summarise this sprint's delivery progress",
		"context":      "The team completed the auth rework and shipped the audit log. Two tasks carried over to the next sprint.",
		"user_role":    "PM",
		"section_type": "summary",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	content := body["data"].(map[string]any)["content"].(string)
	assert.NotEmpty(t, content)
}

func TestTextToSQLEndpoint(t *testing.T) {
	db, mock := newMockDB(t)
	genStub := llm.NewStubClient(`{"query": "SELECT COUNT(*) AS count FROM task.tasks t WHERE t.project_id = :project_id LIMIT 1", "confidence": 0.9, "tables_used": ["task.tasks"]}`)
	mock.ExpectPrepare("SELECT COUNT")

	h := newTestServer(t, func(d *Deps) {
		d.Pipeline = newChatPipeline(db, genStub)
	})

	rec := doJSON(t, h, http.MethodPost, "/api/report/text-to-sql", map[string]any{
		"question":   "how many tasks are in progress?",
		"project_id": "P1",
		"user_role":  "PM",
		"user_id":    "u1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["sql"], "task.tasks")
	assert.Contains(t, body["explanation"], "task.tasks")
	assert.InDelta(t, 0.9, body["confidence"].(float64), 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTextToSQLRefusesNonDataQuestions(t *testing.T) {
	db, _ := newMockDB(t)
	h := newTestServer(t, func(d *Deps) {
		d.Pipeline = newChatPipeline(db, llm.NewStubClient())
	})

	rec := doJSON(t, h, http.MethodPost, "/api/report/text-to-sql", map[string]any{
		"question":   "drop table task.tasks",
		"project_id": "P1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Empty(t, body["sql"])
}

func TestCriticalPathEndpoint(t *testing.T) {
	h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/wbs/critical-path", map[string]any{
		"items": []map[string]any{
			{"id": "design", "duration": 3},
			{"id": "build", "duration": 5},
			{"id": "docs", "duration": 2},
		},
		"dependencies": []map[string]any{
			{"from": "design", "to": "build"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 8, data["projectDuration"])
	critical := data["criticalPath"].([]any)
	assert.Equal(t, []any{"design", "build"}, critical)
	items := data["itemsWithFloat"].(map[string]any)
	docs := items["docs"].(map[string]any)
	assert.EqualValues(t, 6, docs["float"])
}

func TestCriticalPathRejectsCycles(t *testing.T) {
	h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodPost, "/api/wbs/critical-path", map[string]any{
		"items": []map[string]any{
			{"id": "a", "duration": 1},
			{"id": "b", "duration": 1},
		},
		"dependencies": []map[string]any{
			{"from": "a", "to": "b"},
			{"from": "b", "to": "a"},
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "cycle")
}

func TestMonitoringMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, func(d *Deps) {
		d.Collector.Record(observability.QueryMetrics{Success: true, DurationMS: 120, Intent: "QUERY_RELATIONAL", Confidence: 0.9})
		d.Collector.Record(observability.QueryMetrics{Success: false, DurationMS: 400, Intent: "QUERY_RELATIONAL", ErrorType: "TOOL_ERROR"})
	})

	rec := doJSON(t, h, http.MethodGet, "/api/monitoring/metrics?failure_type=TOOL_ERROR", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	queries := body["queries"].(map[string]any)
	assert.EqualValues(t, 2, queries["count"])
	assert.InDelta(t, 0.5, queries["success_rate"].(float64), 0.001)
	assert.EqualValues(t, 1, body["failure_count"])
	assert.Equal(t, "TOOL_ERROR", body["failure_type"])
	assert.NotNil(t, body["tools"])
	assert.NotNil(t, body["cost"])
	assert.Equal(t, false, body["budget_exceeded"])
}

func TestToolCapabilitiesEndpoint(t *testing.T) {
	h := newTestServer(t, func(d *Deps) {
		reg := tools.NewRegistry()
		reg.MustRegister(&tools.Tool{
			Name:        "retrieve-docs",
			Description: "vector search over project documents",
			Category:    tools.CategoryRetrieve,
			Public:      true,
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return nil, nil
			},
		}, nil)
		d.Gateway = tools.NewGateway(reg, nil)
	})

	rec := doJSON(t, h, http.MethodGet, "/api/admin/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])
	caps := body["tools"].([]any)
	first := caps[0].(map[string]any)
	assert.Equal(t, "retrieve-docs", first["name"])
	assert.Equal(t, "/retrieve", first["category"])
	assert.Equal(t, true, first["enabled"])
}
