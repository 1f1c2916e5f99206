package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/workflow"
)

func capturedObserver() (*WorkflowObserver, *[]*Span, *Collector) {
	var spans []*Span
	tracer := NewTracer(CallbackExporter(func(s *Span) { spans = append(spans, s) }))
	collector := NewCollector(10)
	return NewWorkflowObserver(tracer, collector, nil, nil), &spans, collector
}

func TestObserverNodeCompleted(t *testing.T) {
	obs, spans, _ := capturedObserver()

	obs.NodeCompleted("weekly-report", "retrieve_data", workflow.NodeRetrieve, 150*time.Millisecond, nil)
	obs.NodeCompleted("weekly-report", "draft", workflow.NodeReason, 20*time.Millisecond, errors.New("model unavailable"))

	require.Len(t, *spans, 2)
	ok, failed := (*spans)[0], (*spans)[1]

	assert.Equal(t, "weekly-report/retrieve_data", ok.Name)
	assert.Equal(t, SpanNode, ok.Kind)
	assert.Equal(t, "ok", ok.Status)
	assert.Equal(t, "retrieve", ok.Attributes["node_kind"])
	assert.GreaterOrEqual(t, ok.End.Sub(ok.Start), 150*time.Millisecond)

	assert.Equal(t, "error", failed.Status)
	assert.Equal(t, "model unavailable", failed.Attributes["error"])
}

func TestObserverRunCompletedRecordsMetrics(t *testing.T) {
	obs, spans, collector := capturedObserver()

	final := workflow.State{
		RunID:      "run-1",
		TraceID:    "trace-1",
		ProjectID:  "P1",
		Intent:     "TOOL_CALL",
		Status:     workflow.StatusCompleted,
		Confidence: 0.82,
		Mode:       workflow.ModeSuggest,
	}
	obs.RunCompleted("sprint-planning", final, 340*time.Millisecond)

	require.Len(t, *spans, 1)
	span := (*spans)[0]
	assert.Equal(t, "sprint-planning", span.Name)
	assert.Equal(t, SpanWorkflow, span.Kind)
	assert.Equal(t, "trace-1", span.TraceID)
	assert.Equal(t, "ok", span.Status)
	assert.Equal(t, "run-1", span.Attributes["run_id"])
	assert.Equal(t, "SUGGEST", span.Attributes["mode"])

	stats := collector.Stats()
	assert.Equal(t, 1, stats.Count)
	assert.InDelta(t, 1.0, stats.SuccessRate, 0.001)
	assert.Equal(t, 1, stats.Intents["TOOL_CALL"])
	assert.InDelta(t, 0.82, stats.AvgConfidence, 0.001)
}

func TestObserverRunCompletedRecordsFailure(t *testing.T) {
	obs, spans, collector := capturedObserver()

	final := workflow.State{
		RunID:  "run-2",
		Status: workflow.StatusFailed,
		Failure: &workflow.Failure{
			Type:   workflow.FailureToolError,
			Detail: "backend unavailable",
			Node:   "act",
		},
	}
	obs.RunCompleted("sprint-planning", final, 50*time.Millisecond)

	require.Len(t, *spans, 1)
	assert.Equal(t, "error", (*spans)[0].Status)

	stats := collector.Stats()
	assert.Zero(t, stats.SuccessRate)
	assert.Equal(t, 1, stats.ErrorTypes["TOOL_ERROR"])
}

func TestObserverEvaluatesAlertsAfterRun(t *testing.T) {
	collector := NewCollector(10)
	alerts := NewAlertService()
	var fired []Alert
	alerts.OnAlert(func(a Alert) { fired = append(fired, a) })
	obs := NewWorkflowObserver(nil, collector, alerts, nil)

	for i := 0; i < 5; i++ {
		obs.RunCompleted("sprint-planning", workflow.State{
			Status:  workflow.StatusFailed,
			Failure: &workflow.Failure{Type: workflow.FailureToolError},
		}, 10*time.Millisecond)
	}

	require.NotEmpty(t, fired)
	names := make([]string, 0, len(fired))
	for _, a := range fired {
		names = append(names, a.Rule)
	}
	assert.Contains(t, names, "low-success-rate")
}

func TestObserverToleratesNilSinks(t *testing.T) {
	obs := NewWorkflowObserver(nil, nil, nil, nil)
	assert.NotPanics(t, func() {
		obs.NodeCompleted("t", "n", workflow.NodeAct, time.Millisecond, nil)
		obs.RunCompleted("t", workflow.State{Status: workflow.StatusCompleted}, time.Millisecond)
	})
}
