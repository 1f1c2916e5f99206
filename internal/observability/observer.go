package observability

import (
	"time"

	"github.com/DanielHyeon/pms-ic-sub000/internal/workflow"
)

// WorkflowObserver bridges the workflow engine's lifecycle callbacks into
// spans, the metrics window, and alert evaluation. Any of the three sinks
// may be nil.
type WorkflowObserver struct {
	tracer    *Tracer
	collector *Collector
	alerts    *AlertService
	costs     *CostTracker
}

// NewWorkflowObserver wires the observer. It satisfies workflow.Observer.
func NewWorkflowObserver(tracer *Tracer, collector *Collector, alerts *AlertService, costs *CostTracker) *WorkflowObserver {
	return &WorkflowObserver{tracer: tracer, collector: collector, alerts: alerts, costs: costs}
}

// NodeCompleted emits one span per executed node.
func (o *WorkflowObserver) NodeCompleted(template, node string, kind workflow.NodeKind, duration time.Duration, err error) {
	if o.tracer == nil {
		return
	}
	span := o.tracer.Start("", "", template+"/"+node, SpanNode)
	span.Start = time.Now().Add(-duration)
	span.SetAttribute("template", template)
	span.SetAttribute("node_kind", string(kind))
	status := "ok"
	if err != nil {
		status = "error"
		span.SetAttribute("error", err.Error())
	}
	span.Finish(status)
}

// RunCompleted emits the run span, records the run in the metrics window,
// and pushes the fresh snapshot through the alert rules.
func (o *WorkflowObserver) RunCompleted(template string, final workflow.State, duration time.Duration) {
	if o.tracer != nil {
		span := o.tracer.Start(final.TraceID, "", template, SpanWorkflow)
		span.Start = time.Now().Add(-duration)
		span.SetAttribute("run_id", final.RunID)
		span.SetAttribute("project_id", final.ProjectID)
		span.SetAttribute("mode", string(final.Mode))
		span.SetAttribute("confidence", final.Confidence)
		status := "ok"
		if final.Status == workflow.StatusFailed {
			status = "error"
		}
		span.Finish(status)
	}

	if o.collector == nil {
		return
	}
	m := QueryMetrics{
		Intent:     final.Intent,
		Success:    final.Status != workflow.StatusFailed,
		DurationMS: duration.Milliseconds(),
		Confidence: final.Confidence,
	}
	if final.Failure != nil {
		m.ErrorType = string(final.Failure.Type)
	}
	o.collector.Record(m)

	if o.alerts != nil {
		budget := o.costs != nil && o.costs.BudgetExceeded()
		o.alerts.EvaluateStats(o.collector.Stats(), o.collector.ErrorsSince(5*time.Minute), budget)
	}
}
