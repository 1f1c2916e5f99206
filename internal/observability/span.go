// Package observability provides tracing spans, a rolling metrics window,
// LLM cost accounting, and threshold alerting for the assistant core.
package observability

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// SpanKind classifies what a span measured.
type SpanKind string

const (
	SpanWorkflow SpanKind = "workflow"
	SpanNode     SpanKind = "node"
	SpanTool     SpanKind = "tool"
	SpanLLM      SpanKind = "llm"
)

// SpanEvent is one timestamped annotation inside a span.
type SpanEvent struct {
	Name       string         `json:"name"`
	Time       time.Time      `json:"time"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Span is one timed unit of work.
type Span struct {
	SpanID       string         `json:"span_id"`
	TraceID      string         `json:"trace_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	Kind         SpanKind       `json:"kind"`
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end"`
	Status       string         `json:"status"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Events       []SpanEvent    `json:"events,omitempty"`

	tracer *Tracer
}

// SetAttribute records one key on the span.
func (s *Span) SetAttribute(key string, value any) {
	if s.Attributes == nil {
		s.Attributes = map[string]any{}
	}
	s.Attributes[key] = value
}

// SetLLMTokens attaches the model and token counts to an LLM span.
func (s *Span) SetLLMTokens(model string, u llm.Usage) {
	s.SetAttribute("model", model)
	s.SetAttribute("prompt_tokens", u.PromptTokens)
	s.SetAttribute("completion_tokens", u.CompletionTokens)
	s.SetAttribute("total_tokens", u.TotalTokens)
}

// AddEvent appends a timestamped annotation.
func (s *Span) AddEvent(name string, attrs map[string]any) {
	s.Events = append(s.Events, SpanEvent{Name: name, Time: time.Now(), Attributes: attrs})
}

// Finish closes the span with the given status and hands it to the tracer's
// exporters. Calling Finish on a detached span is a no-op beyond stamping.
func (s *Span) Finish(status string) {
	s.End = time.Now()
	s.Status = status
	if s.tracer != nil {
		s.tracer.export(s)
	}
}

// Exporter receives finished spans. An exporter error or panic is contained
// by the tracer and never reaches the instrumented code path.
type Exporter interface {
	Export(span *Span) error
}

// Tracer creates spans and fans finished spans out to its exporters.
type Tracer struct {
	mu        sync.RWMutex
	exporters []Exporter
}

// NewTracer builds a tracer over the given exporters.
func NewTracer(exporters ...Exporter) *Tracer {
	return &Tracer{exporters: exporters}
}

// AddExporter registers another exporter.
func (t *Tracer) AddExporter(e Exporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exporters = append(t.exporters, e)
}

// Start opens a span. Empty traceID starts a new trace.
func (t *Tracer) Start(traceID, parentSpanID, name string, kind SpanKind) *Span {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return &Span{
		SpanID:       uuid.NewString(),
		TraceID:      traceID,
		ParentSpanID: parentSpanID,
		Name:         name,
		Kind:         kind,
		Start:        time.Now(),
		Status:       "ok",
		tracer:       t,
	}
}

func (t *Tracer) export(span *Span) {
	t.mu.RLock()
	exporters := t.exporters
	t.mu.RUnlock()

	for _, e := range exporters {
		exportSafely(e, span)
	}
}

func exportSafely(e Exporter, span *Span) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(logging.CategoryObservability).Warn("span exporter panicked",
				zap.Any("panic", r))
		}
	}()
	if err := e.Export(span); err != nil {
		logging.L(logging.CategoryObservability).Warn("span export failed",
			zap.String("span", span.Name), zap.Error(err))
	}
}

// ConsoleExporter writes spans to the structured log.
type ConsoleExporter struct{}

func (ConsoleExporter) Export(span *Span) error {
	logging.L(logging.CategoryObservability).Info("span",
		zap.String("name", span.Name),
		zap.String("kind", string(span.Kind)),
		zap.String("trace_id", span.TraceID),
		zap.String("span_id", span.SpanID),
		zap.String("status", span.Status),
		zap.Duration("duration", span.End.Sub(span.Start)),
		zap.Any("attributes", span.Attributes))
	return nil
}

// FileExporter appends spans as JSON lines.
type FileExporter struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// NewFileExporter opens (or creates) the span file in append mode.
func NewFileExporter(path string) (*FileExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileExporter{f: f, enc: json.NewEncoder(f)}, nil
}

func (e *FileExporter) Export(span *Span) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(span)
}

// Close flushes and closes the span file.
func (e *FileExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.f.Close()
}

// CallbackExporter adapts a plain function.
type CallbackExporter func(span *Span)

func (f CallbackExporter) Export(span *Span) error {
	f(span)
	return nil
}
