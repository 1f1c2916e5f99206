package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/executor"
	"github.com/DanielHyeon/pms-ic-sub000/internal/intent"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
	"github.com/DanielHyeon/pms-ic-sub000/internal/textquery"
	"github.com/DanielHyeon/pms-ic-sub000/internal/validate"
)

// DefaultCorrectionAttempts bounds the validation-correction loop.
const DefaultCorrectionAttempts = 3

// Pipeline is the text-to-query track: classification, generation,
// validation, bounded correction, and guarded execution in declared order.
type Pipeline struct {
	classifier *intent.Classifier
	generator  *textquery.Generator
	validator  *validate.Validator
	corrector  *textquery.Corrector
	executor   *executor.Executor

	maxCorrections int
}

// PipelineOptions tunes the track.
type PipelineOptions struct {
	MaxCorrections int
}

// NewPipeline wires the track. corrector may be nil, disabling recovery
// from validation failures.
func NewPipeline(cls *intent.Classifier, gen *textquery.Generator, val *validate.Validator,
	cor *textquery.Corrector, exec *executor.Executor, opts PipelineOptions) *Pipeline {
	if opts.MaxCorrections <= 0 {
		opts.MaxCorrections = DefaultCorrectionAttempts
	}
	return &Pipeline{
		classifier:     cls,
		generator:      gen,
		validator:      val,
		corrector:      cor,
		executor:       exec,
		maxCorrections: opts.MaxCorrections,
	}
}

// Answer is the track's response envelope.
type Answer struct {
	Reply              string           `json:"reply"`
	Intent             string           `json:"intent"`
	Confidence         float64          `json:"confidence"`
	Status             Status           `json:"status"`
	Query              string           `json:"query,omitempty"`
	Rows               []map[string]any `json:"rows,omitempty"`
	Columns            []string         `json:"columns,omitempty"`
	Warnings           []string         `json:"warnings,omitempty"`
	CorrectionAttempts int              `json:"correction_attempts"`
	DurationMS         int64            `json:"duration_ms"`
}

// Ask runs the full track for one question. It always returns an answer;
// failures are reported inside it, never as a Go error.
func (p *Pipeline) Ask(ctx context.Context, question, contextText, projectID, role string) *Answer {
	started := time.Now()
	log := logging.L(logging.CategoryWorkflow)

	res := p.classifier.Classify(ctx, question, contextText, projectID)
	ans := &Answer{Intent: string(res.Intent), Confidence: res.Confidence}

	switch res.Intent {
	case intent.OutOfScope:
		// Harmful or unrelated input stops here; the generator never runs.
		ans.Status = StatusCompleted
		ans.Reply = "This question is outside what the project assistant can help with. Ask about project tasks, sprints, documents, or metrics."
		ans.DurationMS = time.Since(started).Milliseconds()
		return ans

	case intent.ClarificationNeeded:
		ans.Status = StatusWaitingApproval
		ans.Reply = res.ClarificationAsk
		if ans.Reply == "" {
			ans.Reply = "Could you add more detail, such as the project or the time range you mean?"
		}
		ans.DurationMS = time.Since(started).Milliseconds()
		return ans

	case intent.General:
		ans.Status = StatusCompleted
		ans.Reply = "This looks like a general question rather than a data lookup. The knowledge workflow answers it from project documents."
		ans.DurationMS = time.Since(started).Milliseconds()
		return ans
	}

	kind := query.KindRelational
	if res.Intent == intent.QueryGraph {
		kind = query.KindGraph
	}
	questionForQuery := question
	if res.RephrasedQuestion != "" {
		questionForQuery = res.RephrasedQuestion
	}

	gen, err := p.generator.Generate(ctx, questionForQuery, projectID, kind)
	if err != nil {
		ans.Status = StatusFailed
		ans.Reply = "The question could not be turned into a query. Try rephrasing it with concrete table or metric names."
		ans.Warnings = append(ans.Warnings, err.Error())
		ans.DurationMS = time.Since(started).Milliseconds()
		return ans
	}
	ans.Query = gen.Query

	validation := p.validator.Validate(ctx, gen.Query, kind, projectID, true)
	if !validation.IsValid && p.corrector != nil {
		schemaContext := p.generator.SchemaContext(ctx, questionForQuery, kind)
		correction := p.corrector.Correct(ctx, questionForQuery, gen.Query,
			validation.FirstError(), projectID, schemaContext, kind, p.maxCorrections)
		ans.CorrectionAttempts = correction.Attempts
		if correction.Corrected {
			ans.Query = correction.Query
			validation = p.validator.Validate(ctx, correction.Query, kind, projectID, true)
		}
	}
	if !validation.IsValid {
		ans.Status = StatusFailed
		ans.Reply = fmt.Sprintf("The generated query failed validation: %s. Refine the question or name the project explicitly.", validation.FirstError())
		ans.DurationMS = time.Since(started).Milliseconds()
		return ans
	}
	ans.Warnings = append(ans.Warnings, validation.Warnings...)

	exec := p.executor.Execute(ctx, executor.Request{
		Query:     validate.EnsureResultLimit(ans.Query, 0),
		Kind:      kind,
		ProjectID: projectID,
		Params:    map[string]any{"project_id": projectID},
		Question:  questionForQuery,
		Tables:    validation.Tables,
	})
	ans.DurationMS = time.Since(started).Milliseconds()
	if !exec.Success {
		ans.Status = StatusFailed
		ans.Reply = executionFailureReply(exec)
		ans.Warnings = append(ans.Warnings, exec.Error)
		return ans
	}

	ans.Status = StatusCompleted
	ans.Rows = exec.Rows
	ans.Columns = exec.Columns
	ans.Warnings = append(ans.Warnings, exec.Warnings...)
	ans.Reply = formatRows(exec)
	if gen.Confidence > 0 {
		ans.Confidence = gen.Confidence
	}

	log.Debug("pipeline answered",
		zap.String("intent", ans.Intent),
		zap.Int("rows", exec.RowCount),
		zap.Int("corrections", ans.CorrectionAttempts),
		zap.Int64("duration_ms", ans.DurationMS))
	return ans
}

// Translation is the query-only envelope: the validated query without
// execution, for callers that run it themselves.
type Translation struct {
	Success            bool     `json:"success"`
	Query              string   `json:"sql"`
	Explanation        string   `json:"explanation"`
	Confidence         float64  `json:"confidence"`
	Intent             string   `json:"intent"`
	Warnings           []string `json:"warnings,omitempty"`
	CorrectionAttempts int      `json:"correction_attempts"`
}

// Translate runs classification, generation, validation, and correction but
// stops before execution.
func (p *Pipeline) Translate(ctx context.Context, question, projectID, role string) *Translation {
	res := p.classifier.Classify(ctx, question, "", projectID)
	tr := &Translation{Intent: string(res.Intent), Confidence: res.Confidence}

	switch res.Intent {
	case intent.OutOfScope, intent.ClarificationNeeded, intent.General:
		tr.Explanation = "The question does not translate to a data query."
		return tr
	}

	kind := query.KindRelational
	if res.Intent == intent.QueryGraph {
		kind = query.KindGraph
	}
	questionForQuery := question
	if res.RephrasedQuestion != "" {
		questionForQuery = res.RephrasedQuestion
	}

	gen, err := p.generator.Generate(ctx, questionForQuery, projectID, kind)
	if err != nil {
		tr.Explanation = "Query generation failed."
		tr.Warnings = append(tr.Warnings, err.Error())
		return tr
	}
	tr.Query = gen.Query

	validation := p.validator.Validate(ctx, gen.Query, kind, projectID, true)
	if !validation.IsValid && p.corrector != nil {
		schemaContext := p.generator.SchemaContext(ctx, questionForQuery, kind)
		correction := p.corrector.Correct(ctx, questionForQuery, gen.Query,
			validation.FirstError(), projectID, schemaContext, kind, p.maxCorrections)
		tr.CorrectionAttempts = correction.Attempts
		if correction.Corrected {
			tr.Query = correction.Query
			validation = p.validator.Validate(ctx, correction.Query, kind, projectID, true)
		}
	}
	if !validation.IsValid {
		tr.Explanation = fmt.Sprintf("Validation failed: %s", validation.FirstError())
		return tr
	}

	tr.Success = true
	tr.Query = validate.EnsureResultLimit(tr.Query, 0)
	tr.Warnings = append(tr.Warnings, validation.Warnings...)
	if gen.Confidence > 0 {
		tr.Confidence = gen.Confidence
	}
	if len(validation.Tables) > 0 {
		tr.Explanation = fmt.Sprintf("Read-only %s query over %s, scoped to the requested project.",
			kind, strings.Join(validation.Tables, ", "))
	} else {
		tr.Explanation = "Read-only query scoped to the requested project."
	}
	return tr
}

func executionFailureReply(res *query.ExecutionResult) string {
	switch res.ErrorKind {
	case query.ExecTimeout:
		return "The query timed out. Narrow the time range or add more filters and try again."
	case query.ExecResultTooLarge:
		return "The result set was too large to return. Add filters to narrow it down."
	default:
		return "The data backend is currently unavailable. Try again shortly."
	}
}

// formatRows renders a compact plain-language answer from the result set.
func formatRows(res *query.ExecutionResult) string {
	if res.RowCount == 0 {
		return "The query ran successfully but matched no rows."
	}
	if res.RowCount == 1 && len(res.Columns) == 1 {
		col := res.Columns[0]
		return fmt.Sprintf("%s: %v", col, res.Rows[0][col])
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d row(s):\n", res.RowCount)
	limit := res.RowCount
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		parts := make([]string, 0, len(res.Columns))
		for _, col := range res.Columns {
			parts = append(parts, fmt.Sprintf("%s=%v", col, res.Rows[i][col]))
		}
		fmt.Fprintf(&sb, "- %s\n", strings.Join(parts, ", "))
	}
	if res.RowCount > limit {
		fmt.Fprintf(&sb, "… and %d more", res.RowCount-limit)
	}
	return strings.TrimRight(sb.String(), "\n")
}
