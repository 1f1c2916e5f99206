// Package executor runs validated queries under hard guard rails: read-only
// transactions, statement timeouts, bound parameters, and a row cap.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/fewshot"
	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
	"github.com/DanielHyeon/pms-ic-sub000/internal/sqlscan"
)

// Options bounds execution.
type Options struct {
	RowCap           int           // default 100
	StatementTimeout time.Duration // default 10s
	LearnTimeout     time.Duration // budget for the fire-and-forget learn call
}

// Request is one guarded execution.
type Request struct {
	Query     string
	Kind      query.Kind
	ProjectID string
	Params    map[string]any
	Timeout   time.Duration // overrides Options.StatementTimeout when set

	// Question and Tables feed the few-shot store after a success; empty
	// Question disables learning for this request.
	Question string
	Tables   []string
}

// Executor guards query execution against both stores.
type Executor struct {
	db      *sql.DB
	graph   graph.Store
	fewshot *fewshot.Store
	opts    Options
}

// NewExecutor builds an executor. Either store may be nil; requests for the
// missing side fail with BACKEND_ERROR. fewshot may be nil.
func NewExecutor(db *sql.DB, gs graph.Store, fs *fewshot.Store, opts Options) *Executor {
	if opts.RowCap <= 0 {
		opts.RowCap = 100
	}
	if opts.StatementTimeout <= 0 {
		opts.StatementTimeout = 10 * time.Second
	}
	if opts.LearnTimeout <= 0 {
		opts.LearnTimeout = 5 * time.Second
	}
	return &Executor{db: db, graph: gs, fewshot: fs, opts: opts}
}

// Execute runs the request and always reports duration. On success it
// notifies the few-shot store in the background; a learn failure never
// affects the result.
func (e *Executor) Execute(ctx context.Context, req Request) *query.ExecutionResult {
	started := time.Now()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.opts.StatementTimeout
	}

	var res *query.ExecutionResult
	if req.Kind == query.KindGraph {
		res = e.executeGraph(ctx, req, timeout)
	} else {
		res = e.executeRelational(ctx, req, timeout)
	}
	res.DurationMS = time.Since(started).Milliseconds()

	logging.L(logging.CategoryExecutor).Debug("execution finished",
		zap.String("kind", string(req.Kind)),
		zap.Bool("success", res.Success),
		zap.Int("rows", res.RowCount),
		zap.Int64("duration_ms", res.DurationMS))

	if res.Success && req.Question != "" && e.fewshot != nil {
		go e.learn(req)
	}
	return res
}

func (e *Executor) executeGraph(ctx context.Context, req Request, timeout time.Duration) *query.ExecutionResult {
	if e.graph == nil {
		return failure(query.ExecBackendError, query.ErrBackendUnavailable.Error())
	}
	qr, err := e.graph.ExecuteRead(ctx, req.Query, req.Params, timeout, e.opts.RowCap)
	if err != nil {
		return failure(classify(err), err.Error())
	}
	res := &query.ExecutionResult{
		Success:  true,
		Rows:     qr.Rows,
		Columns:  qr.Columns,
		RowCount: len(qr.Rows),
	}
	if qr.Truncated {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("result truncated to %d rows", e.opts.RowCap))
	}
	return res
}

func (e *Executor) executeRelational(ctx context.Context, req Request, timeout time.Duration) *query.ExecutionResult {
	if e.db == nil {
		return failure(query.ExecBackendError, query.ErrBackendUnavailable.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return failure(classify(err), err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return failure(classify(err), err.Error())
	}

	bound, args := BindNamed(req.Query, req.Params)
	rows, err := tx.QueryContext(ctx, bound, args...)
	if err != nil {
		return failure(classify(err), err.Error())
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return failure(query.ExecBackendError, err.Error())
	}

	res := &query.ExecutionResult{Success: true, Columns: cols}
	truncated := false
	for rows.Next() {
		if len(res.Rows) >= e.opts.RowCap {
			truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return failure(query.ExecBackendError, err.Error())
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(values[i])
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return failure(classify(err), err.Error())
	}

	res.RowCount = len(res.Rows)
	if truncated {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("result truncated to %d rows", e.opts.RowCap))
	}
	return res
}

// learn records the successful run without blocking the caller.
func (e *Executor) learn(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.LearnTimeout)
	defer cancel()
	e.fewshot.LearnFromSuccess(ctx, req.Question, req.Query, req.Kind, req.Tables)
}

// BindNamed converts :name placeholders to positional form and orders the
// argument list accordingly. Unbound parameters become nil, which the backend
// then rejects instead of silently widening the result.
func BindNamed(q string, params map[string]any) (string, []any) {
	toks := sqlscan.Scan(q)
	positions := map[string]int{}
	var args []any

	var b strings.Builder
	last := 0
	for _, t := range toks {
		if t.Type != sqlscan.TokenParam || !strings.HasPrefix(t.Text, ":") {
			continue
		}
		name := t.Text[1:]
		n, ok := positions[name]
		if !ok {
			n = len(args) + 1
			positions[name] = n
			args = append(args, params[name])
		}
		b.WriteString(q[last:t.Pos])
		fmt.Fprintf(&b, "$%d", n)
		last = t.Pos + len(t.Text)
	}
	b.WriteString(q[last:])
	return b.String(), args
}

func classify(err error) query.ExecErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return query.ExecTimeout
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "statement timeout") || strings.Contains(msg, "canceling statement") ||
		strings.Contains(msg, "deadline exceeded") {
		return query.ExecTimeout
	}
	if strings.Contains(msg, "too large") || strings.Contains(msg, "out of memory") {
		return query.ExecResultTooLarge
	}
	return query.ExecBackendError
}

func failure(kind query.ExecErrorKind, msg string) *query.ExecutionResult {
	return &query.ExecutionResult{Error: msg, ErrorKind: kind}
}

// normalizeValue converts driver byte slices to strings for JSON output.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
