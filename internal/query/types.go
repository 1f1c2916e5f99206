// Package query holds the shared types flowing through the text-to-query
// pipeline: generation, validation, correction, and execution results.
package query

import (
	"errors"
	"time"
)

// Kind distinguishes the two query backends.
type Kind string

const (
	KindRelational Kind = "relational"
	KindGraph      Kind = "graph"
)

// ErrBackendUnavailable signals that the underlying store is unreachable.
// Callers degrade gracefully instead of failing the request outright.
var ErrBackendUnavailable = errors.New("backend unavailable")

// GenerationResult is the output of the query generator.
type GenerationResult struct {
	Query       string        `json:"query"`
	Kind        Kind          `json:"kind"`
	Confidence  float64       `json:"confidence"`
	TablesUsed  []string      `json:"tables_used"`
	Warnings    []string      `json:"warnings,omitempty"`
	FewShotIDs  []string      `json:"fewshot_ids,omitempty"`
	Duration    time.Duration `json:"-"`
}

// ErrorKind classifies a validation error.
type ErrorKind string

const (
	ErrorSyntax      ErrorKind = "SYNTAX"
	ErrorSchema      ErrorKind = "SCHEMA"
	ErrorSecurity    ErrorKind = "SECURITY"
	ErrorScope       ErrorKind = "SCOPE"
	ErrorPerformance ErrorKind = "PERFORMANCE"
)

// ValidationError is one finding from a validation layer.
type ValidationError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Location   string    `json:"location,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// LayerFlags records which validation layers passed.
type LayerFlags struct {
	Syntax   bool `json:"syntax"`
	Schema   bool `json:"schema"`
	Security bool `json:"security"`
	Resource bool `json:"resource"`
}

// ValidationResult is the full validator report. All layers run even when an
// earlier one fails, so one pass reports the complete error set.
type ValidationResult struct {
	IsValid         bool              `json:"is_valid"`
	Errors          []ValidationError `json:"errors,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	HasProjectScope bool              `json:"has_project_scope"`
	Layers          LayerFlags        `json:"layers"`
	Tables          []string          `json:"tables,omitempty"`
	Columns         []string          `json:"columns,omitempty"`
}

// FirstError returns the highest-priority error message, SECURITY first.
func (r *ValidationResult) FirstError() string {
	for _, e := range r.Errors {
		if e.Kind == ErrorSecurity || e.Kind == ErrorScope {
			return e.Message
		}
	}
	if len(r.Errors) > 0 {
		return r.Errors[0].Message
	}
	return ""
}

// ExecutionResult is the outcome of a guarded execution.
type ExecutionResult struct {
	Success    bool             `json:"success"`
	Rows       []map[string]any `json:"rows,omitempty"`
	Columns    []string         `json:"columns,omitempty"`
	RowCount   int              `json:"row_count"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  ExecErrorKind    `json:"error_kind,omitempty"`
	Warnings   []string         `json:"warnings,omitempty"`
	DurationMS int64            `json:"duration_ms"`
}

// ExecErrorKind distinguishes executor failure classes.
type ExecErrorKind string

const (
	ExecTimeout        ExecErrorKind = "TIMEOUT"
	ExecBackendError   ExecErrorKind = "BACKEND_ERROR"
	ExecResultTooLarge ExecErrorKind = "RESULT_TOO_LARGE"
)

// CorrectionResult reports the bounded self-correction loop.
type CorrectionResult struct {
	Corrected     bool    `json:"corrected"`
	Query         string  `json:"query"`
	Attempts      int     `json:"attempts"`
	Category      string  `json:"category,omitempty"`
	ErrorAnalysis string  `json:"error_analysis,omitempty"`
	FixApplied    string  `json:"fix_applied,omitempty"`
	Confidence    float64 `json:"confidence"`
}
