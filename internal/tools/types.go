// Package tools provides the capability catalogue and its policy-enforcing
// gateway. Tools are side-effecting operations behind declared schemas; every
// call passes access checks, rate limiting, and input validation before the
// handler runs.
package tools

import (
	"context"
	"time"
)

// ToolCategory classifies tools for routing and filtering.
type ToolCategory string

const (
	// CategoryRetrieve covers document, graph, and metric lookups.
	CategoryRetrieve ToolCategory = "/retrieve"

	// CategoryAnalyze covers risk, dependency, and sentiment analysis.
	CategoryAnalyze ToolCategory = "/analyze"

	// CategoryGenerate covers text, summary, and report generation.
	CategoryGenerate ToolCategory = "/generate"

	// CategoryValidate covers evidence and policy checks.
	CategoryValidate ToolCategory = "/validate"

	// CategoryAdmin covers ingestion and maintenance operations.
	CategoryAdmin ToolCategory = "/admin"

	// CategoryGeneral is for tools usable from any route.
	CategoryGeneral ToolCategory = "/general"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// Handler is the signature for tool execution. The context carries the call
// deadline.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool defines a registered capability.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does.
	Description string

	// Category classifies the tool for routing.
	Category ToolCategory

	// Tags support secondary lookup and search.
	Tags []string

	// Handler runs the tool with the given arguments.
	Handler Handler

	// Schema defines the expected arguments.
	Schema ToolSchema

	// Access control. Public tools skip the tenant and role lists;
	// admin-only tools additionally require an admin or system role.
	Public         bool
	AdminOnly      bool
	AllowedTenants []string
	AllowedRoles   []string

	// Timeout bounds one handler run. Zero means the gateway default.
	Timeout time.Duration

	// RateLimitPerMinute caps calls per (tool, user) in a rolling minute.
	// Zero means the gateway default.
	RateLimitPerMinute int

	// CostPerCall is accumulated on every successful invocation.
	CostPerCall float64

	// AuditRequired forces an audit log entry for every invocation.
	AuditRequired bool
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Handler == nil {
		return ErrToolHandlerNil
	}
	return nil
}

// Policy overrides tool-declared settings at registration time. Zero values
// leave the tool's own declaration in place.
type Policy struct {
	RateLimitPerMinute int
	Timeout            time.Duration
	AllowedTenants     []string
	AllowedRoles       []string
	AuditRequired      bool
}

// Status is the outcome class of an invocation.
type Status string

const (
	StatusSuccess      Status = "SUCCESS"
	StatusFailed       Status = "FAILED"
	StatusUnauthorized Status = "UNAUTHORIZED"
	StatusRateLimited  Status = "RATE_LIMITED"
	StatusTimeout      Status = "TIMEOUT"
)

// Invocation is the record of one gateway call.
type Invocation struct {
	ID         string    `json:"id"`
	ToolName   string    `json:"tool_name"`
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	TraceID    string    `json:"trace_id,omitempty"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Output     any       `json:"output,omitempty"`
	Cost       float64   `json:"cost"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Succeeded reports whether the invocation completed without error.
func (i *Invocation) Succeeded() bool { return i.Status == StatusSuccess }

// Capability is the externally visible description of a tool.
type Capability struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
	Tags        []string     `json:"tags,omitempty"`
	Schema      ToolSchema   `json:"schema"`
	Enabled     bool         `json:"enabled"`
}
