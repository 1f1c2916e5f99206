// Package workflow composes skills and the text-to-query pipeline into
// staged state machines. Nodes never mutate shared state; they return deltas
// that the engine merges immutably into the working state.
package workflow

import (
	"github.com/DanielHyeon/pms-ic-sub000/internal/skills"
)

// Status is the lifecycle of one workflow run.
type Status string

const (
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// statusRank orders statuses for the monotonic-transition rule: a merge can
// only move status forward, never back toward running.
func statusRank(s Status) int {
	switch s {
	case StatusWaitingApproval:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return 0
	}
}

// DecisionMode classifies the authority of an AI action.
type DecisionMode string

const (
	ModeSuggest DecisionMode = "SUGGEST"
	ModeDecide  DecisionMode = "DECIDE"
	ModeExecute DecisionMode = "EXECUTE"
	ModeCommit  DecisionMode = "COMMIT"
)

// FailureType classifies a node failure for recovery routing.
type FailureType string

const (
	FailureInfoMissing     FailureType = "INFO_MISSING"
	FailureConflict        FailureType = "CONFLICT"
	FailurePolicyViolation FailureType = "POLICY_VIOLATION"
	FailureLowConfidence   FailureType = "LOW_CONFIDENCE"
	FailureToolError       FailureType = "TOOL_ERROR"
	FailureDataBoundary    FailureType = "DATA_BOUNDARY"
)

// Failure is the preserved failure record. It survives merges until a
// successful retry explicitly clears it.
type Failure struct {
	Type       FailureType `json:"type"`
	Detail     string      `json:"detail"`
	Node       string      `json:"node"`
	RetryCount int         `json:"retry_count"`
}

// State is the working record of one run. Values are never mutated in place;
// Merge returns a fresh copy.
type State struct {
	RunID     string `json:"run_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role"`
	TraceID   string `json:"trace_id,omitempty"`

	Intent string `json:"intent,omitempty"`
	Status Status `json:"status"`

	// Data carries the context snapshot, retrieval payload, and any
	// node-specific values keyed by name.
	Data map[string]any `json:"data,omitempty"`

	Evidence    []skills.Evidence   `json:"evidence,omitempty"`
	EvidenceMap map[string][]string `json:"evidence_map,omitempty"`

	Confidence       float64      `json:"confidence"`
	Mode             DecisionMode `json:"mode,omitempty"`
	RequiresApproval bool         `json:"requires_approval"`

	Failure *Failure       `json:"failure,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

// Delta is what a node returns: only the set fields are merged. Data and
// Result entries are last-write-wins per key.
type Delta struct {
	Status Status

	Data   map[string]any
	Result map[string]any

	Evidence    []skills.Evidence
	EvidenceMap map[string][]string

	Confidence       *float64
	Mode             DecisionMode
	RequiresApproval *bool

	Failure      *Failure
	ClearFailure bool
}

// Conf wraps a confidence value for a delta.
func Conf(v float64) *float64 { return &v }

// Bool wraps an approval flag for a delta.
func Bool(v bool) *bool { return &v }

// Merge applies a delta and returns the new state. The receiver is never
// modified. Status only moves forward; within equal rank the delta wins.
func (s State) Merge(d Delta) State {
	next := s

	next.Data = copyMap(s.Data)
	for k, v := range d.Data {
		next.Data[k] = v
	}
	next.Result = copyMap(s.Result)
	for k, v := range d.Result {
		next.Result[k] = v
	}

	if len(d.Evidence) > 0 {
		next.Evidence = append(append([]skills.Evidence{}, s.Evidence...), d.Evidence...)
	}
	if len(d.EvidenceMap) > 0 {
		merged := make(map[string][]string, len(s.EvidenceMap)+len(d.EvidenceMap))
		for k, v := range s.EvidenceMap {
			merged[k] = v
		}
		for k, v := range d.EvidenceMap {
			merged[k] = v
		}
		next.EvidenceMap = merged
	}

	if d.Status != "" && statusRank(d.Status) >= statusRank(s.Status) {
		next.Status = d.Status
	}
	if d.Confidence != nil {
		next.Confidence = *d.Confidence
	}
	if d.Mode != "" {
		next.Mode = d.Mode
	}
	if d.RequiresApproval != nil {
		next.RequiresApproval = *d.RequiresApproval
	}

	switch {
	case d.Failure != nil:
		f := *d.Failure
		next.Failure = &f
	case d.ClearFailure:
		next.Failure = nil
	}
	return next
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
