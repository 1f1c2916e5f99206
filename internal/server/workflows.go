package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/DanielHyeon/pms-ic-sub000/internal/workflow"
)

type rfpExtractRequest struct {
	ProjectID string `json:"project_id"`
	RFPID     string `json:"rfp_id"`
	Text      string `json:"text"`
}

func (s *Server) handleRFPExtract(w http.ResponseWriter, r *http.Request) {
	var req rfpExtractRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ErrInput, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, ErrInput, "text is required")
		return
	}
	if s.deps.Engine == nil || s.deps.Templates == nil {
		writeError(w, ErrBackend, "workflow engine is not configured")
		return
	}

	final := s.deps.Engine.Run(r.Context(), s.deps.Templates.RFPExtract(), workflow.State{
		RunID:     uuid.NewString(),
		ProjectID: req.ProjectID,
		Status:    workflow.StatusRunning,
		Data: map[string]any{
			"text":   req.Text,
			"rfp_id": req.RFPID,
		},
	})
	if !writeWorkflowFailure(w, final) {
		return
	}

	extraction, _ := final.Result["extraction"].(*workflow.RFPExtraction)
	if extraction == nil {
		writeError(w, ErrInternal, "extraction produced no result")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"rfp_summary":  extraction.Summary,
			"requirements": extraction.Requirements,
			"stats":        extraction.Stats,
		},
		"metadata": map[string]any{
			"method":     final.Result["method"],
			"confidence": final.Confidence,
		},
	})
}

type briefingRequest struct {
	ProjectID    string         `json:"projectId"`
	Role         string         `json:"role"`
	Scope        string         `json:"scope"`
	RawMetrics   map[string]any `json:"rawMetrics"`
	RuleFindings []string       `json:"ruleFindings"`
	Completeness float64        `json:"completeness"`
}

func (s *Server) handleBriefing(w http.ResponseWriter, r *http.Request) {
	var req briefingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ErrInput, "invalid JSON body")
		return
	}
	if req.ProjectID == "" {
		writeError(w, ErrInput, "projectId is required")
		return
	}
	if s.deps.Engine == nil || s.deps.Templates == nil {
		writeError(w, ErrBackend, "workflow engine is not configured")
		return
	}

	final := s.deps.Engine.Run(r.Context(), s.deps.Templates.Briefing(), workflow.State{
		RunID:     uuid.NewString(),
		ProjectID: req.ProjectID,
		Role:      req.Role,
		Status:    workflow.StatusRunning,
		Data: map[string]any{
			"scope":         req.Scope,
			"raw_metrics":   req.RawMetrics,
			"rule_findings": req.RuleFindings,
			"completeness":  req.Completeness,
		},
	})
	if !writeWorkflowFailure(w, final) {
		return
	}

	briefing, _ := final.Result["briefing"].(*workflow.BriefingResult)
	if briefing == nil {
		writeError(w, ErrInternal, "briefing produced no result")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    briefing,
	})
}

type reportSectionRequest struct {
	Prompt      string `json:"prompt"`
	Context     string `json:"context"`
	UserRole    string `json:"user_role"`
	SectionType string `json:"section_type"`
}

// handleReportSection generates one report section through the summary
// skill, which degrades to extractive text without an LLM.
func (s *Server) handleReportSection(w http.ResponseWriter, r *http.Request) {
	var req reportSectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ErrInput, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.Context) == "" {
		writeError(w, ErrInput, "prompt or context is required")
		return
	}
	if s.deps.Skills == nil {
		writeError(w, ErrBackend, "skills are not configured")
		return
	}

	out, err := s.deps.Skills.Execute(r.Context(), "generate-summary", map[string]any{
		"content":  strings.TrimSpace(req.Prompt + "\n\n" + req.Context),
		"style":    sectionStyle(req.SectionType),
		"question": req.Prompt,
	})
	if err != nil {
		writeError(w, kindForError(err), "section generation failed")
		return
	}
	if out.Failed() {
		writeError(w, ErrBackend, out.Error)
		return
	}
	content, _ := out.Result.(string)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"content": content},
	})
}

func sectionStyle(sectionType string) string {
	switch strings.ToLower(sectionType) {
	case "executive", "summary", "overview":
		return "executive"
	case "technical", "progress", "detail":
		return "technical"
	default:
		return "brief"
	}
}

type textToSQLRequest struct {
	Question  string `json:"question"`
	ProjectID string `json:"project_id"`
	UserRole  string `json:"user_role"`
	UserID    string `json:"user_id"`
}

func (s *Server) handleTextToSQL(w http.ResponseWriter, r *http.Request) {
	var req textToSQLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ErrInput, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, ErrInput, "question is required")
		return
	}
	if s.deps.Pipeline == nil {
		writeError(w, ErrBackend, "query pipeline is not configured")
		return
	}

	tr := s.deps.Pipeline.Translate(r.Context(), req.Question, req.ProjectID, req.UserRole)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     tr.Success,
		"sql":         tr.Query,
		"explanation": tr.Explanation,
		"confidence":  tr.Confidence,
	})
}

type criticalPathRequest struct {
	Items            []map[string]any `json:"items"`
	Dependencies     []map[string]any `json:"dependencies"`
	ProjectStartDate string           `json:"projectStartDate"`
}

func (s *Server) handleCriticalPath(w http.ResponseWriter, r *http.Request) {
	var req criticalPathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ErrInput, "invalid JSON body")
		return
	}
	if s.deps.Skills == nil {
		writeError(w, ErrBackend, "skills are not configured")
		return
	}

	out, err := s.deps.Skills.Execute(r.Context(), "critical-path", map[string]any{
		"items":              req.Items,
		"dependencies":       req.Dependencies,
		"project_start_date": req.ProjectStartDate,
	})
	if err != nil {
		writeError(w, kindForError(err), "critical path analysis failed")
		return
	}
	if out.Failed() {
		writeError(w, ErrInput, out.Error)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    out.Result,
	})
}

// writeWorkflowFailure maps a failed run onto the error taxonomy. Returns
// false when a response was already written.
func writeWorkflowFailure(w http.ResponseWriter, final workflow.State) bool {
	if final.Status == workflow.StatusWaitingApproval {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       false,
			"status":        string(final.Status),
			"clarification": final.Result["clarification"],
			"reason":        final.Result["reason"],
		})
		return false
	}
	if final.Status != workflow.StatusFailed {
		return true
	}

	kind := ErrInternal
	message := "workflow failed"
	if final.Failure != nil {
		message = final.Failure.Detail
		switch final.Failure.Type {
		case workflow.FailureInfoMissing:
			kind = ErrInput
		case workflow.FailurePolicyViolation:
			kind = ErrPolicy
		case workflow.FailureDataBoundary:
			kind = ErrAccess
		case workflow.FailureToolError:
			kind = ErrBackend
		}
	}
	if denied, _ := final.Result["denied_reason"].(string); denied != "" {
		message = denied
	}
	writeError(w, kind, message)
	return false
}
