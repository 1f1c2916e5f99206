package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/DanielHyeon/pms-ic-sub000/internal/intent"
	"github.com/DanielHyeon/pms-ic-sub000/internal/retrieval"
	"github.com/DanielHyeon/pms-ic-sub000/internal/workflow"
)

// Track names the route a chat request took through the engine.
const (
	TrackTextToQuery = "text_to_query"
	TrackKnowledge   = "knowledge_qa"
	TrackGuard       = "guard"
	TrackGeneral     = "general"
)

type chatRequest struct {
	Message         string   `json:"message"`
	Context         []string `json:"context"`
	RetrievedDocs   any      `json:"retrieved_docs"`
	ProjectID       string   `json:"project_id"`
	UserRole        string   `json:"user_role"`
	UserAccessLevel *int     `json:"user_access_level"`
}

type chatResponse struct {
	Reply      string         `json:"reply"`
	Confidence float64        `json:"confidence"`
	Track      string         `json:"track"`
	Metadata   map[string]any `json:"metadata"`
}

// handleChatV2 is the main Q&A entry. Data questions run the text-to-query
// pipeline; general questions with document grounding run the knowledge
// path; guard intents stop before any backend call.
func (s *Server) handleChatV2(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ErrInput, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, ErrInput, "message is required")
		return
	}
	if s.deps.Pipeline == nil {
		writeError(w, ErrBackend, "query pipeline is not configured")
		return
	}

	level := accessLevel(req.UserRole, req.UserAccessLevel)
	docs := normalizeRetrievedDocs(req.RetrievedDocs)

	ans := s.deps.Pipeline.Ask(r.Context(), req.Message, strings.Join(req.Context, "\n"), req.ProjectID, req.UserRole)

	switch intent.Intent(ans.Intent) {
	case intent.General:
		if resp, ok := s.answerFromKnowledge(r, req, docs, level); ok {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{
			Reply:      ans.Reply,
			Confidence: ans.Confidence,
			Track:      TrackGeneral,
			Metadata:   chatMetadata(ans),
		})
		return

	case intent.OutOfScope, intent.ClarificationNeeded:
		writeJSON(w, http.StatusOK, chatResponse{
			Reply:      ans.Reply,
			Confidence: ans.Confidence,
			Track:      TrackGuard,
			Metadata:   chatMetadata(ans),
		})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Reply:      ans.Reply,
		Confidence: ans.Confidence,
		Track:      TrackTextToQuery,
		Metadata:   chatMetadata(ans),
	})
}

// answerFromKnowledge runs the document-grounded path. With caller-supplied
// docs the retrieval step is already done, so the summarise and evidence
// skills run directly; otherwise the full knowledge template runs.
func (s *Server) answerFromKnowledge(r *http.Request, req chatRequest, docs []map[string]any, level int) (chatResponse, bool) {
	if len(docs) > 0 && s.deps.Skills != nil {
		return s.answerFromSuppliedDocs(r, req, docs)
	}
	if s.deps.Engine == nil || s.deps.Templates == nil {
		return chatResponse{}, false
	}

	final := s.deps.Engine.Run(r.Context(), s.deps.Templates.KnowledgeQA(), workflow.State{
		RunID:     uuid.NewString(),
		ProjectID: req.ProjectID,
		Role:      req.UserRole,
		Status:    workflow.StatusRunning,
		Data: map[string]any{
			"question":          req.Message,
			"user_access_level": level,
		},
	})

	reply, _ := final.Result["reply"].(string)
	if reply == "" {
		return chatResponse{}, false
	}
	meta := map[string]any{
		"status":   string(final.Status),
		"mode":     string(final.Mode),
		"evidence": final.Evidence,
	}
	if honest, _ := final.Result["honest"].(bool); honest {
		meta["insufficient_evidence"] = true
	}
	return chatResponse{
		Reply:      reply,
		Confidence: final.Confidence,
		Track:      TrackKnowledge,
		Metadata:   meta,
	}, true
}

func (s *Server) answerFromSuppliedDocs(r *http.Request, req chatRequest, docs []map[string]any) (chatResponse, bool) {
	summary, err := s.deps.Skills.Execute(r.Context(), "generate-summary", map[string]any{
		"chunks":   docs,
		"style":    "brief",
		"question": req.Message,
	})
	if err != nil || summary.Failed() {
		return chatResponse{}, false
	}
	draft, _ := summary.Result.(string)

	verdictOut, err := s.deps.Skills.Execute(r.Context(), "validate-evidence", map[string]any{
		"claims": draft,
		"chunks": docs,
	})
	supported := false
	if err == nil && !verdictOut.Failed() {
		if verdict, ok := verdictOut.Result.(map[string]any); ok {
			supported, _ = verdict["all_supported"].(bool)
		}
	}
	meta := map[string]any{"status": string(workflow.StatusCompleted), "evidence": summary.Evidence}
	if !supported {
		meta["insufficient_evidence"] = true
		return chatResponse{
			Reply:      "insufficient evidence: no retrieved source supports an answer to this question",
			Confidence: 0.3,
			Track:      TrackKnowledge,
			Metadata:   meta,
		}, true
	}
	conf := summary.Confidence
	if verdictOut.Confidence > 0 && verdictOut.Confidence < conf {
		conf = verdictOut.Confidence
	}
	return chatResponse{Reply: draft, Confidence: conf, Track: TrackKnowledge, Metadata: meta}, true
}

func chatMetadata(ans *workflow.Answer) map[string]any {
	meta := map[string]any{
		"intent":              ans.Intent,
		"status":              string(ans.Status),
		"correction_attempts": ans.CorrectionAttempts,
		"duration_ms":         ans.DurationMS,
	}
	if ans.Query != "" {
		meta["query"] = ans.Query
	}
	if len(ans.Warnings) > 0 {
		meta["warnings"] = ans.Warnings
	}
	if len(ans.Rows) > 0 {
		meta["row_count"] = len(ans.Rows)
	}
	return meta
}

// accessLevel resolves the caller's document visibility. An explicit level
// can narrow what the role allows but never widen it.
func accessLevel(role string, requested *int) int {
	level := retrieval.AccessLevelForRole(role)
	if requested != nil && *requested < level {
		level = *requested
	}
	return level
}

// normalizeRetrievedDocs accepts the shapes clients actually send: a list of
// strings, a list of {content, …} maps, a single string, or a single map.
func normalizeRetrievedDocs(v any) []map[string]any {
	var docs []map[string]any
	add := func(item any) {
		switch d := item.(type) {
		case string:
			if strings.TrimSpace(d) != "" {
				docs = append(docs, map[string]any{"content": d})
			}
		case map[string]any:
			if content, _ := d["content"].(string); strings.TrimSpace(content) != "" {
				docs = append(docs, d)
			} else if text, _ := d["text"].(string); strings.TrimSpace(text) != "" {
				d["content"] = text
				docs = append(docs, d)
			}
		}
	}
	switch list := v.(type) {
	case nil:
		return nil
	case []any:
		for _, item := range list {
			add(item)
		}
	case []string:
		for _, item := range list {
			add(item)
		}
	default:
		add(v)
	}
	return docs
}
