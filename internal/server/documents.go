package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/retrieval"
)

// maxChunkChars bounds one embedded chunk; splitting happens on paragraph
// boundaries first and falls back to a hard cut.
const maxChunkChars = 1200

type ingestDocument struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

type ingestRequest struct {
	Documents []ingestDocument `json:"documents"`
}

func (s *Server) handleIngestDocuments(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ErrInput, "invalid JSON body")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, ErrInput, "documents are required")
		return
	}
	if s.deps.Retrieval == nil {
		writeError(w, ErrBackend, "document store is not configured")
		return
	}

	log := logging.L(logging.CategoryServer)
	successCount := 0
	for _, d := range req.Documents {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		doc := documentFromIngest(d)
		if err := s.deps.Retrieval.AddDocument(r.Context(), doc, splitContent(d.Content)); err != nil {
			log.Warn("document ingest failed", zap.String("doc_id", doc.DocID), zap.Error(err))
			continue
		}
		successCount++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success_count": successCount,
		"total":         len(req.Documents),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, ErrBackend, "document store is not configured")
		return
	}
	doc, err := s.deps.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			writeError(w, ErrNotFound, "document not found")
			return
		}
		writeError(w, kindForError(err), "document lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, ErrBackend, "document store is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			writeError(w, ErrNotFound, "document not found")
			return
		}
		writeError(w, kindForError(err), "document delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "doc_id": id})
}

func (s *Server) handlePatchDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, ErrBackend, "document store is not configured")
		return
	}
	var fields map[string]any
	if err := decodeJSON(r, &fields); err != nil || len(fields) == 0 {
		writeError(w, ErrInput, "a non-empty field map is required")
		return
	}
	updated, err := s.deps.Store.UpdateDocumentMetadata(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			writeError(w, ErrNotFound, "document not found")
			return
		}
		writeError(w, kindForError(err), "document update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated_fields": updated})
}

type searchRequest struct {
	Query           string `json:"query"`
	TopK            int    `json:"top_k"`
	ProjectID       string `json:"project_id"`
	UserRole        string `json:"user_role"`
	UserAccessLevel *int   `json:"user_access_level"`
	GraphExpansion  bool   `json:"graph_expansion"`
}

func (s *Server) handleSearchDocuments(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ErrInput, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, ErrInput, "query is required")
		return
	}
	if s.deps.Retrieval == nil {
		writeError(w, ErrBackend, "document store is not configured")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	level := accessLevel(req.UserRole, req.UserAccessLevel)
	results, err := s.deps.Retrieval.Search(r.Context(), req.Query, req.TopK, retrieval.Filter{
		ProjectID:       req.ProjectID,
		UserAccessLevel: level,
	}, req.GraphExpansion)
	if err != nil {
		writeError(w, kindForError(err), "search failed")
		return
	}
	if results == nil {
		results = []retrieval.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"access_control": map[string]any{
			"user_role":         req.UserRole,
			"user_access_level": level,
		},
	})
}

func (s *Server) handleRAGStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Retrieval == nil {
		writeError(w, ErrBackend, "document store is not configured")
		return
	}
	stats, err := s.deps.Retrieval.Stats(r.Context())
	if err != nil {
		writeError(w, kindForError(err), "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRAGHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Retrieval == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "disabled"})
		return
	}
	if _, err := s.deps.Retrieval.Stats(r.Context()); err != nil {
		writeError(w, ErrBackend, "graph store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func documentFromIngest(d ingestDocument) graph.Document {
	doc := graph.Document{
		DocID:       d.ID,
		ProjectID:   graph.DefaultProjectID,
		AccessLevel: retrieval.LevelMember,
		Metadata:    d.Metadata,
	}
	if doc.DocID == "" {
		doc.DocID = uuid.NewString()
	}
	if title, _ := d.Metadata["title"].(string); title != "" {
		doc.Title = title
	}
	if pid, _ := d.Metadata["project_id"].(string); pid != "" {
		doc.ProjectID = pid
	}
	if category, _ := d.Metadata["category"].(string); category != "" {
		doc.Category = category
	}
	if level, ok := d.Metadata["access_level"].(float64); ok {
		doc.AccessLevel = int(level)
	}
	return doc
}

// splitContent cuts document text into chunks on blank-line boundaries,
// packing paragraphs up to the chunk cap.
func splitContent(content string) []string {
	paragraphs := strings.Split(content, "\n\n")
	var chunks []string
	var current strings.Builder
	flush := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			chunks = append(chunks, text)
		}
		current.Reset()
	}
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		for len(p) > maxChunkChars {
			flush()
			chunks = append(chunks, p[:maxChunkChars])
			p = p[maxChunkChars:]
		}
		if current.Len() > 0 && current.Len()+len(p)+2 > maxChunkChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()
	return chunks
}
