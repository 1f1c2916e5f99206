// Package server exposes the assistant engine over HTTP: the chat surface,
// an OpenAI-compatible completion shim, document ingestion and retrieval,
// the workflow endpoints, and the monitoring snapshot.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/observability"
	"github.com/DanielHyeon/pms-ic-sub000/internal/retrieval"
	"github.com/DanielHyeon/pms-ic-sub000/internal/skills"
	"github.com/DanielHyeon/pms-ic-sub000/internal/tools"
	"github.com/DanielHyeon/pms-ic-sub000/internal/workflow"
)

// DefaultRequestTimeout bounds one request end to end, LLM calls included.
const DefaultRequestTimeout = 60 * time.Second

// Deps carries every backend the handlers reach. Any field may be nil; the
// handlers degrade per endpoint rather than failing at construction.
type Deps struct {
	Pipeline  *workflow.Pipeline
	Engine    *workflow.Engine
	Templates *workflow.Templates
	Skills    *skills.Registry
	Retrieval *retrieval.Service
	Store     graph.Store
	Gateway   *tools.Gateway

	FastLLM    llm.Client
	QualityLLM llm.Client

	Collector *observability.Collector
	Costs     *observability.CostTracker
}

// Options tunes the HTTP layer.
type Options struct {
	RequestTimeout time.Duration
}

// Server is the HTTP front of the engine.
type Server struct {
	deps Deps
	opts Options
}

// New builds a server over the given dependencies.
func New(deps Deps, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	return &Server{deps: deps, opts: opts}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))

	r.Post("/api/chat/v2", s.handleChatV2)

	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Get("/v1/models", s.handleListModels)

	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/", s.handleIngestDocuments)
		r.Post("/search", s.handleSearchDocuments)
		r.Get("/{id}", s.handleGetDocument)
		r.Delete("/{id}", s.handleDeleteDocument)
		r.Patch("/{id}", s.handlePatchDocument)
	})

	r.Post("/api/rfp/extract", s.handleRFPExtract)
	r.Post("/api/ai/briefing/generate", s.handleBriefing)
	r.Post("/api/report/generate-section", s.handleReportSection)
	r.Post("/api/report/text-to-sql", s.handleTextToSQL)
	r.Post("/api/wbs/critical-path", s.handleCriticalPath)

	r.Route("/api/admin/rag", func(r chi.Router) {
		r.Get("/stats", s.handleRAGStats)
		r.Get("/health", s.handleRAGHealth)
	})

	r.Get("/api/admin/tools", s.handleToolCapabilities)

	r.Get("/api/monitoring/metrics", s.handleMetrics)
	r.Get("/healthz", s.handleHealthz)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
