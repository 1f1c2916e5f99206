// Package retrieval provides embedding-based search over project-partitioned
// document chunks with graph expansion and access-control filtering.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/embedding"
	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// OverFetchFactor absorbs ACL filtering losses: the vector lookup fetches
// this many times top_k before filtering.
const OverFetchFactor = 3

// DefaultScoreThreshold drops chunks below this similarity.
const DefaultScoreThreshold = 0.3

// Filter restricts a search to the caller's reach.
type Filter struct {
	ProjectID       string
	UserAccessLevel int
	Category        string
}

// Result is one retrieved chunk with optional expansion payload.
type Result struct {
	graph.ScoredChunk
	DocTitle    string           `json:"doc_title,omitempty"`
	RelatedDocs []graph.Document `json:"related_docs,omitempty"`
}

// Options configures the service.
type Options struct {
	ScoreThreshold float64

	// StrategyOverride forces "graph" or "vector" expansion mode for every
	// request; empty lets the per-request heuristic decide.
	StrategyOverride string
}

// Service searches the chunk index under ACL rules.
type Service struct {
	store  graph.Store
	engine embedding.Engine
	opts   Options
}

// NewService builds a retrieval service.
func NewService(store graph.Store, engine embedding.Engine, opts Options) *Service {
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = DefaultScoreThreshold
	}
	return &Service{store: store, engine: engine, opts: opts}
}

// Search embeds the query, over-fetches from the vector index, applies the
// project/ACL filter at chunk and document level, optionally expands hits
// along the chunk chain and category neighbours, and truncates to topK.
// An empty result is a valid semantic signal, not an error.
func (s *Service) Search(ctx context.Context, queryText string, topK int, filter Filter, graphExpansion bool) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}
	log := logging.L(logging.CategoryRetrieval)

	queryVec, err := s.engine.Embed(ctx, embedding.ForQuery(queryText))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := s.store.SearchChunks(ctx, queryVec, topK*OverFetchFactor)
	if err != nil {
		return nil, fmt.Errorf("vector lookup: %w", err)
	}
	if len(candidates) > 0 {
		log.Debug("top retrieval score",
			zap.Float64("score", candidates[0].Score),
			zap.Int("candidates", len(candidates)))
	}

	docCache := make(map[string]*graph.Document)
	var out []Result
	for _, c := range candidates {
		if len(out) >= topK {
			break
		}
		if c.Score < s.opts.ScoreThreshold {
			continue
		}
		if !chunkVisible(c.Chunk, filter) {
			continue
		}

		// the parent document must pass the same ACL rule
		doc, ok := docCache[c.DocID]
		if !ok {
			doc, err = s.store.GetDocument(ctx, c.DocID)
			if err != nil {
				continue
			}
			docCache[c.DocID] = doc
		}
		if !docVisible(*doc, filter) {
			continue
		}
		if filter.Category != "" && doc.Category != filter.Category {
			continue
		}

		r := Result{ScoredChunk: c, DocTitle: doc.Title}
		if graphExpansion {
			s.expand(ctx, &r, doc, filter)
		}
		out = append(out, r)
	}
	return out, nil
}

// expand attaches NEXT_CHUNK neighbours and up to three recent documents in
// the same category. Expansion content is subject to the same ACL cap.
func (s *Service) expand(ctx context.Context, r *Result, doc *graph.Document, filter Filter) {
	prev, next, err := s.store.NeighborChunks(ctx, r.ChunkID)
	if err == nil {
		if prev != nil && chunkVisible(*prev, filter) {
			r.PrevContent = prev.Content
		}
		if next != nil && chunkVisible(*next, filter) {
			r.NextContent = next.Content
		}
	}

	if doc.Category == "" {
		return
	}
	recents, err := s.store.RecentCategoryDocuments(ctx, doc.Category, doc.DocID, 3)
	if err != nil {
		return
	}
	for _, rd := range recents {
		if docVisible(rd, filter) {
			r.RelatedDocs = append(r.RelatedDocs, rd)
		}
	}
}

func chunkVisible(c graph.Chunk, f Filter) bool {
	if c.AccessLevel > f.UserAccessLevel {
		return false
	}
	return c.ProjectID == f.ProjectID || c.ProjectID == graph.DefaultProjectID
}

func docVisible(d graph.Document, f Filter) bool {
	if d.AccessLevel > f.UserAccessLevel {
		return false
	}
	return d.ProjectID == f.ProjectID || d.ProjectID == graph.DefaultProjectID
}

// AddDocument embeds and stores a document's chunks.
func (s *Service) AddDocument(ctx context.Context, doc graph.Document, contents []string) error {
	chunks := make([]graph.Chunk, len(contents))
	for i, content := range contents {
		vec, err := s.engine.Embed(ctx, embedding.ForDocument(content))
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", i, err)
		}
		chunks[i] = graph.Chunk{
			ChunkIndex: i,
			Content:    content,
			Embedding:  vec,
			HasTable:   strings.Contains(content, "|"),
			HasList:    strings.Contains(content, "\n- "),
		}
	}
	return s.store.UpsertDocument(ctx, doc, chunks)
}

// DeleteDocument removes a document.
func (s *Service) DeleteDocument(ctx context.Context, docID string) error {
	return s.store.DeleteDocument(ctx, docID)
}

// Stats reports store-level counts.
func (s *Service) Stats(ctx context.Context) (map[string]int64, error) {
	return s.store.Stats(ctx)
}
