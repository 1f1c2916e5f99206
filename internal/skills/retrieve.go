package skills

import (
	"context"
	"fmt"
	"time"

	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/retrieval"
	"github.com/DanielHyeon/pms-ic-sub000/internal/tools"
)

const (
	defaultRetrieveTopK  = 5
	retrieveQueryTimeout = 10 * time.Second
	retrieveRowCap       = 100
)

// RetrieveDocs builds the retrieve-docs skill over the retrieval service.
// Input: query, project_id, user_access_level, top_k?, category?.
func RetrieveDocs(svc *retrieval.Service) *Skill {
	return &Skill{
		Name:        "retrieve-docs",
		Category:    CategoryRetrieve,
		Version:     "1.0",
		Description: "semantic document search with access control",
		InputSchema: tools.ToolSchema{
			Required: []string{"query", "project_id"},
			Properties: map[string]tools.Property{
				"query":             {Type: "string", Description: "natural language query"},
				"project_id":        {Type: "string", Description: "tenant project id"},
				"user_access_level": {Type: "number", Description: "caller clearance"},
				"top_k":             {Type: "number", Description: "result count cap"},
				"category":          {Type: "string", Description: "optional document category filter"},
			},
		},
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			return searchDocs(ctx, svc, input, false)
		},
	}
}

// RetrieveGraph builds the retrieve-graph skill: the same search with graph
// expansion on, pulling neighbour chunks and related documents.
func RetrieveGraph(svc *retrieval.Service) *Skill {
	return &Skill{
		Name:        "retrieve-graph",
		Category:    CategoryRetrieve,
		Version:     "1.0",
		Description: "graph-expanded document search for relationship questions",
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			return searchDocs(ctx, svc, input, true)
		},
	}
}

// RetrieveMetrics builds the retrieve-metrics skill over the graph store's
// read path. Input: query (bound read statement), params?, project_id.
func RetrieveMetrics(store graph.Store) *Skill {
	return &Skill{
		Name:        "retrieve-metrics",
		Category:    CategoryRetrieve,
		Version:     "1.0",
		Description: "project metric lookup through the read-only store path",
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			if store == nil {
				return &Output{Error: "metric store is not configured"}, nil
			}
			q := stringArg(input, "query")
			if q == "" {
				return &Output{Error: "query is required"}, nil
			}
			params, _ := input["params"].(map[string]any)
			if params == nil {
				params = map[string]any{}
			}
			if pid := stringArg(input, "project_id"); pid != "" {
				params["project_id"] = pid
			}

			res, err := store.ExecuteRead(ctx, q, params, retrieveQueryTimeout, retrieveRowCap)
			if err != nil {
				return &Output{Error: err.Error()}, nil
			}
			out := &Output{
				Result:     res.Rows,
				Confidence: 1.0,
				Metadata: map[string]any{
					"columns":   res.Columns,
					"row_count": len(res.Rows),
					"truncated": res.Truncated,
				},
			}
			return out, nil
		},
	}
}

func searchDocs(ctx context.Context, svc *retrieval.Service, input map[string]any, expand bool) (*Output, error) {
	if svc == nil {
		return &Output{Error: "retrieval service is not configured"}, nil
	}
	query := stringArg(input, "query")
	projectID := stringArg(input, "project_id")
	if query == "" || projectID == "" {
		return &Output{Error: "query and project_id are required"}, nil
	}

	filter := retrieval.Filter{
		ProjectID:       projectID,
		UserAccessLevel: intArg(input, "user_access_level", 0),
		Category:        stringArg(input, "category"),
	}
	topK := intArg(input, "top_k", defaultRetrieveTopK)

	results, err := svc.Search(ctx, query, topK, filter, expand)
	if err != nil {
		return &Output{Error: fmt.Sprintf("retrieval failed: %v", err)}, nil
	}

	chunks := make([]map[string]any, 0, len(results))
	evidence := make([]Evidence, 0, len(results))
	var scoreSum float64
	for _, r := range results {
		entry := map[string]any{
			"chunk_id":  r.ChunkID,
			"doc_id":    r.DocID,
			"doc_title": r.DocTitle,
			"content":   r.Content,
			"score":     r.Score,
		}
		if expand {
			if r.PrevContent != "" {
				entry["prev_content"] = r.PrevContent
			}
			if r.NextContent != "" {
				entry["next_content"] = r.NextContent
			}
			if len(r.RelatedDocs) > 0 {
				related := make([]map[string]any, 0, len(r.RelatedDocs))
				for _, d := range r.RelatedDocs {
					related = append(related, map[string]any{
						"doc_id": d.DocID, "title": d.Title, "category": d.Category,
					})
				}
				entry["related_docs"] = related
			}
		}
		chunks = append(chunks, entry)
		evidence = append(evidence, Evidence{
			SourceType: "document",
			SourceID:   r.ChunkID,
			Title:      r.DocTitle,
			Relevance:  r.Score,
		})
		scoreSum += r.Score
	}

	out := &Output{
		Result:   chunks,
		Evidence: evidence,
		Metadata: map[string]any{"count": len(chunks), "graph_expansion": expand},
	}
	if len(results) > 0 {
		out.Confidence = scoreSum / float64(len(results))
	}
	return out, nil
}
