// Package graph defines the narrow interface to the graph-shaped document
// store (projects, documents, chunks, categories and their relationships)
// plus an embedded sqlite-backed implementation. The rest of the system only
// depends on the Store interface, so a server-class graph database can be
// swapped in behind it.
package graph

import (
	"context"
	"time"
)

// Node labels and relationship types persisted by the store.
const (
	LabelProject  = "Project"
	LabelDocument = "Document"
	LabelChunk    = "Chunk"
	LabelCategory = "Category"

	RelHasDocument = "HAS_DOCUMENT"
	RelHasChunk    = "HAS_CHUNK"
	RelBelongsTo   = "BELONGS_TO"
	RelNextChunk   = "NEXT_CHUNK"
)

// DefaultProjectID marks global documents readable from any project within
// the caller's access-level cap.
const DefaultProjectID = "default"

// Document is a stored document node.
type Document struct {
	DocID       string         `json:"doc_id"`
	Title       string         `json:"title"`
	ProjectID   string         `json:"project_id"`
	AccessLevel int            `json:"access_level"`
	Category    string         `json:"category,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Chunk is one embedded slice of a document. project_id and access_level are
// carried redundantly from the parent document so ACL filtering is single-hop.
type Chunk struct {
	ChunkID      string    `json:"chunk_id"`
	DocID        string    `json:"doc_id"`
	ProjectID    string    `json:"project_id"`
	AccessLevel  int       `json:"access_level"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"-"`
	HasTable     bool      `json:"has_table,omitempty"`
	HasList      bool      `json:"has_list,omitempty"`
	SectionTitle string    `json:"section_title,omitempty"`
	PageNumber   int       `json:"page_number,omitempty"`
}

// ScoredChunk pairs a chunk with its similarity score.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`

	// Expansion payload, filled when graph expansion is on.
	PrevContent string `json:"prev_content,omitempty"`
	NextContent string `json:"next_content,omitempty"`
}

// SchemaInfo describes the stored labels and relationship types. Tables
// carries the physical, queryable table names; ExecuteRead and the query
// validator work against those, not the label names.
type SchemaInfo struct {
	Labels        map[string]map[string]string `json:"labels"`        // label -> property -> type
	Tables        map[string]map[string]string `json:"tables"`        // table -> column -> type
	Relationships []RelationshipInfo           `json:"relationships"` // declared edge types
}

// RelationshipInfo describes one relationship type.
type RelationshipInfo struct {
	Type       string            `json:"type"`
	StartLabel string            `json:"start_label"`
	EndLabel   string            `json:"end_label"`
	Properties map[string]string `json:"properties,omitempty"`
}

// QueryResult carries rows from a read query against the store.
type QueryResult struct {
	Columns   []string
	Rows      []map[string]any
	Truncated bool
}

// Store is the narrow graph-store interface consumed by retrieval, the schema
// catalog, the validator and the executor.
type Store interface {
	// UpsertDocument stores a document and its chunks, replacing any prior
	// version. Chunk project_id/access_level are forced to the document's.
	UpsertDocument(ctx context.Context, doc Document, chunks []Chunk) error

	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, docID string) error

	// GetDocument fetches one document.
	GetDocument(ctx context.Context, docID string) (*Document, error)

	// UpdateDocumentMetadata patches metadata fields, returning the updated keys.
	UpdateDocumentMetadata(ctx context.Context, docID string, fields map[string]any) ([]string, error)

	// SearchChunks returns the chunks nearest to the query embedding,
	// best first. No ACL filtering happens here; that is the retrieval
	// service's job.
	SearchChunks(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredChunk, error)

	// NeighborChunks resolves the NEXT_CHUNK chain around a chunk.
	NeighborChunks(ctx context.Context, chunkID string) (prev, next *Chunk, err error)

	// RecentCategoryDocuments lists up to limit recent documents sharing a
	// category, excluding excludeDoc.
	RecentCategoryDocuments(ctx context.Context, category, excludeDoc string, limit int) ([]Document, error)

	// Schema introspects labels and relationship types.
	Schema(ctx context.Context) (*SchemaInfo, error)

	// CheckQuery runs a parse-only check of a read query.
	CheckQuery(ctx context.Context, q string) error

	// ExecuteRead runs a read query with bound parameters under a timeout
	// and row cap.
	ExecuteRead(ctx context.Context, q string, params map[string]any, timeout time.Duration, rowCap int) (*QueryResult, error)

	// Stats returns node counts by label.
	Stats(ctx context.Context) (map[string]int64, error)

	Close() error
}
