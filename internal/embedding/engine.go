// Package embedding provides vector embedding generation for semantic search.
// Supports multiple backends: Ollama (local), Google GenAI (cloud), and a
// deterministic hash engine used when no backend is reachable.
package embedding

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// HealthChecker is an optional interface for engines that support health
// checks before batch operations.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// QueryPrefix is prepended to search queries so they embed in the same space
// as documents ingested with DocumentPrefix. Asymmetric-retrieval convention
// used by embeddinggemma and gemini embedding models.
const (
	QueryPrefix    = "task: search result | query: "
	DocumentPrefix = "title: none | text: "
)

// ForQuery applies the query-side prefix.
func ForQuery(text string) string { return QueryPrefix + text }

// ForDocument applies the document-side prefix.
func ForDocument(text string) string { return DocumentPrefix + text }

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "ollama", "genai" or "hash".
	Provider string

	OllamaEndpoint string
	OllamaModel    string

	GenAIAPIKey string
	GenAIModel  string
	TaskType    string

	// Dimensions is used by the hash engine.
	Dimensions int
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (Engine, error) {
	log := logging.L(logging.CategoryEmbedding)
	log.Info("creating embedding engine", zap.String("provider", cfg.Provider))

	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	case "hash", "":
		return NewHashEngine(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama', 'genai' or 'hash')", cfg.Provider)
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns an error when dimensions differ or a vector has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	if magA == 0 || magB == 0 {
		return 0, fmt.Errorf("zero magnitude vector")
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
