// Package llm provides the text-generation boundary: a minimal client
// interface, a Google GenAI backed implementation, a deterministic stub for
// tests, and a structured-output layer that coerces model responses into
// JSON-schema-shaped Go values.
package llm

import (
	"context"
	"errors"
)

// Client is the minimal interface components use to call an LLM.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Model returns the normalised model name for cost accounting.
	Model() string
}

// Usage captures token counts for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageSink receives token usage after each call. The cost tracker implements
// this; a nil sink is always safe.
type UsageSink interface {
	RecordUsage(model, operation string, u Usage)
}

// ErrBackendUnavailable marks transport-level failures so callers can map to
// their own degraded paths.
var ErrBackendUnavailable = errors.New("llm backend unavailable")

// Track selects between the lightweight fast model and the heavier quality
// model. Selection lives in the workflow router; everything downstream is
// model-agnostic.
type Track string

const (
	TrackFast    Track = "fast"
	TrackQuality Track = "quality"
)

// Router holds the two-tier model pair.
type Router struct {
	fast    Client
	quality Client
}

// NewRouter builds a router. Either client may be nil; Pick falls back to the
// other tier.
func NewRouter(fast, quality Client) *Router {
	return &Router{fast: fast, quality: quality}
}

// Pick returns the client for a track, falling back across tiers when one is
// not configured.
func (r *Router) Pick(track Track) Client {
	switch track {
	case TrackFast:
		if r.fast != nil {
			return r.fast
		}
		return r.quality
	default:
		if r.quality != nil {
			return r.quality
		}
		return r.fast
	}
}
