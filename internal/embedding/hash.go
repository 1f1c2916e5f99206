package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEngine is a deterministic, dependency-free embedding engine. Each token
// hashes into a handful of dimensions; vectors are L2-normalised. It captures
// lexical overlap only, which is enough for the keyword-fallback retrieval
// paths and for hermetic tests.
type HashEngine struct {
	dims int
}

// NewHashEngine creates a hash engine with the given dimensionality
// (default 384).
func NewHashEngine(dims int) *HashEngine {
	if dims <= 0 {
		dims = 384
	}
	return &HashEngine{dims: dims}
}

// Embed produces a deterministic vector for the text.
func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)

	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		// spread each token over 4 dimensions with alternating sign
		for k := 0; k < 4; k++ {
			idx := int((sum >> (k * 16)) % uint64(e.dims))
			sign := float32(1)
			if (sum>>(k*16+15))&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}

	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag > 0 {
		norm := float32(math.Sqrt(mag))
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// EmbedBatch embeds all texts.
func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the configured dimensionality.
func (e *HashEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *HashEngine) Name() string { return "hash" }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
