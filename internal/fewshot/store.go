// Package fewshot stores (question, query) exemplars and retrieves the most
// similar ones to bias query generation toward known-good output. Learned
// examples are verified only after repeated success.
package fewshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/embedding"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
)

// AutoVerifyThreshold is the success count at which a learned example is
// marked verified.
const AutoVerifyThreshold = 3

// LearnSimilarityFloor is the minimum similarity for learn-from-success to
// bump an existing example instead of inserting a new one.
const LearnSimilarityFloor = 0.85

// Example is one stored exemplar.
type Example struct {
	ID           string     `json:"id"`
	Question     string     `json:"question"`
	Query        string     `json:"query"`
	Kind         query.Kind `json:"kind"`
	Keywords     []string   `json:"keywords,omitempty"`
	TargetTables []string   `json:"target_tables,omitempty"`
	Embedding    []float32  `json:"-"`
	Verified     bool       `json:"verified"`
	SuccessCount int        `json:"success_count"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Scored pairs an example with its similarity to a question.
type Scored struct {
	Example
	Score float64 `json:"score"`
}

// Stats summarises the store.
type Stats struct {
	Total      int `json:"total"`
	Verified   int `json:"verified"`
	Relational int `json:"relational"`
	Graph      int `json:"graph"`
}

// Store holds examples in memory, embedding-indexed when an engine is
// available and keyword-scored otherwise. Mutations are append-mostly and
// idempotent by id.
type Store struct {
	mu       sync.RWMutex
	examples map[string]*Example
	engine   embedding.Engine
}

// NewStore creates a store. engine may be nil; similarity then falls back to
// keyword overlap.
func NewStore(engine embedding.Engine) *Store {
	s := &Store{
		examples: make(map[string]*Example),
		engine:   engine,
	}
	s.seed()
	return s
}

// ExampleID derives the deterministic id for a question.
func ExampleID(question string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(question))))
	return hex.EncodeToString(sum[:16])
}

// Add inserts an example. Calling it again with the same question bumps
// success_count instead of duplicating.
func (s *Store) Add(ctx context.Context, question, q string, kind query.Kind, keywords, targetTables []string, verified bool) *Example {
	id := ExampleID(question)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.examples[id]; ok {
		existing.SuccessCount++
		s.maybeVerifyLocked(existing)
		return existing
	}

	ex := &Example{
		ID:           id,
		Question:     question,
		Query:        strings.TrimSpace(q),
		Kind:         kind,
		Keywords:     keywords,
		TargetTables: targetTables,
		Verified:     verified,
		CreatedAt:    time.Now().UTC(),
	}
	if s.engine != nil {
		if vec, err := s.engine.Embed(ctx, question); err == nil {
			ex.Embedding = vec
		}
	}
	s.examples[id] = ex
	return ex
}

// FindSimilar returns up to k examples of the given kind ranked by similarity
// to the question, filtered by minScore and optionally by verification.
func (s *Store) FindSimilar(ctx context.Context, question string, kind query.Kind, k int, verifiedOnly bool, minScore float64) []Scored {
	if k <= 0 {
		k = 3
	}

	var queryVec []float32
	if s.engine != nil {
		if vec, err := s.engine.Embed(ctx, question); err == nil {
			queryVec = vec
		} else {
			logging.L(logging.CategoryFewShot).Debug("embedding unavailable, keyword fallback", zap.Error(err))
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Scored
	for _, ex := range s.examples {
		if ex.Kind != kind {
			continue
		}
		if verifiedOnly && !ex.Verified {
			continue
		}
		score := s.similarityLocked(question, queryVec, ex)
		if score < minScore {
			continue
		}
		out = append(out, Scored{Example: *ex, Score: score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// LearnFromSuccess records a successful run. A near-duplicate of an existing
// example (similarity >= 0.85 and identical query) bumps its success count;
// anything else inserts a new unverified example. Idempotent per id.
func (s *Store) LearnFromSuccess(ctx context.Context, question, q string, kind query.Kind, targetTables []string) {
	q = strings.TrimSpace(q)

	var queryVec []float32
	if s.engine != nil {
		if vec, err := s.engine.Embed(ctx, question); err == nil {
			queryVec = vec
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := ExampleID(question)
	if existing, ok := s.examples[id]; ok {
		if existing.Query == q {
			existing.SuccessCount++
			s.maybeVerifyLocked(existing)
		}
		return
	}

	for _, ex := range s.examples {
		if ex.Kind != kind || ex.Query != q {
			continue
		}
		if s.similarityLocked(question, queryVec, ex) >= LearnSimilarityFloor {
			ex.SuccessCount++
			s.maybeVerifyLocked(ex)
			return
		}
	}

	ex := &Example{
		ID:           id,
		Question:     question,
		Query:        q,
		Kind:         kind,
		TargetTables: targetTables,
		Verified:     false,
		SuccessCount: 1,
		CreatedAt:    time.Now().UTC(),
		Embedding:    queryVec,
	}
	s.examples[id] = ex
	logging.L(logging.CategoryFewShot).Debug("learned new example", zap.String("id", ex.ID))
}

// MarkVerified flags an example as verified.
func (s *Store) MarkVerified(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ex, ok := s.examples[id]; ok {
		ex.Verified = true
		return true
	}
	return false
}

// Get returns an example by id.
func (s *Store) Get(id string) (*Example, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.examples[id]
	if !ok {
		return nil, false
	}
	cp := *ex
	return &cp, true
}

// Statistics summarises the store.
func (s *Store) Statistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, ex := range s.examples {
		st.Total++
		if ex.Verified {
			st.Verified++
		}
		switch ex.Kind {
		case query.KindRelational:
			st.Relational++
		case query.KindGraph:
			st.Graph++
		}
	}
	return st
}

// ResetForTests restores the store to its seeded state.
func (s *Store) ResetForTests() {
	s.mu.Lock()
	s.examples = make(map[string]*Example)
	s.mu.Unlock()
	s.seed()
}

func (s *Store) maybeVerifyLocked(ex *Example) {
	if !ex.Verified && ex.SuccessCount >= AutoVerifyThreshold {
		ex.Verified = true
		logging.L(logging.CategoryFewShot).Info("example auto-verified",
			zap.String("id", ex.ID), zap.Int("success_count", ex.SuccessCount))
	}
}

// similarityLocked prefers cosine over stored embeddings and falls back to
// weighted word overlap when either side lacks a vector.
func (s *Store) similarityLocked(question string, queryVec []float32, ex *Example) float64 {
	if queryVec != nil && ex.Embedding != nil {
		if sim, err := embedding.CosineSimilarity(queryVec, ex.Embedding); err == nil {
			return sim
		}
	}
	return keywordOverlap(question, ex)
}

// keywordOverlap scores word overlap, weighting declared keywords double.
func keywordOverlap(question string, ex *Example) float64 {
	qWords := wordSet(question)
	if len(qWords) == 0 {
		return 0
	}

	var hits, total float64
	for w := range wordSet(ex.Question) {
		total++
		if qWords[w] {
			hits++
		}
	}
	for _, kw := range ex.Keywords {
		total += 2
		if qWords[strings.ToLower(kw)] {
			hits += 2
		}
	}
	if total == 0 {
		return 0
	}
	return hits / total
}

func wordSet(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, "?.,!;:'\"()")
		if len(w) > 1 {
			out[w] = true
		}
	}
	return out
}
