// Package skills holds the composable capability layer: typed retrieve,
// analyze, generate, and validate operations that workflows chain into
// pipelines. Skills are pure or near-pure; side effects live behind the tool
// gateway.
package skills

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/tools"
)

// Category classifies a skill.
type Category string

const (
	CategoryRetrieve  Category = "RETRIEVE"
	CategoryAnalyze   Category = "ANALYZE"
	CategoryGenerate  Category = "GENERATE"
	CategoryValidate  Category = "VALIDATE"
	CategoryTransform Category = "TRANSFORM"
)

// Evidence points at the source backing a skill result.
type Evidence struct {
	SourceType string  `json:"source_type"`
	SourceID   string  `json:"source_id"`
	Title      string  `json:"title,omitempty"`
	Relevance  float64 `json:"relevance"`
}

// Output is the uniform skill result shape.
type Output struct {
	Result     any            `json:"result"`
	Confidence float64        `json:"confidence"`
	Evidence   []Evidence     `json:"evidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Failed reports whether the skill produced an error output.
func (o *Output) Failed() bool { return o != nil && o.Error != "" }

// ExecuteFunc runs one skill against a generic input map.
type ExecuteFunc func(ctx context.Context, input map[string]any) (*Output, error)

// Skill is one registered capability.
type Skill struct {
	Name        string
	Category    Category
	Version     string
	Description string
	InputSchema tools.ToolSchema
	Execute     ExecuteFunc
}

// Transform reshapes the previous chain output into the next skill's input.
// A nil transform passes the previous result under the "input" key.
type Transform func(prev *Output) map[string]any

// ChainStep names one skill in a chain with its piping transform and fixed
// options merged into every input.
type ChainStep struct {
	Name      string
	Transform Transform
	Options   map[string]any
}

// Registry keys skills by name with a secondary category index.
type Registry struct {
	mu         sync.RWMutex
	skills     map[string]*Skill
	byCategory map[Category][]*Skill
}

// NewRegistry builds an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{
		skills:     make(map[string]*Skill),
		byCategory: make(map[Category][]*Skill),
	}
}

// Register adds a skill. Names are unique.
func (r *Registry) Register(s *Skill) error {
	if s == nil || s.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	if s.Execute == nil {
		return fmt.Errorf("skill %s has no execute function", s.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[s.Name]; exists {
		return fmt.Errorf("skill %s is already registered", s.Name)
	}
	r.skills[s.Name] = s
	r.byCategory[s.Category] = append(r.byCategory[s.Category], s)
	logging.L(logging.CategorySkills).Debug("skill registered",
		zap.String("skill", s.Name), zap.String("category", string(s.Category)))
	return nil
}

// MustRegister panics on registration failure. For startup wiring only.
func (r *Registry) MustRegister(s *Skill) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Get returns a skill by name, or nil.
func (r *Registry) Get(name string) *Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.skills[name]
}

// ListByCategory returns skills in a category sorted by name.
func (r *Registry) ListByCategory(category Category) []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Skill, len(r.byCategory[category]))
	copy(out, r.byCategory[category])
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all registered skill names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one skill by name. Unknown skills return an error output, not
// a Go error, so chains can branch on it uniformly.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) (*Output, error) {
	skill := r.Get(name)
	if skill == nil {
		return &Output{Error: fmt.Sprintf("unknown skill: %s", name)}, nil
	}
	out, err := skill.Execute(ctx, input)
	if err != nil {
		return &Output{Error: err.Error()}, nil
	}
	if out == nil {
		out = &Output{Error: fmt.Sprintf("skill %s returned no output", name)}
	}
	return out, nil
}

// ExecuteChain runs steps sequentially, piping each output into the next
// input through the step's transform. The chain stops at the first error
// output; all outputs produced so far are returned.
func (r *Registry) ExecuteChain(ctx context.Context, steps []ChainStep, initial map[string]any) ([]*Output, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty skill chain")
	}

	outputs := make([]*Output, 0, len(steps))
	input := initial
	var prev *Output
	for i, step := range steps {
		if prev != nil {
			if step.Transform != nil {
				input = step.Transform(prev)
			} else {
				input = map[string]any{"input": prev.Result}
			}
		}
		if input == nil {
			input = map[string]any{}
		}
		for k, v := range step.Options {
			input[k] = v
		}

		out, err := r.Execute(ctx, step.Name, input)
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, out)
		if out.Failed() {
			logging.L(logging.CategorySkills).Warn("skill chain stopped",
				zap.String("skill", step.Name), zap.Int("step", i), zap.String("error", out.Error))
			return outputs, nil
		}
		prev = out
	}
	return outputs, nil
}

// ResetForTests empties the registry.
func (r *Registry) ResetForTests() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills = make(map[string]*Skill)
	r.byCategory = make(map[Category][]*Skill)
}

func stringArg(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func floatArg(input map[string]any, key string, fallback float64) float64 {
	switch v := input[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	}
	return fallback
}

func intArg(input map[string]any, key string, fallback int) int {
	return int(floatArg(input, key, float64(fallback)))
}

func mapSlice(v any) []map[string]any {
	switch vv := v.(type) {
	case []map[string]any:
		return vv
	case []any:
		out := make([]map[string]any, 0, len(vv))
		for _, item := range vv {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
