package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
)

// Registry holds all available tools and provides lookup functionality.
// It is thread-safe and supports registration at runtime.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	policies map[string]Policy
	disabled map[string]bool

	// byCategory and byTag provide fast secondary lookup.
	byCategory map[ToolCategory][]*Tool
	byTag      map[string][]*Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:      make(map[string]*Tool),
		policies:   make(map[string]Policy),
		disabled:   make(map[string]bool),
		byCategory: make(map[ToolCategory][]*Tool),
		byTag:      make(map[string][]*Tool),
	}
}

// Register adds a tool to the registry, optionally under a policy that
// overrides the tool's own declarations. Returns an error if a tool with the
// same name already exists.
func (r *Registry) Register(tool *Tool, policy *Policy) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}

	r.tools[tool.Name] = tool
	r.byCategory[tool.Category] = append(r.byCategory[tool.Category], tool)
	for _, tag := range tool.Tags {
		r.byTag[strings.ToLower(tag)] = append(r.byTag[strings.ToLower(tag)], tool)
	}
	if policy != nil {
		r.policies[tool.Name] = *policy
	}

	logging.L(logging.CategoryGateway).Debug("tool registered",
		zap.String("tool", tool.Name),
		zap.String("category", string(tool.Category)))
	return nil
}

// MustRegister registers a tool and panics on error.
// Use this for static tool registration at startup.
func (r *Registry) MustRegister(tool *Tool, policy *Policy) {
	if err := r.Register(tool, policy); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Unregister removes a tool and its index entries.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tool, ok := r.tools[name]
	if !ok {
		return false
	}
	delete(r.tools, name)
	delete(r.policies, name)
	delete(r.disabled, name)
	r.byCategory[tool.Category] = removeTool(r.byCategory[tool.Category], name)
	for _, tag := range tool.Tags {
		key := strings.ToLower(tag)
		r.byTag[key] = removeTool(r.byTag[key], name)
	}
	return true
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Policy returns the registration policy for a tool, if any.
func (r *Registry) Policy(name string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	return p, ok
}

// Enabled reports whether a tool is registered and not disabled.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok && !r.disabled[name]
}

// SetEnabled flips a tool's availability without unregistering it.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	if enabled {
		delete(r.disabled, name)
	} else {
		r.disabled[name] = true
	}
	return true
}

// ListByCategory returns all tools in a category, sorted by name.
func (r *Registry) ListByCategory(category ToolCategory) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, len(r.byCategory[category]))
	copy(tools, r.byCategory[category])
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// ListByTag returns all tools carrying a tag, sorted by name.
func (r *Registry) ListByTag(tag string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, len(r.byTag[strings.ToLower(tag)]))
	copy(tools, r.byTag[strings.ToLower(tag)])
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Search matches the query against tool names, descriptions, and tags,
// case-insensitively.
func (r *Registry) Search(q string) []*Tool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Tool
	for _, tool := range r.tools {
		if strings.Contains(strings.ToLower(tool.Name), q) ||
			strings.Contains(strings.ToLower(tool.Description), q) ||
			tagMatches(tool.Tags, q) {
			out = append(out, tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ValidateInput checks the arguments against the tool's declared schema:
// required presence, value types, and enum membership.
func (r *Registry) ValidateInput(name string, args map[string]any) error {
	tool := r.Get(name)
	if tool == nil {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return validateArgs(tool, args)
}

// Capabilities exports the externally visible tool descriptions.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(r.tools))
	for name, tool := range r.tools {
		out = append(out, Capability{
			Name:        tool.Name,
			Description: tool.Description,
			Category:    tool.Category,
			Tags:        tool.Tags,
			Schema:      tool.Schema,
			Enabled:     !r.disabled[name],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// validateArgs checks required presence, then types and enums for every
// declared property that is present.
func validateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	for name, prop := range tool.Schema.Properties {
		val, ok := args[name]
		if !ok || val == nil {
			continue
		}
		if !typeMatches(prop.Type, val) {
			return fmt.Errorf("%w: %s must be %s", ErrInvalidArgType, name, prop.Type)
		}
		if len(prop.Enum) > 0 && !enumContains(prop.Enum, val) {
			return fmt.Errorf("%w: %s must be one of %v", ErrInvalidArgType, name, prop.Enum)
		}
	}
	return nil
}

func typeMatches(declared string, val any) bool {
	switch declared {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		switch val.(type) {
		case []any, []string, []map[string]any:
			return true
		}
		return false
	case "object":
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}

func enumContains(enum []any, val any) bool {
	for _, e := range enum {
		if e == val {
			return true
		}
	}
	return false
}

func tagMatches(tags []string, q string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

func removeTool(list []*Tool, name string) []*Tool {
	out := list[:0]
	for _, t := range list {
		if t.Name != name {
			out = append(out, t)
		}
	}
	return out
}
