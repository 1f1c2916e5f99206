// Package schema provides the cached catalog of relational and graph store
// metadata used by query generation and validation.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
)

// ColumnInfo describes one relational column.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// ForeignKey references schema.table.column.
type ForeignKey struct {
	Column    string `json:"column"`
	RefSchema string `json:"ref_schema"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

// TableInfo describes one relational table.
type TableInfo struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Columns     []ColumnInfo `json:"columns"`
	PrimaryKey  string       `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
}

// QualifiedName returns schema.table.
func (t TableInfo) QualifiedName() string { return t.Schema + "." + t.Name }

// HasColumn reports whether the table declares a column.
func (t TableInfo) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// GraphSchema bundles graph label and relationship metadata.
type GraphSchema struct {
	Labels        map[string]map[string]string `json:"labels"`
	Tables        map[string]map[string]string `json:"tables"`
	Relationships []graph.RelationshipInfo     `json:"relationships"`
}

// Options configures the catalog.
type Options struct {
	// LogicalSchemas is the fixed set of schemas loaded from
	// information_schema.
	LogicalSchemas []string

	// KeywordTables maps lowercase question keywords to qualified tables.
	KeywordTables map[string][]string

	// FallbackTables is returned by RelevantTables when no keyword hits.
	FallbackTables []string

	// ProjectScoped tables MUST declare a project_id column and every query
	// against them MUST bind one.
	ProjectScoped map[string]bool

	// Forbidden tables never appear in generated queries.
	Forbidden map[string]bool

	// ForbiddenColumns are rejected anywhere (credentials and the like).
	ForbiddenColumns map[string]bool

	// CacheTTL bounds staleness; default one hour.
	CacheTTL time.Duration
}

// DefaultOptions returns the PMS defaults.
func DefaultOptions() Options {
	return Options{
		LogicalSchemas: []string{"project", "task", "sprint", "requirement", "auth"},
		KeywordTables: map[string][]string{
			"project": {"project.projects"}, "프로젝트": {"project.projects"},
			"phase": {"project.phases"}, "단계": {"project.phases"},
			"risk": {"project.risks"}, "위험": {"project.risks"},
			"task": {"task.tasks"}, "작업": {"task.tasks"}, "태스크": {"task.tasks"},
			"issue": {"task.tasks"}, "이슈": {"task.tasks"},
			"assignee": {"task.tasks", "auth.users"}, "담당자": {"task.tasks", "auth.users"},
			"sprint": {"sprint.sprints"}, "스프린트": {"sprint.sprints"},
			"velocity": {"sprint.sprints", "sprint.metrics"}, "속도": {"sprint.metrics"},
			"backlog": {"sprint.backlog_items"}, "백로그": {"sprint.backlog_items"},
			"story": {"sprint.backlog_items"}, "스토리": {"sprint.backlog_items"},
			"requirement": {"requirement.requirements"}, "요구사항": {"requirement.requirements"},
			"user": {"auth.users"}, "사용자": {"auth.users"},
		},
		FallbackTables: []string{"project.projects", "sprint.sprints", "task.tasks"},
		ProjectScoped: map[string]bool{
			"project.phases":           true,
			"project.risks":            true,
			"task.tasks":               true,
			"sprint.sprints":           true,
			"sprint.backlog_items":     true,
			"sprint.metrics":           true,
			"requirement.requirements": true,
		},
		Forbidden: map[string]bool{
			"auth.credentials": true,
			"auth.sessions":    true,
		},
		ForbiddenColumns: map[string]bool{
			"password":      true,
			"password_hash": true,
			"secret":        true,
			"api_key":       true,
			"token":         true,
		},
		CacheTTL: time.Hour,
	}
}

// Catalog caches relational and graph schema metadata with a TTL. All lookups
// are safe under concurrent access.
type Catalog struct {
	db    *sql.DB
	graph graph.Store
	opts  Options

	mu               sync.RWMutex
	relational       map[string]TableInfo
	graphSchema      *GraphSchema
	relationalLoaded time.Time
	graphLoaded      time.Time
}

// NewCatalog builds a catalog over the two stores. Either store may be nil;
// the corresponding side then reports query.ErrBackendUnavailable and callers
// degrade.
func NewCatalog(db *sql.DB, gs graph.Store, opts Options) *Catalog {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	return &Catalog{db: db, graph: gs, opts: opts}
}

// RelationalSchema returns the cached table map, reloading past the TTL.
func (c *Catalog) RelationalSchema(ctx context.Context) (map[string]TableInfo, error) {
	c.mu.RLock()
	if c.relational != nil && time.Since(c.relationalLoaded) < c.opts.CacheTTL {
		defer c.mu.RUnlock()
		return c.relational, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relational != nil && time.Since(c.relationalLoaded) < c.opts.CacheTTL {
		return c.relational, nil
	}

	tables, err := c.loadRelational(ctx)
	if err != nil {
		if c.relational != nil {
			// stale cache beats an outage
			logging.L(logging.CategorySchema).Warn("relational reload failed, serving stale cache", zap.Error(err))
			return c.relational, nil
		}
		return nil, err
	}
	c.relational = tables
	c.relationalLoaded = time.Now()
	return tables, nil
}

// GraphSchema returns cached graph metadata, reloading past the TTL.
func (c *Catalog) GraphSchema(ctx context.Context) (*GraphSchema, error) {
	c.mu.RLock()
	if c.graphSchema != nil && time.Since(c.graphLoaded) < c.opts.CacheTTL {
		defer c.mu.RUnlock()
		return c.graphSchema, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graphSchema != nil && time.Since(c.graphLoaded) < c.opts.CacheTTL {
		return c.graphSchema, nil
	}

	if c.graph == nil {
		return nil, fmt.Errorf("%w: graph store not configured", query.ErrBackendUnavailable)
	}
	info, err := c.graph.Schema(ctx)
	if err != nil {
		if c.graphSchema != nil {
			return c.graphSchema, nil
		}
		return nil, fmt.Errorf("%w: %v", query.ErrBackendUnavailable, err)
	}
	c.graphSchema = &GraphSchema{Labels: info.Labels, Tables: info.Tables, Relationships: info.Relationships}
	c.graphLoaded = time.Now()
	return c.graphSchema, nil
}

// RelevantTables scans the question for configured keywords and returns the
// union of mapped tables, or the fallback core set when nothing matches.
func (c *Catalog) RelevantTables(question string) []string {
	q := strings.ToLower(question)

	seen := make(map[string]bool)
	var out []string
	for keyword, tables := range c.opts.KeywordTables {
		if !strings.Contains(q, keyword) {
			continue
		}
		for _, t := range tables {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	if len(out) == 0 {
		return append([]string(nil), c.opts.FallbackTables...)
	}
	sort.Strings(out)
	return out
}

// IsProjectScoped reports whether a table's rows belong to one project.
func (c *Catalog) IsProjectScoped(table string) bool {
	return c.opts.ProjectScoped[strings.ToLower(table)]
}

// IsForbidden reports whether a table must never appear in generated queries.
func (c *Catalog) IsForbidden(table string) bool {
	return c.opts.Forbidden[strings.ToLower(table)]
}

// IsForbiddenColumn reports whether a column is blocked everywhere.
func (c *Catalog) IsForbiddenColumn(column string) bool {
	return c.opts.ForbiddenColumns[strings.ToLower(column)]
}

// ProjectScopedTables lists all project-scoped tables.
func (c *Catalog) ProjectScopedTables() []string {
	out := make([]string, 0, len(c.opts.ProjectScoped))
	for t := range c.opts.ProjectScoped {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Invalidate drops both caches. Safe to call repeatedly.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.relational = nil
	c.graphSchema = nil
	c.relationalLoaded = time.Time{}
	c.graphLoaded = time.Time{}
	c.mu.Unlock()
	logging.L(logging.CategorySchema).Debug("catalog invalidated")
}

// ResetForTests is an alias for Invalidate kept for test readability.
func (c *Catalog) ResetForTests() { c.Invalidate() }
