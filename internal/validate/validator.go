// Package validate runs generated queries through four independent layers:
// syntax, schema, security, and resource. Every layer always runs so a single
// pass reports the complete error set.
package validate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/graph"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
	"github.com/DanielHyeon/pms-ic-sub000/internal/schema"
	"github.com/DanielHyeon/pms-ic-sub000/internal/sqlscan"
)

// DefaultRowCap bounds result sets when the caller does not configure one.
const DefaultRowCap = 100

// DefaultMaxJoins bounds join depth.
const DefaultMaxJoins = 5

// Options configures validation limits.
type Options struct {
	RowCap   int
	MaxJoins int
}

// Validator checks queries against the catalog and the backing stores.
type Validator struct {
	catalog *schema.Catalog
	db      *sql.DB
	graph   graph.Store
	opts    Options
}

// NewValidator builds a validator. db or graph may be nil; the syntax layer
// then records a warning for the corresponding kind instead of failing.
func NewValidator(catalog *schema.Catalog, db *sql.DB, gs graph.Store, opts Options) *Validator {
	if opts.RowCap <= 0 {
		opts.RowCap = DefaultRowCap
	}
	if opts.MaxJoins <= 0 {
		opts.MaxJoins = DefaultMaxJoins
	}
	return &Validator{catalog: catalog, db: db, graph: gs, opts: opts}
}

// Validate runs all four layers and reports every finding.
// requireProjectScope demands a project_id predicate on every project-scoped
// table in every scope where it appears.
func (v *Validator) Validate(ctx context.Context, q string, kind query.Kind, projectID string, requireProjectScope bool) *query.ValidationResult {
	res := &query.ValidationResult{
		Layers: query.LayerFlags{Syntax: true, Schema: true, Security: true, Resource: true},
	}

	v.checkSyntax(ctx, q, kind, res)
	v.checkSchema(ctx, q, kind, res)
	v.checkSecurity(q, kind, requireProjectScope, res)
	v.checkResource(q, kind, res)

	res.IsValid = len(res.Errors) == 0
	if !res.IsValid {
		logging.L(logging.CategoryValidator).Debug("validation failed",
			zap.String("kind", string(kind)),
			zap.Int("errors", len(res.Errors)),
			zap.String("first", res.FirstError()))
	}
	return res
}

func (v *Validator) checkSyntax(ctx context.Context, q string, kind query.Kind, res *query.ValidationResult) {
	var err error
	switch kind {
	case query.KindGraph:
		if v.graph == nil {
			res.Warnings = append(res.Warnings, "graph syntax check skipped: store unavailable")
			return
		}
		err = v.graph.CheckQuery(ctx, q)
	default:
		if v.db == nil {
			res.Warnings = append(res.Warnings, "relational syntax check skipped: store unavailable")
			return
		}
		stmt, prepErr := v.db.PrepareContext(ctx, ConvertNamedParams(q))
		if prepErr == nil {
			stmt.Close()
		}
		err = prepErr
	}
	if err != nil {
		res.Layers.Syntax = false
		res.Errors = append(res.Errors, query.ValidationError{
			Kind:    query.ErrorSyntax,
			Message: fmt.Sprintf("query failed to parse: %v", err),
		})
	}
}

func (v *Validator) checkSchema(ctx context.Context, q string, kind query.Kind, res *query.ValidationResult) {
	a := sqlscan.Analyze(q)
	res.Tables = a.AllTables()

	known, colNames, err := v.knownTables(ctx, kind)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("schema check degraded: %v", err))
		return
	}

	for _, tbl := range res.Tables {
		if _, ok := known[tbl]; ok {
			continue
		}
		res.Layers.Schema = false
		res.Errors = append(res.Errors, query.ValidationError{
			Kind:       query.ErrorSchema,
			Message:    fmt.Sprintf("unknown table %q", tbl),
			Location:   tbl,
			Suggestion: closestName(tbl, keysOf(known)),
		})
	}

	// qualified column references, resolved through per-scope aliases
	for _, sc := range a.Scopes {
		aliasToTable := map[string]string{}
		for _, t := range sc.Tables {
			if a.CTENames[t.Name] {
				continue
			}
			if t.Alias != "" {
				aliasToTable[t.Alias] = t.Name
			}
			aliasToTable[t.Name] = t.Name
			if seg := lastDotSegment(t.Name); seg != t.Name {
				aliasToTable[seg] = t.Name
			}
		}
		for _, ref := range sc.ColumnRefs {
			qualifier, col := splitQualified(ref)
			tbl, ok := aliasToTable[qualifier]
			if !ok {
				continue // schema-qualified table name, already checked above
			}
			cols, ok := colNames[tbl]
			if !ok || columnKnown(cols, col) {
				continue
			}
			res.Layers.Schema = false
			res.Errors = append(res.Errors, query.ValidationError{
				Kind:       query.ErrorSchema,
				Message:    fmt.Sprintf("unknown column %q on table %q", col, tbl),
				Location:   ref,
				Suggestion: closestName(col, cols),
			})
		}
	}
	sort.Strings(res.Tables)
}

// knownTables returns the table set and per-table column names for the kind.
func (v *Validator) knownTables(ctx context.Context, kind query.Kind) (map[string]bool, map[string][]string, error) {
	tables := map[string]bool{}
	cols := map[string][]string{}

	if kind == query.KindGraph {
		if v.graph == nil {
			return nil, nil, query.ErrBackendUnavailable
		}
		info, err := v.graph.Schema(ctx)
		if err != nil {
			return nil, nil, err
		}
		// Graph queries run against the store's physical tables, so the
		// accepted names are the table names, not the label names.
		for table, props := range info.Tables {
			name := strings.ToLower(table)
			tables[name] = true
			for p := range props {
				cols[name] = append(cols[name], strings.ToLower(p))
			}
		}
		return tables, cols, nil
	}

	if v.catalog == nil {
		return nil, nil, query.ErrBackendUnavailable
	}
	rel, err := v.catalog.RelationalSchema(ctx)
	if err != nil {
		return nil, nil, err
	}
	for name, info := range rel {
		lower := strings.ToLower(name)
		tables[lower] = true
		for _, c := range info.Columns {
			cols[lower] = append(cols[lower], strings.ToLower(c.Name))
		}
	}
	return tables, cols, nil
}

func (v *Validator) isProjectScoped(table string, kind query.Kind) bool {
	if kind == query.KindGraph {
		// every document and chunk row is project-partitioned
		seg := lastDotSegment(table)
		return seg == "documents" || seg == "chunks"
	}
	return v.catalog != nil && v.catalog.IsProjectScoped(table)
}

func (v *Validator) isForbidden(table string) bool {
	return v.catalog != nil && v.catalog.IsForbidden(table)
}

func (v *Validator) isForbiddenColumn(col string) bool {
	return v.catalog != nil && v.catalog.IsForbiddenColumn(col)
}

// ConvertNamedParams rewrites :name placeholders to positional $n form so the
// relational backend can prepare the statement. Repeated names share a
// position.
func ConvertNamedParams(q string) string {
	toks := sqlscan.Scan(q)
	positions := map[string]int{}
	next := 1

	var b strings.Builder
	last := 0
	for _, t := range toks {
		if t.Type != sqlscan.TokenParam || !strings.HasPrefix(t.Text, ":") {
			continue
		}
		name := t.Text[1:]
		n, ok := positions[name]
		if !ok {
			n = next
			positions[name] = n
			next++
		}
		b.WriteString(q[last:t.Pos])
		fmt.Fprintf(&b, "$%d", n)
		last = t.Pos + len(t.Text)
	}
	b.WriteString(q[last:])
	return b.String()
}

func splitQualified(ref string) (qualifier, col string) {
	i := strings.LastIndexByte(ref, '.')
	if i == -1 {
		return "", ref
	}
	return ref[:i], ref[i+1:]
}

func lastDotSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i != -1 {
		return name[i+1:]
	}
	return name
}

func columnKnown(cols []string, col string) bool {
	for _, c := range cols {
		if c == col {
			return true
		}
	}
	return false
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// closestName returns the candidate within edit distance 3, or "".
func closestName(name string, candidates []string) string {
	best, bestDist := "", 4
	for _, c := range candidates {
		if d := levenshtein(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
