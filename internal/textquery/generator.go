// Package textquery turns natural-language questions into validated queries:
// generation against the schema context and few-shot examples, and bounded
// self-correction when validation rejects the first attempt.
package textquery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/fewshot"
	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
	"github.com/DanielHyeon/pms-ic-sub000/internal/schema"
	"github.com/DanielHyeon/pms-ic-sub000/internal/semantic"
)

// GeneratorOptions bounds generation.
type GeneratorOptions struct {
	MaxRetries      int     // structured-output re-asks, default 2
	FewShotK        int     // examples included in the prompt, default 3
	FewShotMinScore float64 // similarity floor for included examples
	RowCap          int     // row cap stated in the rule block, default 100
}

// Generator produces queries from questions.
type Generator struct {
	client   llm.Client
	catalog  *schema.Catalog
	semantic *semantic.Layer
	fewshot  *fewshot.Store
	opts     GeneratorOptions
}

// NewGenerator builds a generator. semantic and fewshot may be nil; the
// prompt then omits the corresponding sections.
func NewGenerator(client llm.Client, catalog *schema.Catalog, sem *semantic.Layer, fs *fewshot.Store, opts GeneratorOptions) *Generator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	if opts.FewShotK <= 0 {
		opts.FewShotK = 3
	}
	if opts.RowCap <= 0 {
		opts.RowCap = 100
	}
	return &Generator{client: client, catalog: catalog, semantic: sem, fewshot: fs, opts: opts}
}

// generated is the schema the model must return.
type generated struct {
	Query      string   `json:"query"`
	Confidence float64  `json:"confidence"`
	TablesUsed []string `json:"tables_used"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Generate builds the prompt, calls the structured-output layer, and cleans
// the returned query.
func (g *Generator) Generate(ctx context.Context, question, projectID string, kind query.Kind) (*query.GenerationResult, error) {
	started := time.Now()
	log := logging.L(logging.CategoryGenerator)

	prompt, fewShotIDs := g.buildPrompt(ctx, question, kind)

	var out generated
	if _, err := llm.GenerateStructured(ctx, g.client, prompt, &out, llm.StructuredOptions{
		MaxRetries: g.opts.MaxRetries,
	}); err != nil {
		return nil, fmt.Errorf("query generation: %w", err)
	}
	if strings.TrimSpace(out.Query) == "" {
		return nil, fmt.Errorf("query generation: model returned an empty query")
	}

	cleaned := CleanQuery(out.Query)
	log.Debug("query generated",
		zap.String("kind", string(kind)),
		zap.Float64("confidence", out.Confidence),
		zap.Duration("took", time.Since(started)))

	return &query.GenerationResult{
		Query:      cleaned,
		Kind:       kind,
		Confidence: clamp01(out.Confidence),
		TablesUsed: out.TablesUsed,
		Warnings:   out.Warnings,
		FewShotIDs: fewShotIDs,
		Duration:   time.Since(started),
	}, nil
}

func (g *Generator) buildPrompt(ctx context.Context, question string, kind query.Kind) (string, []string) {
	var b strings.Builder

	fmt.Fprintf(&b, "Write a single %s query answering the user question.\n\n", kindLabel(kind))

	if sc := g.schemaContext(ctx, question, kind); sc != "" {
		b.WriteString("# Available schema\n")
		b.WriteString(sc)
		b.WriteString("\n")
	}

	var ids []string
	if g.fewshot != nil {
		examples := g.fewshot.FindSimilar(ctx, question, kind, g.opts.FewShotK, true, g.opts.FewShotMinScore)
		if len(examples) > 0 {
			b.WriteString("# Known-good examples\n")
			for _, ex := range examples {
				fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", ex.Question, ex.Query)
				ids = append(ids, ex.ID)
			}
		}
	}

	fmt.Fprintf(&b, `# Rules
a. Only read queries (SELECT). Never modify data.
b. Every project-scoped table must carry a predicate binding the parameter :project_id, in every scope where the table appears.
c. Bound the result set with LIMIT %d or lower.
d. Never select with a wildcard; name the columns.
e. Use fully-qualified table names (schema.table).

# Question
%s

Respond with a single JSON object:
{"query": "...", "confidence": 0.0-1.0, "tables_used": [...], "reasoning": "...", "warnings": [...]}`,
		g.opts.RowCap, question)

	return b.String(), ids
}

// SchemaContext exposes the schema section of the prompt so the corrector
// can reuse the exact context the generator saw.
func (g *Generator) SchemaContext(ctx context.Context, question string, kind query.Kind) string {
	return g.schemaContext(ctx, question, kind)
}

func (g *Generator) schemaContext(ctx context.Context, question string, kind query.Kind) string {
	if kind == query.KindGraph {
		return g.graphContext(ctx)
	}
	if g.semantic != nil {
		models := g.semantic.FindRelevantModels(question)
		if len(models) > 0 {
			names := make([]string, len(models))
			for i, m := range models {
				names[i] = m.Name
			}
			return g.semantic.GenerateSchemaContext(names)
		}
	}
	return g.catalogContext(ctx, question)
}

// catalogContext renders the relevant tables from the raw catalog when no
// semantic model matched.
func (g *Generator) catalogContext(ctx context.Context, question string) string {
	if g.catalog == nil {
		return ""
	}
	tables, err := g.catalog.RelationalSchema(ctx)
	if err != nil {
		return ""
	}

	var b strings.Builder
	for _, name := range g.catalog.RelevantTables(question) {
		info, ok := tables[name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "Table %s:", name)
		for i, col := range info.Columns {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, " %s %s", col.Name, col.Type)
		}
		b.WriteString("\n")
		if g.catalog.IsProjectScoped(name) {
			fmt.Fprintf(&b, "  (project-scoped: filter %s.project_id = :project_id)\n", name)
		}
	}
	return b.String()
}

func (g *Generator) graphContext(ctx context.Context) string {
	if g.catalog == nil {
		return ""
	}
	gs, err := g.catalog.GraphSchema(ctx)
	if err != nil {
		return ""
	}

	// The prompt names the physical tables: generated queries run through
	// ExecuteRead against those, never against label names.
	names := make([]string, 0, len(gs.Tables))
	for table := range gs.Tables {
		names = append(names, table)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, table := range names {
		props := gs.Tables[table]
		fmt.Fprintf(&b, "Table %s:", table)
		colNames := make([]string, 0, len(props))
		for p := range props {
			colNames = append(colNames, p)
		}
		sort.Strings(colNames)
		for i, p := range colNames {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, " %s %s", p, props[p])
		}
		b.WriteString("\n")
	}
	for _, rel := range gs.Relationships {
		fmt.Fprintf(&b, "Relationship %s: %s -> %s\n", rel.Type, rel.StartLabel, rel.EndLabel)
	}
	return b.String()
}

// CleanQuery strips code fences, surrounding prose, and trailing semicolons
// while preserving parameter placeholders.
func CleanQuery(raw string) string {
	q := llm.ExtractFencedCode(raw, "sql")
	q = strings.TrimSpace(q)
	q = strings.TrimRight(q, ";")
	return strings.TrimSpace(q)
}

func kindLabel(kind query.Kind) string {
	if kind == query.KindGraph {
		return "document-store SQL"
	}
	return "PostgreSQL SELECT"
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
