package textquery

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/logging"
	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
)

// DefaultMaxCorrectionAttempts bounds the correction loop.
const DefaultMaxCorrectionAttempts = 3

// Error categories, ordered by fix priority via strategy.priority.
const (
	CategoryMissingProjectFilter = "MISSING_PROJECT_FILTER"
	CategoryColumnNotFound       = "COLUMN_NOT_FOUND"
	CategoryTableNotFound        = "TABLE_NOT_FOUND"
	CategorySyntax               = "SYNTAX"
	CategoryAmbiguousColumn      = "AMBIGUOUS_COLUMN"
	CategoryTypeMismatch         = "TYPE_MISMATCH"
	CategoryInvalidAggregation   = "INVALID_AGGREGATION"
	CategoryPermissionDenied     = "PERMISSION_DENIED"
	CategoryTimeout              = "TIMEOUT"
	CategoryMissingLimit         = "MISSING_LIMIT"
	CategoryWildcardSelect       = "WILDCARD_SELECT"
	CategoryUnknown              = "UNKNOWN"
)

// strategy maps an error shape to category-specific correction guidance.
// Lower priority numbers are fixed first; security-class errors lead.
type strategy struct {
	category string
	pattern  *regexp.Regexp
	priority int
	hint     string
	example  string
}

var strategies = []strategy{
	{
		category: CategoryMissingProjectFilter,
		pattern:  regexp.MustCompile(`(?i)project_id.*(predicate|filter|scope|requires)|requires a project_id`),
		priority: 0,
		hint: "Add a conjunctive predicate `<alias>.project_id = :project_id` to the WHERE clause of EVERY scope " +
			"(including subqueries and CTEs) that reads a project-scoped table. Use the alias of that scope.",
		example: "WHERE t.status = 'OPEN' -> WHERE t.project_id = :project_id AND t.status = 'OPEN'",
	},
	{
		category: CategoryPermissionDenied,
		pattern:  regexp.MustCompile(`(?i)not accessible|permission denied|forbidden|bypass pattern|stacked statements|non-read statement`),
		priority: 1,
		hint: "Remove every reference to restricted tables or columns and every non-read construct. " +
			"Answer the question with permitted tables only; if that is impossible, return the closest permitted query.",
		example: "SELECT u.password_hash ... -> SELECT u.name, u.email ...",
	},
	{
		category: CategoryTableNotFound,
		pattern:  regexp.MustCompile(`(?i)unknown table|relation .* does not exist|table .* doesn't exist`),
		priority: 2,
		hint:     "Replace the unknown table with the closest table from the schema section. Keep the schema qualifier.",
		example:  "FROM task.taks -> FROM task.tasks",
	},
	{
		category: CategoryColumnNotFound,
		pattern:  regexp.MustCompile(`(?i)unknown column|column .* does not exist`),
		priority: 3,
		hint:     "Replace the unknown column with the suggested or closest declared column of the same table.",
		example:  "t.satus -> t.status",
	},
	{
		category: CategoryAmbiguousColumn,
		pattern:  regexp.MustCompile(`(?i)ambiguous`),
		priority: 4,
		hint:     "Qualify the ambiguous column with its table alias.",
		example:  "SELECT id -> SELECT t.id",
	},
	{
		category: CategoryTypeMismatch,
		pattern:  regexp.MustCompile(`(?i)type mismatch|invalid input syntax for|cannot cast|operator does not exist`),
		priority: 5,
		hint:     "Fix the comparison so both sides share a type; cast explicitly when needed.",
		example:  "t.created_at > '7' -> t.created_at > NOW() - INTERVAL '7 days'",
	},
	{
		category: CategoryInvalidAggregation,
		pattern:  regexp.MustCompile(`(?i)must appear in the GROUP BY|aggregate function`),
		priority: 6,
		hint:     "Every non-aggregated selected column must appear in GROUP BY.",
		example:  "SELECT t.status, COUNT(t.id) FROM ... -> add GROUP BY t.status",
	},
	{
		category: CategorySyntax,
		pattern:  regexp.MustCompile(`(?i)syntax|failed to parse|parse error|unexpected token`),
		priority: 7,
		hint:     "Rewrite the statement as a single well-formed SELECT.",
	},
	{
		category: CategoryWildcardSelect,
		pattern:  regexp.MustCompile(`(?i)wildcard`),
		priority: 8,
		hint:     "Replace * with the explicit column list needed to answer the question.",
		example:  "SELECT * -> SELECT t.id, t.title, t.status",
	},
	{
		category: CategoryMissingLimit,
		pattern:  regexp.MustCompile(`(?i)LIMIT|bounded|row cap`),
		priority: 9,
		hint:     "Append an explicit LIMIT clause of 100 or lower.",
		example:  "... ORDER BY t.due_date -> ... ORDER BY t.due_date LIMIT 100",
	},
	{
		category: CategoryTimeout,
		pattern:  regexp.MustCompile(`(?i)timeout|canceling statement`),
		priority: 10,
		hint:     "Simplify the query: fewer joins, tighter predicates, smaller LIMIT.",
	},
}

// Categorize maps an error string to its correction category.
func Categorize(errMsg string) string {
	best := CategoryUnknown
	bestPriority := 1 << 30
	for _, s := range strategies {
		if s.pattern.MatchString(errMsg) && s.priority < bestPriority {
			best, bestPriority = s.category, s.priority
		}
	}
	return best
}

func strategyFor(category string) *strategy {
	for i := range strategies {
		if strategies[i].category == category {
			return &strategies[i]
		}
	}
	return nil
}

// Revalidator re-checks corrected queries. *validate.Validator satisfies it.
type Revalidator interface {
	Validate(ctx context.Context, q string, kind query.Kind, projectID string, requireProjectScope bool) *query.ValidationResult
}

// Corrector repairs queries that failed validation or execution.
type Corrector struct {
	client    llm.Client
	validator Revalidator // optional
}

// NewCorrector builds a corrector. validator may be nil; corrections are then
// returned unverified after the first attempt.
func NewCorrector(client llm.Client, validator Revalidator) *Corrector {
	return &Corrector{client: client, validator: validator}
}

type corrected struct {
	CorrectedQuery string  `json:"corrected_query"`
	ErrorAnalysis  string  `json:"error_analysis"`
	FixApplied     string  `json:"fix_applied"`
	Confidence     float64 `json:"confidence"`
}

// Correct runs the bounded correction loop. Attempts in the result equals the
// number of loop iterations performed, whether or not the final query passed.
func (c *Corrector) Correct(ctx context.Context, question, invalidQuery, errMsg, projectID, schemaContext string, kind query.Kind, maxAttempts int) *query.CorrectionResult {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxCorrectionAttempts
	}
	log := logging.L(logging.CategoryCorrector)

	res := &query.CorrectionResult{Query: invalidQuery}
	currentQuery := invalidQuery
	currentErr := errMsg
	var history []string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		category := Categorize(currentErr)
		res.Category = category

		prompt := c.buildPrompt(question, currentQuery, currentErr, category, schemaContext, history)

		var out corrected
		if _, err := llm.GenerateStructured(ctx, c.client, prompt, &out, llm.StructuredOptions{}); err != nil {
			log.Warn("correction attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			history = append(history, fmt.Sprintf("attempt %d: model call failed (%v)", attempt, err))
			continue
		}

		fixed := CleanQuery(out.CorrectedQuery)
		if fixed == "" {
			history = append(history, fmt.Sprintf("attempt %d: empty correction", attempt))
			continue
		}

		res.Query = fixed
		res.ErrorAnalysis = out.ErrorAnalysis
		res.FixApplied = out.FixApplied
		res.Confidence = clamp01(out.Confidence)

		if c.validator == nil {
			res.Corrected = true
			return res
		}

		vres := c.validator.Validate(ctx, fixed, kind, projectID, true)
		if vres.IsValid {
			res.Corrected = true
			log.Info("query corrected",
				zap.String("category", category),
				zap.Int("attempts", attempt))
			return res
		}

		history = append(history,
			fmt.Sprintf("attempt %d produced:\n%s\nwhich failed with: %s", attempt, fixed, vres.FirstError()))
		currentQuery = fixed
		currentErr = vres.FirstError()
	}

	log.Warn("correction exhausted", zap.Int("attempts", res.Attempts), zap.String("category", res.Category))
	return res
}

func (c *Corrector) buildPrompt(question, invalidQuery, errMsg, category, schemaContext string, history []string) string {
	var b strings.Builder

	b.WriteString("Fix the query below. It failed validation.\n\n")
	fmt.Fprintf(&b, "# Question\n%s\n\n# Invalid query\n%s\n\n# Error\n%s\n\n", question, invalidQuery, errMsg)

	if s := strategyFor(category); s != nil {
		fmt.Fprintf(&b, "# How to fix (%s)\n%s\n", s.category, s.hint)
		if s.example != "" {
			fmt.Fprintf(&b, "Example: %s\n", s.example)
		}
		b.WriteString("\n")
	}
	if schemaContext != "" {
		fmt.Fprintf(&b, "# Schema\n%s\n", schemaContext)
	}
	if len(history) > 0 {
		b.WriteString("# Prior failed attempts (do not repeat these)\n")
		for _, h := range history {
			b.WriteString(h)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(`Respond with a single JSON object:
{"corrected_query": "...", "error_analysis": "...", "fix_applied": "...", "confidence": 0.0-1.0}`)
	return b.String()
}
