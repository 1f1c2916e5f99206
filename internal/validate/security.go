package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/DanielHyeon/pms-ic-sub000/internal/query"
	"github.com/DanielHyeon/pms-ic-sub000/internal/sqlscan"
)

// Mutating or administrative verbs. Anything outside readVerbs is rejected.
var readVerbs = map[string]bool{
	"SELECT":  true,
	"EXPLAIN": true,
	"SHOW":    true,
}

var bypassPatterns = []struct {
	re  *regexp.Regexp
	msg string
}{
	{regexp.MustCompile(`(?i)\bor\s+1\s*=\s*1\b`), "tautology 'OR 1=1'"},
	{regexp.MustCompile(`(?i)\bor\s+true\b`), "boolean constant 'OR TRUE'"},
	{regexp.MustCompile(`(?i)\bor\s+'([^']*)'\s*=\s*'([^']*)'`), "string tautology in OR clause"},
	{regexp.MustCompile(`(?i)\bor\s+(\d+)\s*=\s*(\d+)\b`), "numeric comparison in OR clause"},
}

func (v *Validator) checkSecurity(q string, kind query.Kind, requireProjectScope bool, res *query.ValidationResult) {
	fail := func(e query.ValidationError) {
		res.Layers.Security = false
		res.Errors = append(res.Errors, e)
	}

	// one statement only; a separator followed by anything (including a
	// comment hiding the payload) is an injection shape
	if stmts := sqlscan.SplitStatements(q); len(stmts) > 1 {
		fail(query.ValidationError{
			Kind:    query.ErrorSecurity,
			Message: "stacked statements are not allowed",
		})
	}

	verb := sqlscan.FirstVerb(q)
	if !readVerbs[verb] {
		fail(query.ValidationError{
			Kind:    query.ErrorSecurity,
			Message: fmt.Sprintf("non-read statement %q is not allowed", verb),
		})
	}

	for _, p := range bypassPatterns {
		if m := p.re.FindStringSubmatch(q); m != nil {
			// the string and numeric OR patterns only matter when tautological
			if len(m) == 3 && m[1] != m[2] {
				continue
			}
			// bare 1=1 is already reported by the dedicated pattern
			if len(m) == 3 && m[1] == "1" && m[2] == "1" && !strings.Contains(m[0], "'") {
				continue
			}
			fail(query.ValidationError{
				Kind:    query.ErrorSecurity,
				Message: "filter bypass pattern detected: " + p.msg,
			})
		}
	}

	// forbidden identifiers anywhere in the token stream
	for _, t := range sqlscan.Scan(q) {
		if t.Type != sqlscan.TokenIdent {
			continue
		}
		lower := strings.ToLower(t.Text)
		if v.isForbidden(lower) {
			fail(query.ValidationError{
				Kind:     query.ErrorSecurity,
				Message:  fmt.Sprintf("table %q is not accessible", lower),
				Location: lower,
			})
		}
		if v.isForbiddenColumn(lastDotSegment(lower)) {
			fail(query.ValidationError{
				Kind:     query.ErrorSecurity,
				Message:  fmt.Sprintf("column %q is not accessible", lastDotSegment(lower)),
				Location: lower,
			})
		}
	}

	if !requireProjectScope {
		res.HasProjectScope = true
		return
	}

	// Every UNION arm is its own filter boundary: an unfiltered arm escapes
	// the scope even when the other arm is filtered.
	scoped := true
	for _, arm := range splitUnionArms(q) {
		a := sqlscan.Analyze(arm)
		for _, sc := range a.Scopes {
			for _, t := range sc.Tables {
				if a.CTENames[t.Name] || !v.isProjectScoped(t.Name, kind) {
					continue
				}
				if !scopeHasProjectPredicate(sc, t.Name) {
					scoped = false
					fail(query.ValidationError{
						Kind:     query.ErrorScope,
						Message:  fmt.Sprintf("table %q requires a project_id = :project_id predicate in its own scope", t.Name),
						Location: t.Name,
						Suggestion: fmt.Sprintf("add %s.project_id = :project_id to the WHERE clause of the scope using %s",
							lastDotSegment(t.Name), t.Name),
					})
				}
			}
		}
	}
	res.HasProjectScope = scoped
}

// scopeHasProjectPredicate looks for <alias>.project_id = :project_id (or an
// unqualified project_id = :project_id when the scope has one table) among
// the scope's own predicate tokens.
func scopeHasProjectPredicate(sc *sqlscan.Scope, table string) bool {
	aliases := map[string]bool{}
	for _, a := range sc.AliasesFor(table) {
		aliases[a] = true
	}
	single := len(sc.Tables) == 1

	toks := sc.Predicates
	for i := 0; i+2 < len(toks); i++ {
		t := toks[i]
		if t.Type != sqlscan.TokenIdent {
			continue
		}
		lower := strings.ToLower(t.Text)
		qualifier, col := splitQualified(lower)
		if col != "project_id" {
			continue
		}
		if qualifier != "" && !aliases[qualifier] {
			continue
		}
		if qualifier == "" && !single {
			continue
		}
		if toks[i+1].Text == "=" && toks[i+2].Type == sqlscan.TokenParam &&
			strings.EqualFold(toks[i+2].Text, ":project_id") {
			return true
		}
	}
	return false
}

// splitUnionArms splits a statement on top-level UNION [ALL] boundaries.
// Subquery unions stay inside their own arm.
func splitUnionArms(q string) []string {
	toks := sqlscan.Scan(q)
	depth := 0
	var arms []string
	begin := 0
	for i, t := range toks {
		switch t.Type {
		case sqlscan.TokenLParen:
			depth++
		case sqlscan.TokenRParen:
			depth--
		case sqlscan.TokenKeyword:
			if depth == 0 && t.Upper == "UNION" {
				arms = append(arms, strings.TrimSpace(q[begin:t.Pos]))
				begin = t.Pos + len(t.Text)
				if i+1 < len(toks) && toks[i+1].Upper == "ALL" {
					begin = toks[i+1].Pos + len(toks[i+1].Text)
				}
			}
		}
	}
	arms = append(arms, strings.TrimSpace(q[begin:]))
	return arms
}

func (v *Validator) checkResource(q string, kind query.Kind, res *query.ValidationResult) {
	fail := func(msg string) {
		res.Layers.Resource = false
		res.Errors = append(res.Errors, query.ValidationError{
			Kind:    query.ErrorPerformance,
			Message: msg,
		})
	}

	toks := sqlscan.Scan(q)

	// wildcard projection: SELECT * or alias.*
	for i, t := range toks {
		if t.Type == sqlscan.TokenOperator && t.Text == "*" && i > 0 {
			prev := toks[i-1]
			if prev.Upper == "SELECT" || prev.Upper == "DISTINCT" || prev.Type == sqlscan.TokenComma {
				fail("wildcard column selection is not allowed; name the columns explicitly")
				break
			}
		}
		if t.Type == sqlscan.TokenIdent && strings.HasSuffix(t.Text, ".") && i+1 < len(toks) &&
			toks[i+1].Text == "*" {
			fail("wildcard column selection is not allowed; name the columns explicitly")
			break
		}
	}

	joins := 0
	hasLimit := false
	hasWhere := false
	for _, t := range toks {
		switch t.Upper {
		case "JOIN":
			joins++
		case "LIMIT", "FETCH":
			hasLimit = true
		case "WHERE":
			hasWhere = true
		}
	}
	if joins > v.opts.MaxJoins {
		fail(fmt.Sprintf("query joins %d tables, limit is %d", joins, v.opts.MaxJoins))
	}
	if !hasLimit {
		fail(fmt.Sprintf("result set must be bounded with LIMIT %d or lower", v.opts.RowCap))
	}

	if !hasWhere {
		a := sqlscan.Analyze(q)
		for _, tbl := range a.AllTables() {
			if v.isProjectScoped(tbl, kind) {
				fail(fmt.Sprintf("unfiltered scan of project-scoped table %q", tbl))
				break
			}
		}
	}
}

var limitRe = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)

// EnsureResultLimit appends a row cap when the query has none and tightens an
// existing one that exceeds cap. The query is otherwise untouched.
func EnsureResultLimit(q string, limit int) string {
	if limit <= 0 {
		limit = DefaultRowCap
	}
	trimmed := strings.TrimRight(strings.TrimSpace(q), ";")

	if m := limitRe.FindStringSubmatchIndex(trimmed); m != nil {
		n, err := strconv.Atoi(trimmed[m[2]:m[3]])
		if err == nil && n > limit {
			return trimmed[:m[2]] + strconv.Itoa(limit) + trimmed[m[3]:]
		}
		return trimmed
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, limit)
}
