package sqlscan

import "strings"

// TableRef is one table referenced in a FROM or JOIN clause.
type TableRef struct {
	Name  string // as written, lowercased (possibly schema-qualified)
	Alias string // lowercased, empty when none
	Pos   int
}

// Scope is one syntactic query scope: the outer statement, a subquery, or a
// CTE body. Predicate tokens include both WHERE and JOIN ON conditions of
// that scope only, never of enclosing or nested scopes.
type Scope struct {
	Tables     []TableRef
	Predicates []Token
	ColumnRefs []string // qualified references (alias.column), lowercased
	CTEName    string   // set when this scope is a CTE body
}

// HasTable reports whether the scope references name (exact or as the last
// dotted segment).
func (s *Scope) HasTable(name string) bool {
	name = strings.ToLower(name)
	for _, t := range s.Tables {
		if t.Name == name {
			return true
		}
	}
	return false
}

// AliasesFor returns every name a table is reachable under within the scope:
// its alias when present, otherwise the table name and its last segment.
func (s *Scope) AliasesFor(table string) []string {
	table = strings.ToLower(table)
	var out []string
	for _, t := range s.Tables {
		if t.Name != table {
			continue
		}
		if t.Alias != "" {
			out = append(out, t.Alias)
			continue
		}
		out = append(out, t.Name)
		if seg := lastSegment(t.Name); seg != t.Name {
			out = append(out, seg)
		}
	}
	return out
}

// Analysis is the scope breakdown of one statement.
type Analysis struct {
	Scopes   []*Scope
	CTENames map[string]bool // lowercased CTE names, not physical tables
}

// AllTables returns every distinct physical table referenced in any scope,
// excluding CTE self-references, lowercased.
func (a *Analysis) AllTables() []string {
	seen := map[string]bool{}
	var out []string
	for _, sc := range a.Scopes {
		for _, t := range sc.Tables {
			if a.CTENames[t.Name] || seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			out = append(out, t.Name)
		}
	}
	return out
}

// Analyze extracts the scopes of a single SQL statement. A new scope opens at
// the statement itself, at every parenthesised SELECT, and at every CTE body.
// The walk is heuristic but string- and comment-safe.
func Analyze(input string) *Analysis {
	toks := Scan(input)
	a := &Analysis{CTENames: map[string]bool{}}

	root := &Scope{}
	a.Scopes = append(a.Scopes, root)

	type frame struct {
		scope      *Scope // nil for plain parens
		inFrom     bool
		inPred     bool
		lastRef    int    // index into scope.Tables of the ref awaiting an alias, -1 otherwise
		awaitAlias bool   // a derived table just closed; the next ident is its alias
	}
	stack := []*frame{{scope: root, lastRef: -1}}
	top := func() *frame { return stack[len(stack)-1] }
	curScope := func() *Scope {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].scope != nil {
				return stack[i].scope
			}
		}
		return root
	}

	pendingCTE := "" // ident seen after WITH or a comma at CTE level, awaiting AS (

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		f := top()

		switch t.Type {
		case TokenComment:
			continue

		case TokenLParen:
			next := nextMeaningful(toks, i+1)
			isSub := next != -1 && (toks[next].Upper == "SELECT" || toks[next].Upper == "WITH")
			nf := &frame{lastRef: -1}
			if isSub {
				sc := &Scope{}
				if pendingCTE != "" {
					sc.CTEName = pendingCTE
					a.CTENames[pendingCTE] = true
					pendingCTE = ""
				}
				a.Scopes = append(a.Scopes, sc)
				nf.scope = sc
			} else {
				// plain grouping parens stay in the enclosing clause
				nf.inFrom = f.inFrom
				nf.inPred = f.inPred
				if f.inPred {
					curScope().Predicates = append(curScope().Predicates, t)
				}
			}
			stack = append(stack, nf)

		case TokenRParen:
			if len(stack) > 1 {
				closed := top()
				stack = stack[:len(stack)-1]
				rest := top()
				if closed.scope != nil && rest.inFrom {
					// derived table: the following ident is its alias
					rest.awaitAlias = true
					rest.lastRef = -1
				}
				if closed.scope == nil && rest.inPred {
					curScope().Predicates = append(curScope().Predicates, t)
				}
			}

		case TokenKeyword:
			switch t.Upper {
			case "FROM", "JOIN", "INTO", "UPDATE":
				f.inFrom = true
				f.inPred = false
				f.lastRef = -1
			case "WHERE", "ON", "HAVING":
				f.inFrom = false
				f.inPred = true
				f.lastRef = -1
			case "GROUP", "ORDER", "LIMIT", "OFFSET", "UNION", "SELECT", "FETCH", "SET", "VALUES", "RETURNING":
				f.inFrom = false
				f.inPred = false
				f.lastRef = -1
			case "WITH":
				// next ident at this depth is a CTE name
				if n := nextMeaningful(toks, i+1); n != -1 && toks[n].Type == TokenIdent {
					pendingCTE = strings.ToLower(toks[n].Text)
					i = n
				}
			case "AS":
				// alias follows; handled by the ident case
			case "INNER", "LEFT", "RIGHT", "FULL", "OUTER", "CROSS", "NATURAL", "LATERAL":
				// join qualifiers, stay in current mode
			default:
				if f.inPred {
					curScope().Predicates = append(curScope().Predicates, t)
				}
				if f.inFrom && f.lastRef != -1 {
					// keyword after a table ref ends the alias window
					f.lastRef = -1
				}
			}

		case TokenIdent:
			lower := strings.ToLower(trimQuotedIdent(t.Text))
			sc := curScope()
			switch {
			case f.inFrom && f.awaitAlias:
				f.awaitAlias = false
			case f.inFrom && f.lastRef == -1:
				sc.Tables = append(sc.Tables, TableRef{Name: lower, Pos: t.Pos})
				f.lastRef = len(sc.Tables) - 1
			case f.inFrom && f.lastRef != -1:
				sc.Tables[f.lastRef].Alias = lower
				f.lastRef = -1
			case f.inPred:
				sc.Predicates = append(sc.Predicates, t)
				if strings.Contains(lower, ".") {
					sc.ColumnRefs = append(sc.ColumnRefs, lower)
				}
			default:
				if strings.Contains(lower, ".") {
					sc.ColumnRefs = append(sc.ColumnRefs, lower)
				}
			}

		case TokenComma:
			if f.inFrom {
				f.lastRef = -1
			}
			if f.inPred {
				curScope().Predicates = append(curScope().Predicates, t)
			}
			// comma at CTE-definition depth may introduce the next CTE name
			if len(stack) == 1 && len(a.CTENames) > 0 {
				if n := nextMeaningful(toks, i+1); n != -1 && toks[n].Type == TokenIdent {
					if m := nextMeaningful(toks, n+1); m != -1 && toks[m].Upper == "AS" {
						pendingCTE = strings.ToLower(toks[n].Text)
						i = n
					}
				}
			}

		default:
			if f.inPred {
				curScope().Predicates = append(curScope().Predicates, t)
			}
		}
	}
	return a
}

// nextMeaningful returns the index of the next non-comment token at or after
// start, or -1.
func nextMeaningful(toks []Token, start int) int {
	for i := start; i < len(toks); i++ {
		if toks[i].Type != TokenComment {
			return i
		}
	}
	return -1
}

func trimQuotedIdent(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '`') {
		return trimQuotes(s)
	}
	return s
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i != -1 {
		return name[i+1:]
	}
	return name
}
