// Package sqlscan provides a lightweight SQL token scanner and scope
// extractor. It is not a full parser: it knows enough about strings,
// comments, parentheses, and clause keywords to find statement boundaries,
// table references with their aliases, and per-scope predicates, which is
// what query validation needs.
package sqlscan

import (
	"strings"
	"unicode"
)

// TokenType discriminates scanned tokens.
type TokenType int

const (
	TokenKeyword TokenType = iota
	TokenIdent             // possibly qualified: schema.table, t.col
	TokenString
	TokenNumber
	TokenParam    // :name or $n or ?
	TokenOperator // = <> != < > <= >= || + - * / %
	TokenComma
	TokenLParen
	TokenRParen
	TokenSemicolon
	TokenComment
)

// Token is one scanned lexeme. Pos is the byte offset in the input.
type Token struct {
	Type  TokenType
	Text  string // original text
	Upper string // uppercased text, for keyword comparison
	Pos   int
}

var keywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "JOIN": true, "INNER": true,
	"LEFT": true, "RIGHT": true, "FULL": true, "OUTER": true, "CROSS": true,
	"ON": true, "AS": true, "AND": true, "OR": true, "NOT": true, "IN": true,
	"EXISTS": true, "UNION": true, "ALL": true, "GROUP": true, "BY": true,
	"ORDER": true, "HAVING": true, "LIMIT": true, "OFFSET": true, "WITH": true,
	"DISTINCT": true, "CASE": true, "WHEN": true, "THEN": true, "ELSE": true,
	"END": true, "NULL": true, "IS": true, "LIKE": true, "ILIKE": true,
	"BETWEEN": true, "ASC": true, "DESC": true, "INSERT": true, "UPDATE": true,
	"DELETE": true, "DROP": true, "CREATE": true, "ALTER": true, "TRUNCATE": true,
	"GRANT": true, "REVOKE": true, "INTO": true, "SET": true, "VALUES": true,
	"RETURNING": true, "COPY": true, "EXECUTE": true, "CALL": true, "DO": true,
	"FETCH": true, "FIRST": true, "NEXT": true, "ROWS": true, "ONLY": true,
	"LATERAL": true, "USING": true, "NATURAL": true, "TRUE": true, "FALSE": true,
	"MERGE": true, "VACUUM": true, "ANALYZE": true, "REINDEX": true,
}

// Scan tokenises a SQL string. Comments are emitted as tokens so callers can
// inspect them (stacked-statement detection cares). Unterminated strings are
// emitted as-is; downstream syntax checking reports them properly.
func Scan(input string) []Token {
	var toks []Token
	i := 0
	n := len(input)

	for i < n {
		c := input[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '-' && i+1 < n && input[i+1] == '-':
			start := i
			for i < n && input[i] != '\n' {
				i++
			}
			toks = append(toks, Token{Type: TokenComment, Text: input[start:i], Upper: strings.ToUpper(input[start:i]), Pos: start})

		case c == '/' && i+1 < n && input[i+1] == '*':
			start := i
			i += 2
			for i+1 < n && !(input[i] == '*' && input[i+1] == '/') {
				i++
			}
			if i+1 < n {
				i += 2
			} else {
				i = n
			}
			toks = append(toks, Token{Type: TokenComment, Text: input[start:i], Upper: strings.ToUpper(input[start:i]), Pos: start})

		case c == '\'':
			start := i
			i++
			for i < n {
				if input[i] == '\'' {
					if i+1 < n && input[i+1] == '\'' { // escaped quote
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			toks = append(toks, Token{Type: TokenString, Text: input[start:i], Upper: strings.ToUpper(input[start:i]), Pos: start})

		case c == '"' || c == '`':
			quote := c
			start := i
			i++
			for i < n && input[i] != quote {
				i++
			}
			if i < n {
				i++
			}
			toks = append(toks, Token{Type: TokenIdent, Text: input[start:i], Upper: strings.ToUpper(trimQuotes(input[start:i])), Pos: start})

		case c == ':' && i+1 < n && isIdentStart(input[i+1]):
			start := i
			i++
			for i < n && isIdentPart(input[i]) {
				i++
			}
			toks = append(toks, Token{Type: TokenParam, Text: input[start:i], Upper: strings.ToUpper(input[start:i]), Pos: start})

		case c == '$' && i+1 < n && isDigit(input[i+1]):
			start := i
			i++
			for i < n && isDigit(input[i]) {
				i++
			}
			toks = append(toks, Token{Type: TokenParam, Text: input[start:i], Upper: input[start:i], Pos: start})

		case c == '?':
			toks = append(toks, Token{Type: TokenParam, Text: "?", Upper: "?", Pos: i})
			i++

		case isDigit(c) || (c == '.' && i+1 < n && isDigit(input[i+1])):
			start := i
			for i < n && (isDigit(input[i]) || input[i] == '.' || input[i] == 'e' || input[i] == 'E') {
				i++
			}
			toks = append(toks, Token{Type: TokenNumber, Text: input[start:i], Upper: input[start:i], Pos: start})

		case isIdentStart(c):
			start := i
			for i < n && (isIdentPart(input[i]) || input[i] == '.') {
				i++
			}
			text := input[start:i]
			upper := strings.ToUpper(text)
			tt := TokenIdent
			if keywords[upper] && !strings.Contains(text, ".") {
				tt = TokenKeyword
			}
			toks = append(toks, Token{Type: tt, Text: text, Upper: upper, Pos: start})

		case c == ',':
			toks = append(toks, Token{Type: TokenComma, Text: ",", Upper: ",", Pos: i})
			i++
		case c == '(':
			toks = append(toks, Token{Type: TokenLParen, Text: "(", Upper: "(", Pos: i})
			i++
		case c == ')':
			toks = append(toks, Token{Type: TokenRParen, Text: ")", Upper: ")", Pos: i})
			i++
		case c == ';':
			toks = append(toks, Token{Type: TokenSemicolon, Text: ";", Upper: ";", Pos: i})
			i++

		default:
			start := i
			for i < n && isOperatorChar(input[i]) {
				i++
			}
			if i == start {
				i++ // unknown byte, skip
				continue
			}
			toks = append(toks, Token{Type: TokenOperator, Text: input[start:i], Upper: input[start:i], Pos: start})
		}
	}
	return toks
}

// SplitStatements splits on top-level semicolons, string and comment aware.
// Empty fragments are dropped.
func SplitStatements(input string) []string {
	toks := Scan(input)
	var out []string
	begin := 0
	for _, t := range toks {
		if t.Type == TokenSemicolon {
			if frag := strings.TrimSpace(input[begin:t.Pos]); frag != "" {
				out = append(out, frag)
			}
			begin = t.Pos + 1
		}
	}
	if frag := strings.TrimSpace(input[begin:]); frag != "" {
		out = append(out, frag)
	}
	return out
}

// FirstVerb returns the uppercased first keyword of the statement, skipping
// comments and a leading WITH clause ("WITH x AS (...) SELECT" yields SELECT).
func FirstVerb(input string) string {
	toks := Scan(input)
	i := 0
	skipComments := func() {
		for i < len(toks) && toks[i].Type == TokenComment {
			i++
		}
	}
	skipComments()
	if i >= len(toks) {
		return ""
	}
	if toks[i].Upper != "WITH" {
		return toks[i].Upper
	}
	// Skip CTE definitions: name [AS] ( ... ) [, name AS ( ... )]*
	depth := 0
	for i++; i < len(toks); i++ {
		switch toks[i].Type {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
		case TokenKeyword:
			if depth == 0 && toks[i].Upper != "AS" && toks[i].Upper != "RECURSIVE" {
				return toks[i].Upper
			}
		}
	}
	return "WITH"
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return s
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func isOperatorChar(c byte) bool {
	return strings.IndexByte("=<>!+-*/%|&^~#", c) != -1 && !unicode.IsSpace(rune(c))
}
