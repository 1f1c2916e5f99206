package intent

import (
	"regexp"
	"strings"
)

// Injection and DDL markers. Any hit is an immediate refusal.
var harmfulPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema|index)\b`),
	regexp.MustCompile(`(?i)\b(delete|truncate)\s+(from\s+)?\w`),
	regexp.MustCompile(`(?i)\b(insert\s+into|update\s+\w+\s+set|alter\s+table|create\s+table|grant\s+|revoke\s+)`),
	regexp.MustCompile(`(?i);\s*(drop|delete|truncate|insert|update|alter)\b`),
	regexp.MustCompile(`(?i)\bor\s+1\s*=\s*1\b`),
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`(?i)--\s*$`),
}

var offTopicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(weather|recipe|lottery|horoscope|stock\s+price|bitcoin|movie|celebrity)\b`),
	regexp.MustCompile(`(?i)(날씨|요리법|로또|주식\s*시세|연예인)`),
	regexp.MustCompile(`(?i)\bwrite\s+(me\s+)?(a\s+)?(poem|song|story|joke)\b`),
}

var differencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdifference\s+between\b`),
	regexp.MustCompile(`(?i)\b\w+\s+vs\.?\s+\w+`),
	regexp.MustCompile(`차이(점|가)?`),
}

var definitionalPrefixes = []string{
	"what is", "what's", "what are", "define", "explain", "how does",
	"무엇", "뭐야", "란", "설명",
}

var vaguePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(show|give)\s+me\s+everything\b`),
	regexp.MustCompile(`(?i)^\s*(tell me more|more info|details?)\s*\??\s*$`),
	regexp.MustCompile(`(?i)^\s*(전부|모든\s*것|다)\s*(보여|알려)`),
	regexp.MustCompile(`(?i)^\s*(help|도와줘?)\s*\??\s*$`),
}

// Words indicating a structured-data lookup.
var relationalKeywords = []string{
	"how many", "count", "list", "show", "status", "overdue", "progress",
	"sprint", "task", "backlog", "velocity", "assigned", "due", "completed",
	"몇", "개수", "목록", "현황", "상태", "진행", "지연", "스프린트", "태스크", "할당",
}

// Words indicating document or relationship search.
var graphKeywords = []string{
	"document", "spec", "meeting", "minutes", "decision", "mentioned",
	"wrote", "said", "related", "according to",
	"문서", "회의록", "결정", "언급", "관련",
}

// Project-scoped entity words that make a missing project id matter.
var projectEntityKeywords = []string{
	"task", "sprint", "backlog", "requirement", "milestone",
	"태스크", "스프린트", "백로그", "요구사항",
}

// classifyByRules is the fast stage. It always returns a best guess; only
// results at or above ruleConfidenceFloor short-circuit the LLM stage.
func classifyByRules(question, projectID string) Result {
	lower := strings.ToLower(strings.TrimSpace(question))

	for _, re := range harmfulPatterns {
		if re.MatchString(lower) {
			return Result{Intent: OutOfScope, Confidence: 0.95}
		}
	}
	for _, re := range offTopicPatterns {
		if re.MatchString(lower) {
			return Result{Intent: OutOfScope, Confidence: 0.9}
		}
	}
	for _, re := range vaguePatterns {
		if re.MatchString(lower) {
			return Result{
				Intent:           ClarificationNeeded,
				Confidence:       0.9,
				ClarificationAsk: defaultClarification(question),
			}
		}
	}

	dataQuery := countHits(lower, relationalKeywords) + countHits(lower, graphKeywords)

	for _, re := range differencePatterns {
		if re.MatchString(lower) && dataQuery == 0 {
			return Result{Intent: General, Confidence: 0.9}
		}
	}
	if dataQuery == 0 {
		for _, p := range definitionalPrefixes {
			if strings.HasPrefix(lower, p) || strings.Contains(lower, p) {
				return Result{Intent: General, Confidence: 0.9}
			}
		}
		if len([]rune(lower)) <= 12 {
			return Result{Intent: General, Confidence: 0.9}
		}
	}

	// Project-scoped entities without a project make the question unanswerable.
	if projectID == "" && countHits(lower, projectEntityKeywords) > 0 {
		return Result{
			Intent:            ClarificationNeeded,
			Confidence:        0.9,
			MissingParameters: []string{"project_id"},
			ClarificationAsk:  "Which project is this about?",
		}
	}

	rel := countHits(lower, relationalKeywords)
	gph := countHits(lower, graphKeywords)
	switch {
	case gph > rel:
		return Result{Intent: QueryGraph, Confidence: bestGuessConfidence(gph)}
	case rel > 0:
		return Result{Intent: QueryRelational, Confidence: bestGuessConfidence(rel)}
	default:
		return Result{Intent: QueryRelational, Confidence: 0.5}
	}
}

// bestGuessConfidence stays below the rule floor so the LLM stage refines the
// keyword guess unless the signal is overwhelming.
func bestGuessConfidence(hits int) float64 {
	conf := 0.5 + 0.12*float64(hits)
	if conf > 0.88 {
		conf = 0.88
	}
	return conf
}

func countHits(lower string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			n++
		}
	}
	return n
}
