package retrieval

import "strings"

// Strategy names the expansion mode for a search.
type Strategy string

const (
	// StrategyVector searches the chunk index without expansion.
	StrategyVector Strategy = "vector"
	// StrategyGraph additionally pulls neighbouring chunks and recent
	// same-category documents.
	StrategyGraph Strategy = "graph"
)

// Relationship-flavoured phrases that make context expansion worthwhile.
var graphHints = []string{
	"relationship", "related", "connected", "depends", "dependency",
	"impact", "affected", "history", "timeline", "between",
	"연관", "관련", "의존", "영향", "이력",
}

// Definitional phrases answered best by the single closest chunk.
var vectorHints = []string{
	"what is", "what's", "define", "definition", "meaning of", "explain",
	"무엇", "정의", "설명",
}

// PickStrategy chooses the expansion mode for a query. A configured override
// always wins; otherwise relationship wording selects graph expansion and
// definitional wording selects plain vector search. Ambiguous queries default
// to graph expansion, which degrades to vector results when no neighbours
// exist.
func (s *Service) PickStrategy(queryText string) Strategy {
	switch strings.ToLower(s.opts.StrategyOverride) {
	case string(StrategyVector):
		return StrategyVector
	case string(StrategyGraph):
		return StrategyGraph
	}
	lower := strings.ToLower(queryText)
	for _, h := range vectorHints {
		if strings.Contains(lower, h) {
			return StrategyVector
		}
	}
	for _, h := range graphHints {
		if strings.Contains(lower, h) {
			return StrategyGraph
		}
	}
	return StrategyGraph
}
