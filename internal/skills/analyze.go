package skills

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RiskItem is one scored finding from analyze-risk.
type RiskItem struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Severity    string   `json:"severity"`
	Score       float64  `json:"score"`
	Description string   `json:"description"`
	Sources     []string `json:"sources,omitempty"`
}

type riskPattern struct {
	category string
	keywords []string
	weight   float64
}

// Patterns are matched against event text; metric thresholds are handled
// separately.
var riskPatterns = []riskPattern{
	{"schedule", []string{"delay", "delayed", "slip", "behind schedule", "overdue", "지연", "연기"}, 0.8},
	{"blocker", []string{"block", "blocked", "blocker", "stuck", "waiting on", "차단", "보류"}, 0.9},
	{"quality", []string{"bug", "defect", "regression", "failure", "incident", "결함", "버그", "장애"}, 0.7},
	{"resource", []string{"resign", "leave", "unavailable", "shortage", "overload", "퇴사", "휴가", "과부하"}, 0.75},
	{"scope", []string{"scope change", "new requirement", "out of scope", "creep", "요구사항 변경", "범위"}, 0.6},
}

// AnalyzeRisk builds the analyze-risk skill: pattern matching over project
// events plus metric thresholds plus topology concentration.
// Input: events [{id, text}], metrics {velocity_change?, overdue_count?,
// burn_rate?}, dependencies [{from, to}].
func AnalyzeRisk() *Skill {
	return &Skill{
		Name:        "analyze-risk",
		Category:    CategoryAnalyze,
		Version:     "1.0",
		Description: "scored risk findings from events, metrics, and topology",
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			var items []RiskItem
			var evidence []Evidence

			for _, ev := range mapSlice(input["events"]) {
				id := fmt.Sprint(ev["id"])
				text := strings.ToLower(fmt.Sprint(ev["text"]))
				for _, p := range riskPatterns {
					hits := 0
					for _, kw := range p.keywords {
						if strings.Contains(text, kw) {
							hits++
						}
					}
					if hits == 0 {
						continue
					}
					score := p.weight + 0.05*float64(hits-1)
					if score > 1 {
						score = 1
					}
					items = append(items, RiskItem{
						ID:          fmt.Sprintf("risk-%s-%s", p.category, id),
						Category:    p.category,
						Severity:    severityFor(score),
						Score:       score,
						Description: fmt.Sprintf("%s signal in event %s", p.category, id),
						Sources:     []string{id},
					})
					evidence = append(evidence, Evidence{
						SourceType: "event", SourceID: id, Relevance: score,
					})
				}
			}

			if metrics, ok := input["metrics"].(map[string]any); ok {
				if v := floatArg(metrics, "velocity_change", 0); v < -0.2 {
					items = append(items, RiskItem{
						ID: "risk-velocity", Category: "schedule", Severity: severityFor(0.7), Score: 0.7,
						Description: fmt.Sprintf("velocity dropped %.0f%% against the prior sprint", -v*100),
					})
				}
				if n := intArg(metrics, "overdue_count", 0); n > 0 {
					score := 0.4 + 0.1*float64(n)
					if score > 1 {
						score = 1
					}
					items = append(items, RiskItem{
						ID: "risk-overdue", Category: "schedule", Severity: severityFor(score), Score: score,
						Description: fmt.Sprintf("%d overdue items", n),
					})
				}
			}

			// A node that many edges converge on is a delivery bottleneck.
			fanIn := map[string]int{}
			for _, dep := range mapSlice(input["dependencies"]) {
				fanIn[fmt.Sprint(dep["to"])]++
			}
			for node, n := range fanIn {
				if n >= 3 {
					score := 0.5 + 0.1*float64(n-3)
					if score > 1 {
						score = 1
					}
					items = append(items, RiskItem{
						ID: "risk-bottleneck-" + node, Category: "topology", Severity: severityFor(score), Score: score,
						Description: fmt.Sprintf("item %s has %d upstream dependencies", node, n),
						Sources:     []string{node},
					})
				}
			}

			sort.Slice(items, func(i, j int) bool {
				if items[i].Score != items[j].Score {
					return items[i].Score > items[j].Score
				}
				return items[i].ID < items[j].ID
			})

			conf := 0.6
			if len(items) == 0 {
				conf = 0.9
			}
			return &Output{
				Result:     items,
				Confidence: conf,
				Evidence:   evidence,
				Metadata:   map[string]any{"risk_count": len(items)},
			}, nil
		},
	}
}

func severityFor(score float64) string {
	switch {
	case score >= 0.8:
		return "high"
	case score >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

// DependencyReport is the analyze-dependency result payload.
type DependencyReport struct {
	Cycles       [][]string `json:"cycles"`
	CriticalPath []string   `json:"critical_path"`
	Orphans      []string   `json:"orphans"`
}

// AnalyzeDependency builds the analyze-dependency skill: cycle detection,
// longest-chain critical path, and orphan detection over an item/edge list.
// Input: items [{id}], dependencies [{from, to}] where from must finish
// before to starts.
func AnalyzeDependency() *Skill {
	return &Skill{
		Name:        "analyze-dependency",
		Category:    CategoryAnalyze,
		Version:     "1.0",
		Description: "cycles, critical path, and orphans in the dependency graph",
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			ids := make([]string, 0)
			seen := map[string]bool{}
			for _, item := range mapSlice(input["items"]) {
				id := fmt.Sprint(item["id"])
				if id != "" && id != "<nil>" && !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}

			succ := map[string][]string{}
			linked := map[string]bool{}
			for _, dep := range mapSlice(input["dependencies"]) {
				from, to := fmt.Sprint(dep["from"]), fmt.Sprint(dep["to"])
				succ[from] = append(succ[from], to)
				linked[from], linked[to] = true, true
				for _, id := range []string{from, to} {
					if !seen[id] {
						seen[id] = true
						ids = append(ids, id)
					}
				}
			}
			sort.Strings(ids)

			report := DependencyReport{
				Cycles:       findCycles(ids, succ),
				CriticalPath: longestChain(ids, succ),
				Orphans:      []string{},
			}
			for _, id := range ids {
				if !linked[id] {
					report.Orphans = append(report.Orphans, id)
				}
			}

			conf := 0.95
			if len(report.Cycles) > 0 {
				conf = 0.8
			}
			return &Output{
				Result:     report,
				Confidence: conf,
				Metadata: map[string]any{
					"item_count":  len(ids),
					"cycle_count": len(report.Cycles),
					"path_length": len(report.CriticalPath),
				},
			}, nil
		},
	}
}

// findCycles runs a colouring DFS and records each back-edge cycle once.
func findCycles(ids []string, succ map[string][]string) [][]string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	colour := map[string]int{}
	var stack []string
	var cycles [][]string

	var visit func(string)
	visit = func(node string) {
		colour[node] = grey
		stack = append(stack, node)
		for _, next := range succ[node] {
			switch colour[next] {
			case white:
				visit(next)
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						cycle := append([]string{}, stack[i:]...)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[node] = black
	}

	for _, id := range ids {
		if colour[id] == white {
			visit(id)
		}
	}
	return cycles
}

// longestChain returns the longest dependency chain by hop count. Nodes on a
// cycle are skipped so the walk terminates.
func longestChain(ids []string, succ map[string][]string) []string {
	onCycle := map[string]bool{}
	for _, cycle := range findCycles(ids, succ) {
		for _, id := range cycle {
			onCycle[id] = true
		}
	}

	memo := map[string][]string{}
	var chain func(string) []string
	chain = func(node string) []string {
		if cached, ok := memo[node]; ok {
			return cached
		}
		best := []string{}
		for _, next := range succ[node] {
			if onCycle[next] {
				continue
			}
			if c := chain(next); len(c) > len(best) {
				best = c
			}
		}
		result := append([]string{node}, best...)
		memo[node] = result
		return result
	}

	var best []string
	for _, id := range ids {
		if onCycle[id] {
			continue
		}
		if c := chain(id); len(c) > len(best) {
			best = c
		}
	}
	return best
}

var positiveWords = []string{
	"good", "great", "success", "completed", "done", "ahead", "resolved",
	"improved", "stable", "passed", "좋", "완료", "성공", "해결", "개선", "안정",
}

var negativeWords = []string{
	"bad", "fail", "failed", "blocked", "delay", "delayed", "bug", "issue",
	"problem", "risk", "concern", "slow", "나쁘", "실패", "지연", "문제", "버그", "우려",
}

// AnalyzeSentiment builds the lexicon-based analyze-sentiment skill.
// Input: text or texts[].
func AnalyzeSentiment() *Skill {
	return &Skill{
		Name:        "analyze-sentiment",
		Category:    CategoryAnalyze,
		Version:     "1.0",
		Description: "lexicon sentiment scoring for status text",
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			texts := stringSlice(input["texts"])
			if t := stringArg(input, "text"); t != "" {
				texts = append(texts, t)
			}
			if len(texts) == 0 {
				return &Output{Error: "text or texts is required"}, nil
			}

			var pos, neg int
			for _, text := range texts {
				lower := strings.ToLower(text)
				for _, w := range positiveWords {
					pos += strings.Count(lower, w)
				}
				for _, w := range negativeWords {
					neg += strings.Count(lower, w)
				}
			}

			score := 0.0
			if pos+neg > 0 {
				score = float64(pos-neg) / float64(pos+neg)
			}
			label := "neutral"
			switch {
			case score > 0.2:
				label = "positive"
			case score < -0.2:
				label = "negative"
			}

			conf := 0.5
			if pos+neg > 0 {
				conf = 0.6 + 0.05*float64(pos+neg)
				if conf > 0.9 {
					conf = 0.9
				}
			}
			return &Output{
				Result: map[string]any{
					"label": label,
					"score": score,
				},
				Confidence: conf,
				Metadata:   map[string]any{"positive_hits": pos, "negative_hits": neg},
			}, nil
		},
	}
}
