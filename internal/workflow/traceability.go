package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Requirement is one tracked requirement for traceability analysis.
type Requirement struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// TraceItem is one backlog entry with its requirement link.
type TraceItem struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	RequirementID string    `json:"requirement_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TraceReport collects the four traceability findings plus recommendations.
type TraceReport struct {
	Gaps            []string   `json:"gaps"`
	Orphans         []string   `json:"orphans"`
	Duplicates      [][]string `json:"duplicates"`
	ScopeCreep      []string   `json:"scope_creep"`
	Recommendations []string   `json:"recommendations"`
}

const duplicateTitleThreshold = 0.8

// AnalyzeTraceability cross-checks requirements against backlog items:
// uncovered requirements, unlinked backlog, near-duplicate titles, and
// post-freeze additions without a requirement link.
func AnalyzeTraceability(reqs []Requirement, items []TraceItem, freeze time.Time) *TraceReport {
	report := &TraceReport{}

	covered := map[string]bool{}
	for _, item := range items {
		if item.RequirementID != "" {
			covered[item.RequirementID] = true
		}
	}
	for _, req := range reqs {
		if !covered[req.ID] {
			report.Gaps = append(report.Gaps, req.ID)
		}
	}

	for _, item := range items {
		if item.RequirementID == "" {
			report.Orphans = append(report.Orphans, item.ID)
			if !freeze.IsZero() && item.CreatedAt.After(freeze) {
				report.ScopeCreep = append(report.ScopeCreep, item.ID)
			}
		}
	}

	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if titleSimilarity(items[i].Title, items[j].Title) >= duplicateTitleThreshold {
				report.Duplicates = append(report.Duplicates,
					[]string{items[i].ID, items[j].ID})
			}
		}
	}

	sort.Strings(report.Gaps)
	sort.Strings(report.Orphans)
	sort.Strings(report.ScopeCreep)

	if len(report.Gaps) > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("create backlog coverage for %d uncovered requirement(s): %s",
				len(report.Gaps), strings.Join(report.Gaps, ", ")))
	}
	if len(report.Orphans) > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("link or retire %d backlog item(s) without a requirement: %s",
				len(report.Orphans), strings.Join(report.Orphans, ", ")))
	}
	for _, pair := range report.Duplicates {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("review %s and %s for duplication", pair[0], pair[1]))
	}
	if len(report.ScopeCreep) > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%d item(s) added after the freeze lack a requirement link: %s",
				len(report.ScopeCreep), strings.Join(report.ScopeCreep, ", ")))
	}
	return report
}

// titleSimilarity is the Jaccard overlap of title word sets.
func titleSimilarity(a, b string) float64 {
	wa, wb := titleWords(a), titleWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	common := 0
	for w := range wa {
		if wb[w] {
			common++
		}
	}
	union := len(wa) + len(wb) - common
	return float64(common) / float64(union)
}

func titleWords(title string) map[string]bool {
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) > 1 {
			words[w] = true
		}
	}
	return words
}
