package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// BriefingResult is the G6 payload served at the briefing endpoint.
type BriefingResult struct {
	Headline         string `json:"headline"`
	Body             string `json:"body"`
	GenerationMethod string `json:"generationMethod"`
}

// Briefing is template G6: a role-scoped project briefing from raw metrics
// and rule findings, LLM-phrased when a client is available and templated
// otherwise.
func (t *Templates) Briefing() Template {
	return Template{
		Name: "briefing",
		Steps: []Step{
			Seq(Node{
				Name: "build-context",
				Kind: NodeBuildContext,
				Run: func(ctx context.Context, s State) (Delta, error) {
					if s.ProjectID == "" {
						return Delta{Failure: &Failure{
							Type:   FailureInfoMissing,
							Detail: "projectId is required for a briefing",
						}}, nil
					}
					return Delta{}, nil
				},
			}),
			Seq(Node{
				Name: "compose-briefing",
				Kind: NodeReason,
				Run: func(ctx context.Context, s State) (Delta, error) {
					briefing := t.composeBriefing(ctx, s)
					conf := 0.7
					if briefing.GenerationMethod == "template" {
						conf = 0.5
					}
					if completeness := floatFromData(s.Data["completeness"]); completeness > 0 && completeness < 1 {
						conf *= completeness
					}
					return Delta{
						Result:     map[string]any{"briefing": briefing},
						Confidence: Conf(conf),
					}, nil
				},
			}),
			Seq(Node{
				Name: "gate",
				Kind: NodeGate,
				Run: func(ctx context.Context, s State) (Delta, error) {
					return Delta{Mode: ModeExecute}, nil
				},
			}),
		},
		Observe: observe(),
	}
}

func (t *Templates) composeBriefing(ctx context.Context, s State) *BriefingResult {
	metrics, _ := s.Data["raw_metrics"].(map[string]any)
	findings := findingLines(s.Data["rule_findings"])
	scope, _ := s.Data["scope"].(string)

	templated := templateBriefing(s.ProjectID, s.Role, scope, metrics, findings)
	if t.client == nil {
		return templated
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a short project briefing for a %s", s.Role)
	if scope != "" {
		fmt.Fprintf(&sb, " covering %s", scope)
	}
	sb.WriteString(". First line is a one-sentence headline, then an empty line, then a body of at most four sentences. Use only the facts below; do not invent numbers.\n\nMetrics:\n")
	for _, k := range sortedKeys(metrics) {
		fmt.Fprintf(&sb, "- %s: %v\n", k, metrics[k])
	}
	if len(findings) > 0 {
		sb.WriteString("\nFindings:\n")
		for _, f := range findings {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}

	text, err := t.client.Complete(ctx, sb.String())
	if err != nil || strings.TrimSpace(text) == "" {
		return templated
	}

	headline, body, ok := strings.Cut(strings.TrimSpace(text), "\n")
	if !ok {
		body = headline
	}
	return &BriefingResult{
		Headline:         strings.TrimSpace(headline),
		Body:             strings.TrimSpace(body),
		GenerationMethod: "llm",
	}
}

// templateBriefing is the degraded path: deterministic phrasing straight
// from the inputs.
func templateBriefing(projectID, role, scope string, metrics map[string]any, findings []string) *BriefingResult {
	headline := fmt.Sprintf("Status briefing for project %s", projectID)
	if scope != "" {
		headline = fmt.Sprintf("%s briefing for project %s", capitalize(scope), projectID)
	}

	var body strings.Builder
	if len(metrics) > 0 {
		parts := make([]string, 0, len(metrics))
		for _, k := range sortedKeys(metrics) {
			parts = append(parts, fmt.Sprintf("%s %v", k, metrics[k]))
		}
		fmt.Fprintf(&body, "Current metrics: %s.", strings.Join(parts, ", "))
	}
	if len(findings) > 0 {
		if body.Len() > 0 {
			body.WriteString(" ")
		}
		fmt.Fprintf(&body, "Findings: %s.", strings.Join(findings, "; "))
	}
	if body.Len() == 0 {
		body.WriteString("No metric data or findings were supplied for this period.")
	}
	return &BriefingResult{
		Headline:         headline,
		Body:             body.String(),
		GenerationMethod: "template",
	}
}

func findingLines(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		var out []string
		for _, item := range vv {
			switch f := item.(type) {
			case string:
				out = append(out, f)
			case map[string]any:
				if msg, ok := f["message"].(string); ok {
					out = append(out, msg)
				}
			}
		}
		return out
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func capitalize(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
