package skills

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
)

var summaryStyles = map[string]string{
	"executive": "Write a concise executive summary: outcomes, risks, and decisions needed. No implementation detail.",
	"technical": "Write a technical summary: concrete changes, affected components, and open defects.",
	"brief":     "Write at most three sentences covering only the most important points.",
}

// GenerateSummary builds the generate-summary skill. Input: content (or
// chunks from a retrieve skill), style ∈ executive|technical|brief,
// question?. A nil client degrades to extractive summarisation.
func GenerateSummary(client llm.Client) *Skill {
	return &Skill{
		Name:        "generate-summary",
		Category:    CategoryGenerate,
		Version:     "1.0",
		Description: "styled summary over retrieved content with citations",
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			content, evidence := collectContent(input)
			if content == "" {
				return &Output{Error: "content is required"}, nil
			}
			style := stringArg(input, "style")
			instruction, ok := summaryStyles[style]
			if !ok {
				style = "brief"
				instruction = summaryStyles[style]
			}

			if client == nil {
				return &Output{
					Result:     extractiveSummary(content, 3),
					Confidence: 0.4,
					Evidence:   evidence,
					Metadata:   map[string]any{"style": style, "method": "extractive"},
				}, nil
			}

			var sb strings.Builder
			sb.WriteString(instruction)
			sb.WriteString("\nReference each source you use as [source N].\n")
			if q := stringArg(input, "question"); q != "" {
				fmt.Fprintf(&sb, "\nQuestion: %s\n", q)
			}
			sb.WriteString("\nContent:\n")
			sb.WriteString(content)

			text, err := client.Complete(ctx, sb.String())
			if err != nil {
				return &Output{
					Result:     extractiveSummary(content, 3),
					Confidence: 0.3,
					Evidence:   evidence,
					Metadata:   map[string]any{"style": style, "method": "extractive", "llm_error": err.Error()},
				}, nil
			}
			return &Output{
				Result:     strings.TrimSpace(text),
				Confidence: 0.8,
				Evidence:   evidence,
				Metadata:   map[string]any{"style": style, "method": "llm", "model": client.Model()},
			}, nil
		},
	}
}

type reportTemplate struct {
	title    string
	sections []string
}

var reportTemplates = map[string]reportTemplate{
	"weekly": {"Weekly Status Report", []string{"Highlights", "Metrics", "Risks", "Next Week"}},
	"sprint": {"Sprint Report", []string{"Sprint Goal", "Completed", "Carried Over", "Velocity", "Retrospective Notes"}},
	"risk":   {"Risk Report", []string{"Top Risks", "New Risks", "Mitigations", "Watch List"}},
}

// GenerateReport builds the generate-report skill. Input: kind ∈
// weekly|sprint|risk, project_id, data {section → content or rows}.
// Sections without data render an explicit "no data" line rather than
// invented content.
func GenerateReport(client llm.Client) *Skill {
	return &Skill{
		Name:        "generate-report",
		Category:    CategoryGenerate,
		Version:     "1.0",
		Description: "templated weekly, sprint, and risk reports",
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			kind := stringArg(input, "kind")
			tpl, ok := reportTemplates[kind]
			if !ok {
				return &Output{Error: fmt.Sprintf("unknown report kind: %q", kind)}, nil
			}
			data, _ := input["data"].(map[string]any)

			var sb strings.Builder
			fmt.Fprintf(&sb, "# %s", tpl.title)
			if pid := stringArg(input, "project_id"); pid != "" {
				fmt.Fprintf(&sb, " — %s", pid)
			}
			sb.WriteString("\n")

			filled := 0
			for _, section := range tpl.sections {
				fmt.Fprintf(&sb, "\n## %s\n", section)
				body := sectionBody(ctx, client, section, data[sectionKey(section)])
				if body == "" {
					sb.WriteString("No data available for this section.\n")
					continue
				}
				filled++
				sb.WriteString(body)
				sb.WriteString("\n")
			}

			conf := 0.0
			if len(tpl.sections) > 0 {
				conf = float64(filled) / float64(len(tpl.sections))
			}
			return &Output{
				Result:     sb.String(),
				Confidence: conf,
				Metadata: map[string]any{
					"kind":            kind,
					"sections":        len(tpl.sections),
					"sections_filled": filled,
				},
			}, nil
		},
	}
}

// sectionBody renders one section from raw data, asking the LLM to phrase it
// when a client is available and the data is free-form text.
func sectionBody(ctx context.Context, client llm.Client, section string, data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		text := strings.TrimSpace(v)
		if text == "" || client == nil {
			return text
		}
		prompt := fmt.Sprintf("Rewrite the following notes as the %q section of a project report. Keep every fact, add nothing.\n\n%s", section, text)
		out, err := client.Complete(ctx, prompt)
		if err != nil {
			return text
		}
		return strings.TrimSpace(out)
	case []any, []map[string]any:
		var sb strings.Builder
		for _, row := range mapSlice(v) {
			sb.WriteString("- ")
			sb.WriteString(rowLine(row))
			sb.WriteString("\n")
		}
		if sb.Len() == 0 {
			for _, s := range stringSlice(v) {
				fmt.Fprintf(&sb, "- %s\n", s)
			}
		}
		return sb.String()
	default:
		return fmt.Sprint(v)
	}
}

func rowLine(row map[string]any) string {
	if title, ok := row["title"].(string); ok {
		if status, ok := row["status"].(string); ok {
			return fmt.Sprintf("%s (%s)", title, status)
		}
		return title
	}
	parts := make([]string, 0, len(row))
	for k, v := range row {
		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func sectionKey(section string) string {
	return strings.ReplaceAll(strings.ToLower(section), " ", "_")
}

// collectContent flattens either a plain content string or retrieve-skill
// chunks into one prompt body with numbered sources.
func collectContent(input map[string]any) (string, []Evidence) {
	if c := stringArg(input, "content"); c != "" {
		return c, nil
	}
	chunks := mapSlice(input["input"])
	if len(chunks) == 0 {
		chunks = mapSlice(input["chunks"])
	}
	if len(chunks) == 0 {
		return "", nil
	}

	var sb strings.Builder
	evidence := make([]Evidence, 0, len(chunks))
	for i, chunk := range chunks {
		content, _ := chunk["content"].(string)
		if content == "" {
			continue
		}
		fmt.Fprintf(&sb, "[source %d] %s\n", i+1, content)
		ev := Evidence{SourceType: "document", Relevance: floatArg(chunk, "score", 0)}
		if id, ok := chunk["chunk_id"].(string); ok {
			ev.SourceID = id
		}
		if title, ok := chunk["doc_title"].(string); ok {
			ev.Title = title
		}
		evidence = append(evidence, ev)
	}
	return sb.String(), evidence
}

// extractiveSummary returns the first n sentences, the degraded path when no
// model is reachable.
func extractiveSummary(content string, n int) string {
	var sentences []string
	for _, candidate := range strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		s := strings.TrimSpace(candidate)
		if len(s) > 15 && !strings.HasPrefix(s, "[source") {
			sentences = append(sentences, s)
		}
		if len(sentences) == n {
			break
		}
	}
	if len(sentences) == 0 {
		if len(content) > 200 {
			return content[:200]
		}
		return content
	}
	return strings.Join(sentences, ". ") + "."
}
