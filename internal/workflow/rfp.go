package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
)

// RFPRequirement is one extracted requirement from an RFP document.
type RFPRequirement struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Type     string `json:"type"`     // functional | non_functional
	Priority string `json:"priority"` // mandatory | optional
}

// RFPExtraction is the G7 payload.
type RFPExtraction struct {
	Summary      string           `json:"rfp_summary"`
	Requirements []RFPRequirement `json:"requirements"`
	Stats        map[string]int   `json:"stats"`
}

type rfpLLMResponse struct {
	Summary      string `json:"summary"`
	Requirements []struct {
		Text     string `json:"text"`
		Type     string `json:"type"`
		Priority string `json:"priority"`
	} `json:"requirements"`
}

// RFPExtract is template G7: structured requirement extraction from RFP
// text, with a deterministic obligation-keyword fallback.
func (t *Templates) RFPExtract() Template {
	return Template{
		Name: "rfp-extract",
		Steps: []Step{
			Seq(Node{
				Name: "build-context",
				Kind: NodeBuildContext,
				Run: func(ctx context.Context, s State) (Delta, error) {
					if f := requireData(s, "text"); f != nil {
						return Delta{Failure: f}, nil
					}
					return Delta{}, nil
				},
			}),
			Seq(Node{
				Name: "extract-requirements",
				Kind: NodeReason,
				Run: func(ctx context.Context, s State) (Delta, error) {
					text, _ := s.Data["text"].(string)
					rfpID, _ := s.Data["rfp_id"].(string)

					extraction, method := t.extractRFP(ctx, text, rfpID)
					conf := 0.8
					if method == "heuristic" {
						conf = 0.5
					}
					return Delta{
						Result:     map[string]any{"extraction": extraction, "method": method},
						Confidence: Conf(conf),
					}, nil
				},
			}),
			Seq(suggestGate()),
		},
		Observe: observe(),
	}
}

func (t *Templates) extractRFP(ctx context.Context, text, rfpID string) (*RFPExtraction, string) {
	if t.client != nil {
		prompt := fmt.Sprintf(`Extract the requirements from the RFP text below.
Respond with JSON only:
{"summary": "...", "requirements": [{"text": "...", "type": "functional|non_functional", "priority": "mandatory|optional"}]}

RFP text:
%s`, text)

		var parsed rfpLLMResponse
		if _, err := llm.GenerateStructured(ctx, t.client, prompt, &parsed, llm.StructuredOptions{}); err == nil && len(parsed.Requirements) > 0 {
			extraction := &RFPExtraction{Summary: strings.TrimSpace(parsed.Summary)}
			for i, r := range parsed.Requirements {
				extraction.Requirements = append(extraction.Requirements, RFPRequirement{
					ID:       requirementID(rfpID, i),
					Text:     strings.TrimSpace(r.Text),
					Type:     normalizeReqType(r.Type),
					Priority: normalizePriority(r.Priority),
				})
			}
			extraction.Stats = rfpStats(extraction.Requirements)
			return extraction, "llm"
		}
	}
	return heuristicRFP(text, rfpID), "heuristic"
}

var mandatoryMarkers = []string{"must", "shall", "required", "필수", "해야 한다", "하여야"}
var optionalMarkers = []string{"should", "may", "optional", "권장", "할 수 있다"}

var nonFunctionalMarkers = []string{
	"performance", "latency", "availability", "security", "scalab",
	"uptime", "response time", "성능", "보안", "가용성",
}

// heuristicRFP splits the text into sentences and keeps those carrying an
// obligation keyword.
func heuristicRFP(text, rfpID string) *RFPExtraction {
	extraction := &RFPExtraction{}

	var firstSentences []string
	for _, candidate := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '\n'
	}) {
		sentence := strings.TrimSpace(candidate)
		if sentence == "" {
			continue
		}
		if len(firstSentences) < 2 {
			firstSentences = append(firstSentences, sentence)
		}

		lower := strings.ToLower(sentence)
		priority := ""
		if containsAny(lower, mandatoryMarkers) {
			priority = "mandatory"
		} else if containsAny(lower, optionalMarkers) {
			priority = "optional"
		}
		if priority == "" {
			continue
		}

		reqType := "functional"
		if containsAny(lower, nonFunctionalMarkers) {
			reqType = "non_functional"
		}
		extraction.Requirements = append(extraction.Requirements, RFPRequirement{
			ID:       requirementID(rfpID, len(extraction.Requirements)),
			Text:     sentence,
			Type:     reqType,
			Priority: priority,
		})
	}

	extraction.Summary = strings.Join(firstSentences, ". ")
	extraction.Stats = rfpStats(extraction.Requirements)
	return extraction
}

func rfpStats(reqs []RFPRequirement) map[string]int {
	stats := map[string]int{
		"total":          len(reqs),
		"mandatory":      0,
		"optional":       0,
		"functional":     0,
		"non_functional": 0,
	}
	for _, r := range reqs {
		stats[r.Priority]++
		stats[r.Type]++
	}
	return stats
}

func requirementID(rfpID string, idx int) string {
	if rfpID == "" {
		rfpID = "RFP"
	}
	return fmt.Sprintf("%s-R%03d", rfpID, idx+1)
}

func normalizeReqType(t string) string {
	if strings.Contains(strings.ToLower(t), "non") {
		return "non_functional"
	}
	return "functional"
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "optional", "may", "should":
		return "optional"
	default:
		return "mandatory"
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
