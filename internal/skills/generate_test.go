package skills

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
)

func TestGenerateSummaryWithClient(t *testing.T) {
	stub := llm.NewStubClient("The sprint closed all committed stories [source 1].")
	out := runSkill(t, GenerateSummary(stub), map[string]any{
		"style": "executive",
		"chunks": []map[string]any{
			{"chunk_id": "c1", "doc_title": "Sprint 12 Review", "content": "All committed stories were completed.", "score": 0.8},
		},
		"question": "How did sprint 12 go?",
	})

	require.False(t, out.Failed())
	assert.Contains(t, out.Result.(string), "[source 1]")
	assert.Equal(t, "llm", out.Metadata["method"])
	require.Len(t, out.Evidence, 1)
	assert.Equal(t, "c1", out.Evidence[0].SourceID)
	assert.Equal(t, "Sprint 12 Review", out.Evidence[0].Title)
}

func TestGenerateSummaryDegradesWithoutClient(t *testing.T) {
	out := runSkill(t, GenerateSummary(nil), map[string]any{
		"content": "The migration finished ahead of schedule. Two minor defects were found during regression. Both are fixed.",
	})
	require.False(t, out.Failed())
	assert.Equal(t, "extractive", out.Metadata["method"])
	assert.Contains(t, out.Result.(string), "migration finished")
}

func TestGenerateSummaryDegradesOnLLMError(t *testing.T) {
	stub := llm.NewStubClient().WithErrors(errors.New("backend down"))
	out := runSkill(t, GenerateSummary(stub), map[string]any{
		"content": "The rollout completed without customer impact for the first region.",
	})
	require.False(t, out.Failed())
	assert.Equal(t, "extractive", out.Metadata["method"])
}

func TestGenerateSummaryRequiresContent(t *testing.T) {
	out := runSkill(t, GenerateSummary(nil), map[string]any{"style": "brief"})
	assert.True(t, out.Failed())
}

func TestGenerateReportWeekly(t *testing.T) {
	out := runSkill(t, GenerateReport(nil), map[string]any{
		"kind":       "weekly",
		"project_id": "P1",
		"data": map[string]any{
			"highlights": "Shipped the reporting module.",
			"metrics": []map[string]any{
				{"title": "Velocity", "status": "32 points"},
			},
		},
	})
	require.False(t, out.Failed())

	report := out.Result.(string)
	assert.True(t, strings.HasPrefix(report, "# Weekly Status Report — P1"))
	assert.Contains(t, report, "## Highlights")
	assert.Contains(t, report, "Shipped the reporting module.")
	assert.Contains(t, report, "- Velocity (32 points)")
	assert.Contains(t, report, "No data available for this section.")
	assert.Equal(t, 2, out.Metadata["sections_filled"])
	assert.InDelta(t, 0.5, out.Confidence, 1e-9)
}

func TestGenerateReportUnknownKind(t *testing.T) {
	out := runSkill(t, GenerateReport(nil), map[string]any{"kind": "quarterly"})
	require.True(t, out.Failed())
	assert.Contains(t, out.Error, "unknown report kind")
}

func TestGenerateReportSectionKinds(t *testing.T) {
	for kind, wantSection := range map[string]string{
		"sprint": "## Sprint Goal",
		"risk":   "## Top Risks",
	} {
		out := runSkill(t, GenerateReport(nil), map[string]any{"kind": kind})
		assert.Contains(t, out.Result.(string), wantSection, kind)
	}
}
