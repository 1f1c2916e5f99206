package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
	"github.com/DanielHyeon/pms-ic-sub000/internal/skills"
)

func TestBriefingTemplated(t *testing.T) {
	tmpl := NewTemplates(skills.NewRegistry(), nil)
	e := NewEngine(nil)

	final := e.Run(context.Background(), tmpl.Briefing(), State{
		ProjectID: "P1",
		Role:      "PM",
		Data: map[string]any{
			"scope": "weekly",
			"raw_metrics": map[string]any{
				"open_tasks":    14,
				"overdue_tasks": 3,
			},
			"rule_findings": []any{
				map[string]any{"message": "velocity down 25% against last sprint"},
			},
		},
	})

	require.Equal(t, StatusCompleted, final.Status)
	briefing, ok := final.Result["briefing"].(*BriefingResult)
	require.True(t, ok)

	assert.Equal(t, "template", briefing.GenerationMethod)
	assert.Equal(t, "Weekly briefing for project P1", briefing.Headline)
	assert.Contains(t, briefing.Body, "open_tasks 14")
	assert.Contains(t, briefing.Body, "velocity down 25%")
	assert.InDelta(t, 0.5, final.Confidence, 0.001)
	assert.Equal(t, ModeExecute, final.Mode)
}

func TestBriefingWithLLM(t *testing.T) {
	stub := llm.NewStubClient("Project P1 is on track\n\nOpen work is stable and no blocker was reported this week.")
	tmpl := NewTemplates(skills.NewRegistry(), stub)
	e := NewEngine(nil)

	final := e.Run(context.Background(), tmpl.Briefing(), State{
		ProjectID: "P1",
		Role:      "PMO_HEAD",
		Data: map[string]any{
			"raw_metrics": map[string]any{"open_tasks": 10},
		},
	})

	require.Equal(t, StatusCompleted, final.Status)
	briefing := final.Result["briefing"].(*BriefingResult)
	assert.Equal(t, "llm", briefing.GenerationMethod)
	assert.Equal(t, "Project P1 is on track", briefing.Headline)
	assert.Contains(t, briefing.Body, "no blocker")
	assert.InDelta(t, 0.7, final.Confidence, 0.001)

	require.NotEmpty(t, stub.Prompts)
	assert.Contains(t, stub.Prompts[0], "open_tasks: 10", "the prompt carries only supplied facts")
}

func TestBriefingLLMFailureFallsBack(t *testing.T) {
	stub := llm.NewStubClient().WithErrors(llm.ErrBackendUnavailable)
	tmpl := NewTemplates(skills.NewRegistry(), stub)
	e := NewEngine(nil)

	final := e.Run(context.Background(), tmpl.Briefing(), State{ProjectID: "P1", Role: "PM"})

	require.Equal(t, StatusCompleted, final.Status)
	briefing := final.Result["briefing"].(*BriefingResult)
	assert.Equal(t, "template", briefing.GenerationMethod)
	assert.Contains(t, briefing.Body, "No metric data")
}

func TestBriefingCompletenessScalesConfidence(t *testing.T) {
	tmpl := NewTemplates(skills.NewRegistry(), nil)
	e := NewEngine(nil)

	final := e.Run(context.Background(), tmpl.Briefing(), State{
		ProjectID: "P1",
		Data: map[string]any{
			"raw_metrics":  map[string]any{"open_tasks": 5},
			"completeness": 0.5,
		},
	})

	require.Equal(t, StatusCompleted, final.Status)
	assert.InDelta(t, 0.25, final.Confidence, 0.001)
}

func TestBriefingRequiresProject(t *testing.T) {
	tmpl := NewTemplates(skills.NewRegistry(), nil)
	e := NewEngine(nil)

	final := e.Run(context.Background(), tmpl.Briefing(), State{})

	assert.Equal(t, StatusWaitingApproval, final.Status)
}
