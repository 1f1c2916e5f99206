package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/config"
	"github.com/DanielHyeon/pms-ic-sub000/internal/skills"
	"github.com/DanielHyeon/pms-ic-sub000/internal/tools"
)

func TestRegisterSkillTools(t *testing.T) {
	reg := skills.NewRegistry()
	reg.MustRegister(&skills.Skill{
		Name:        "echo",
		Category:    skills.CategoryGenerate,
		Description: "returns its input",
		Execute: func(ctx context.Context, input map[string]any) (*skills.Output, error) {
			return &skills.Output{Result: input["text"], Confidence: 1}, nil
		},
	})
	reg.MustRegister(&skills.Skill{
		Name:     "always-fails",
		Category: skills.CategoryValidate,
		Execute: func(ctx context.Context, input map[string]any) (*skills.Output, error) {
			return &skills.Output{Error: "nothing to validate"}, nil
		},
	})

	toolReg := tools.NewRegistry()
	require.NoError(t, registerSkillTools(toolReg, reg))
	require.Equal(t, 2, toolReg.Count())

	tool := toolReg.Get("echo")
	require.NotNil(t, tool)
	assert.Equal(t, tools.CategoryGenerate, tool.Category)
	assert.True(t, tool.Public)

	out, err := tool.Handler(context.Background(), map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out.(*skills.Output).Result)

	failing := toolReg.Get("always-fails")
	require.NotNil(t, failing)
	_, err = failing.Handler(context.Background(), map[string]any{})
	require.EqualError(t, err, "nothing to validate")
}

func TestToolCategoryFor(t *testing.T) {
	assert.Equal(t, tools.CategoryRetrieve, toolCategoryFor(skills.CategoryRetrieve))
	assert.Equal(t, tools.CategoryAnalyze, toolCategoryFor(skills.CategoryAnalyze))
	assert.Equal(t, tools.CategoryGenerate, toolCategoryFor(skills.CategoryGenerate))
	assert.Equal(t, tools.CategoryValidate, toolCategoryFor(skills.CategoryValidate))
	assert.Equal(t, tools.CategoryGeneral, toolCategoryFor(skills.CategoryTransform))
}

func TestBuildSemanticLayerDefaults(t *testing.T) {
	sem, err := buildSemanticLayer(config.Default())
	require.NoError(t, err)
	assert.NotEmpty(t, sem.ModelSummary())
}
