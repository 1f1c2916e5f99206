package skills

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticSkill(name string, category Category, result any) *Skill {
	return &Skill{
		Name:     name,
		Category: category,
		Version:  "1.0",
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			return &Output{Result: result, Confidence: 0.9}, nil
		},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(staticSkill("a", CategoryRetrieve, 1)))
	require.NoError(t, reg.Register(staticSkill("b", CategoryAnalyze, 2)))
	require.NoError(t, reg.Register(staticSkill("c", CategoryRetrieve, 3)))

	assert.NotNil(t, reg.Get("a"))
	assert.Nil(t, reg.Get("missing"))
	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())

	retrieve := reg.ListByCategory(CategoryRetrieve)
	require.Len(t, retrieve, 2)
	assert.Equal(t, "a", retrieve[0].Name)
	assert.Equal(t, "c", retrieve[1].Name)

	assert.Error(t, reg.Register(staticSkill("a", CategoryRetrieve, 1)))
	assert.Error(t, reg.Register(&Skill{Name: "no-exec"}))
}

func TestExecuteUnknownSkill(t *testing.T) {
	reg := NewRegistry()
	out, err := reg.Execute(context.Background(), "missing", nil)
	require.NoError(t, err)
	assert.True(t, out.Failed())
	assert.Contains(t, out.Error, "unknown skill")
}

func TestExecuteWrapsHandlerError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Skill{
		Name:     "boom",
		Category: CategoryAnalyze,
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			return nil, errors.New("backend gone")
		},
	}))

	out, err := reg.Execute(context.Background(), "boom", nil)
	require.NoError(t, err)
	assert.Equal(t, "backend gone", out.Error)
}

func TestExecuteChainPipesResults(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Skill{
		Name:     "double",
		Category: CategoryTransform,
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			n := floatArg(input, "value", 0)
			return &Output{Result: n * 2, Confidence: 1}, nil
		},
	}))
	require.NoError(t, reg.Register(&Skill{
		Name:     "add",
		Category: CategoryTransform,
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			return &Output{Result: floatArg(input, "value", 0) + floatArg(input, "delta", 0), Confidence: 1}, nil
		},
	}))

	outputs, err := reg.ExecuteChain(context.Background(), []ChainStep{
		{Name: "double"},
		{
			Name: "add",
			Transform: func(prev *Output) map[string]any {
				return map[string]any{"value": prev.Result}
			},
			Options: map[string]any{"delta": float64(1)},
		},
	}, map[string]any{"value": float64(3)})
	require.NoError(t, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, float64(6), outputs[0].Result)
	assert.Equal(t, float64(7), outputs[1].Result)
}

func TestExecuteChainStopsOnErrorOutput(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&Skill{
		Name:     "fails",
		Category: CategoryValidate,
		Execute: func(ctx context.Context, input map[string]any) (*Output, error) {
			return &Output{Error: "nope"}, nil
		},
	}))
	require.NoError(t, reg.Register(staticSkill("after", CategoryGenerate, "unreached")))

	outputs, err := reg.ExecuteChain(context.Background(), []ChainStep{
		{Name: "fails"}, {Name: "after"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.True(t, outputs[0].Failed())
}

func TestExecuteChainEmpty(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.ExecuteChain(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, nil, nil, nil))

	assert.Equal(t, []string{
		"analyze-dependency", "analyze-risk", "analyze-sentiment",
		"critical-path", "generate-report", "generate-summary",
		"retrieve-docs", "retrieve-graph", "retrieve-metrics",
		"validate-evidence", "validate-policy",
	}, reg.Names())

	// Skills missing their backend degrade to error outputs, not panics.
	out, err := reg.Execute(context.Background(), "retrieve-docs",
		map[string]any{"query": "q", "project_id": "P1"})
	require.NoError(t, err)
	assert.True(t, out.Failed())
}
