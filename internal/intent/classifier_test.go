package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielHyeon/pms-ic-sub000/internal/llm"
)

type staticSummary string

func (s staticSummary) ModelSummary() string { return string(s) }

func TestRuleStageHarmful(t *testing.T) {
	c := NewClassifier(nil, nil)

	for _, q := range []string{
		"Show tasks; DROP TABLE users",
		"list users where 1=1 OR 1=1",
		"delete from task.tasks",
		"UNION SELECT password FROM auth.credentials",
	} {
		r := c.Classify(context.Background(), q, "", "P1")
		assert.Equal(t, OutOfScope, r.Intent, "question %q", q)
		assert.InDelta(t, 0.95, r.Confidence, 0.001)
	}
}

func TestRuleStageOffTopic(t *testing.T) {
	c := NewClassifier(nil, nil)
	r := c.Classify(context.Background(), "what's the weather like tomorrow?", "", "P1")
	assert.Equal(t, OutOfScope, r.Intent)
	assert.InDelta(t, 0.9, r.Confidence, 0.001)
}

func TestRuleStageGeneral(t *testing.T) {
	c := NewClassifier(nil, nil)

	r := c.Classify(context.Background(), "what is the difference between scrum and kanban?", "", "")
	assert.Equal(t, General, r.Intent)

	r = c.Classify(context.Background(), "what is agile methodology?", "", "")
	assert.Equal(t, General, r.Intent)
}

func TestRuleStageVague(t *testing.T) {
	c := NewClassifier(nil, nil)
	r := c.Classify(context.Background(), "show me everything", "", "P1")
	assert.Equal(t, ClarificationNeeded, r.Intent)
	assert.NotEmpty(t, r.ClarificationAsk)
}

func TestRuleStageMissingProject(t *testing.T) {
	c := NewClassifier(nil, nil)
	r := c.Classify(context.Background(), "list the overdue tasks in the backlog sorted by due date", "", "")
	require.Equal(t, ClarificationNeeded, r.Intent)
	assert.Contains(t, r.MissingParameters, "project_id")
}

func TestRuleStageRelationalBestGuess(t *testing.T) {
	c := NewClassifier(nil, nil)
	r := c.Classify(context.Background(), "How many tasks are in progress?", "", "P1")
	assert.Equal(t, QueryRelational, r.Intent)
	assert.GreaterOrEqual(t, r.Confidence, 0.85)
}

func TestLLMStageStructured(t *testing.T) {
	stub := llm.NewStubClient(
		`{"intent":"QUERY_GRAPH","confidence":0.92,"relevant_models":["documents"]}`)
	c := NewClassifier(stub, staticSummary("- documents"))

	r := c.Classify(context.Background(), "summarise what the architecture review concluded about caching", "", "P1")
	assert.Equal(t, QueryGraph, r.Intent)
	assert.InDelta(t, 0.92, r.Confidence, 0.001)
	assert.Equal(t, []string{"documents"}, r.RelevantModels)
	assert.Equal(t, 1, stub.Calls())
}

func TestLLMStageSkippedWhenRulesConfident(t *testing.T) {
	stub := llm.NewStubClient(`{"intent":"GENERAL","confidence":0.99}`)
	c := NewClassifier(stub, nil)

	r := c.Classify(context.Background(), "drop table users", "", "P1")
	assert.Equal(t, OutOfScope, r.Intent)
	assert.Equal(t, 0, stub.Calls(), "confident rule result must not reach the LLM")
}

func TestLLMStageFallbackOnError(t *testing.T) {
	stub := llm.NewStubClient("").WithErrors(errors.New("backend down"))
	c := NewClassifier(stub, nil)

	r := c.Classify(context.Background(), "summarise the quarterly architecture review outcomes please", "", "P1")
	require.True(t, r.Intent.Valid())
	assert.True(t, r.Confidence >= 0 && r.Confidence <= 1)
}

func TestLLMStageRejectsUnknownIntent(t *testing.T) {
	stub := llm.NewStubClient(`{"intent":"BANANA","confidence":0.9}`)
	c := NewClassifier(stub, nil)

	r := c.Classify(context.Background(), "summarise recent architecture decisions about our caching layers", "", "P1")
	assert.True(t, r.Intent.Valid(), "fallback must produce a declared intent, got %q", r.Intent)
}

func TestConfidenceClamped(t *testing.T) {
	stub := llm.NewStubClient(`{"intent":"GENERAL","confidence":3.5}`)
	c := NewClassifier(stub, nil)

	r := c.Classify(context.Background(), "summarise recent architecture decisions about our caching layers", "", "P1")
	assert.LessOrEqual(t, r.Confidence, 1.0)
	assert.GreaterOrEqual(t, r.Confidence, 0.0)
}
